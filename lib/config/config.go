// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/go2link/go2link/frame"
	"github.com/go2link/go2link/transport"
)

// EnvironmentVariable names the config file for Load.
const EnvironmentVariable = "GO2LINK_CONFIG"

// Config is the complete go2link configuration.
type Config struct {
	Robot       RobotConfig       `yaml:"robot"`
	Negotiation NegotiationConfig `yaml:"negotiation"`
	Cloud       CloudConfig       `yaml:"cloud"`
	Validation  ValidationConfig  `yaml:"validation"`
	Requests    RequestsConfig    `yaml:"requests"`
	Reconnect   ReconnectConfig   `yaml:"reconnect"`
	Watchdog    WatchdogConfig    `yaml:"watchdog"`

	// Decoder selects the binary payload decoder: "native" or
	// "libvoxel".
	Decoder string `yaml:"decoder"`

	Credentials CredentialsConfig `yaml:"credentials"`
	Logging     LoggingConfig     `yaml:"logging"`
	Capture     CaptureConfig     `yaml:"capture"`
}

// RobotConfig identifies the robot and how to reach it.
type RobotConfig struct {
	// Method is "remote", "local-sta", or "local-ap".
	Method string `yaml:"method"`

	// Serial is required for remote and used for LAN discovery.
	Serial string `yaml:"serial"`

	// IP is the robot's address for local methods. Empty with
	// local-ap means 192.168.12.1.
	IP string `yaml:"ip"`
}

// NegotiationConfig configures the WebRTC negotiation.
type NegotiationConfig struct {
	// Timeout bounds one negotiation. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`

	// STUNServers replaces the default STUN list. An explicit empty
	// list disables STUN.
	STUNServers []string `yaml:"stun_servers"`

	// SignalingPort is the robot's local offer endpoint port.
	// Default: 8081.
	SignalingPort int `yaml:"signaling_port"`

	// Video and Audio request the robot's media tracks.
	Video bool `yaml:"video"`
	Audio bool `yaml:"audio"`
}

// CloudConfig configures the vendor cloud used by the remote method.
type CloudConfig struct {
	URL        string `yaml:"url"`
	SignSecret string `yaml:"sign_secret"`
	AppVersion string `yaml:"app_version"`
}

// ValidationConfig bounds the data channel handshake.
type ValidationConfig struct {
	// Timeout after the channel opens. Default: 10s.
	Timeout time.Duration `yaml:"timeout"`
}

// RequestsConfig bounds request/response exchanges.
type RequestsConfig struct {
	// Timeout for one reply. Default: 10s.
	Timeout time.Duration `yaml:"timeout"`
}

// ReconnectConfig bounds automatic reconnection.
type ReconnectConfig struct {
	// MaxAttempts after a lost transport. Zero disables reconnection.
	// Default: 3.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff doubles per attempt up to MaxBackoff.
	// Defaults: 1s and 30s.
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// WatchdogConfig configures transport loss detection.
type WatchdogConfig struct {
	// StallTimeout is how long the transport may stay disconnected.
	// Default: 5s.
	StallTimeout time.Duration `yaml:"stall_timeout"`
}

// CredentialsConfig says where the account token comes from. At most
// one of Token and TokenFile may be set.
type CredentialsConfig struct {
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	// Level is debug, info, warn, or error. Default: info.
	Level string `yaml:"level"`

	// Format is text, json, or auto: text when stderr is a terminal,
	// JSON otherwise. Default: auto.
	Format string `yaml:"format"`
}

// CaptureConfig configures the message journal.
type CaptureConfig struct {
	// Path of the journal file. Empty disables recording.
	Path string `yaml:"path"`
}

// Default returns the default configuration. Loading a file overlays
// these values.
func Default() *Config {
	return &Config{
		Robot: RobotConfig{
			Method: string(transport.MethodLocalSTA),
		},
		Negotiation: NegotiationConfig{
			Timeout:       transport.DefaultNegotiationTimeout,
			SignalingPort: transport.DefaultLocalSignalingPort,
		},
		Cloud: CloudConfig{
			URL:        transport.DefaultCloudURL,
			AppVersion: "1.8.0",
		},
		Validation: ValidationConfig{Timeout: 10 * time.Second},
		Requests:   RequestsConfig{Timeout: 10 * time.Second},
		Reconnect: ReconnectConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
		},
		Watchdog: WatchdogConfig{StallTimeout: 5 * time.Second},
		Decoder:  frame.ModeNative,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads the file named by GO2LINK_CONFIG. It fails when the
// variable is unset.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your go2link.yaml, or use --config", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path over the defaults and expands
// path variables. It does not validate; call Validate after applying
// any flag overrides.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// Target returns the robot target described by the config.
func (c *Config) Target() transport.Target {
	return transport.Target{
		Method: transport.Method(c.Robot.Method),
		Serial: c.Robot.Serial,
		IP:     c.Robot.IP,
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Credentials.TokenFile = expandVars(c.Credentials.TokenFile, vars)
	c.Capture.Path = expandVars(c.Capture.Path, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Target().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("robot: %w", err))
	}
	if !slices.Contains(frame.Modes(), c.Decoder) {
		errs = append(errs, fmt.Errorf("decoder: unknown mode %q (valid: %v)", c.Decoder, frame.Modes()))
	}

	positive := []struct {
		name  string
		value time.Duration
	}{
		{"negotiation.timeout", c.Negotiation.Timeout},
		{"validation.timeout", c.Validation.Timeout},
		{"requests.timeout", c.Requests.Timeout},
		{"watchdog.stall_timeout", c.Watchdog.StallTimeout},
	}
	for _, field := range positive {
		if field.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", field.name, field.value))
		}
	}

	if c.Negotiation.SignalingPort <= 0 || c.Negotiation.SignalingPort > 65535 {
		errs = append(errs, fmt.Errorf("negotiation.signaling_port out of range: %d", c.Negotiation.SignalingPort))
	}
	if c.Reconnect.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("reconnect.max_attempts must not be negative"))
	}
	if c.Reconnect.MaxAttempts > 0 && c.Reconnect.InitialBackoff <= 0 {
		errs = append(errs, fmt.Errorf("reconnect.initial_backoff must be positive when reconnecting"))
	}
	if c.Credentials.Token != "" && c.Credentials.TokenFile != "" {
		errs = append(errs, errors.New("credentials: set token or token_file, not both"))
	}
	if c.Robot.Method == string(transport.MethodRemote) && c.Credentials.Token == "" && c.Credentials.TokenFile == "" {
		errs = append(errs, errors.New("credentials: remote connections need a token or token_file"))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json", "auto":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
