// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/go2link/go2link/cmd/go2link/cli"
	"github.com/go2link/go2link/datachannel"
	"github.com/go2link/go2link/frame"
	"github.com/go2link/go2link/lib/capture"
	"github.com/go2link/go2link/lib/clock"
	"github.com/go2link/go2link/lib/config"
	"github.com/go2link/go2link/lib/credential"
	"github.com/go2link/go2link/robot"
	"github.com/go2link/go2link/transport"
)

type connectParams struct {
	configPath string

	method string
	serial string
	ip     string

	token     string
	tokenFile string

	topics           []string
	video            bool
	audio            bool
	noTrafficSaving  bool
	mediaDir         string
	record           string
	duration         time.Duration
	logLevel         string
	logFormat        string
	decoder          string
	reconnectRetries int
}

// connectDeps replaces pieces of the production wiring in tests.
type connectDeps struct {
	// signaler replaces the HTTP and cloud signalers.
	signaler transport.Signaler

	// includeLoopback gathers loopback ICE candidates.
	includeLoopback bool

	logger *slog.Logger

	// ready is called once the connection is ready and subscribed.
	ready func(*robot.Connection)
}

func connectCommand(stdout io.Writer, deps connectDeps) *cli.Command {
	var params connectParams
	var flagSet *pflag.FlagSet
	return &cli.Command{
		Name:    "connect",
		Summary: "Connect to a robot and stream its topics",
		Description: `Connect to a robot, complete the data channel handshake, and print every
message on the subscribed topics as JSON lines. The connection
reconnects on transport loss as configured; Ctrl-C disconnects.`,
		Examples: []cli.Example{
			{
				Description: "Stream low-level state from a robot on the LAN",
				Command:     "go2link connect --ip 192.168.123.161 --topic rt/lf/lowstate",
			},
			{
				Description: "Record a remote session and save the camera feed",
				Command:     "go2link connect --config go2link.yaml --method remote --serial B42D... --video --media-dir ./media --record session.journal",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet = pflag.NewFlagSet("connect", pflag.ContinueOnError)
			flagSet.StringVarP(&params.configPath, "config", "c", "", "config file (default: $"+config.EnvironmentVariable+", else built-in defaults)")
			flagSet.StringVar(&params.method, "method", "", "connection method: remote, local-sta, local-ap")
			flagSet.StringVar(&params.serial, "serial", "", "robot serial number")
			flagSet.StringVar(&params.ip, "ip", "", "robot IP address")
			flagSet.StringVar(&params.token, "token", "", "account token")
			flagSet.StringVar(&params.tokenFile, "token-file", "", "file holding the account token, re-read on every connect")
			flagSet.StringSliceVarP(&params.topics, "topic", "t", nil, "topic to subscribe to (repeatable)")
			flagSet.BoolVar(&params.video, "video", false, "receive and enable the video track")
			flagSet.BoolVar(&params.audio, "audio", false, "receive and enable the audio track")
			flagSet.BoolVar(&params.noTrafficSaving, "no-traffic-saving", false, "ask the robot to disable traffic saving")
			flagSet.StringVar(&params.mediaDir, "media-dir", "", "record received tracks into this directory")
			flagSet.StringVar(&params.record, "record", "", "journal every inbound message to this file")
			flagSet.DurationVar(&params.duration, "duration", 0, "disconnect after this long (0 = until interrupted)")
			flagSet.StringVar(&params.logLevel, "log-level", "", "debug, info, warn, or error")
			flagSet.StringVar(&params.logFormat, "log-format", "", "text, json, or auto")
			flagSet.StringVar(&params.decoder, "decoder", "", "binary payload decoder: "+fmt.Sprint(frame.Modes()))
			flagSet.IntVar(&params.reconnectRetries, "reconnect-attempts", 0, "reconnect attempts after transport loss (0 disables)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			cfg, err := loadConfig(params.configPath)
			if err != nil {
				return err
			}
			applyOverrides(cfg, params, flagSet.Changed)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration:\n%w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runConnect(ctx, stdout, cfg, params, deps)
		},
	}
}

// loadConfig reads the --config file, else $GO2LINK_CONFIG, else the
// defaults.
func loadConfig(path string) (*config.Config, error) {
	switch {
	case path != "":
		return config.LoadFile(path)
	case os.Getenv(config.EnvironmentVariable) != "":
		return config.Load()
	default:
		return config.Default(), nil
	}
}

// applyOverrides copies the flags the user set over the loaded config.
func applyOverrides(cfg *config.Config, params connectParams, changed func(string) bool) {
	if changed("method") {
		cfg.Robot.Method = params.method
	}
	if changed("serial") {
		cfg.Robot.Serial = params.serial
	}
	if changed("ip") {
		cfg.Robot.IP = params.ip
	}
	if changed("token") {
		cfg.Credentials = config.CredentialsConfig{Token: params.token}
	}
	if changed("token-file") {
		cfg.Credentials = config.CredentialsConfig{TokenFile: params.tokenFile}
	}
	if changed("video") {
		cfg.Negotiation.Video = params.video
	}
	if changed("audio") {
		cfg.Negotiation.Audio = params.audio
	}
	if changed("record") {
		cfg.Capture.Path = params.record
	}
	if changed("log-level") {
		cfg.Logging.Level = params.logLevel
	}
	if changed("log-format") {
		cfg.Logging.Format = params.logFormat
	}
	if changed("decoder") {
		cfg.Decoder = params.decoder
	}
	if changed("reconnect-attempts") {
		cfg.Reconnect.MaxAttempts = params.reconnectRetries
	}
}

// tokenSource returns the configured credential provider. Local
// connections without credentials send an empty token.
func tokenSource(cfg *config.Config) credential.Provider {
	if cfg.Credentials.TokenFile != "" {
		return credential.File(cfg.Credentials.TokenFile, clock.Real())
	}
	return credential.Static(cfg.Credentials.Token)
}

// signalers builds the offer path for the configured method: the
// robot's local HTTP endpoint, fronted by the cloud for remote targets.
func signalers(cfg *config.Config, tokens credential.Provider, logger *slog.Logger) (transport.Signaler, transport.RelayProvider, error) {
	local := transport.NewHTTPSignaler(nil)
	local.Port = cfg.Negotiation.SignalingPort
	if cfg.Robot.Method != string(transport.MethodRemote) {
		return local, nil, nil
	}

	cloud, err := transport.NewCloudSignaler(transport.CloudConfig{
		BaseURL:    cfg.Cloud.URL,
		Tokens:     tokens,
		SignSecret: cfg.Cloud.SignSecret,
		AppVersion: cfg.Cloud.AppVersion,
		Local:      local,
		Logger:     logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return cloud, cloud, nil
}

func runConnect(ctx context.Context, stdout io.Writer, cfg *config.Config, params connectParams, deps connectDeps) error {
	logger := deps.logger
	if logger == nil {
		var err error
		logger, err = cli.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
		if err != nil {
			return err
		}
	}

	tokens := tokenSource(cfg)
	signaler, relay := deps.signaler, transport.RelayProvider(nil)
	if signaler == nil {
		var err error
		signaler, relay, err = signalers(cfg, tokens, logger)
		if err != nil {
			return err
		}
	}

	negotiator, err := transport.NewNegotiator(transport.Config{
		ICE: transport.ICEConfig{
			STUNServers:     cfg.Negotiation.STUNServers,
			IncludeLoopback: deps.includeLoopback,
		},
		Timeout:  cfg.Negotiation.Timeout,
		Video:    cfg.Negotiation.Video,
		Audio:    cfg.Negotiation.Audio,
		Signaler: signaler,
		Relay:    relay,
		Tokens:   tokens,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	codec, err := frame.NewCodec(cfg.Decoder)
	if err != nil {
		return err
	}

	var journal *capture.Writer
	if cfg.Capture.Path != "" {
		journal, err = capture.Create(cfg.Capture.Path, clock.Real())
		if err != nil {
			return err
		}
		defer func() {
			if err := journal.Close(); err != nil {
				logger.Warn("closing journal", "path", cfg.Capture.Path, "error", err)
				return
			}
			logger.Info("journal written", "path", cfg.Capture.Path, "messages", journal.Count())
		}()
	}

	var media robot.MediaSink
	if params.mediaDir != "" {
		if err := os.MkdirAll(params.mediaDir, 0o755); err != nil {
			return fmt.Errorf("creating media directory: %w", err)
		}
		media = robot.NewFileSink(params.mediaDir, logger)
	}

	connection, err := robot.New(robot.Config{
		Target:            cfg.Target(),
		Negotiator:        negotiator,
		Codec:             codec,
		ValidationTimeout: cfg.Validation.Timeout,
		RequestTimeout:    cfg.Requests.Timeout,
		StallTimeout:      cfg.Watchdog.StallTimeout,
		Reconnect: robot.ReconnectPolicy{
			MaxAttempts:    cfg.Reconnect.MaxAttempts,
			InitialBackoff: cfg.Reconnect.InitialBackoff,
			MaxBackoff:     cfg.Reconnect.MaxBackoff,
		},
		Media: media,
		OnMessage: func(message datachannel.Message) {
			if journal == nil {
				return
			}
			if err := journal.Record(message); err != nil && !errors.Is(err, capture.ErrClosed) {
				logger.Warn("journaling message", "error", err)
			}
		},
		OnPeerError: func(message datachannel.Message) {
			logger.Warn("robot reported an error", "type", message.Type, "topic", message.Topic, "info", message.Info, "data", message.Data)
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	ended := make(chan error, 1)
	connection.OnStateChange(func(change robot.StateChange) {
		attributes := []any{"from", change.From.String(), "to", change.To.String()}
		if change.Err != nil {
			attributes = append(attributes, "error", change.Err)
		}
		logger.Info("connection state changed", attributes...)

		if change.To == robot.StateFailed || (change.To == robot.StateClosed && change.Err != nil) {
			cause := change.Err
			if cause == nil {
				cause = fmt.Errorf("connection %s", change.To)
			}
			select {
			case ended <- cause:
			default:
			}
		}
	})

	if err := connection.Connect(ctx); err != nil {
		connection.Disconnect()
		return fmt.Errorf("connecting to %s: %w", cfg.Target(), err)
	}
	defer connection.Disconnect()

	printer := newMessagePrinter(stdout)
	for _, topic := range params.topics {
		_, err := connection.SubscribeTopic(topic, func(message datachannel.Message) {
			if err := printer.print(time.Now(), message); err != nil {
				logger.Warn("printing message", "topic", message.Topic, "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}
	if cfg.Negotiation.Video {
		if err := connection.SwitchVideo(true); err != nil {
			return fmt.Errorf("enabling video: %w", err)
		}
	}
	if cfg.Negotiation.Audio {
		if err := connection.SwitchAudio(true); err != nil {
			return fmt.Errorf("enabling audio: %w", err)
		}
	}
	if params.noTrafficSaving {
		executed, err := connection.DisableTrafficSaving(ctx, true)
		if err != nil {
			return fmt.Errorf("disabling traffic saving: %w", err)
		}
		if !executed {
			logger.Warn("robot did not execute the traffic saving request")
		}
	}
	logger.Info("connected", "robot", cfg.Target().String(), "topics", params.topics, "mode", connection.Mode())
	if deps.ready != nil {
		deps.ready(connection)
	}

	var deadline <-chan time.Time
	if params.duration > 0 {
		timer := time.NewTimer(params.duration)
		defer timer.Stop()
		deadline = timer.C
	}
	select {
	case <-ctx.Done():
		logger.Info("disconnecting")
		return nil
	case <-deadline:
		logger.Info("duration elapsed, disconnecting", "duration", params.duration)
		return nil
	case err := <-ended:
		return fmt.Errorf("connection to %s ended: %w", cfg.Target(), err)
	}
}
