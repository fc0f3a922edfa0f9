// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go2link/go2link/datachannel"
	"github.com/go2link/go2link/internal/robotsim"
	"github.com/go2link/go2link/lib/capture"
	"github.com/go2link/go2link/lib/clock"
	"github.com/go2link/go2link/lib/config"
	"github.com/go2link/go2link/lib/testutil"
	"github.com/go2link/go2link/lib/version"
	"github.com/go2link/go2link/robot"
	"github.com/go2link/go2link/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// syncBuffer is a bytes.Buffer safe to write from handler goroutines.
type syncBuffer struct {
	mu     sync.Mutex
	buffer bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.String()
}

func decodeLines(t *testing.T, output string) []messageLine {
	t.Helper()
	var lines []messageLine
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if line == "" {
			continue
		}
		var decoded messageLine
		if err := json.Unmarshal([]byte(line), &decoded); err != nil {
			t.Fatalf("output line %q: %v", line, err)
		}
		lines = append(lines, decoded)
	}
	return lines
}

func TestVersionCommand(t *testing.T) {
	var stdout bytes.Buffer
	if err := Root(&stdout).Execute([]string{"version", "--short"}); err != nil {
		t.Fatalf("version --short: %v", err)
	}
	if strings.TrimSpace(stdout.String()) != version.Short() {
		t.Errorf("version --short = %q", stdout.String())
	}

	stdout.Reset()
	if err := Root(&stdout).Execute([]string{"version"}); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(stdout.String(), "go2link "+version.Short()) {
		t.Errorf("version = %q", stdout.String())
	}
}

func writeJournal(t *testing.T, messages ...datachannel.Message) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.journal")
	fake := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	writer, err := capture.Create(path, fake)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, message := range messages {
		if err := writer.Record(message); err != nil {
			t.Fatalf("Record: %v", err)
		}
		fake.Advance(time.Second)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func TestReplayCommand(t *testing.T) {
	path := writeJournal(t,
		datachannel.Message{Type: datachannel.TypeMessage, Topic: "rt/lf/lowstate", Data: map[string]any{"tick": 1.0}},
		datachannel.Message{Type: datachannel.TypeMessage, Topic: "rt/utlidar/robot_pose", Data: map[string]any{"x": 0.5}},
		datachannel.Message{Type: datachannel.TypeMessage, Topic: "rt/lf/lowstate", Data: map[string]any{"tick": 2.0}},
		datachannel.Message{Type: datachannel.TypeRTCInnerRequest, Info: map[string]any{"status": "NetworkStatus.ON_WIFI_CONNECTED"}},
	)

	var stdout bytes.Buffer
	if err := Root(&stdout).Execute([]string{"replay", path}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	lines := decodeLines(t, stdout.String())
	if len(lines) != 4 {
		t.Fatalf("replay printed %d lines, want 4:\n%s", len(lines), stdout.String())
	}
	if lines[0].Time != "2026-03-01T12:00:00Z" || lines[3].Time != "2026-03-01T12:00:03Z" {
		t.Errorf("times = %s .. %s", lines[0].Time, lines[3].Time)
	}

	stdout.Reset()
	if err := Root(&stdout).Execute([]string{"replay", "--topic", "rt/lf/lowstate", "--limit", "1", path}); err != nil {
		t.Fatalf("replay --topic: %v", err)
	}
	lines = decodeLines(t, stdout.String())
	if len(lines) != 1 || lines[0].Topic != "rt/lf/lowstate" {
		t.Fatalf("filtered replay = %+v", lines)
	}
	if data, _ := lines[0].Data.(map[string]any); data["tick"] != 1.0 {
		t.Errorf("first lowstate = %+v", lines[0].Data)
	}

	stdout.Reset()
	if err := Root(&stdout).Execute([]string{"replay", "--type", "rtc_inner_req", path}); err != nil {
		t.Fatalf("replay --type: %v", err)
	}
	if lines = decodeLines(t, stdout.String()); len(lines) != 1 || lines[0].Type != "rtc_inner_req" {
		t.Errorf("type-filtered replay = %+v", lines)
	}

	if err := Root(&stdout).Execute([]string{"replay"}); err == nil {
		t.Error("replay without a path succeeded")
	}
	if err := Root(&stdout).Execute([]string{"replay", filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Error("replay of a missing journal succeeded")
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := config.Default()
	cfg.Credentials.TokenFile = "/etc/go2link/token"
	params := connectParams{
		method:           "remote",
		serial:           "B42D",
		ip:               "10.0.0.9",
		token:            "eyJ",
		video:            true,
		decoder:          "libvoxel",
		reconnectRetries: 0,
	}
	set := map[string]bool{"method": true, "serial": true, "token": true, "video": true, "decoder": true, "reconnect-attempts": true}
	applyOverrides(cfg, params, func(name string) bool { return set[name] })

	if cfg.Robot.Method != "remote" || cfg.Robot.Serial != "B42D" {
		t.Errorf("robot = %+v", cfg.Robot)
	}
	if cfg.Robot.IP != "" {
		t.Errorf("unset --ip overrode the config: %q", cfg.Robot.IP)
	}
	if cfg.Credentials.Token != "eyJ" || cfg.Credentials.TokenFile != "" {
		t.Errorf("credentials = %+v, want the flag token alone", cfg.Credentials)
	}
	if !cfg.Negotiation.Video || cfg.Decoder != "libvoxel" || cfg.Reconnect.MaxAttempts != 0 {
		t.Errorf("overrides not applied: video=%v decoder=%q attempts=%d",
			cfg.Negotiation.Video, cfg.Decoder, cfg.Reconnect.MaxAttempts)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv(config.EnvironmentVariable, "")
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig defaults: %v", err)
	}
	if cfg.Robot.Method != "local-sta" {
		t.Errorf("default method = %q", cfg.Robot.Method)
	}

	path := filepath.Join(t.TempDir(), "go2link.yaml")
	if err := os.WriteFile(path, []byte("robot:\n  method: local-ap\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvironmentVariable, path)
	if cfg, err = loadConfig(""); err != nil || cfg.Robot.Method != "local-ap" {
		t.Errorf("loadConfig from environment = %+v, %v", cfg, err)
	}
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("loadConfig with a missing --config succeeded")
	}
}

func TestSignalers(t *testing.T) {
	cfg := config.Default()
	cfg.Negotiation.SignalingPort = 9991
	signaler, relay, err := signalers(cfg, tokenSource(cfg), discardLogger())
	if err != nil {
		t.Fatalf("signalers: %v", err)
	}
	local, ok := signaler.(*transport.HTTPSignaler)
	if !ok || relay != nil {
		t.Fatalf("local signalers = %T, %T", signaler, relay)
	}
	if local.Port != 9991 {
		t.Errorf("port = %d, want 9991", local.Port)
	}

	cfg.Robot = config.RobotConfig{Method: "remote", Serial: "B42D"}
	cfg.Credentials.Token = "eyJ"
	signaler, relay, err = signalers(cfg, tokenSource(cfg), discardLogger())
	if err != nil {
		t.Fatalf("signalers: %v", err)
	}
	if _, ok := signaler.(*transport.CloudSignaler); !ok {
		t.Errorf("remote signaler = %T, want *CloudSignaler", signaler)
	}
	if _, ok := relay.(*transport.CloudSignaler); !ok {
		t.Errorf("remote relay = %T, want *CloudSignaler", relay)
	}
}

func TestConnectCommand_FlagValidation(t *testing.T) {
	t.Setenv(config.EnvironmentVariable, "")
	var stdout bytes.Buffer
	err := Root(&stdout).Execute([]string{"connect", "--method", "remote"})
	if err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("connect --method remote without serial = %v", err)
	}
	err = Root(&stdout).Execute([]string{"connect", "--ip", "10.0.0.9", "extra"})
	if err == nil || !strings.Contains(err.Error(), "unexpected argument") {
		t.Errorf("connect with a positional argument = %v", err)
	}
}

func TestRunConnect_StreamsAndRecords(t *testing.T) {
	sim := startRobot(t, robotsim.Config{Logger: discardLogger()})

	cfg := config.Default()
	cfg.Robot.IP = "127.0.0.1"
	cfg.Negotiation.STUNServers = []string{}
	cfg.Capture.Path = filepath.Join(t.TempDir(), "session.journal")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	ready := make(chan *robot.Connection, 1)
	var stdout syncBuffer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	result := make(chan error, 1)
	go func() {
		result <- runConnect(ctx, &stdout, cfg, connectParams{
			topics:          []string{"rt/lf/lowstate"},
			noTrafficSaving: true,
		}, connectDeps{
			signaler:        sim.Signaler(),
			includeLoopback: true,
			logger:          discardLogger(),
			ready:           func(connection *robot.Connection) { ready <- connection },
		})
	}()

	connection := testutil.RequireReceive(t, ready, 30*time.Second, "connect never became ready")
	if state := connection.CurrentState(); state != robot.StateReady {
		t.Fatalf("state = %s, want ready", state)
	}

	if err := sim.Publish("rt/lf/lowstate", map[string]any{"tick": 7}); err != nil {
		t.Fatal(err)
	}
	testutil.RequireEventually(t, 10*time.Second, func() bool {
		return strings.Contains(stdout.String(), "rt/lf/lowstate")
	}, "subscribed topic never printed")

	cancel()
	if err := testutil.RequireReceive(t, result, 10*time.Second, "connect did not return after cancel"); err != nil {
		t.Fatalf("runConnect: %v", err)
	}

	lines := decodeLines(t, stdout.String())
	if len(lines) != 1 || lines[0].Type != datachannel.TypeMessage {
		t.Fatalf("printed = %+v", lines)
	}
	if data, _ := lines[0].Data.(map[string]any); data["tick"] != 7.0 {
		t.Errorf("printed data = %+v", lines[0].Data)
	}

	topics := map[string]bool{}
	reader, err := capture.Open(cfg.Capture.Path)
	if err != nil {
		t.Fatalf("Open journal: %v", err)
	}
	defer reader.Close()
	for {
		record, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		topics[record.Type+" "+record.Topic] = true
	}
	if !topics["msg rt/lf/lowstate"] {
		t.Errorf("journal lacks the topic message: %v", topics)
	}
	if !topics["validation "] {
		t.Errorf("journal lacks the validation exchange: %v", topics)
	}
}

// startRobot builds a simulated robot and closes it when the test ends.
func startRobot(t *testing.T, config robotsim.Config) *robotsim.Robot {
	t.Helper()
	sim, err := robotsim.New(config)
	if err != nil {
		t.Fatalf("robotsim.New: %v", err)
	}
	t.Cleanup(sim.Close)
	return sim
}
