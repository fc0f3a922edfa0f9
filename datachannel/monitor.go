// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package datachannel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go2link/go2link/lib/clock"
)

const (
	// HeartbeatInterval is the keepalive cadence once validated.
	HeartbeatInterval = 2 * time.Second

	// NetworkStatusInterval is the cadence of connection mode queries.
	NetworkStatusInterval = 5 * time.Second

	// MaxMissedHeartbeats is how many consecutive failed keepalive
	// sends make the link unhealthy.
	MaxMissedHeartbeats = 3
)

// heartbeatTimeLayout is the wall-clock form the peer expects in timeInStr.
const heartbeatTimeLayout = "2006-01-02 15:04:05"

// ErrUnhealthy is reported to the unhealthy callback.
var ErrUnhealthy = errors.New("data channel keepalive failing")

// Publisher is the part of the Router the monitor sends through.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any, messageType string) (Message, error)
	PublishWithoutCallback(topic string, payload any, messageType string) error
}

// MonitorCallbacks are invoked from the monitor's goroutines. They must
// not call Stop on the same monitor.
type MonitorCallbacks struct {
	// OnUnhealthy fires once each time the consecutive failure count
	// reaches MaxMissedHeartbeats.
	OnUnhealthy func(err error)

	// OnModeChange fires when a network status reply changes the
	// reported connection mode.
	OnModeChange func(mode string)
}

// Monitor sends keepalives and polls the peer's network status. It
// observes only: unhealthy links are reported through OnUnhealthy and
// the owner decides what to do.
type Monitor struct {
	publisher Publisher
	clock     clock.Clock
	logger    *slog.Logger
	callbacks MonitorCallbacks

	mu               sync.Mutex
	started          bool
	stopped          bool
	missed           int
	lastErr          error
	lastHeartbeatAck time.Time
	mode             string

	cancel context.CancelFunc
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewMonitor builds an idle monitor.
func NewMonitor(publisher Publisher, clk clock.Clock, callbacks MonitorCallbacks, logger *slog.Logger) *Monitor {
	return &Monitor{
		publisher: publisher,
		clock:     clk,
		logger:    logger,
		callbacks: callbacks,
		stop:      make(chan struct{}),
	}
}

// Start launches the heartbeat and network status loops. It is a no-op
// after the first call or after Stop.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.stopped {
		return
	}
	m.started = true

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	heartbeat := m.clock.NewTicker(HeartbeatInterval)
	status := m.clock.NewTicker(NetworkStatusInterval)

	m.wg.Add(2)
	go m.heartbeatLoop(heartbeat)
	go m.statusLoop(ctx, status)
	m.logger.Debug("liveness monitor started")
}

// Stop cancels both loops and waits for them to exit. Nothing is sent
// after Stop returns. Safe to call more than once.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		m.wg.Wait()
		return
	}
	m.stopped = true
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	close(m.stop)
	m.wg.Wait()
}

func (m *Monitor) heartbeatLoop(ticker *clock.Ticker) {
	defer m.wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}
		// A tick and Stop can be ready together; Stop wins.
		select {
		case <-m.stop:
			return
		default:
		}
		m.sendHeartbeat()
	}
}

func (m *Monitor) sendHeartbeat() {
	now := m.clock.Now()
	payload := map[string]any{
		"timeInStr": now.Format(heartbeatTimeLayout),
		"timeInNum": now.Unix(),
	}
	err := m.publisher.PublishWithoutCallback("", payload, TypeHeartbeat)

	m.mu.Lock()
	if err == nil {
		m.missed = 0
		m.lastErr = nil
		m.mu.Unlock()
		return
	}
	m.missed++
	m.lastErr = err
	missed := m.missed
	m.mu.Unlock()

	m.logger.Warn("heartbeat send failed", "missed", missed, "error", err)
	if missed == MaxMissedHeartbeats && m.callbacks.OnUnhealthy != nil {
		m.callbacks.OnUnhealthy(fmt.Errorf("%w: %d consecutive sends failed: %w", ErrUnhealthy, missed, err))
	}
}

func (m *Monitor) statusLoop(ctx context.Context, ticker *clock.Ticker) {
	defer m.wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}
		select {
		case <-m.stop:
			return
		default:
		}
		m.fetchNetworkStatus(ctx)
	}
}

func (m *Monitor) fetchNetworkStatus(ctx context.Context) {
	reply, err := m.publisher.Publish(ctx, "", map[string]any{"req_type": "public_network_status"}, TypeRTCInnerRequest)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Debug("network status query failed", "error", err)
		}
		return
	}
	status, ok := reply.InfoField("status")
	if !ok {
		return
	}
	mode, ok := status.(string)
	if !ok || mode == "" {
		return
	}

	m.mu.Lock()
	changed := mode != m.mode
	m.mode = mode
	m.mu.Unlock()

	if changed {
		m.logger.Info("connection mode changed", "mode", mode)
		if m.callbacks.OnModeChange != nil {
			m.callbacks.OnModeChange(mode)
		}
	}
}

// HandleHeartbeat records a heartbeat message from the peer.
func (m *Monitor) HandleHeartbeat(Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastHeartbeatAck = m.clock.Now()
}

// Mode returns the last reported connection mode, or "" before the
// first successful status query.
func (m *Monitor) Mode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// LastHeartbeatAck returns when the peer last sent a heartbeat.
func (m *Monitor) LastHeartbeatAck() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeartbeatAck
}

// Missed returns the current run of failed keepalive sends.
func (m *Monitor) Missed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.missed
}
