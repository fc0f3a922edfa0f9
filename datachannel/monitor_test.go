// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package datachannel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go2link/go2link/lib/clock"
	"github.com/go2link/go2link/lib/testutil"
)

// fakePublisher records monitor traffic and answers status queries.
type fakePublisher struct {
	mu         sync.Mutex
	heartbeats []map[string]any
	sendErr    error
	status     string
	statusSeen chan struct{}
	heartbeat  chan struct{}
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{
		statusSeen: make(chan struct{}, 16),
		heartbeat:  make(chan struct{}, 16),
	}
}

func (p *fakePublisher) Publish(ctx context.Context, topic string, payload any, messageType string) (Message, error) {
	p.mu.Lock()
	status := p.status
	p.mu.Unlock()
	defer func() { p.statusSeen <- struct{}{} }()
	if messageType != TypeRTCInnerRequest {
		return Message{}, errors.New("unexpected request type " + messageType)
	}
	return Message{Type: TypeRTCInnerRequest, Info: map[string]any{"status": status}}, nil
}

func (p *fakePublisher) PublishWithoutCallback(topic string, payload any, messageType string) error {
	p.mu.Lock()
	err := p.sendErr
	if err == nil {
		p.heartbeats = append(p.heartbeats, payload.(map[string]any))
	}
	p.mu.Unlock()
	p.heartbeat <- struct{}{}
	return err
}

func (p *fakePublisher) heartbeatCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.heartbeats)
}

func TestMonitor_HeartbeatPayload(t *testing.T) {
	fake := clock.Fake(epoch)
	publisher := newFakePublisher()
	monitor := NewMonitor(publisher, fake, MonitorCallbacks{}, discardLogger())
	monitor.Start()
	defer monitor.Stop()

	fake.WaitForTimers(2)
	fake.Advance(HeartbeatInterval)
	testutil.RequireReceive(t, publisher.heartbeat, 5*time.Second, "first heartbeat")

	publisher.mu.Lock()
	payload := publisher.heartbeats[0]
	publisher.mu.Unlock()
	now := epoch.Add(HeartbeatInterval)
	if payload["timeInStr"] != now.Format("2006-01-02 15:04:05") {
		t.Errorf("timeInStr = %v", payload["timeInStr"])
	}
	if payload["timeInNum"] != now.Unix() {
		t.Errorf("timeInNum = %v, want %d", payload["timeInNum"], now.Unix())
	}
}

func TestMonitor_UnhealthyAfterConsecutiveFailures(t *testing.T) {
	fake := clock.Fake(epoch)
	publisher := newFakePublisher()
	publisher.sendErr = errors.New("buffer full")

	unhealthy := make(chan error, 4)
	monitor := NewMonitor(publisher, fake, MonitorCallbacks{
		OnUnhealthy: func(err error) { unhealthy <- err },
	}, discardLogger())
	monitor.Start()
	defer monitor.Stop()
	fake.WaitForTimers(2)

	for attempt := 1; attempt < MaxMissedHeartbeats; attempt++ {
		fake.Advance(HeartbeatInterval)
		testutil.RequireReceive(t, publisher.heartbeat, 5*time.Second, "heartbeat %d", attempt)
	}
	select {
	case err := <-unhealthy:
		t.Fatalf("unhealthy reported early: %v", err)
	default:
	}

	fake.Advance(HeartbeatInterval)
	testutil.RequireReceive(t, publisher.heartbeat, 5*time.Second, "final heartbeat")
	err := testutil.RequireReceive(t, unhealthy, 5*time.Second, "unhealthy report")
	if !errors.Is(err, ErrUnhealthy) {
		t.Errorf("unhealthy error = %v, want ErrUnhealthy", err)
	}
	if monitor.Missed() != MaxMissedHeartbeats {
		t.Errorf("Missed = %d, want %d", monitor.Missed(), MaxMissedHeartbeats)
	}
}

func TestMonitor_NetworkStatusUpdatesMode(t *testing.T) {
	fake := clock.Fake(epoch)
	publisher := newFakePublisher()
	publisher.status = "NetworkStatus.ON_4G_CONNECTED"

	modes := make(chan string, 4)
	monitor := NewMonitor(publisher, fake, MonitorCallbacks{
		OnModeChange: func(mode string) { modes <- mode },
	}, discardLogger())
	monitor.Start()
	defer monitor.Stop()
	fake.WaitForTimers(2)

	fake.Advance(NetworkStatusInterval)
	testutil.RequireReceive(t, publisher.statusSeen, 5*time.Second, "status query")
	if mode := testutil.RequireReceive(t, modes, 5*time.Second, "mode change"); mode != "NetworkStatus.ON_4G_CONNECTED" {
		t.Errorf("mode = %q", mode)
	}
	testutil.RequireEventually(t, 5*time.Second, func() bool {
		return monitor.Mode() == "NetworkStatus.ON_4G_CONNECTED"
	}, "Mode reflects status")
}

func TestMonitor_NothingSentAfterStop(t *testing.T) {
	fake := clock.Fake(epoch)
	publisher := newFakePublisher()
	monitor := NewMonitor(publisher, fake, MonitorCallbacks{}, discardLogger())
	monitor.Start()
	fake.WaitForTimers(2)

	fake.Advance(HeartbeatInterval)
	testutil.RequireReceive(t, publisher.heartbeat, 5*time.Second, "heartbeat before stop")

	monitor.Stop()
	sent := publisher.heartbeatCount()

	fake.Advance(10 * NetworkStatusInterval)
	if publisher.heartbeatCount() != sent {
		t.Errorf("heartbeats after Stop: %d, want %d", publisher.heartbeatCount(), sent)
	}
	if fake.PendingCount() != 0 {
		t.Errorf("%d timers still live after Stop", fake.PendingCount())
	}

	// Start after Stop does not revive the loops.
	monitor.Start()
	if fake.PendingCount() != 0 {
		t.Error("Start after Stop armed new timers")
	}
	monitor.Stop()
}

func TestMonitor_HandleHeartbeatRecordsAck(t *testing.T) {
	fake := clock.Fake(epoch)
	monitor := NewMonitor(newFakePublisher(), fake, MonitorCallbacks{}, discardLogger())

	fake.Advance(time.Minute)
	monitor.HandleHeartbeat(Message{Type: TypeHeartbeat})
	if !monitor.LastHeartbeatAck().Equal(epoch.Add(time.Minute)) {
		t.Errorf("LastHeartbeatAck = %v", monitor.LastHeartbeatAck())
	}
}
