// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package robot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/go2link/go2link/datachannel"
	"github.com/go2link/go2link/frame"
	"github.com/go2link/go2link/lib/clock"
	"github.com/go2link/go2link/transport"
)

const (
	// DefaultValidationTimeout bounds the handshake after the data
	// channel opens.
	DefaultValidationTimeout = 10 * time.Second

	// DefaultStallTimeout is how long the transport may sit in the
	// disconnected state before it is treated as lost.
	DefaultStallTimeout = 5 * time.Second
)

// Negotiator produces a connected session. *transport.Negotiator
// implements it.
type Negotiator interface {
	Negotiate(ctx context.Context, target transport.Target) (transport.Session, error)
}

// Config configures a Connection.
type Config struct {
	Target transport.Target

	// Negotiator is required.
	Negotiator Negotiator

	// Codec decodes binary frames. Nil uses the native decoder.
	Codec *frame.Codec

	ValidationTimeout time.Duration
	RequestTimeout    time.Duration
	StallTimeout      time.Duration

	Reconnect ReconnectPolicy

	// Media receives remote tracks. Nil ignores them.
	Media MediaSink

	// OnMessage sees every inbound message of a known type.
	OnMessage func(datachannel.Message)

	// OnPeerError sees the peer's error reports.
	OnPeerError func(datachannel.Message)

	Clock  clock.Clock
	Logger *slog.Logger
}

// Connection is one logical link to a robot. It holds at most one live
// transport session at a time; Reconnect and automatic reconnection
// tear the old one down fully before negotiating again.
//
// All methods are safe for concurrent use.
type Connection struct {
	config        Config
	clock         clock.Clock
	logger        *slog.Logger
	subscriptions *datachannel.Subscriptions

	mu    sync.Mutex
	state State
	// err is the cause of the last transition out of the happy path.
	err  error
	link *link
	// epoch increments on every Connect and Disconnect. Background work
	// started under an older epoch discards its results.
	epoch    uint64
	lifetime context.Context
	cancel   context.CancelFunc
	// negotiations holds one channel per Negotiate call in flight,
	// closed when the call returns.
	negotiations map[chan struct{}]struct{}
	// changed is closed and replaced on every transition.
	changed    chan struct{}
	mode       string
	peerTopics map[string]bool

	listeners    map[int]Listener
	nextListener int
	queue        []StateChange
	flushing     bool
}

// link is one negotiated session and the data channel built on it.
type link struct {
	session   transport.Session
	channel   *datachannel.Channel
	unhealthy chan error
	stop      chan struct{}

	validationTimer *clock.Timer
	validationOnce  sync.Once
	teardownOnce    sync.Once
	teardownErr     error
}

// New validates config and returns an idle Connection.
func New(config Config) (*Connection, error) {
	if config.Negotiator == nil {
		return nil, errors.New("robot: Negotiator is required")
	}
	if err := config.Target.Validate(); err != nil {
		return nil, fmt.Errorf("robot: %w", err)
	}
	if config.Codec == nil {
		codec, err := frame.NewCodec(frame.ModeNative)
		if err != nil {
			return nil, err
		}
		config.Codec = codec
	}
	if config.ValidationTimeout <= 0 {
		config.ValidationTimeout = DefaultValidationTimeout
	}
	if config.StallTimeout <= 0 {
		config.StallTimeout = DefaultStallTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Connection{
		config:        config,
		clock:         config.Clock,
		logger:        config.Logger.With("robot", config.Target.String()),
		subscriptions: datachannel.NewSubscriptions(),
		changed:       make(chan struct{}),
		peerTopics:    make(map[string]bool),
		listeners:     make(map[int]Listener),
		negotiations:  make(map[chan struct{}]struct{}),
	}, nil
}

// CurrentState returns the lifecycle state.
func (c *Connection) CurrentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the cause of the last failure, degradation, or loss. It
// is nil after a clean Disconnect and while Ready.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Mode returns the network mode the robot last reported, such as
// "NetworkStatus.ON_WIFI_CONNECTED". Empty until the first status
// reply.
func (c *Connection) Mode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// OnStateChange registers listener and returns a function removing it.
func (c *Connection) OnStateChange(listener Listener) (remove func()) {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = listener
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Connect negotiates a session and waits for the validation handshake.
// It returns nil once the connection is Ready. A negotiation failure
// leaves the connection Failed and is returned as is (*PeerBusyError,
// *NoAnswerError, *NegotiationTimeoutError). A validation timeout or
// rejection leaves it Degraded, transport still up, and returns the
// validation error.
//
// Connect is valid from Idle, Closed, and Failed.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if !c.state.connectable() {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("connect: connection is %s", state)
	}
	c.epoch++
	epoch := c.epoch
	c.lifetime, c.cancel = context.WithCancel(context.Background())
	lifetime := c.lifetime
	c.err = nil
	c.setStateLocked(StateConnecting, nil)
	c.mu.Unlock()
	c.flush()

	// Disconnect cancels lifetime, which ends this negotiation too.
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	defer context.AfterFunc(lifetime, stop)()

	current, err := c.establish(ctx, epoch)
	if err != nil {
		c.mu.Lock()
		if c.epoch == epoch {
			c.err = err
			c.setStateLocked(StateFailed, err)
		}
		c.mu.Unlock()
		c.flush()
		return err
	}
	return c.awaitValidation(ctx, current)
}

// Disconnect stops the monitor, rejects pending requests with a
// *datachannel.ConnectionClosedError, closes the transport, and moves
// to Closed, in that order. It also stops any reconnection in progress
// and cancels a running negotiation, returning only after that
// negotiation has released its transport. Disconnect is valid in every
// state.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	c.epoch++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	current := c.link
	c.link = nil
	inflight := make([]chan struct{}, 0, len(c.negotiations))
	for done := range c.negotiations {
		inflight = append(inflight, done)
	}
	c.mu.Unlock()

	for _, done := range inflight {
		<-done
	}

	var err error
	if current != nil {
		err = c.teardown(current, &datachannel.ConnectionClosedError{Reason: "disconnected"})
	}

	c.mu.Lock()
	c.err = nil
	if c.state != StateClosed {
		c.setStateLocked(StateClosed, nil)
	}
	c.mu.Unlock()
	c.flush()
	return err
}

// Reconnect is Disconnect followed by Connect. The old transport is
// closed before the new negotiation starts.
func (c *Connection) Reconnect(ctx context.Context) error {
	if err := c.Disconnect(); err != nil {
		c.logger.Warn("closing previous session", "error", err)
	}
	return c.Connect(ctx)
}

// WaitReady blocks until the connection is Ready. It fails with a
// *NotReadyError once the connection settles in Degraded, Closed, or
// Failed, and with ctx's error if ctx ends first.
func (c *Connection) WaitReady(ctx context.Context) error {
	for {
		c.mu.Lock()
		state, cause, changed := c.state, c.err, c.changed
		c.mu.Unlock()

		switch state {
		case StateReady:
			return nil
		case StateDegraded, StateClosed, StateFailed:
			return &NotReadyError{Op: "wait ready", State: state, Err: cause}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// establish negotiates and installs a new link. On success the state
// is Open and the link's event pump is running.
func (c *Connection) establish(ctx context.Context, epoch uint64) (*link, error) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return nil, &datachannel.ConnectionClosedError{Reason: "disconnected before negotiation"}
	}
	done := make(chan struct{})
	c.negotiations[done] = struct{}{}
	c.mu.Unlock()

	// done is closed only once the result is installed or discarded, so
	// Disconnect never returns while a stale session is still open.
	defer close(done)

	session, err := c.config.Negotiator.Negotiate(ctx, c.config.Target)
	if err != nil {
		c.mu.Lock()
		delete(c.negotiations, done)
		c.mu.Unlock()
		return nil, err
	}

	current := &link{
		session:   session,
		unhealthy: make(chan error, 1),
		stop:      make(chan struct{}),
	}
	current.channel = datachannel.New(session, datachannel.Options{
		Codec:          c.config.Codec,
		Subscriptions:  c.subscriptions,
		RequestTimeout: c.config.RequestTimeout,
		Clock:          c.clock,
		Logger:         c.logger,
		OnUnhealthy: func(err error) {
			select {
			case current.unhealthy <- err:
			default:
			}
		},
		OnModeChange: c.setMode,
		OnPeerError:  c.config.OnPeerError,
		OnMessage:    c.config.OnMessage,
	})

	c.mu.Lock()
	delete(c.negotiations, done)
	if c.epoch != epoch {
		c.mu.Unlock()
		session.Close()
		return nil, &datachannel.ConnectionClosedError{Reason: "disconnected during negotiation"}
	}
	c.link = current
	c.setStateLocked(StateOpen, nil)
	validator := current.channel.Validator()
	timeout := c.config.ValidationTimeout
	current.validationTimer = c.clock.AfterFunc(timeout, func() {
		validator.Fail(&datachannel.ValidationTimeoutError{Timeout: timeout})
	})
	c.mu.Unlock()
	c.flush()

	go c.pump(current, epoch)
	return current, nil
}

// awaitValidation blocks Connect until the handshake settles.
func (c *Connection) awaitValidation(ctx context.Context, current *link) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-current.channel.Validator().Done():
	}
	c.finishValidation(current)
	return current.channel.Validator().Err()
}

// finishValidation moves the link's connection to Ready or Degraded.
// Both Connect and the pump call it; the first call wins.
func (c *Connection) finishValidation(current *link) {
	current.validationOnce.Do(func() {
		current.validationTimer.Stop()
		err := current.channel.Validator().Err()

		c.mu.Lock()
		if c.link != current {
			c.mu.Unlock()
			return
		}
		var topics []string
		if err == nil {
			c.err = nil
			c.setStateLocked(StateReady, nil)
			for topic := range c.peerTopics {
				topics = append(topics, topic)
			}
		} else {
			c.err = err
			c.setStateLocked(StateDegraded, err)
		}
		c.mu.Unlock()
		c.flush()

		if err != nil {
			c.logger.Warn("connection degraded", "error", err)
			return
		}
		c.logger.Info("connection ready")
		for _, topic := range topics {
			if sendErr := current.channel.PublishWithoutCallback(topic, nil, datachannel.TypeSubscribe); sendErr != nil {
				c.logger.Warn("resubscribing topic", "topic", topic, "error", sendErr)
			}
		}
	})
}

// pump feeds one session's events into its channel, in arrival order,
// and watches for transport loss.
func (c *Connection) pump(current *link, epoch uint64) {
	validated := current.channel.Validator().Done()
	var stalled <-chan time.Time

	for {
		select {
		case <-current.stop:
			return

		case <-current.session.Done():
			c.lost(current, epoch, &datachannel.ConnectionClosedError{Reason: "session closed"})
			return

		case <-validated:
			validated = nil
			c.finishValidation(current)

		case err := <-current.unhealthy:
			c.lost(current, epoch, err)
			return

		case <-stalled:
			c.lost(current, epoch, fmt.Errorf("transport disconnected for %s", c.config.StallTimeout))
			return

		case event := <-current.session.Events():
			switch event.Kind {
			case transport.EventChannelOpen:
				current.channel.HandleOpen()
				c.mu.Lock()
				if c.link == current && c.state == StateOpen {
					c.setStateLocked(StateValidating, nil)
				}
				c.mu.Unlock()
				c.flush()

			case transport.EventMessage:
				current.channel.HandleMessage(event.Data, event.IsText)

			case transport.EventChannelClose:
				current.channel.HandleClose()
				c.lost(current, epoch, &datachannel.ConnectionClosedError{Reason: "data channel closed by transport"})
				return

			case transport.EventConnectionState:
				c.logger.Debug("peer connection state", "state", event.ConnectionState.String())
				switch event.ConnectionState {
				case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
					c.lost(current, epoch, fmt.Errorf("peer connection %s", event.ConnectionState))
					return
				case webrtc.PeerConnectionStateDisconnected:
					if stalled == nil {
						stalled = c.clock.After(c.config.StallTimeout)
					}
				case webrtc.PeerConnectionStateConnected:
					stalled = nil
				}

			case transport.EventICEState:
				c.logger.Debug("ice connection state", "state", event.ICEState.String())

			case transport.EventSignalingState:
				c.logger.Debug("signaling state", "state", event.SignalingState.String())

			case transport.EventTrack:
				if c.config.Media != nil && event.Track != nil {
					go c.config.Media.HandleTrack(event.Track)
				}
			}
		}
	}
}

// lost handles a transport failure on the current link: tear it down,
// then reconnect if the policy allows or close for good.
func (c *Connection) lost(current *link, epoch uint64, cause error) {
	c.mu.Lock()
	if c.epoch != epoch || c.link != current {
		c.mu.Unlock()
		return
	}
	c.link = nil
	c.mu.Unlock()

	c.logger.Warn("transport lost", "error", cause)
	if err := c.teardown(current, &datachannel.ConnectionClosedError{Reason: cause.Error()}); err != nil {
		c.logger.Debug("closing lost session", "error", err)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	c.err = cause
	if !c.config.Reconnect.Enabled() {
		c.setStateLocked(StateClosed, cause)
		c.mu.Unlock()
		c.flush()
		return
	}
	c.setStateLocked(StateReconnecting, cause)
	lifetime := c.lifetime
	c.mu.Unlock()
	c.flush()

	go c.reconnect(lifetime, epoch, cause)
}

// reconnect runs the bounded retry loop for one lost transport.
func (c *Connection) reconnect(ctx context.Context, epoch uint64, cause error) {
	policy := c.config.Reconnect
	last := cause
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(policy.backoff(attempt)):
		}

		c.logger.Info("reconnecting", "attempt", attempt, "max_attempts", policy.MaxAttempts)
		_, err := c.establish(ctx, epoch)
		if err == nil {
			return
		}
		last = err
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", last)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	exhausted := &ReconnectExhaustedError{Attempts: policy.MaxAttempts, Err: last}
	c.err = exhausted
	c.setStateLocked(StateClosed, exhausted)
	c.mu.Unlock()
	c.flush()
	c.logger.Error("giving up on robot", "error", exhausted)
}

// teardown stops the link's background work, rejects its pending
// requests, then closes the session. Runs once per link.
func (c *Connection) teardown(current *link, cause error) error {
	current.teardownOnce.Do(func() {
		close(current.stop)
		if current.validationTimer != nil {
			current.validationTimer.Stop()
		}
		current.channel.Close(cause)
		current.teardownErr = current.session.Close()
	})
	return current.teardownErr
}

func (c *Connection) setMode(mode string) {
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
	c.logger.Info("network mode", "mode", mode)
}

// readyLink returns the current link, or a *NotReadyError for op.
func (c *Connection) readyLink(op string) (*link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady || c.link == nil {
		return nil, &NotReadyError{Op: op, State: c.state, Err: c.err}
	}
	return c.link, nil
}

// setStateLocked records a transition and queues it for listeners.
// Callers hold c.mu and call flush after unlocking.
func (c *Connection) setStateLocked(to State, cause error) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	close(c.changed)
	c.changed = make(chan struct{})
	c.queue = append(c.queue, StateChange{From: from, To: to, Err: cause})
	c.logger.Debug("state change", "from", from.String(), "to", to.String())
}

// flush delivers queued transitions in order. A flush already running
// on another goroutine (or further up this one) delivers them instead.
func (c *Connection) flush() {
	c.mu.Lock()
	if c.flushing {
		c.mu.Unlock()
		return
	}
	c.flushing = true
	for len(c.queue) > 0 {
		change := c.queue[0]
		c.queue = c.queue[1:]
		listeners := make([]Listener, 0, len(c.listeners))
		for _, listener := range c.listeners {
			listeners = append(listeners, listener)
		}
		c.mu.Unlock()
		for _, listener := range listeners {
			listener(change)
		}
		c.mu.Lock()
	}
	c.flushing = false
	c.mu.Unlock()
}
