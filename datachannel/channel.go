// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package datachannel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go2link/go2link/frame"
	"github.com/go2link/go2link/lib/clock"
)

// rttProbeRequest is the req_type of the peer's round-trip probe. The
// spelling is the peer's.
const rttProbeRequest = "rtt_probe_send_from_mechine"

// Options configures a Channel.
type Options struct {
	// Codec decodes binary frames. Required.
	Codec *frame.Codec

	// Subscriptions receives topic traffic. Nil creates a private
	// registry; owners that reconnect pass the same registry to every
	// Channel so handlers survive.
	Subscriptions *Subscriptions

	// RequestTimeout bounds Publish. Zero uses DefaultRequestTimeout.
	RequestTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger

	// OnValidated runs after the handshake succeeds and the monitor
	// has started.
	OnValidated func()

	// OnUnhealthy and OnModeChange are forwarded from the Monitor.
	OnUnhealthy  func(err error)
	OnModeChange func(mode string)

	// OnPeerError receives err, errors, add_error, and rm_error
	// messages after they are logged.
	OnPeerError func(Message)

	// OnMessage sees every message of a known type before it is routed.
	OnMessage func(Message)
}

// Channel is the protocol endpoint for one open data channel.
type Channel struct {
	sender    Sender
	codec     *frame.Codec
	logger    *slog.Logger
	options   Options
	router    *Router
	validator *Validator
	monitor   *Monitor

	mu     sync.Mutex
	open   bool
	closed bool
}

// New builds a Channel writing through sender. Feed it transport events
// with HandleOpen, HandleMessage, and HandleClose.
func New(sender Sender, options Options) *Channel {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Subscriptions == nil {
		options.Subscriptions = NewSubscriptions()
	}

	channel := &Channel{
		sender:  sender,
		codec:   options.Codec,
		logger:  options.Logger,
		options: options,
	}
	channel.router = NewRouter(sender, options.Subscriptions, options.RequestTimeout, options.Clock, options.Logger)
	channel.monitor = NewMonitor(channel.router, options.Clock, MonitorCallbacks{
		OnUnhealthy:  options.OnUnhealthy,
		OnModeChange: options.OnModeChange,
	}, options.Logger)
	channel.validator = NewValidator(sender, channel.validated, options.Logger)
	return channel
}

func (c *Channel) validated() {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.monitor.Start()
	if c.options.OnValidated != nil {
		c.options.OnValidated()
	}
}

// HandleOpen marks the transport open and starts validation.
func (c *Channel) HandleOpen() {
	c.mu.Lock()
	if c.closed || c.open {
		c.mu.Unlock()
		return
	}
	c.open = true
	c.mu.Unlock()

	c.logger.Debug("data channel open")
	c.validator.Begin()
}

// HandleMessage decodes and dispatches one inbound message. Malformed
// input is logged and dropped; it never closes the channel.
func (c *Channel) HandleMessage(data []byte, isText bool) {
	var message Message
	if isText {
		parsed, err := ParseText(data)
		if err != nil {
			c.logger.Warn("dropping malformed text message", "error", err)
			return
		}
		message = parsed
	} else {
		header, err := c.codec.Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", "bytes", len(data), "error", err)
			return
		}
		message = MessageFromHeader(header)
	}
	c.Dispatch(message)
}

// Dispatch routes a decoded message by type.
func (c *Channel) Dispatch(message Message) {
	if message.Type == TypeRTCInnerRequest && isRTTProbe(message) {
		c.echo(message)
		return
	}
	if !knownTypes[message.Type] {
		c.logger.Debug("dropping message of unknown type", "type", message.Type, "topic", message.Topic)
		return
	}

	if c.options.OnMessage != nil {
		c.options.OnMessage(message)
	}
	c.router.Resolve(message)

	switch message.Type {
	case TypeValidation:
		c.validator.HandleValidation(message)
	case TypeHeartbeat:
		c.monitor.HandleHeartbeat(message)
	case TypeErr:
		c.validator.HandleErr(message)
		c.peerError(message)
	case TypeErrors, TypeAddError, TypeRemoveError:
		c.logger.Warn("peer error report", "type", message.Type, "detail", describePeerError(message))
		c.peerError(message)
	}
}

func (c *Channel) peerError(message Message) {
	if c.options.OnPeerError != nil {
		c.options.OnPeerError(message)
	}
}

func isRTTProbe(message Message) bool {
	requestType, _ := message.InfoField("req_type")
	return requestType == rttProbeRequest
}

// echo returns an RTT probe to the peer unchanged.
func (c *Channel) echo(message Message) {
	encoded, err := json.Marshal(message)
	if err == nil {
		err = c.sender.SendText(string(encoded))
	}
	if err != nil {
		c.logger.Debug("rtt probe echo failed", "error", err)
	}
}

// HandleClose reports that the transport closed the channel.
func (c *Channel) HandleClose() {
	c.Close(&ConnectionClosedError{Reason: "data channel closed by transport"})
}

// Ready reports whether the channel is both open and validated.
func (c *Channel) Ready() bool {
	c.mu.Lock()
	open := c.open && !c.closed
	c.mu.Unlock()
	return open && c.validator.State() == Validated
}

func (c *Channel) checkReady() error {
	if c.Ready() {
		return nil
	}
	return fmt.Errorf("%w (validation %s)", ErrNotValidated, c.validator.State())
}

// Publish sends an application request and waits for its reply. It
// fails with ErrNotValidated unless the channel is open and validated.
func (c *Channel) Publish(ctx context.Context, topic string, payload any, messageType string) (Message, error) {
	if err := c.checkReady(); err != nil {
		return Message{}, err
	}
	return c.router.Publish(ctx, topic, payload, messageType)
}

// PublishWithoutCallback sends an application message without tracking
// a reply. The same gating as Publish applies.
func (c *Channel) PublishWithoutCallback(topic string, payload any, messageType string) error {
	if err := c.checkReady(); err != nil {
		return err
	}
	return c.router.PublishWithoutCallback(topic, payload, messageType)
}

// Validator exposes the handshake so owners can wait on it.
func (c *Channel) Validator() *Validator { return c.validator }

// Mode returns the connection mode last reported by the peer.
func (c *Channel) Mode() string { return c.monitor.Mode() }

// PendingCount returns the number of unresolved Publish calls.
func (c *Channel) PendingCount() int { return c.router.PendingCount() }

// Close stops the monitor, then rejects pending requests with err. The
// caller closes the transport afterwards. Later calls are no-ops.
func (c *Channel) Close(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.open = false
	c.mu.Unlock()

	c.monitor.Stop()
	c.router.Close(err)
	c.validator.Fail(err)
	c.logger.Debug("data channel closed", "reason", err)
}
