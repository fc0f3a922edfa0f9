// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// dataChannelLabel is the label the robot expects on the control channel.
const dataChannelLabel = "data"

// EventKind identifies what an Event reports.
type EventKind int

const (
	// EventChannelOpen: the data channel is open.
	EventChannelOpen EventKind = iota
	// EventMessage: Data holds one data channel message.
	EventMessage
	// EventChannelClose: the data channel closed.
	EventChannelClose
	// EventConnectionState: ConnectionState changed.
	EventConnectionState
	// EventICEState: ICEState changed.
	EventICEState
	// EventSignalingState: SignalingState changed.
	EventSignalingState
	// EventTrack: the robot started sending Track.
	EventTrack
)

func (k EventKind) String() string {
	switch k {
	case EventChannelOpen:
		return "channel-open"
	case EventMessage:
		return "message"
	case EventChannelClose:
		return "channel-close"
	case EventConnectionState:
		return "connection-state"
	case EventICEState:
		return "ice-state"
	case EventSignalingState:
		return "signaling-state"
	case EventTrack:
		return "track"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one transport occurrence. Only the fields for Kind are set.
type Event struct {
	Kind EventKind

	Data   []byte
	IsText bool

	ConnectionState webrtc.PeerConnectionState
	ICEState        webrtc.ICEConnectionState
	SignalingState  webrtc.SignalingState

	Track *webrtc.TrackRemote
}

// Session is a negotiated connection to the robot.
type Session interface {
	// Events delivers transport activity in the order pion reported
	// it. The channel is never closed; select on Done as well.
	Events() <-chan Event

	// Done is closed once Close has run.
	Done() <-chan struct{}

	// SendText writes a text message on the data channel. Safe for
	// concurrent use.
	SendText(text string) error

	// Close tears down the data channel and the peer connection.
	// Safe to call more than once.
	Close() error
}

// ErrSessionClosed is returned by sends on a closed session.
var ErrSessionClosed = errors.New("session closed")

// PeerSession is the pion-backed Session.
type PeerSession struct {
	connection *webrtc.PeerConnection
	logger     *slog.Logger

	events chan Event
	done   chan struct{}

	// connected is closed the first time the peer connection reports
	// connected; failed when it reports failed or closed first.
	connected     chan struct{}
	connectedOnce sync.Once
	failed        chan struct{}
	failedOnce    sync.Once

	mu      sync.Mutex
	channel *webrtc.DataChannel
	closed  bool
}

var _ Session = (*PeerSession)(nil)

func newPeerSession(connection *webrtc.PeerConnection, buffer int, logger *slog.Logger) *PeerSession {
	session := &PeerSession{
		connection: connection,
		logger:     logger,
		events:     make(chan Event, buffer),
		done:       make(chan struct{}),
		connected:  make(chan struct{}),
		failed:     make(chan struct{}),
	}

	connection.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Info("peer connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateConnected:
			session.connectedOnce.Do(func() { close(session.connected) })
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			session.failedOnce.Do(func() { close(session.failed) })
		}
		session.emit(Event{Kind: EventConnectionState, ConnectionState: state})
	})
	connection.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		logger.Info("ICE connection state", "state", state.String())
		session.emit(Event{Kind: EventICEState, ICEState: state})
	})
	connection.OnICEGatheringStateChange(func(state webrtc.ICEGatheringState) {
		logger.Debug("ICE gathering state", "state", state.String())
	})
	connection.OnSignalingStateChange(func(state webrtc.SignalingState) {
		logger.Debug("signaling state", "state", state.String())
		session.emit(Event{Kind: EventSignalingState, SignalingState: state})
	})
	connection.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		logger.Info("remote track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		session.emit(Event{Kind: EventTrack, Track: track})
	})
	return session
}

// attach wires the control data channel.
func (s *PeerSession) attach(channel *webrtc.DataChannel) {
	s.mu.Lock()
	s.channel = channel
	s.mu.Unlock()

	channel.OnOpen(func() {
		s.logger.Debug("data channel open", "label", channel.Label())
		s.emit(Event{Kind: EventChannelOpen})
	})
	channel.OnMessage(func(message webrtc.DataChannelMessage) {
		s.emit(Event{Kind: EventMessage, Data: message.Data, IsText: message.IsString})
	})
	channel.OnClose(func() {
		s.logger.Debug("data channel closed", "label", channel.Label())
		s.emit(Event{Kind: EventChannelClose})
	})
	channel.OnError(func(err error) {
		s.logger.Warn("data channel error", "error", err)
	})
}

// emit queues an event. It blocks while the buffer is full so events
// are never reordered or dropped, and gives up once the session closes.
func (s *PeerSession) emit(event Event) {
	select {
	case s.events <- event:
	case <-s.done:
	}
}

func (s *PeerSession) Events() <-chan Event { return s.events }

func (s *PeerSession) Done() <-chan struct{} { return s.done }

// SendText implements Session.
func (s *PeerSession) SendText(text string) error {
	s.mu.Lock()
	channel, closed := s.channel, s.closed
	s.mu.Unlock()
	if closed || channel == nil {
		return ErrSessionClosed
	}
	if channel.ReadyState() != webrtc.DataChannelStateOpen {
		return fmt.Errorf("data channel is %s", channel.ReadyState())
	}
	return channel.SendText(text)
}

// Close implements Session.
func (s *PeerSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	channel := s.channel
	s.mu.Unlock()

	close(s.done)
	var errs []error
	if channel != nil {
		if err := channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing data channel: %w", err))
		}
	}
	if err := s.connection.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing peer connection: %w", err))
	}
	return errors.Join(errs...)
}

// ConnectionState reports the pion peer connection state.
func (s *PeerSession) ConnectionState() webrtc.PeerConnectionState {
	return s.connection.ConnectionState()
}
