// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pion/webrtc/v4"
)

// DefaultNegotiationTimeout bounds a negotiation when Config.Timeout is
// zero.
const DefaultNegotiationTimeout = 30 * time.Second

// defaultEventBuffer sizes Session.Events when Config.EventBuffer is zero.
const defaultEventBuffer = 256

// Config configures a Negotiator.
type Config struct {
	ICE ICEConfig

	// Timeout bounds a whole negotiation, from building the offer to
	// the connected state.
	Timeout time.Duration

	// Video and Audio add receive-only transceivers for the robot's
	// camera and microphone.
	Video bool
	Audio bool

	// Signaler carries the offer. Required.
	Signaler Signaler

	// Relay supplies TURN credentials. Required for MethodRemote.
	Relay RelayProvider

	// Discoverer resolves serial numbers for MethodLocalSTA targets
	// without an IP.
	Discoverer Discoverer

	// Tokens supplies the offer's bearer token. Nil sends no token.
	Tokens TokenSource

	// EventBuffer sizes each session's event channel.
	EventBuffer int

	Logger *slog.Logger
}

// Negotiator establishes sessions to robots.
type Negotiator struct {
	config Config
	api    *webrtc.API
	logger *slog.Logger
}

// NewNegotiator validates config and prepares the pion API.
func NewNegotiator(config Config) (*Negotiator, error) {
	if config.Signaler == nil {
		return nil, errors.New("transport: Signaler is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultNegotiationTimeout
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = defaultEventBuffer
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	settingEngine := webrtc.SettingEngine{LoggerFactory: NewSlogLoggerFactory(config.Logger)}
	settingEngine.SetIncludeLoopbackCandidate(config.ICE.IncludeLoopback)

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("registering codecs: %w", err)
	}

	return &Negotiator{
		config: config,
		api:    webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine), webrtc.WithMediaEngine(mediaEngine)),
		logger: config.Logger,
	}, nil
}

// Timeout returns the negotiation bound in effect.
func (n *Negotiator) Timeout() time.Duration { return n.config.Timeout }

// Negotiate connects to target. It returns once the peer connection is
// connected, or fails with *PeerBusyError, *NoAnswerError,
// *NegotiationTimeoutError, or a wrapped setup error. On failure no
// connection is left open.
func (n *Negotiator) Negotiate(ctx context.Context, target Target) (Session, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, n.config.Timeout)
	defer cancel()

	attempt := &negotiation{negotiator: n, target: target, phase: "resolving target"}
	session, err := attempt.run(ctx)
	if err == nil {
		return session, nil
	}
	if session != nil {
		session.Close()
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, &NegotiationTimeoutError{Target: attempt.target, Timeout: n.config.Timeout, Phase: attempt.phase}
	}
	return nil, err
}

// negotiation is the state of one Negotiate call.
type negotiation struct {
	negotiator *Negotiator
	target     Target
	phase      string
}

func (a *negotiation) run(ctx context.Context) (*PeerSession, error) {
	n := a.negotiator
	logger := n.logger.With("target", a.target.String())

	if err := a.resolveTarget(ctx); err != nil {
		return nil, err
	}

	token := ""
	if n.config.Tokens != nil {
		a.phase = "fetching token"
		var err error
		if token, err = n.config.Tokens.Token(ctx); err != nil {
			return nil, fmt.Errorf("fetching token: %w", err)
		}
	}

	var relay *RelayCredentials
	if a.target.Method == MethodRemote {
		if n.config.Relay == nil {
			return nil, errors.New("remote connections need a relay provider")
		}
		a.phase = "fetching relay credentials"
		var err error
		if relay, err = n.config.Relay.RelayCredentials(ctx, a.target.Serial); err != nil {
			return nil, fmt.Errorf("fetching relay credentials: %w", err)
		}
	}

	servers, err := n.config.ICE.servers(relay)
	if err != nil {
		return nil, fmt.Errorf("building ICE servers: %w", err)
	}

	a.phase = "creating peer connection"
	connection, err := n.api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("creating peer connection: %w", err)
	}
	session := newPeerSession(connection, n.config.EventBuffer, logger)

	channel, err := connection.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		return session, fmt.Errorf("creating data channel: %w", err)
	}
	session.attach(channel)

	if n.config.Video {
		if _, err := connection.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
			return session, fmt.Errorf("adding video transceiver: %w", err)
		}
	}
	if n.config.Audio {
		if _, err := connection.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
			return session, fmt.Errorf("adding audio transceiver: %w", err)
		}
	}

	a.phase = "gathering ICE candidates"
	offer, err := connection.CreateOffer(nil)
	if err != nil {
		return session, fmt.Errorf("creating offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(connection)
	if err := connection.SetLocalDescription(offer); err != nil {
		return session, fmt.Errorf("setting local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return session, ctx.Err()
	}

	document := Offer{
		ID:    a.target.offerID(),
		SDP:   connection.LocalDescription().SDP,
		Type:  connection.LocalDescription().Type.String(),
		Token: token,
	}
	if relay != nil {
		document.TurnServer = relay
	}
	encoded, err := json.Marshal(document)
	if err != nil {
		return session, fmt.Errorf("encoding offer: %w", err)
	}

	a.phase = "waiting for answer"
	logger.Info("sending offer", "bytes", len(encoded))
	raw, err := a.sendOffer(ctx, encoded)
	if err != nil {
		if ctx.Err() != nil {
			return session, ctx.Err()
		}
		return session, &NoAnswerError{Target: a.target, Err: err}
	}
	answer, err := parseAnswer(a.target, raw)
	if err != nil {
		return session, err
	}

	a.phase = "applying answer"
	if err := connection.SetRemoteDescription(answer); err != nil {
		return session, fmt.Errorf("setting remote description: %w", err)
	}

	a.phase = "waiting for connection"
	select {
	case <-session.connected:
	case <-session.failed:
		return session, fmt.Errorf("peer connection %s before connecting", connection.ConnectionState())
	case <-ctx.Done():
		return session, ctx.Err()
	}
	logger.Info("peer connection established")
	return session, nil
}

// resolveTarget fills in the IP for local methods.
func (a *negotiation) resolveTarget(ctx context.Context) error {
	switch a.target.Method {
	case MethodLocalAP:
		if a.target.IP == "" {
			a.target.IP = DefaultAccessPointIP
		}
	case MethodLocalSTA:
		if a.target.IP != "" {
			return nil
		}
		if a.negotiator.config.Discoverer == nil {
			return fmt.Errorf("no IP for %s and no discoverer configured", a.target.Serial)
		}
		a.phase = "discovering robot"
		ip, err := a.negotiator.config.Discoverer.Discover(ctx, a.target.Serial)
		if err != nil {
			return fmt.Errorf("discovering %s: %w", a.target.Serial, err)
		}
		a.target.IP = ip
	}
	return nil
}

func (a *negotiation) sendOffer(ctx context.Context, offer []byte) ([]byte, error) {
	signaler := a.negotiator.config.Signaler
	if a.target.Method == MethodRemote {
		return signaler.SendOfferRemote(ctx, a.target.Serial, offer)
	}
	return signaler.SendOfferLocal(ctx, a.target.IP, offer)
}
