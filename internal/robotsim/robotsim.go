// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

// Package robotsim is a simulated robot peer for tests. It answers
// offers with a real pion PeerConnection, runs the robot side of the
// data channel protocol (validation challenge, heartbeat replies,
// network status, request/response), and can be told to reject, stay
// silent, or drop its connections.
package robotsim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/go2link/go2link/datachannel"
	"github.com/go2link/go2link/transport"
)

// DefaultNetworkStatus is reported to network status queries.
const DefaultNetworkStatus = "NetworkStatus.ON_WIFI_CONNECTED"

// Config controls the simulated robot's behavior.
type Config struct {
	Logger *slog.Logger

	// ValidationKey is the challenge sent after the channel opens.
	ValidationKey string

	// SkipValidation never sends the challenge, so the client's
	// handshake stalls.
	SkipValidation bool

	// RejectValidation answers a correct response with an err message.
	RejectValidation bool

	// NetworkStatus is the info.status of network status replies.
	NetworkStatus string

	// Video adds a VP8 track that streams blank samples.
	Video bool
}

// Robot is the simulated peer.
type Robot struct {
	config Config
	api    *webrtc.API
	logger *slog.Logger

	received chan datachannel.Message

	mu     sync.Mutex
	busy   bool
	silent bool
	peers  []*peer
	offers int
}

type peer struct {
	robot      *Robot
	connection *webrtc.PeerConnection
	done       chan struct{}

	mu      sync.Mutex
	channel *webrtc.DataChannel
}

// New builds a robot that gathers loopback host candidates only.
func New(config Config) (*Robot, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ValidationKey == "" {
		config.ValidationKey = "robotsim-validation-key"
	}
	if config.NetworkStatus == "" {
		config.NetworkStatus = DefaultNetworkStatus
	}

	settingEngine := webrtc.SettingEngine{LoggerFactory: transport.NewSlogLoggerFactory(config.Logger)}
	settingEngine.SetIncludeLoopbackCandidate(true)
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("registering codecs: %w", err)
	}

	return &Robot{
		config:   config,
		api:      webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine), webrtc.WithMediaEngine(mediaEngine)),
		logger:   config.Logger.With("peer", "robotsim"),
		received: make(chan datachannel.Message, 1024),
	}, nil
}

// Signaler returns a MemorySignaler answering through this robot.
func (r *Robot) Signaler() *transport.MemorySignaler {
	return transport.NewMemorySignaler(r.Answer)
}

// SetBusy makes later offers receive the "reject" answer.
func (r *Robot) SetBusy(busy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.busy = busy
}

// SetSilent makes later offers receive no answer.
func (r *Robot) SetSilent(silent bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.silent = silent
}

// Offers returns how many offers the robot has seen.
func (r *Robot) Offers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offers
}

// Received delivers every text message the client sent.
func (r *Robot) Received() <-chan datachannel.Message { return r.received }

// Answer is a transport.AnswerFunc.
func (r *Robot) Answer(ctx context.Context, address string, raw []byte) ([]byte, error) {
	r.mu.Lock()
	r.offers++
	busy, silent := r.busy, r.silent
	r.mu.Unlock()

	if silent {
		return nil, nil
	}
	if busy {
		return json.Marshal(transport.Answer{SDP: "reject", Type: "answer"})
	}

	var offer transport.Offer
	if err := json.Unmarshal(raw, &offer); err != nil {
		return nil, fmt.Errorf("robotsim: decoding offer: %w", err)
	}

	connection, err := r.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("robotsim: creating peer connection: %w", err)
	}
	p := &peer{robot: r, connection: connection, done: make(chan struct{})}
	connection.OnDataChannel(p.handleDataChannel)

	var track *webrtc.TrackLocalStaticSample
	if r.config.Video {
		track, err = webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "robotsim")
		if err != nil {
			connection.Close()
			return nil, fmt.Errorf("robotsim: creating video track: %w", err)
		}
		if _, err := connection.AddTrack(track); err != nil {
			connection.Close()
			return nil, fmt.Errorf("robotsim: adding video track: %w", err)
		}
	}

	if err := connection.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		connection.Close()
		return nil, fmt.Errorf("robotsim: setting remote description: %w", err)
	}
	answer, err := connection.CreateAnswer(nil)
	if err != nil {
		connection.Close()
		return nil, fmt.Errorf("robotsim: creating answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(connection)
	if err := connection.SetLocalDescription(answer); err != nil {
		connection.Close()
		return nil, fmt.Errorf("robotsim: setting local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		connection.Close()
		return nil, ctx.Err()
	}

	r.mu.Lock()
	r.peers = append(r.peers, p)
	r.mu.Unlock()

	if track != nil {
		go p.streamVideo(track)
	}

	r.logger.Debug("answered offer", "address", address, "id", offer.ID)
	return json.Marshal(transport.Answer{SDP: connection.LocalDescription().SDP, Type: "answer"})
}

// Publish sends a msg on topic to every connected client.
func (r *Robot) Publish(topic string, data any) error {
	return r.broadcast(datachannel.Message{Type: datachannel.TypeMessage, Topic: topic, Data: data})
}

// Send writes message to every connected client.
func (r *Robot) Send(message datachannel.Message) error {
	return r.broadcast(message)
}

// SendBinary writes a binary frame to every connected client.
func (r *Robot) SendBinary(frame []byte) error {
	var errs []error
	for _, p := range r.livePeers() {
		if channel := p.dataChannel(); channel != nil {
			if err := channel.Send(frame); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (r *Robot) broadcast(message datachannel.Message) error {
	var errs []error
	for _, p := range r.livePeers() {
		if err := p.send(message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Robot) livePeers() []*peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*peer(nil), r.peers...)
}

// Drop closes every peer connection, as if the robot lost power.
func (r *Robot) Drop() {
	r.mu.Lock()
	peers := r.peers
	r.peers = nil
	r.mu.Unlock()
	for _, p := range peers {
		p.close()
	}
}

// Close is Drop for use with defer.
func (r *Robot) Close() { r.Drop() }

func (p *peer) close() {
	select {
	case <-p.done:
		return
	default:
		close(p.done)
	}
	p.connection.Close()
}

func (p *peer) dataChannel() *webrtc.DataChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel
}

func (p *peer) handleDataChannel(channel *webrtc.DataChannel) {
	if channel.Label() != "data" {
		return
	}
	p.mu.Lock()
	p.channel = channel
	p.mu.Unlock()

	channel.OnOpen(func() {
		if p.robot.config.SkipValidation {
			return
		}
		p.send(datachannel.Message{Type: datachannel.TypeValidation, Data: p.robot.config.ValidationKey})
	})
	channel.OnMessage(func(raw webrtc.DataChannelMessage) {
		if !raw.IsString {
			return
		}
		message, err := datachannel.ParseText(raw.Data)
		if err != nil {
			p.robot.logger.Warn("client sent malformed text", "error", err)
			return
		}
		select {
		case p.robot.received <- message:
		default:
		}
		p.respond(message)
	})
}

func (p *peer) respond(message datachannel.Message) {
	config := p.robot.config
	switch message.Type {
	case datachannel.TypeValidation:
		if message.DataString() != datachannel.AnswerChallenge(config.ValidationKey) || config.RejectValidation {
			p.send(datachannel.Message{Type: datachannel.TypeErr, Info: "Validation Needed."})
			return
		}
		p.send(datachannel.Message{Type: datachannel.TypeValidation, Data: "Validation Ok."})

	case datachannel.TypeHeartbeat:
		p.send(datachannel.Message{Type: datachannel.TypeHeartbeat, Data: message.Data})

	case datachannel.TypeRTCInnerRequest:
		requestType, _ := message.DataField("req_type")
		info := map[string]any{"req_type": requestType}
		switch requestType {
		case "public_network_status":
			info["status"] = config.NetworkStatus
		case "disable_traffic_saving":
			info["execution"] = "ok"
		default:
			return
		}
		p.send(datachannel.Message{Type: datachannel.TypeRTCInnerRequest, ID: message.ID, Info: info})

	case datachannel.TypeRequest:
		identity, _ := message.DataField("header", "identity")
		p.send(datachannel.Message{
			Type:  datachannel.TypeResponse,
			Topic: message.Topic,
			Data: map[string]any{
				"header": map[string]any{
					"identity": identity,
					"status":   map[string]any{"code": 0},
				},
				"data": "",
			},
		})
	}
}

func (p *peer) send(message datachannel.Message) error {
	channel := p.dataChannel()
	if channel == nil {
		return errors.New("robotsim: no data channel")
	}
	encoded, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return channel.SendText(string(encoded))
}

// streamVideo writes blank VP8 samples until the peer closes.
func (p *peer) streamVideo(track *webrtc.TrackLocalStaticSample) {
	ticker := time.NewTicker(33 * time.Millisecond)
	defer ticker.Stop()
	sample := media.Sample{Data: []byte{0x10, 0x02, 0x00, 0x9d, 0x01, 0x2a}, Duration: 33 * time.Millisecond}
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			if err := track.WriteSample(sample); err != nil {
				return
			}
		}
	}
}
