// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

// Signaler carries one offer to the robot and returns its answer. Both
// methods return the raw answer JSON. A nil or empty answer means the
// robot did not answer; errors describe why the exchange failed.
//
// The model is vanilla ICE: the offer already holds every candidate,
// so one round-trip completes signaling.
type Signaler interface {
	// SendOfferRemote relays the offer through the cloud to the robot
	// with the given serial number.
	SendOfferRemote(ctx context.Context, serial string, offer []byte) ([]byte, error)

	// SendOfferLocal delivers the offer directly to the robot at ip.
	SendOfferLocal(ctx context.Context, ip string, offer []byte) ([]byte, error)
}

// RelayProvider fetches TURN credentials for a remote connection.
type RelayProvider interface {
	RelayCredentials(ctx context.Context, serial string) (*RelayCredentials, error)
}

// Discoverer finds the LAN address of a robot by serial number.
type Discoverer interface {
	Discover(ctx context.Context, serial string) (ip string, err error)
}

// TokenSource supplies the bearer token embedded in offers. An empty
// token is allowed for local connections.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// rejectSDP is the answer SDP of a robot that already has a client.
const rejectSDP = "reject"

// Offer is the JSON document sent to the robot.
type Offer struct {
	ID    string `json:"id"`
	SDP   string `json:"sdp"`
	Type  string `json:"type"`
	Token string `json:"token"`
	// TurnServer is only set for remote offers.
	TurnServer *RelayCredentials `json:"turnserver,omitempty"`
}

// Answer is the robot's reply.
type Answer struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// errMalformedAnswer is wrapped by parseAnswer for undecodable answers.
var errMalformedAnswer = errors.New("malformed answer")

// parseAnswer decodes raw answer JSON into a session description. It
// distinguishes a missing answer and the busy sentinel from real
// answers, and rejects answers without a data channel section.
func parseAnswer(target Target, raw []byte) (webrtc.SessionDescription, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return webrtc.SessionDescription{}, &NoAnswerError{Target: target}
	}

	var answer Answer
	if err := json.Unmarshal(raw, &answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %w", errMalformedAnswer, err)
	}
	if answer.SDP == rejectSDP {
		return webrtc.SessionDescription{}, &PeerBusyError{Target: target}
	}
	if answer.SDP == "" {
		return webrtc.SessionDescription{}, &NoAnswerError{Target: target, Err: errors.New("answer carries no sdp")}
	}
	if answer.Type != "" && answer.Type != webrtc.SDPTypeAnswer.String() {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: type %q, want answer", errMalformedAnswer, answer.Type)
	}

	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(answer.SDP)); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: parsing sdp: %w", errMalformedAnswer, err)
	}
	if !hasApplicationSection(&parsed) {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: sdp has no data channel section", errMalformedAnswer)
	}

	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP}, nil
}

func hasApplicationSection(description *sdp.SessionDescription) bool {
	for _, media := range description.MediaDescriptions {
		if media.MediaName.Media == "application" {
			return true
		}
	}
	return false
}
