// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNegotiationTimeout matches *NegotiationTimeoutError.
	ErrNegotiationTimeout = errors.New("negotiation timed out")

	// ErrPeerBusy matches *PeerBusyError.
	ErrPeerBusy = errors.New("peer is held by another client")

	// ErrNoAnswer matches *NoAnswerError.
	ErrNoAnswer = errors.New("no answer from peer")
)

// NegotiationTimeoutError reports a negotiation that did not reach the
// connected state in time. The half-open connection has been closed.
type NegotiationTimeoutError struct {
	Target  Target
	Timeout time.Duration
	// Phase names the step that was running when time ran out.
	Phase string
}

func (e *NegotiationTimeoutError) Error() string {
	return fmt.Sprintf("%s: %s after %s while %s", ErrNegotiationTimeout, e.Target, e.Timeout, e.Phase)
}

func (e *NegotiationTimeoutError) Is(target error) bool { return target == ErrNegotiationTimeout }

// PeerBusyError means the robot rejected the offer because another
// client is connected. Retrying later may succeed.
type PeerBusyError struct {
	Target Target
}

func (e *PeerBusyError) Error() string {
	return fmt.Sprintf("%s: %s rejected the offer", ErrPeerBusy, e.Target)
}

func (e *PeerBusyError) Is(target error) bool { return target == ErrPeerBusy }

// NoAnswerError means the signaling exchange produced no answer: the
// robot is unreachable or switched off.
type NoAnswerError struct {
	Target Target
	Err    error
}

func (e *NoAnswerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrNoAnswer, e.Target, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrNoAnswer, e.Target)
}

func (e *NoAnswerError) Unwrap() error { return e.Err }

func (e *NoAnswerError) Is(target error) bool { return target == ErrNoAnswer }
