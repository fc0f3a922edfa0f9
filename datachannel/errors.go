// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package datachannel

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConnectionClosed matches *ConnectionClosedError.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrValidationTimeout matches *ValidationTimeoutError.
	ErrValidationTimeout = errors.New("data channel validation timed out")

	// ErrValidationFailed matches *ValidationFailedError.
	ErrValidationFailed = errors.New("data channel validation failed")

	// ErrNotValidated is returned for application sends on a channel
	// that is not both open and validated.
	ErrNotValidated = errors.New("data channel not validated")

	// ErrRequestTimeout matches *RequestTimeoutError.
	ErrRequestTimeout = errors.New("request timed out")
)

// ConnectionClosedError rejects requests that were pending when the
// channel closed.
type ConnectionClosedError struct {
	Reason string
}

func (e *ConnectionClosedError) Error() string {
	if e.Reason == "" {
		return ErrConnectionClosed.Error()
	}
	return fmt.Sprintf("%s: %s", ErrConnectionClosed, e.Reason)
}

func (e *ConnectionClosedError) Is(target error) bool { return target == ErrConnectionClosed }

// ValidationTimeoutError reports a handshake that did not finish in time.
// The transport may still be usable for media.
type ValidationTimeoutError struct {
	Timeout time.Duration
}

func (e *ValidationTimeoutError) Error() string {
	return fmt.Sprintf("%s after %s", ErrValidationTimeout, e.Timeout)
}

func (e *ValidationTimeoutError) Is(target error) bool { return target == ErrValidationTimeout }

// ValidationFailedError reports an explicit rejection from the peer, or
// a local failure to answer its challenge.
type ValidationFailedError struct {
	Reason string
	Err    error
}

func (e *ValidationFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrValidationFailed, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrValidationFailed, e.Reason)
}

func (e *ValidationFailedError) Unwrap() error { return e.Err }

func (e *ValidationFailedError) Is(target error) bool { return target == ErrValidationFailed }

// RequestTimeoutError rejects a single Publish whose reply never came.
// Other in-flight requests are unaffected.
type RequestTimeoutError struct {
	Type    string
	Topic   string
	Timeout time.Duration
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("%s: no reply to %s %q within %s", ErrRequestTimeout, e.Type, e.Topic, e.Timeout)
}

func (e *RequestTimeoutError) Is(target error) bool { return target == ErrRequestTimeout }
