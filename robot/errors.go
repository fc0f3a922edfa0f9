// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package robot

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady matches *NotReadyError.
	ErrNotReady = errors.New("robot connection not ready")

	// ErrReconnectExhausted matches *ReconnectExhaustedError.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// NotReadyError rejects an application operation attempted outside
// StateReady.
type NotReadyError struct {
	Op    string
	State State
	// Err is what moved the connection out of Ready, when known.
	Err error
}

func (e *NotReadyError) Error() string {
	message := fmt.Sprintf("%s: %s (state %s)", e.Op, ErrNotReady, e.State)
	if e.Err != nil {
		message += ": " + e.Err.Error()
	}
	return message
}

func (e *NotReadyError) Unwrap() error { return e.Err }

func (e *NotReadyError) Is(target error) bool { return target == ErrNotReady }

// ReconnectExhaustedError is the terminal error after the reconnect
// policy ran out of attempts.
type ReconnectExhaustedError struct {
	Attempts int
	// Err is the last attempt's failure.
	Err error
}

func (e *ReconnectExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrReconnectExhausted, e.Attempts, e.Err)
}

func (e *ReconnectExhaustedError) Unwrap() error { return e.Err }

func (e *ReconnectExhaustedError) Is(target error) bool { return target == ErrReconnectExhausted }
