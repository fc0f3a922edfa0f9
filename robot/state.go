// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package robot

import "fmt"

// State is a Connection's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateValidating
	StateReady
	StateDegraded
	StateReconnecting
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateValidating:
		return "validating"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// connectable reports whether Connect may start from s.
func (s State) connectable() bool {
	return s == StateIdle || s == StateClosed || s == StateFailed
}

// StateChange is one transition reported to listeners.
type StateChange struct {
	From State
	To   State
	// Err is the cause for transitions into Degraded, Reconnecting,
	// Closed, and Failed. Nil for a requested Disconnect.
	Err error
}

// Listener observes state changes. Listeners run on the goroutine that
// caused the transition, one change at a time and in transition order.
// They must not block; a listener may call back into the Connection.
type Listener func(StateChange)
