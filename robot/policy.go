// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package robot

import "time"

// ReconnectPolicy bounds automatic reconnection after the transport is
// lost. The zero value disables it.
type ReconnectPolicy struct {
	// MaxAttempts is the number of negotiations tried before the
	// connection closes for good. Zero disables reconnection.
	MaxAttempts int

	// InitialBackoff is the delay before the first attempt. Each later
	// attempt doubles it, capped at MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultReconnectPolicy makes three attempts starting at one second.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// Enabled reports whether lost transports are renegotiated.
func (p ReconnectPolicy) Enabled() bool { return p.MaxAttempts > 0 }

// backoff returns the delay before attempt (1-based).
func (p ReconnectPolicy) backoff(attempt int) time.Duration {
	delay := p.InitialBackoff
	for range attempt - 1 {
		delay *= 2
		if p.MaxBackoff > 0 && delay >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && delay > p.MaxBackoff {
		return p.MaxBackoff
	}
	return delay
}
