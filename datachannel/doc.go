// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

// Package datachannel implements the application protocol that runs on
// the robot's "data" WebRTC data channel.
//
// A [Channel] is fed transport events (open, message, close) by its
// owner and splits work between four parts:
//
//   - the frame codec (package frame) turns binary messages into
//     headers; text messages are plain JSON;
//   - the [Router] matches replies to outstanding [Router.Publish]
//     calls by correlation id and fans messages out to topic
//     [Subscriptions];
//   - the [Validator] answers the peer's post-open challenge. Until it
//     succeeds the channel is open but not validated, and application
//     traffic is refused with [ErrNotValidated];
//   - the [Monitor] starts after validation, sends heartbeats every
//     [HeartbeatInterval] and polls the network status every
//     [NetworkStatusInterval]. It reports repeated send failures
//     upward and never reconnects on its own.
//
// Inbound messages are dispatched in arrival order on the caller's
// goroutine. Each Channel belongs to exactly one transport session;
// [Channel.Close] stops the monitor and rejects pending requests with a
// [*ConnectionClosedError].
package datachannel
