// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

// Package credential supplies the account bearer token used for robot
// signaling. Token acquisition (logging in to the vendor account) is
// outside this module; a [Provider] only hands out a token that
// something else obtained.
//
// Two providers exist:
//
//   - [Static] returns a fixed token, typically from configuration.
//   - [File] re-reads a token file on every call so an external login
//     helper can rotate it without restarting the process. When the
//     token is a JWT, its exp claim is checked and an expired token is
//     refused with an [*ExpiredError] instead of being sent to a peer
//     that will reject it.
//
// The signature is not verified: the vendor cloud does that. The
// expiry check only avoids a pointless round-trip.
package credential
