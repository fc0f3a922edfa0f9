// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

// Package robot owns the lifecycle of one link to a robot.
//
// A [Connection] drives the transport negotiator to obtain a session,
// builds a [datachannel.Channel] over it, waits for the validation
// handshake, and watches the transport afterwards. Its progression is
// explicit:
//
//	Idle --Connect--> Connecting --negotiated--> Open --channel open--> Validating
//	Validating --validated--> Ready
//	Validating --timeout or rejection--> Degraded
//	Connecting --negotiation failed--> Failed
//	Ready/Degraded --transport lost--> Reconnecting (policy allows) or Closed
//	Reconnecting --attempt succeeded--> Open
//	Reconnecting --attempts exhausted--> Closed (ReconnectExhaustedError)
//	any --Disconnect--> Closed
//
// Application traffic ([Connection.Publish] and friends) is accepted
// only in [StateReady]; in any other state it fails with a
// [NotReadyError] naming the state. [StateDegraded] keeps the transport
// up so media can still flow even though commands cannot.
//
// Topic handlers registered with [Connection.Subscribe] outlive
// reconnects: every data channel the Connection builds shares one
// subscription registry.
//
// Every timer (validation timeout, stall watchdog, reconnect backoff)
// runs on the injected [clock.Clock].
package robot
