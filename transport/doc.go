// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport negotiates the WebRTC peer connection to a robot.
//
// A [Negotiator] builds a pion PeerConnection with a "data" data
// channel (plus optional receive-only video and audio transceivers),
// gathers all ICE candidates, and exchanges one offer/answer round-trip
// through a [Signaler]. Three [Method]s are supported: the cloud relay
// ([MethodRemote]), a robot joined to the local network
// ([MethodLocalSTA]), and the robot's own access point
// ([MethodLocalAP]).
//
// Negotiation ends only when the PeerConnection reports connected. It
// is bounded by a timeout; on any failure the half-built connection is
// closed before the error is returned. Failures are typed:
// [*PeerBusyError] when the robot answers "reject" because another
// client holds it, [*NoAnswerError] when no answer arrives at all, and
// [*NegotiationTimeoutError] when the deadline passes.
//
// The result is a [Session]. Transport activity (data channel open,
// messages, close, connection/ICE/signaling state changes, remote
// media tracks) is delivered in order on [Session.Events]; nothing is
// dropped silently.
//
// [HTTPSignaler] posts offers to the robot's local HTTP endpoint.
// [CloudSignaler] talks to the vendor's cloud for relay offers and
// TURN credentials. [MemorySignaler] answers with a caller-supplied
// function for tests.
package transport
