// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds small helpers shared by go2link tests.
//
// [RequireReceive] and [RequireClosed] bound a channel wait with a real
// wall-clock timeout so a broken test fails instead of hanging.
// [RequireEventually] polls a condition under the same kind of bound,
// for loopback tests where real pion peers set the pace. Unit tests
// drive time through lib/clock's fake instead.
//
// [RecordingSender] captures text messages a component writes so
// tests can assert on the wire traffic.
package testutil
