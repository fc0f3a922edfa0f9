// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides go2link's CBOR encoding configuration.
//
// The robot speaks JSON on the data channel. CBOR is used only for
// what go2link writes to disk itself: the message journal in
// lib/capture. Encoding uses Core Deterministic Encoding (RFC 8949
// §4.2), so the same message always produces identical bytes.
//
// Decoding into an any-typed target yields map[string]any for maps,
// the same shape encoding/json produces, so a replayed message looks
// like the live one.
//
// Types that only live in the journal carry `cbor` tags. Types that
// are also JSON (frame.PointCloud, datachannel.Message) carry `json`
// tags only; fxamacker/cbor reads them as a fallback.
package codec
