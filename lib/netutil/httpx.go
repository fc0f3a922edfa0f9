// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides bounded HTTP response reading for the
// signaling clients.
//
// Robot and cloud signaling responses are small JSON documents (an SDP
// answer is a few kilobytes). The helpers cap every read at
// MaxResponseSize so a misbehaving endpoint cannot exhaust memory.
package netutil

import (
	"encoding/json"
	"fmt"
	"io"
)

// MaxResponseSize bounds signaling response reads: 4 MB.
const MaxResponseSize int64 = 4 << 20

// ReadResponse reads a response body up to MaxResponseSize bytes.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// DecodeResponse reads a response body (up to MaxResponseSize bytes)
// and JSON-decodes it into v.
func DecodeResponse(body io.Reader, v any) error {
	data, err := ReadResponse(body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	return json.Unmarshal(data, v)
}

// ErrorBody reads an error response body for diagnostics. Read errors
// are ignored; a partial body is still useful in an error message.
func ErrorBody(body io.Reader) string {
	data, _ := ReadResponse(body)
	return string(data)
}
