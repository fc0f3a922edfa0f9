// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"encoding/json"
	"sync"
)

// RecordingSender records every text message sent through it. Set Err
// to make sends fail. Safe for concurrent use.
type RecordingSender struct {
	mu   sync.Mutex
	sent []string
	err  error
	// notify receives each message after it is recorded, if non-nil.
	notify chan string
}

// NewRecordingSender returns a sender whose Sent channel buffers up to
// capacity messages.
func NewRecordingSender(capacity int) *RecordingSender {
	return &RecordingSender{notify: make(chan string, capacity)}
}

// SendText records text, or returns the configured error.
func (s *RecordingSender) SendText(text string) error {
	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return err
	}
	s.sent = append(s.sent, text)
	s.mu.Unlock()

	if s.notify != nil {
		select {
		case s.notify <- text:
		default:
		}
	}
	return nil
}

// SetErr makes later sends fail with err; nil restores success.
func (s *RecordingSender) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Sent returns a channel receiving each successful send.
func (s *RecordingSender) Sent() <-chan string { return s.notify }

// Messages returns a copy of everything sent so far.
func (s *RecordingSender) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

// Decoded returns every sent message parsed as a JSON object. Messages
// that are not objects are skipped.
func (s *RecordingSender) Decoded() []map[string]any {
	var decoded []map[string]any
	for _, text := range s.Messages() {
		var object map[string]any
		if json.Unmarshal([]byte(text), &object) == nil {
			decoded = append(decoded, object)
		}
	}
	return decoded
}

// OfType returns the decoded messages whose "type" is messageType.
func (s *RecordingSender) OfType(messageType string) []map[string]any {
	var matched []map[string]any
	for _, object := range s.Decoded() {
		if object["type"] == messageType {
			matched = append(matched, object)
		}
	}
	return matched
}
