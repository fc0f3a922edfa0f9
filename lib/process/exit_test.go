// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

func TestReport(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantText string
	}{
		{"plain", errors.New("boom"), 1, "error: boom\n"},
		{"exit code", &ExitError{Code: 3, Err: errors.New("robot busy")}, 3, "error: robot busy\n"},
		{"wrapped exit code", fmt.Errorf("connect: %w", &ExitError{Code: 4, Err: errors.New("closed")}), 4, "error: connect: closed\n"},
		{"silent exit", &ExitError{Code: 2}, 2, ""},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var buffer bytes.Buffer
			if code := report(&buffer, test.err); code != test.wantCode {
				t.Errorf("code = %d, want %d", code, test.wantCode)
			}
			if buffer.String() != test.wantText {
				t.Errorf("output = %q, want %q", buffer.String(), test.wantText)
			}
		})
	}
}
