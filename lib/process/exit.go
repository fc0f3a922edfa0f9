// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ExitError carries a specific exit code out of run().
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// Fatal writes "error: err" to stderr and exits. The exit code is 1
// unless err wraps an *ExitError.
func Fatal(err error) {
	os.Exit(report(os.Stderr, err))
}

// report writes err and returns the exit code Fatal uses.
func report(w io.Writer, err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
		}
		return exitErr.Code
	}
	fmt.Fprintf(w, "error: %v\n", err)
	return 1
}
