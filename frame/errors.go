// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package frame

import (
	"errors"
	"fmt"
)

// ErrMalformedFrame matches every *MalformedFrameError via errors.Is.
var ErrMalformedFrame = errors.New("malformed frame")

// MalformedFrameError reports a frame that cannot be decoded. Shape is
// the shape the discriminator selected before decoding failed.
type MalformedFrameError struct {
	Shape  Shape
	Reason string
	Err    error
}

func (e *MalformedFrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed %s frame: %s: %v", e.Shape, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed %s frame: %s", e.Shape, e.Reason)
}

func (e *MalformedFrameError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrMalformedFrame) true for any MalformedFrameError.
func (e *MalformedFrameError) Is(target error) bool { return target == ErrMalformedFrame }

func malformed(shape Shape, reason string, err error) error {
	return &MalformedFrameError{Shape: shape, Reason: reason, Err: err}
}
