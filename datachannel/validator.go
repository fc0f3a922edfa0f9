// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package datachannel

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// ValidationState is the handshake progress of one channel.
type ValidationState int

const (
	Unvalidated ValidationState = iota
	Validating
	Validated
	ValidationFailed
)

func (s ValidationState) String() string {
	switch s {
	case Unvalidated:
		return "unvalidated"
	case Validating:
		return "validating"
	case Validated:
		return "validated"
	case ValidationFailed:
		return "failed"
	default:
		return fmt.Sprintf("validation(%d)", int(s))
	}
}

// validationAccepted is the peer's confirmation that our answer matched.
const validationAccepted = "Validation Ok."

// validationKeyPrefix salts the challenge before hashing.
const validationKeyPrefix = "UnitreeGo2_"

// Validator runs the post-open challenge/response. The peer sends a
// validation message carrying a key; we answer with
// base64(md5(prefix+key)); the peer confirms with "Validation Ok.".
// An "err" message while validating is a rejection.
type Validator struct {
	sender      Sender
	logger      *slog.Logger
	onValidated func()

	mu    sync.Mutex
	state ValidationState
	err   error
	done  chan struct{}
}

// NewValidator builds a Validator. onValidated runs once, outside the
// validator's lock, when the handshake succeeds.
func NewValidator(sender Sender, onValidated func(), logger *slog.Logger) *Validator {
	return &Validator{
		sender:      sender,
		logger:      logger,
		onValidated: onValidated,
		done:        make(chan struct{}),
	}
}

// Begin moves Unvalidated to Validating. Called when the transport
// reports the channel open.
func (v *Validator) Begin() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == Unvalidated {
		v.state = Validating
		v.logger.Debug("data channel validation started")
	}
}

// HandleValidation processes a validation message from the peer.
func (v *Validator) HandleValidation(message Message) {
	v.mu.Lock()
	if v.state == Unvalidated {
		v.state = Validating
	}
	if v.state != Validating {
		state := v.state
		v.mu.Unlock()
		v.logger.Debug("ignoring validation message", "state", state.String())
		return
	}
	v.mu.Unlock()

	challenge := message.DataString()
	if challenge == validationAccepted {
		v.succeed()
		return
	}

	reply, err := json.Marshal(Message{Type: TypeValidation, Data: AnswerChallenge(challenge)})
	if err == nil {
		err = v.sender.SendText(string(reply))
	}
	if err != nil {
		v.Fail(&ValidationFailedError{Reason: "answering challenge", Err: err})
		return
	}
	v.logger.Debug("answered validation challenge")
}

// HandleErr processes an "err" message. While validating it fails the
// handshake with the peer's reason; otherwise it is only logged.
func (v *Validator) HandleErr(message Message) {
	reason := describePeerError(message)

	v.mu.Lock()
	validating := v.state == Validating
	v.mu.Unlock()

	if !validating {
		v.logger.Warn("peer reported error", "reason", reason)
		return
	}
	v.Fail(&ValidationFailedError{Reason: reason})
}

// Fail ends validation with err unless it already finished.
func (v *Validator) Fail(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == Validated || v.state == ValidationFailed {
		return
	}
	v.state = ValidationFailed
	v.err = err
	close(v.done)
	v.logger.Warn("data channel validation failed", "error", err)
}

func (v *Validator) succeed() {
	v.mu.Lock()
	if v.state != Validating {
		v.mu.Unlock()
		return
	}
	v.state = Validated
	close(v.done)
	v.mu.Unlock()

	v.logger.Info("data channel validated")
	if v.onValidated != nil {
		v.onValidated()
	}
}

// Done is closed when validation succeeds or fails.
func (v *Validator) Done() <-chan struct{} { return v.done }

// Err returns the failure after Done, or nil on success.
func (v *Validator) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// State returns the current handshake state.
func (v *Validator) State() ValidationState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// AnswerChallenge computes the reply to a validation key.
func AnswerChallenge(key string) string {
	sum := md5.Sum([]byte(validationKeyPrefix + key))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// describePeerError extracts a readable reason from an error message.
func describePeerError(message Message) string {
	switch info := message.Info.(type) {
	case string:
		if info != "" {
			return info
		}
	case nil:
	default:
		if encoded, err := json.Marshal(info); err == nil {
			return string(encoded)
		}
	}
	if text := message.DataString(); text != "" {
		return text
	}
	if message.Data != nil {
		if encoded, err := json.Marshal(message.Data); err == nil {
			return string(encoded)
		}
	}
	return "peer sent " + message.Type + " without details"
}
