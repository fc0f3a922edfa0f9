// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the go2link command tree.
package commands

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/go2link/go2link/cmd/go2link/cli"
	"github.com/go2link/go2link/datachannel"
)

// Root returns the go2link command tree. Command output goes to stdout;
// logs and help go to stderr.
func Root(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:        "go2link",
		Description: "go2link talks to a quadruped robot over its WebRTC data channel.",
		Subcommands: []*cli.Command{
			connectCommand(stdout, connectDeps{}),
			replayCommand(stdout),
			versionCommand(stdout),
		},
	}
}

// messageLine is one printed message.
type messageLine struct {
	Time  string `json:"time"`
	Type  string `json:"type"`
	Topic string `json:"topic,omitempty"`
	ID    string `json:"id,omitempty"`
	Data  any    `json:"data,omitempty"`
	Info  any    `json:"info,omitempty"`
}

// messagePrinter writes messages as JSON lines. Handlers call it from
// the dispatch goroutine while the command goroutine may also print.
type messagePrinter struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newMessagePrinter(w io.Writer) *messagePrinter {
	return &messagePrinter{encoder: json.NewEncoder(w)}
}

func (p *messagePrinter) print(at time.Time, message datachannel.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(messageLine{
		Time:  at.UTC().Format(time.RFC3339Nano),
		Type:  message.Type,
		Topic: message.Topic,
		ID:    message.ID,
		Data:  message.Data,
		Info:  message.Info,
	})
}
