// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

// go2link connects to a quadruped robot over WebRTC, subscribes to
// topics, and records or prints what the robot publishes.
package main

import (
	"os"

	"github.com/go2link/go2link/cmd/go2link/commands"
	"github.com/go2link/go2link/lib/process"
)

func main() {
	if err := commands.Root(os.Stdout).Execute(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}
