// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework behind the go2link
// binary: a tree of [Command] values dispatched by name, pflag-based
// flag parsing with typo suggestions, and the shared logger setup.
package cli
