// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds entrypoint helpers for go2link binaries: the
// raw stderr reporting that happens before the structured logger
// exists, or after main has given up on it.
package process
