// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for go2link.
//
// Four package-level variables are injected at build time via
// -ldflags -X:
//
//	go build -ldflags "-X github.com/go2link/go2link/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// When GitCommit is not injected, the commit and dirty flag recorded
// by the Go toolchain's VCS stamping are used instead, so a plain
// `go install` still reports where the binary came from.
package version
