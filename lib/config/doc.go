// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for go2link.
//
// Configuration is loaded from a single file named by either the
// GO2LINK_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no file search. Values missing from the
// file keep their [Default].
//
// Durations are YAML strings ("30s", "500ms"). Variable expansion is
// performed on path fields after loading: ${HOME} and ${VAR:-default}
// patterns are expanded. No environment variable overrides a value.
//
// Key exports:
//
//   - [Config] -- robot identity, negotiation, validation, reconnect,
//     decoder, credentials, logging, and capture settings
//   - [Default] -- every field's default
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Config.Validate] -- checks the loaded file
package config
