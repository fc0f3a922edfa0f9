// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

// Package frame decodes the binary messages the robot sends over its
// data channel.
//
// Two shapes share the channel, told apart by the first four bytes read
// as two little-endian uint16 fields:
//
//	normal: [u16 header_len][u16 reserved][header_len bytes JSON][payload]
//	lidar:  [u16 2][u16 0][u32 header_len][header_len bytes JSON][payload]
//
// The JSON header is small and always carries a "data" object. The
// trailing payload is often a large compressed voxel map; it is decoded
// by a [PayloadDecoder] chosen once per channel ("libvoxel" or
// "native") and the result replaces header.data.data. Keeping the bulk
// payload outside the JSON avoids a text round-trip of sensor data.
//
// [Decode] is pure: no I/O and no state beyond the injected decoder.
// Errors are always a [*MalformedFrameError]; the caller drops the one
// frame and keeps the channel.
package frame
