// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

// Package capture records decoded data channel messages to a journal
// and reads them back.
//
// A journal is a zstd stream wrapping a CBOR sequence (RFC 8742): one
// [Record] per inbound message, in arrival order, each stamped with
// the time it was recorded. Binary frames are journaled after
// decoding, so a lidar message replays with its point cloud as a
// plain map rather than the original compressed payload.
//
// The zstd frame is only complete after [Writer.Close]. A journal cut
// short by a crash reads back up to the last complete block and then
// reports an error from [Reader.Next].
package capture
