// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package frame

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// Shape identifies which of the two wire layouts a frame uses.
type Shape int

const (
	ShapeNormal Shape = iota
	ShapeLidar
)

func (s Shape) String() string {
	switch s {
	case ShapeNormal:
		return "normal"
	case ShapeLidar:
		return "lidar"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

const (
	// lidarMagicFirst and lidarMagicSecond are the two uint16 fields
	// that open every lidar frame.
	lidarMagicFirst  = 2
	lidarMagicSecond = 0

	normalHeaderOffset = 4
	lidarHeaderOffset  = 8
)

// ShapeOf classifies data by its first two uint16 fields. Only the exact
// pair (2, 0) selects the lidar layout; a normal frame whose header
// length happens to be 2 is still normal unless its reserved field is
// also zero. Buffers shorter than four bytes report ShapeNormal and fail
// later in Decode.
func ShapeOf(data []byte) Shape {
	if len(data) < 4 {
		return ShapeNormal
	}
	first := binary.LittleEndian.Uint16(data[0:2])
	second := binary.LittleEndian.Uint16(data[2:4])
	if first == lidarMagicFirst && second == lidarMagicSecond {
		return ShapeLidar
	}
	return ShapeNormal
}

// Decode splits data into its JSON header and binary payload, decodes
// the payload with decoder, and returns the header with the decoded
// payload stored at data.data.
//
// An empty payload leaves data.data as the peer sent it.
func Decode(data []byte, decoder PayloadDecoder) (map[string]any, error) {
	shape := ShapeOf(data)
	if len(data) < 4 {
		return nil, malformed(shape, fmt.Sprintf("%d bytes is shorter than the 4-byte discriminator", len(data)), nil)
	}

	var headerStart, headerLength int
	switch shape {
	case ShapeLidar:
		if len(data) < lidarHeaderOffset {
			return nil, malformed(shape, "missing 32-bit header length", nil)
		}
		headerStart = lidarHeaderOffset
		length := binary.LittleEndian.Uint32(data[4:8])
		if uint64(length) > uint64(len(data)-headerStart) {
			return nil, malformed(shape, fmt.Sprintf("header length %d exceeds %d available bytes", length, len(data)-headerStart), nil)
		}
		headerLength = int(length)
	default:
		headerStart = normalHeaderOffset
		headerLength = int(binary.LittleEndian.Uint16(data[0:2]))
		if headerLength > len(data)-headerStart {
			return nil, malformed(shape, fmt.Sprintf("header length %d exceeds %d available bytes", headerLength, len(data)-headerStart), nil)
		}
	}

	headerBytes := data[headerStart : headerStart+headerLength]
	payload := data[headerStart+headerLength:]

	var header map[string]any
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, malformed(shape, "header is not valid JSON", err)
	}
	inner, ok := header["data"].(map[string]any)
	if !ok {
		return nil, malformed(shape, `header has no "data" object`, nil)
	}

	if len(payload) == 0 {
		return header, nil
	}

	decoded, err := decoder.Decode(payload, inner)
	if err != nil {
		return nil, malformed(shape, fmt.Sprintf("%s payload decoder", decoder.Name()), err)
	}
	inner["data"] = decoded
	return header, nil
}

// EncodeNormal builds a normal-shaped frame. The reserved field is
// written as 0xFFFF so that a two-byte header can never collide with
// the lidar discriminator.
func EncodeNormal(header any, payload []byte) ([]byte, error) {
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("encoding frame header: %w", err)
	}
	if len(headerBytes) > math.MaxUint16 {
		return nil, fmt.Errorf("frame header is %d bytes, normal frames allow %d", len(headerBytes), math.MaxUint16)
	}

	frame := make([]byte, normalHeaderOffset, normalHeaderOffset+len(headerBytes)+len(payload))
	binary.LittleEndian.PutUint16(frame[0:2], uint16(len(headerBytes)))
	binary.LittleEndian.PutUint16(frame[2:4], math.MaxUint16)
	frame = append(frame, headerBytes...)
	return append(frame, payload...), nil
}

// EncodeLidar builds a lidar-shaped frame.
func EncodeLidar(header any, payload []byte) ([]byte, error) {
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("encoding frame header: %w", err)
	}
	if uint64(len(headerBytes)) > math.MaxUint32 {
		return nil, fmt.Errorf("frame header is %d bytes, lidar frames allow %d", len(headerBytes), uint64(math.MaxUint32))
	}

	frame := make([]byte, lidarHeaderOffset, lidarHeaderOffset+len(headerBytes)+len(payload))
	binary.LittleEndian.PutUint16(frame[0:2], lidarMagicFirst)
	binary.LittleEndian.PutUint16(frame[2:4], lidarMagicSecond)
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(headerBytes)))
	frame = append(frame, headerBytes...)
	return append(frame, payload...), nil
}
