// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package frame

import (
	"fmt"
	"sort"
)

// PayloadDecoder turns a frame's binary payload into a value. hint is
// the header's data object; decoders read compression and geometry
// metadata from it (origin_len, resolution, origin).
type PayloadDecoder interface {
	Name() string
	Decode(payload []byte, hint map[string]any) (any, error)
}

// Decoder modes accepted by NewPayloadDecoder.
const (
	ModeLibVoxel = "libvoxel"
	ModeNative   = "native"
)

var decoderModes = map[string]func() PayloadDecoder{
	ModeLibVoxel: func() PayloadDecoder { return voxelGridDecoder{} },
	ModeNative:   func() PayloadDecoder { return pointCloudDecoder{} },
}

// NewPayloadDecoder returns the decoder for mode. The mode is fixed when
// a channel is built; an unknown mode is rejected here rather than on
// the first frame.
func NewPayloadDecoder(mode string) (PayloadDecoder, error) {
	constructor, ok := decoderModes[mode]
	if !ok {
		return nil, fmt.Errorf("unknown payload decoder mode %q (valid: %v)", mode, Modes())
	}
	return constructor(), nil
}

// Modes lists the accepted decoder modes in sorted order.
func Modes() []string {
	modes := make([]string, 0, len(decoderModes))
	for mode := range decoderModes {
		modes = append(modes, mode)
	}
	sort.Strings(modes)
	return modes
}

// Codec binds a payload decoder to Decode.
type Codec struct {
	decoder PayloadDecoder
}

// NewCodec builds a Codec for the given decoder mode.
func NewCodec(mode string) (*Codec, error) {
	decoder, err := NewPayloadDecoder(mode)
	if err != nil {
		return nil, err
	}
	return &Codec{decoder: decoder}, nil
}

// NewCodecWithDecoder builds a Codec around a caller-supplied decoder.
func NewCodecWithDecoder(decoder PayloadDecoder) *Codec {
	return &Codec{decoder: decoder}
}

// Decode decodes one frame.
func (c *Codec) Decode(data []byte) (map[string]any, error) {
	return Decode(data, c.decoder)
}

// DecoderName reports the bound decoder.
func (c *Codec) DecoderName() string { return c.decoder.Name() }
