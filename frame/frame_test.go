// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// passthrough returns the payload untouched so tests can check the
// exact bytes the codec split off.
type passthrough struct{}

func (passthrough) Name() string { return "passthrough" }
func (passthrough) Decode(payload []byte, _ map[string]any) (any, error) {
	return append([]byte(nil), payload...), nil
}

func TestDecode_NormalRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		header  map[string]any
		payload []byte
	}{
		{
			name:    "small payload",
			header:  map[string]any{"type": "msg", "topic": "rt/utlidar/voxel_map", "data": map[string]any{"seq": float64(7)}},
			payload: []byte{0x01, 0x02, 0x03},
		},
		{
			name:    "binary payload with zero bytes",
			header:  map[string]any{"type": "msg", "topic": "rt/audio", "data": map[string]any{"codec": "pcm"}},
			payload: bytes.Repeat([]byte{0x00, 0xff}, 512),
		},
		{
			name:    "nested header fields",
			header:  map[string]any{"type": "res", "topic": "rt/api/sport/response", "data": map[string]any{"header": map[string]any{"identity": map[string]any{"id": "abc"}}}},
			payload: []byte("tail"),
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			encoded, err := EncodeNormal(test.header, test.payload)
			if err != nil {
				t.Fatalf("EncodeNormal: %v", err)
			}
			if shape := ShapeOf(encoded); shape != ShapeNormal {
				t.Fatalf("ShapeOf = %v, want normal", shape)
			}

			decoded, err := Decode(encoded, passthrough{})
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if decoded["type"] != test.header["type"] || decoded["topic"] != test.header["topic"] {
				t.Errorf("type/topic = %v/%v, want %v/%v", decoded["type"], decoded["topic"], test.header["type"], test.header["topic"])
			}
			inner := decoded["data"].(map[string]any)
			payload, ok := inner["data"].([]byte)
			if !ok {
				t.Fatalf("data.data is %T, want []byte", inner["data"])
			}
			if !bytes.Equal(payload, test.payload) {
				t.Errorf("payload = %x, want %x", payload, test.payload)
			}
			for key, want := range test.header["data"].(map[string]any) {
				if _, present := inner[key]; !present {
					t.Errorf("header field data.%s = missing, want %v", key, want)
				}
			}
		})
	}
}

func TestDecode_LidarRoundTrip(t *testing.T) {
	header := map[string]any{"type": "msg", "topic": "rt/utlidar/voxel_map_compressed", "data": map[string]any{"stamp": 1.5}}
	payload := []byte{9, 8, 7, 6, 5}

	encoded, err := EncodeLidar(header, payload)
	if err != nil {
		t.Fatalf("EncodeLidar: %v", err)
	}
	if !bytes.Equal(encoded[:4], []byte{0x02, 0x00, 0x00, 0x00}) {
		t.Fatalf("lidar prefix = %x, want 02000000", encoded[:4])
	}

	decoded, err := Decode(encoded, passthrough{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	inner := decoded["data"].(map[string]any)
	if inner["stamp"] != 1.5 {
		t.Errorf("data.stamp = %v, want 1.5", inner["stamp"])
	}
	if !bytes.Equal(inner["data"].([]byte), payload) {
		t.Errorf("payload = %x, want %x", inner["data"], payload)
	}
}

func TestShapeOf_Discriminator(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  Shape
	}{
		{"lidar magic", []byte{0x02, 0x00, 0x00, 0x00, 0xaa}, ShapeLidar},
		{"header length 2 with nonzero reserved field", []byte{0x02, 0x00, 0x01, 0x00, '{', '}'}, ShapeNormal},
		{"header length 2 with json in second field", []byte{0x02, 0x00, '{', '}'}, ShapeNormal},
		{"first field 3", []byte{0x03, 0x00, 0x00, 0x00}, ShapeNormal},
		{"big-endian 2 is not the magic", []byte{0x00, 0x02, 0x00, 0x00}, ShapeNormal},
		{"too short", []byte{0x02, 0x00}, ShapeNormal},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := ShapeOf(test.input); got != test.want {
				t.Errorf("ShapeOf(%x) = %v, want %v", test.input, got, test.want)
			}
		})
	}
}

func TestEncodeNormal_TwoByteHeaderStaysNormal(t *testing.T) {
	encoded, err := EncodeNormal(map[string]any{}, nil)
	if err != nil {
		t.Fatalf("EncodeNormal: %v", err)
	}
	if length := binary.LittleEndian.Uint16(encoded[0:2]); length != 2 {
		t.Fatalf("header length = %d, want 2", length)
	}
	if ShapeOf(encoded) != ShapeNormal {
		t.Fatal("two-byte header was classified as lidar")
	}
}

func TestDecode_Malformed(t *testing.T) {
	validLidar, err := EncodeLidar(map[string]any{"data": map[string]any{}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	truncatedLidar := append([]byte(nil), validLidar...)
	binary.LittleEndian.PutUint32(truncatedLidar[4:8], 1<<20)

	noData, _ := EncodeNormal(map[string]any{"type": "msg"}, nil)
	dataNotObject, _ := EncodeNormal(map[string]any{"type": "msg", "data": "string"}, nil)

	badJSON := []byte{0x03, 0x00, 0xff, 0xff, '{', 'x', '}'}

	tests := []struct {
		name  string
		input []byte
	}{
		{"empty", nil},
		{"three bytes", []byte{1, 0, 0}},
		{"lidar without length", []byte{0x02, 0x00, 0x00, 0x00, 0x01}},
		{"lidar header length past end", truncatedLidar},
		{"normal header length past end", []byte{0xff, 0x00, 0x00, 0x00, '{'}},
		{"invalid json", badJSON},
		{"missing data", noData},
		{"data not an object", dataNotObject},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Decode(test.input, passthrough{})
			if err == nil {
				t.Fatal("Decode succeeded, want error")
			}
			if !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("errors.Is(err, ErrMalformedFrame) = false for %v", err)
			}
			var frameErr *MalformedFrameError
			if !errors.As(err, &frameErr) {
				t.Errorf("error %T is not *MalformedFrameError", err)
			}
		})
	}
}

type failingDecoder struct{}

func (failingDecoder) Name() string { return "failing" }
func (failingDecoder) Decode([]byte, map[string]any) (any, error) {
	return nil, errors.New("corrupt payload")
}

func TestDecode_PayloadDecoderErrorIsMalformed(t *testing.T) {
	encoded, _ := EncodeNormal(map[string]any{"data": map[string]any{}}, []byte{1})
	_, err := Decode(encoded, failingDecoder{})
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("err = %v, want ErrMalformedFrame", err)
	}
}

func TestDecode_EmptyPayloadKeepsData(t *testing.T) {
	encoded, _ := EncodeNormal(map[string]any{"data": map[string]any{"data": "Validation Ok."}}, nil)
	decoded, err := Decode(encoded, failingDecoder{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := decoded["data"].(map[string]any)["data"]; got != "Validation Ok." {
		t.Errorf("data.data = %v, want untouched string", got)
	}
}
