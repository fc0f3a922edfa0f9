// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package frame

import (
	"fmt"
	"math/bits"

	"github.com/pierrec/lz4/v4"
)

// Voxel maps are LZ4 blocks that expand to an occupancy bitmap. Each
// z-layer is 0x800 bytes: 128 rows of 16 bytes, one bit per x cell,
// most significant bit first.
const (
	voxelLayerBytes = 0x800
	voxelRowBytes   = 0x10

	defaultResolution = 0.05

	// maxVoxelBytes caps origin_len so a corrupt header cannot make us
	// allocate gigabytes.
	maxVoxelBytes = 64 << 20

	// maxVoxelPoints caps occupied cells per frame. A small, highly
	// compressible bitmap can otherwise expand to billions of points.
	maxVoxelPoints = 1 << 22

	// maxGridLayers is the z range a VoxelGrid byte coordinate holds.
	maxGridLayers = 256
)

// Point is one occupied voxel in world coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// PointCloud is the native decoder's output.
type PointCloud struct {
	Resolution float64    `json:"resolution"`
	Origin     [3]float64 `json:"origin"`
	Points     []Point    `json:"points"`
}

// VoxelGrid is the libvoxel decoder's output: grid coordinates packed
// as x,y,z byte triples, the compact form renderers upload directly.
type VoxelGrid struct {
	Resolution float64    `json:"resolution"`
	Origin     [3]float64 `json:"origin"`
	PointCount int        `json:"point_count"`
	Positions  []uint8    `json:"positions"`
}

type pointCloudDecoder struct{}

func (pointCloudDecoder) Name() string { return ModeNative }

func (pointCloudDecoder) Decode(payload []byte, hint map[string]any) (any, error) {
	if _, compressed := hint["origin_len"]; !compressed {
		return payload, nil
	}
	bitmap, err := inflateVoxels(payload, hint)
	if err != nil {
		return nil, err
	}
	count, err := countVoxels(bitmap)
	if err != nil {
		return nil, err
	}
	resolution, origin, err := geometry(hint)
	if err != nil {
		return nil, err
	}

	cloud := PointCloud{Resolution: resolution, Origin: origin, Points: make([]Point, 0, count)}
	forEachVoxel(bitmap, func(x, y, z int) {
		cloud.Points = append(cloud.Points, Point{
			X: float64(x)*resolution + origin[0],
			Y: float64(y)*resolution + origin[1],
			Z: float64(z)*resolution + origin[2],
		})
	})
	return cloud, nil
}

type voxelGridDecoder struct{}

func (voxelGridDecoder) Name() string { return ModeLibVoxel }

func (voxelGridDecoder) Decode(payload []byte, hint map[string]any) (any, error) {
	if _, compressed := hint["origin_len"]; !compressed {
		return payload, nil
	}
	bitmap, err := inflateVoxels(payload, hint)
	if err != nil {
		return nil, err
	}
	if layers := (len(bitmap) + voxelLayerBytes - 1) / voxelLayerBytes; layers > maxGridLayers {
		return nil, fmt.Errorf("voxel map has %d z-layers, grid positions hold %d", layers, maxGridLayers)
	}
	count, err := countVoxels(bitmap)
	if err != nil {
		return nil, err
	}
	resolution, origin, err := geometry(hint)
	if err != nil {
		return nil, err
	}

	grid := VoxelGrid{Resolution: resolution, Origin: origin, Positions: make([]uint8, 0, 3*count)}
	forEachVoxel(bitmap, func(x, y, z int) {
		grid.Positions = append(grid.Positions, uint8(x), uint8(y), uint8(z))
		grid.PointCount++
	})
	return grid, nil
}

func inflateVoxels(payload []byte, hint map[string]any) ([]byte, error) {
	length, ok := number(hint["origin_len"])
	if !ok || length < 0 || length > maxVoxelBytes {
		return nil, fmt.Errorf("origin_len %v is not a usable size", hint["origin_len"])
	}
	bitmap := make([]byte, int(length))
	written, err := lz4.UncompressBlock(payload, bitmap)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if written != len(bitmap) {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, origin_len says %d", written, len(bitmap))
	}
	return bitmap, nil
}

// countVoxels returns the number of occupied cells, or an error past
// maxVoxelPoints.
func countVoxels(bitmap []byte) (int, error) {
	count := 0
	for _, value := range bitmap {
		count += bits.OnesCount8(value)
	}
	if count > maxVoxelPoints {
		return 0, fmt.Errorf("voxel map has %d occupied cells, limit is %d", count, maxVoxelPoints)
	}
	return count, nil
}

func forEachVoxel(bitmap []byte, visit func(x, y, z int)) {
	for index, value := range bitmap {
		if value == 0 {
			continue
		}
		z := index / voxelLayerBytes
		withinLayer := index % voxelLayerBytes
		y := withinLayer / voxelRowBytes
		xBase := (withinLayer % voxelRowBytes) * 8
		for bit := 0; bit < 8; bit++ {
			if value&(0x80>>bit) != 0 {
				visit(xBase+bit, y, z)
			}
		}
	}
}

func geometry(hint map[string]any) (float64, [3]float64, error) {
	var origin [3]float64
	resolution := defaultResolution
	if raw, present := hint["resolution"]; present {
		value, ok := number(raw)
		if !ok || value <= 0 {
			return 0, origin, fmt.Errorf("resolution %v is not a positive number", raw)
		}
		resolution = value
	}
	if raw, present := hint["origin"]; present {
		values, ok := raw.([]any)
		if !ok || len(values) != 3 {
			return 0, origin, fmt.Errorf("origin %v is not a 3-element array", raw)
		}
		for axis, component := range values {
			value, ok := number(component)
			if !ok {
				return 0, origin, fmt.Errorf("origin[%d] = %v is not a number", axis, component)
			}
			origin[axis] = value
		}
	}
	return resolution, origin, nil
}

// number accepts the numeric forms encoding/json produces for any.
func number(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	default:
		return 0, false
	}
}
