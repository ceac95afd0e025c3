// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	"unsafe"

	"cogentcore.org/core/math32"
)

// GlobalBlock is the per-frame uniform block shared by every node:
// camera matrices plus scalar frame state. Flat float32 layout,
// std140 compatible, copied to the GPU byte for byte.
type GlobalBlock struct {
	View       math32.Matrix4
	Projection math32.Matrix4

	// CameraPos is the world-space camera position; W unused.
	CameraPos math32.Vector4

	// Time is seconds since engine start.
	Time float32

	// ViewportWidth and ViewportHeight are the terminal pass's
	// viewport in pixels.
	ViewportWidth  float32
	ViewportHeight float32

	pad0 float32
}

// ObjectBlock is the per-node uniform block, bound with a dynamic
// offset per node and frame slot.
type ObjectBlock struct {
	Model math32.Matrix4

	// Color is the material base color.
	Color math32.Vector4

	// Shininess and Emissive are the material scalars.
	Shininess float32
	Emissive  float32

	pad0 float32
	pad1 float32
}

// PropsBlockSize is the byte size of a node's custom per-instance
// property block; blocks shorter than this are zero padded.
const PropsBlockSize = 64

func blockBytes[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), int(unsafe.Sizeof(*v)))
}

// Bytes returns the block's raw bytes for a uniform ring write.
func (gb *GlobalBlock) Bytes() []byte { return blockBytes(gb) }

// Bytes returns the block's raw bytes for a uniform ring write.
func (ob *ObjectBlock) Bytes() []byte { return blockBytes(ob) }

// propsBytes pads custom per-instance properties to PropsBlockSize.
func propsBytes(props []float32) []byte {
	out := make([]byte, PropsBlockSize)
	n := min(len(props), PropsBlockSize/4)
	if n > 0 {
		copy(out, unsafe.Slice((*byte)(unsafe.Pointer(&props[0])), n*4))
	}
	return out
}
