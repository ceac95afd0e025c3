// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPipelineKeyComparable(t *testing.T) {
	a := PipelineKey{Shader: 1, Layout: VtxPosNormUV, Topology: TriangleList, Blend: BlendAlpha, Cull: CullBack, Depth: DepthReadWrite}
	b := PipelineKey{Shader: 1, Layout: VtxPosNormUV, Topology: TriangleList, Blend: BlendAlpha, Cull: CullBack, Depth: DepthReadWrite}
	c := a
	c.Topology = LineStrip

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	seen := map[PipelineKey]int{a: 1}
	seen[b]++
	seen[c]++
	assert.Equal(t, 2, seen[a])
	assert.Equal(t, 1, seen[c])
}

func TestVertexLayoutStrides(t *testing.T) {
	assert.Equal(t, 32, VtxPosNormUV.Stride())
	assert.Equal(t, 48, VtxPosNormUVColor.Stride())
	assert.Equal(t, 20, VtxPosUV.Stride())
	for vl, vd := range vtxDescs {
		var end uint32
		for _, at := range vd.attrs {
			assert.GreaterOrEqual(t, at.offset, end, "layout %v attrs out of order", vl)
			end = at.offset
		}
		assert.Less(t, end, vd.stride)
	}
}

func TestFormatNames(t *testing.T) {
	for ft, name := range formatNames {
		got, ok := FormatByName(name)
		assert.True(t, ok)
		assert.Equal(t, ft, got)
	}
	_, ok := FormatByName("r5g6b5")
	assert.False(t, ok)
	assert.True(t, FormatDepth32.IsDepth())
	assert.False(t, FormatBGRA8.IsDepth())
	assert.Equal(t, 8, FormatRGBA16F.Bytes())
	assert.Equal(t, 4, FormatBGRA8.Bytes())
}
