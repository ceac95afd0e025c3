// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scene

import (
	"testing"

	"cogentcore.org/core/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-engine/halcyon/vgr"
)

func TestArenaStableIndices(t *testing.T) {
	ar := NewArena()
	a := ar.Add(NewNode("a"))
	b := ar.Add(NewNode("b"))
	c := ar.Add(NewNode("c"))
	assert.Equal(t, 3, ar.Len())
	assert.Equal(t, "b", ar.Node(b).Name)

	ar.Remove(b)
	assert.Equal(t, 2, ar.Len())
	assert.Nil(t, ar.Node(b))
	// surviving indices are untouched
	assert.Equal(t, "a", ar.Node(a).Name)
	assert.Equal(t, "c", ar.Node(c).Name)

	// freed slot is reused
	d := ar.Add(NewNode("d"))
	assert.Equal(t, b, d)
	assert.Equal(t, d, ar.Node(d).Index())

	ar.Remove(b)
	ar.Remove(99) // out of range is a no-op
	assert.Equal(t, 2, ar.Len())
}

func TestArenaVisible(t *testing.T) {
	ar := NewArena()
	mk := func(name, pass string, hidden bool) int {
		nd := NewNode(name)
		nd.Pass = pass
		nd.Hidden = hidden
		nd.Mesh = NewBox(1, 1, 1)
		return ar.Add(nd)
	}
	a := mk("a", "main", false)
	mk("b", "main", true)
	c := mk("c", "main", false)
	mk("d", "shadow", false)

	assert.Equal(t, []int{a, c}, ar.Visible("main"))

	ar.Node(c).Lock()
	ar.Node(c).Hidden = true
	ar.Node(c).Unlock()
	assert.Equal(t, []int{a}, ar.Visible("main"))
}

func TestArenaMasterSlaves(t *testing.T) {
	ar := NewArena()
	master := NewNode("master")
	master.Pass = "main"
	master.Mesh = NewBox(1, 1, 1)
	mi := ar.Add(master)

	const k = 5
	for i := 0; i < k; i++ {
		sl := NewNode("slave")
		sl.Pass = "main"
		sl.Master = mi
		ar.Add(sl)
	}
	// slaves never enter the direct-draw set
	assert.Equal(t, []int{mi}, ar.Visible("main"))
	assert.Len(t, ar.Slaves(mi), k)

	// removing the master leaves slaves dangling but harmless
	ar.Remove(mi)
	assert.Empty(t, ar.Visible("main"))
}

func TestNodeDirty(t *testing.T) {
	nd := NewNode("n")
	assert.Equal(t, Dirty(0), nd.PeekDirty())

	nd.SetTransform(*math32.Identity4())
	assert.False(t, nd.PeekDirty().NeedsRecord())

	nd.SetMesh(NewQuad())
	assert.True(t, nd.PeekDirty().NeedsRecord())

	dt := nd.TakeDirty()
	assert.True(t, dt.NeedsRecord())
	assert.Equal(t, Dirty(0), nd.PeekDirty())

	nd.SetMaterial(NewMaterial())
	assert.True(t, nd.PeekDirty().NeedsRecord())
}

func TestMeshLayoutAndInterleave(t *testing.T) {
	quad := NewQuad()
	require.NoError(t, quad.Validate())
	assert.Equal(t, vgr.VtxPosUV, quad.Layout())
	assert.Len(t, quad.Interleave(), 4*vgr.VtxPosUV.Stride())
	assert.Len(t, quad.IndexBytes(), 6*4)

	box := NewBox(2, 2, 2)
	require.NoError(t, box.Validate())
	assert.Equal(t, vgr.VtxPosNormUV, box.Layout())
	assert.Equal(t, 24, box.NumVerts())
	assert.Len(t, box.Indexes, 36)

	data := box.Interleave()
	require.Len(t, data, 24*vgr.VtxPosNormUV.Stride())
	// first vertex: position then normal then uv
	fl := floatView(data)
	assert.Equal(t, float32(-1), fl[0])
	assert.Equal(t, float32(-1), fl[1])
	assert.Equal(t, float32(1), fl[2])
	assert.Equal(t, float32(1), fl[5]) // +Z normal
	bad := &Mesh{Positions: box.Positions, Normals: box.Normals[:3]}
	assert.Error(t, bad.Validate())

	bad = &Mesh{Positions: quad.Positions, Indexes: []uint32{9}}
	assert.Error(t, bad.Validate())
}
