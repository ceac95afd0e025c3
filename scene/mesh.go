// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package scene holds the renderable node arena consumed by the
// render engine: meshes, materials, and nodes with stable indices.
package scene

import (
	"fmt"

	"cogentcore.org/core/math32"

	"github.com/halcyon-engine/halcyon/vgr"
)

// Mesh is the geometry streams of a node. Positions are required;
// normals, texture coordinates, and colors are optional and determine
// the vertex layout variant the node renders with.
type Mesh struct {
	Positions []math32.Vector3
	Normals   []math32.Vector3
	TexCoords []math32.Vector2
	Colors    []math32.Vector4
	Indexes   []uint32

	// Topology is the primitive topology; TriangleList when zero.
	Topology vgr.Topology
}

// NumVerts returns the vertex count.
func (ms *Mesh) NumVerts() int { return len(ms.Positions) }

// HasIndexes reports whether the mesh draws indexed.
func (ms *Mesh) HasIndexes() bool { return len(ms.Indexes) > 0 }

// Layout picks the vertex layout variant from which streams are
// present.
func (ms *Mesh) Layout() vgr.VertexLayout {
	switch {
	case len(ms.Colors) > 0:
		return vgr.VtxPosNormUVColor
	case len(ms.Normals) > 0:
		return vgr.VtxPosNormUV
	default:
		return vgr.VtxPosUV
	}
}

// Validate checks the optional streams match the vertex count.
func (ms *Mesh) Validate() error {
	n := ms.NumVerts()
	if n == 0 {
		return fmt.Errorf("scene.Mesh: no positions")
	}
	if len(ms.Normals) > 0 && len(ms.Normals) != n {
		return fmt.Errorf("scene.Mesh: %d normals for %d verts", len(ms.Normals), n)
	}
	if len(ms.TexCoords) > 0 && len(ms.TexCoords) != n {
		return fmt.Errorf("scene.Mesh: %d texcoords for %d verts", len(ms.TexCoords), n)
	}
	if len(ms.Colors) > 0 && len(ms.Colors) != n {
		return fmt.Errorf("scene.Mesh: %d colors for %d verts", len(ms.Colors), n)
	}
	for _, ix := range ms.Indexes {
		if int(ix) >= n {
			return fmt.Errorf("scene.Mesh: index %d out of range %d", ix, n)
		}
	}
	return nil
}

// Interleave packs the streams into the mesh's vertex layout,
// ready for upload to a geometry pool.
func (ms *Mesh) Interleave() []byte {
	vl := ms.Layout()
	n := ms.NumVerts()
	out := make([]byte, n*vl.Stride())
	fl := floatView(out)
	fpv := vl.Stride() / 4
	for i := 0; i < n; i++ {
		at := i * fpv
		p := ms.Positions[i]
		fl[at+0], fl[at+1], fl[at+2] = p.X, p.Y, p.Z
		at += 3
		if vl != vgr.VtxPosUV {
			var nm math32.Vector3
			if i < len(ms.Normals) {
				nm = ms.Normals[i]
			}
			fl[at+0], fl[at+1], fl[at+2] = nm.X, nm.Y, nm.Z
			at += 3
		}
		var tc math32.Vector2
		if i < len(ms.TexCoords) {
			tc = ms.TexCoords[i]
		}
		fl[at+0], fl[at+1] = tc.X, tc.Y
		at += 2
		if vl == vgr.VtxPosNormUVColor {
			cl := ms.Colors[i]
			fl[at+0], fl[at+1], fl[at+2], fl[at+3] = cl.X, cl.Y, cl.Z, cl.W
		}
	}
	return out
}

// IndexBytes returns the index stream as bytes for upload.
func (ms *Mesh) IndexBytes() []byte {
	if len(ms.Indexes) == 0 {
		return nil
	}
	out := make([]byte, len(ms.Indexes)*4)
	iv := uint32View(out)
	copy(iv, ms.Indexes)
	return out
}

// NewQuad returns a unit XY quad for post-process passes.
func NewQuad() *Mesh {
	return &Mesh{
		Positions: []math32.Vector3{
			{X: -1, Y: -1}, {X: 1, Y: -1}, {X: 1, Y: 1}, {X: -1, Y: 1},
		},
		TexCoords: []math32.Vector2{
			{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1},
		},
		Indexes: []uint32{0, 1, 2, 0, 2, 3},
	}
}

// NewBox returns an axis-aligned box with per-face normals.
func NewBox(sx, sy, sz float32) *Mesh {
	hx, hy, hz := sx/2, sy/2, sz/2
	type face struct {
		n math32.Vector3
		v [4]math32.Vector3
	}
	faces := []face{
		{math32.Vec3(0, 0, 1), [4]math32.Vector3{{X: -hx, Y: -hy, Z: hz}, {X: hx, Y: -hy, Z: hz}, {X: hx, Y: hy, Z: hz}, {X: -hx, Y: hy, Z: hz}}},
		{math32.Vec3(0, 0, -1), [4]math32.Vector3{{X: hx, Y: -hy, Z: -hz}, {X: -hx, Y: -hy, Z: -hz}, {X: -hx, Y: hy, Z: -hz}, {X: hx, Y: hy, Z: -hz}}},
		{math32.Vec3(1, 0, 0), [4]math32.Vector3{{X: hx, Y: -hy, Z: hz}, {X: hx, Y: -hy, Z: -hz}, {X: hx, Y: hy, Z: -hz}, {X: hx, Y: hy, Z: hz}}},
		{math32.Vec3(-1, 0, 0), [4]math32.Vector3{{X: -hx, Y: -hy, Z: -hz}, {X: -hx, Y: -hy, Z: hz}, {X: -hx, Y: hy, Z: hz}, {X: -hx, Y: hy, Z: -hz}}},
		{math32.Vec3(0, 1, 0), [4]math32.Vector3{{X: -hx, Y: hy, Z: hz}, {X: hx, Y: hy, Z: hz}, {X: hx, Y: hy, Z: -hz}, {X: -hx, Y: hy, Z: -hz}}},
		{math32.Vec3(0, -1, 0), [4]math32.Vector3{{X: -hx, Y: -hy, Z: -hz}, {X: hx, Y: -hy, Z: -hz}, {X: hx, Y: -hy, Z: hz}, {X: -hx, Y: -hy, Z: hz}}},
	}
	uv := [4]math32.Vector2{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}
	ms := &Mesh{}
	for _, fc := range faces {
		base := uint32(len(ms.Positions))
		for i := 0; i < 4; i++ {
			ms.Positions = append(ms.Positions, fc.v[i])
			ms.Normals = append(ms.Normals, fc.n)
			ms.TexCoords = append(ms.TexCoords, uv[i])
		}
		ms.Indexes = append(ms.Indexes, base, base+1, base+2, base, base+2, base+3)
	}
	return ms
}
