// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scene

import (
	"sync"

	"cogentcore.org/core/math32"
)

// Dirty is a bit set of pending node changes. Transform changes only
// refresh uniforms; the others force the node's pass to re-record.
type Dirty int64 //enums:bitflag

const (
	DirtyTransform Dirty = 1 << iota
	DirtyGeometry
	DirtyMaterial
	DirtyTexture
)

// NeedsRecord reports whether the set forces a command re-record.
func (dt Dirty) NeedsRecord() bool {
	return dt&(DirtyGeometry|DirtyMaterial|DirtyTexture) != 0
}

// NoMaster marks a node that draws on its own.
const NoMaster = -1

// Node is one renderable scene element. Its mutex guards material and
// geometry mutation from other threads against concurrent recording
// reads on the render thread; use the Set methods or hold Lock across
// compound edits.
//
// An instance slave sets Master to its master's arena index and draws
// only through the master's instance buffer, never on its own. The
// link is a plain index, so nodes can be removed in any order; a
// dangling link simply stops the slave from drawing.
type Node struct {
	Name string

	// Pass names the render pass this node draws in.
	Pass string

	// Mesh is nil for instance slaves.
	Mesh *Mesh

	Material  Material
	Transform math32.Matrix4

	// Hidden excludes the node from the visible set.
	Hidden bool

	// Master is the arena index of this node's instance master,
	// or NoMaster.
	Master int

	mu    sync.Mutex
	dirty Dirty
	index int
}

// NewNode returns a visible node with an identity transform and the
// default material.
func NewNode(name string) *Node {
	nd := &Node{Name: name, Material: NewMaterial(), Master: NoMaster, index: -1}
	nd.Transform.SetIdentity()
	return nd
}

// Index returns the node's stable arena index, -1 before Add.
func (nd *Node) Index() int { return nd.index }

// IsSlave reports whether the node draws through an instance master.
func (nd *Node) IsSlave() bool { return nd.Master != NoMaster }

// Lock acquires the node mutex for a compound edit or a recording
// read.
func (nd *Node) Lock() { nd.mu.Lock() }

// Unlock releases the node mutex.
func (nd *Node) Unlock() { nd.mu.Unlock() }

// SetMesh replaces the geometry and marks it dirty.
func (nd *Node) SetMesh(ms *Mesh) {
	nd.mu.Lock()
	defer nd.mu.Unlock()
	nd.Mesh = ms
	nd.dirty |= DirtyGeometry
}

// SetMaterial replaces the material and marks it dirty.
func (nd *Node) SetMaterial(mt Material) {
	nd.mu.Lock()
	defer nd.mu.Unlock()
	nd.Material = mt
	nd.dirty |= DirtyMaterial | DirtyTexture
}

// SetTransform replaces the world transform.
func (nd *Node) SetTransform(mt math32.Matrix4) {
	nd.mu.Lock()
	defer nd.mu.Unlock()
	nd.Transform = mt
	nd.dirty |= DirtyTransform
}

// MarkDirty adds flags to the pending set.
func (nd *Node) MarkDirty(dt Dirty) {
	nd.mu.Lock()
	defer nd.mu.Unlock()
	nd.dirty |= dt
}

// TakeDirty returns and clears the pending change set.
func (nd *Node) TakeDirty() Dirty {
	nd.mu.Lock()
	defer nd.mu.Unlock()
	dt := nd.dirty
	nd.dirty = 0
	return dt
}

// PeekDirty returns the pending change set without clearing.
func (nd *Node) PeekDirty() Dirty {
	nd.mu.Lock()
	defer nd.mu.Unlock()
	return nd.dirty
}
