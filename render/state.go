// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	"fmt"
	"log/slog"

	vk "github.com/goki/vulkan"

	"github.com/halcyon-engine/halcyon/scene"
	"github.com/halcyon-engine/halcyon/vgr"
)

// InitState is a node's GPU initialization state.
type InitState int32 //enums:enum

const (
	Uninitialized InitState = iota
	Initializing
	Ready
)

// NodeState is the GPU-side state of one scene node: geometry pool
// allocations, uniform ring slots, the texture descriptor set, and
// the pipeline variant key. Owned and touched only by the render
// thread.
type NodeState struct {
	// Node is the arena index this state belongs to.
	Node int

	State InitState

	Layout vgr.VertexLayout

	// Vertex and Index are geometry pool sub-allocations; Index is
	// invalid for non-indexed meshes.
	Vertex vgr.SubBuffer
	Index  vgr.SubBuffer

	VertexCount int
	IndexCount  int

	// ObjSlot is the node's slot in the object uniform ring.
	ObjSlot int

	// PropsSlot is the slot in the custom-props ring, -1 when the
	// material declares no per-instance properties.
	PropsSlot int

	// TexSet is the material texture descriptor set; Resolved is set
	// once it has been allocated and written.
	TexSet   vk.DescriptorSet
	Resolved bool

	// Key is the cached pipeline variant key.
	Key vgr.PipelineKey

	// Instances is the per-instance matrix buffer, instance masters
	// only. It holds one bank of InstanceBank bytes per frame slot so
	// an upload never touches a bank an in-flight frame still reads.
	// InstanceCount tracks the uploaded count.
	Instances     *vgr.Buffer
	InstanceBank  int
	InstanceCount int

	// instStale marks frame banks whose instance data is out of date.
	instStale [MaxFramesInFlight]bool
}

// initNode brings a node's GPU state to Ready. Idempotent: a Ready
// state returns immediately. A node already Initializing (re-entered
// after a mid-init resource error) restarts cleanly.
func (eng *Engine) initNode(nd *scene.Node, st *NodeState) error {
	if st.State == Ready {
		return nil
	}
	st.State = Initializing

	// a re-entered init (graph rebuild reset, or retry after a mid-init
	// failure) frees the previous geometry ranges and descriptor set
	// before allocating again; the caller has already drained the GPU
	if st.Vertex.IsValid() {
		eng.geom.Free(st.Vertex)
		st.Vertex = vgr.SubBuffer{}
	}
	if st.Index.IsValid() {
		eng.geom.Free(st.Index)
		st.Index = vgr.SubBuffer{}
	}
	if st.Resolved {
		eng.descPool.Free(st.TexSet)
		st.TexSet = vk.NullDescriptorSet
		st.Resolved = false
	}

	nd.Lock()
	mesh := nd.Mesh
	mat := nd.Material
	nd.Unlock()
	if mesh == nil {
		return fmt.Errorf("render: node %s has no mesh", nd.Name)
	}
	if err := mesh.Validate(); err != nil {
		return err
	}

	// geometry
	st.Layout = mesh.Layout()
	st.VertexCount = mesh.NumVerts()
	st.IndexCount = len(mesh.Indexes)
	vdata := mesh.Interleave()
	vb, err := eng.geom.AllocVertex(len(vdata))
	if err != nil {
		return err
	}
	st.Vertex = vb
	if err := eng.geom.Upload(vb, vdata); err != nil {
		return err
	}
	if mesh.HasIndexes() {
		idata := mesh.IndexBytes()
		ib, err := eng.geom.AllocIndex(len(idata))
		if err != nil {
			return err
		}
		st.Index = ib
		if err := eng.geom.Upload(ib, idata); err != nil {
			return err
		}
	}

	// uniform ring slots survive releaseNode, so a re-init after a
	// content change keeps the node's slots
	if st.ObjSlot < 0 {
		slot, err := eng.objects.Alloc()
		if err != nil {
			return err
		}
		st.ObjSlot = slot
	}
	if len(mat.InstanceProps) > 0 && st.PropsSlot < 0 {
		ps, err := eng.props.Alloc()
		if err != nil {
			return err
		}
		st.PropsSlot = ps
	}

	// textures per semantic slot, default for unset
	txs := make([]*vgr.Texture, scene.TextureSlotsN)
	for slot := scene.TextureSlot(0); slot < scene.TextureSlotsN; slot++ {
		img := mat.Texture(slot)
		if img == nil {
			txs[slot] = eng.defaultTx
			continue
		}
		tx, err := eng.textureFor(nd.Name, slot, img)
		if err != nil {
			slog.Error("render: texture upload failed, using default",
				"node", nd.Name, "slot", slot, "err", err)
			txs[slot] = eng.defaultTx
			continue
		}
		txs[slot] = tx
	}
	set, err := eng.descPool.Alloc(eng.texLayout)
	if err != nil {
		return err
	}
	st.TexSet = set
	vgr.WriteTextures(eng.dev, set, 0, txs)
	st.Resolved = true

	// pipeline variant from material fixed-function state
	st.Key = vgr.PipelineKey{
		Shader:   eng.shaderIDFor(nd, &mat),
		Layout:   st.Layout,
		Topology: mesh.Topology,
		Blend:    mat.Blend,
		Cull:     mat.Cull,
		Depth:    mat.Depth,
	}

	st.State = Ready
	return nil
}

// shaderIDFor resolves the node's custom shader set, falling back to
// the pass default when missing or failed to load.
func (eng *Engine) shaderIDFor(nd *scene.Node, mat *scene.Material) int {
	pass := eng.passFor(nd)
	def := 0
	if pass != nil {
		if ss, ok := eng.shaders.ValueByKeyTry(pass.Config.Shader); ok {
			def = ss.ID
		}
	}
	if mat.Shader == "" {
		return def
	}
	ss, err := eng.loadShader(mat.Shader)
	if err != nil {
		slog.Error("render: custom shader failed, using pass default",
			"node", nd.Name, "shader", mat.Shader, "err", err)
		return def
	}
	return ss.ID
}

// releaseNode frees a node's GPU allocations after a fence drain.
func (eng *Engine) releaseNode(st *NodeState) {
	if st.Vertex.IsValid() {
		eng.geom.Free(st.Vertex)
		st.Vertex = vgr.SubBuffer{}
	}
	if st.Index.IsValid() {
		eng.geom.Free(st.Index)
		st.Index = vgr.SubBuffer{}
	}
	if st.Resolved {
		eng.descPool.Free(st.TexSet)
		st.TexSet = vk.NullDescriptorSet
		st.Resolved = false
	}
	if st.Instances != nil {
		st.Instances.Release()
		st.Instances = nil
	}
	st.InstanceBank = 0
	st.InstanceCount = 0
	for fr := range st.instStale {
		st.instStale[fr] = false
	}
	st.State = Uninitialized
}
