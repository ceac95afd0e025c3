// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	"slices"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-engine/halcyon/rgraph"
	"github.com/halcyon-engine/halcyon/vgr"
)

func readyState(node int) *NodeState {
	return &NodeState{
		Node:        node,
		State:       Ready,
		Resolved:    true,
		VertexCount: 24,
		IndexCount:  36,
		Index:       vgr.SubBuffer{Buffer: &vgr.Buffer{}, Size: 36 * 4},
		Vertex:      vgr.SubBuffer{Buffer: &vgr.Buffer{}, Size: 24 * 32},
		ObjSlot:     node,
		PropsSlot:   -1,
	}
}

func noSlaves(int) int { return 0 }

func TestRecordInvariant(t *testing.T) {
	type pf struct {
		recorded bool
		last     []int
	}
	var frame pf
	recordings := 0
	step := func(visible []int, forced bool) {
		if needsRecord(frame.recorded, frame.last, visible, forced) {
			recordings++
			frame.recorded = true
			frame.last = slices.Clone(visible)
		}
	}

	visible := []int{0, 1, 2}
	// an unchanged scene over N frames records exactly once
	const n = 10
	for i := 0; i < n; i++ {
		step(visible, false)
	}
	assert.Equal(t, 1, recordings)

	// membership change re-records
	step([]int{0, 2}, false)
	assert.Equal(t, 2, recordings)

	// order change re-records
	step([]int{2, 0}, false)
	assert.Equal(t, 3, recordings)

	// forced re-record with an identical set
	step([]int{2, 0}, true)
	assert.Equal(t, 4, recordings)

	step([]int{2, 0}, false)
	assert.Equal(t, 4, recordings)
}

func TestBuildPlanSkips(t *testing.T) {
	states := map[int]*NodeState{
		0: readyState(0),
		1: {Node: 1, State: Initializing},
		2: func() *NodeState { st := readyState(2); st.Resolved = false; return st }(),
	}
	plan := buildPlan([]int{0, 1, 2, 7}, states, noSlaves)
	require.Len(t, plan, 1)
	assert.Equal(t, 0, plan[0].Node)
	assert.True(t, plan[0].Indexed)
	assert.Equal(t, 1, plan[0].InstanceCount)
}

func TestBuildPlanInstancing(t *testing.T) {
	const k = 7
	master := readyState(3)
	master.Instances = &vgr.Buffer{}
	states := map[int]*NodeState{3: master}

	// slaves never appear in the visible list; the master draws once
	// with their count
	plan := buildPlan([]int{3}, states, func(m int) int {
		require.Equal(t, 3, m)
		return k
	})
	require.Len(t, plan, 1)
	assert.Equal(t, k, plan[0].InstanceCount)
	assert.True(t, plan[0].Key.Instanced)

	// a master with no live slaves draws nothing
	plan = buildPlan([]int{3}, states, noSlaves)
	assert.Empty(t, plan)
}

func TestBuildPlanInstanceBank(t *testing.T) {
	const k = 3
	master := readyState(5)
	master.Instances = &vgr.Buffer{}
	master.InstanceBank = k * vgr.InstanceStride
	states := map[int]*NodeState{5: master}

	plan := buildPlan([]int{5}, states, func(int) int { return k })
	require.Len(t, plan, 1)
	// the draw binds the instance buffer at slot*InstanceBank, so the
	// bank size must travel with the plan
	assert.Equal(t, k*vgr.InstanceStride, plan[0].InstanceBank)
}

func TestPassPlanTypes(t *testing.T) {
	states := map[int]*NodeState{0: readyState(0)}
	quad := drawCmd{Node: -1, Indexed: true, IndexCount: 6, InstanceCount: 1, PropsSlot: -1}

	// a post-process pass draws only the fullscreen quad, whatever the
	// visible list holds
	plan := passPlan(rgraph.PostQuad, quad, []int{0}, states, noSlaves)
	require.Len(t, plan, 1)
	assert.Equal(t, -1, plan[0].Node)
	assert.Equal(t, 6, plan[0].IndexCount)

	// geometry and lights passes draw their visible-node lists
	for _, kind := range []rgraph.PassType{rgraph.Geometry, rgraph.Lights} {
		plan := passPlan(kind, quad, []int{0}, states, noSlaves)
		require.Len(t, plan, 1)
		assert.Equal(t, 0, plan[0].Node)
	}
}

func TestBuildPlanOrder(t *testing.T) {
	states := map[int]*NodeState{}
	for i := 0; i < 4; i++ {
		states[i] = readyState(i)
	}
	plan := buildPlan([]int{2, 0, 3, 1}, states, noSlaves)
	require.Len(t, plan, 4)
	got := make([]int, len(plan))
	for i, dc := range plan {
		got[i] = dc.Node
	}
	// the plan preserves the visible list's order
	assert.Equal(t, []int{2, 0, 3, 1}, got)
}

func TestCanSkipFrame(t *testing.T) {
	assert.True(t, canSkipFrame(true, false, false, false))
	assert.False(t, canSkipFrame(false, false, false, false), "not warmed up")
	assert.False(t, canSkipFrame(true, true, false, false), "dirty uniforms")
	assert.False(t, canSkipFrame(true, false, true, false), "forced re-record")
	assert.False(t, canSkipFrame(true, false, false, true), "pending capture")
}

func TestUniformBlockLayout(t *testing.T) {
	// std140 requires 16-byte multiples for both blocks
	assert.Zero(t, unsafe.Sizeof(GlobalBlock{})%16)
	assert.Zero(t, unsafe.Sizeof(ObjectBlock{})%16)
}

func TestPropsBytes(t *testing.T) {
	out := propsBytes([]float32{1, 2})
	require.Len(t, out, PropsBlockSize)
	fl := unsafe.Slice((*float32)(unsafe.Pointer(&out[0])), PropsBlockSize/4)
	assert.Equal(t, float32(1), fl[0])
	assert.Equal(t, float32(2), fl[1])
	assert.Equal(t, float32(0), fl[2])

	// longer than the block truncates rather than overflowing
	long := make([]float32, 64)
	assert.Len(t, propsBytes(long), PropsBlockSize)

	assert.Len(t, propsBytes(nil), PropsBlockSize)
}
