// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	"log/slog"
	"slices"

	vk "github.com/goki/vulkan"

	"github.com/halcyon-engine/halcyon/rgraph"
	"github.com/halcyon-engine/halcyon/vgr"
)

// drawCmd is one planned draw: everything encoding needs, resolved
// ahead of command recording so the plan can be built and inspected
// without a device.
type drawCmd struct {
	Node int
	Key  vgr.PipelineKey

	Indexed       bool
	VertexCount   int
	IndexCount    int
	InstanceCount int

	VertexOffset int
	IndexOffset  int

	// ObjSlot and PropsSlot select the dynamic uniform offsets.
	ObjSlot   int
	PropsSlot int

	TexSet    vk.DescriptorSet
	Instances *vgr.Buffer

	// InstanceBank is the byte size of one frame slot's bank in
	// Instances; the bind offset is slot*InstanceBank.
	InstanceBank int
}

// passPlan builds the draw list for one pass according to its type.
// A post-process pass draws only the shared fullscreen quad, sampling
// its inputs through the pass input set; geometry and lights passes
// draw their visible-node lists (lights additively via their
// materials' blend state).
func passPlan(kind rgraph.PassType, quad drawCmd, visible []int, states map[int]*NodeState, slaveCount func(master int) int) []drawCmd {
	if kind == rgraph.PostQuad {
		return []drawCmd{quad}
	}
	return buildPlan(visible, states, slaveCount)
}

// buildPlan turns a pass's visible-node list into the ordered draw
// list. Nodes that are not Ready or lost their descriptor set are
// skipped with an error log, not a frame failure. Instance masters
// draw once with their slave count; the plan carries zero draws for
// slaves because they never enter the visible list.
func buildPlan(visible []int, states map[int]*NodeState, slaveCount func(master int) int) []drawCmd {
	plan := make([]drawCmd, 0, len(visible))
	for _, idx := range visible {
		st, ok := states[idx]
		if !ok || st.State != Ready {
			continue
		}
		if !st.Resolved {
			slog.Error("render: node descriptor set unresolved, skipping", "node", idx)
			continue
		}
		dc := drawCmd{
			Node:          idx,
			Key:           st.Key,
			Indexed:       st.Index.IsValid(),
			VertexCount:   st.VertexCount,
			IndexCount:    st.IndexCount,
			InstanceCount: 1,
			VertexOffset:  st.Vertex.Offset,
			IndexOffset:   st.Index.Offset,
			ObjSlot:       st.ObjSlot,
			PropsSlot:     st.PropsSlot,
			TexSet:        st.TexSet,
		}
		if st.Instances != nil {
			k := slaveCount(idx)
			if k == 0 {
				// a master with no live slaves draws nothing
				continue
			}
			dc.InstanceCount = k
			dc.Instances = st.Instances
			dc.InstanceBank = st.InstanceBank
			dc.Key.Instanced = true
		}
		plan = append(plan, dc)
	}
	return plan
}

// needsRecord applies the re-record invariant for one pass's command
// buffer: record when it never has been, when the visible-node list
// changed membership or order, or when a re-record was forced by a
// node content change.
func needsRecord(recorded bool, last, visible []int, forced bool) bool {
	if !recorded || forced {
		return true
	}
	return !slices.Equal(last, visible)
}

// canSkipFrame is the push-mode test: once warmed up, a frame with no
// dirty uniforms, no forced re-record, and no pending capture is
// skipped entirely.
func canSkipFrame(warm, dirtyUniforms, forced, capturePending bool) bool {
	return warm && !dirtyUniforms && !forced && !capturePending
}
