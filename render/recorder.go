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

// passFrame is one pass's command buffer for one frame slot, with the
// visible-node list it was last recorded against.
type passFrame struct {
	cmd  *vgr.CommandBuffer
	last []int
}

// passRec holds a pass's per-slot recording state.
type passRec struct {
	pass   *rgraph.Pass
	frames []*passFrame
}

func newPassRec(dev *vgr.Device, pass *rgraph.Pass, nframes int) (*passRec, error) {
	pr := &passRec{pass: pass, frames: make([]*passFrame, nframes)}
	for i := range pr.frames {
		cmd, err := vgr.NewCommandBuffer(dev)
		if err != nil {
			pr.release()
			return nil, err
		}
		pr.frames[i] = &passFrame{cmd: cmd}
	}
	return pr, nil
}

func (pr *passRec) release() {
	for _, pf := range pr.frames {
		if pf != nil {
			pf.cmd.Release()
		}
	}
	pr.frames = nil
}

// markStale forces every slot of this pass to re-record.
func (pr *passRec) markStale() {
	for _, pf := range pr.frames {
		pf.cmd.SetStale()
	}
}

// forceRecord invalidates every pass's command buffers in every slot.
// Setting forced alone only covers the current slot; the other slots'
// buffers would resubmit contents referencing state that just changed.
func (eng *Engine) forceRecord() {
	eng.forced = true
	for _, pr := range eng.passes {
		pr.markStale()
	}
}

// recordPass records or reuses one pass's command buffer for the
// frame slot, returning whether a recording happened. The re-record
// invariant: record iff never recorded, the visible set changed
// membership or order, or a forced re-record is pending.
func (eng *Engine) recordPass(pr *passRec, slot, imageIdx int, visible []int, forced bool) (bool, error) {
	pf := pr.frames[slot]
	if !needsRecord(!pf.cmd.NeedsRecord(), pf.last, visible, forced) {
		// resubmitted unchanged; fence wait happens at submit
		return false, nil
	}
	plan := passPlan(pr.pass.Type, eng.quadDraw(pr.pass), visible, eng.states, eng.slaveCount)

	if err := pf.cmd.WaitReset(); err != nil {
		return false, err
	}
	if err := pf.cmd.Begin(); err != nil {
		return false, err
	}
	cmd := pf.cmd.Handle
	if pr.pass.Order == 0 {
		eng.timing.Reset(cmd, slot)
	}
	eng.timing.Begin(cmd, slot, pr.pass.Order)
	if pr.pass.Config.BlitInputs {
		eng.encodeBlits(cmd, pr.pass, imageIdx)
	}
	pr.pass.Begin(cmd, imageIdx)
	eng.encodeDraws(cmd, pr.pass, plan, slot)
	pr.pass.End(cmd)
	eng.timing.End(cmd, slot, pr.pass.Order)
	if err := pf.cmd.End(); err != nil {
		return false, err
	}
	pf.last = slices.Clone(visible)
	return true, nil
}

// encodeDraws issues the planned draws into an open pass.
func (eng *Engine) encodeDraws(cmd vk.CommandBuffer, pass *rgraph.Pass, plan []drawCmd, slot int) {
	inputSet := eng.passInputs[pass.Name]
	var bound vk.Pipeline
	for i := range plan {
		dc := &plan[i]
		pl, err := eng.pipelines.Get(dc.Key, pass.Handle, pass.NColors())
		if err != nil {
			slog.Error("render: pipeline variant failed, skipping node",
				"pass", pass.Name, "node", dc.Node, "err", err)
			continue
		}
		if pl.Handle != bound {
			vk.CmdBindPipeline(cmd, vk.PipelineBindPointGraphics, pl.Handle)
			bound = pl.Handle
		}
		props := max(dc.PropsSlot, 0)
		dynOffs := []uint32{
			eng.globals.DynOffset(slot, 0),
			eng.objects.DynOffset(slot, dc.ObjSlot),
			eng.props.DynOffset(slot, props),
		}
		sets := []vk.DescriptorSet{eng.uniformSet, dc.TexSet, inputSet}
		vk.CmdBindDescriptorSets(cmd, vk.PipelineBindPointGraphics, eng.pipelines.Layout,
			0, uint32(len(sets)), sets, uint32(len(dynOffs)), dynOffs)

		vk.CmdBindVertexBuffers(cmd, 0, 1,
			[]vk.Buffer{eng.geom.Vertex.Handle}, []vk.DeviceSize{vk.DeviceSize(dc.VertexOffset)})
		if dc.Instances != nil {
			// each frame slot reads its own bank of the instance buffer
			vk.CmdBindVertexBuffers(cmd, 1, 1,
				[]vk.Buffer{dc.Instances.Handle}, []vk.DeviceSize{vk.DeviceSize(slot * dc.InstanceBank)})
		}
		if dc.Indexed {
			vk.CmdBindIndexBuffer(cmd, eng.geom.Index.Handle,
				vk.DeviceSize(dc.IndexOffset), vk.IndexTypeUint32)
			vk.CmdDrawIndexed(cmd, uint32(dc.IndexCount), uint32(dc.InstanceCount), 0, 0, 0)
		} else {
			vk.CmdDraw(cmd, uint32(dc.VertexCount), uint32(dc.InstanceCount), 0, 0)
		}
	}
}

// encodeBlits copies a blit-input pass's inputs into its output
// before the pass proper runs.
func (eng *Engine) encodeBlits(cmd vk.CommandBuffer, pass *rgraph.Pass, imageIdx int) {
	for _, in := range pass.Inputs {
		src := in.Texture
		if pass.Terminal {
			vgr.CmdBlit(cmd, src.Image, src.Layout, src.Width, src.Height,
				eng.sw.Images[imageIdx], vk.ImageLayoutUndefined, eng.sw.Width, eng.sw.Height)
			continue
		}
		dst := pass.Target.Attachment("")
		if dst == nil {
			slog.Warn("render: blit pass has no output attachment", "pass", pass.Name)
			continue
		}
		vgr.CmdBlit(cmd, src.Image, src.Layout, src.Width, src.Height,
			dst.Image, dst.Layout, dst.Width, dst.Height)
	}
}
