// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rgraph

import (
	"fmt"
	"image"

	vk "github.com/goki/vulkan"

	"github.com/halcyon-engine/halcyon/vgr"
)

// Target is a built offscreen render target: its attachment textures
// and the one framebuffer shared by every pass writing it.
type Target struct {
	Name   string
	Width  int
	Height int

	// Attachments are the color attachments in config order, by key.
	Attachments []*vgr.Texture
	Keys        []string

	// Depth is non-nil when the config lists a depth-format attachment.
	Depth *vgr.Texture

	Framebuffer vk.Framebuffer
}

// Attachment returns the texture for a semantic key, or the first
// color attachment when key is empty. nil when unknown.
func (tg *Target) Attachment(key string) *vgr.Texture {
	if key == "" {
		if len(tg.Attachments) > 0 {
			return tg.Attachments[0]
		}
		return nil
	}
	if tg.Depth != nil && key == "depth" {
		return tg.Depth
	}
	for i, k := range tg.Keys {
		if k == key {
			return tg.Attachments[i]
		}
	}
	return nil
}

// Input is one resolved pass input: a texture sampled (or blitted)
// by the consuming pass.
type Input struct {
	Name    string
	Texture *vgr.Texture
}

// Pass is one built pass: its Vulkan render pass, framebuffers, and
// resolved inputs. The terminal pass holds one framebuffer per
// swapchain image; offscreen passes borrow their target's.
type Pass struct {
	Name   string
	Type   PassType
	Config *PassConfig

	// Order is this pass's position in the submission chain.
	Order int

	// Terminal is set on the pass presenting to the window.
	Terminal bool

	// Target is nil for the terminal pass.
	Target *Target

	// Inputs are resolved input textures in config order.
	Inputs []Input

	Handle vk.RenderPass

	// Framebuffers has one entry for offscreen passes and one per
	// swapchain image for the terminal pass.
	Framebuffers []vk.Framebuffer

	// Width and Height are the output pixel size.
	Width  int
	Height int

	device *vgr.Device
}

// NColors returns how many color attachments the pass renders to.
func (ps *Pass) NColors() int {
	if ps.Target != nil {
		return len(ps.Target.Attachments)
	}
	return 1
}

// ViewportPx returns the pass viewport in pixels: the config's
// fractional rectangle applied to the output size.
func (ps *Pass) ViewportPx() image.Rectangle {
	vp := ps.Config.Viewport
	if vp[2] == 0 && vp[3] == 0 {
		vp = [4]float32{0, 0, 1, 1}
	}
	x := int(vp[0] * float32(ps.Width))
	y := int(vp[1] * float32(ps.Height))
	w := int(vp[2] * float32(ps.Width))
	h := int(vp[3] * float32(ps.Height))
	return image.Rect(x, y, x+w, y+h)
}

// clearValues builds the clear list matching the attachment order.
func (ps *Pass) clearValues() []vk.ClearValue {
	cc := ps.Config.ClearColor
	cd := ps.Config.ClearDepth
	if cd == 0 {
		cd = 1
	}
	var vals []vk.ClearValue
	ncolor := 1
	hasDepth := ps.Terminal
	if ps.Target != nil {
		ncolor = len(ps.Target.Attachments)
		hasDepth = ps.Target.Depth != nil
	}
	for i := 0; i < ncolor; i++ {
		var cv vk.ClearValue
		cv.SetColor([]float32{cc[0], cc[1], cc[2], cc[3]})
		vals = append(vals, cv)
	}
	if hasDepth {
		var dv vk.ClearValue
		dv.SetDepthStencil(cd, 0)
		vals = append(vals, dv)
	}
	return vals
}

// Begin starts the pass on cmd, selecting the framebuffer for the
// given swapchain image on the terminal pass, and sets the dynamic
// viewport and scissor to the pass viewport.
func (ps *Pass) Begin(cmd vk.CommandBuffer, imageIdx int) {
	fb := ps.Framebuffers[0]
	if ps.Terminal && imageIdx < len(ps.Framebuffers) {
		fb = ps.Framebuffers[imageIdx]
	}
	clears := ps.clearValues()
	if !ps.Config.Clear {
		clears = nil
	}
	vk.CmdBeginRenderPass(cmd, &vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  ps.Handle,
		Framebuffer: fb,
		RenderArea: vk.Rect2D{
			Extent: vk.Extent2D{Width: uint32(ps.Width), Height: uint32(ps.Height)},
		},
		ClearValueCount: uint32(len(clears)),
		PClearValues:    clears,
	}, vk.SubpassContentsInline)
	vp := ps.ViewportPx()
	vk.CmdSetViewport(cmd, 0, 1, []vk.Viewport{{
		X: float32(vp.Min.X), Y: float32(vp.Min.Y),
		Width: float32(vp.Dx()), Height: float32(vp.Dy()),
		MinDepth: 0, MaxDepth: 1,
	}})
	vk.CmdSetScissor(cmd, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: int32(vp.Min.X), Y: int32(vp.Min.Y)},
		Extent: vk.Extent2D{Width: uint32(vp.Dx()), Height: uint32(vp.Dy())},
	}})
}

// End finishes the pass on cmd.
func (ps *Pass) End(cmd vk.CommandBuffer) {
	vk.CmdEndRenderPass(cmd)
}

// makeRenderPass builds the Vulkan render pass for the given color
// formats and optional depth. Offscreen passes end in shader-read
// layout so downstream passes can sample them; the terminal pass
// ends in present layout.
func makeRenderPass(dev *vgr.Device, colors []vk.Format, hasDepth bool, depthFormat vk.Format, clear, terminal bool) (vk.RenderPass, error) {
	loadOp := vk.AttachmentLoadOpDontCare
	if clear {
		loadOp = vk.AttachmentLoadOpClear
	}
	var atts []vk.AttachmentDescription
	var colorRefs []vk.AttachmentReference
	for i, ft := range colors {
		final := vk.ImageLayoutShaderReadOnlyOptimal
		if terminal {
			final = vk.ImageLayoutPresentSrc
		}
		atts = append(atts, vk.AttachmentDescription{
			Format:         ft,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         loadOp,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    final,
		})
		colorRefs = append(colorRefs, vk.AttachmentReference{
			Attachment: uint32(i),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
	}
	sub := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorRefs)),
		PColorAttachments:    colorRefs,
	}
	if hasDepth {
		atts = append(atts, vk.AttachmentDescription{
			Format:         depthFormat,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         loadOp,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		sub.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: uint32(len(atts) - 1),
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
	}
	dep := vk.SubpassDependency{
		SrcSubpass: vk.SubpassExternal,
		DstSubpass: 0,
		SrcStageMask: vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit |
			vk.PipelineStageEarlyFragmentTestsBit),
		DstStageMask: vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit |
			vk.PipelineStageEarlyFragmentTestsBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit |
			vk.AccessDepthStencilAttachmentWriteBit),
	}
	var hnd vk.RenderPass
	ret := vk.CreateRenderPass(dev.Device, &vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(atts)),
		PAttachments:    atts,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{sub},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dep},
	}, nil, &hnd)
	if ret != vk.Success {
		return vk.NullRenderPass, fmt.Errorf("rgraph: render pass create failed: %v", vk.Error(ret))
	}
	return hnd, nil
}

func makeFramebuffer(dev *vgr.Device, pass vk.RenderPass, views []vk.ImageView, w, h int) (vk.Framebuffer, error) {
	var fb vk.Framebuffer
	ret := vk.CreateFramebuffer(dev.Device, &vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      pass,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           uint32(w),
		Height:          uint32(h),
		Layers:          1,
	}, nil, &fb)
	if ret != vk.Success {
		return vk.NullFramebuffer, fmt.Errorf("rgraph: framebuffer create failed: %v", vk.Error(ret))
	}
	return fb, nil
}

// release destroys the pass's own Vulkan objects. Offscreen
// framebuffers belong to the shared Target, released by the graph.
func (ps *Pass) release() {
	if ps.Terminal {
		for _, fb := range ps.Framebuffers {
			vk.DestroyFramebuffer(ps.device.Device, fb, nil)
		}
	}
	ps.Framebuffers = nil
	if ps.Handle != vk.NullRenderPass {
		vk.DestroyRenderPass(ps.device.Device, ps.Handle, nil)
		ps.Handle = vk.NullRenderPass
	}
}

// release destroys the target's framebuffer and attachment textures.
func (tg *Target) release(dev *vgr.Device) {
	if tg.Framebuffer != vk.NullFramebuffer {
		vk.DestroyFramebuffer(dev.Device, tg.Framebuffer, nil)
		tg.Framebuffer = vk.NullFramebuffer
	}
	for _, tx := range tg.Attachments {
		tx.Release()
	}
	tg.Attachments = nil
	if tg.Depth != nil {
		tg.Depth.Release()
		tg.Depth = nil
	}
}
