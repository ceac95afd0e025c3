// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rgraph

import (
	"fmt"
	"log/slog"

	vk "github.com/goki/vulkan"

	"github.com/halcyon-engine/halcyon/vgr"
)

// Graph is the built render-pass graph: passes in submission order
// with their targets, render passes, and framebuffers.
type Graph struct {
	Config *Config

	// Passes is the topologically ordered pass list; the terminal
	// pass is last.
	Passes []*Pass

	// Targets are the built offscreen targets by name.
	Targets map[string]*Target

	// Terminal is the pass presenting to the window.
	Terminal *Pass

	dev       *vgr.Device
	sw        *vgr.Swapchain
	width     int
	height    int
	depth     *vgr.Texture // window-sized depth for the terminal pass
	resizeFns []func(width, height int)
}

// BuildGraph validates and orders the config, rejecting cycles before
// any GPU object exists, then builds targets, render passes, and
// framebuffers against the swapchain at the given window size.
func BuildGraph(dev *vgr.Device, cfg *Config, sw *vgr.Swapchain, width, height int) (*Graph, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	order, err := orderPasses(cfg.Passes)
	if err != nil {
		return nil, err
	}
	gr := &Graph{Config: cfg, dev: dev, sw: sw, width: width, height: height}
	if err := gr.build(order); err != nil {
		gr.Release()
		return nil, err
	}
	return gr, nil
}

// NPasses returns the submission chain length.
func (gr *Graph) NPasses() int { return len(gr.Passes) }

// OnResize registers a callback invoked after every Rebuild, used by
// the engine to reinitialize per-node pipelines.
func (gr *Graph) OnResize(fn func(width, height int)) {
	gr.resizeFns = append(gr.resizeFns, fn)
}

// Rebuild tears down every size-dependent object and rebuilds the
// graph at the new window size, then runs the resize callbacks.
// The caller must have drained in-flight frames.
func (gr *Graph) Rebuild(width, height int) error {
	order := make([]int, len(gr.Passes))
	byName := map[string]int{}
	for i := range gr.Config.Passes {
		byName[gr.Config.Passes[i].Name] = i
	}
	for i, ps := range gr.Passes {
		order[i] = byName[ps.Name]
	}
	gr.teardown()
	gr.width, gr.height = width, height
	if err := gr.build(order); err != nil {
		return err
	}
	for _, fn := range gr.resizeFns {
		fn(width, height)
	}
	slog.Debug("rgraph: rebuilt", "width", width, "height", height)
	return nil
}

// Size returns the current window size the graph was built for.
func (gr *Graph) Size() (width, height int) { return gr.width, gr.height }

func (gr *Graph) build(order []int) error {
	cfg := gr.Config
	ss := cfg.Supersample
	if ss == 0 {
		ss = 1
	}
	gr.Targets = map[string]*Target{}
	written := map[string]bool{}
	for _, pi := range order {
		written[cfg.Passes[pi].Output] = true
	}
	for i := range cfg.Targets {
		tc := &cfg.Targets[i]
		if !written[tc.Name] {
			slog.Warn("rgraph: target never written, skipping", "target", tc.Name)
			continue
		}
		tg, err := gr.buildTarget(tc, ss)
		if err != nil {
			return err
		}
		gr.Targets[tc.Name] = tg
	}

	gr.Passes = make([]*Pass, 0, len(order))
	for seq, pi := range order {
		pc := &cfg.Passes[pi]
		ps := &Pass{
			Name:     pc.Name,
			Type:     passTypeNames[pc.Type],
			Config:   pc,
			Order:    seq,
			Terminal: pc.Output == WindowTarget,
			device:   gr.dev,
		}
		var err error
		if ps.Terminal {
			err = gr.buildTerminal(ps)
		} else {
			err = gr.buildOffscreen(ps)
		}
		if err != nil {
			return err
		}
		gr.Passes = append(gr.Passes, ps)
		if ps.Terminal {
			gr.Terminal = ps
		}
	}

	// resolve inputs after all targets exist
	for _, ps := range gr.Passes {
		for _, in := range ps.Config.Inputs {
			tname, key := splitInput(in)
			tg, ok := gr.Targets[tname]
			if !ok {
				slog.Warn("rgraph: unresolved pass input, skipping",
					"pass", ps.Name, "input", in)
				continue
			}
			tx := tg.Attachment(key)
			if tx == nil {
				slog.Warn("rgraph: input names unknown attachment, skipping",
					"pass", ps.Name, "input", in)
				continue
			}
			ps.Inputs = append(ps.Inputs, Input{Name: in, Texture: tx})
		}
	}
	return nil
}

func (gr *Graph) buildTarget(tc *TargetConfig, supersample float32) (*Target, error) {
	sf := tc.SizeFactor
	if sf == 0 {
		sf = 1
	}
	w := max(int(float32(gr.width)*supersample*sf), 1)
	h := max(int(float32(gr.height)*supersample*sf), 1)
	tg := &Target{Name: tc.Name, Width: w, Height: h}
	for _, ac := range tc.Attachments {
		ft, _ := vgr.FormatByName(ac.Format)
		tx, err := vgr.NewRenderTarget(gr.dev, tc.Name+"."+ac.Key, ft, w, h)
		if err != nil {
			return nil, err
		}
		if ft.IsDepth() {
			if tg.Depth != nil {
				tx.Release()
				return nil, fmt.Errorf("rgraph: target %q has multiple depth attachments", tc.Name)
			}
			tg.Depth = tx
			continue
		}
		tg.Attachments = append(tg.Attachments, tx)
		tg.Keys = append(tg.Keys, ac.Key)
	}
	return tg, nil
}

func (gr *Graph) buildOffscreen(ps *Pass) error {
	tg, ok := gr.Targets[ps.Config.Output]
	if !ok {
		return fmt.Errorf("rgraph: pass %q: output target %q not built", ps.Name, ps.Config.Output)
	}
	ps.Target = tg
	ps.Width, ps.Height = tg.Width, tg.Height

	colors := make([]vk.Format, len(tg.Attachments))
	for i, tx := range tg.Attachments {
		colors[i] = tx.Format.VkFormat()
	}
	var depthFmt vk.Format
	if tg.Depth != nil {
		depthFmt = tg.Depth.Format.VkFormat()
	}
	pass, err := makeRenderPass(gr.dev, colors, tg.Depth != nil, depthFmt, ps.Config.Clear, false)
	if err != nil {
		return err
	}
	ps.Handle = pass

	// one framebuffer per target, shared by every pass writing it
	if tg.Framebuffer == vk.NullFramebuffer {
		views := make([]vk.ImageView, 0, len(tg.Attachments)+1)
		for _, tx := range tg.Attachments {
			views = append(views, tx.View)
		}
		if tg.Depth != nil {
			views = append(views, tg.Depth.View)
		}
		fb, err := makeFramebuffer(gr.dev, pass, views, tg.Width, tg.Height)
		if err != nil {
			return err
		}
		tg.Framebuffer = fb
	}
	ps.Framebuffers = []vk.Framebuffer{tg.Framebuffer}
	return nil
}

func (gr *Graph) buildTerminal(ps *Pass) error {
	ps.Width, ps.Height = gr.sw.Width, gr.sw.Height
	if gr.depth == nil {
		depth, err := vgr.NewRenderTarget(gr.dev, "window.depth", vgr.FormatDepth32, ps.Width, ps.Height)
		if err != nil {
			return err
		}
		gr.depth = depth
	}
	pass, err := makeRenderPass(gr.dev, []vk.Format{gr.sw.Format}, true,
		gr.depth.Format.VkFormat(), ps.Config.Clear, true)
	if err != nil {
		return err
	}
	ps.Handle = pass
	ps.Framebuffers = make([]vk.Framebuffer, len(gr.sw.Views))
	for i, view := range gr.sw.Views {
		fb, err := makeFramebuffer(gr.dev, pass, []vk.ImageView{view, gr.depth.View}, ps.Width, ps.Height)
		if err != nil {
			return err
		}
		ps.Framebuffers[i] = fb
	}
	return nil
}

func (gr *Graph) teardown() {
	for _, ps := range gr.Passes {
		ps.release()
	}
	gr.Passes = nil
	gr.Terminal = nil
	for _, tg := range gr.Targets {
		tg.release(gr.dev)
	}
	gr.Targets = nil
	if gr.depth != nil {
		gr.depth.Release()
		gr.depth = nil
	}
}

// Release destroys all graph-owned Vulkan objects.
func (gr *Graph) Release() {
	if gr == nil {
		return
	}
	gr.teardown()
}
