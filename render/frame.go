// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	"errors"
	"log/slog"
	"time"
	"unsafe"

	"cogentcore.org/core/base/slicesx"
	vk "github.com/goki/vulkan"

	"github.com/halcyon-engine/halcyon/scene"
	"github.com/halcyon-engine/halcyon/vgr"
)

// Frame runs one iteration of the frame state machine:
// acquire, update uniforms, record or reuse each pass, submit the
// semaphore chain, present, and service capture requests.
// Returns ErrClosed once a close has been requested; all other
// transient conditions (stale swapchain, skipped frame) return nil.
func (eng *Engine) Frame() error {
	if eng.closeReq || eng.closed {
		return ErrClosed
	}
	eng.applyShaderChanges()
	if eng.recreate {
		if err := eng.rebuild(); err != nil {
			return err
		}
	}
	if eng.gp.StallNeeded() {
		time.Sleep(eng.gp.ValidationDelay)
	}

	// push mode: skip a fully unchanged frame once warmed up
	if eng.opts.Push && canSkipFrame(eng.framesClean >= MaxFramesInFlight,
		eng.anyDirty(), eng.forced, eng.capturePending()) {
		eng.stats.Skipped++
		time.Sleep(2 * time.Millisecond)
		return nil
	}

	slot := eng.slot
	sync := eng.syncs[slot]

	// the slot's previous submission may still be executing; the
	// uniform flush and instance uploads below write memory it reads
	for _, pr := range eng.passes {
		pr.frames[slot].cmd.WaitDone()
	}

	imageIdx, err := eng.sw.Acquire(sync.ImageAvailable)
	if errors.Is(err, vgr.ErrSwapchainStale) {
		eng.recreate = true
		return nil
	}
	if err != nil {
		return err
	}

	changed, err := eng.updateUniforms(slot)
	if err != nil {
		return err
	}

	anyRecorded := false
	for _, pr := range eng.passes {
		visible := eng.Scene.Visible(pr.pass.Name)
		rec, err := eng.recordPass(pr, slot, imageIdx, visible, eng.forced)
		if err != nil {
			return err
		}
		if rec {
			anyRecorded = true
			eng.stats.Recordings++
		} else {
			eng.stats.Resubmissions++
		}
	}
	eng.forced = false

	// GPU-side ordering: pass i's signal is pass i+1's wait
	np := len(eng.passes)
	for i, pr := range eng.passes {
		pf := pr.frames[slot]
		if err := pf.cmd.Submit(sync.WaitFor(i), sync.SignalFor(i, np)); err != nil {
			return err
		}
	}

	err = eng.sw.Present(imageIdx, sync.PresentComplete)
	if errors.Is(err, vgr.ErrSwapchainStale) {
		eng.recreate = true
		err = nil
	}
	if err != nil {
		return err
	}
	eng.stats.PassGPU = eng.timing.Durations(slot)

	if err := eng.capture(slot, imageIdx); err != nil {
		slog.Error("render: capture failed", "err", err)
	}

	if changed || anyRecorded {
		eng.framesClean = 0
	} else {
		eng.framesClean++
	}
	eng.frame++
	eng.stats.Frames = eng.frame
	eng.slot = (slot + 1) % MaxFramesInFlight
	return nil
}

// anyDirty reports whether any node has pending changes, without
// consuming the flags.
func (eng *Engine) anyDirty() bool {
	if eng.camDirty {
		return true
	}
	dirty := false
	eng.Scene.Do(func(idx int, nd *scene.Node) {
		if nd.PeekDirty() != 0 {
			dirty = true
		}
		if _, ok := eng.states[idx]; !ok && !nd.IsSlave() {
			dirty = true
		}
	})
	return dirty
}

// updateUniforms walks the scene, initializes new nodes, consumes
// dirty flags, refreshes uniform blocks and instance buffers for the
// frame slot, and flushes the rings before any submit references
// their offsets. Reports whether anything changed.
func (eng *Engine) updateUniforms(slot int) (bool, error) {
	if eng.camDirty {
		eng.cam.Time = float32(time.Since(eng.start).Seconds())
		vp := eng.grf.Terminal.ViewportPx()
		eng.cam.ViewportWidth = float32(vp.Dx())
		eng.cam.ViewportHeight = float32(vp.Dy())
		for fr := 0; fr < MaxFramesInFlight; fr++ {
			if err := eng.globals.Write(fr, 0, eng.cam.Bytes()); err != nil {
				return false, err
			}
		}
		eng.camDirty = false
	}

	live := map[int]bool{}
	masterDirty := map[int]bool{}
	eng.Scene.Do(func(idx int, nd *scene.Node) {
		live[idx] = true
		dirty := nd.TakeDirty()
		if nd.IsSlave() {
			// slave changes re-upload the master's instance buffer
			if dirty != 0 {
				masterDirty[nd.Master] = true
			}
			return
		}
		st, ok := eng.states[idx]
		if !ok {
			st = &NodeState{Node: idx, ObjSlot: -1, PropsSlot: -1}
			eng.states[idx] = st
		}
		if dirty.NeedsRecord() && st.State == Ready {
			// geometry or material changed: rebuild the node's GPU
			// state; uniform slots are kept across the reload
			eng.releaseNodeSafe(st)
			eng.forceRecord()
		}
		if st.State != Ready {
			if err := eng.initNode(nd, st); err != nil {
				slog.Error("render: node init failed, skipping",
					"node", nd.Name, "err", err)
				return
			}
			dirty |= scene.DirtyTransform
			eng.forceRecord()
		}
		if dirty&scene.DirtyTransform != 0 || dirty.NeedsRecord() {
			if err := eng.writeObject(slot, nd, st); err != nil {
				slog.Error("render: uniform write failed",
					"node", nd.Name, "err", err)
			}
			// keep the other frame banks current too
			for fr := 0; fr < MaxFramesInFlight; fr++ {
				if fr != slot {
					eng.writeObject(fr, nd, st)
				}
			}
		}
	})

	// drop states of removed nodes and reclaim their ring slots
	for idx, st := range eng.states {
		if !live[idx] {
			eng.releaseNodeSafe(st)
			if st.ObjSlot >= 0 {
				eng.objects.Free(st.ObjSlot)
			}
			if st.PropsSlot >= 0 {
				eng.props.Free(st.PropsSlot)
			}
			delete(eng.states, idx)
			eng.forceRecord()
		}
	}

	// instance masters: refresh per-instance matrix banks
	for idx, st := range eng.states {
		if st.State != Ready {
			continue
		}
		slaves := eng.Scene.Slaves(idx)
		if len(slaves) == 0 && st.Instances == nil {
			continue
		}
		if masterDirty[idx] || len(slaves) != st.InstanceCount {
			if len(slaves) != st.InstanceCount {
				// count changes the draw and the bank offsets
				eng.forceRecord()
			}
			for fr := range st.instStale {
				st.instStale[fr] = true
			}
		}
		if st.instStale[slot] {
			if err := eng.uploadInstances(st, slaves, slot); err != nil {
				slog.Error("render: instance upload failed",
					"node", idx, "err", err)
				continue
			}
			st.instStale[slot] = false
		}
	}

	changed := false
	for _, ur := range []*vgr.UniformRing{eng.globals, eng.objects, eng.props} {
		did, err := ur.Flush(slot)
		if err != nil {
			return changed, err
		}
		changed = changed || did
	}
	return changed, nil
}

// writeObject refreshes a node's object and props blocks in one
// frame bank.
func (eng *Engine) writeObject(slot int, nd *scene.Node, st *NodeState) error {
	nd.Lock()
	ob := ObjectBlock{
		Model:     nd.Transform,
		Color:     nd.Material.Color,
		Shininess: nd.Material.Shininess,
		Emissive:  nd.Material.Emissive,
	}
	props := nd.Material.InstanceProps
	nd.Unlock()
	if err := eng.objects.Write(slot, st.ObjSlot, ob.Bytes()); err != nil {
		return err
	}
	if st.PropsSlot >= 0 {
		return eng.props.Write(slot, st.PropsSlot, propsBytes(props))
	}
	return nil
}

// uploadInstances rebuilds one frame bank of a master's per-instance
// matrix buffer from its visible slaves' world transforms. Only the
// given slot's bank is written; banks in-flight frames read stay
// untouched.
func (eng *Engine) uploadInstances(st *NodeState, slaves []int, slot int) error {
	st.InstanceCount = len(slaves)
	if len(slaves) == 0 {
		return nil
	}
	eng.instScratch = slicesx.SetLength(eng.instScratch, len(slaves))
	mats := eng.instScratch
	for i, si := range slaves {
		sl := eng.Scene.Node(si)
		if sl == nil {
			mats[i].SetIdentity()
			continue
		}
		sl.Lock()
		mats[i] = sl.Transform
		sl.Unlock()
	}
	bank := len(mats) * vgr.InstanceStride
	need := bank * MaxFramesInFlight
	if st.Instances != nil && st.Instances.AllocatedSize < need {
		eng.dev.WaitIdle()
		st.Instances.Release()
		st.Instances = nil
	}
	if st.Instances == nil {
		buf, err := vgr.NewBuffer(eng.dev, "instances", need,
			vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit),
			vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit), false)
		if err != nil {
			return err
		}
		st.Instances = buf
	}
	st.InstanceBank = bank
	raw := unsafe.Slice((*byte)(unsafe.Pointer(&mats[0])), bank)
	return st.Instances.CopyAt(slot*bank, raw)
}

// releaseNodeSafe drains in-flight work referencing the node's
// buffers before freeing them. Infrequent: only on node content
// change or removal.
func (eng *Engine) releaseNodeSafe(st *NodeState) {
	eng.dev.WaitIdle()
	eng.releaseNode(st)
}

// capture reads the just-presented image back and feeds the sinks.
func (eng *Engine) capture(slot, imageIdx int) error {
	all := eng.takeCaptureSinks()
	if len(all) == 0 {
		return nil
	}
	// the terminal pass must be complete before the image is read
	last := eng.passes[len(eng.passes)-1]
	last.frames[slot].cmd.WaitDone()
	px, err := vgr.ReadImage(eng.dev, eng.sw.Images[imageIdx], vgr.FormatBGRA8,
		eng.sw.Width, eng.sw.Height, vk.ImageLayoutPresentSrc)
	if err != nil {
		return err
	}
	ms := time.Since(eng.start).Milliseconds()
	for i, sk := range all {
		buf := px
		if i < len(all)-1 {
			// each sink owns its bytes after delivery
			buf = append([]byte(nil), px...)
		}
		if err := sk.Frame(buf, eng.sw.Width, eng.sw.Height, ms); err != nil {
			slog.Error("render: frame sink failed", "err", err)
		}
	}
	return nil
}

// applyShaderChanges services live-reload events: reload changed
// sets, drop their pipeline variants, and force re-records.
func (eng *Engine) applyShaderChanges() {
	if eng.watcher == nil {
		return
	}
	for {
		select {
		case name := <-eng.watcher.Changed:
			ss, ok := eng.shaders.ValueByKeyTry(name)
			if !ok {
				continue
			}
			eng.dev.WaitIdle()
			if err := ss.Reload(); err != nil {
				slog.Error("render: shader reload failed", "shader", name, "err", err)
				continue
			}
			eng.pipelines.Invalidate(ss.ID)
			eng.forceRecord()
			slog.Info("render: shader reloaded", "shader", name)
		default:
			return
		}
	}
}

// rebuild recreates the swapchain and every window-size-dependent
// object, then resumes rendering at the new size.
func (eng *Engine) rebuild() error {
	w, h := eng.newW, eng.newH
	if w == 0 || h == 0 {
		w, h = eng.grf.Size()
	}
	eng.dev.WaitIdle()
	eng.releasePerGraph()
	if err := eng.sw.Recreate(w, h); err != nil {
		return err
	}
	if err := eng.grf.Rebuild(w, h); err != nil {
		return err
	}
	if err := eng.initPerGraph(); err != nil {
		return err
	}
	eng.recreate = false
	eng.forceRecord()
	eng.camDirty = true
	eng.framesClean = 0
	slog.Info("render: swapchain rebuilt", "width", w, "height", h)
	return nil
}

// Close drains all in-flight GPU work, then releases every resource
// in dependency order. Nothing is freed while a fence referencing it
// is unresolved. Safe to call once after the frame loop exits.
func (eng *Engine) Close() {
	if eng.closed {
		return
	}
	eng.closed = true
	eng.closeReq = true
	if eng.hbStop != nil {
		close(eng.hbStop)
	}
	if eng.watcher != nil {
		eng.watcher.Close()
	}
	if eng.dev != nil {
		eng.dev.WaitIdle()
	}
	eng.releasePerGraph()
	for _, st := range eng.states {
		eng.releaseNode(st)
	}
	eng.states = map[int]*NodeState{}
	if eng.pipelines != nil {
		eng.pipelines.Release()
	}
	for _, ss := range eng.shaders.Values() {
		ss.Release()
	}
	for _, tx := range eng.textures {
		tx.Release()
	}
	if eng.defaultTx != nil {
		eng.defaultTx.Release()
	}
	for _, ur := range []*vgr.UniformRing{eng.globals, eng.objects, eng.props} {
		if ur != nil {
			ur.Release()
		}
	}
	if eng.descPool != nil {
		eng.descPool.Release()
	}
	for _, sl := range []*vgr.SetLayout{eng.uniformLayout, eng.texLayout, eng.inputLayout} {
		sl.Release()
	}
	if eng.geom != nil {
		eng.geom.Release()
	}
	if eng.grf != nil {
		eng.grf.Release()
	}
	if eng.sw != nil {
		eng.sw.Release()
	}
	if eng.dev != nil {
		eng.dev.Release()
	}
	eng.capMu.Lock()
	sinks := eng.sinks
	eng.sinks, eng.oneShots = nil, nil
	eng.capMu.Unlock()
	for _, sk := range sinks {
		sk.Close()
	}
}
