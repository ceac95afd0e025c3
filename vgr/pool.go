// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vgr

import (
	"fmt"
	"log/slog"

	"cogentcore.org/core/base/errors"
	vk "github.com/goki/vulkan"
)

// SubBuffer is a sub-allocation out of a GeometryPool buffer:
// a shared Buffer handle plus a byte offset and size.
type SubBuffer struct {
	// Buffer is the shared pool buffer, not owned by this handle.
	Buffer *Buffer

	// Offset is the byte offset of this range within Buffer.
	Offset int

	// Size is the allocated byte size.
	Size int
}

// IsValid reports whether this handle refers to a pool range.
func (sb *SubBuffer) IsValid() bool { return sb.Buffer != nil && sb.Size > 0 }

// span is a free range in a freeList.
type span struct{ off, size int }

// freeList is a first-fit free-range allocator over a fixed capacity,
// coalescing adjacent ranges on free.
type freeList struct {
	capacity int
	free     []span
}

func newFreeList(capacity int) *freeList {
	return &freeList{capacity: capacity, free: []span{{0, capacity}}}
}

// alloc reserves n bytes aligned to align, returning the offset,
// or an error when no free range fits.
func (fl *freeList) alloc(n, align int) (int, error) {
	for i, sp := range fl.free {
		off := MemSizeAlign(sp.off, align)
		pad := off - sp.off
		if pad+n > sp.size {
			continue
		}
		rem := sp.size - pad - n
		switch {
		case pad == 0 && rem == 0:
			fl.free = append(fl.free[:i], fl.free[i+1:]...)
		case pad == 0:
			fl.free[i] = span{off + n, rem}
		case rem == 0:
			fl.free[i] = span{sp.off, pad}
		default:
			// keep the list sorted by offset: the tail remainder goes
			// right after the leading pad, not at the end
			fl.free[i] = span{sp.off, pad}
			fl.free = append(fl.free, span{})
			copy(fl.free[i+2:], fl.free[i+1:])
			fl.free[i+1] = span{off + n, rem}
		}
		return off, nil
	}
	return 0, fmt.Errorf("freeList: no range for %d bytes: %w", n, ErrResourceExhausted)
}

// total returns the number of free bytes.
func (fl *freeList) total() int {
	n := 0
	for _, sp := range fl.free {
		n += sp.size
	}
	return n
}

// release returns a range to the free list, merging neighbors.
func (fl *freeList) release(off, size int) {
	// insert sorted by offset
	at := len(fl.free)
	for i, sp := range fl.free {
		if sp.off > off {
			at = i
			break
		}
	}
	fl.free = append(fl.free, span{})
	copy(fl.free[at+1:], fl.free[at:])
	fl.free[at] = span{off, size}
	// coalesce around at
	if at+1 < len(fl.free) && fl.free[at].off+fl.free[at].size == fl.free[at+1].off {
		fl.free[at].size += fl.free[at+1].size
		fl.free = append(fl.free[:at+1], fl.free[at+2:]...)
	}
	if at > 0 && fl.free[at-1].off+fl.free[at-1].size == fl.free[at].off {
		fl.free[at-1].size += fl.free[at].size
		fl.free = append(fl.free[:at], fl.free[at+1:]...)
	}
}

// GeometryPool sub-allocates many nodes' vertex and index data out of
// two large shared device-local buffers, avoiding per-object allocation
// overhead. Uploads go through a transient staging buffer and a one-shot
// transfer command. All pool operations happen on the render thread.
type GeometryPool struct {
	// Vertex and Index are the shared device-local buffers.
	Vertex *Buffer
	Index  *Buffer

	device *Device
	vfree  *freeList
	ifree  *freeList
}

// vertex ranges keep Float32Vector4-friendly alignment; index ranges
// keep uint32 alignment.
const (
	vertexAlign = 16
	indexAlign  = 4
)

// NewGeometryPool allocates the shared vertex and index buffers,
// device-local, transfer-destination capable.
func NewGeometryPool(dev *Device, vertexBytes, indexBytes int) (*GeometryPool, error) {
	vb, err := NewBuffer(dev, "geometry-vertex", vertexBytes,
		vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit|vk.BufferUsageTransferDstBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit), true)
	if err != nil {
		return nil, err
	}
	ib, err := NewBuffer(dev, "geometry-index", indexBytes,
		vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit|vk.BufferUsageTransferDstBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit), true)
	if err != nil {
		vb.Release()
		return nil, err
	}
	return &GeometryPool{
		Vertex: vb, Index: ib, device: dev,
		vfree: newFreeList(vb.AllocatedSize),
		ifree: newFreeList(ib.AllocatedSize),
	}, nil
}

// AllocVertex reserves n bytes of vertex storage.
func (gp *GeometryPool) AllocVertex(n int) (SubBuffer, error) {
	off, err := gp.vfree.alloc(n, vertexAlign)
	if err != nil {
		return SubBuffer{}, err
	}
	return SubBuffer{Buffer: gp.Vertex, Offset: off, Size: n}, nil
}

// AllocIndex reserves n bytes of index storage.
func (gp *GeometryPool) AllocIndex(n int) (SubBuffer, error) {
	off, err := gp.ifree.alloc(n, indexAlign)
	if err != nil {
		return SubBuffer{}, err
	}
	return SubBuffer{Buffer: gp.Index, Offset: off, Size: n}, nil
}

// Free returns a range to the pool. The caller must ensure the GPU is
// no longer using it (frame fences have resolved).
func (gp *GeometryPool) Free(sb SubBuffer) {
	switch sb.Buffer {
	case gp.Vertex:
		gp.vfree.release(sb.Offset, sb.Size)
	case gp.Index:
		gp.ifree.release(sb.Offset, sb.Size)
	default:
		slog.Warn("vgr.GeometryPool: Free of foreign sub-buffer", "offset", sb.Offset)
	}
}

// Available returns the free vertex and index bytes remaining in the
// pool.
func (gp *GeometryPool) Available() (vertex, index int) {
	return gp.vfree.total(), gp.ifree.total()
}

// Upload stage-copies data into the given pool range: a host-visible
// staging buffer is filled, a transient transfer command copies it to
// the device-local pool buffer, and the transfer is fenced to
// completion before the staging buffer is released.
func (gp *GeometryPool) Upload(sb SubBuffer, data []byte) error {
	if len(data) > sb.Size {
		return errors.Log(fmt.Errorf("vgr.GeometryPool: upload %d exceeds range %d", len(data), sb.Size))
	}
	stg, err := NewBuffer(gp.device, "geometry-staging", len(data),
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit), false)
	if err != nil {
		return err
	}
	defer stg.Release()
	if err := stg.CopyFrom(data); err != nil {
		return err
	}
	return oneShotTransfer(gp.device, func(cmd vk.CommandBuffer) {
		vk.CmdCopyBuffer(cmd, stg.Handle, sb.Buffer.Handle, 1, []vk.BufferCopy{{
			SrcOffset: 0,
			DstOffset: vk.DeviceSize(sb.Offset),
			Size:      vk.DeviceSize(len(data)),
		}})
	})
}

// Release frees the shared buffers. Callers must have drained the GPU.
func (gp *GeometryPool) Release() {
	if gp.Vertex != nil {
		gp.Vertex.Release()
		gp.Vertex = nil
	}
	if gp.Index != nil {
		gp.Index.Release()
		gp.Index = nil
	}
}

// oneShotTransfer records fn into a transient transfer command buffer,
// submits it on the graphics queue, and fences to completion.
func oneShotTransfer(dev *Device, fn func(cmd vk.CommandBuffer)) error {
	cbai := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        dev.TransferPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	cmds := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(dev.Device, &cbai, cmds); res != vk.Success {
		return errors.Log(fmt.Errorf("vgr: transfer command buffer: %w", vk.Error(res)))
	}
	cmd := cmds[0]
	defer vk.FreeCommandBuffers(dev.Device, dev.TransferPool, 1, cmds)

	bi := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	vk.BeginCommandBuffer(cmd, &bi)
	fn(cmd)
	vk.EndCommandBuffer(cmd)

	fence, err := NewFence(dev, false)
	if err != nil {
		return err
	}
	defer vk.DestroyFence(dev.Device, fence, nil)
	si := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    cmds,
	}
	if res := vk.QueueSubmit(dev.GraphicsQueue, 1, []vk.SubmitInfo{si}, fence); res != vk.Success {
		return errors.Log(fmt.Errorf("vgr: transfer submit: %w", vk.Error(res)))
	}
	vk.WaitForFences(dev.Device, 1, []vk.Fence{fence}, vk.True, ^uint64(0))
	return nil
}
