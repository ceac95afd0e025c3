// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vgr

import (
	"fmt"

	"cogentcore.org/core/base/errors"
	vk "github.com/goki/vulkan"
)

// UniformRing is one large uniform buffer shared by all nodes for a
// single uniform-block type (transform, material, instance properties),
// bound once per pass through a dynamic-offset descriptor.
// Each node owns a stable slot index; per-frame data goes into a
// separate bank per frame slot so writes for frame N never alias data
// still referenced by in-flight frame N-1.
type UniformRing struct {
	// Name of the uniform-block type this ring serves.
	Name string

	// BlockSize is the unaligned byte size of one block.
	BlockSize int

	// Stride is BlockSize aligned to the device dynamic-offset
	// alignment; every slot starts at a Stride multiple.
	Stride int

	// Capacity is the number of slots per frame bank.
	Capacity int

	// NFrames is the number of frame banks (frames in flight).
	NFrames int

	// Buffer is the backing host-visible, persistently mapped buffer.
	Buffer *Buffer

	// staging accumulates writes until Flush copies a bank up.
	staging []byte

	// dirty marks banks with unflushed writes.
	dirty []bool

	next int
	free []int
}

// NewUniformRing creates the ring with capacity slots per frame bank.
func NewUniformRing(dev *Device, name string, blockSize, capacity, nframes int) (*UniformRing, error) {
	stride := MemSizeAlign(blockSize, dev.GPU.UniformAlign())
	total := stride * capacity * nframes
	buf, err := NewBuffer(dev, "uniform-"+name, total,
		vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit), false)
	if err != nil {
		return nil, err
	}
	ur := newUniformRingLayout(name, blockSize, stride, capacity, nframes)
	ur.Buffer = buf
	return ur, nil
}

// newUniformRingLayout builds the ring bookkeeping without any device
// allocation; the GPU buffer is attached separately.
func newUniformRingLayout(name string, blockSize, stride, capacity, nframes int) *UniformRing {
	return &UniformRing{
		Name:      name,
		BlockSize: blockSize,
		Stride:    stride,
		Capacity:  capacity,
		NFrames:   nframes,
		staging:   make([]byte, stride*capacity*nframes),
		dirty:     make([]bool, nframes),
	}
}

// Alloc reserves the next free slot, returning its stable index.
func (ur *UniformRing) Alloc() (int, error) {
	if n := len(ur.free); n > 0 {
		idx := ur.free[n-1]
		ur.free = ur.free[:n-1]
		return idx, nil
	}
	if ur.next >= ur.Capacity {
		return 0, fmt.Errorf("vgr.UniformRing %s: %d slots: %w", ur.Name, ur.Capacity, ErrResourceExhausted)
	}
	idx := ur.next
	ur.next++
	return idx, nil
}

// Free returns a slot for reuse by a later Alloc. Called when the
// owning node is removed from the scene.
func (ur *UniformRing) Free(slot int) {
	if slot < 0 || slot >= ur.Capacity {
		return
	}
	ur.free = append(ur.free, slot)
}

// DynOffset returns the dynamic offset to bind for the given slot in
// the given frame bank.
func (ur *UniformRing) DynOffset(frame, slot int) uint32 {
	return uint32((frame*ur.Capacity + slot) * ur.Stride)
}

// Write stores block data for a slot into the staging bank for the
// given frame. The data must be exactly BlockSize bytes.
func (ur *UniformRing) Write(frame, slot int, data []byte) error {
	if len(data) != ur.BlockSize {
		return errors.Log(fmt.Errorf("vgr.UniformRing %s: write size %d != block size %d", ur.Name, len(data), ur.BlockSize))
	}
	if slot < 0 || slot >= ur.Capacity {
		return errors.Log(fmt.Errorf("vgr.UniformRing %s: slot %d out of range %d", ur.Name, slot, ur.Capacity))
	}
	off := int(ur.DynOffset(frame, slot))
	copy(ur.staging[off:off+ur.BlockSize], data)
	ur.dirty[frame] = true
	return nil
}

// Dirty reports whether the given frame bank has unflushed writes.
func (ur *UniformRing) Dirty(frame int) bool { return ur.dirty[frame] }

// Flush copies the frame bank to the GPU buffer. Must complete before
// any command buffer referencing this bank's offsets is submitted.
// Reports whether anything was written.
func (ur *UniformRing) Flush(frame int) (bool, error) {
	if !ur.dirty[frame] {
		return false, nil
	}
	bank := ur.Stride * ur.Capacity
	start := frame * bank
	view, err := ur.Buffer.MapToHost()
	if err != nil {
		return false, err
	}
	copy(view[start:start+bank], ur.staging[start:start+bank])
	ur.dirty[frame] = false
	return true, nil
}

// Release frees the backing buffer.
func (ur *UniformRing) Release() {
	if ur.Buffer != nil {
		ur.Buffer.Release()
		ur.Buffer = nil
	}
}
