// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vgr

import (
	"fmt"
	"log/slog"
	"unsafe"

	"cogentcore.org/core/base/errors"
	vk "github.com/goki/vulkan"
)

// ErrResourceExhausted is returned when a device allocation fails.
// The frame in progress is aborted; no retry is attempted.
var ErrResourceExhausted = errors.New("vgr: device resources exhausted")

// MemSizeAlign returns size rounded up to align byte increments,
// e.g. align = 16, size = 12 returns 16.
func MemSizeAlign(size, align int) int {
	if align <= 1 || size%align == 0 {
		return size
	}
	return (size/align + 1) * align
}

// Buffer is a memory block: a device allocation with usage and
// memory-property flags, an internal write cursor for sub-allocation,
// and an optional host-side staging region.
// A Buffer is owned exclusively by its allocator (node state, geometry
// pool, or readback path) and must only be released after the GPU has
// finished with it, guarded by the owning fence.
type Buffer struct {
	// Name identifies the buffer in logs.
	Name string

	// Size is the requested size in bytes.
	Size int

	// AllocatedSize is the actual allocation size, >= Size, rounded up
	// to Align when aligned allocation was requested.
	AllocatedSize int

	// Align is the alignment the allocation was rounded to (1 if none).
	Align int

	// Handle is the device buffer; nil for host-only staging blocks.
	Handle vk.Buffer

	memory      vk.DeviceMemory
	hostVisible bool
	mapped      unsafe.Pointer
	staging     []byte
	cursor      int
	device      *Device
	released    bool
}

// NewBuffer allocates a device buffer of at least size bytes with the
// given usage and memory-property flags. With wantAligned, the
// allocation size is rounded up to the device-required alignment.
// Host-visible buffers are persistently mapped.
// Allocation failure returns ErrResourceExhausted (wrapped).
func NewBuffer(dev *Device, name string, size int, usage vk.BufferUsageFlags, props vk.MemoryPropertyFlags, wantAligned bool) (*Buffer, error) {
	bf := &Buffer{Name: name, Size: size, Align: 1, device: dev}
	bci := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}
	var handle vk.Buffer
	if res := vk.CreateBuffer(dev.Device, &bci, nil, &handle); res != vk.Success {
		return nil, errors.Log(fmt.Errorf("vgr.Buffer %s: create: %w: %w", name, ErrResourceExhausted, vk.Error(res)))
	}
	bf.Handle = handle

	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(dev.Device, handle, &req)
	req.Deref()
	alloc := int(req.Size)
	if wantAligned {
		bf.Align = int(req.Alignment)
		alloc = MemSizeAlign(alloc, bf.Align)
	}
	mti, err := dev.GPU.MemoryTypeIndex(req.MemoryTypeBits, props)
	if err != nil {
		bf.destroyHandle()
		return nil, errors.Log(fmt.Errorf("vgr.Buffer %s: %w: %w", name, ErrResourceExhausted, err))
	}
	mai := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(alloc),
		MemoryTypeIndex: mti,
	}
	var mem vk.DeviceMemory
	if res := vk.AllocateMemory(dev.Device, &mai, nil, &mem); res != vk.Success {
		bf.destroyHandle()
		return nil, errors.Log(fmt.Errorf("vgr.Buffer %s: allocate %d: %w: %w", name, alloc, ErrResourceExhausted, vk.Error(res)))
	}
	bf.memory = mem
	bf.AllocatedSize = alloc
	if res := vk.BindBufferMemory(dev.Device, handle, mem, 0); res != vk.Success {
		bf.Release()
		return nil, errors.Log(fmt.Errorf("vgr.Buffer %s: bind: %w", name, vk.Error(res)))
	}
	bf.hostVisible = props&vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) != 0
	if bf.hostVisible {
		var ptr unsafe.Pointer
		if res := vk.MapMemory(dev.Device, mem, 0, vk.DeviceSize(alloc), 0, &ptr); res != vk.Success {
			bf.Release()
			return nil, errors.Log(fmt.Errorf("vgr.Buffer %s: map: %w", name, vk.Error(res)))
		}
		bf.mapped = ptr
	}
	return bf, nil
}

// NewHostBuffer returns a host-only memory block with no device objects:
// a linear staging region used by the screenshot path and anywhere raw
// frame bytes are assembled. With wantAligned, the allocation is
// rounded up to align.
func NewHostBuffer(name string, size, align int, wantAligned bool) *Buffer {
	alloc := size
	if !wantAligned {
		align = 1
	} else {
		alloc = MemSizeAlign(size, align)
	}
	return &Buffer{
		Name:          name,
		Size:          size,
		AllocatedSize: alloc,
		Align:         align,
		staging:       make([]byte, alloc),
	}
}

// IsHostOnly reports whether this block has no device allocation.
func (bf *Buffer) IsHostOnly() bool { return bf.Handle == vk.NullBuffer && bf.staging != nil }

// MapToHost returns a host view of the buffer memory, valid until Unmap.
// Host-only blocks return their staging region directly.
func (bf *Buffer) MapToHost() ([]byte, error) {
	if bf.staging != nil {
		return bf.staging, nil
	}
	if bf.mapped != nil {
		return unsafe.Slice((*byte)(bf.mapped), bf.AllocatedSize), nil
	}
	if !bf.hostVisible {
		return nil, fmt.Errorf("vgr.Buffer %s: not host visible", bf.Name)
	}
	var ptr unsafe.Pointer
	if res := vk.MapMemory(bf.device.Device, bf.memory, 0, vk.DeviceSize(bf.AllocatedSize), 0, &ptr); res != vk.Success {
		return nil, errors.Log(fmt.Errorf("vgr.Buffer %s: map: %w", bf.Name, vk.Error(res)))
	}
	bf.mapped = ptr
	return unsafe.Slice((*byte)(ptr), bf.AllocatedSize), nil
}

// Unmap releases a transient host mapping. Persistent mappings and
// host-only staging regions are left in place.
func (bf *Buffer) Unmap() {
	if bf.staging != nil || !bf.hostVisible || bf.mapped == nil {
		return
	}
	vk.UnmapMemory(bf.device.Device, bf.memory)
	bf.mapped = nil
}

// CopyFrom copies the given bytes into the buffer at offset 0,
// performing a map-copy-unmap cycle when there is no persistent
// mapping. The payload must fit within AllocatedSize.
func (bf *Buffer) CopyFrom(src []byte) error {
	if len(src) > bf.AllocatedSize {
		return errors.Log(fmt.Errorf("vgr.Buffer %s: CopyFrom %d exceeds capacity %d", bf.Name, len(src), bf.AllocatedSize))
	}
	if bf.staging != nil {
		copy(bf.staging, src)
		return nil
	}
	transient := bf.mapped == nil
	view, err := bf.MapToHost()
	if err != nil {
		return err
	}
	copy(view, src)
	if transient {
		bf.Unmap()
	}
	return nil
}

// CopyAt copies the given bytes into the buffer at the given byte
// offset, map-copy-unmapping when no persistent mapping exists.
func (bf *Buffer) CopyAt(off int, src []byte) error {
	if off < 0 || off+len(src) > bf.AllocatedSize {
		return errors.Log(fmt.Errorf("vgr.Buffer %s: CopyAt %d+%d exceeds capacity %d", bf.Name, off, len(src), bf.AllocatedSize))
	}
	if bf.staging != nil {
		copy(bf.staging[off:], src)
		return nil
	}
	transient := bf.mapped == nil
	view, err := bf.MapToHost()
	if err != nil {
		return err
	}
	copy(view[off:], src)
	if transient {
		bf.Unmap()
	}
	return nil
}

// CopyTo copies buffer contents into dst, up to len(dst) bytes,
// map-copy-unmapping when no persistent mapping exists.
func (bf *Buffer) CopyTo(dst []byte) error {
	if len(dst) > bf.AllocatedSize {
		return errors.Log(fmt.Errorf("vgr.Buffer %s: CopyTo %d exceeds capacity %d", bf.Name, len(dst), bf.AllocatedSize))
	}
	if bf.staging != nil {
		copy(dst, bf.staging)
		return nil
	}
	transient := bf.mapped == nil
	view, err := bf.MapToHost()
	if err != nil {
		return err
	}
	copy(dst, view)
	if transient {
		bf.Unmap()
	}
	return nil
}

// Alloc sub-allocates n bytes at the current write cursor, aligned to
// the given stride alignment, returning the byte offset.
// Returns ErrResourceExhausted when the block is full.
func (bf *Buffer) Alloc(n, align int) (int, error) {
	off := MemSizeAlign(bf.cursor, align)
	if off+n > bf.AllocatedSize {
		return 0, fmt.Errorf("vgr.Buffer %s: sub-alloc %d at %d: %w", bf.Name, n, off, ErrResourceExhausted)
	}
	bf.cursor = off + n
	return off, nil
}

// Cursor returns the current write cursor.
func (bf *Buffer) Cursor() int { return bf.cursor }

// Reset rewinds the internal write cursor without deallocating,
// so the block can be re-filled for the next frame.
func (bf *Buffer) Reset() { bf.cursor = 0 }

// Release frees the device memory and any staging region.
// Double release is safe but logged as anomalous.
func (bf *Buffer) Release() {
	if bf.released {
		slog.Warn("vgr.Buffer: double Release", "buffer", bf.Name)
		return
	}
	bf.released = true
	bf.staging = nil
	if bf.device == nil {
		return
	}
	if bf.mapped != nil {
		vk.UnmapMemory(bf.device.Device, bf.memory)
		bf.mapped = nil
	}
	bf.destroyHandle()
	if bf.memory != vk.NullDeviceMemory {
		vk.FreeMemory(bf.device.Device, bf.memory, nil)
		bf.memory = vk.NullDeviceMemory
	}
}

func (bf *Buffer) destroyHandle() {
	if bf.Handle != vk.NullBuffer {
		vk.DestroyBuffer(bf.device.Device, bf.Handle, nil)
		bf.Handle = vk.NullBuffer
	}
}
