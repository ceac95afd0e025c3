// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vgr

import (
	"fmt"

	"cogentcore.org/core/base/errors"
	vk "github.com/goki/vulkan"
)

// CommandBuffer wraps a recorded command sequence with the state needed
// for the re-record protocol: a completion fence, a stale flag (true
// means the contents no longer match what should be drawn and must be
// re-recorded), and a submitted flag (true means the fence must be
// waited on before the buffer can be reset or re-recorded).
//
// The invariant: a command buffer is re-recorded iff it has never been
// recorded, or it has been marked stale. Otherwise it is resubmitted
// unchanged.
type CommandBuffer struct {
	// Handle is the device command buffer.
	Handle vk.CommandBuffer

	// Fence is signaled when the last submission of this buffer
	// completes on the GPU.
	Fence vk.Fence

	recorded  bool
	stale     bool
	submitted bool

	device *Device
}

// NewCommandBuffer allocates a primary command buffer from the device
// graphics pool along with its completion fence. The fence starts
// signaled so the first WaitReset does not block.
func NewCommandBuffer(dev *Device) (*CommandBuffer, error) {
	cbai := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        dev.CommandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	cmds := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(dev.Device, &cbai, cmds); res != vk.Success {
		return nil, errors.Log(fmt.Errorf("vgr: allocate command buffer: %w", vk.Error(res)))
	}
	fence, err := NewFence(dev, true)
	if err != nil {
		vk.FreeCommandBuffers(dev.Device, dev.CommandPool, 1, cmds)
		return nil, err
	}
	return &CommandBuffer{Handle: cmds[0], Fence: fence, stale: true, device: dev}, nil
}

// NeedsRecord reports whether the buffer must be re-recorded:
// never recorded, or marked stale.
func (cb *CommandBuffer) NeedsRecord() bool { return !cb.recorded || cb.stale }

// SetStale marks the buffer for re-recording at the next frame.
func (cb *CommandBuffer) SetStale() { cb.stale = true }

// WaitReset waits for the completion fence if the buffer has been
// submitted, then resets fence and buffer for re-recording.
// This is deliberate backpressure: the CPU blocks here until the GPU
// is done with the previous use.
func (cb *CommandBuffer) WaitReset() error {
	dev := cb.device.Device
	if cb.submitted {
		vk.WaitForFences(dev, 1, []vk.Fence{cb.Fence}, vk.True, ^uint64(0))
		cb.submitted = false
	}
	vk.ResetFences(dev, 1, []vk.Fence{cb.Fence})
	if res := vk.ResetCommandBuffer(cb.Handle, 0); res != vk.Success {
		return errors.Log(fmt.Errorf("vgr: reset command buffer: %w", vk.Error(res)))
	}
	return nil
}

// Begin starts recording.
func (cb *CommandBuffer) Begin() error {
	bi := vk.CommandBufferBeginInfo{SType: vk.StructureTypeCommandBufferBeginInfo}
	if res := vk.BeginCommandBuffer(cb.Handle, &bi); res != vk.Success {
		return errors.Log(fmt.Errorf("vgr: begin command buffer: %w", vk.Error(res)))
	}
	return nil
}

// End finishes recording and clears the stale flag.
func (cb *CommandBuffer) End() error {
	if res := vk.EndCommandBuffer(cb.Handle); res != vk.Success {
		return errors.Log(fmt.Errorf("vgr: end command buffer: %w", vk.Error(res)))
	}
	cb.recorded = true
	cb.stale = false
	return nil
}

// Submit submits the buffer on the graphics queue with the given wait
// and signal semaphores, fencing completion on the buffer's own fence.
// If the buffer was submitted before and not yet waited, the fence is
// waited and reset first so resubmission of unchanged contents is safe.
func (cb *CommandBuffer) Submit(wait, signal vk.Semaphore) error {
	dev := cb.device.Device
	if cb.submitted {
		vk.WaitForFences(dev, 1, []vk.Fence{cb.Fence}, vk.True, ^uint64(0))
		cb.submitted = false
	}
	vk.ResetFences(dev, 1, []vk.Fence{cb.Fence})

	si := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb.Handle},
	}
	if wait != vk.NullSemaphore {
		si.WaitSemaphoreCount = 1
		si.PWaitSemaphores = []vk.Semaphore{wait}
		si.PWaitDstStageMask = []vk.PipelineStageFlags{
			vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		}
	}
	if signal != vk.NullSemaphore {
		si.SignalSemaphoreCount = 1
		si.PSignalSemaphores = []vk.Semaphore{signal}
	}
	if res := vk.QueueSubmit(cb.device.GraphicsQueue, 1, []vk.SubmitInfo{si}, cb.Fence); res != vk.Success {
		return errors.Log(fmt.Errorf("vgr: queue submit: %w", vk.Error(res)))
	}
	cb.submitted = true
	return nil
}

// WaitDone blocks until the last submission has completed, if any.
func (cb *CommandBuffer) WaitDone() {
	if cb.submitted {
		vk.WaitForFences(cb.device.Device, 1, []vk.Fence{cb.Fence}, vk.True, ^uint64(0))
		cb.submitted = false
	}
}

// Release drains any in-flight submission, then frees the buffer and
// fence. Nothing is destroyed while the fence is unresolved.
func (cb *CommandBuffer) Release() {
	if cb.Handle == nil {
		return
	}
	cb.WaitDone()
	vk.FreeCommandBuffers(cb.device.Device, cb.device.CommandPool, 1, []vk.CommandBuffer{cb.Handle})
	cb.Handle = nil
	vk.DestroyFence(cb.device.Device, cb.Fence, nil)
	cb.Fence = vk.NullFence
}
