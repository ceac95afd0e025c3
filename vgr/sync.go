// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vgr

import (
	"fmt"

	"cogentcore.org/core/base/errors"
	vk "github.com/goki/vulkan"
)

// NewSemaphore creates a binary semaphore.
func NewSemaphore(dev *Device) (vk.Semaphore, error) {
	sci := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	var sem vk.Semaphore
	if res := vk.CreateSemaphore(dev.Device, &sci, nil, &sem); res != vk.Success {
		return vk.NullSemaphore, errors.Log(fmt.Errorf("vgr: create semaphore: %w", vk.Error(res)))
	}
	return sem, nil
}

// NewFence creates a fence, optionally pre-signaled so the first
// wait on a never-submitted frame slot does not block forever.
func NewFence(dev *Device, signaled bool) (vk.Fence, error) {
	fci := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	if signaled {
		fci.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	if res := vk.CreateFence(dev.Device, &fci, nil, &fence); res != vk.Success {
		return vk.NullFence, errors.Log(fmt.Errorf("vgr: create fence: %w", vk.Error(res)))
	}
	return fence, nil
}

// FrameSync is the semaphore set for one frame slot: the "image
// available" semaphore signaled by acquisition, one "render complete"
// semaphore per pass forming the GPU-side submission chain, and the
// terminal "present complete" semaphore that gates presentation.
type FrameSync struct {
	// ImageAvailable is signaled when the acquired swapchain image is
	// ready to be written.
	ImageAvailable vk.Semaphore

	// PassComplete has one semaphore per pass; pass i signals
	// PassComplete[i] and pass i+1 waits on it.
	PassComplete []vk.Semaphore

	// PresentComplete is signaled by the terminal pass; presentation
	// waits on it.
	PresentComplete vk.Semaphore

	device *Device
}

// NewFrameSync creates the semaphore set for one frame slot, with a
// chain semaphore per pass.
func NewFrameSync(dev *Device, npasses int) (*FrameSync, error) {
	fs := &FrameSync{device: dev}
	var err error
	if fs.ImageAvailable, err = NewSemaphore(dev); err != nil {
		return nil, err
	}
	fs.PassComplete = make([]vk.Semaphore, npasses)
	for i := range fs.PassComplete {
		if fs.PassComplete[i], err = NewSemaphore(dev); err != nil {
			fs.Release()
			return nil, err
		}
	}
	if fs.PresentComplete, err = NewSemaphore(dev); err != nil {
		fs.Release()
		return nil, err
	}
	return fs, nil
}

// WaitFor returns the semaphore that pass i must wait on: the image
// acquisition for the first pass, the previous pass's completion
// otherwise.
func (fs *FrameSync) WaitFor(pass int) vk.Semaphore {
	if pass == 0 {
		return fs.ImageAvailable
	}
	return fs.PassComplete[pass-1]
}

// SignalFor returns the semaphore that pass i signals: its chain
// semaphore, or PresentComplete for the terminal pass.
func (fs *FrameSync) SignalFor(pass, npasses int) vk.Semaphore {
	if pass == npasses-1 {
		return fs.PresentComplete
	}
	return fs.PassComplete[pass]
}

// Release destroys all semaphores in the set.
func (fs *FrameSync) Release() {
	dev := fs.device.Device
	if fs.ImageAvailable != vk.NullSemaphore {
		vk.DestroySemaphore(dev, fs.ImageAvailable, nil)
		fs.ImageAvailable = vk.NullSemaphore
	}
	for i, sem := range fs.PassComplete {
		if sem != vk.NullSemaphore {
			vk.DestroySemaphore(dev, sem, nil)
			fs.PassComplete[i] = vk.NullSemaphore
		}
	}
	fs.PassComplete = nil
	if fs.PresentComplete != vk.NullSemaphore {
		vk.DestroySemaphore(dev, fs.PresentComplete, nil)
		fs.PresentComplete = vk.NullSemaphore
	}
}
