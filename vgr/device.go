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

// QueueIndexUnset marks a queue family index that was not found.
const QueueIndexUnset = ^uint32(0)

// Device is the logical device with its queue family indexes and queues.
// One Device serves the whole renderer; it is created once at startup
// and released only after WaitIdle has drained all GPU work.
type Device struct {
	// Device is the logical device handle.
	Device vk.Device

	// GraphicsIndex, ComputeIndex, TransferIndex, PresentIndex are the
	// queue family indexes; Compute and Transfer fall back to the
	// graphics family when no dedicated family exists.
	GraphicsIndex uint32
	ComputeIndex  uint32
	TransferIndex uint32
	PresentIndex  uint32

	// GraphicsQueue and PresentQueue are the submission queues.
	// They may be the same queue.
	GraphicsQueue vk.Queue
	PresentQueue  vk.Queue

	// CommandPool is the pool for long-lived, resettable per-pass
	// command buffers.
	CommandPool vk.CommandPool

	// TransferPool is the pool for transient one-shot transfer buffers
	// (uploads, readbacks).
	TransferPool vk.CommandPool

	// GPU for properties and memory lookups.
	GPU *GPU

	released bool
}

// NewDevice creates the logical device for the given surface.
// Pass a nil surface for compute or offscreen use; the present queue
// then aliases the graphics queue. Failure is fatal at init.
func NewDevice(gp *GPU, surface vk.Surface) (*Device, error) {
	dv := &Device{GPU: gp,
		GraphicsIndex: QueueIndexUnset, ComputeIndex: QueueIndexUnset,
		TransferIndex: QueueIndexUnset, PresentIndex: QueueIndexUnset}

	var n uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(gp.PhysicalDevice, &n, nil)
	qf := make([]vk.QueueFamilyProperties, n)
	vk.GetPhysicalDeviceQueueFamilyProperties(gp.PhysicalDevice, &n, qf)
	for i := range qf {
		qf[i].Deref()
		fl := qf[i].QueueFlags
		idx := uint32(i)
		if fl&vk.QueueFlags(vk.QueueGraphicsBit) != 0 && dv.GraphicsIndex == QueueIndexUnset {
			dv.GraphicsIndex = idx
		}
		if fl&vk.QueueFlags(vk.QueueComputeBit) != 0 && dv.ComputeIndex == QueueIndexUnset {
			dv.ComputeIndex = idx
		}
		if fl&vk.QueueFlags(vk.QueueTransferBit) != 0 && dv.TransferIndex == QueueIndexUnset {
			dv.TransferIndex = idx
		}
		if surface != vk.NullSurface && dv.PresentIndex == QueueIndexUnset {
			var supported vk.Bool32
			vk.GetPhysicalDeviceSurfaceSupport(gp.PhysicalDevice, idx, surface, &supported)
			if supported.B() {
				dv.PresentIndex = idx
			}
		}
	}
	if dv.GraphicsIndex == QueueIndexUnset {
		return nil, errors.Log(fmt.Errorf("vgr.NewDevice: no graphics queue family"))
	}
	if dv.ComputeIndex == QueueIndexUnset {
		dv.ComputeIndex = dv.GraphicsIndex
	}
	if dv.TransferIndex == QueueIndexUnset {
		dv.TransferIndex = dv.GraphicsIndex
	}
	if surface != vk.NullSurface && dv.PresentIndex == QueueIndexUnset {
		return nil, errors.Log(fmt.Errorf("vgr.NewDevice: no present-capable queue family for surface"))
	}
	if surface == vk.NullSurface {
		dv.PresentIndex = dv.GraphicsIndex
	}

	families := []uint32{dv.GraphicsIndex}
	if dv.PresentIndex != dv.GraphicsIndex {
		families = append(families, dv.PresentIndex)
	}
	qcis := make([]vk.DeviceQueueCreateInfo, len(families))
	for i, fam := range families {
		qcis[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: fam,
			QueueCount:       1,
			PQueuePriorities: []float32{1},
		}
	}
	exts := []string{}
	if surface != vk.NullSurface {
		exts = append(exts, vk.KhrSwapchainExtensionName)
	}
	dci := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(qcis)),
		PQueueCreateInfos:       qcis,
		EnabledExtensionCount:   uint32(len(exts)),
		PpEnabledExtensionNames: safeStrings(exts),
	}
	var dev vk.Device
	if res := vk.CreateDevice(gp.PhysicalDevice, &dci, nil, &dev); res != vk.Success {
		return nil, errors.Log(fmt.Errorf("vgr.NewDevice: CreateDevice failed: %w", vk.Error(res)))
	}
	dv.Device = dev

	vk.GetDeviceQueue(dev, dv.GraphicsIndex, 0, &dv.GraphicsQueue)
	if dv.PresentIndex != dv.GraphicsIndex {
		vk.GetDeviceQueue(dev, dv.PresentIndex, 0, &dv.PresentQueue)
	} else {
		dv.PresentQueue = dv.GraphicsQueue
	}

	if err := dv.makePools(); err != nil {
		dv.Release()
		return nil, err
	}
	return dv, nil
}

func (dv *Device) makePools() error {
	pci := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: dv.GraphicsIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(dv.Device, &pci, nil, &pool); res != vk.Success {
		return errors.Log(fmt.Errorf("vgr: command pool: %w", vk.Error(res)))
	}
	dv.CommandPool = pool

	tci := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: dv.TransferIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
	}
	var tpool vk.CommandPool
	if res := vk.CreateCommandPool(dv.Device, &tci, nil, &tpool); res != vk.Success {
		return errors.Log(fmt.Errorf("vgr: transfer pool: %w", vk.Error(res)))
	}
	dv.TransferPool = tpool
	return nil
}

// WaitIdle blocks until the device has finished all submitted work.
func (dv *Device) WaitIdle() {
	if dv.Device != nil {
		vk.DeviceWaitIdle(dv.Device)
	}
}

// Release waits for the device to go idle and destroys it.
// Double release is safe but logged as anomalous.
func (dv *Device) Release() {
	if dv.released {
		slog.Warn("vgr.Device: double Release")
		return
	}
	dv.released = true
	if dv.Device == nil {
		return
	}
	dv.WaitIdle()
	if dv.CommandPool != vk.NullCommandPool {
		vk.DestroyCommandPool(dv.Device, dv.CommandPool, nil)
		dv.CommandPool = vk.NullCommandPool
	}
	if dv.TransferPool != vk.NullCommandPool {
		vk.DestroyCommandPool(dv.Device, dv.TransferPool, nil)
		dv.TransferPool = vk.NullCommandPool
	}
	vk.DestroyDevice(dv.Device, nil)
	dv.Device = nil
}
