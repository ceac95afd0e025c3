// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vgr

import (
	"errors"
	"fmt"
	"log/slog"

	vk "github.com/goki/vulkan"
)

// ErrSwapchainStale is returned by Acquire and Present when the
// swapchain no longer matches the surface and must be recreated.
var ErrSwapchainStale = errors.New("swapchain out of date")

// Swapchain owns the presentable images for one surface.
type Swapchain struct {
	Surface vk.Surface
	Handle  vk.Swapchain
	Format  vk.Format
	Width   int
	Height  int

	Images []vk.Image
	Views  []vk.ImageView

	device *Device
}

// NewSwapchain builds a swapchain for the surface at the given pixel
// size, preferring mailbox present mode and falling back to FIFO.
func NewSwapchain(dev *Device, surface vk.Surface, width, height int) (*Swapchain, error) {
	sw := &Swapchain{Surface: surface, device: dev}
	if err := sw.config(width, height); err != nil {
		return nil, err
	}
	return sw, nil
}

func (sw *Swapchain) config(width, height int) error {
	dev := sw.device
	var caps vk.SurfaceCapabilities
	vk.GetPhysicalDeviceSurfaceCapabilities(dev.GPU.PhysicalDevice, sw.Surface, &caps)
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()

	ext := vk.Extent2D{Width: uint32(width), Height: uint32(height)}
	if caps.CurrentExtent.Width != ^uint32(0) {
		ext = caps.CurrentExtent
	} else {
		ext.Width = min(max(ext.Width, caps.MinImageExtent.Width), caps.MaxImageExtent.Width)
		ext.Height = min(max(ext.Height, caps.MinImageExtent.Height), caps.MaxImageExtent.Height)
	}

	var nfmt uint32
	vk.GetPhysicalDeviceSurfaceFormats(dev.GPU.PhysicalDevice, sw.Surface, &nfmt, nil)
	fmts := make([]vk.SurfaceFormat, nfmt)
	vk.GetPhysicalDeviceSurfaceFormats(dev.GPU.PhysicalDevice, sw.Surface, &nfmt, fmts)
	format := vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	for i := range fmts {
		fmts[i].Deref()
		if fmts[i].Format == vk.FormatB8g8r8a8Unorm {
			format = fmts[i]
			break
		}
	}

	var nmode uint32
	vk.GetPhysicalDeviceSurfacePresentModes(dev.GPU.PhysicalDevice, sw.Surface, &nmode, nil)
	modes := make([]vk.PresentMode, nmode)
	vk.GetPhysicalDeviceSurfacePresentModes(dev.GPU.PhysicalDevice, sw.Surface, &nmode, modes)
	mode := vk.PresentModeFifo
	for _, md := range modes {
		if md == vk.PresentModeMailbox {
			mode = md
			break
		}
	}

	nimg := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && nimg > caps.MaxImageCount {
		nimg = caps.MaxImageCount
	}

	info := vk.SwapchainCreateInfo{
		SType:           vk.StructureTypeSwapchainCreateInfo,
		Surface:         sw.Surface,
		MinImageCount:   nimg,
		ImageFormat:     format.Format,
		ImageColorSpace: format.ColorSpace,
		ImageExtent:     ext,
		ImageArrayLayers: 1,
		ImageUsage: vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit |
			vk.ImageUsageTransferSrcBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      mode,
		Clipped:          vk.True,
		OldSwapchain:     sw.Handle,
	}
	if dev.GraphicsIndex != dev.PresentIndex {
		info.ImageSharingMode = vk.SharingModeConcurrent
		info.QueueFamilyIndexCount = 2
		info.PQueueFamilyIndices = []uint32{dev.GraphicsIndex, dev.PresentIndex}
	}
	var hnd vk.Swapchain
	ret := vk.CreateSwapchain(dev.Device, &info, nil, &hnd)
	if ret != vk.Success {
		return fmt.Errorf("vgr.Swapchain: create failed: %v", vk.Error(ret))
	}
	if sw.Handle != vk.NullSwapchain {
		sw.destroyViews()
		vk.DestroySwapchain(dev.Device, sw.Handle, nil)
	}
	sw.Handle = hnd
	sw.Format = format.Format
	sw.Width = int(ext.Width)
	sw.Height = int(ext.Height)

	var cnt uint32
	vk.GetSwapchainImages(dev.Device, sw.Handle, &cnt, nil)
	sw.Images = make([]vk.Image, cnt)
	vk.GetSwapchainImages(dev.Device, sw.Handle, &cnt, sw.Images)
	sw.Views = make([]vk.ImageView, cnt)
	for i, img := range sw.Images {
		var view vk.ImageView
		ret = vk.CreateImageView(dev.Device, &vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    img,
			ViewType: vk.ImageViewType2d,
			Format:   sw.Format,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1, LayerCount: 1,
			},
		}, nil, &view)
		if ret != vk.Success {
			return fmt.Errorf("vgr.Swapchain: image view %d create failed: %v", i, vk.Error(ret))
		}
		sw.Views[i] = view
	}
	slog.Debug("vgr.Swapchain: configured", "width", sw.Width, "height", sw.Height, "images", cnt)
	return nil
}

// Acquire gets the next presentable image index, signaling sem when
// the image is ready. Returns ErrSwapchainStale when the swapchain
// must be recreated before rendering can continue.
func (sw *Swapchain) Acquire(sem vk.Semaphore) (int, error) {
	var idx uint32
	ret := vk.AcquireNextImage(sw.device.Device, sw.Handle, ^uint64(0), sem, vk.NullFence, &idx)
	switch ret {
	case vk.Success, vk.Suboptimal:
		return int(idx), nil
	case vk.ErrorOutOfDate:
		return 0, ErrSwapchainStale
	default:
		return 0, fmt.Errorf("vgr.Swapchain.Acquire: %v", vk.Error(ret))
	}
}

// Present queues image idx for presentation after wait signals.
// Suboptimal and out-of-date both report ErrSwapchainStale so the
// caller recreates before the next frame.
func (sw *Swapchain) Present(idx int, wait vk.Semaphore) error {
	ret := vk.QueuePresent(sw.device.PresentQueue, &vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{wait},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{sw.Handle},
		PImageIndices:      []uint32{uint32(idx)},
	})
	switch ret {
	case vk.Success:
		return nil
	case vk.ErrorOutOfDate, vk.Suboptimal:
		return ErrSwapchainStale
	default:
		return fmt.Errorf("vgr.Swapchain.Present: %v", vk.Error(ret))
	}
}

// Recreate rebuilds the swapchain for a new surface size. The caller
// must have drained in-flight frames first.
func (sw *Swapchain) Recreate(width, height int) error {
	sw.device.WaitIdle()
	return sw.config(width, height)
}

func (sw *Swapchain) destroyViews() {
	for _, view := range sw.Views {
		vk.DestroyImageView(sw.device.Device, view, nil)
	}
	sw.Views = nil
}

// Release destroys the swapchain and views. The surface itself
// belongs to the window layer.
func (sw *Swapchain) Release() {
	if sw == nil || sw.Handle == vk.NullSwapchain {
		return
	}
	sw.destroyViews()
	vk.DestroySwapchain(sw.device.Device, sw.Handle, nil)
	sw.Handle = vk.NullSwapchain
}
