// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vgr

import (
	"fmt"
	"image"
	"log/slog"

	vk "github.com/goki/vulkan"
)

// Texture is a sampled 2D image with its view and sampler.
// Render-target textures additionally carry attachment usage so a
// pass can both write them and expose them as inputs to later passes.
type Texture struct {
	Name   string
	Format Format
	Width  int
	Height int

	Image   vk.Image
	View    vk.ImageView
	Sampler vk.Sampler

	// Layout is the last layout this texture was transitioned to.
	Layout vk.ImageLayout

	memory   vk.DeviceMemory
	device   *Device
	released bool
}

// NewTexture uploads pixels as an immutable sampled texture, using a
// staging buffer and a one-shot transfer with the required layout
// transitions. Pixels must be Width*Height*Format.Bytes() long.
func NewTexture(dev *Device, name string, ft Format, width, height int, pixels []byte) (*Texture, error) {
	need := width * height * ft.Bytes()
	if len(pixels) < need {
		return nil, fmt.Errorf("vgr.NewTexture %s: have %d pixel bytes, need %d", name, len(pixels), need)
	}
	tx := &Texture{Name: name, Format: ft, Width: width, Height: height, device: dev}
	usage := vk.ImageUsageFlags(vk.ImageUsageTransferDstBit | vk.ImageUsageSampledBit)
	if err := tx.makeImage(usage, vk.MemoryPropertyDeviceLocalBit); err != nil {
		return nil, err
	}
	stage, err := NewBuffer(dev, name+"-stage", need,
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit), false)
	if err != nil {
		tx.Release()
		return nil, err
	}
	defer stage.Release()
	if err := stage.CopyFrom(pixels); err != nil {
		tx.Release()
		return nil, err
	}
	err = oneShotTransfer(dev, func(cmd vk.CommandBuffer) {
		tx.transition(cmd, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal)
		region := vk.BufferImageCopy{
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LayerCount: 1,
			},
			ImageExtent: vk.Extent3D{Width: uint32(width), Height: uint32(height), Depth: 1},
		}
		vk.CmdCopyBufferToImage(cmd, stage.Handle, tx.Image,
			vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})
		tx.transition(cmd, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal)
	})
	if err != nil {
		tx.Release()
		return nil, err
	}
	if err := tx.makeView(); err != nil {
		tx.Release()
		return nil, err
	}
	if err := tx.makeSampler(); err != nil {
		tx.Release()
		return nil, err
	}
	return tx, nil
}

// NewTextureFromImage uploads a standard image, converting to RGBA8.
func NewTextureFromImage(dev *Device, name string, img image.Image) (*Texture, error) {
	rgba, ok := img.(*image.RGBA)
	if !ok {
		b := img.Bounds()
		rgba = image.NewRGBA(b)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				rgba.Set(x, y, img.At(x, y))
			}
		}
	}
	sz := rgba.Bounds().Size()
	return NewTexture(dev, name, FormatRGBA8, sz.X, sz.Y, rgba.Pix)
}

// NewRenderTarget makes an offscreen color or depth attachment that
// can also be sampled by downstream passes or read back.
func NewRenderTarget(dev *Device, name string, ft Format, width, height int) (*Texture, error) {
	tx := &Texture{Name: name, Format: ft, Width: width, Height: height, device: dev}
	var usage vk.ImageUsageFlags
	if ft.IsDepth() {
		usage = vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit)
	} else {
		usage = vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit |
			vk.ImageUsageSampledBit | vk.ImageUsageTransferSrcBit)
	}
	if err := tx.makeImage(usage, vk.MemoryPropertyDeviceLocalBit); err != nil {
		return nil, err
	}
	if err := tx.makeView(); err != nil {
		tx.Release()
		return nil, err
	}
	if !ft.IsDepth() {
		if err := tx.makeSampler(); err != nil {
			tx.Release()
			return nil, err
		}
	}
	return tx, nil
}

// DefaultTexture is the shared 1x1 white texture bound to any texture
// slot a material leaves empty, so descriptor sets are always complete.
func DefaultTexture(dev *Device) (*Texture, error) {
	return NewTexture(dev, "default-white", FormatRGBA8, 1, 1, []byte{0xff, 0xff, 0xff, 0xff})
}

func (tx *Texture) makeImage(usage vk.ImageUsageFlags, props vk.MemoryPropertyFlagBits) error {
	var img vk.Image
	ret := vk.CreateImage(tx.device.Device, &vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    tx.Format.VkFormat(),
		Extent:    vk.Extent3D{Width: uint32(tx.Width), Height: uint32(tx.Height), Depth: 1},
		MipLevels: 1, ArrayLayers: 1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil, &img)
	if ret != vk.Success {
		return fmt.Errorf("vgr.Texture %s: image create failed: %v", tx.Name, vk.Error(ret))
	}
	tx.Image = img
	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(tx.device.Device, tx.Image, &req)
	req.Deref()
	idx, err := tx.device.GPU.MemoryTypeIndex(req.MemoryTypeBits, vk.MemoryPropertyFlags(props))
	if err != nil {
		return err
	}
	var mem vk.DeviceMemory
	ret = vk.AllocateMemory(tx.device.Device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  req.Size,
		MemoryTypeIndex: idx,
	}, nil, &mem)
	if ret != vk.Success {
		return fmt.Errorf("vgr.Texture %s: memory alloc failed: %v", tx.Name, vk.Error(ret))
	}
	tx.memory = mem
	vk.BindImageMemory(tx.device.Device, tx.Image, tx.memory, 0)
	tx.Layout = vk.ImageLayoutUndefined
	return nil
}

func (tx *Texture) makeView() error {
	aspect := vk.ImageAspectFlags(vk.ImageAspectColorBit)
	if tx.Format.IsDepth() {
		aspect = vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	var view vk.ImageView
	ret := vk.CreateImageView(tx.device.Device, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    tx.Image,
		ViewType: vk.ImageViewType2d,
		Format:   tx.Format.VkFormat(),
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspect, LevelCount: 1, LayerCount: 1,
		},
	}, nil, &view)
	if ret != vk.Success {
		return fmt.Errorf("vgr.Texture %s: view create failed: %v", tx.Name, vk.Error(ret))
	}
	tx.View = view
	return nil
}

func (tx *Texture) makeSampler() error {
	var smp vk.Sampler
	ret := vk.CreateSampler(tx.device.Device, &vk.SamplerCreateInfo{
		SType:        vk.StructureTypeSamplerCreateInfo,
		MagFilter:    vk.FilterLinear,
		MinFilter:    vk.FilterLinear,
		AddressModeU: vk.SamplerAddressModeRepeat,
		AddressModeV: vk.SamplerAddressModeRepeat,
		AddressModeW: vk.SamplerAddressModeRepeat,
		MaxLod:       1,
		BorderColor:  vk.BorderColorIntOpaqueBlack,
	}, nil, &smp)
	if ret != vk.Success {
		return fmt.Errorf("vgr.Texture %s: sampler create failed: %v", tx.Name, vk.Error(ret))
	}
	tx.Sampler = smp
	return nil
}

// transition records an image layout transition barrier on cmd.
func (tx *Texture) transition(cmd vk.CommandBuffer, from, to vk.ImageLayout) {
	aspect := vk.ImageAspectFlags(vk.ImageAspectColorBit)
	if tx.Format.IsDepth() {
		aspect = vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           from,
		NewLayout:           to,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               tx.Image,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspect, LevelCount: 1, LayerCount: 1,
		},
	}
	var srcStage, dstStage vk.PipelineStageFlags
	switch {
	case from == vk.ImageLayoutUndefined && to == vk.ImageLayoutTransferDstOptimal:
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	case from == vk.ImageLayoutTransferDstOptimal && to == vk.ImageLayoutShaderReadOnlyOptimal:
		barrier.SrcAccessMask = vk.AccessFlags(vk.AccessTransferWriteBit)
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessShaderReadBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit)
	case to == vk.ImageLayoutTransferSrcOptimal:
		barrier.SrcAccessMask = vk.AccessFlags(vk.AccessColorAttachmentWriteBit)
		barrier.DstAccessMask = vk.AccessFlags(vk.AccessTransferReadBit)
		srcStage = vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	default:
		srcStage = vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
		dstStage = vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	}
	vk.CmdPipelineBarrier(cmd, srcStage, dstStage, 0, 0, nil, 0, nil,
		1, []vk.ImageMemoryBarrier{barrier})
	tx.Layout = to
}

// Release frees all Vulkan objects. Safe to call more than once.
func (tx *Texture) Release() {
	if tx == nil || tx.device == nil {
		return
	}
	if tx.released {
		slog.Warn("vgr.Texture: already released", "texture", tx.Name)
		return
	}
	tx.released = true
	if tx.Sampler != vk.NullSampler {
		vk.DestroySampler(tx.device.Device, tx.Sampler, nil)
	}
	if tx.View != vk.NullImageView {
		vk.DestroyImageView(tx.device.Device, tx.View, nil)
	}
	if tx.Image != vk.NullImage {
		vk.DestroyImage(tx.device.Device, tx.Image, nil)
	}
	if tx.memory != vk.NullDeviceMemory {
		vk.FreeMemory(tx.device.Device, tx.memory, nil)
	}
}
