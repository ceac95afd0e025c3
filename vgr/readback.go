// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vgr

import (
	vk "github.com/goki/vulkan"
)

// ReadImage copies a device image into host memory and returns the
// raw pixel bytes in the image's native format. fromLayout is the
// layout the image is in when the copy starts; it is restored before
// the copy command completes. The call blocks until the GPU finishes.
func ReadImage(dev *Device, img vk.Image, ft Format, width, height int, fromLayout vk.ImageLayout) ([]byte, error) {
	size := width * height * ft.Bytes()
	dst, err := NewBuffer(dev, "readback", size,
		vk.BufferUsageFlags(vk.BufferUsageTransferDstBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit), false)
	if err != nil {
		return nil, err
	}
	defer dst.Release()

	err = oneShotTransfer(dev, func(cmd vk.CommandBuffer) {
		barrierImage(cmd, img, fromLayout, vk.ImageLayoutTransferSrcOptimal)
		region := vk.BufferImageCopy{
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LayerCount: 1,
			},
			ImageExtent: vk.Extent3D{Width: uint32(width), Height: uint32(height), Depth: 1},
		}
		vk.CmdCopyImageToBuffer(cmd, img, vk.ImageLayoutTransferSrcOptimal,
			dst.Handle, 1, []vk.BufferImageCopy{region})
		barrierImage(cmd, img, vk.ImageLayoutTransferSrcOptimal, fromLayout)
	})
	if err != nil {
		return nil, err
	}
	out := make([]byte, size)
	if err := dst.CopyTo(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Read copies a render-target texture's pixels to host memory.
func (tx *Texture) Read() ([]byte, error) {
	return ReadImage(tx.device, tx.Image, tx.Format, tx.Width, tx.Height, tx.Layout)
}

// CmdBlit records a scaling blit from one color image to another,
// transitioning both to transfer layouts and back around the copy.
// Used by blit-input passes to move attachments without sampling.
func CmdBlit(cmd vk.CommandBuffer, src vk.Image, srcLayout vk.ImageLayout, srcW, srcH int, dst vk.Image, dstLayout vk.ImageLayout, dstW, dstH int) {
	barrierImage(cmd, src, srcLayout, vk.ImageLayoutTransferSrcOptimal)
	barrierImage(cmd, dst, dstLayout, vk.ImageLayoutTransferDstOptimal)
	sub := vk.ImageSubresourceLayers{
		AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
		LayerCount: 1,
	}
	region := vk.ImageBlit{
		SrcSubresource: sub,
		SrcOffsets: [2]vk.Offset3D{{}, {X: int32(srcW), Y: int32(srcH), Z: 1}},
		DstSubresource: sub,
		DstOffsets: [2]vk.Offset3D{{}, {X: int32(dstW), Y: int32(dstH), Z: 1}},
	}
	vk.CmdBlitImage(cmd, src, vk.ImageLayoutTransferSrcOptimal,
		dst, vk.ImageLayoutTransferDstOptimal, 1, []vk.ImageBlit{region}, vk.FilterLinear)
	// Undefined as a declared layout means the caller does not care;
	// transitioning back to Undefined is not valid, so leave the image
	// in its transfer layout in that case.
	if srcLayout != vk.ImageLayoutUndefined {
		barrierImage(cmd, src, vk.ImageLayoutTransferSrcOptimal, srcLayout)
	}
	if dstLayout != vk.ImageLayoutUndefined {
		barrierImage(cmd, dst, vk.ImageLayoutTransferDstOptimal, dstLayout)
	}
}

// barrierImage records a full-barrier layout transition on a color
// image. Readback is not a hot path so conservative stage masks are
// used throughout.
func barrierImage(cmd vk.CommandBuffer, img vk.Image, from, to vk.ImageLayout) {
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(vk.AccessMemoryWriteBit),
		DstAccessMask:       vk.AccessFlags(vk.AccessTransferReadBit | vk.AccessMemoryWriteBit),
		OldLayout:           from,
		NewLayout:           to,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1, LayerCount: 1,
		},
	}
	vk.CmdPipelineBarrier(cmd,
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
}
