// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vgr

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

// BindingKind is what a descriptor binding holds.
type BindingKind int32 //enums:enum

const (
	// UniformDynamic is a uniform buffer bound with a dynamic offset,
	// so one buffer serves every object and frame slot.
	UniformDynamic BindingKind = iota

	// SampledTexture is a combined image sampler.
	SampledTexture
)

func (bk BindingKind) descriptorType() vk.DescriptorType {
	if bk == SampledTexture {
		return vk.DescriptorTypeCombinedImageSampler
	}
	return vk.DescriptorTypeUniformBufferDynamic
}

// Binding describes one descriptor binding within a set layout.
type Binding struct {
	Name  string
	Kind  BindingKind
	Count int // array size, 1 for scalars
}

// SetLayout is a named descriptor set layout.
type SetLayout struct {
	Bindings []Binding
	Handle   vk.DescriptorSetLayout
	device   *Device
}

// NewSetLayout builds a layout with the given bindings, visible to
// both vertex and fragment stages.
func NewSetLayout(dev *Device, bindings []Binding) (*SetLayout, error) {
	vkb := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, bd := range bindings {
		n := bd.Count
		if n <= 0 {
			n = 1
		}
		vkb[i] = vk.DescriptorSetLayoutBinding{
			Binding:         uint32(i),
			DescriptorType:  bd.Kind.descriptorType(),
			DescriptorCount: uint32(n),
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageVertexBit | vk.ShaderStageFragmentBit),
		}
	}
	var hnd vk.DescriptorSetLayout
	ret := vk.CreateDescriptorSetLayout(dev.Device, &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vkb)),
		PBindings:    vkb,
	}, nil, &hnd)
	if ret != vk.Success {
		return nil, fmt.Errorf("vgr.NewSetLayout: %v", vk.Error(ret))
	}
	return &SetLayout{Bindings: bindings, Handle: hnd, device: dev}, nil
}

// Release destroys the layout.
func (sl *SetLayout) Release() {
	if sl == nil || sl.Handle == vk.NullDescriptorSetLayout {
		return
	}
	vk.DestroyDescriptorSetLayout(sl.device.Device, sl.Handle, nil)
	sl.Handle = vk.NullDescriptorSetLayout
}

// DescriptorPool allocates descriptor sets for the engine's layouts.
type DescriptorPool struct {
	Handle vk.DescriptorPool
	device *Device
}

// NewDescriptorPool sizes a pool for maxSets sets with room for the
// given number of dynamic uniforms and sampled textures overall.
func NewDescriptorPool(dev *Device, maxSets, nUniforms, nTextures int) (*DescriptorPool, error) {
	sizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBufferDynamic, DescriptorCount: uint32(max(nUniforms, 1))},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: uint32(max(nTextures, 1))},
	}
	var hnd vk.DescriptorPool
	ret := vk.CreateDescriptorPool(dev.Device, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       uint32(maxSets),
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}, nil, &hnd)
	if ret != vk.Success {
		return nil, fmt.Errorf("vgr.NewDescriptorPool: %v", vk.Error(ret))
	}
	return &DescriptorPool{Handle: hnd, device: dev}, nil
}

// Alloc allocates one descriptor set of the given layout.
func (dp *DescriptorPool) Alloc(layout *SetLayout) (vk.DescriptorSet, error) {
	var set vk.DescriptorSet
	ret := vk.AllocateDescriptorSets(dp.device.Device, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     dp.Handle,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout.Handle},
	}, &set)
	if ret != vk.Success {
		return vk.NullDescriptorSet, fmt.Errorf("vgr.DescriptorPool.Alloc: %v", vk.Error(ret))
	}
	return set, nil
}

// Free returns a set to the pool.
func (dp *DescriptorPool) Free(set vk.DescriptorSet) {
	vk.FreeDescriptorSets(dp.device.Device, dp.Handle, 1, &set)
}

// Release destroys the pool and all sets allocated from it.
func (dp *DescriptorPool) Release() {
	if dp == nil || dp.Handle == vk.NullDescriptorPool {
		return
	}
	vk.DestroyDescriptorPool(dp.device.Device, dp.Handle, nil)
	dp.Handle = vk.NullDescriptorPool
}

// WriteUniform points a dynamic uniform binding at a ring's buffer.
// The range is the block size; the dynamic offset selects frame+slot
// at bind time.
func WriteUniform(dev *Device, set vk.DescriptorSet, binding int, ring *UniformRing) {
	info := vk.DescriptorBufferInfo{
		Buffer: ring.Buffer.Handle,
		Offset: 0,
		Range:  vk.DeviceSize(ring.BlockSize),
	}
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          set,
		DstBinding:      uint32(binding),
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeUniformBufferDynamic,
		PBufferInfo:     []vk.DescriptorBufferInfo{info},
	}
	vk.UpdateDescriptorSets(dev.Device, 1, []vk.WriteDescriptorSet{write}, 0, nil)
}

// WriteTextures binds textures to an array binding starting at
// element 0. All entries must be non-nil; use the shared default
// texture for unused slots.
func WriteTextures(dev *Device, set vk.DescriptorSet, binding int, txs []*Texture) {
	infos := make([]vk.DescriptorImageInfo, len(txs))
	for i, tx := range txs {
		infos[i] = vk.DescriptorImageInfo{
			Sampler:     tx.Sampler,
			ImageView:   tx.View,
			ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
		}
	}
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          set,
		DstBinding:      uint32(binding),
		DescriptorCount: uint32(len(infos)),
		DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
		PImageInfo:      infos,
	}
	vk.UpdateDescriptorSets(dev.Device, 1, []vk.WriteDescriptorSet{write}, 0, nil)
}
