// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vgr

import (
	"fmt"
	"log/slog"
	"sync"

	vk "github.com/goki/vulkan"
)

// VertexLayout names a fixed vertex attribute arrangement. Meshes
// declare which layout their interleaved data uses, and the pipeline
// cache keys on it so geometry with different attributes gets a
// matching pipeline variant.
type VertexLayout int32 //enums:enum

const (
	// VtxPosNormUV is position, normal, texcoord. 32 bytes.
	VtxPosNormUV VertexLayout = iota

	// VtxPosNormUVColor adds a per-vertex RGBA color. 48 bytes.
	VtxPosNormUVColor

	// VtxPosUV is position, texcoord, for post-process quads. 20 bytes.
	VtxPosUV
)

type vtxAttr struct {
	format vk.Format
	offset uint32
}

type vtxDesc struct {
	stride uint32
	attrs  []vtxAttr
}

var vtxDescs = map[VertexLayout]vtxDesc{
	VtxPosNormUV: {32, []vtxAttr{
		{vk.FormatR32g32b32Sfloat, 0},
		{vk.FormatR32g32b32Sfloat, 12},
		{vk.FormatR32g32Sfloat, 24},
	}},
	VtxPosNormUVColor: {48, []vtxAttr{
		{vk.FormatR32g32b32Sfloat, 0},
		{vk.FormatR32g32b32Sfloat, 12},
		{vk.FormatR32g32Sfloat, 24},
		{vk.FormatR32g32b32a32Sfloat, 32},
	}},
	VtxPosUV: {20, []vtxAttr{
		{vk.FormatR32g32b32Sfloat, 0},
		{vk.FormatR32g32Sfloat, 12},
	}},
}

// Stride returns the byte stride of one vertex in this layout.
func (vl VertexLayout) Stride() int { return int(vtxDescs[vl].stride) }

// PipelineKey identifies one pipeline variant. It is a comparable
// value type so it can key the cache map directly.
type PipelineKey struct {
	Shader   int // ShaderSet.ID
	Layout   VertexLayout
	Topology Topology
	Blend    BlendMode
	Cull     CullMode
	Depth    DepthMode

	// Instanced adds a second vertex binding of per-instance model
	// matrices, advancing per instance.
	Instanced bool
}

// InstanceStride is the per-instance data stride: one 4x4 matrix.
const InstanceStride = 64

// Pipeline is one compiled graphics pipeline variant.
type Pipeline struct {
	Key    PipelineKey
	Handle vk.Pipeline
}

// PipelineCache builds pipeline variants on demand and returns cached
// ones for keys already seen. All pipelines share one layout, built
// from the engine's set layouts, so descriptor sets bind uniformly.
type PipelineCache struct {
	Layout vk.PipelineLayout

	device  *Device
	shaders map[int]*ShaderSet

	mu    sync.Mutex
	cache map[pipelineCacheKey]*Pipeline
}

// pipelineCacheKey adds the render pass to the variant key: the same
// material state needs distinct pipelines for passes with different
// attachment formats or counts.
type pipelineCacheKey struct {
	PipelineKey
	pass    vk.RenderPass
	ncolors int
}

// NewPipelineCache makes a cache whose pipelines use the given set
// layouts, bound in order.
func NewPipelineCache(dev *Device, sets []*SetLayout) (*PipelineCache, error) {
	hnds := make([]vk.DescriptorSetLayout, len(sets))
	for i, sl := range sets {
		hnds[i] = sl.Handle
	}
	var layout vk.PipelineLayout
	ret := vk.CreatePipelineLayout(dev.Device, &vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(hnds)),
		PSetLayouts:    hnds,
	}, nil, &layout)
	if ret != vk.Success {
		return nil, fmt.Errorf("vgr.NewPipelineCache: layout create failed: %v", vk.Error(ret))
	}
	return &PipelineCache{
		Layout:  layout,
		device:  dev,
		shaders: make(map[int]*ShaderSet),
		cache:   make(map[pipelineCacheKey]*Pipeline),
	}, nil
}

// Register makes a shader set resolvable by its ID in pipeline keys.
func (pc *PipelineCache) Register(ss *ShaderSet) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.shaders[ss.ID] = ss
}

// Get returns the pipeline for key in the given render pass with
// ncolors color attachments, building it on first use.
func (pc *PipelineCache) Get(key PipelineKey, pass vk.RenderPass, ncolors int) (*Pipeline, error) {
	if ncolors < 1 {
		ncolors = 1
	}
	ck := pipelineCacheKey{key, pass, ncolors}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pl, ok := pc.cache[ck]; ok {
		return pl, nil
	}
	ss, ok := pc.shaders[key.Shader]
	if !ok {
		return nil, fmt.Errorf("vgr.PipelineCache: unknown shader id %d", key.Shader)
	}
	pl, err := pc.build(key, ss, pass, ncolors)
	if err != nil {
		return nil, err
	}
	pc.cache[ck] = pl
	slog.Debug("vgr.PipelineCache: built variant", "shader", ss.Name, "key", key)
	return pl, nil
}

// Len returns the number of cached variants.
func (pc *PipelineCache) Len() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return len(pc.cache)
}

// Invalidate drops every cached variant using the given shader set,
// so the next Get rebuilds against its current modules. Used by live
// reload after ShaderSet.Reload.
func (pc *PipelineCache) Invalidate(shaderID int) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	for ck, pl := range pc.cache {
		if ck.Shader != shaderID {
			continue
		}
		vk.DestroyPipeline(pc.device.Device, pl.Handle, nil)
		delete(pc.cache, ck)
	}
}

func (pc *PipelineCache) build(key PipelineKey, ss *ShaderSet, pass vk.RenderPass, ncolors int) (*Pipeline, error) {
	stages := []vk.PipelineShaderStageCreateInfo{
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageVertexBit,
			Module: ss.Vertex,
			PName:  safeString("main"),
		},
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFragmentBit,
			Module: ss.Fragment,
			PName:  safeString("main"),
		},
	}
	vd := vtxDescs[key.Layout]
	attrs := make([]vk.VertexInputAttributeDescription, len(vd.attrs))
	for i, at := range vd.attrs {
		attrs[i] = vk.VertexInputAttributeDescription{
			Location: uint32(i),
			Binding:  0,
			Format:   at.format,
			Offset:   at.offset,
		}
	}
	binds := []vk.VertexInputBindingDescription{
		{Binding: 0, Stride: vd.stride, InputRate: vk.VertexInputRateVertex},
	}
	if key.Instanced {
		binds = append(binds, vk.VertexInputBindingDescription{
			Binding: 1, Stride: InstanceStride, InputRate: vk.VertexInputRateInstance,
		})
		// a mat4 occupies four vec4 attribute locations
		for i := 0; i < 4; i++ {
			attrs = append(attrs, vk.VertexInputAttributeDescription{
				Location: uint32(len(vd.attrs) + i),
				Binding:  1,
				Format:   vk.FormatR32g32b32a32Sfloat,
				Offset:   uint32(16 * i),
			})
		}
	}
	vtxInput := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(binds)),
		PVertexBindingDescriptions:      binds,
		VertexAttributeDescriptionCount: uint32(len(attrs)),
		PVertexAttributeDescriptions:    attrs,
	}
	blend := vk.PipelineColorBlendAttachmentState{
		ColorWriteMask: vk.ColorComponentFlags(
			vk.ColorComponentRBit | vk.ColorComponentGBit |
				vk.ColorComponentBBit | vk.ColorComponentABit),
	}
	switch key.Blend {
	case BlendAlpha:
		blend.BlendEnable = vk.True
		blend.SrcColorBlendFactor = vk.BlendFactorSrcAlpha
		blend.DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		blend.ColorBlendOp = vk.BlendOpAdd
		blend.SrcAlphaBlendFactor = vk.BlendFactorOne
		blend.DstAlphaBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		blend.AlphaBlendOp = vk.BlendOpAdd
	case BlendAdditive:
		blend.BlendEnable = vk.True
		blend.SrcColorBlendFactor = vk.BlendFactorOne
		blend.DstColorBlendFactor = vk.BlendFactorOne
		blend.ColorBlendOp = vk.BlendOpAdd
		blend.SrcAlphaBlendFactor = vk.BlendFactorOne
		blend.DstAlphaBlendFactor = vk.BlendFactorOne
		blend.AlphaBlendOp = vk.BlendOpAdd
	}
	blends := make([]vk.PipelineColorBlendAttachmentState, ncolors)
	for i := range blends {
		blends[i] = blend
	}
	depth := vk.PipelineDepthStencilStateCreateInfo{
		SType:            vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthCompareOp:   vk.CompareOpLessOrEqual,
		MaxDepthBounds:   1,
		DepthTestEnable:  vk.True,
		DepthWriteEnable: vk.True,
	}
	switch key.Depth {
	case DepthReadOnly:
		depth.DepthWriteEnable = vk.False
	case DepthNone:
		depth.DepthTestEnable = vk.False
		depth.DepthWriteEnable = vk.False
	}
	var pl vk.Pipeline
	pls := make([]vk.Pipeline, 1)
	ret := vk.CreateGraphicsPipelines(pc.device.Device, vk.NullPipelineCache, 1,
		[]vk.GraphicsPipelineCreateInfo{{
			SType:      vk.StructureTypeGraphicsPipelineCreateInfo,
			StageCount: uint32(len(stages)),
			PStages:    stages,
			PVertexInputState: &vtxInput,
			PInputAssemblyState: &vk.PipelineInputAssemblyStateCreateInfo{
				SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
				Topology: key.Topology.Primitive(),
			},
			PViewportState: &vk.PipelineViewportStateCreateInfo{
				SType:         vk.StructureTypePipelineViewportStateCreateInfo,
				ViewportCount: 1,
				ScissorCount:  1,
			},
			PRasterizationState: &vk.PipelineRasterizationStateCreateInfo{
				SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
				PolygonMode: vk.PolygonModeFill,
				CullMode:    key.Cull.Flags(),
				FrontFace:   vk.FrontFaceCounterClockwise,
				LineWidth:   1,
			},
			PMultisampleState: &vk.PipelineMultisampleStateCreateInfo{
				SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
				RasterizationSamples: vk.SampleCount1Bit,
			},
			PDepthStencilState: &depth,
			PColorBlendState: &vk.PipelineColorBlendStateCreateInfo{
				SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
				AttachmentCount: uint32(len(blends)),
				PAttachments:    blends,
			},
			// Viewport and scissor are dynamic so a window resize
			// never forces pipeline rebuilds.
			PDynamicState: &vk.PipelineDynamicStateCreateInfo{
				SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
				DynamicStateCount: 2,
				PDynamicStates:    []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor},
			},
			Layout:     pc.Layout,
			RenderPass: pass,
		}}, nil, pls)
	if ret != vk.Success {
		return nil, fmt.Errorf("vgr.PipelineCache: pipeline create failed for %s: %v", ss.Name, vk.Error(ret))
	}
	pl = pls[0]
	return &Pipeline{Key: key, Handle: pl}, nil
}

// Release destroys all cached pipelines and the shared layout.
func (pc *PipelineCache) Release() {
	if pc == nil {
		return
	}
	pc.mu.Lock()
	defer pc.mu.Unlock()
	for _, pl := range pc.cache {
		vk.DestroyPipeline(pc.device.Device, pl.Handle, nil)
	}
	clear(pc.cache)
	if pc.Layout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(pc.device.Device, pc.Layout, nil)
		pc.Layout = vk.NullPipelineLayout
	}
}
