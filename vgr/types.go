// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vgr

import (
	vk "github.com/goki/vulkan"
)

// Topology is the vertex primitive topology for a draw.
type Topology int32 //enums:enum

const (
	TriangleList Topology = iota
	TriangleStrip
	LineList
	LineStrip
	PointList
)

// Primitive returns the Vulkan topology.
func (tp Topology) Primitive() vk.PrimitiveTopology {
	return vkTopologies[tp]
}

var vkTopologies = map[Topology]vk.PrimitiveTopology{
	TriangleList:  vk.PrimitiveTopologyTriangleList,
	TriangleStrip: vk.PrimitiveTopologyTriangleStrip,
	LineList:      vk.PrimitiveTopologyLineList,
	LineStrip:     vk.PrimitiveTopologyLineStrip,
	PointList:     vk.PrimitiveTopologyPointList,
}

// BlendMode is the per-material color blend state.
type BlendMode int32 //enums:enum

const (
	// BlendNone overwrites the destination.
	BlendNone BlendMode = iota

	// BlendAlpha is standard 1-source-alpha blending.
	BlendAlpha

	// BlendAdditive accumulates color, used by light passes.
	BlendAdditive
)

// CullMode is the face-culling state.
type CullMode int32 //enums:enum

const (
	CullBack CullMode = iota
	CullFront
	CullNone
)

func (cm CullMode) Flags() vk.CullModeFlags {
	switch cm {
	case CullFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	case CullNone:
		return vk.CullModeFlags(vk.CullModeNone)
	default:
		return vk.CullModeFlags(vk.CullModeBackBit)
	}
}

// DepthMode is the depth-test state.
type DepthMode int32 //enums:enum

const (
	// DepthReadWrite tests and writes depth (opaque geometry).
	DepthReadWrite DepthMode = iota

	// DepthReadOnly tests but does not write (transparent geometry).
	DepthReadOnly

	// DepthNone disables depth testing (post-process quads).
	DepthNone
)

// Format is the subset of pixel formats the render config can name.
type Format int32 //enums:enum

const (
	FormatBGRA8 Format = iota
	FormatRGBA8
	FormatRGBA16F
	FormatDepth32
)

func (ft Format) VkFormat() vk.Format {
	return vkFormats[ft]
}

// IsDepth reports whether this is a depth format.
func (ft Format) IsDepth() bool { return ft == FormatDepth32 }

// Bytes returns bytes per pixel.
func (ft Format) Bytes() int {
	switch ft {
	case FormatRGBA16F:
		return 8
	default:
		return 4
	}
}

var vkFormats = map[Format]vk.Format{
	FormatBGRA8:   vk.FormatB8g8r8a8Unorm,
	FormatRGBA8:   vk.FormatR8g8b8a8Unorm,
	FormatRGBA16F: vk.FormatR16g16b16a16Sfloat,
	FormatDepth32: vk.FormatD32Sfloat,
}

// formatNames / formatValues support config parsing without
// generated enum code.
var formatNames = map[Format]string{
	FormatBGRA8:   "bgra8",
	FormatRGBA8:   "rgba8",
	FormatRGBA16F: "rgba16f",
	FormatDepth32: "depth32",
}

var formatValues = func() map[string]Format {
	m := make(map[string]Format, len(formatNames))
	for k, v := range formatNames {
		m[v] = k
	}
	return m
}()

func (ft Format) String() string { return formatNames[ft] }

// FormatByName resolves a config format name; ok is false when unknown.
func FormatByName(name string) (Format, bool) {
	ft, ok := formatValues[name]
	return ft, ok
}
