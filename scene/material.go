// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scene

import (
	"image"

	"cogentcore.org/core/math32"

	"github.com/halcyon-engine/halcyon/vgr"
)

// TextureSlot is a semantic texture binding of a material. Slots left
// unset render with a shared default texture.
type TextureSlot int32 //enums:enum

const (
	Diffuse TextureSlot = iota
	Normal
	Specular
	Emissive

	// TextureSlotsN is the fixed texture array size per material.
	TextureSlotsN
)

// Material is the fixed-function and shading state of a node.
type Material struct {
	// Color is the base color, multiplied with the diffuse texture.
	Color math32.Vector4

	// Shininess is the specular exponent.
	Shininess float32

	// Emissive scales the emissive texture contribution.
	Emissive float32

	// Textures maps semantic slots to source images.
	Textures map[TextureSlot]image.Image

	// Blend, Cull, and Depth are the fixed-function pipeline state.
	Blend vgr.BlendMode
	Cull  vgr.CullMode
	Depth vgr.DepthMode

	// Shader names a custom shader set; empty uses the pass default.
	Shader string

	// InstanceProps is optional custom per-instance shader data for
	// instance masters; its length is uniform across a master's
	// instances.
	InstanceProps []float32
}

// NewMaterial returns an opaque white back-culled material.
func NewMaterial() Material {
	return Material{
		Color:     math32.Vec4(1, 1, 1, 1),
		Shininess: 32,
	}
}

// Texture returns the image for a slot, nil when unset.
func (mt *Material) Texture(slot TextureSlot) image.Image {
	if mt.Textures == nil {
		return nil
	}
	return mt.Textures[slot]
}

// SetTexture assigns a slot image.
func (mt *Material) SetTexture(slot TextureSlot, img image.Image) {
	if mt.Textures == nil {
		mt.Textures = make(map[TextureSlot]image.Image, int(TextureSlotsN))
	}
	mt.Textures[slot] = img
}
