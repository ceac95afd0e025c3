// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vgr

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"unsafe"

	vk "github.com/goki/vulkan"
)

const spirvMagic = 0x07230203

// ShaderSet is a vertex + fragment SPIR-V shader pair.
// Its ID is stable for the lifetime of the library that issued it,
// so pipeline cache keys can carry it by value.
type ShaderSet struct {
	Name string
	ID   int

	Vertex   vk.ShaderModule
	Fragment vk.ShaderModule

	// VertexPath and FragmentPath are set when loaded from files,
	// used by live reload to map file events back to shader sets.
	VertexPath   string
	FragmentPath string

	device   *Device
	released bool
}

// NewShaderSet builds a shader set from raw SPIR-V bytes.
func NewShaderSet(dev *Device, name string, id int, vertSPV, fragSPV []byte) (*ShaderSet, error) {
	ss := &ShaderSet{Name: name, ID: id, device: dev}
	var err error
	if ss.Vertex, err = newShaderModule(dev, name+".vert", vertSPV); err != nil {
		return nil, err
	}
	if ss.Fragment, err = newShaderModule(dev, name+".frag", fragSPV); err != nil {
		vk.DestroyShaderModule(dev.Device, ss.Vertex, nil)
		return nil, err
	}
	return ss, nil
}

// OpenShaderSet loads name.vert.spv and name.frag.spv from dir.
func OpenShaderSet(dev *Device, dir, name string, id int) (*ShaderSet, error) {
	vp := filepath.Join(dir, name+".vert.spv")
	fp := filepath.Join(dir, name+".frag.spv")
	vb, err := os.ReadFile(vp)
	if err != nil {
		return nil, fmt.Errorf("vgr.OpenShaderSet %s: %w", name, err)
	}
	fb, err := os.ReadFile(fp)
	if err != nil {
		return nil, fmt.Errorf("vgr.OpenShaderSet %s: %w", name, err)
	}
	ss, err := NewShaderSet(dev, name, id, vb, fb)
	if err != nil {
		return nil, err
	}
	ss.VertexPath = vp
	ss.FragmentPath = fp
	return ss, nil
}

// Reload replaces both modules from the set's source files.
// The caller must ensure no in-flight frame still references the old
// modules (WaitIdle or fence drain) before pipelines are rebuilt.
func (ss *ShaderSet) Reload() error {
	if ss.VertexPath == "" {
		return fmt.Errorf("vgr.ShaderSet %s: not file backed, cannot reload", ss.Name)
	}
	vb, err := os.ReadFile(ss.VertexPath)
	if err != nil {
		return err
	}
	fb, err := os.ReadFile(ss.FragmentPath)
	if err != nil {
		return err
	}
	nv, err := newShaderModule(ss.device, ss.Name+".vert", vb)
	if err != nil {
		return err
	}
	nf, err := newShaderModule(ss.device, ss.Name+".frag", fb)
	if err != nil {
		vk.DestroyShaderModule(ss.device.Device, nv, nil)
		return err
	}
	vk.DestroyShaderModule(ss.device.Device, ss.Vertex, nil)
	vk.DestroyShaderModule(ss.device.Device, ss.Fragment, nil)
	ss.Vertex, ss.Fragment = nv, nf
	slog.Debug("vgr.ShaderSet: reloaded", "shader", ss.Name)
	return nil
}

// Release destroys both modules. Safe to call more than once.
func (ss *ShaderSet) Release() {
	if ss == nil || ss.released {
		return
	}
	ss.released = true
	vk.DestroyShaderModule(ss.device.Device, ss.Vertex, nil)
	vk.DestroyShaderModule(ss.device.Device, ss.Fragment, nil)
}

func newShaderModule(dev *Device, name string, spv []byte) (vk.ShaderModule, error) {
	if len(spv) < 4 || len(spv)%4 != 0 {
		return vk.NullShaderModule, fmt.Errorf("vgr.Shader %s: SPIR-V length %d not a multiple of 4", name, len(spv))
	}
	if binary.LittleEndian.Uint32(spv) != spirvMagic {
		return vk.NullShaderModule, fmt.Errorf("vgr.Shader %s: bad SPIR-V magic", name)
	}
	var mod vk.ShaderModule
	ret := vk.CreateShaderModule(dev.Device, &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(spv)),
		PCode:    sliceUint32(spv),
	}, nil, &mod)
	if ret != vk.Success {
		return vk.NullShaderModule, fmt.Errorf("vgr.Shader %s: module create failed: %v", name, vk.Error(ret))
	}
	return mod, nil
}

func sliceUint32(b []byte) []uint32 {
	return unsafe.Slice((*uint32)(unsafe.Pointer(&b[0])), len(b)/4)
}
