// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build (darwin && !ios) || windows || (linux && !android) || dragonfly || openbsd

package vgr

import (
	"cogentcore.org/core/base/errors"
	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
)

// InitDisplay initializes glfw and points the vulkan loader at its
// instance proc address, for display-enabled desktop use.
// Must be called on the main initial thread, before NewGPU.
func InitDisplay() error {
	if err := glfw.Init(); err != nil {
		return errors.Log(err)
	}
	vk.SetGetInstanceProcAddr(glfw.GetVulkanGetInstanceProcAddress())
	return nil
}

// Terminate shuts down glfw as the last thing before quitting.
// Must be called on the main initial thread.
func Terminate() {
	glfw.Terminate()
}

// WindowSurface creates the Vulkan surface for a glfw window.
func WindowSurface(gp *GPU, window *glfw.Window) (vk.Surface, error) {
	ptr, err := window.CreateWindowSurface(gp.Instance, nil)
	if err != nil {
		return vk.NullSurface, errors.Log(err)
	}
	return vk.SurfaceFromPointer(ptr), nil
}
