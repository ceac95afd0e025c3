// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vgr implements the Vulkan graphics core for the halcyon renderer:
// instance and device lifecycle, memory blocks, the shared geometry pool,
// dynamic-offset uniform rings, textures, pipelines, command buffers with
// staleness tracking, and the swapchain frame protocol.
package vgr

import (
	"fmt"
	"log/slog"
	"time"
	"unsafe"

	"cogentcore.org/core/base/errors"
	vk "github.com/goki/vulkan"
)

// Debug enables verbose logging of device selection, variable layouts,
// and validation output. Tests and examples can set this directly.
var Debug = false

// DebugPolicy determines what happens when the validation layer reports
// an error: it is always logged, and can additionally stall each frame
// to make the error visible during development, or halt outright.
type DebugPolicy int32 //enums:enum

const (
	// DebugLogOnly logs validation messages and continues.
	DebugLogOnly DebugPolicy = iota

	// DebugDelay logs and inserts a per-frame delay after a validation
	// error, so the error is noticeable in a live session.
	DebugDelay

	// DebugHalt logs and panics on validation errors.
	DebugHalt
)

// GPU represents the Vulkan instance and selected physical device,
// with its properties, limits and memory-type table.
// Create once at startup with NewGPU; Release after a full device
// idle-wait, as the last teardown step.
type GPU struct {
	// Instance is the Vulkan API instance.
	Instance vk.Instance

	// PhysicalDevice is the selected physical GPU.
	PhysicalDevice vk.PhysicalDevice

	// DeviceName is the reported name of the selected device.
	DeviceName string

	// Properties are the physical device properties, including Limits.
	Properties vk.PhysicalDeviceProperties

	// MemoryProperties is the memory-type table used to resolve
	// memory-property flags to allocation type indexes.
	MemoryProperties vk.PhysicalDeviceMemoryProperties

	// Policy governs validation-error handling (always logged).
	Policy DebugPolicy

	// ValidationDelay is the per-frame stall applied under DebugDelay
	// after a validation error has been seen. Configurable; development
	// ergonomics only.
	ValidationDelay time.Duration

	// validationSeen is set by the debug callback on any error report.
	validationSeen bool

	debugCallback vk.DebugReportCallback
	hasDebug      bool
}

// GPUOptions configures instance creation.
type GPUOptions struct {
	// AppName is reported to the driver.
	AppName string

	// Extensions are additional required instance extensions,
	// e.g. the surface extensions reported by the windowing layer.
	Extensions []string

	// Validation enables the Khronos validation layer and the
	// debug report callback.
	Validation bool
}

// activeGPU is used by the debug callback, which cannot carry a closure
// through cgo. There is only ever one GPU per process.
var activeGPU *GPU

// NewGPU creates the Vulkan instance, installs the debug callback when
// validation is requested, and selects a compatible physical device.
// Failure here is fatal at init: there is nothing to render with.
func NewGPU(opts *GPUOptions) (*GPU, error) {
	if opts == nil {
		opts = &GPUOptions{AppName: "halcyon"}
	}
	gp := &GPU{
		Policy:          DebugLogOnly,
		ValidationDelay: 100 * time.Millisecond,
	}
	if err := vk.Init(); err != nil {
		return nil, errors.Log(fmt.Errorf("vgr.NewGPU: vulkan loader init failed: %w", err))
	}

	exts := make([]string, 0, len(opts.Extensions)+1)
	exts = append(exts, opts.Extensions...)
	var layers []string
	if opts.Validation {
		if hasInstanceLayer("VK_LAYER_KHRONOS_validation") {
			layers = append(layers, "VK_LAYER_KHRONOS_validation")
			exts = append(exts, vk.ExtDebugReportExtensionName)
		} else {
			slog.Warn("vgr: validation requested but VK_LAYER_KHRONOS_validation not available")
		}
	}

	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   safeString(opts.AppName),
		PEngineName:        safeString("halcyon"),
	}
	ci := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        appInfo,
		EnabledExtensionCount:   uint32(len(exts)),
		PpEnabledExtensionNames: safeStrings(exts),
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     safeStrings(layers),
	}
	var inst vk.Instance
	if res := vk.CreateInstance(&ci, nil, &inst); res != vk.Success {
		return nil, errors.Log(fmt.Errorf("vgr.NewGPU: CreateInstance failed: %w", vk.Error(res)))
	}
	gp.Instance = inst
	if err := vk.InitInstance(inst); err != nil {
		return nil, errors.Log(err)
	}

	if len(layers) > 0 {
		dci := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: debugReportFunc,
		}
		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(inst, &dci, nil, &dbg)); err != nil {
			errors.Log(fmt.Errorf("vgr.NewGPU: debug callback: %w", err))
		} else {
			gp.debugCallback = dbg
			gp.hasDebug = true
		}
	}

	if err := gp.selectDevice(); err != nil {
		return nil, err
	}
	gp.Properties.Deref()
	gp.Properties.Limits.Deref()
	vk.GetPhysicalDeviceMemoryProperties(gp.PhysicalDevice, &gp.MemoryProperties)
	gp.MemoryProperties.Deref()
	activeGPU = gp
	if Debug {
		slog.Info("vgr: selected device", "name", gp.DeviceName)
	}
	return gp, nil
}

// selectDevice picks the physical device, preferring discrete GPUs.
func (gp *GPU) selectDevice() error {
	var n uint32
	vk.EnumeratePhysicalDevices(gp.Instance, &n, nil)
	if n == 0 {
		return errors.Log(fmt.Errorf("vgr: no Vulkan-compatible GPU found"))
	}
	devs := make([]vk.PhysicalDevice, n)
	vk.EnumeratePhysicalDevices(gp.Instance, &n, devs)

	best := -1
	bestScore := -1
	var bestProps vk.PhysicalDeviceProperties
	for i, pd := range devs {
		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(pd, &props)
		props.Deref()
		score := 0
		switch props.DeviceType {
		case vk.PhysicalDeviceTypeDiscreteGpu:
			score = 100
		case vk.PhysicalDeviceTypeIntegratedGpu:
			score = 50
		case vk.PhysicalDeviceTypeVirtualGpu:
			score = 20
		case vk.PhysicalDeviceTypeCpu:
			score = 10
		}
		if !hasGraphicsQueue(pd) {
			continue
		}
		if score > bestScore {
			best = i
			bestScore = score
			bestProps = props
		}
	}
	if best < 0 {
		return errors.Log(fmt.Errorf("vgr: no GPU with a graphics queue found"))
	}
	gp.PhysicalDevice = devs[best]
	gp.Properties = bestProps
	gp.DeviceName = vk.ToString(bestProps.DeviceName[:])
	return nil
}

// MemoryTypeIndex resolves a memory type satisfying typeBits and the
// required property flags, using the device memory-type table.
func (gp *GPU) MemoryTypeIndex(typeBits uint32, props vk.MemoryPropertyFlags) (uint32, error) {
	for i := uint32(0); i < gp.MemoryProperties.MemoryTypeCount; i++ {
		if typeBits&(1<<i) == 0 {
			continue
		}
		mt := gp.MemoryProperties.MemoryTypes[i]
		mt.Deref()
		if mt.PropertyFlags&props == props {
			return i, nil
		}
	}
	return 0, fmt.Errorf("vgr: no memory type matches bits %x props %x", typeBits, props)
}

// UniformAlign returns the minimum dynamic-offset alignment for
// uniform buffers on this device.
func (gp *GPU) UniformAlign() int {
	return int(gp.Properties.Limits.MinUniformBufferOffsetAlignment)
}

// TimestampPeriod returns nanoseconds per timestamp tick.
func (gp *GPU) TimestampPeriod() float32 {
	return gp.Properties.Limits.TimestampPeriod
}

// ValidationTripped reports whether the debug callback has seen an error
// since the last call, and clears the flag. The frame loop uses this to
// apply the configured DebugPolicy.
func (gp *GPU) ValidationTripped() bool {
	seen := gp.validationSeen
	gp.validationSeen = false
	return seen
}

// StallNeeded reports whether the frame loop should pause after a
// validation error. Only DebugDelay stalls; the error flag is consumed
// under every policy (the callback already logged, and DebugHalt
// panics there).
func (gp *GPU) StallNeeded() bool {
	tripped := gp.ValidationTripped()
	return tripped && gp.Policy == DebugDelay
}

// Release destroys the debug callback and instance.
// The caller must have released all devices first.
func (gp *GPU) Release() {
	if gp.Instance == nil {
		return
	}
	if gp.hasDebug {
		vk.DestroyDebugReportCallback(gp.Instance, gp.debugCallback, nil)
		gp.hasDebug = false
	}
	vk.DestroyInstance(gp.Instance, nil)
	gp.Instance = nil
	if activeGPU == gp {
		activeGPU = nil
	}
}

func hasInstanceLayer(name string) bool {
	var n uint32
	if vk.EnumerateInstanceLayerProperties(&n, nil) != vk.Success {
		return false
	}
	layers := make([]vk.LayerProperties, n)
	if vk.EnumerateInstanceLayerProperties(&n, layers) != vk.Success {
		return false
	}
	for i := range layers {
		layers[i].Deref()
		if vk.ToString(layers[i].LayerName[:]) == name {
			return true
		}
	}
	return false
}

func hasGraphicsQueue(pd vk.PhysicalDevice) bool {
	var n uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &n, nil)
	qf := make([]vk.QueueFamilyProperties, n)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &n, qf)
	for i := range qf {
		qf[i].Deref()
		if qf[i].QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
			return true
		}
	}
	return false
}

func debugReportFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, layerPrefix string, message string, userData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		slog.Error("vulkan validation", "layer", layerPrefix, "code", messageCode, "msg", message)
		if activeGPU != nil {
			activeGPU.validationSeen = true
			if activeGPU.Policy == DebugHalt {
				panic("vgr: validation error with DebugHalt policy: " + message)
			}
		}
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit|vk.DebugReportPerformanceWarningBit) != 0:
		slog.Warn("vulkan validation", "layer", layerPrefix, "code", messageCode, "msg", message)
	default:
		slog.Info("vulkan validation", "layer", layerPrefix, "code", messageCode, "msg", message)
	}
	return vk.Bool32(vk.False)
}

// safeString returns a null-terminated copy of s as required by the C API.
func safeString(s string) string {
	if len(s) == 0 || s[len(s)-1] != '\x00' {
		return s + "\x00"
	}
	return s
}

func safeStrings(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = safeString(s)
	}
	return out
}
