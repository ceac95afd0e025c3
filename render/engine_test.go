// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	"image/color"
	"runtime"
	"sync"
	"testing"

	"cogentcore.org/core/math32"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-engine/halcyon/capture"
	"github.com/halcyon-engine/halcyon/rgraph"
	"github.com/halcyon-engine/halcyon/scene"
	"github.com/halcyon-engine/halcyon/vgr"
)

func init() {
	runtime.LockOSThread()
}

// TestEngineCapture renders a few frames of nothing but the clear
// color and verifies that a capture returns exactly that color at
// every pixel, from the same frame that was presented.
func TestEngineCapture(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping GPU test in short mode")
	}
	t.Skip("Need vulkan GPU, not available on CI")

	require.NoError(t, vgr.InitDisplay())
	defer vgr.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Visible, glfw.False)
	window, err := glfw.CreateWindow(256, 256, "engine-test", nil, nil)
	require.NoError(t, err)

	gp, err := vgr.NewGPU(&vgr.GPUOptions{
		AppName:    "engine-test",
		Extensions: window.GetRequiredInstanceExtensions(),
		Validation: true,
	})
	require.NoError(t, err)
	defer gp.Release()

	surface, err := vgr.WindowSurface(gp, window)
	require.NoError(t, err)

	cfg := &rgraph.Config{
		Passes: []rgraph.PassConfig{{
			Name:       "forward",
			Type:       "geometry",
			Output:     rgraph.WindowTarget,
			Shader:     "flat",
			ClearColor: [4]float32{0.25, 0.5, 0.75, 1},
			ClearDepth: 1,
			Clear:      true,
		}},
	}
	eng, err := New(gp, surface, cfg, &Options{
		Width:     256,
		Height:    256,
		ShaderDir: "testdata/shaders",
	})
	require.NoError(t, err)
	defer eng.Close()

	var projection math32.Matrix4
	projection.SetPerspective(45, 1, 0.1, 100)
	eng.SetCamera(*math32.Identity4(), projection, math32.Vec3(0, 0, 2))

	for i := 0; i < 3; i++ {
		require.NoError(t, eng.Frame())
	}

	sink := capture.NewImageSink()
	eng.RequestCapture(sink)
	require.NoError(t, eng.Frame())

	img := sink.Image()
	require.NotNil(t, img)
	bounds := img.Bounds()
	assert.Equal(t, 256, bounds.Dx())
	assert.Equal(t, 256, bounds.Dy())

	want := color.RGBA{R: 64, G: 128, B: 191, A: 255}
	for _, pt := range [][2]int{{0, 0}, {128, 128}, {255, 255}, {5, 250}} {
		got := img.RGBAAt(pt[0], pt[1])
		assert.InDelta(t, want.R, got.R, 1, "pixel %v red", pt)
		assert.InDelta(t, want.G, got.G, 1, "pixel %v green", pt)
		assert.InDelta(t, want.B, got.B, 1, "pixel %v blue", pt)
		assert.Equal(t, want.A, got.A, "pixel %v alpha", pt)
	}
	assert.False(t, gp.ValidationTripped())
}

// TestCaptureRequestsConcurrent queues one-shot captures from many
// goroutines while a consumer drains the list the way the render
// thread does, and verifies every request is delivered exactly once.
func TestCaptureRequestsConcurrent(t *testing.T) {
	eng := &Engine{}
	const workers = 8
	const per = 100

	stop := make(chan struct{})
	got := make(chan int, 1)
	go func() {
		n := 0
		for {
			n += len(eng.takeCaptureSinks())
			select {
			case <-stop:
				n += len(eng.takeCaptureSinks())
				got <- n
				return
			default:
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				eng.RequestCapture(capture.NewImageSink())
			}
		}()
	}
	wg.Wait()
	close(stop)
	assert.Equal(t, workers*per, <-got)
}

// TestNodeReinitReclaims drives resize cycles, each of which resets
// every node's GPU state, and verifies the geometry pool ends up with
// as much free space as before: re-initializing a node frees its old
// ranges first.
func TestNodeReinitReclaims(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping GPU test in short mode")
	}
	t.Skip("Need vulkan GPU, not available on CI")

	require.NoError(t, vgr.InitDisplay())
	defer vgr.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Visible, glfw.False)
	window, err := glfw.CreateWindow(256, 256, "reinit-test", nil, nil)
	require.NoError(t, err)

	gp, err := vgr.NewGPU(&vgr.GPUOptions{
		AppName:    "reinit-test",
		Extensions: window.GetRequiredInstanceExtensions(),
		Validation: true,
	})
	require.NoError(t, err)
	defer gp.Release()

	surface, err := vgr.WindowSurface(gp, window)
	require.NoError(t, err)

	cfg := &rgraph.Config{
		Passes: []rgraph.PassConfig{{
			Name:       "forward",
			Type:       "geometry",
			Output:     rgraph.WindowTarget,
			Shader:     "flat",
			ClearColor: [4]float32{0, 0, 0, 1},
			ClearDepth: 1,
			Clear:      true,
		}},
	}
	eng, err := New(gp, surface, cfg, &Options{
		Width:     256,
		Height:    256,
		ShaderDir: "testdata/shaders",
	})
	require.NoError(t, err)
	defer eng.Close()

	nd := scene.NewNode("cube")
	nd.SetMesh(scene.NewBox(1, 1, 1))
	nd.Pass = "forward"
	eng.Scene.Add(nd)

	var projection math32.Matrix4
	projection.SetPerspective(45, 1, 0.1, 100)
	eng.SetCamera(*math32.Identity4(), projection, math32.Vec3(0, 0, 3))

	require.NoError(t, eng.Frame())
	vfree, ifree := eng.geom.Available()

	for i := 0; i < 4; i++ {
		eng.Resize(256, 256)
		require.NoError(t, eng.Frame())
		require.NoError(t, eng.Frame())
	}
	v2, i2 := eng.geom.Available()
	assert.Equal(t, vfree, v2)
	assert.Equal(t, ifree, i2)
	assert.False(t, gp.ValidationTripped())
}
