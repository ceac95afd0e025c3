// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// halview is a minimal scene viewer: it loads a render graph config,
// spins a few boxes with an instanced field of cubes, and renders
// until the window closes. S saves a screenshot.
package main

import (
	"flag"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"runtime"
	"time"

	"cogentcore.org/core/math32"
	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/halcyon-engine/halcyon/capture"
	"github.com/halcyon-engine/halcyon/render"
	"github.com/halcyon-engine/halcyon/rgraph"
	"github.com/halcyon-engine/halcyon/scene"
	"github.com/halcyon-engine/halcyon/vgr"
)

func init() {
	// must lock main thread for the window and render loop
	runtime.LockOSThread()
}

func main() {
	cfgFile := flag.String("config", "render.toml", "render graph config")
	shaderDir := flag.String("shaders", "shaders", "compiled shader directory")
	validate := flag.Bool("validate", false, "enable vulkan validation")
	flag.Parse()

	if err := run(*cfgFile, *shaderDir, *validate); err != nil {
		slog.Error("halview", "err", err)
		os.Exit(1)
	}
}

func run(cfgFile, shaderDir string, validate bool) error {
	cfg, err := rgraph.OpenConfig(cfgFile)
	if err != nil {
		return err
	}
	if err := vgr.InitDisplay(); err != nil {
		return err
	}
	defer vgr.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(1024, 768, "halview", nil, nil)
	if err != nil {
		return err
	}

	gp, err := vgr.NewGPU(&vgr.GPUOptions{
		AppName:    "halview",
		Extensions: window.GetRequiredInstanceExtensions(),
		Validation: validate,
	})
	if err != nil {
		return err
	}
	defer gp.Release()

	surface, err := vgr.WindowSurface(gp, window)
	if err != nil {
		return err
	}
	width, height := window.GetFramebufferSize()
	eng, err := render.New(gp, surface, cfg, &render.Options{
		Width:      width,
		Height:     height,
		ShaderDir:  shaderDir,
		Push:       true,
		LiveReload: true,
		Heartbeat:  time.Second,
		OnStats: func(st render.Stats) {
			window.SetTitle(fmt.Sprintf("halview | %.1f fps | %d rec %d skip",
				st.FPS, st.Recordings, st.Skipped))
		},
	})
	if err != nil {
		return err
	}
	defer eng.Close()

	window.SetFramebufferSizeCallback(func(w *glfw.Window, wd, ht int) {
		eng.Resize(wd, ht)
	})
	window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, sc int, act glfw.Action, mods glfw.ModifierKey) {
		if act != glfw.Press {
			return
		}
		switch key {
		case glfw.KeyEscape:
			w.SetShouldClose(true)
		case glfw.KeyS:
			go saveScreenshot(eng)
		}
	})

	passName := cfg.Passes[0].Name
	for i := range cfg.Passes {
		if cfg.Passes[i].Type == "geometry" {
			passName = cfg.Passes[i].Name
			break
		}
	}
	spinner, field := buildScene(eng.Scene, passName)

	campos := math32.Vec3(0, 4, 12)
	var projection math32.Matrix4
	projection.SetPerspective(45, float32(width)/float32(height), 0.1, 100)
	eng.SetCamera(*cameraView(campos, math32.Vec3(0, 0, 0)), projection, campos)

	pacer := render.NewPacer(60)
	one := math32.Vec3(1, 1, 1)
	var angle float32
	for !window.ShouldClose() {
		glfw.PollEvents()
		dt := pacer.Wait()
		angle += float32(dt.Seconds())

		var rot math32.Matrix4
		rot.SetRotationY(angle)
		spinner.SetTransform(rot)
		for i, sl := range field {
			var spin math32.Quat
			spin.SetFromAxisAngle(math32.Vec3(0, 1, 0), angle+float32(i))
			pos := math32.Vec3(float32(i%4)*2-3, 0, float32(i/4)*2-3)
			var tr math32.Matrix4
			tr.SetTransform(pos, spin, one)
			sl.SetTransform(tr)
		}

		if err := eng.Frame(); err != nil {
			if err == render.ErrClosed {
				break
			}
			return err
		}
	}
	return nil
}

// cameraView is the standard camera view matrix computation: lookat
// orientation at the camera position, inverted into view space.
func cameraView(pos, target math32.Vector3) *math32.Matrix4 {
	var lookq math32.Quat
	lookq.SetFromRotationMatrix(math32.NewLookAt(pos, target, math32.Vec3(0, 1, 0)))
	var cam math32.Matrix4
	cam.SetTransform(pos, lookq, math32.Vec3(1, 1, 1))
	view, _ := cam.Inverse()
	return view
}

// buildScene adds one spinning box and an instanced cube field.
func buildScene(ar *scene.Arena, pass string) (spinner *scene.Node, field []*scene.Node) {
	spinner = scene.NewNode("spinner")
	spinner.Pass = pass
	spinner.Mesh = scene.NewBox(2, 2, 2)
	spinner.Material.Color = math32.Vec4(0.8, 0.3, 0.2, 1)
	ar.Add(spinner)

	master := scene.NewNode("cube-master")
	master.Pass = pass
	master.Mesh = scene.NewBox(0.5, 0.5, 0.5)
	master.Material.Color = math32.Vec4(0.3, 0.5, 0.9, 1)
	mi := ar.Add(master)

	for i := 0; i < 16; i++ {
		sl := scene.NewNode(fmt.Sprintf("cube-%d", i))
		sl.Pass = pass
		sl.Master = mi
		ar.Add(sl)
		field = append(field, sl)
	}
	return spinner, field
}

func saveScreenshot(eng *render.Engine) {
	sink := capture.NewImageSink()
	eng.RequestCapture(sink)
	img := sink.Image()
	fp, err := os.Create(fmt.Sprintf("halview_%d.png", time.Now().Unix()))
	if err != nil {
		slog.Error("screenshot", "err", err)
		return
	}
	defer fp.Close()
	if err := png.Encode(fp, img); err != nil {
		slog.Error("screenshot", "err", err)
		return
	}
	slog.Info("screenshot saved", "file", fp.Name())
}
