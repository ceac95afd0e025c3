// Copyright (c) 2025, Halcyon Engine Developers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package render drives the frame loop: per-frame uniform updates,
// command recording with staleness tracking, chained pass submission,
// presentation, and capture readback. One render thread calls Frame;
// GPU work is asynchronous and tracked with per-command-buffer
// fences.
package render

import (
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"
	"unsafe"

	"cogentcore.org/core/base/errors"
	"cogentcore.org/core/base/ordmap"
	"cogentcore.org/core/math32"
	vk "github.com/goki/vulkan"

	"github.com/halcyon-engine/halcyon/capture"
	"github.com/halcyon-engine/halcyon/rgraph"
	"github.com/halcyon-engine/halcyon/scene"
	"github.com/halcyon-engine/halcyon/vgr"
)

// MaxFramesInFlight is the number of frame slots cycled through, so
// recording frame N never stalls on frame N-1's GPU work.
const MaxFramesInFlight = 2

// ErrClosed is returned by Frame after Close has been requested.
var ErrClosed = errors.New("render: engine closed")

// Options configures engine creation.
type Options struct {
	// Width and Height are the initial window size in pixels.
	Width  int
	Height int

	// ShaderDir holds the SPIR-V shader sets the config references.
	ShaderDir string

	// MaxNodes sizes the object and props uniform rings.
	MaxNodes int

	// GeometryBytes sizes the shared vertex pool; the index pool gets
	// a quarter of it. 64 MiB when zero.
	GeometryBytes int

	// Push skips fully unchanged frames once warmed up.
	Push bool

	// LiveReload watches shader files and rebuilds their pipelines.
	LiveReload bool

	// Heartbeat is the stats reporting interval; 0 disables it.
	Heartbeat time.Duration

	// OnStats receives a stats snapshot every heartbeat.
	OnStats func(Stats)
}

// Engine owns the device, swapchain, render graph, and all per-node
// GPU state. Create with New, drive with Frame from a single render
// thread, and end with Close.
type Engine struct {
	// Scene is the node arena rendered every frame. Other threads may
	// mutate nodes through their locked setters.
	Scene *scene.Arena

	gp   *vgr.GPU
	dev  *vgr.Device
	sw   *vgr.Swapchain
	grf  *rgraph.Graph
	opts Options

	geom    *vgr.GeometryPool
	globals *vgr.UniformRing
	objects *vgr.UniformRing
	props   *vgr.UniformRing

	uniformLayout *vgr.SetLayout
	texLayout     *vgr.SetLayout
	inputLayout   *vgr.SetLayout
	descPool      *vgr.DescriptorPool
	uniformSet    vk.DescriptorSet
	passInputs    map[string]vk.DescriptorSet

	pipelines *vgr.PipelineCache
	shaders   ordmap.Map[string, *vgr.ShaderSet]
	watcher   *vgr.ShaderWatcher

	textures  map[image.Image]*vgr.Texture
	defaultTx *vgr.Texture

	// shared fullscreen quad drawn by post-process passes
	quadVtx     vgr.SubBuffer
	quadIdx     vgr.SubBuffer
	quadIdxN    int
	quadObjSlot int
	quadTexSet  vk.DescriptorSet

	// scratch for gathering instance transforms, reused across frames
	instScratch []math32.Matrix4

	timing *vgr.TimestampQuery
	syncs  []*vgr.FrameSync
	passes []*passRec
	states map[int]*NodeState

	cam      GlobalBlock
	camDirty bool

	frame       int
	slot        int
	recreate    bool
	newW, newH  int
	forced      bool
	framesClean int
	closeReq    bool
	closed      bool
	start       time.Time

	// capMu guards sinks and oneShots; capture requests come from
	// other goroutines while the render thread drains them.
	capMu    sync.Mutex
	sinks    []capture.Sink
	oneShots []capture.Sink

	stats     Stats
	hbStop    chan struct{}
	lastBeat  time.Time
	beatFrame int
}

// New builds an engine on an existing instance and window surface.
// The config is validated and ordered before any GPU object exists.
func New(gp *vgr.GPU, surface vk.Surface, cfg *rgraph.Config, opts *Options) (*Engine, error) {
	if opts == nil {
		return nil, fmt.Errorf("render.New: nil options")
	}
	eng := &Engine{
		Scene:      scene.NewArena(),
		gp:         gp,
		opts:       *opts,
		textures:   map[image.Image]*vgr.Texture{},
		states:     map[int]*NodeState{},
		passInputs: map[string]vk.DescriptorSet{},
		start:      time.Now(),
	}
	if eng.opts.MaxNodes == 0 {
		eng.opts.MaxNodes = 1024
	}
	if eng.opts.GeometryBytes == 0 {
		eng.opts.GeometryBytes = 64 << 20
	}

	dev, err := vgr.NewDevice(gp, surface)
	if err != nil {
		return nil, err
	}
	eng.dev = dev
	sw, err := vgr.NewSwapchain(dev, surface, opts.Width, opts.Height)
	if err != nil {
		eng.Close()
		return nil, err
	}
	eng.sw = sw
	grf, err := rgraph.BuildGraph(dev, cfg, sw, opts.Width, opts.Height)
	if err != nil {
		eng.Close()
		return nil, err
	}
	eng.grf = grf

	if err := eng.initResources(); err != nil {
		eng.Close()
		return nil, err
	}
	if err := eng.initPerGraph(); err != nil {
		eng.Close()
		return nil, err
	}
	grf.OnResize(func(w, h int) {
		// per-node pipelines rebuild lazily against the new passes
		for _, st := range eng.states {
			if st.State == Ready {
				st.State = Uninitialized
			}
		}
	})

	if opts.LiveReload {
		sw, err := vgr.NewShaderWatcher()
		if err != nil {
			slog.Error("render: shader watcher unavailable", "err", err)
		} else {
			eng.watcher = sw
		}
	}
	if opts.Heartbeat > 0 {
		eng.hbStop = make(chan struct{})
		eng.lastBeat = time.Now()
		go eng.heartbeat(opts.Heartbeat)
	}
	return eng, nil
}

// initResources builds the size-independent GPU resources.
func (eng *Engine) initResources() error {
	var err error
	eng.geom, err = vgr.NewGeometryPool(eng.dev, eng.opts.GeometryBytes, eng.opts.GeometryBytes/4)
	if err != nil {
		return err
	}
	gbSize := int(unsafe.Sizeof(GlobalBlock{}))
	obSize := int(unsafe.Sizeof(ObjectBlock{}))
	if eng.globals, err = vgr.NewUniformRing(eng.dev, "globals", gbSize, 1, MaxFramesInFlight); err != nil {
		return err
	}
	if eng.objects, err = vgr.NewUniformRing(eng.dev, "objects", obSize, eng.opts.MaxNodes, MaxFramesInFlight); err != nil {
		return err
	}
	if eng.props, err = vgr.NewUniformRing(eng.dev, "props", PropsBlockSize, eng.opts.MaxNodes, MaxFramesInFlight); err != nil {
		return err
	}

	eng.uniformLayout, err = vgr.NewSetLayout(eng.dev, []vgr.Binding{
		{Name: "globals", Kind: vgr.UniformDynamic, Count: 1},
		{Name: "object", Kind: vgr.UniformDynamic, Count: 1},
		{Name: "props", Kind: vgr.UniformDynamic, Count: 1},
	})
	if err != nil {
		return err
	}
	eng.texLayout, err = vgr.NewSetLayout(eng.dev, []vgr.Binding{
		{Name: "textures", Kind: vgr.SampledTexture, Count: int(scene.TextureSlotsN)},
	})
	if err != nil {
		return err
	}
	eng.inputLayout, err = vgr.NewSetLayout(eng.dev, []vgr.Binding{
		{Name: "inputs", Kind: vgr.SampledTexture, Count: maxPassInputs},
	})
	if err != nil {
		return err
	}
	maxSets := eng.opts.MaxNodes + 16
	eng.descPool, err = vgr.NewDescriptorPool(eng.dev, maxSets,
		3*MaxFramesInFlight+8, maxSets*int(scene.TextureSlotsN))
	if err != nil {
		return err
	}
	eng.uniformSet, err = eng.descPool.Alloc(eng.uniformLayout)
	if err != nil {
		return err
	}
	vgr.WriteUniform(eng.dev, eng.uniformSet, 0, eng.globals)
	vgr.WriteUniform(eng.dev, eng.uniformSet, 1, eng.objects)
	vgr.WriteUniform(eng.dev, eng.uniformSet, 2, eng.props)

	eng.pipelines, err = vgr.NewPipelineCache(eng.dev,
		[]*vgr.SetLayout{eng.uniformLayout, eng.texLayout, eng.inputLayout})
	if err != nil {
		return err
	}
	eng.defaultTx, err = vgr.DefaultTexture(eng.dev)
	if err != nil {
		return err
	}
	if err := eng.initQuad(); err != nil {
		return err
	}

	// load every shader set the config names
	for i := range eng.grf.Config.Passes {
		name := eng.grf.Config.Passes[i].Shader
		if name == "" {
			continue
		}
		if _, err := eng.loadShader(name); err != nil {
			return fmt.Errorf("render: pass %q shader: %w", eng.grf.Config.Passes[i].Name, err)
		}
	}
	return nil
}

// initQuad uploads the fullscreen quad every post-process pass draws:
// unit geometry, an identity object slot, and a default texture set.
// The pass shader samples its inputs from the pass input set.
func (eng *Engine) initQuad() error {
	quad := scene.NewQuad()
	vdata := quad.Interleave()
	vb, err := eng.geom.AllocVertex(len(vdata))
	if err != nil {
		return err
	}
	eng.quadVtx = vb
	if err := eng.geom.Upload(vb, vdata); err != nil {
		return err
	}
	idata := quad.IndexBytes()
	ib, err := eng.geom.AllocIndex(len(idata))
	if err != nil {
		return err
	}
	eng.quadIdx = ib
	if err := eng.geom.Upload(ib, idata); err != nil {
		return err
	}
	eng.quadIdxN = len(quad.Indexes)

	if eng.quadObjSlot, err = eng.objects.Alloc(); err != nil {
		return err
	}
	ob := ObjectBlock{Color: math32.Vec4(1, 1, 1, 1)}
	ob.Model.SetIdentity()
	for fr := 0; fr < MaxFramesInFlight; fr++ {
		if err := eng.objects.Write(fr, eng.quadObjSlot, ob.Bytes()); err != nil {
			return err
		}
	}

	if eng.quadTexSet, err = eng.descPool.Alloc(eng.texLayout); err != nil {
		return err
	}
	txs := make([]*vgr.Texture, scene.TextureSlotsN)
	for i := range txs {
		txs[i] = eng.defaultTx
	}
	vgr.WriteTextures(eng.dev, eng.quadTexSet, 0, txs)
	return nil
}

// quadDraw is the single planned draw of a post-process pass, keyed to
// the pass's own shader with depth and culling off.
func (eng *Engine) quadDraw(pass *rgraph.Pass) drawCmd {
	shader := 0
	if ss, ok := eng.shaders.ValueByKeyTry(pass.Config.Shader); ok {
		shader = ss.ID
	}
	return drawCmd{
		Node: -1,
		Key: vgr.PipelineKey{
			Shader:   shader,
			Layout:   vgr.VtxPosUV,
			Topology: vgr.TriangleList,
			Blend:    vgr.BlendNone,
			Cull:     vgr.CullNone,
			Depth:    vgr.DepthNone,
		},
		Indexed:       true,
		IndexCount:    eng.quadIdxN,
		InstanceCount: 1,
		VertexOffset:  eng.quadVtx.Offset,
		IndexOffset:   eng.quadIdx.Offset,
		ObjSlot:       eng.quadObjSlot,
		PropsSlot:     -1,
		TexSet:        eng.quadTexSet,
	}
}

// maxPassInputs is the fixed input-sampler array size per pass.
const maxPassInputs = 4

// initPerGraph builds everything torn down on a graph rebuild:
// per-pass sync, command buffers, timing, and input sets.
func (eng *Engine) initPerGraph() error {
	np := eng.grf.NPasses()
	var err error
	eng.timing, err = vgr.NewTimestampQuery(eng.dev, MaxFramesInFlight, np)
	if err != nil {
		return err
	}
	eng.syncs = make([]*vgr.FrameSync, MaxFramesInFlight)
	for i := range eng.syncs {
		if eng.syncs[i], err = vgr.NewFrameSync(eng.dev, np); err != nil {
			return err
		}
	}
	eng.passes = make([]*passRec, np)
	for i, ps := range eng.grf.Passes {
		if eng.passes[i], err = newPassRec(eng.dev, ps, MaxFramesInFlight); err != nil {
			return err
		}
	}
	for _, ps := range eng.grf.Passes {
		set, err := eng.descPool.Alloc(eng.inputLayout)
		if err != nil {
			return err
		}
		txs := make([]*vgr.Texture, maxPassInputs)
		for i := range txs {
			if i < len(ps.Inputs) {
				txs[i] = ps.Inputs[i].Texture
			} else {
				txs[i] = eng.defaultTx
			}
		}
		vgr.WriteTextures(eng.dev, set, 0, txs)
		eng.passInputs[ps.Name] = set
	}
	return nil
}

func (eng *Engine) releasePerGraph() {
	for _, pr := range eng.passes {
		pr.release()
	}
	eng.passes = nil
	for _, sy := range eng.syncs {
		sy.Release()
	}
	eng.syncs = nil
	if eng.timing != nil {
		eng.timing.Release()
		eng.timing = nil
	}
	for name, set := range eng.passInputs {
		eng.descPool.Free(set)
		delete(eng.passInputs, name)
	}
}

// loadShader opens a shader set by name, registers it with the
// pipeline cache, and watches it for live reload.
func (eng *Engine) loadShader(name string) (*vgr.ShaderSet, error) {
	if ss, ok := eng.shaders.ValueByKeyTry(name); ok {
		return ss, nil
	}
	ss, err := vgr.OpenShaderSet(eng.dev, eng.opts.ShaderDir, name, eng.shaders.Len())
	if err != nil {
		return nil, err
	}
	eng.shaders.Add(name, ss)
	eng.pipelines.Register(ss)
	if eng.watcher != nil {
		if err := eng.watcher.Watch(ss); err != nil {
			slog.Warn("render: cannot watch shader", "shader", name, "err", err)
		}
	}
	return ss, nil
}

// textureFor uploads and caches a texture, keyed by source image.
func (eng *Engine) textureFor(node string, slot scene.TextureSlot, img image.Image) (*vgr.Texture, error) {
	if tx, ok := eng.textures[img]; ok {
		return tx, nil
	}
	tx, err := vgr.NewTextureFromImage(eng.dev, fmt.Sprintf("%s.%v", node, slot), img)
	if err != nil {
		return nil, err
	}
	eng.textures[img] = tx
	return tx, nil
}

// passFor returns the graph pass a node renders in, nil when its
// pass name matches nothing.
func (eng *Engine) passFor(nd *scene.Node) *rgraph.Pass {
	for _, ps := range eng.grf.Passes {
		if ps.Name == nd.Pass {
			return ps
		}
	}
	return nil
}

func (eng *Engine) slaveCount(master int) int {
	return len(eng.Scene.Slaves(master))
}

// SetCamera updates the global view and projection matrices.
func (eng *Engine) SetCamera(view, projection math32.Matrix4, pos math32.Vector3) {
	eng.cam.View = view
	eng.cam.Projection = projection
	eng.cam.CameraPos = math32.Vec4(pos.X, pos.Y, pos.Z, 1)
	eng.camDirty = true
}

// AddSink attaches a continuous frame sink (video encoding); every
// presented frame is read back and delivered until RemoveSink.
// Safe to call from any goroutine.
func (eng *Engine) AddSink(sk capture.Sink) {
	eng.capMu.Lock()
	defer eng.capMu.Unlock()
	eng.sinks = append(eng.sinks, sk)
}

// RemoveSink detaches a continuous sink. Safe to call from any
// goroutine.
func (eng *Engine) RemoveSink(sk capture.Sink) {
	eng.capMu.Lock()
	defer eng.capMu.Unlock()
	for i, have := range eng.sinks {
		if have == sk {
			eng.sinks = append(eng.sinks[:i], eng.sinks[i+1:]...)
			return
		}
	}
}

// RequestCapture queues a one-shot screenshot of the next presented
// frame into the sink. Safe to call from any goroutine.
func (eng *Engine) RequestCapture(sk capture.Sink) {
	eng.capMu.Lock()
	defer eng.capMu.Unlock()
	eng.oneShots = append(eng.oneShots, sk)
}

// capturePending reports whether any sink wants the next frame.
func (eng *Engine) capturePending() bool {
	eng.capMu.Lock()
	defer eng.capMu.Unlock()
	return len(eng.sinks)+len(eng.oneShots) > 0
}

// takeCaptureSinks snapshots the delivery list for one frame and
// consumes the one-shots.
func (eng *Engine) takeCaptureSinks() []capture.Sink {
	eng.capMu.Lock()
	defer eng.capMu.Unlock()
	all := append(append([]capture.Sink{}, eng.sinks...), eng.oneShots...)
	eng.oneShots = nil
	return all
}

// Resize schedules a full swapchain, graph, and pipeline recreation
// before the next frame renders.
func (eng *Engine) Resize(width, height int) {
	eng.newW, eng.newH = width, height
	eng.recreate = true
}

// RequestClose makes the next Frame call return ErrClosed, so the
// render loop unwinds at a frame boundary.
func (eng *Engine) RequestClose() {
	eng.closeReq = true
}
