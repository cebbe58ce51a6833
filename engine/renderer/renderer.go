package renderer

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/Carmen-Shannon/oxy-vr/engine/camera"
	"github.com/Carmen-Shannon/oxy-vr/engine/cull"
	"github.com/Carmen-Shannon/oxy-vr/engine/frame"
	"github.com/Carmen-Shannon/oxy-vr/engine/model"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/frame_sync"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-vr/engine/resources"
	"github.com/Carmen-Shannon/oxy-vr/engine/scene"
	"go.uber.org/zap"
)

// ErrReleased is returned when a released renderer is asked to render.
var ErrReleased = errors.New("renderer released")

// FrameStats summarizes one rendered frame.
type FrameStats struct {
	Frame      uint64
	Draws      int
	Buckets    int
	MultiDraws int
	Lights     int
	Fallbacks  frame.Fallbacks

	// Skipped is set when the frame was dropped before submission, for example on a missed deadline.
	Skipped bool
}

// renderer is the implementation of the Renderer interface.
type renderer struct {
	mu     *sync.Mutex
	logger *zap.Logger

	dev       device.Device
	tables    resources.Tables
	assembler frame.Assembler
	sync      frame_sync.Synchronizer

	pipelineCache map[string]pipeline.Pipeline
	cullPipeline  pipeline.Pipeline
	stereoKey     string
	bindings      []*slotBindings
	resolved      []frame.Bucket

	frame    uint64
	released bool

	// Pre-creation config collected from builder options
	framesInFlight   int
	limits           resources.Limits
	iblIntensity     float32
	initialDraws     int
	vertexArenaBytes uint64
	indexArenaBytes  uint64
}

// slotBindings are the bind groups recorded against one frame slot's buffers.
type slotBindings struct {
	cull   bind_group_provider.BindGroupProvider
	eyes   [common.ViewCount]bind_group_provider.BindGroupProvider
	shared bind_group_provider.BindGroupProvider
}

// Renderer turns a scene into one GPU submission per frame: the scene is assembled into per-frame buffers,
// uploaded into the frame's slot, culled on the GPU against both eyes and drawn into a side-by-side stereo
// target with one indirect multi-draw per bucket per eye.
//
// The Renderer owns the resource tables, the frame synchronizer and the pipeline cache. RenderFrame is not
// safe for concurrent use; resource registration through Tables may happen from any goroutine.
type Renderer interface {
	// Device returns the device the renderer records on.
	//
	// Returns:
	//   - device.Device: the device
	Device() device.Device

	// Tables returns the resource tables meshes, materials, textures and skins are registered with.
	//
	// Returns:
	//   - resources.Tables: the tables
	Tables() resources.Tables

	// Synchronizer returns the frame synchronizer owning the per-frame buffers.
	//
	// Returns:
	//   - frame_sync.Synchronizer: the synchronizer
	Synchronizer() frame_sync.Synchronizer

	// Pipeline retrieves the cached Pipeline associated with the given key.
	// If the Pipeline does not exist, this will return nil.
	//
	// Parameters:
	//   - key: the unique identifier for the Pipeline to retrieve
	//
	// Returns:
	//   - pipeline.Pipeline: the Pipeline associated with the key, or nil if not found
	Pipeline(key string) pipeline.Pipeline

	// Pipelines returns a copy of the pipeline cache.
	//
	// Returns:
	//   - map[string]pipeline.Pipeline: a map of pipeline keys to their corresponding Pipeline objects
	Pipelines() map[string]pipeline.Pipeline

	// RegisterPipelines creates the device objects for one or more pipelines and caches them by
	// PipelineKey. Render pipelines registered here can be named by materials; they must share the stereo
	// pipeline's bind group layout. Keys already registered are skipped.
	//
	// Parameters:
	//   - pipelines: the Pipelines to register
	//
	// Returns:
	//   - error: an error if pipeline creation fails
	RegisterPipelines(pipelines ...pipeline.Pipeline) error

	// SetIBLIntensity changes the image-based lighting scale from the next frame on.
	//
	// Parameters:
	//   - intensity: the scale
	SetIBLIntensity(intensity float32)

	// RenderFrame renders one frame of s from view into target. If ctx ends before the frame is submitted
	// the frame is discarded and nothing is uploaded.
	//
	// Parameters:
	//   - ctx: bounds the wait for the frame slot and the frame's deadline
	//   - s: the scene to draw
	//   - view: the stereo view of this frame
	//   - target: the side-by-side stereo render target
	//
	// Returns:
	//   - FrameStats: counters of the submitted frame
	//   - error: ctx.Err(), ErrReleased, or an assembly, upload or encoding error
	RenderFrame(ctx context.Context, s scene.Scene, view camera.StereoView, target device.RenderTarget) (FrameStats, error)

	// FrameIndex returns the index the next frame will use.
	FrameIndex() uint64

	// WaitIdle blocks until every submitted frame has completed.
	//
	// Parameters:
	//   - ctx: bounds the wait
	//
	// Returns:
	//   - error: ctx.Err() if the wait was cut short
	WaitIdle(ctx context.Context) error

	// Release frees the bind groups, per-frame buffers, resource tables and pipelines. The device is left
	// to its owner.
	Release()
}

var _ Renderer = &renderer{}

// NewRenderer creates a Renderer on dev. It compiles and registers the culling and stereo pipelines and, on
// the software backend, installs the culling kernel.
//
// Parameters:
//   - dev: the device to render with
//   - options: variadic list of RendererBuilderOption functions to configure the Renderer
//
// Returns:
//   - Renderer: the renderer
//   - error: a shader, pipeline or buffer creation error
func NewRenderer(dev device.Device, options ...RendererBuilderOption) (Renderer, error) {
	r := &renderer{
		mu:             &sync.Mutex{},
		logger:         zap.NewNop(),
		dev:            dev,
		pipelineCache:  make(map[string]pipeline.Pipeline),
		stereoKey:      material.DefaultPipelineKey,
		framesInFlight: frame_sync.DefaultFramesInFlight,
		limits:         resources.DefaultLimits(),
		iblIntensity:   1,
		initialDraws:   256,
	}
	for _, opt := range options {
		opt(r)
	}
	r.logger = r.logger.Named("renderer")

	if sw, ok := dev.(device.SoftwareDevice); ok {
		sw.RegisterKernel(cull.PipelineKey, cull.Kernel)
	}

	var err error
	r.cullPipeline, err = cull.NewPipeline()
	if err != nil {
		return nil, err
	}
	stereo, err := NewStereoPipeline(r.stereoKey)
	if err != nil {
		return nil, err
	}
	if err := r.RegisterPipelines(r.cullPipeline, stereo); err != nil {
		return nil, err
	}

	draws := uint64(max(r.initialDraws, 1))
	r.sync, err = frame_sync.NewSynchronizer(dev,
		frame_sync.WithFramesInFlight(r.framesInFlight),
		frame_sync.WithCapacity(frame_sync.BufferDrawRecords, draws*cull.DrawRecordSize),
		frame_sync.WithCapacity(frame_sync.BufferDrawCommands, draws*cull.DrawCommandSize),
		frame_sync.WithLogger(r.logger),
	)
	if err != nil {
		r.releasePipelines()
		return nil, err
	}

	tableOptions := []resources.TablesBuilderOption{
		resources.WithLimits(r.limits),
		resources.WithRetirer(r.sync),
		resources.WithLogger(r.logger),
	}
	if r.vertexArenaBytes > 0 || r.indexArenaBytes > 0 {
		tableOptions = append(tableOptions, resources.WithArenaCapacity(r.vertexArenaBytes, r.indexArenaBytes))
	}
	r.tables, err = resources.NewTables(dev, tableOptions...)
	if err != nil {
		r.sync.Release()
		r.releasePipelines()
		return nil, err
	}

	r.assembler = frame.NewAssembler(
		frame.WithLogger(r.logger),
		frame.WithIBLIntensity(r.iblIntensity),
		frame.WithCapacity(r.initialDraws),
	)

	for i := range r.sync.FramesInFlight() {
		r.bindings = append(r.bindings, r.newSlotBindings(i, stereo))
	}
	return r, nil
}

func (r *renderer) newSlotBindings(slot int, stereo pipeline.Pipeline) *slotBindings {
	b := &slotBindings{
		cull:   bind_group_provider.NewBindGroupProvider(fmt.Sprintf("cull_slot%d", slot), r.cullPipeline, 0),
		shared: bind_group_provider.NewBindGroupProvider(fmt.Sprintf("shared_slot%d", slot), stereo, GroupShared),
	}
	for eye := range common.ViewCount {
		b.eyes[eye] = bind_group_provider.NewBindGroupProvider(fmt.Sprintf("eye%d_slot%d", eye, slot), stereo, GroupEye)
	}
	return b
}

func (r *renderer) Device() device.Device {
	return r.dev
}

func (r *renderer) Tables() resources.Tables {
	return r.tables
}

func (r *renderer) Synchronizer() frame_sync.Synchronizer {
	return r.sync
}

func (r *renderer) Pipeline(key string) pipeline.Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipelineCache[key]
}

func (r *renderer) Pipelines() map[string]pipeline.Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.pipelineCache)
}

func (r *renderer) RegisterPipelines(pipelines ...pipeline.Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range pipelines {
		key := p.PipelineKey()
		if _, exists := r.pipelineCache[key]; exists {
			continue
		}
		if err := r.dev.RegisterPipeline(p); err != nil {
			return fmt.Errorf("failed to register pipeline %q: %w", key, err)
		}
		r.pipelineCache[key] = p
	}
	return nil
}

func (r *renderer) SetIBLIntensity(intensity float32) {
	r.assembler.SetIBLIntensity(intensity)
}

func (r *renderer) FrameIndex() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frame
}

func (r *renderer) RenderFrame(ctx context.Context, s scene.Scene, view camera.StereoView, target device.RenderTarget) (FrameStats, error) {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return FrameStats{}, ErrReleased
	}
	index := r.frame
	r.mu.Unlock()

	slot, err := r.sync.BeginFrame(ctx, index)
	if err != nil {
		return FrameStats{Frame: index}, err
	}
	r.mu.Lock()
	r.frame = index + 1
	r.mu.Unlock()

	stats, enc, err := r.record(ctx, slot, s, view, target)
	if err != nil {
		if enc != nil {
			enc.Release()
		}
		if discardErr := r.sync.DiscardFrame(index); discardErr != nil {
			r.logger.Warn("discard failed", zap.Uint64("frame", index), zap.Error(discardErr))
		}
		r.logger.Debug("frame discarded", zap.Uint64("frame", index), zap.Error(err))
		return FrameStats{Frame: index}, err
	}

	if _, err := r.sync.SubmitFrame(index, enc); err != nil {
		return FrameStats{}, err
	}
	stats.Frame = index
	return stats, nil
}

// record assembles and stages the frame and encodes its passes. The encoder is returned even on failure so
// the caller can release it.
func (r *renderer) record(ctx context.Context, slot *frame_sync.FrameSlot, s scene.Scene, view camera.StereoView,
	target device.RenderTarget) (FrameStats, device.CommandEncoder, error) {
	fb, err := r.assembler.Assemble(s, r.tables, view)
	if err != nil {
		return FrameStats{}, nil, err
	}
	if err := stageFrame(slot, fb); err != nil {
		return FrameStats{}, nil, err
	}
	if err := ctx.Err(); err != nil {
		return FrameStats{}, nil, err
	}

	b := r.bindings[slot.Index()]
	bindSlot(b, slot)

	enc, err := r.dev.CreateCommandEncoder(fmt.Sprintf("frame %d", slot.Frame()))
	if err != nil {
		return FrameStats{}, nil, err
	}

	draws := fb.DrawCount()
	if draws > 0 {
		cullGroup, err := b.cull.BindGroup(r.dev)
		if err != nil {
			return FrameStats{}, enc, err
		}
		wg := r.cullPipeline.WorkgroupCount(draws)
		pass := enc.BeginComputePass("cull")
		pass.SetPipeline(r.cullPipeline)
		pass.SetBindGroup(0, cullGroup)
		pass.DispatchWorkgroups(wg[0], wg[1], wg[2])
		pass.End()
	}

	buckets, fallbacks := r.resolveBuckets(fb.Buckets)
	fb.Fallbacks.Pipelines = fallbacks
	state := drawState{
		buckets:  buckets,
		commands: slot.Buffer(frame_sync.BufferDrawCommands),
	}
	if state.shared, err = b.shared.BindGroup(r.dev); err != nil {
		return FrameStats{}, enc, err
	}
	for eye := range common.ViewCount {
		if state.eyes[eye], err = b.eyes[eye].BindGroup(r.dev); err != nil {
			return FrameStats{}, enc, err
		}
	}

	arenas := [2]device.Buffer{r.tables.VertexBuffer(), r.tables.IndexBuffer()}
	multiDraws, err := encodeStereoPass(enc, target, arenas, r.lookup, state)
	if err != nil {
		return FrameStats{}, enc, err
	}
	if err := ctx.Err(); err != nil {
		return FrameStats{}, enc, err
	}

	return FrameStats{
		Draws:      int(draws),
		Buckets:    len(fb.Buckets),
		MultiDraws: multiDraws,
		Lights:     fb.Lights,
		Fallbacks:  fb.Fallbacks,
	}, enc, nil
}

func (r *renderer) lookup(key string) (pipeline.Pipeline, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pipelineCache[key]
	if !ok && key == material.DefaultPipelineKey {
		p, ok = r.pipelineCache[r.stereoKey]
	}
	return p, ok
}

// resolveBuckets points every bucket at a registered render pipeline. Buckets whose key does not resolve
// draw with the stereo pipeline, and their draws are returned as the pipeline fallback count.
func (r *renderer) resolveBuckets(buckets []frame.Bucket) ([]frame.Bucket, int) {
	r.resolved = r.resolved[:0]
	fallbacks := 0
	for _, b := range buckets {
		if p, ok := r.lookup(b.PipelineKey); !ok || p.Type() != pipeline.PipelineTypeRender {
			r.logger.Debug("unknown pipeline, drawing with stereo pipeline",
				zap.String("pipeline", b.PipelineKey),
				zap.Uint32("draws", b.Count))
			fallbacks += int(b.Count)
			b.PipelineKey = r.stereoKey
		}
		r.resolved = append(r.resolved, b)
	}
	return r.resolved, fallbacks
}

// stageFrame copies the assembled buffers into the slot's staging memory.
func stageFrame(slot *frame_sync.FrameSlot, fb *frame.FrameBuffers) error {
	buf, err := slot.Stage(frame_sync.BufferDrawRecords, len(fb.DrawRecords)*cull.DrawRecordSize)
	if err != nil {
		return err
	}
	for i := range fb.DrawRecords {
		fb.DrawRecords[i].MarshalInto(buf[i*cull.DrawRecordSize:])
	}

	if buf, err = slot.Stage(frame_sync.BufferDrawCommands, len(fb.DrawCommands)*cull.DrawCommandSize); err != nil {
		return err
	}
	for i := range fb.DrawCommands {
		fb.DrawCommands[i].MarshalInto(buf[i*cull.DrawCommandSize:])
	}

	if buf, err = slot.StageVersion(frame_sync.BufferMaterials, fb.MaterialVersion, len(fb.Materials)*materialSize); err != nil {
		return err
	}
	for i := range fb.Materials {
		if buf == nil {
			break
		}
		fb.Materials[i].MarshalInto(buf[i*materialSize:])
	}

	if buf, err = slot.Stage(frame_sync.BufferSkins, len(fb.JointBlocks)*jointBlockSize); err != nil {
		return err
	}
	for i := range fb.JointBlocks {
		fb.JointBlocks[i].MarshalInto(buf[i*jointBlockSize:])
	}

	if buf, err = slot.Stage(frame_sync.BufferCullParams, cull.CullParamsSize); err != nil {
		return err
	}
	copy(buf, fb.CullParams.Marshal())

	if buf, err = slot.Stage(frame_sync.BufferSceneData, sceneDataSize); err != nil {
		return err
	}
	fb.SceneData.MarshalInto(buf)

	for eye, kind := range []frame_sync.BufferKind{frame_sync.BufferLeftView, frame_sync.BufferRightView} {
		// the eye index never changes, so a buffer is written once after each (re)creation
		if buf, err = slot.StageVersion(kind, 1, viewParamsSize); err != nil {
			return err
		}
		if buf != nil {
			params := camera.GPUViewParams{ViewIndex: uint32(eye)}
			copy(buf, params.Marshal())
		}
	}
	return nil
}

// bindSlot points the slot's bind group providers at its current buffers. Providers rebuild their bind
// group only when a buffer changed identity.
func bindSlot(b *slotBindings, slot *frame_sync.FrameSlot) {
	records := slot.Buffer(frame_sync.BufferDrawRecords)
	commands := slot.Buffer(frame_sync.BufferDrawCommands)

	b.cull.SetBuffer(cull.BindingParams, slot.Buffer(frame_sync.BufferCullParams))
	b.cull.SetBuffer(cull.BindingRecords, records)
	b.cull.SetBuffer(cull.BindingCommands, commands)

	b.shared.SetBuffer(BindingDrawRecords, records)
	b.shared.SetBuffer(BindingMaterials, slot.Buffer(frame_sync.BufferMaterials))
	b.shared.SetBuffer(BindingJoints, slot.Buffer(frame_sync.BufferSkins))

	views := [common.ViewCount]frame_sync.BufferKind{frame_sync.BufferLeftView, frame_sync.BufferRightView}
	for eye := range common.ViewCount {
		b.eyes[eye].SetBuffer(BindingSceneData, slot.Buffer(frame_sync.BufferSceneData))
		b.eyes[eye].SetBuffer(BindingViewParams, slot.Buffer(views[eye]))
	}
}

func (r *renderer) WaitIdle(ctx context.Context) error {
	return r.sync.WaitIdle(ctx)
}

func (r *renderer) Release() {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}
	r.released = true
	r.mu.Unlock()

	for _, b := range r.bindings {
		b.cull.Release()
		b.shared.Release()
		for _, e := range b.eyes {
			e.Release()
		}
	}
	r.tables.Release()
	r.sync.Release()
	r.releasePipelines()
}

func (r *renderer) releasePipelines() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pipelineCache {
		p.Release()
	}
	clear(r.pipelineCache)
}

const (
	materialSize   = int(unsafe.Sizeof(material.GPUMaterial{}))
	jointBlockSize = int(unsafe.Sizeof(model.GPUJointBlock{}))
	sceneDataSize  = int(unsafe.Sizeof(camera.GPUSceneData{}))
	viewParamsSize = int(unsafe.Sizeof(camera.GPUViewParams{}))
)
