package device

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"sort"
	"sync"

	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
	"go.uber.org/zap"
)

type wgpuDevice struct {
	mu     *sync.Mutex
	logger *zap.Logger

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	colorFormat wgpu.TextureFormat
	depthFormat wgpu.TextureFormat

	// multiDraw is set when the device was created with native multi-draw-indirect.
	multiDraw bool

	pipelines map[string]pipeline.Pipeline
	layouts   map[string][]*wgpu.BindGroupLayout

	// depth attachment shared by every render pass, re-created when the target size changes
	depthTexture            *wgpu.Texture
	depthView               *wgpu.TextureView
	depthWidth, depthHeight uint32
}

var _ Device = &wgpuDevice{}

func newWGPUDevice(cfg *deviceConfig) (*wgpuDevice, error) {
	runtime.LockOSThread()
	d := &wgpuDevice{
		mu:          &sync.Mutex{},
		logger:      cfg.logger.Named("wgpu_device"),
		instance:    wgpu.CreateInstance(nil),
		colorFormat: cfg.colorFormat,
		depthFormat: cfg.depthFormat,
		pipelines:   make(map[string]pipeline.Pipeline),
		layouts:     make(map[string][]*wgpu.BindGroupLayout),
	}

	a, err := d.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: cfg.forceFallbackAdapter,
	})
	if err != nil {
		d.instance.Release()
		return nil, fmt.Errorf("request adapter: %w", err)
	}
	d.adapter = a

	features := optionalFeatures(a.HasFeature)
	dev, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label:            "VR Device",
		RequiredFeatures: features,
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: wgpu.DefaultLimits(),
		},
	})
	if err != nil {
		a.Release()
		d.instance.Release()
		return nil, fmt.Errorf("request device: %w", err)
	}
	d.device = dev
	d.queue = dev.GetQueue()
	d.multiDraw = slices.Contains(features, wgpu.NativeFeatureMultiDrawIndirect)

	d.logger.Info("wgpu device ready",
		zap.Bool("fallbackAdapter", cfg.forceFallbackAdapter),
		zap.Bool("multiDrawIndirect", d.multiDraw),
	)
	return d, nil
}

// optionalFeatures returns the native features the renderer uses when the adapter offers them.
func optionalFeatures(has func(wgpu.FeatureName) bool) []wgpu.FeatureName {
	var out []wgpu.FeatureName
	for _, f := range []wgpu.FeatureName{wgpu.NativeFeatureMultiDrawIndirect} {
		if has(f) {
			out = append(out, f)
		}
	}
	return out
}

type wgpuBuffer struct {
	dev   *wgpuDevice
	label string
	size  uint64
	usage BufferUsage
	buf   *wgpu.Buffer
}

func (b *wgpuBuffer) Label() string      { return b.label }
func (b *wgpuBuffer) Size() uint64       { return b.size }
func (b *wgpuBuffer) Usage() BufferUsage { return b.usage }

func (b *wgpuBuffer) Release() {
	if b.buf != nil {
		b.buf.Release()
		b.buf = nil
	}
}

type wgpuTexture struct {
	label         string
	width, height uint32
	texture       *wgpu.Texture
	view          *wgpu.TextureView
}

func (t *wgpuTexture) Label() string  { return t.label }
func (t *wgpuTexture) Width() uint32  { return t.width }
func (t *wgpuTexture) Height() uint32 { return t.height }

func (t *wgpuTexture) Release() {
	if t.view != nil {
		t.view.Release()
		t.view = nil
	}
	if t.texture != nil {
		t.texture.Release()
		t.texture = nil
	}
}

type wgpuBindGroup struct {
	label string
	group *wgpu.BindGroup
}

func (g *wgpuBindGroup) Label() string { return g.label }

func (g *wgpuBindGroup) Release() {
	if g.group != nil {
		g.group.Release()
		g.group = nil
	}
}

// wgpuFence waits on a queue submission index. The blocking poll runs at most once per fence, on its own
// goroutine, so a cancelled Wait never leaves the device in an inconsistent state.
type wgpuFence struct {
	dev   *wgpuDevice
	index wgpu.SubmissionIndex
	once  sync.Once
	done  chan struct{}
}

func (f *wgpuFence) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *wgpuFence) start() {
	f.once.Do(func() {
		go func() {
			f.dev.device.Poll(true, &wgpu.WrappedSubmissionIndex{
				Queue:           f.dev.queue,
				SubmissionIndex: f.index,
			})
			close(f.done)
		}()
	})
}

func (d *wgpuDevice) Backend() BackendType {
	return BackendTypeWGPU
}

func (d *wgpuDevice) CreateBuffer(label string, size uint64, usage BufferUsage) (Buffer, error) {
	size = alignedSize(size)
	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            label,
		Size:             size,
		Usage:            toWGPUUsage(usage),
		MappedAtCreation: false,
	})
	if err != nil {
		return nil, fmt.Errorf("create buffer %q: %w", label, err)
	}
	return &wgpuBuffer{dev: d, label: label, size: size, usage: usage, buf: buf}, nil
}

func (d *wgpuDevice) WriteBuffer(buf Buffer, offset uint64, data []byte) error {
	b, ok := buf.(*wgpuBuffer)
	if !ok || b.dev != d {
		return ErrForeignResource
	}
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("%w: write of %d bytes at %d into %q (%d bytes)", ErrOutOfBounds, len(data), offset, b.label, b.size)
	}
	if len(data) == 0 {
		return nil
	}
	// queue writes must be a multiple of 4 bytes
	if len(data)%4 != 0 {
		padded := make([]byte, common.AlignUp(uint64(len(data)), 4))
		copy(padded, data)
		data = padded
	}
	d.queue.WriteBuffer(b.buf, offset, data)
	return nil
}

func (d *wgpuDevice) CreateTexture(label string, data common.TextureStagingData) (Texture, error) {
	if data.Width == 0 || data.Height == 0 || len(data.Pixels) != int(data.Width*data.Height*4) {
		return nil, fmt.Errorf("texture %q: %d bytes of pixel data for %dx%d RGBA8", label, len(data.Pixels), data.Width, data.Height)
	}

	tex, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:     label,
		Usage:     wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
		Dimension: wgpu.TextureDimension2D,
		Size: wgpu.Extent3D{
			Width:              data.Width,
			Height:             data.Height,
			DepthOrArrayLayers: 1,
		},
		Format:        wgpu.TextureFormatRGBA8UnormSrgb,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("create texture %q: %w", label, err)
	}

	d.queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  tex,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{},
			Aspect:   wgpu.TextureAspectAll,
		},
		data.Pixels,
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  data.Width * 4,
			RowsPerImage: data.Height,
		},
		&wgpu.Extent3D{
			Width:              data.Width,
			Height:             data.Height,
			DepthOrArrayLayers: 1,
		},
	)

	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, fmt.Errorf("create texture view %q: %w", label, err)
	}
	return &wgpuTexture{label: label, width: data.Width, height: data.Height, texture: tex, view: view}, nil
}

func (d *wgpuDevice) RegisterPipeline(p pipeline.Pipeline) error {
	if err := p.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.pipelines[p.PipelineKey()]; ok {
		return nil
	}

	var err error
	switch p.Type() {
	case pipeline.PipelineTypeCompute:
		err = d.registerComputePipeline(p)
	case pipeline.PipelineTypeRender:
		err = d.registerRenderPipeline(p)
	}
	if err != nil {
		return fmt.Errorf("register pipeline %q: %w", p.PipelineKey(), err)
	}
	d.pipelines[p.PipelineKey()] = p
	d.logger.Debug("pipeline registered", zap.String("pipeline", p.PipelineKey()))
	return nil
}

func (d *wgpuDevice) registerComputePipeline(p pipeline.Pipeline) error {
	computeShader := p.Shader(shader.ShaderTypeCompute)
	module, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: computeShader.Key(),
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: computeShader.Source(),
		},
	})
	if err != nil {
		return err
	}
	defer module.Release()

	layout, err := d.createPipelineLayout(p.PipelineKey(), computeShader.BindGroupLayoutDescriptors())
	if err != nil {
		return err
	}
	defer layout.Release()

	created, err := d.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  p.PipelineKey() + " Compute Pipeline",
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: computeShader.EntryPoint(),
		},
	})
	if err != nil {
		return err
	}
	p.SetComputePipeline(created)
	return nil
}

func (d *wgpuDevice) registerRenderPipeline(p pipeline.Pipeline) error {
	vertexShader := p.Shader(shader.ShaderTypeVertex)
	fragmentShader := p.Shader(shader.ShaderTypeFragment)

	vs, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: vertexShader.Key(),
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: vertexShader.Source(),
		},
	})
	if err != nil {
		return err
	}
	defer vs.Release()
	fs, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: fragmentShader.Key(),
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: fragmentShader.Source(),
		},
	})
	if err != nil {
		return err
	}
	defer fs.Release()

	merged := mergeBindGroupLayouts(vertexShader.BindGroupLayoutDescriptors(), fragmentShader.BindGroupLayoutDescriptors())
	layout, err := d.createPipelineLayout(p.PipelineKey(), merged)
	if err != nil {
		return err
	}
	defer layout.Release()

	target := wgpu.ColorTargetState{
		Format:    d.colorFormat,
		WriteMask: p.WriteMask(),
	}
	if p.BlendEnabled() {
		target.Blend = p.BlendState()
	}

	created, err := d.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label:  p.PipelineKey() + " Render Pipeline",
		Layout: layout,
		Vertex: wgpu.VertexState{
			Module:     vs,
			EntryPoint: vertexShader.EntryPoint(),
			Buffers:    vertexShader.VertexLayouts(),
		},
		Fragment: &wgpu.FragmentState{
			Module:     fs,
			EntryPoint: fragmentShader.EntryPoint(),
			Targets:    []wgpu.ColorTargetState{target},
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  p.Topology(),
			FrontFace: p.FrontFace(),
			CullMode:  p.CullMode(),
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
		DepthStencil: &wgpu.DepthStencilState{
			Format:            d.depthFormat,
			DepthWriteEnabled: p.DepthWriteEnabled(),
			DepthCompare:      p.DepthCompare(),
			StencilFront: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
			StencilBack: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
		},
	})
	if err != nil {
		return err
	}
	p.SetRenderPipeline(created)
	return nil
}

// createPipelineLayout creates one bind group layout per group index and caches them under key so bind
// groups can be created against the same layouts later. Callers hold d.mu.
func (d *wgpuDevice) createPipelineLayout(key string, descriptors map[int]wgpu.BindGroupLayoutDescriptor) (*wgpu.PipelineLayout, error) {
	maxGroup := -1
	for g := range descriptors {
		maxGroup = max(maxGroup, g)
	}
	bindGroupLayouts := make([]*wgpu.BindGroupLayout, maxGroup+1)
	for g := 0; g <= maxGroup; g++ {
		desc := descriptors[g]
		layout, err := d.device.CreateBindGroupLayout(&desc)
		if err != nil {
			return nil, fmt.Errorf("failed to create bind group layout for group %d: %w", g, err)
		}
		bindGroupLayouts[g] = layout
	}
	d.layouts[key] = bindGroupLayouts

	return d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            key,
		BindGroupLayouts: bindGroupLayouts,
	})
}

func (d *wgpuDevice) CreateBindGroup(label string, p pipeline.Pipeline, group uint32, entries []BindGroupEntry) (BindGroup, error) {
	d.mu.Lock()
	layouts, ok := d.layouts[p.PipelineKey()]
	d.mu.Unlock()
	if !ok || int(group) >= len(layouts) {
		return nil, fmt.Errorf("%w: %q group %d", ErrUnknownPipeline, p.PipelineKey(), group)
	}

	bindGroupEntries := make([]wgpu.BindGroupEntry, len(entries))
	for i, e := range entries {
		b, ok := e.Buffer.(*wgpuBuffer)
		if !ok || b.dev != d {
			return nil, ErrForeignResource
		}
		bindGroupEntries[i] = wgpu.BindGroupEntry{
			Binding: e.Binding,
			Buffer:  b.buf,
			Offset:  0,
			Size:    wgpu.WholeSize,
		}
	}

	bg, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   label,
		Layout:  layouts[group],
		Entries: bindGroupEntries,
	})
	if err != nil {
		return nil, fmt.Errorf("create bind group %q: %w", label, err)
	}
	return &wgpuBindGroup{label: label, group: bg}, nil
}

func (d *wgpuDevice) CreateCommandEncoder(label string) (CommandEncoder, error) {
	enc, err := d.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("create command encoder %q: %w", label, err)
	}
	return &wgpuEncoder{dev: d, label: label, encoder: enc}, nil
}

func (d *wgpuDevice) Submit(enc CommandEncoder) (Fence, error) {
	e, ok := enc.(*wgpuEncoder)
	if !ok || e.dev != d {
		return nil, ErrForeignResource
	}
	defer e.Release()
	if e.err != nil {
		return nil, e.err
	}

	commandBuffer, err := e.encoder.Finish(nil)
	if err != nil {
		return nil, fmt.Errorf("finish encoder %q: %w", e.label, err)
	}
	defer commandBuffer.Release()

	index := d.queue.Submit(commandBuffer)
	return &wgpuFence{dev: d, index: index, done: make(chan struct{})}, nil
}

func (d *wgpuDevice) Wait(ctx context.Context, f Fence) error {
	if f == nil {
		return nil
	}
	wf, ok := f.(*wgpuFence)
	if !ok || wf.dev != d {
		return ErrForeignResource
	}
	wf.start()
	select {
	case <-wf.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *wgpuDevice) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, layouts := range d.layouts {
		for _, l := range layouts {
			if l != nil {
				l.Release()
			}
		}
		delete(d.layouts, key)
	}
	for key, p := range d.pipelines {
		p.Release()
		delete(d.pipelines, key)
	}
	d.releaseDepth()
	if d.queue != nil {
		d.queue.Release()
		d.queue = nil
	}
	if d.device != nil {
		d.device.Release()
		d.device = nil
	}
	if d.adapter != nil {
		d.adapter.Release()
		d.adapter = nil
	}
	if d.instance != nil {
		d.instance.Release()
		d.instance = nil
	}
}

// depthAttachment returns the shared depth view, re-creating it when the target size changed.
func (d *wgpuDevice) depthAttachment(width, height uint32) (*wgpu.TextureView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.depthView != nil && d.depthWidth == width && d.depthHeight == height {
		return d.depthView, nil
	}
	d.releaseDepth()

	tex, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: "Stereo Depth Texture",
		Size: wgpu.Extent3D{
			Width:              width,
			Height:             height,
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        d.depthFormat,
		Usage:         wgpu.TextureUsageRenderAttachment,
	})
	if err != nil {
		return nil, err
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, err
	}
	d.depthTexture, d.depthView = tex, view
	d.depthWidth, d.depthHeight = width, height
	return view, nil
}

func (d *wgpuDevice) releaseDepth() {
	if d.depthView != nil {
		d.depthView.Release()
		d.depthView = nil
	}
	if d.depthTexture != nil {
		d.depthTexture.Release()
		d.depthTexture = nil
	}
}

func toWGPUUsage(usage BufferUsage) wgpu.BufferUsage {
	var out wgpu.BufferUsage
	if usage&BufferUsageVertex != 0 {
		out |= wgpu.BufferUsageVertex
	}
	if usage&BufferUsageIndex != 0 {
		out |= wgpu.BufferUsageIndex
	}
	if usage&BufferUsageUniform != 0 {
		out |= wgpu.BufferUsageUniform
	}
	if usage&BufferUsageStorage != 0 {
		out |= wgpu.BufferUsageStorage
	}
	if usage&BufferUsageIndirect != 0 {
		out |= wgpu.BufferUsageIndirect
	}
	// every buffer is filled through queue writes
	return out | wgpu.BufferUsageCopyDst
}

// mergeBindGroupLayouts combines the per-group layouts of the vertex and fragment stages, OR-ing the
// visibility of bindings declared by both.
func mergeBindGroupLayouts(vertexLayouts, fragmentLayouts map[int]wgpu.BindGroupLayoutDescriptor) map[int]wgpu.BindGroupLayoutDescriptor {
	merged := make(map[int]wgpu.BindGroupLayoutDescriptor)
	for _, layouts := range []map[int]wgpu.BindGroupLayoutDescriptor{vertexLayouts, fragmentLayouts} {
		for g, desc := range layouts {
			existing, ok := merged[g]
			if !ok {
				merged[g] = wgpu.BindGroupLayoutDescriptor{
					Label:   desc.Label,
					Entries: append([]wgpu.BindGroupLayoutEntry(nil), desc.Entries...),
				}
				continue
			}
			for _, e := range desc.Entries {
				found := false
				for i := range existing.Entries {
					if existing.Entries[i].Binding == e.Binding {
						existing.Entries[i].Visibility |= e.Visibility
						found = true
						break
					}
				}
				if !found {
					existing.Entries = append(existing.Entries, e)
				}
			}
			sort.Slice(existing.Entries, func(i, j int) bool {
				return existing.Entries[i].Binding < existing.Entries[j].Binding
			})
			merged[g] = existing
		}
	}
	return merged
}
