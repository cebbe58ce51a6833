package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/shader"
	"go.uber.org/zap"
)

// ErrLayoutMismatch is returned when bind group entries do not match the bindings a pipeline declares.
var ErrLayoutMismatch = errors.New("bind group entries do not match pipeline layout")

// BindingSlot addresses one binding of one bind group.
type BindingSlot struct {
	Group, Binding uint32
}

// Kernel is the CPU implementation of a compute pipeline. bindings exposes the memory of every buffer bound
// for the dispatch; writes through the slices land in the buffers.
type Kernel func(bindings map[BindingSlot][]byte, workgroups [3]uint32) error

// IndirectDraw records one MultiDrawIndexedIndirect executed by the software backend.
type IndirectDraw struct {
	PipelineKey string
	Viewport    Viewport

	// BindGroups holds the labels of the bind groups set at draw time, indexed by group.
	BindGroups []string
	Offset     uint64
	Count      uint32

	// Visible lists the firstInstance of every command in the range whose instanceCount was non-zero when
	// the draw executed.
	Visible []uint32
}

// RenderPassRecord records one executed render pass.
type RenderPassRecord struct {
	Label         string
	Width, Height uint32
	DepthClear    float32
	Draws         []IndirectDraw
}

// DispatchRecord records one executed compute dispatch.
type DispatchRecord struct {
	PipelineKey string
	Workgroups  [3]uint32
}

// SoftwareDevice is the software backend. Besides the Device contract it exposes the recorded work and a
// manual clock for deferred execution.
type SoftwareDevice interface {
	Device

	// CompleteNext executes the oldest queued submission and signals its fence.
	//
	// Returns:
	//   - error: ErrNoPendingSubmission if nothing is queued, or the execution error
	CompleteNext() error

	// CompleteAll executes every queued submission in order.
	//
	// Returns:
	//   - error: the first execution error
	CompleteAll() error

	// Pending returns the number of queued submissions.
	Pending() int

	// ReadBuffer returns a copy of a buffer's contents.
	ReadBuffer(buf Buffer) ([]byte, error)

	// Released reports whether a buffer has been released.
	Released(buf Buffer) bool

	// LiveBuffers returns the number of buffers that have not been released.
	LiveBuffers() int

	// Closed reports whether the device itself has been released.
	Closed() bool

	// RenderPasses returns the render passes executed since the last ResetRecords.
	RenderPasses() []RenderPassRecord

	// Dispatches returns the compute dispatches executed since the last ResetRecords.
	Dispatches() []DispatchRecord

	// ResetRecords clears recorded passes and dispatches.
	ResetRecords()

	// RegisterKernel sets the CPU implementation of a compute pipeline, replacing any earlier one.
	//
	// Parameters:
	//   - pipelineKey: the compute pipeline the kernel implements
	//   - kernel: the kernel
	RegisterKernel(pipelineKey string, kernel Kernel)
}

type softwareDevice struct {
	mu     *sync.Mutex
	logger *zap.Logger

	kernels   map[string]Kernel
	pipelines map[string]pipeline.Pipeline
	deferred  bool
	closed    bool

	nextID  uint64
	buffers map[uint64]*softwareBuffer
	queue   []*submission

	passes     []RenderPassRecord
	dispatches []DispatchRecord
}

var _ SoftwareDevice = &softwareDevice{}

// NewSoftwareDevice creates the software backend directly, for callers that need its inspection methods.
//
// Parameters:
//   - options: functional options applied to the device
//
// Returns:
//   - SoftwareDevice: the device
func NewSoftwareDevice(options ...DeviceBuilderOption) SoftwareDevice {
	cfg := newDeviceConfig()
	for _, opt := range options {
		opt(cfg)
	}
	return newSoftwareDevice(cfg)
}

func newSoftwareDevice(cfg *deviceConfig) *softwareDevice {
	return &softwareDevice{
		mu:        &sync.Mutex{},
		logger:    cfg.logger.Named("software_device"),
		kernels:   cfg.kernels,
		pipelines: make(map[string]pipeline.Pipeline),
		deferred:  cfg.deferred,
		buffers:   make(map[uint64]*softwareBuffer),
	}
}

type softwareBuffer struct {
	dev      *softwareDevice
	id       uint64
	label    string
	usage    BufferUsage
	data     []byte
	pending  int
	released bool
}

func (b *softwareBuffer) Label() string      { return b.label }
func (b *softwareBuffer) Size() uint64       { return uint64(len(b.data)) }
func (b *softwareBuffer) Usage() BufferUsage { return b.usage }

func (b *softwareBuffer) Release() {
	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()
	if b.released {
		return
	}
	if b.pending > 0 {
		b.dev.logger.Error("buffer released while referenced by an unfinished submission", zap.String("buffer", b.label))
	}
	b.released = true
	delete(b.dev.buffers, b.id)
}

type softwareTexture struct {
	label         string
	width, height uint32
	pixels        []byte
}

func (t *softwareTexture) Label() string  { return t.label }
func (t *softwareTexture) Width() uint32  { return t.width }
func (t *softwareTexture) Height() uint32 { return t.height }
func (t *softwareTexture) Release()       { t.pixels = nil }

type softwareBindGroup struct {
	label   string
	entries map[uint32]*softwareBuffer
}

func (g *softwareBindGroup) Label() string { return g.label }
func (g *softwareBindGroup) Release()      {}

type softwareFence struct {
	done chan struct{}
}

func (f *softwareFence) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

type submission struct {
	label string
	ops   []func() error
	refs  map[*softwareBuffer]struct{}
	fence *softwareFence
}

func (d *softwareDevice) Backend() BackendType {
	return BackendTypeSoftware
}

func (d *softwareDevice) CreateBuffer(label string, size uint64, usage BufferUsage) (Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	b := &softwareBuffer{
		dev:   d,
		id:    d.nextID,
		label: label,
		usage: usage,
		data:  make([]byte, alignedSize(size)),
	}
	d.buffers[b.id] = b
	return b, nil
}

func (d *softwareDevice) WriteBuffer(buf Buffer, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, err := d.own(buf)
	if err != nil {
		return err
	}
	if offset+uint64(len(data)) > uint64(len(b.data)) {
		return fmt.Errorf("%w: write of %d bytes at %d into %q (%d bytes)", ErrOutOfBounds, len(data), offset, b.label, len(b.data))
	}
	if b.usage&BufferUsageHostWrite != 0 && b.pending > 0 {
		return fmt.Errorf("%w: %q", ErrBufferInUse, b.label)
	}
	copy(b.data[offset:], data)
	return nil
}

func (d *softwareDevice) CreateTexture(label string, data common.TextureStagingData) (Texture, error) {
	want := int(data.Width) * int(data.Height) * 4
	if data.Width == 0 || data.Height == 0 || len(data.Pixels) != want {
		return nil, fmt.Errorf("texture %q: %d bytes of pixel data for %dx%d RGBA8", label, len(data.Pixels), data.Width, data.Height)
	}
	pixels := make([]byte, want)
	copy(pixels, data.Pixels)
	return &softwareTexture{label: label, width: data.Width, height: data.Height, pixels: pixels}, nil
}

func (d *softwareDevice) RegisterPipeline(p pipeline.Pipeline) error {
	if err := p.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pipelines[p.PipelineKey()] = p
	return nil
}

func (d *softwareDevice) CreateBindGroup(label string, p pipeline.Pipeline, group uint32, entries []BindGroupEntry) (BindGroup, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.pipelines[p.PipelineKey()]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPipeline, p.PipelineKey())
	}

	declared := declaredBindings(p, int(group))
	if len(declared) != len(entries) {
		return nil, fmt.Errorf("%w: %q group %d declares %d bindings, got %d", ErrLayoutMismatch, p.PipelineKey(), group, len(declared), len(entries))
	}

	bg := &softwareBindGroup{label: label, entries: make(map[uint32]*softwareBuffer, len(entries))}
	for _, e := range entries {
		if _, ok := declared[e.Binding]; !ok {
			return nil, fmt.Errorf("%w: %q group %d has no binding %d", ErrLayoutMismatch, p.PipelineKey(), group, e.Binding)
		}
		b, err := d.own(e.Buffer)
		if err != nil {
			return nil, err
		}
		bg.entries[e.Binding] = b
	}
	return bg, nil
}

func (d *softwareDevice) CreateCommandEncoder(label string) (CommandEncoder, error) {
	return &softwareEncoder{
		dev:   d,
		label: label,
		refs:  make(map[*softwareBuffer]struct{}),
	}, nil
}

func (d *softwareDevice) Submit(enc CommandEncoder) (Fence, error) {
	e, ok := enc.(*softwareEncoder)
	if !ok || e.dev != d {
		return nil, ErrForeignResource
	}
	if e.err != nil {
		return nil, e.err
	}
	if e.submitted {
		return nil, fmt.Errorf("encoder %q already submitted", e.label)
	}
	e.submitted = true

	d.mu.Lock()
	defer d.mu.Unlock()

	s := &submission{
		label: e.label,
		ops:   e.ops,
		refs:  e.refs,
		fence: &softwareFence{done: make(chan struct{})},
	}
	for b := range s.refs {
		b.pending++
	}
	if d.deferred {
		d.queue = append(d.queue, s)
		return s.fence, nil
	}
	return s.fence, d.execute(s)
}

func (d *softwareDevice) Wait(ctx context.Context, f Fence) error {
	if f == nil {
		return nil
	}
	sf, ok := f.(*softwareFence)
	if !ok {
		return ErrForeignResource
	}
	select {
	case <-sf.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *softwareDevice) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for _, s := range d.queue {
		close(s.fence.done)
	}
	d.queue = nil
	for id, b := range d.buffers {
		b.released = true
		delete(d.buffers, id)
	}
}

func (d *softwareDevice) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *softwareDevice) CompleteNext() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return ErrNoPendingSubmission
	}
	s := d.queue[0]
	d.queue = d.queue[1:]
	return d.execute(s)
}

func (d *softwareDevice) CompleteAll() error {
	for d.Pending() > 0 {
		if err := d.CompleteNext(); err != nil {
			return err
		}
	}
	return nil
}

func (d *softwareDevice) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *softwareDevice) ReadBuffer(buf Buffer) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.own(buf)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out, nil
}

func (d *softwareDevice) Released(buf Buffer) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := buf.(*softwareBuffer)
	return ok && b.released
}

func (d *softwareDevice) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}

func (d *softwareDevice) RenderPasses() []RenderPassRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]RenderPassRecord(nil), d.passes...)
}

func (d *softwareDevice) Dispatches() []DispatchRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DispatchRecord(nil), d.dispatches...)
}

func (d *softwareDevice) ResetRecords() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.passes = nil
	d.dispatches = nil
}

func (d *softwareDevice) RegisterKernel(pipelineKey string, kernel Kernel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kernels[pipelineKey] = kernel
}

// execute runs a submission's ops in order and signals its fence. The fence signals even when an op fails
// so waiters never hang on a broken frame. Callers hold d.mu.
func (d *softwareDevice) execute(s *submission) error {
	var err error
	for _, op := range s.ops {
		if err = op(); err != nil {
			err = fmt.Errorf("submission %q: %w", s.label, err)
			d.logger.Error("software submission failed", zap.Error(err))
			break
		}
	}
	for b := range s.refs {
		b.pending--
	}
	close(s.fence.done)
	return err
}

// own checks that buf was created by this device and is still alive. Callers hold d.mu.
func (d *softwareDevice) own(buf Buffer) (*softwareBuffer, error) {
	b, ok := buf.(*softwareBuffer)
	if !ok || b.dev != d {
		return nil, ErrForeignResource
	}
	if b.released {
		return nil, fmt.Errorf("buffer %q used after release", b.label)
	}
	return b, nil
}

// declaredBindings collects the bindings of a group across all stages of a pipeline.
func declaredBindings(p pipeline.Pipeline, group int) map[uint32]struct{} {
	out := make(map[uint32]struct{})
	for _, st := range []shader.ShaderType{shader.ShaderTypeCompute, shader.ShaderTypeVertex, shader.ShaderTypeFragment} {
		s := p.Shader(st)
		if s == nil {
			continue
		}
		for _, e := range s.BindGroupLayoutDescriptor(group).Entries {
			out[e.Binding] = struct{}{}
		}
	}
	return out
}
