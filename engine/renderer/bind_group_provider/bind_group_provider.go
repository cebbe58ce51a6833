package bind_group_provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/pipeline"
)

// bindGroupProvider is the unexported implementation of BindGroupProvider.
type bindGroupProvider struct {
	mu *sync.Mutex

	// label is a debug label added for convenience.
	label string

	// pipeline and group identify the layout the bind group is created against.
	pipeline pipeline.Pipeline
	group    uint32

	// buffers holds the buffers bound by this provider, keyed by binding index. They are owned by the caller.
	buffers map[uint32]device.Buffer

	// bindGroup is created lazily and re-created whenever a bound buffer is replaced.
	bindGroup device.BindGroup
	stale     bool
}

// BindGroupProvider owns the bind group for one group index of a pipeline and keeps it in step with the
// buffers bound to it. Per-frame buffers are re-created when they grow, so the provider tracks buffer
// identity and rebuilds its bind group on the next request after any replacement.
//
// Usage pattern:
//  1. Create a provider for (pipeline, group) and bind its buffers with SetBuffer
//  2. Call BindGroup(dev) when recording a pass
//  3. After a buffer is replaced, call SetBuffer again; the next BindGroup call rebuilds
type BindGroupProvider interface {
	// Label returns the debug label for this provider.
	//
	// Returns:
	//   - string: the debug label
	Label() string

	// Pipeline returns the pipeline whose layout this provider binds against.
	//
	// Returns:
	//   - pipeline.Pipeline: the pipeline
	Pipeline() pipeline.Pipeline

	// Group returns the bind group index.
	//
	// Returns:
	//   - uint32: the group index
	Group() uint32

	// Buffer returns the buffer bound at binding, or nil.
	//
	// Parameters:
	//   - binding: the binding index
	//
	// Returns:
	//   - device.Buffer: the buffer or nil
	Buffer(binding uint32) device.Buffer

	// Buffers returns a copy of the bound buffers keyed by binding index.
	//
	// Returns:
	//   - map[uint32]device.Buffer: the bound buffers
	Buffers() map[uint32]device.Buffer

	// SetBuffer binds buf at binding. Binding a different buffer than before marks the bind group stale.
	//
	// Parameters:
	//   - binding: the binding index
	//   - buf: the buffer to bind
	SetBuffer(binding uint32, buf device.Buffer)

	// Stale reports whether the next BindGroup call will create a new bind group.
	//
	// Returns:
	//   - bool: true if the bind group must be (re)created
	Stale() bool

	// BindGroup returns the current bind group, creating it on dev if it is missing or stale.
	//
	// Parameters:
	//   - dev: the device to create the bind group on
	//
	// Returns:
	//   - device.BindGroup: the bind group
	//   - error: an error if creation fails
	BindGroup(dev device.Device) (device.BindGroup, error)

	// Release releases the bind group. Bound buffers are left to their owner.
	Release()
}

// Compile-time check that bindGroupProvider implements BindGroupProvider
var _ BindGroupProvider = &bindGroupProvider{}

// NewBindGroupProvider creates a new BindGroupProvider for one group of a pipeline.
//
// Parameters:
//   - label: a debug label
//   - p: the pipeline whose layout is used
//   - group: the bind group index
//   - options: a variadic list of options to configure the provider
//
// Returns:
//   - BindGroupProvider: a new instance of BindGroupProvider configured with the provided options
func NewBindGroupProvider(label string, p pipeline.Pipeline, group uint32, options ...BindGroupProviderOption) BindGroupProvider {
	bgp := &bindGroupProvider{
		mu:       &sync.Mutex{},
		label:    label,
		pipeline: p,
		group:    group,
		buffers:  make(map[uint32]device.Buffer),
		stale:    true,
	}
	for _, opt := range options {
		opt(bgp)
	}
	return bgp
}

func (p *bindGroupProvider) Label() string {
	return p.label
}

func (p *bindGroupProvider) Pipeline() pipeline.Pipeline {
	return p.pipeline
}

func (p *bindGroupProvider) Group() uint32 {
	return p.group
}

func (p *bindGroupProvider) Buffer(binding uint32) device.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffers[binding]
}

func (p *bindGroupProvider) Buffers() map[uint32]device.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[uint32]device.Buffer, len(p.buffers))
	for b, buf := range p.buffers {
		out[b] = buf
	}
	return out
}

func (p *bindGroupProvider) SetBuffer(binding uint32, buf device.Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buffers[binding] != buf {
		p.buffers[binding] = buf
		p.stale = true
	}
}

func (p *bindGroupProvider) Stale() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stale || p.bindGroup == nil
}

func (p *bindGroupProvider) BindGroup(dev device.Device) (device.BindGroup, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.stale && p.bindGroup != nil {
		return p.bindGroup, nil
	}

	bindings := make([]uint32, 0, len(p.buffers))
	for b := range p.buffers {
		bindings = append(bindings, b)
	}
	sort.Slice(bindings, func(i, j int) bool { return bindings[i] < bindings[j] })

	entries := make([]device.BindGroupEntry, len(bindings))
	for i, b := range bindings {
		entries[i] = device.BindGroupEntry{Binding: b, Buffer: p.buffers[b]}
	}

	bg, err := dev.CreateBindGroup(p.label, p.pipeline, p.group, entries)
	if err != nil {
		return nil, fmt.Errorf("bind group provider %q: %w", p.label, err)
	}
	if p.bindGroup != nil {
		p.bindGroup.Release()
	}
	p.bindGroup = bg
	p.stale = false
	return bg, nil
}

func (p *bindGroupProvider) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bindGroup != nil {
		p.bindGroup.Release()
		p.bindGroup = nil
	}
	p.stale = true
}
