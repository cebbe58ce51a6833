package device

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/pipeline"
)

var errPassOpen = errors.New("previous pass has not ended")

// softwareEncoder records passes as closures that run, in order, when the submission executes.
// The first recording error is kept and returned from Submit.
type softwareEncoder struct {
	dev       *softwareDevice
	label     string
	ops       []func() error
	refs      map[*softwareBuffer]struct{}
	err       error
	passOpen  bool
	submitted bool
}

var _ CommandEncoder = &softwareEncoder{}

func (e *softwareEncoder) fail(err error) {
	if e.err == nil {
		e.err = fmt.Errorf("encoder %q: %w", e.label, err)
	}
}

func (e *softwareEncoder) ref(b *softwareBuffer) {
	e.refs[b] = struct{}{}
}

func (e *softwareEncoder) registered(p pipeline.Pipeline) bool {
	e.dev.mu.Lock()
	defer e.dev.mu.Unlock()
	_, ok := e.dev.pipelines[p.PipelineKey()]
	return ok
}

func (e *softwareEncoder) BeginComputePass(label string) ComputePass {
	if e.passOpen {
		e.fail(errPassOpen)
	}
	e.passOpen = true
	return &softwareComputePass{enc: e, label: label, groups: make(map[uint32]*softwareBindGroup)}
}

func (e *softwareEncoder) BeginRenderPass(label string, target RenderTarget, depthClear float32) RenderPass {
	if e.passOpen {
		e.fail(errPassOpen)
	}
	e.passOpen = true
	d := e.dev
	rec := RenderPassRecord{Label: label, Width: target.Width, Height: target.Height, DepthClear: depthClear}
	e.ops = append(e.ops, func() error {
		d.passes = append(d.passes, rec)
		return nil
	})
	return &softwareRenderPass{
		enc:    e,
		groups: make(map[uint32]*softwareBindGroup),
		viewport: Viewport{
			Width:  float32(target.Width),
			Height: float32(target.Height),
		},
	}
}

func (e *softwareEncoder) Release() {
	e.ops = nil
	e.refs = nil
	e.submitted = true
}

type softwareComputePass struct {
	enc      *softwareEncoder
	label    string
	pipeline pipeline.Pipeline
	groups   map[uint32]*softwareBindGroup
}

func (p *softwareComputePass) SetPipeline(pl pipeline.Pipeline) {
	if pl.Type() != pipeline.PipelineTypeCompute {
		p.enc.fail(fmt.Errorf("%q is not a compute pipeline", pl.PipelineKey()))
		return
	}
	if !p.enc.registered(pl) {
		p.enc.fail(fmt.Errorf("%w: %q", ErrUnknownPipeline, pl.PipelineKey()))
		return
	}
	p.pipeline = pl
}

func (p *softwareComputePass) SetBindGroup(group uint32, bg BindGroup) {
	sbg, ok := bg.(*softwareBindGroup)
	if !ok {
		p.enc.fail(ErrForeignResource)
		return
	}
	p.groups[group] = sbg
}

func (p *softwareComputePass) DispatchWorkgroups(x, y, z uint32) {
	if p.pipeline == nil {
		p.enc.fail(errors.New("dispatch without a pipeline"))
		return
	}
	key := p.pipeline.PipelineKey()
	groups := make(map[uint32]*softwareBindGroup, len(p.groups))
	for g, bg := range p.groups {
		groups[g] = bg
		for _, b := range bg.entries {
			p.enc.ref(b)
		}
	}
	d := p.enc.dev
	workgroups := [3]uint32{x, y, z}
	p.enc.ops = append(p.enc.ops, func() error {
		kernel, ok := d.kernels[key]
		if !ok {
			return fmt.Errorf("%w: no kernel for %q", ErrUnknownPipeline, key)
		}
		bindings := make(map[BindingSlot][]byte)
		for g, bg := range groups {
			for binding, b := range bg.entries {
				if b.released {
					return fmt.Errorf("buffer %q used after release", b.label)
				}
				bindings[BindingSlot{Group: g, Binding: binding}] = b.data
			}
		}
		if err := kernel(bindings, workgroups); err != nil {
			return fmt.Errorf("kernel %q: %w", key, err)
		}
		d.dispatches = append(d.dispatches, DispatchRecord{PipelineKey: key, Workgroups: workgroups})
		return nil
	})
}

func (p *softwareComputePass) End() {
	p.enc.passOpen = false
}

type softwareRenderPass struct {
	enc           *softwareEncoder
	pipeline      pipeline.Pipeline
	groups        map[uint32]*softwareBindGroup
	viewport      Viewport
	vertex, index *softwareBuffer
}

func (p *softwareRenderPass) SetPipeline(pl pipeline.Pipeline) {
	if pl.Type() != pipeline.PipelineTypeRender {
		p.enc.fail(fmt.Errorf("%q is not a render pipeline", pl.PipelineKey()))
		return
	}
	if !p.enc.registered(pl) {
		p.enc.fail(fmt.Errorf("%w: %q", ErrUnknownPipeline, pl.PipelineKey()))
		return
	}
	p.pipeline = pl
}

func (p *softwareRenderPass) SetBindGroup(group uint32, bg BindGroup) {
	sbg, ok := bg.(*softwareBindGroup)
	if !ok {
		p.enc.fail(ErrForeignResource)
		return
	}
	p.groups[group] = sbg
}

func (p *softwareRenderPass) SetViewport(v Viewport) {
	p.viewport = v
}

func (p *softwareRenderPass) SetVertexBuffer(buf Buffer) {
	b, ok := buf.(*softwareBuffer)
	if !ok {
		p.enc.fail(ErrForeignResource)
		return
	}
	p.vertex = b
}

func (p *softwareRenderPass) SetIndexBuffer(buf Buffer) {
	b, ok := buf.(*softwareBuffer)
	if !ok {
		p.enc.fail(ErrForeignResource)
		return
	}
	p.index = b
}

func (p *softwareRenderPass) MultiDrawIndexedIndirect(indirect Buffer, offset uint64, count uint32) {
	if p.pipeline == nil || p.vertex == nil || p.index == nil {
		p.enc.fail(errors.New("draw without pipeline, vertex buffer and index buffer"))
		return
	}
	ib, ok := indirect.(*softwareBuffer)
	if !ok {
		p.enc.fail(ErrForeignResource)
		return
	}
	end := offset + uint64(count)*DrawIndexedIndirectSize
	if end > ib.Size() {
		p.enc.fail(fmt.Errorf("%w: indirect range [%d, %d) in %q (%d bytes)", ErrOutOfBounds, offset, end, ib.label, ib.Size()))
		return
	}

	p.enc.ref(ib)
	p.enc.ref(p.vertex)
	p.enc.ref(p.index)
	maxGroup := -1
	for g, bg := range p.groups {
		maxGroup = max(maxGroup, int(g))
		for _, b := range bg.entries {
			p.enc.ref(b)
		}
	}
	labels := make([]string, maxGroup+1)
	for g, bg := range p.groups {
		labels[g] = bg.label
	}

	d := p.enc.dev
	draw := IndirectDraw{
		PipelineKey: p.pipeline.PipelineKey(),
		Viewport:    p.viewport,
		BindGroups:  labels,
		Offset:      offset,
		Count:       count,
	}
	p.enc.ops = append(p.enc.ops, func() error {
		if ib.released {
			return fmt.Errorf("buffer %q used after release", ib.label)
		}
		visible := make([]uint32, 0, count)
		for i := range uint64(count) {
			cmd := ib.data[offset+i*DrawIndexedIndirectSize:]
			if binary.LittleEndian.Uint32(cmd[4:8]) > 0 {
				visible = append(visible, binary.LittleEndian.Uint32(cmd[16:20]))
			}
		}
		draw.Visible = visible
		last := len(d.passes) - 1
		d.passes[last].Draws = append(d.passes[last].Draws, draw)
		return nil
	})
}

func (p *softwareRenderPass) End() {
	p.enc.passOpen = false
}
