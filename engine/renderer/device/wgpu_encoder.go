package device

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/pipeline"
	"github.com/cogentcore/webgpu/wgpu"
)

// wgpuEncoder wraps a native command encoder. Pass methods cannot fail on the native API, so invalid use
// is recorded and returned from Submit.
type wgpuEncoder struct {
	dev     *wgpuDevice
	label   string
	encoder *wgpu.CommandEncoder
	err     error
}

var _ CommandEncoder = &wgpuEncoder{}

func (e *wgpuEncoder) fail(err error) {
	if e.err == nil {
		e.err = fmt.Errorf("encoder %q: %w", e.label, err)
	}
}

func (e *wgpuEncoder) BeginComputePass(label string) ComputePass {
	pass := e.encoder.BeginComputePass(&wgpu.ComputePassDescriptor{Label: label})
	return &wgpuComputePass{enc: e, pass: pass}
}

func (e *wgpuEncoder) BeginRenderPass(label string, target RenderTarget, depthClear float32) RenderPass {
	if target.ColorView == nil {
		e.fail(errors.New("render target has no color view"))
	}
	depthView, err := e.dev.depthAttachment(target.Width, target.Height)
	if err != nil {
		e.fail(err)
	}
	if e.err != nil {
		return &wgpuRenderPass{enc: e}
	}
	pass := e.encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label: label,
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:       target.ColorView,
				LoadOp:     wgpu.LoadOpClear,
				StoreOp:    wgpu.StoreOpStore,
				ClearValue: target.ClearColor,
			},
		},
		DepthStencilAttachment: &wgpu.RenderPassDepthStencilAttachment{
			View:            depthView,
			DepthLoadOp:     wgpu.LoadOpClear,
			DepthStoreOp:    wgpu.StoreOpDiscard,
			DepthClearValue: depthClear,
		},
	})
	return &wgpuRenderPass{enc: e, pass: pass}
}

func (e *wgpuEncoder) Release() {
	if e.encoder != nil {
		e.encoder.Release()
		e.encoder = nil
	}
}

type wgpuComputePass struct {
	enc  *wgpuEncoder
	pass *wgpu.ComputePassEncoder
}

func (p *wgpuComputePass) SetPipeline(pl pipeline.Pipeline) {
	cp, ok := pl.Pipeline().(*wgpu.ComputePipeline)
	if !ok || cp == nil {
		p.enc.fail(fmt.Errorf("%w: %q", ErrUnknownPipeline, pl.PipelineKey()))
		return
	}
	p.pass.SetPipeline(cp)
}

func (p *wgpuComputePass) SetBindGroup(group uint32, bg BindGroup) {
	wbg, ok := bg.(*wgpuBindGroup)
	if !ok {
		p.enc.fail(ErrForeignResource)
		return
	}
	p.pass.SetBindGroup(group, wbg.group, nil)
}

func (p *wgpuComputePass) DispatchWorkgroups(x, y, z uint32) {
	if x == 0 {
		return
	}
	p.pass.DispatchWorkgroups(x, y, z)
}

func (p *wgpuComputePass) End() {
	p.pass.End()
	p.pass.Release()
}

type wgpuRenderPass struct {
	enc  *wgpuEncoder
	pass *wgpu.RenderPassEncoder
}

func (p *wgpuRenderPass) SetPipeline(pl pipeline.Pipeline) {
	if p.pass == nil {
		return
	}
	rp, ok := pl.Pipeline().(*wgpu.RenderPipeline)
	if !ok || rp == nil {
		p.enc.fail(fmt.Errorf("%w: %q", ErrUnknownPipeline, pl.PipelineKey()))
		return
	}
	p.pass.SetPipeline(rp)
}

func (p *wgpuRenderPass) SetBindGroup(group uint32, bg BindGroup) {
	if p.pass == nil {
		return
	}
	wbg, ok := bg.(*wgpuBindGroup)
	if !ok {
		p.enc.fail(ErrForeignResource)
		return
	}
	p.pass.SetBindGroup(group, wbg.group, nil)
}

func (p *wgpuRenderPass) SetViewport(v Viewport) {
	if p.pass == nil {
		return
	}
	p.pass.SetViewport(v.X, v.Y, v.Width, v.Height, 0, 1)
}

func (p *wgpuRenderPass) SetVertexBuffer(buf Buffer) {
	if p.pass == nil {
		return
	}
	b, ok := buf.(*wgpuBuffer)
	if !ok {
		p.enc.fail(ErrForeignResource)
		return
	}
	p.pass.SetVertexBuffer(0, b.buf, 0, wgpu.WholeSize)
}

func (p *wgpuRenderPass) SetIndexBuffer(buf Buffer) {
	if p.pass == nil {
		return
	}
	b, ok := buf.(*wgpuBuffer)
	if !ok {
		p.enc.fail(ErrForeignResource)
		return
	}
	p.pass.SetIndexBuffer(b.buf, wgpu.IndexFormatUint32, 0, wgpu.WholeSize)
}

// MultiDrawIndexedIndirect issues the range as one native multi-draw when the device has
// NativeFeatureMultiDrawIndirect, and as consecutive DrawIndexedIndirect calls otherwise.
func (p *wgpuRenderPass) MultiDrawIndexedIndirect(indirect Buffer, offset uint64, count uint32) {
	if p.pass == nil {
		return
	}
	b, ok := indirect.(*wgpuBuffer)
	if !ok {
		p.enc.fail(ErrForeignResource)
		return
	}
	end := offset + uint64(count)*DrawIndexedIndirectSize
	if end > b.size {
		p.enc.fail(fmt.Errorf("%w: indirect range [%d, %d) in %q (%d bytes)", ErrOutOfBounds, offset, end, b.label, b.size))
		return
	}
	if p.enc.dev.multiDraw {
		p.pass.MultiDrawIndexedIndirect(p.pass, *b.buf, offset, count)
		return
	}
	for i := range uint64(count) {
		p.pass.DrawIndexedIndirect(b.buf, offset+i*DrawIndexedIndirectSize)
	}
}

func (p *wgpuRenderPass) End() {
	if p.pass == nil {
		return
	}
	p.pass.End()
	p.pass.Release()
}
