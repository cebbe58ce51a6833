package renderer

import (
	_ "embed"
	"fmt"

	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/Carmen-Shannon/oxy-vr/engine/camera"
	"github.com/Carmen-Shannon/oxy-vr/engine/cull"
	"github.com/Carmen-Shannon/oxy-vr/engine/frame"
	"github.com/Carmen-Shannon/oxy-vr/engine/light"
	"github.com/Carmen-Shannon/oxy-vr/engine/model"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

// Bind groups of the stereo pipeline.
const (
	// GroupEye holds the per-eye uniforms.
	GroupEye uint32 = 0
	// GroupShared holds the frame's storage buffers, shared by both eyes.
	GroupShared uint32 = 1
)

// Bindings within GroupEye.
const (
	BindingSceneData  uint32 = 0
	BindingViewParams uint32 = 1
)

// Bindings within GroupShared.
const (
	BindingDrawRecords uint32 = 0
	BindingMaterials   uint32 = 1
	BindingJoints      uint32 = 2
)

// DepthClear is the depth the stereo pass clears to. Depth is reversed: near is 1, far is 0.
const DepthClear float32 = 0

//go:embed assets/stereo.wgsl
var stereoBody string

// StereoSource is the complete WGSL of the stereo pipeline.
var StereoSource = light.GPULightSource + "\n" +
	camera.GPUSceneDataSource + "\n" +
	camera.GPUViewParamsSource + "\n" +
	material.GPUMaterialSource + "\n" +
	cull.GPUDrawRecordSource + "\n" +
	stereoBody

// NewStereoPipeline compiles the stereo shader and describes a render pipeline for it. Depth uses reverse-Z
// (compare greater, cleared to DepthClear) and back faces are culled.
//
// Parameters:
//   - key: the pipeline key materials reference, usually material.DefaultPipelineKey
//
// Returns:
//   - pipeline.Pipeline: the unregistered pipeline
//   - error: an error if either stage fails to compile
func NewStereoPipeline(key string) (pipeline.Pipeline, error) {
	vs, err := shader.NewShader(key+"_vs", shader.ShaderTypeVertex, StereoSource,
		shader.WithVertexLayouts(model.GPUVertexLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compile stereo vertex shader: %w", err)
	}
	fs, err := shader.NewShader(key+"_fs", shader.ShaderTypeFragment, StereoSource)
	if err != nil {
		return nil, fmt.Errorf("failed to compile stereo fragment shader: %w", err)
	}

	return pipeline.NewPipeline(key, pipeline.PipelineTypeRender,
		pipeline.WithVertexShader(vs),
		pipeline.WithFragmentShader(fs),
		pipeline.WithDepthTestEnabled(true),
		pipeline.WithDepthWriteEnabled(true),
		pipeline.WithDepthCompare(wgpu.CompareFunctionGreater),
		pipeline.WithCullMode(wgpu.CullModeBack),
		pipeline.WithFrontFace(wgpu.FrontFaceCCW),
		pipeline.WithTopology(wgpu.PrimitiveTopologyTriangleList),
	), nil
}

// EyeViewports splits a side-by-side stereo target into its two halves. Eye 0 is the left half.
//
// Parameters:
//   - target: the stereo render target
//
// Returns:
//   - [common.ViewCount]device.Viewport: the viewport of each eye
func EyeViewports(target device.RenderTarget) [common.ViewCount]device.Viewport {
	half := float32(target.Width) / 2
	height := float32(target.Height)
	return [common.ViewCount]device.Viewport{
		{X: 0, Y: 0, Width: half, Height: height},
		{X: half, Y: 0, Width: half, Height: height},
	}
}

// encodeStereoPass records one render pass that draws every bucket once per eye. Vertex and index arenas are
// bound once; each eye sets its viewport and eye bind group before dispatching the buckets.
func encodeStereoPass(enc device.CommandEncoder, target device.RenderTarget, arenas [2]device.Buffer,
	lookup PipelineLookup, draws drawState) (int, error) {
	pass := enc.BeginRenderPass("stereo", target, DepthClear)
	defer pass.End()

	pass.SetVertexBuffer(arenas[0])
	pass.SetIndexBuffer(arenas[1])

	total := 0
	for eye, viewport := range EyeViewports(target) {
		pass.SetViewport(viewport)
		n, err := DispatchBuckets(pass, lookup, draws.buckets, draws.commands, draws.eyes[eye], draws.shared)
		if err != nil {
			return total, fmt.Errorf("eye %d: %w", eye, err)
		}
		total += n
	}
	return total, nil
}

// drawState is what the stereo pass needs from a frame slot.
type drawState struct {
	buckets  []frame.Bucket
	commands device.Buffer
	eyes     [common.ViewCount]device.BindGroup
	shared   device.BindGroup
}
