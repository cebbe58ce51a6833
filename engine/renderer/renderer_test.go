package renderer

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/Carmen-Shannon/oxy-vr/engine/camera"
	"github.com/Carmen-Shannon/oxy-vr/engine/cull"
	"github.com/Carmen-Shannon/oxy-vr/engine/frame"
	"github.com/Carmen-Shannon/oxy-vr/engine/game_object"
	"github.com/Carmen-Shannon/oxy-vr/engine/model"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-vr/engine/scene"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unitSphereScale scales the unit cube so its bounding sphere has radius 1.
const unitSphereScale = 1.1547005

var testTarget = device.RenderTarget{Width: 2048, Height: 1024}

type fixture struct {
	dev      device.SoftwareDevice
	renderer Renderer
	scene    scene.Scene
	cube     common.MeshHandle
	lit      common.MaterialHandle
}

func newFixture(t *testing.T, deviceOptions []device.DeviceBuilderOption, options ...RendererBuilderOption) *fixture {
	t.Helper()
	dev := device.NewSoftwareDevice(deviceOptions...)
	r, err := NewRenderer(dev, options...)
	require.NoError(t, err)
	t.Cleanup(r.Release)

	cube, err := r.Tables().RegisterMesh(model.CubeMesh())
	require.NoError(t, err)
	lit, err := r.Tables().RegisterMaterial(material.NewMaterial(material.WithName("lit")))
	require.NoError(t, err)
	return &fixture{dev: dev, renderer: r, scene: scene.NewScene("test"), cube: cube, lit: lit}
}

func (f *fixture) add(t *testing.T, options ...game_object.GameObjectBuilderOption) scene.EntityID {
	t.Helper()
	id, err := f.scene.Add(game_object.NewGameObject(options...), scene.EntityID{})
	require.NoError(t, err)
	return id
}

// forwardView is a parallel stereo rig looking down -Z with 90 degree symmetric fields of view.
func forwardView() camera.StereoView {
	view := camera.StereoView{Near: 0.1}
	fov := camera.SymmetricFov(mgl32.DegToRad(90), mgl32.DegToRad(90))
	for i, x := range []float32{-0.032, 0.032} {
		view.Eyes[i] = camera.Eye{
			Pose: camera.Pose{Position: mgl32.Vec3{x, 0, 0}, Orientation: mgl32.QuatIdent()},
			Fov:  fov,
		}
	}
	return view
}

// canted gives each eye the wider outward field of view headset lenses have: 55 degrees outward,
// 45 degrees inward.
func cantedView() camera.StereoView {
	view := forwardView()
	outer, inner := mgl32.DegToRad(55), mgl32.DegToRad(45)
	half := mgl32.DegToRad(45)
	view.Eyes[camera.EyeLeft].Fov = camera.Fov{Left: -outer, Right: inner, Up: half, Down: -half}
	view.Eyes[camera.EyeRight].Fov = camera.Fov{Left: -inner, Right: outer, Up: half, Down: -half}
	return view
}

func (f *fixture) render(t *testing.T, view camera.StereoView) FrameStats {
	t.Helper()
	f.dev.ResetRecords()
	stats, err := f.renderer.RenderFrame(context.Background(), f.scene, view, testTarget)
	require.NoError(t, err)
	return stats
}

func (f *fixture) visible(t *testing.T) [][]uint32 {
	t.Helper()
	passes := f.dev.RenderPasses()
	require.Len(t, passes, 1)
	out := make([][]uint32, 0, len(passes[0].Draws))
	for _, d := range passes[0].Draws {
		out = append(out, d.Visible)
	}
	return out
}

func TestSphereInFrontIsDrawn(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t,
		game_object.WithMesh(f.cube),
		game_object.WithMaterial(f.lit),
		game_object.WithPosition(0, 0, -5),
		game_object.WithScale(unitSphereScale, unitSphereScale, unitSphereScale),
	)

	stats := f.render(t, forwardView())
	assert.Equal(t, 1, stats.Draws)
	assert.Equal(t, 2, stats.MultiDraws)
	assert.Equal(t, [][]uint32{{0}, {0}}, f.visible(t))

	dispatches := f.dev.Dispatches()
	require.Len(t, dispatches, 1)
	assert.Equal(t, cull.PipelineKey, dispatches[0].PipelineKey)
	assert.Equal(t, [3]uint32{1, 1, 1}, dispatches[0].Workgroups)
}

func TestSphereBehindIsCulled(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t,
		game_object.WithMesh(f.cube),
		game_object.WithMaterial(f.lit),
		game_object.WithPosition(0, 0, 5),
		game_object.WithScale(unitSphereScale, unitSphereScale, unitSphereScale),
	)

	stats := f.render(t, forwardView())
	assert.Equal(t, 1, stats.Draws)
	assert.Equal(t, [][]uint32{{}, {}}, f.visible(t))
}

func TestSphereSeenByOneEyeIsDrawn(t *testing.T) {
	f := newFixture(t, nil)
	// 50 degrees left of forward: inside the left eye's outer 55 degrees, outside the right eye's inner 45.
	angle := mgl32.DegToRad(50)
	x, z := -5*float32(math.Sin(float64(angle))), -5*float32(math.Cos(float64(angle)))
	s := float32(0.1 * unitSphereScale)
	f.add(t,
		game_object.WithMesh(f.cube),
		game_object.WithMaterial(f.lit),
		game_object.WithPosition(x, 0, z),
		game_object.WithScale(s, s, s),
	)

	view := cantedView()
	frustums := view.Frustums()
	sphere := common.Sphere{Center: [3]float32{x, 0, z}, Radius: 0.1}
	left := cull.SphereVisible([common.ViewCount][4]common.Plane{frustums[0].SidePlanes(), frustums[0].SidePlanes()}, sphere)
	right := cull.SphereVisible([common.ViewCount][4]common.Plane{frustums[1].SidePlanes(), frustums[1].SidePlanes()}, sphere)
	require.True(t, left)
	require.False(t, right)

	f.render(t, view)
	assert.Equal(t, [][]uint32{{0}, {0}}, f.visible(t))
}

func TestOneMultiDrawPerBucketPerEye(t *testing.T) {
	f := newFixture(t, nil)
	alt, err := NewStereoPipeline("stereo_alt")
	require.NoError(t, err)
	require.NoError(t, f.renderer.RegisterPipelines(alt))

	tabs := f.renderer.Tables()
	unlit, err := tabs.RegisterMaterial(material.NewMaterial(material.WithWorkflow(material.WorkflowUnlit)))
	require.NoError(t, err)
	altMat, err := tabs.RegisterMaterial(material.NewMaterial(material.WithPipelineKey("stereo_alt")))
	require.NoError(t, err)

	for i, m := range []common.MaterialHandle{f.lit, unlit, f.lit, altMat, unlit, f.lit} {
		f.add(t,
			game_object.WithMesh(f.cube),
			game_object.WithMaterial(m),
			game_object.WithPosition(float32(i)-2.5, 0, -6),
		)
	}

	stats := f.render(t, forwardView())
	assert.Equal(t, 6, stats.Draws)
	assert.Equal(t, 3, stats.Buckets)
	assert.Equal(t, 6, stats.MultiDraws)

	passes := f.dev.RenderPasses()
	require.Len(t, passes, 1)
	assert.Equal(t, DepthClear, passes[0].DepthClear)
	draws := passes[0].Draws
	require.Len(t, draws, 6)

	viewports := EyeViewports(testTarget)
	total := uint32(0)
	for i, d := range draws {
		eye := i / 3
		assert.Equal(t, viewports[eye], d.Viewport)
		assert.Equal(t, uint64(total%6)*device.DrawIndexedIndirectSize, d.Offset)
		assert.Equal(t, []string{eyeLabel(eye), "shared_slot0"}, d.BindGroups)
		total += d.Count
	}
	assert.Equal(t, uint32(12), total)
	assert.Equal(t, "stereo_alt", draws[2].PipelineKey)
	assert.Equal(t, material.DefaultPipelineKey, draws[0].PipelineKey)
}

func eyeLabel(eye int) string {
	return []string{"eye0_slot0", "eye1_slot0"}[eye]
}

func TestEmptySceneClearsWithoutCulling(t *testing.T) {
	f := newFixture(t, nil)
	stats := f.render(t, forwardView())
	assert.Zero(t, stats.Draws)
	assert.Zero(t, stats.MultiDraws)
	assert.Empty(t, f.dev.Dispatches())
	require.Len(t, f.dev.RenderPasses(), 1)
	assert.Empty(t, f.dev.RenderPasses()[0].Draws)
}

func TestDrawBuffersGrow(t *testing.T) {
	f := newFixture(t, nil, WithInitialDrawCapacity(4))
	for i := range 70 {
		f.add(t,
			game_object.WithMesh(f.cube),
			game_object.WithMaterial(f.lit),
			game_object.WithPosition(float32(i%10)-5, float32(i/10)-3, -20),
		)
	}

	stats := f.render(t, forwardView())
	assert.Equal(t, 70, stats.Draws)
	dispatches := f.dev.Dispatches()
	require.Len(t, dispatches, 1)
	assert.Equal(t, [3]uint32{2, 1, 1}, dispatches[0].Workgroups)
	visible := f.visible(t)
	require.Len(t, visible, 2)
	assert.Len(t, visible[0], 70)
}

func TestFallbacksAreReported(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t,
		game_object.WithMesh(f.cube),
		game_object.WithMaterial(common.MaterialHandle{Index: 99, Generation: 3}),
		game_object.WithPosition(0, 0, -4),
	)
	stats := f.render(t, forwardView())
	assert.Equal(t, 1, stats.Fallbacks.Materials)
	assert.Equal(t, [][]uint32{{0}, {0}}, f.visible(t))
}

func TestCancelledFrameIsDiscarded(t *testing.T) {
	f := newFixture(t, nil)
	f.add(t, game_object.WithMesh(f.cube), game_object.WithMaterial(f.lit), game_object.WithPosition(0, 0, -4))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.renderer.RenderFrame(ctx, f.scene, forwardView(), testTarget)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.dev.RenderPasses())
	assert.Empty(t, f.dev.Dispatches())

	next := f.renderer.FrameIndex()
	stats, err := f.renderer.RenderFrame(context.Background(), f.scene, forwardView(), testTarget)
	require.NoError(t, err)
	assert.Equal(t, next, stats.Frame)
}

func TestUnknownPipelineDrawsWithStereoPipeline(t *testing.T) {
	f := newFixture(t, nil)
	m, err := f.renderer.Tables().RegisterMaterial(material.NewMaterial(material.WithPipelineKey("missing")))
	require.NoError(t, err)
	f.add(t, game_object.WithMesh(f.cube), game_object.WithMaterial(f.lit), game_object.WithPosition(-1, 0, -4))
	f.add(t, game_object.WithMesh(f.cube), game_object.WithMaterial(m), game_object.WithPosition(1, 0, -4))

	for range 2 {
		stats := f.render(t, forwardView())
		assert.Equal(t, 2, stats.Draws)
		assert.Equal(t, 4, stats.MultiDraws)
		assert.Equal(t, 1, stats.Fallbacks.Pipelines)
		assert.Equal(t, 1, stats.Fallbacks.Total())

		passes := f.dev.RenderPasses()
		require.Len(t, passes, 1)
		for _, d := range passes[0].Draws {
			assert.Equal(t, material.DefaultPipelineKey, d.PipelineKey)
		}
		assert.Equal(t, [][]uint32{{0}, {1}, {0}, {1}}, f.visible(t))
	}
}

func TestRenamedStereoPipelineDrawsDefaultMaterials(t *testing.T) {
	f := newFixture(t, nil, WithStereoPipelineKey("vr_main"))
	f.add(t, game_object.WithMesh(f.cube), game_object.WithMaterial(f.lit), game_object.WithPosition(-1, 0, -4))
	f.add(t, game_object.WithMesh(f.cube), game_object.WithPosition(1, 0, -4))

	stats := f.render(t, forwardView())
	assert.Equal(t, 2, stats.Draws)
	assert.Equal(t, 1, stats.Fallbacks.Materials)
	assert.Zero(t, stats.Fallbacks.Pipelines)

	passes := f.dev.RenderPasses()
	require.Len(t, passes, 1)
	require.Len(t, passes[0].Draws, 4)
	for _, d := range passes[0].Draws {
		assert.Equal(t, "vr_main", d.PipelineKey)
	}
}

func TestDispatchBucketsRejectsUnknownPipeline(t *testing.T) {
	f := newFixture(t, nil, WithStereoPipelineKey("vr_main"))
	commands, err := f.dev.CreateBuffer("commands", 2*device.DrawIndexedIndirectSize, device.BufferUsageIndirect)
	require.NoError(t, err)
	defer commands.Release()
	enc, err := f.dev.CreateCommandEncoder("dispatch")
	require.NoError(t, err)
	defer enc.Release()

	pass := enc.BeginRenderPass("stereo", testTarget, DepthClear)
	buckets := []frame.Bucket{
		{PipelineKey: material.DefaultPipelineKey, First: 0, Count: 1},
		{PipelineKey: "missing", First: 1, Count: 1},
	}
	issued, err := DispatchBuckets(pass, f.renderer.(*renderer).lookup, buckets, commands)
	pass.End()
	assert.Equal(t, 1, issued, "stereo_pbr resolves to the renamed stereo pipeline")
	assert.ErrorIs(t, err, device.ErrUnknownPipeline)
}

func TestFramesInFlightBlockRendering(t *testing.T) {
	f := newFixture(t, []device.DeviceBuilderOption{device.WithDeferredExecution(true)}, WithFramesInFlight(2))
	f.add(t, game_object.WithMesh(f.cube), game_object.WithMaterial(f.lit), game_object.WithPosition(0, 0, -4))

	for range 2 {
		_, err := f.renderer.RenderFrame(context.Background(), f.scene, forwardView(), testTarget)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, f.dev.Pending())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.renderer.RenderFrame(ctx, f.scene, forwardView(), testTarget)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, f.dev.CompleteNext())
	stats, err := f.renderer.RenderFrame(context.Background(), f.scene, forwardView(), testTarget)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Frame)

	require.NoError(t, f.dev.CompleteAll())
	require.NoError(t, f.renderer.WaitIdle(context.Background()))
}

func TestReleasedRendererRefusesFrames(t *testing.T) {
	dev := device.NewSoftwareDevice()
	r, err := NewRenderer(dev)
	require.NoError(t, err)
	r.Release()
	r.Release()

	_, err = r.RenderFrame(context.Background(), scene.NewScene("empty"), forwardView(), testTarget)
	assert.ErrorIs(t, err, ErrReleased)
}

func TestStereoPipelineDescription(t *testing.T) {
	p, err := NewStereoPipeline(material.DefaultPipelineKey)
	require.NoError(t, err)
	assert.True(t, p.DepthTestEnabled())
	assert.True(t, p.DepthWriteEnabled())
	assert.Equal(t, wgpu.CompareFunctionGreater, p.DepthCompare())
	assert.Equal(t, wgpu.CullModeBack, p.CullMode())
}

func TestEyeViewportsSplitTarget(t *testing.T) {
	vp := EyeViewports(device.RenderTarget{Width: 100, Height: 40})
	assert.Equal(t, device.Viewport{X: 0, Y: 0, Width: 50, Height: 40}, vp[0])
	assert.Equal(t, device.Viewport{X: 50, Y: 0, Width: 50, Height: 40}, vp[1])
}
