package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/Carmen-Shannon/oxy-vr/engine/camera"
	"github.com/Carmen-Shannon/oxy-vr/engine/config"
	"github.com/Carmen-Shannon/oxy-vr/engine/game_object"
	"github.com/Carmen-Shannon/oxy-vr/engine/model"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-vr/engine/scene"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRuntimeLost = errors.New("runtime lost")

// scriptedSource hands out a fixed number of frames and then ends the session.
type scriptedSource struct {
	mu        sync.Mutex
	remaining int
	dt        float32
	endErr    error
	ended     []renderer.FrameStats
}

func (s *scriptedSource) NextFrame(ctx context.Context) (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.remaining == 0 {
		return Frame{}, ErrSessionEnded
	}
	s.remaining--
	return Frame{View: forwardView(), Target: device.RenderTarget{Width: 2048, Height: 1024}, DeltaTime: s.dt}, nil
}

func (s *scriptedSource) EndFrame(stats renderer.FrameStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = append(s.ended, stats)
	return s.endErr
}

func (s *scriptedSource) endedFrames() []renderer.FrameStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]renderer.FrameStats(nil), s.ended...)
}

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

func softwareConfig() *config.Config {
	cfg := config.Default()
	cfg.Renderer.Backend = config.BackendSoftware
	cfg.Animation.Workers = 2
	cfg.Logging.Console = false
	return cfg
}

func newTestEngine(t *testing.T, source FrameSource, options ...EngineBuilderOption) Engine {
	t.Helper()
	e, err := NewEngine(source, append([]EngineBuilderOption{WithConfig(softwareConfig())}, options...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

// cubeScene puts one cube five metres in front of the viewer.
func cubeScene(t *testing.T, e Engine) scene.Scene {
	t.Helper()
	tables := e.Renderer().Tables()
	cube, err := tables.RegisterMesh(model.CubeMesh())
	require.NoError(t, err)
	mat, err := tables.RegisterMaterial(material.NewMaterial(material.WithName("lit")))
	require.NoError(t, err)

	s := scene.NewScene("cubes")
	s.SetActive(true)
	_, err = s.Add(game_object.NewGameObject(
		game_object.WithMesh(cube),
		game_object.WithMaterial(mat),
		game_object.WithPosition(0, 0, -5),
	), scene.EntityID{})
	require.NoError(t, err)
	return s
}

func TestRunRendersUntilSessionEnds(t *testing.T) {
	source := &scriptedSource{remaining: 3, dt: 1.0 / 90}
	e := newTestEngine(t, source)
	e.SetScene(cubeScene(t, e))

	require.NoError(t, e.Run(context.Background()))

	ended := source.endedFrames()
	require.Len(t, ended, 3)
	for i, stats := range ended {
		assert.Equal(t, uint64(i), stats.Frame)
		assert.Equal(t, 1, stats.Draws)
		assert.Equal(t, 2, stats.MultiDraws)
	}
	assert.Equal(t, device.BackendTypeSoftware, e.Device().Backend())
}

func TestInactiveSceneStillCompletesFrames(t *testing.T) {
	source := &scriptedSource{remaining: 1}
	e := newTestEngine(t, source)
	s := cubeScene(t, e)
	s.SetActive(false)
	e.SetScene(s)

	stats, err := e.Step(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Draws)
	assert.Len(t, source.endedFrames(), 1)
}

func TestStepAdvancesAnimationAndTick(t *testing.T) {
	source := &scriptedSource{remaining: 1, dt: 0.5}
	var ticks []float32
	e := newTestEngine(t, source, WithTickCallback(func(dt float32) { ticks = append(ticks, dt) }))

	child := common.IdentityTransform()
	child.Translation = mgl32.Vec3{0, 1, 0}
	a, err := e.NewAnimator(&model.Skeleton{Bones: []model.Bone{
		{Name: "root", Parent: -1, InverseBind: mgl32.Ident4(), Rest: common.IdentityTransform()},
		{Name: "child", Parent: 0, InverseBind: mgl32.Translate3D(0, -1, 0), Rest: child},
	}})
	require.NoError(t, err)

	skin, err := e.Renderer().Tables().RegisterSkin(2)
	require.NoError(t, err)
	clip := a.AddClip(model.AnimationClip{
		Name:     "slide",
		Duration: 1,
		Channels: []model.AnimationChannel{{Bone: 0, Translations: []model.VectorKeyframe{
			{Time: 0, Value: mgl32.Vec3{}},
			{Time: 1, Value: mgl32.Vec3{2, 0, 0}},
		}}},
	})
	idx, err := a.AddInstance(skin)
	require.NoError(t, err)
	require.NoError(t, a.PlayAnimation(idx, clip, false))

	_, err = e.Step(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []float32{0.5}, ticks)
	joints, err := e.Renderer().Tables().SkinJoints(skin)
	require.NoError(t, err)
	require.Len(t, joints, 2)
	for _, j := range joints {
		assert.True(t, j.ApproxEqualThreshold(mgl32.Translate3D(1, 0, 0), 1e-5))
	}

	assert.True(t, e.RemoveAnimator(a))
	assert.False(t, e.RemoveAnimator(a))
}

func TestMissedDeadlineSkipsFrame(t *testing.T) {
	dev := device.NewSoftwareDevice(device.WithDeferredExecution(true))
	t.Cleanup(dev.Release)
	cfg := softwareConfig()
	cfg.Renderer.FramesInFlight = 2
	cfg.Renderer.FrameTimeout = 50 * time.Millisecond

	source := &scriptedSource{remaining: 4}
	e, err := NewEngine(source, WithConfig(cfg), WithDevice(dev))
	require.NoError(t, err)
	e.SetScene(cubeScene(t, e))

	// Nothing completes on the GPU, so frames 2 and 3 wait on busy slots until their deadline.
	require.NoError(t, e.Run(context.Background()))
	ended := source.endedFrames()
	require.Len(t, ended, 4)
	assert.False(t, ended[0].Skipped)
	assert.False(t, ended[1].Skipped)
	for _, stats := range ended[2:] {
		assert.True(t, stats.Skipped)
		assert.Equal(t, uint64(2), stats.Frame)
		assert.Zero(t, stats.Draws)
	}

	require.NoError(t, dev.CompleteAll())
	source.mu.Lock()
	source.remaining = 1
	source.mu.Unlock()
	stats, err := e.Step(context.Background())
	require.NoError(t, err)
	assert.False(t, stats.Skipped)
	assert.Equal(t, uint64(2), stats.Frame)
	assert.Equal(t, 1, stats.Draws)

	require.NoError(t, dev.CompleteAll())
	require.NoError(t, e.Close(context.Background()))
}

func TestOuterCancellationIsNotASkippedFrame(t *testing.T) {
	source := &scriptedSource{remaining: 1}
	e := newTestEngine(t, source)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Step(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, source.endedFrames())
}

func TestEndFrameErrorStopsRun(t *testing.T) {
	source := &scriptedSource{remaining: 5, endErr: errRuntimeLost}
	e := newTestEngine(t, source)

	err := e.Run(context.Background())
	assert.ErrorIs(t, err, errRuntimeLost)
	assert.Len(t, source.endedFrames(), 1)
}

func TestQuitAndCancelStopRun(t *testing.T) {
	source := &scriptedSource{remaining: 5}
	e := newTestEngine(t, source)
	e.Quit()
	e.Quit()
	require.NoError(t, e.Run(context.Background()))
	assert.Empty(t, source.endedFrames())

	other := newTestEngine(t, &scriptedSource{remaining: 5})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, other.Run(ctx))
}

func TestNewEngineValidates(t *testing.T) {
	_, err := NewEngine(nil)
	assert.ErrorIs(t, err, ErrNoFrameSource)

	cfg := softwareConfig()
	cfg.Renderer.FramesInFlight = 9
	_, err = NewEngine(&scriptedSource{}, WithConfig(cfg))
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestSuppliedDeviceIsNotReleased(t *testing.T) {
	dev := device.NewSoftwareDevice()
	e, err := NewEngine(&scriptedSource{remaining: 1}, WithConfig(softwareConfig()), WithDevice(dev))
	require.NoError(t, err)
	assert.Same(t, dev, e.Device())

	require.NoError(t, e.Close(context.Background()))
	assert.False(t, dev.Closed())
	dev.Release()
	assert.True(t, dev.Closed())
}

func TestClosedEngineRefusesWork(t *testing.T) {
	source := &scriptedSource{remaining: 2}
	e := newTestEngine(t, source)
	require.NoError(t, e.Close(context.Background()))
	require.NoError(t, e.Close(context.Background()))

	_, err := e.Step(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	_, err = e.NewAnimator(&model.Skeleton{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRendererOptionsFollowConfig(t *testing.T) {
	cfg := softwareConfig()
	cfg.Renderer.FramesInFlight = 3
	cfg.Renderer.VertexArenaBytes = 4096
	cfg.Renderer.IndexArenaBytes = 1024
	assert.Len(t, RendererOptions(cfg, nil), 7)

	source := &scriptedSource{remaining: 1}
	e := newTestEngine(t, source, WithConfig(cfg))
	assert.Equal(t, 3, e.Renderer().Synchronizer().FramesInFlight())
	stats := e.Renderer().Tables().Stats()
	assert.Equal(t, uint64(4096), stats.VertexCapacity)
	assert.Equal(t, uint64(1024), stats.IndexCapacity)
}

func TestLoggerIsBuiltFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	cfg := softwareConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.File.Path = path

	e, err := NewEngine(&scriptedSource{}, WithConfig(cfg))
	require.NoError(t, err)
	require.NoError(t, e.Close(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "engine ready")
}
