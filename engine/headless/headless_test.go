package headless

import (
	"context"
	"testing"

	"github.com/Carmen-Shannon/oxy-vr/engine"
	"github.com/Carmen-Shannon/oxy-vr/engine/config"
	"github.com/Carmen-Shannon/oxy-vr/engine/game_object"
	"github.com/Carmen-Shannon/oxy-vr/engine/model"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-vr/engine/scene"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextFrameSeparatesEyes(t *testing.T) {
	s := NewSource(WithEyeResolution(640, 480), WithFrameRate(72), WithIPD(0.06))

	f, err := s.NextFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(1280), f.Target.Width)
	assert.Equal(t, uint32(480), f.Target.Height)
	assert.InDelta(t, 1.0/72, f.DeltaTime, 1e-7)

	left, right := f.View.Eyes[0].Pose.Position, f.View.Eyes[1].Pose.Position
	assert.True(t, right.Sub(left).ApproxEqualThreshold(mgl32.Vec3{0.06, 0, 0}, 1e-6))
	assert.True(t, left.Add(right).ApproxEqualThreshold(mgl32.Vec3{}, 1e-6))
}

func TestFrameLimitEndsSession(t *testing.T) {
	s := NewSource(WithFrameLimit(2))
	for range 2 {
		_, err := s.NextFrame(context.Background())
		require.NoError(t, err)
		require.NoError(t, s.EndFrame(renderer.FrameStats{Draws: 3}))
	}
	_, err := s.NextFrame(context.Background())
	assert.ErrorIs(t, err, engine.ErrSessionEnded)

	issued, ended := s.Frames()
	assert.Equal(t, 2, issued)
	assert.Equal(t, 2, ended)
	assert.Equal(t, 3, s.Last().Draws)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewSource().NextFrame(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOrbitLooksAtCentre(t *testing.T) {
	pose := Orbit(2, 1.5, 4)(1)
	assert.InDeltaSlice(t, []float32{2, 1.5, 0}, pose.Position[:], 1e-5)
	forward := pose.Orientation.Rotate(mgl32.Vec3{0, 0, -1})
	assert.InDeltaSlice(t, []float32{-1, 0, 0}, forward[:], 1e-5)
}

func TestDrivesEngine(t *testing.T) {
	cfg := config.Default()
	cfg.Renderer.Backend = config.BackendSoftware
	cfg.Animation.Workers = 1

	source := NewSource(WithFrameLimit(4), WithHeadPose(Orbit(5, 0, 8)))
	e, err := engine.NewEngine(source, engine.WithConfig(cfg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })

	tables := e.Renderer().Tables()
	cube, err := tables.RegisterMesh(model.CubeMesh())
	require.NoError(t, err)
	mat, err := tables.RegisterMaterial(material.NewMaterial())
	require.NoError(t, err)
	s := scene.NewScene("orbit", scene.WithActive(true))
	_, err = s.Add(game_object.NewGameObject(game_object.WithMesh(cube), game_object.WithMaterial(mat)), scene.EntityID{})
	require.NoError(t, err)
	e.SetScene(s)

	require.NoError(t, e.Run(context.Background()))
	issued, ended := source.Frames()
	assert.Equal(t, 4, issued)
	assert.Equal(t, 4, ended)
	assert.Equal(t, 1, source.Last().Draws)
}
