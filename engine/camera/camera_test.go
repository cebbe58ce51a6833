package camera

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/Carmen-Shannon/oxy-vr/engine/light"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func project(m mgl32.Mat4, p mgl32.Vec3) mgl32.Vec3 {
	c := m.Mul4x1(p.Vec4(1))
	return c.Vec3().Mul(1 / c.W())
}

func TestProjectionReverseZ(t *testing.T) {
	fov := SymmetricFov(mgl32.DegToRad(90), mgl32.DegToRad(90))
	proj := fov.Projection(0.1)

	near := project(proj, mgl32.Vec3{0, 0, -0.1})
	assert.InDelta(t, 1, near.Z(), 1e-5)

	far := project(proj, mgl32.Vec3{0, 0, -1e6})
	assert.InDelta(t, 0, far.Z(), 1e-5)

	// top edge of a 90° vertical fov at distance 1 maps to NDC y = +1
	top := project(proj, mgl32.Vec3{0, 1, -1})
	assert.InDelta(t, 1, top.Y(), 1e-5)
	right := project(proj, mgl32.Vec3{1, 0, -1})
	assert.InDelta(t, 1, right.X(), 1e-5)
}

func TestProjectionAsymmetric(t *testing.T) {
	fov := Fov{Left: -0.9, Right: 0.7, Up: 0.8, Down: -0.6}
	proj := fov.Projection(0.05)
	left := project(proj, mgl32.Vec3{float32(math.Tan(-0.9)), 0, -1})
	assert.InDelta(t, -1, left.X(), 1e-4)
	down := project(proj, mgl32.Vec3{0, float32(math.Tan(-0.6)), -1})
	assert.InDelta(t, -1, down.Y(), 1e-4)
}

func TestViewProjectionsOverride(t *testing.T) {
	explicit := mgl32.Scale3D(2, 2, 2)
	view := StereoView{}
	view.Eyes[EyeLeft].Pose.Orientation = mgl32.QuatIdent()
	view.Eyes[EyeLeft].Fov = SymmetricFov(1, 1)
	view.Eyes[EyeRight].ViewProjection = &explicit

	vps := view.ViewProjections()
	assert.Equal(t, explicit, vps[EyeRight])
	assert.Equal(t, view.Eyes[EyeLeft].Fov.Projection(DefaultNear), vps[EyeLeft])
}

func TestCameraUpdateAppliesStage(t *testing.T) {
	cam := NewCamera(WithNear(0.1), WithStageTransform(mgl32.Translate3D(10, 0, 0)))
	var eyes [2]Eye
	for i := range eyes {
		eyes[i].Pose = Pose{Position: mgl32.Vec3{float32(i)*0.064 - 0.032, 1.6, 0}, Orientation: mgl32.QuatIdent()}
		eyes[i].Fov = SymmetricFov(1.5, 1.5)
	}

	view := cam.Update(eyes)
	assert.InDelta(t, 9.968, view.Eyes[EyeLeft].Position().X(), 1e-4)
	assert.InDelta(t, 1.6, view.Eyes[EyeRight].Position().Y(), 1e-5)
	assert.Equal(t, float32(0.1), view.Near)
	assert.Equal(t, view, cam.View())
}

func TestSceneDataLayout(t *testing.T) {
	view := StereoView{}
	for i := range view.Eyes {
		view.Eyes[i].Pose = Pose{Position: mgl32.Vec3{float32(i), 2, 3}, Orientation: mgl32.QuatIdent()}
		view.Eyes[i].Fov = SymmetricFov(1, 1)
	}
	data := NewGPUSceneData(view, 0.5, []light.Light{light.NewLight(light.LightTypePoint)})
	assert.Equal(t, 432, data.Size())

	buf := data.Marshal()
	require.Len(t, buf, 432)
	le := binary.LittleEndian
	f := func(off int) float32 { return math.Float32frombits(le.Uint32(buf[off:])) }
	assert.Equal(t, float32(1), f(144))
	assert.Equal(t, float32(1), f(156))
	assert.Equal(t, float32(0.5), f(160))
	assert.Equal(t, uint32(light.LightTypePoint), le.Uint32(buf[176+52:]))
	assert.Equal(t, common.NotPresent, le.Uint32(buf[176+64+52:]))

	params := GPUViewParams{ViewIndex: EyeRight}
	assert.Equal(t, 16, params.Size())
	assert.Equal(t, uint32(1), le.Uint32(params.Marshal()))
}
