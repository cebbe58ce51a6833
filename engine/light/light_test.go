package light

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGPULightLayout(t *testing.T) {
	g := ToGPULight(NewLight(LightTypePoint,
		WithPosition(1, 2, 3),
		WithRange(2),
		WithIntensity(5),
	))
	assert.Equal(t, 64, g.Size())

	buf := g.Marshal()
	require.Len(t, buf, 64)
	le := binary.LittleEndian
	f := func(off int) float32 { return math.Float32frombits(le.Uint32(buf[off:])) }
	assert.Equal(t, float32(0.25), f(12))
	assert.Equal(t, float32(5), f(28))
	assert.Equal(t, float32(3), f(40))
	assert.Equal(t, uint32(LightTypePoint), le.Uint32(buf[52:]))
}

func TestFalloffInfiniteRange(t *testing.T) {
	g := ToGPULight(NewLight(LightTypePoint, WithRange(-1)))
	assert.Equal(t, float32(0), g.Falloff)
}

func TestSpotScaleOffset(t *testing.T) {
	g := ToGPULight(NewLight(LightTypeSpot, WithSpotCone(0, 60)))
	// cos(0) = 1, cos(60°) = 0.5: scale 2, offset -1
	assert.InDelta(t, 2, g.LightAngleScale, 1e-3)
	assert.InDelta(t, -1, g.LightAngleOffset, 1e-3)

	point := ToGPULight(NewLight(LightTypePoint))
	assert.Equal(t, float32(0), point.LightAngleScale)
}

func TestPackGPULights(t *testing.T) {
	lights := []Light{
		NewLight(LightTypeDirectional, WithDirection(0, -2, 0)),
		NewLight(LightTypePoint, WithEnabled(false)),
		NewLight(LightTypeSpot),
	}
	packed := PackGPULights(lights)
	assert.Equal(t, uint32(LightTypeDirectional), packed[0].LightType)
	assert.Equal(t, [3]float32{0, -1, 0}, packed[0].Direction)
	assert.Equal(t, uint32(LightTypeSpot), packed[1].LightType)
	assert.Equal(t, common.NotPresent, packed[2].LightType)
	assert.Equal(t, common.NotPresent, packed[3].LightType)

	many := make([]Light, 6)
	for i := range many {
		many[i] = NewLight(LightTypePoint, WithIntensity(float32(i)))
	}
	packed = PackGPULights(many)
	assert.Equal(t, float32(3), packed[3].Intensity)
}

func TestToGPULightAtUsesWorldTransform(t *testing.T) {
	l := NewLight(LightTypeSpot, WithPosition(0, 0, 1), WithDirection(0, 0, -1))
	world := mgl32.Translate3D(5, 0, 0).Mul4(mgl32.HomogRotate3DY(math.Pi / 2))

	g := ToGPULightAt(l, world)
	assert.InDeltaSlice(t, []float32{6, 0, 0}, g.Position[:], 1e-5)
	assert.InDeltaSlice(t, []float32{-1, 0, 0}, g.Direction[:], 1e-5)
	assert.Equal(t, uint32(LightTypeSpot), g.LightType)
}
