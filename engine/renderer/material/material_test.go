package material

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noTextures() [TextureSlotCount]uint32 {
	return [TextureSlotCount]uint32{common.NotPresent, common.NotPresent, common.NotPresent, common.NotPresent, common.NotPresent}
}

func TestNewMaterialDefaults(t *testing.T) {
	m := NewMaterial()
	assert.Equal(t, mgl32.Vec4{1, 1, 1, 1}, m.BaseColor())
	assert.Equal(t, WorkflowMetallicRoughness, m.Workflow())
	assert.Equal(t, float32(1), m.Roughness())
	assert.Equal(t, DefaultPipelineKey, m.PipelineKey())
	assert.True(t, m.Texture(TextureSlotNormal).IsZero())
	assert.True(t, m.Texture(TextureSlotCount).IsZero())
}

func TestAlphaMask(t *testing.T) {
	masked, cutoff := NewMaterial().AlphaMask()
	assert.False(t, masked)
	assert.Equal(t, float32(1), cutoff)

	masked, cutoff = NewMaterial(WithAlphaMask()).AlphaMask()
	assert.True(t, masked)
	assert.Equal(t, float32(0.5), cutoff)

	masked, cutoff = NewMaterial(WithAlphaCutoff(0.25)).AlphaMask()
	assert.True(t, masked)
	assert.Equal(t, float32(0.25), cutoff)
}

func TestErrorMaterial(t *testing.T) {
	m := ErrorMaterial()
	assert.Equal(t, WorkflowUnlit, m.Workflow())
	assert.Equal(t, mgl32.Vec4{1, 0, 1, 1}, m.BaseColor())
	assert.Equal(t, DefaultPipelineKey, m.PipelineKey())
}

func TestGPUMaterialLayout(t *testing.T) {
	tex := noTextures()
	tex[TextureSlotNormal] = 9
	rec := NewMaterial(
		WithBaseColor(mgl32.Vec4{0.1, 0.2, 0.3, 0.4}),
		WithEmissive(mgl32.Vec3{2, 3, 4}),
		WithWorkflow(WorkflowUnlit),
		WithMetallic(0.75),
		WithAlphaCutoff(0.3),
	).GPURecord(tex)

	assert.Equal(t, 80, rec.Size())
	buf := rec.Marshal()
	require.Len(t, buf, 80)

	le := binary.LittleEndian
	f := func(off int) float32 { return math.Float32frombits(le.Uint32(buf[off:])) }
	assert.Equal(t, float32(0.4), f(12))
	assert.Equal(t, float32(4), f(24))
	assert.Equal(t, float32(0), f(28))
	assert.Equal(t, uint32(WorkflowUnlit), le.Uint32(buf[32:]))
	assert.Equal(t, common.NotPresent, le.Uint32(buf[36:]))
	assert.Equal(t, uint32(9), le.Uint32(buf[44:]))
	assert.Equal(t, float32(0.75), f(56))
	assert.Equal(t, float32(1), f(60))
	assert.Equal(t, uint32(1), le.Uint32(buf[64:]))
	assert.Equal(t, float32(0.3), f(68))
}
