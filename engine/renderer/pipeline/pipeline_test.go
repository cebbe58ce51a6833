package pipeline

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const countSource = `
@group(0) @binding(0) var<storage, read_write> counts: array<u32>;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    counts[id.x] = id.x;
}
`

func TestValidateMissingStages(t *testing.T) {
	assert.ErrorIs(t, NewPipeline("c", PipelineTypeCompute).Validate(), ErrMissingShader)
	assert.ErrorIs(t, NewPipeline("r", PipelineTypeRender).Validate(), ErrMissingShader)
}

func TestWorkgroupCount(t *testing.T) {
	s, err := shader.NewShader("count", shader.ShaderTypeCompute, countSource)
	require.NoError(t, err)
	p := NewPipeline("count", PipelineTypeCompute, WithComputeShader(s))
	require.NoError(t, p.Validate())

	assert.Equal(t, [3]uint32{0, 1, 1}, p.WorkgroupCount(0))
	assert.Equal(t, [3]uint32{1, 1, 1}, p.WorkgroupCount(1))
	assert.Equal(t, [3]uint32{1, 1, 1}, p.WorkgroupCount(64))
	assert.Equal(t, [3]uint32{2, 1, 1}, p.WorkgroupCount(65))
}

func TestDepthCompare(t *testing.T) {
	p := NewPipeline("r", PipelineTypeRender, WithDepthCompare(wgpu.CompareFunctionGreater))
	assert.Equal(t, wgpu.CompareFunctionGreater, p.DepthCompare())

	p = NewPipeline("r", PipelineTypeRender, WithDepthCompare(wgpu.CompareFunctionGreater), WithDepthTestEnabled(false))
	assert.Equal(t, wgpu.CompareFunctionAlways, p.DepthCompare())
}
