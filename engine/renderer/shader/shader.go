package shader

import (
	"errors"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gogpu/naga"
)

// ShaderType identifies which pipeline stage a shader entry point belongs to.
type ShaderType int

const (
	// ShaderTypeCompute indicates a shader containing a @compute entry point.
	ShaderTypeCompute ShaderType = iota

	// ShaderTypeVertex is the vertex shader type, used for vertex processing in render pipelines.
	ShaderTypeVertex

	// ShaderTypeFragment is the fragment shader type, used for fragment processing in pair with a vertex shader.
	ShaderTypeFragment
)

// ErrInvalidSource is returned when WGSL source fails to compile or is missing the requested entry point.
var ErrInvalidSource = errors.New("invalid shader source")

// shader is the implementation of the Shader interface.
// It holds the validated WGSL source and everything derived from it that pipeline creation needs.
type shader struct {
	key                        string
	source                     string
	shaderType                 ShaderType
	entryPoint                 string
	workGroupSize              [3]uint32
	bindGroupLayoutDescriptors map[int]wgpu.BindGroupLayoutDescriptor
	vertexLayouts              []wgpu.VertexBufferLayout
	spirv                      []byte
}

// Shader defines the interface for a loaded and validated WGSL shader stage. It exposes the shader's
// unique key, source, entry point, bind group layouts and vertex buffer layouts needed for pipeline
// creation.
type Shader interface {
	// Key retrieves the unique identifier for this shader, used for caching and lookups.
	//
	// Returns:
	//   - string: the shader's unique key
	Key() string

	// Source retrieves the WGSL shader source code.
	//
	// Returns:
	//   - string: the WGSL source code of the shader
	Source() string

	// ShaderType returns the pipeline stage of this shader.
	//
	// Returns:
	//   - ShaderType: the stage (compute, vertex or fragment)
	ShaderType() ShaderType

	// EntryPoint returns the entry point name for this shader.
	//
	// Returns:
	//   - string: the entry point name (e.g. "main")
	EntryPoint() string

	// WorkgroupSize returns the @workgroup_size of a compute entry point, or zeros for render stages.
	//
	// Returns:
	//   - [3]uint32: the workgroup dimensions
	WorkgroupSize() [3]uint32

	// BindGroupLayoutDescriptor retrieves the bind group layout descriptor for a group index.
	//
	// Parameters:
	//   - group: the bind group index
	//
	// Returns:
	//   - wgpu.BindGroupLayoutDescriptor: the descriptor, or an empty descriptor if the group is unused
	BindGroupLayoutDescriptor(group int) wgpu.BindGroupLayoutDescriptor

	// BindGroupLayoutDescriptors retrieves all parsed bind group layout descriptors keyed by group index.
	//
	// Returns:
	//   - map[int]wgpu.BindGroupLayoutDescriptor: descriptors keyed by group index
	BindGroupLayoutDescriptors() map[int]wgpu.BindGroupLayoutDescriptor

	// VertexLayouts retrieves the vertex buffer layouts consumed by a vertex entry point.
	//
	// Returns:
	//   - []wgpu.VertexBufferLayout: the layouts in slot order, nil for other stages
	VertexLayouts() []wgpu.VertexBufferLayout

	// SPIRV returns the SPIR-V produced while validating the source.
	//
	// Returns:
	//   - []byte: the SPIR-V binary
	SPIRV() []byte
}

var _ Shader = &shader{}

// NewShader creates a Shader from WGSL source. The source is compiled with naga so that a broken
// shader is reported when the renderer is built instead of when a pipeline is first created on the
// device. Bind group layouts are derived from the buffer bindings declared in the source.
//
// Parameters:
//   - key: the unique identifier for this shader
//   - shaderType: the pipeline stage the entry point belongs to
//   - source: the WGSL source code
//   - options: functional options applied after parsing
//
// Returns:
//   - Shader: the validated shader
//   - error: wrapping ErrInvalidSource if compilation fails or no entry point for the stage exists
func NewShader(key string, shaderType ShaderType, source string, options ...ShaderBuilderOption) (Shader, error) {
	spirv, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("%w: shader %q: %w", ErrInvalidSource, key, err)
	}

	s := &shader{
		key:        key,
		source:     source,
		shaderType: shaderType,
		spirv:      spirv,
	}
	s.entryPoint = parseEntryPoint(source, shaderType)
	s.bindGroupLayoutDescriptors = parseBindGroupLayouts(key, source, stageVisibility(shaderType))
	if shaderType == ShaderTypeCompute {
		s.workGroupSize = parseWorkgroupSize(source)
	}

	for _, opt := range options {
		opt(s)
	}

	if s.entryPoint == "" {
		return nil, fmt.Errorf("%w: shader %q has no entry point for stage %d", ErrInvalidSource, key, shaderType)
	}
	return s, nil
}

func (s *shader) Key() string {
	return s.key
}

func (s *shader) Source() string {
	return s.source
}

func (s *shader) ShaderType() ShaderType {
	return s.shaderType
}

func (s *shader) EntryPoint() string {
	return s.entryPoint
}

func (s *shader) WorkgroupSize() [3]uint32 {
	return s.workGroupSize
}

func (s *shader) BindGroupLayoutDescriptor(group int) wgpu.BindGroupLayoutDescriptor {
	return s.bindGroupLayoutDescriptors[group]
}

func (s *shader) BindGroupLayoutDescriptors() map[int]wgpu.BindGroupLayoutDescriptor {
	return s.bindGroupLayoutDescriptors
}

func (s *shader) VertexLayouts() []wgpu.VertexBufferLayout {
	return s.vertexLayouts
}

func (s *shader) SPIRV() []byte {
	return s.spirv
}

func stageVisibility(shaderType ShaderType) wgpu.ShaderStage {
	switch shaderType {
	case ShaderTypeVertex:
		return wgpu.ShaderStageVertex
	case ShaderTypeFragment:
		return wgpu.ShaderStageFragment
	default:
		return wgpu.ShaderStageCompute
	}
}
