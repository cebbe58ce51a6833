package shader

import (
	"github.com/cogentcore/webgpu/wgpu"
)

// ShaderBuilderOption is a functional option applied to a shader during construction via NewShader.
type ShaderBuilderOption func(*shader)

// WithEntryPoint overrides the entry point found in the source. Needed when a file declares more
// than one entry point for the same stage.
//
// Parameters:
//   - name: the entry point function name
//
// Returns:
//   - ShaderBuilderOption: a function that applies the entry point option to a shader
func WithEntryPoint(name string) ShaderBuilderOption {
	return func(s *shader) {
		s.entryPoint = name
	}
}

// WithVertexLayouts sets the vertex buffer layouts consumed by a vertex entry point.
//
// Parameters:
//   - layouts: the layouts in vertex buffer slot order
//
// Returns:
//   - ShaderBuilderOption: a function that applies the vertex layout option to a shader
func WithVertexLayouts(layouts ...wgpu.VertexBufferLayout) ShaderBuilderOption {
	return func(s *shader) {
		s.vertexLayouts = layouts
	}
}

// WithVisibility widens the stage visibility of every parsed binding. A WGSL file shared by the
// vertex and fragment stages uses this so both pipelines agree on one layout.
//
// Parameters:
//   - visibility: the stages that may access the bindings
//
// Returns:
//   - ShaderBuilderOption: a function that applies the visibility option to a shader
func WithVisibility(visibility wgpu.ShaderStage) ShaderBuilderOption {
	return func(s *shader) {
		for g, desc := range s.bindGroupLayoutDescriptors {
			for i := range desc.Entries {
				desc.Entries[i].Visibility |= visibility
			}
			s.bindGroupLayoutDescriptors[g] = desc
		}
	}
}
