package material

import (
	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/go-gl/mathgl/mgl32"
)

// MaterialBuilderOption is a function that configures a material instance during construction.
type MaterialBuilderOption func(*material)

// WithName is an option builder that sets the name of the material.
//
// Parameters:
//   - name: the identifier for the material
//
// Returns:
//   - MaterialBuilderOption: a function that applies the name option to a material
func WithName(name string) MaterialBuilderOption {
	return func(m *material) {
		m.name = name
	}
}

// WithBaseColor is an option builder that sets the RGBA base color factor.
//
// Parameters:
//   - color: the base color
//
// Returns:
//   - MaterialBuilderOption: a function that applies the base color option to a material
func WithBaseColor(color mgl32.Vec4) MaterialBuilderOption {
	return func(m *material) {
		m.baseColor = color
	}
}

// WithEmissive is an option builder that sets the RGB emissive factor.
//
// Parameters:
//   - color: the emissive color
//
// Returns:
//   - MaterialBuilderOption: a function that applies the emissive option to a material
func WithEmissive(color mgl32.Vec3) MaterialBuilderOption {
	return func(m *material) {
		m.emissive = color
	}
}

// WithWorkflow is an option builder that sets the shading model.
//
// Parameters:
//   - workflow: the workflow tag
//
// Returns:
//   - MaterialBuilderOption: a function that applies the workflow option to a material
func WithWorkflow(workflow Workflow) MaterialBuilderOption {
	return func(m *material) {
		m.workflow = workflow
	}
}

// WithTexture is an option builder that assigns a texture to a slot. Out-of-range slots are ignored.
//
// Parameters:
//   - slot: the texture slot
//   - texture: the registered texture
//
// Returns:
//   - MaterialBuilderOption: a function that applies the texture option to a material
func WithTexture(slot TextureSlot, texture common.TextureHandle) MaterialBuilderOption {
	return func(m *material) {
		if slot >= 0 && slot < TextureSlotCount {
			m.textures[slot] = texture
		}
	}
}

// WithMetallic is an option builder that sets the metallic factor of the material.
//
// Parameters:
//   - metallic: the metallic factor (0.0 = dielectric, 1.0 = metal)
//
// Returns:
//   - MaterialBuilderOption: a function that applies the metallic option to a material
func WithMetallic(metallic float32) MaterialBuilderOption {
	return func(m *material) {
		m.metallic = metallic
	}
}

// WithRoughness is an option builder that sets the roughness factor of the material.
//
// Parameters:
//   - roughness: the roughness factor (0.0 = smooth, 1.0 = rough)
//
// Returns:
//   - MaterialBuilderOption: a function that applies the roughness option to a material
func WithRoughness(roughness float32) MaterialBuilderOption {
	return func(m *material) {
		m.roughness = roughness
	}
}

// WithAlphaMask enables alpha testing with the default cutoff of 0.5.
//
// Returns:
//   - MaterialBuilderOption: a function that enables alpha masking on a material
func WithAlphaMask() MaterialBuilderOption {
	return func(m *material) {
		m.alphaMask = true
	}
}

// WithAlphaCutoff enables alpha testing with an explicit cutoff.
//
// Parameters:
//   - cutoff: fragments with alpha below this value are discarded
//
// Returns:
//   - MaterialBuilderOption: a function that applies the cutoff to a material
func WithAlphaCutoff(cutoff float32) MaterialBuilderOption {
	return func(m *material) {
		m.alphaCutoff = &cutoff
	}
}

// WithPipelineKey overrides the render pipeline the material draws with.
//
// Parameters:
//   - key: the pipeline key
//
// Returns:
//   - MaterialBuilderOption: a function that applies the pipeline key option to a material
func WithPipelineKey(key string) MaterialBuilderOption {
	return func(m *material) {
		m.pipelineKey = key
	}
}
