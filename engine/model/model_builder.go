package model

import "github.com/Carmen-Shannon/oxy-vr/common"

// MeshBuilderOption is a functional option for configuring a Mesh via NewMesh.
type MeshBuilderOption func(*mesh)

// WithBounds overrides the computed bounding sphere, for importers that carry authored bounds (glTF
// accessor min/max).
//
// Parameters:
//   - bounds: the mesh-space bounding sphere
//
// Returns:
//   - MeshBuilderOption: a function that applies the bounds option to a mesh
func WithBounds(bounds common.Sphere) MeshBuilderOption {
	return func(m *mesh) {
		m.bounds = bounds
	}
}
