package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/go-gl/mathgl/mgl32"
)

// ErrInvalidMesh is returned when mesh data cannot be drawn as an indexed triangle list.
var ErrInvalidMesh = errors.New("invalid mesh data")

// mesh is the implementation of the Mesh interface.
type mesh struct {
	name     string
	vertices []GPUVertex
	indices  []uint32
	bounds   common.Sphere
}

// Mesh is immutable vertex and index data plus a mesh-space bounding sphere. It is produced by asset import
// and registered once with the resource tables, which copy it into the shared GPU arenas.
type Mesh interface {
	// Name retrieves the mesh identifier.
	//
	// Returns:
	//   - string: the mesh name
	Name() string

	// Vertices returns the vertex data. The slice must not be modified.
	//
	// Returns:
	//   - []GPUVertex: the vertices
	Vertices() []GPUVertex

	// Indices returns the triangle list indices. The slice must not be modified.
	//
	// Returns:
	//   - []uint32: the indices
	Indices() []uint32

	// Bounds returns the mesh-space bounding sphere.
	//
	// Returns:
	//   - common.Sphere: the bounding sphere
	Bounds() common.Sphere

	// VertexData returns the vertices serialized in GPUVertex layout.
	//
	// Returns:
	//   - []byte: the vertex bytes
	VertexData() []byte

	// IndexData returns the indices serialized as little-endian uint32.
	//
	// Returns:
	//   - []byte: the index bytes
	IndexData() []byte
}

var _ Mesh = &mesh{}

// NewMesh validates and wraps mesh data. The bounding sphere is computed from the vertex positions unless
// WithBounds supplies one.
//
// Parameters:
//   - name: the mesh identifier
//   - vertices: the vertex data, copied
//   - indices: the triangle list indices, copied
//   - options: functional options applied after validation
//
// Returns:
//   - Mesh: the mesh
//   - error: wrapping ErrInvalidMesh if there are no triangles, the index count is not a multiple of 3,
//     an index is out of range, or a position is not finite
func NewMesh(name string, vertices []GPUVertex, indices []uint32, options ...MeshBuilderOption) (Mesh, error) {
	if len(vertices) == 0 || len(indices) == 0 {
		return nil, fmt.Errorf("%w: %q has no geometry", ErrInvalidMesh, name)
	}
	if len(indices)%3 != 0 {
		return nil, fmt.Errorf("%w: %q has %d indices, not a triangle list", ErrInvalidMesh, name, len(indices))
	}
	for _, idx := range indices {
		if int(idx) >= len(vertices) {
			return nil, fmt.Errorf("%w: %q index %d out of range (%d vertices)", ErrInvalidMesh, name, idx, len(vertices))
		}
	}
	for _, v := range vertices {
		for _, c := range v.Position {
			if math.IsNaN(float64(c)) || math.IsInf(float64(c), 0) {
				return nil, fmt.Errorf("%w: %q has a non-finite position", ErrInvalidMesh, name)
			}
		}
	}

	m := &mesh{
		name:     name,
		vertices: append([]GPUVertex(nil), vertices...),
		indices:  append([]uint32(nil), indices...),
	}
	m.bounds = ComputeBoundingSphere(m.vertices)
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

func (m *mesh) Name() string {
	return m.name
}

func (m *mesh) Vertices() []GPUVertex {
	return m.vertices
}

func (m *mesh) Indices() []uint32 {
	return m.indices
}

func (m *mesh) Bounds() common.Sphere {
	return m.bounds
}

func (m *mesh) VertexData() []byte {
	buf := make([]byte, len(m.vertices)*80)
	for i := range m.vertices {
		m.vertices[i].put(buf[i*80:])
	}
	return buf
}

func (m *mesh) IndexData() []byte {
	return common.SliceToBytes(m.indices)
}

// ComputeBoundingSphere returns a sphere centered on the axis-aligned bounds of the positions with the radius
// reaching the farthest vertex.
//
// Parameters:
//   - vertices: the vertex data
//
// Returns:
//   - common.Sphere: the bounding sphere, zero for no vertices
func ComputeBoundingSphere(vertices []GPUVertex) common.Sphere {
	if len(vertices) == 0 {
		return common.Sphere{}
	}
	lo := mgl32.Vec3(vertices[0].Position)
	hi := lo
	for _, v := range vertices[1:] {
		for i := range 3 {
			lo[i] = min(lo[i], v.Position[i])
			hi[i] = max(hi[i], v.Position[i])
		}
	}
	center := lo.Add(hi).Mul(0.5)
	var radius float32
	for _, v := range vertices {
		radius = max(radius, mgl32.Vec3(v.Position).Sub(center).Len())
	}
	return common.Sphere{Center: center, Radius: radius}
}

// CubeMesh builds a unit cube centered on the origin with per-face normals. The resource tables register it
// as the error mesh drawn in place of missing geometry.
//
// Returns:
//   - Mesh: the cube
func CubeMesh() Mesh {
	faces := []struct {
		normal, u, v mgl32.Vec3
	}{
		{mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{0, 0, 1}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{0, 1, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, -1}},
		{mgl32.Vec3{0, -1, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 0, 1}},
		{mgl32.Vec3{0, 0, 1}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 1, 0}},
		{mgl32.Vec3{0, 0, -1}, mgl32.Vec3{-1, 0, 0}, mgl32.Vec3{0, 1, 0}},
	}
	corners := [4][2]float32{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}}

	vertices := make([]GPUVertex, 0, 24)
	indices := make([]uint32, 0, 36)
	for _, f := range faces {
		base := uint32(len(vertices))
		for _, c := range corners {
			p := f.normal.Add(f.u.Mul(c[0])).Add(f.v.Mul(c[1])).Mul(0.5)
			vertices = append(vertices, GPUVertex{
				Position: p,
				Normal:   f.normal,
				Tangent:  [4]float32{f.u[0], f.u[1], f.u[2], 1},
				TexCoord: [2]float32{(c[0] + 1) / 2, (1 - c[1]) / 2},
			})
		}
		indices = append(indices, base, base+1, base+2, base, base+2, base+3)
	}
	return &mesh{
		name:     "error_cube",
		vertices: vertices,
		indices:  indices,
		bounds:   ComputeBoundingSphere(vertices),
	}
}
