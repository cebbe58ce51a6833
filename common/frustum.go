package common

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Plane represents a plane in 3D space using the equation: ax + by + cz + d = 0
// where (a, b, c) is the normal and d is the distance from origin.
type Plane struct {
	Normal   mgl32.Vec3
	Distance float32
}

// Vec4 packs the plane as (a, b, c, d), the layout the culling shader reads.
//
// Returns:
//   - mgl32.Vec4: the plane coefficients
func (p Plane) Vec4() mgl32.Vec4 {
	return p.Normal.Vec4(p.Distance)
}

// SignedDistance returns the signed distance from the plane to a point. Positive values are on the
// inside of a frustum plane.
//
// Parameters:
//   - point: the point to measure
//
// Returns:
//   - float32: the signed distance
func (p Plane) SignedDistance(point mgl32.Vec3) float32 {
	return p.Normal.Dot(point) + p.Distance
}

// Frustum represents the six planes of a view frustum for culling.
// Planes are oriented so that positive half-space is inside the frustum.
type Frustum struct {
	Planes [6]Plane // Left, Right, Bottom, Top, Near, Far
}

// FrustumPlane indices for clarity
const (
	FrustumLeft   = 0
	FrustumRight  = 1
	FrustumBottom = 2
	FrustumTop    = 3
	FrustumNear   = 4
	FrustumFar    = 5
)

// ExtractFrustum extracts frustum planes from a view-projection matrix using the Gribb/Hartmann method.
// Each plane is a sum or difference of two matrix rows, normalized by the length of its normal.
//
// Reference: https://www8.cs.umu.se/kurser/5DV051/HT12/lab/plane_extraction.pdf
//
// Parameters:
//   - viewProj: the combined projection * view matrix
//
// Returns:
//   - Frustum: the extracted frustum with normalized planes
func ExtractFrustum(viewProj mgl32.Mat4) Frustum {
	r0, r1, r2, r3 := viewProj.Rows()

	var f Frustum
	f.Planes[FrustumLeft] = planeFromRow(r3.Add(r0))
	f.Planes[FrustumRight] = planeFromRow(r3.Sub(r0))
	f.Planes[FrustumBottom] = planeFromRow(r3.Add(r1))
	f.Planes[FrustumTop] = planeFromRow(r3.Sub(r1))
	f.Planes[FrustumNear] = planeFromRow(r3.Add(r2))
	f.Planes[FrustumFar] = planeFromRow(r3.Sub(r2))
	return f
}

// SidePlanes returns the left, right, bottom and top planes. Near and far are left out: with the
// infinite reverse-Z projections used for the headset views the far plane does not exist, and
// anything in front of the eye that survives the side planes is close enough to draw.
//
// Returns:
//   - [4]Plane: the four side planes in Left, Right, Bottom, Top order
func (f Frustum) SidePlanes() [4]Plane {
	return [4]Plane{
		f.Planes[FrustumLeft],
		f.Planes[FrustumRight],
		f.Planes[FrustumBottom],
		f.Planes[FrustumTop],
	}
}

// planeFromRow builds a normalized plane from a combined matrix row.
// A degenerate row (zero-length normal) is returned as the zero plane, which never rejects anything.
func planeFromRow(row mgl32.Vec4) Plane {
	p := Plane{Normal: row.Vec3(), Distance: row.W()}
	length := p.Normal.Len()
	if length > 0 {
		invLen := 1.0 / length
		p.Normal = p.Normal.Mul(invLen)
		p.Distance *= invLen
	}
	return p
}
