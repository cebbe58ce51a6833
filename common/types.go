package common

import (
	"github.com/go-gl/mathgl/mgl32"
)

// NotPresent is the reserved handle value meaning "no reference" in every optional handle field
// shared with the GPU: material texture slots, draw skin ids and light types.
const NotPresent uint32 = 0xFFFFFFFF

// ViewCount is the number of views rendered per frame, one per eye.
const ViewCount = 2

// Sphere is a bounding sphere.
type Sphere struct {
	Center mgl32.Vec3
	Radius float32
}

// Vec4 packs the sphere as (x, y, z, radius).
//
// Returns:
//   - mgl32.Vec4: the packed sphere
func (s Sphere) Vec4() mgl32.Vec4 {
	return s.Center.Vec4(s.Radius)
}

// Transform is a decomposed affine transform.
type Transform struct {
	Translation mgl32.Vec3
	Rotation    mgl32.Quat
	Scale       mgl32.Vec3
}

// IdentityTransform returns a transform with no translation, no rotation and unit scale.
//
// Returns:
//   - Transform: the identity transform
func IdentityTransform() Transform {
	return Transform{
		Rotation: mgl32.QuatIdent(),
		Scale:    mgl32.Vec3{1, 1, 1},
	}
}

// Matrix composes the transform as Translation * Rotation * Scale.
//
// Returns:
//   - mgl32.Mat4: the column-major model matrix
func (t Transform) Matrix() mgl32.Mat4 {
	return BuildModelMatrix(t.Translation, t.Rotation, t.Scale)
}

// TextureStagingData holds decoded RGBA8 pixel data ready for upload to a GPU texture.
type TextureStagingData struct {
	// Pixels holds tightly packed RGBA8 rows, Width*Height*4 bytes.
	Pixels []byte
	Width  uint32
	Height uint32
}
