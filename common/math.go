package common

import (
	"math"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
)

// SliceToBytes converts any slice to a byte slice for GPU buffer uploads.
// Uses unsafe pointer operations to create a view into the original data.
// WARNING: The returned slice shares memory with the input - do not modify.
//
// Parameters:
//   - data: source slice of any type
//
// Returns:
//   - []byte: byte slice view of the input data, or nil if input is empty
func SliceToBytes[T any](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	var zero T
	size := unsafe.Sizeof(zero)
	totalBytes := int(size) * len(data)
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), totalBytes)
}

// StructToBytes reinterprets a pointer to a struct as a raw byte slice using unsafe.
// The returned slice has length equal to the struct's size in memory.
//
// Parameters:
//   - v: pointer to the struct to reinterpret
//
// Returns:
//   - []byte: byte slice view of the struct's memory
func StructToBytes[T any](v *T) []byte {
	size := unsafe.Sizeof(*v)
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), int(size))
}

// BuildModelMatrix composes a model matrix from translation, rotation and scale.
// Result: M = T * R * S
//
// Parameters:
//   - translation: the world-space translation
//   - rotation: the orientation quaternion, normalized before use
//   - scale: the per-axis scale
//
// Returns:
//   - mgl32.Mat4: the column-major model matrix
func BuildModelMatrix(translation mgl32.Vec3, rotation mgl32.Quat, scale mgl32.Vec3) mgl32.Mat4 {
	if rotation.Len() == 0 {
		rotation = mgl32.QuatIdent()
	}
	t := mgl32.Translate3D(translation.X(), translation.Y(), translation.Z())
	r := rotation.Normalize().Mat4()
	s := mgl32.Scale3D(scale.X(), scale.Y(), scale.Z())
	return t.Mul4(r).Mul4(s)
}

// MaxAxisScale returns the largest column length of the upper 3x3 of m. Scaling a bounding sphere's
// radius by this value always contains the transformed mesh, at the cost of a loose fit under
// non-uniform scale.
//
// Parameters:
//   - m: an affine transform
//
// Returns:
//   - float32: the maximum axis scale
func MaxAxisScale(m mgl32.Mat4) float32 {
	return mgl32.ExtractMaxScale(m)
}

// InverseTranspose returns the transpose of the inverse of m, used to transform normals.
// A singular or non-finite matrix yields the identity so that NaN never reaches the GPU.
//
// Parameters:
//   - m: the matrix to invert
//
// Returns:
//   - mgl32.Mat4: the inverse-transpose, or identity when m is not invertible
func InverseTranspose(m mgl32.Mat4) mgl32.Mat4 {
	det := m.Det()
	if det == 0 || !finite(det) {
		return mgl32.Ident4()
	}
	inv := m.Inv()
	if inv == (mgl32.Mat4{}) {
		return mgl32.Ident4()
	}
	for _, v := range inv {
		if !finite(v) {
			return mgl32.Ident4()
		}
	}
	return inv.Transpose()
}

// TransformSphere moves a local-space bounding sphere into the space of m.
//
// Parameters:
//   - m: the local-to-world transform
//   - s: the local-space sphere
//
// Returns:
//   - Sphere: the world-space sphere
func TransformSphere(m mgl32.Mat4, s Sphere) Sphere {
	center := m.Mul4x1(s.Center.Vec4(1)).Vec3()
	return Sphere{Center: center, Radius: s.Radius * MaxAxisScale(m)}
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
