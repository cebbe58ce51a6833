package camera

import (
	"math"

	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/go-gl/mathgl/mgl32"
)

// Eye indices into StereoView.Eyes. The left eye renders into the left half of the target.
const (
	EyeLeft  = 0
	EyeRight = 1
)

// DefaultNear is the near plane distance in meters used when a view does not set one.
const DefaultNear float32 = 0.05

// Pose is a rigid transform in world space.
type Pose struct {
	Position    mgl32.Vec3
	Orientation mgl32.Quat
}

// Matrix returns the world-from-eye transform.
//
// Returns:
//   - mgl32.Mat4: translation * rotation
func (p Pose) Matrix() mgl32.Mat4 {
	return common.BuildModelMatrix(p.Position, p.Orientation, mgl32.Vec3{1, 1, 1})
}

// Fov holds the four half-angles of an asymmetric eye frustum in radians, as reported by the XR runtime.
// Left and Down are normally negative.
type Fov struct {
	Left  float32
	Right float32
	Up    float32
	Down  float32
}

// Eye is one view of a stereo pair. A non-nil ViewProjection replaces the matrix derived from Pose and Fov.
type Eye struct {
	Pose           Pose
	Fov            Fov
	ViewProjection *mgl32.Mat4
}

// StereoView is the per-frame view state handed to the frame assembler.
type StereoView struct {
	Eyes [common.ViewCount]Eye

	// Near is the near plane distance for the infinite reverse-Z projection, DefaultNear when zero.
	Near float32
}

// ViewMatrix returns the eye-from-world transform.
//
// Returns:
//   - mgl32.Mat4: the inverse of the eye pose
func (e Eye) ViewMatrix() mgl32.Mat4 {
	return e.Pose.Matrix().Inv()
}

// Position returns the eye's world-space position.
//
// Returns:
//   - mgl32.Vec3: the pose position
func (e Eye) Position() mgl32.Vec3 {
	return e.Pose.Position
}

// Projection returns a right-handed, y-up, infinite far plane projection with reversed depth: the near
// plane maps to depth 1 and infinity to depth 0. Clip depth is in [0, 1].
//
// Parameters:
//   - near: the near plane distance
//
// Returns:
//   - mgl32.Mat4: the projection matrix
func (f Fov) Projection(near float32) mgl32.Mat4 {
	left := tan32(f.Left)
	right := tan32(f.Right)
	down := tan32(f.Down)
	up := tan32(f.Up)
	idx := 1 / (right - left)
	idy := 1 / (up - down)
	sx := right + left
	sy := up + down

	return mgl32.Mat4{
		2 * idx, 0, 0, 0,
		0, 2 * idy, 0, 0,
		sx * idx, sy * idy, 0, -1,
		0, 0, near, 0,
	}
}

// SymmetricFov builds a Fov with equal horizontal and vertical half-angles.
//
// Parameters:
//   - horizontal: full horizontal angle in radians
//   - vertical: full vertical angle in radians
//
// Returns:
//   - Fov: the field of view
func SymmetricFov(horizontal, vertical float32) Fov {
	return Fov{Left: -horizontal / 2, Right: horizontal / 2, Up: vertical / 2, Down: -vertical / 2}
}

// ViewProjections returns the clip-from-world matrix for each eye.
//
// Returns:
//   - [common.ViewCount]mgl32.Mat4: left and right view-projection matrices
func (v StereoView) ViewProjections() [common.ViewCount]mgl32.Mat4 {
	near := common.Coalesce(v.Near, DefaultNear)
	var out [common.ViewCount]mgl32.Mat4
	for i, eye := range v.Eyes {
		if eye.ViewProjection != nil {
			out[i] = *eye.ViewProjection
			continue
		}
		out[i] = eye.Fov.Projection(near).Mul4(eye.ViewMatrix())
	}
	return out
}

// Frustums returns the culling frustum of each eye.
//
// Returns:
//   - [common.ViewCount]common.Frustum: left and right frustums
func (v StereoView) Frustums() [common.ViewCount]common.Frustum {
	vps := v.ViewProjections()
	return [common.ViewCount]common.Frustum{common.ExtractFrustum(vps[0]), common.ExtractFrustum(vps[1])}
}

func tan32(angle float32) float32 {
	return float32(math.Tan(float64(angle)))
}
