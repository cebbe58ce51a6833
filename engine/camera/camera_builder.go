package camera

import "github.com/go-gl/mathgl/mgl32"

// CameraBuilderOption is a functional option for configuring a Camera via NewCamera.
type CameraBuilderOption func(*cameraImpl)

// WithNear sets the near plane distance. Non-positive values are ignored.
//
// Parameters:
//   - near: near plane distance in meters
//
// Returns:
//   - CameraBuilderOption: a function that sets the camera's near plane
func WithNear(near float32) CameraBuilderOption {
	return func(c *cameraImpl) {
		if near > 0 {
			c.near = near
		}
	}
}

// WithStageTransform sets the initial world-from-stage transform.
//
// Parameters:
//   - m: the stage transform
//
// Returns:
//   - CameraBuilderOption: a function that sets the camera's stage transform
func WithStageTransform(m mgl32.Mat4) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.stage = m
	}
}
