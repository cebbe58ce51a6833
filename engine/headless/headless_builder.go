package headless

import (
	"github.com/Carmen-Shannon/oxy-vr/engine/camera"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

// SourceBuilderOption is a functional option for configuring a Source.
type SourceBuilderOption func(*Source)

// WithLogger sets the logger.
//
// Parameters:
//   - logger: the logger, nil keeps the no-op default
//
// Returns:
//   - SourceBuilderOption: option function to apply
func WithLogger(logger *zap.Logger) SourceBuilderOption {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCamera sets the camera whose stage transform places the synthesized eyes in the world.
//
// Parameters:
//   - c: the camera
//
// Returns:
//   - SourceBuilderOption: option function to apply
func WithCamera(c camera.Camera) SourceBuilderOption {
	return func(s *Source) {
		s.camera = c
	}
}

// WithHeadPose sets the function that moves the head over time.
//
// Parameters:
//   - fn: the pose function, nil keeps the still head
//
// Returns:
//   - SourceBuilderOption: option function to apply
func WithHeadPose(fn HeadPoseFunc) SourceBuilderOption {
	return func(s *Source) {
		if fn != nil {
			s.headPose = fn
		}
	}
}

// WithIPD sets the eye separation.
//
// Parameters:
//   - metres: the interpupillary distance
//
// Returns:
//   - SourceBuilderOption: option function to apply
func WithIPD(metres float32) SourceBuilderOption {
	return func(s *Source) {
		if metres >= 0 {
			s.ipd = metres
		}
	}
}

// WithFov sets a symmetric field of view for both eyes.
//
// Parameters:
//   - horizontalDeg: full horizontal angle in degrees
//   - verticalDeg: full vertical angle in degrees
//
// Returns:
//   - SourceBuilderOption: option function to apply
func WithFov(horizontalDeg, verticalDeg float32) SourceBuilderOption {
	return func(s *Source) {
		s.fov = camera.SymmetricFov(mgl32.DegToRad(horizontalDeg), mgl32.DegToRad(verticalDeg))
	}
}

// WithEyeResolution sets the per-eye image size. The target is twice as wide.
//
// Parameters:
//   - width: eye width in pixels
//   - height: eye height in pixels
//
// Returns:
//   - SourceBuilderOption: option function to apply
func WithEyeResolution(width, height uint32) SourceBuilderOption {
	return func(s *Source) {
		if width > 0 && height > 0 {
			s.eyeWidth, s.eyeHeight = width, height
		}
	}
}

// WithFrameRate sets the simulated display rate.
//
// Parameters:
//   - hz: frames per second
//
// Returns:
//   - SourceBuilderOption: option function to apply
func WithFrameRate(hz float32) SourceBuilderOption {
	return func(s *Source) {
		if hz > 0 {
			s.frameTime = 1 / hz
		}
	}
}

// WithFrameLimit ends the session after n frames.
//
// Parameters:
//   - n: the frame count, zero for no limit
//
// Returns:
//   - SourceBuilderOption: option function to apply
func WithFrameLimit(n int) SourceBuilderOption {
	return func(s *Source) {
		if n >= 0 {
			s.limit = n
		}
	}
}

// WithColorView sets the offscreen image a GPU device renders into. The software device needs none.
//
// Parameters:
//   - view: a double-wide color texture view
//
// Returns:
//   - SourceBuilderOption: option function to apply
func WithColorView(view *wgpu.TextureView) SourceBuilderOption {
	return func(s *Source) {
		s.colorView = view
	}
}

// WithClearColor sets the background color.
//
// Parameters:
//   - c: the clear color
//
// Returns:
//   - SourceBuilderOption: option function to apply
func WithClearColor(c wgpu.Color) SourceBuilderOption {
	return func(s *Source) {
		s.clear = c
	}
}
