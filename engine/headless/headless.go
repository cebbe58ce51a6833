// Package headless provides a FrameSource that synthesizes eye views without an XR runtime, for batch
// rendering, examples and tests.
package headless

import (
	"context"
	"math"
	"sync"

	"github.com/Carmen-Shannon/oxy-vr/engine"
	"github.com/Carmen-Shannon/oxy-vr/engine/camera"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/device"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

// DefaultIPD is the eye separation in metres.
const DefaultIPD float32 = 0.064

// HeadPoseFunc returns the head pose at a time in seconds since the first frame.
type HeadPoseFunc func(t float32) camera.Pose

// Source hands out frames at a fixed rate until its frame limit is reached.
type Source struct {
	mu     *sync.Mutex
	logger *zap.Logger

	camera    camera.Camera
	headPose  HeadPoseFunc
	ipd       float32
	fov       camera.Fov
	eyeWidth  uint32
	eyeHeight uint32
	colorView *wgpu.TextureView
	clear     wgpu.Color

	frameTime float32
	limit     int
	elapsed   float32
	issued    int
	ended     int
	last      renderer.FrameStats
}

var _ engine.FrameSource = &Source{}

// NewSource creates a Source. Defaults: 90 Hz, 1024x1024 per eye, 90 degree symmetric field of view, a
// still head at the origin and no frame limit.
//
// Parameters:
//   - options: functional options
//
// Returns:
//   - *Source: the frame source
func NewSource(options ...SourceBuilderOption) *Source {
	s := &Source{
		mu:        &sync.Mutex{},
		logger:    zap.NewNop(),
		headPose:  func(float32) camera.Pose { return camera.Pose{Orientation: mgl32.QuatIdent()} },
		ipd:       DefaultIPD,
		fov:       camera.SymmetricFov(mgl32.DegToRad(90), mgl32.DegToRad(90)),
		eyeWidth:  1024,
		eyeHeight: 1024,
		frameTime: 1.0 / 90,
		clear:     wgpu.Color{A: 1},
	}
	for _, opt := range options {
		opt(s)
	}
	if s.camera == nil {
		s.camera = camera.NewCamera()
	}
	s.logger = s.logger.Named("headless")
	return s
}

// NextFrame returns the eye views for the next frame, or engine.ErrSessionEnded once the limit is reached.
//
// Parameters:
//   - ctx: checked for cancellation
//
// Returns:
//   - engine.Frame: both eyes and a double-wide target
//   - error: the context error or engine.ErrSessionEnded
func (s *Source) NextFrame(ctx context.Context) (engine.Frame, error) {
	if err := ctx.Err(); err != nil {
		return engine.Frame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limit > 0 && s.issued >= s.limit {
		return engine.Frame{}, engine.ErrSessionEnded
	}

	head := s.headPose(s.elapsed)
	if head.Orientation.Len() == 0 {
		head.Orientation = mgl32.QuatIdent()
	}
	right := head.Orientation.Rotate(mgl32.Vec3{1, 0, 0})
	var eyes [2]camera.Eye
	for i, side := range [2]float32{-0.5, 0.5} {
		eyes[i] = camera.Eye{
			Pose: camera.Pose{
				Position:    head.Position.Add(right.Mul(side * s.ipd)),
				Orientation: head.Orientation,
			},
			Fov: s.fov,
		}
	}
	view := s.camera.Update(eyes)

	s.issued++
	s.elapsed += s.frameTime
	return engine.Frame{
		View: view,
		Target: device.RenderTarget{
			Width:      s.eyeWidth * 2,
			Height:     s.eyeHeight,
			ColorView:  s.colorView,
			ClearColor: s.clear,
		},
		DeltaTime: s.frameTime,
	}, nil
}

// EndFrame records the stats of a finished frame.
//
// Parameters:
//   - stats: what was rendered
//
// Returns:
//   - error: always nil
func (s *Source) EndFrame(stats renderer.FrameStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended++
	s.last = stats
	if stats.Fallbacks.Total() > 0 {
		s.logger.Debug("frame used fallbacks",
			zap.Uint64("frame", stats.Frame),
			zap.Int("materials", stats.Fallbacks.Materials),
			zap.Int("meshes", stats.Fallbacks.Meshes),
			zap.Int("skins", stats.Fallbacks.Skins),
			zap.Int("pipelines", stats.Fallbacks.Pipelines),
		)
	}
	return nil
}

// Frames returns how many frames were handed out and how many were ended.
//
// Returns:
//   - int: frames returned by NextFrame
//   - int: frames passed to EndFrame
func (s *Source) Frames() (issued, ended int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issued, s.ended
}

// Last returns the stats of the most recently ended frame.
//
// Returns:
//   - renderer.FrameStats: the stats, zero before the first frame ends
func (s *Source) Last() renderer.FrameStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Orbit returns a HeadPoseFunc circling the origin at radius metres and height metres, looking at the
// centre, completing one revolution every period seconds.
//
// Parameters:
//   - radius: distance from the origin
//   - height: eye height
//   - period: seconds per revolution
//
// Returns:
//   - HeadPoseFunc: the pose function
func Orbit(radius, height, period float32) HeadPoseFunc {
	return func(t float32) camera.Pose {
		angle := 2 * math.Pi * t / period
		yaw := mgl32.QuatRotate(angle, mgl32.Vec3{0, 1, 0})
		// At yaw zero the head sits on +Z looking down -Z.
		pos := yaw.Rotate(mgl32.Vec3{0, 0, radius})
		pos[1] = height
		return camera.Pose{Position: pos, Orientation: yaw}
	}
}
