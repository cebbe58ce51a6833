package camera

import (
	"sync"

	"github.com/go-gl/mathgl/mgl32"
)

// cameraImpl is the implementation of the Camera interface.
type cameraImpl struct {
	mu *sync.Mutex

	near  float32
	stage mgl32.Mat4
	view  StereoView
}

// Camera tracks the player's stereo view. The XR layer reports eye poses in stage space once per frame;
// the camera moves them into world space through the stage transform (locomotion, teleport) and keeps the
// latest StereoView for the renderer.
type Camera interface {
	// Near returns the near plane distance.
	//
	// Returns:
	//   - float32: near plane distance
	Near() float32

	// SetNear sets the near plane distance applied to subsequent updates.
	//
	// Parameters:
	//   - near: near plane distance, must be positive
	SetNear(near float32)

	// StageTransform returns the world-from-stage transform.
	//
	// Returns:
	//   - mgl32.Mat4: the stage transform
	StageTransform() mgl32.Mat4

	// SetStageTransform sets the world-from-stage transform applied to subsequent updates.
	//
	// Parameters:
	//   - m: the stage transform
	SetStageTransform(m mgl32.Mat4)

	// Update converts stage-space eyes to world space and stores the resulting view.
	// Explicit view-projection matrices are taken as already world-space.
	//
	// Parameters:
	//   - eyes: the stage-space eye poses and fields of view, left first
	//
	// Returns:
	//   - StereoView: the world-space view
	Update(eyes [2]Eye) StereoView

	// View returns the view stored by the last Update.
	//
	// Returns:
	//   - StereoView: the current view
	View() StereoView
}

var _ Camera = &cameraImpl{}

// NewCamera creates a Camera with an identity stage transform and DefaultNear.
//
// Parameters:
//   - options: functional options to configure the camera
//
// Returns:
//   - Camera: the newly created camera
func NewCamera(options ...CameraBuilderOption) Camera {
	c := &cameraImpl{
		mu:    &sync.Mutex{},
		near:  DefaultNear,
		stage: mgl32.Ident4(),
	}
	for _, option := range options {
		option(c)
	}
	for i := range c.view.Eyes {
		c.view.Eyes[i].Pose.Orientation = mgl32.QuatIdent()
		c.view.Eyes[i].Fov = SymmetricFov(mgl32.DegToRad(90), mgl32.DegToRad(90))
	}
	c.view.Near = c.near
	return c
}

func (c *cameraImpl) Near() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.near
}

func (c *cameraImpl) SetNear(near float32) {
	if near <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.near = near
}

func (c *cameraImpl) StageTransform() mgl32.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}

func (c *cameraImpl) SetStageTransform(m mgl32.Mat4) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stage = m
}

func (c *cameraImpl) Update(eyes [2]Eye) StereoView {
	c.mu.Lock()
	defer c.mu.Unlock()

	rot := mgl32.Mat4ToQuat(c.stage)
	view := StereoView{Near: c.near}
	for i, eye := range eyes {
		if eye.ViewProjection == nil {
			eye.Pose = Pose{
				Position:    mgl32.TransformCoordinate(eye.Pose.Position, c.stage),
				Orientation: rot.Mul(eye.Pose.Orientation).Normalize(),
			}
		}
		view.Eyes[i] = eye
	}
	c.view = view
	return view
}

func (c *cameraImpl) View() StereoView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}
