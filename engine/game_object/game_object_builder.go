package game_object

import (
	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/Carmen-Shannon/oxy-vr/engine/light"
	"github.com/go-gl/mathgl/mgl32"
)

// GameObjectBuilderOption is a functional option for configuring a GameObject during construction.
type GameObjectBuilderOption func(*gameObject)

// WithName sets the debug name of the GameObject.
//
// Parameters:
//   - name: the name
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the name
func WithName(name string) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.name = name
	}
}

// WithEnabled sets whether the GameObject is enabled for rendering.
//
// Parameters:
//   - enabled: true to render the object, false to skip it and its descendants
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the Enabled state
func WithEnabled(enabled bool) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.enabled.Store(enabled)
	}
}

// WithTransform sets the local transform.
//
// Parameters:
//   - t: the transform
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the transform
func WithTransform(t common.Transform) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.transform = t
	}
}

// WithPosition sets the local translation.
//
// Parameters:
//   - x, y, z: translation components
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the position
func WithPosition(x, y, z float32) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.transform.Translation = mgl32.Vec3{x, y, z}
	}
}

// WithScale sets the local scale.
//
// Parameters:
//   - sx, sy, sz: scale components
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the scale
func WithScale(sx, sy, sz float32) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.transform.Scale = mgl32.Vec3{sx, sy, sz}
	}
}

// WithMesh sets the mesh handle.
//
// Parameters:
//   - h: the mesh
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the mesh
func WithMesh(h common.MeshHandle) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.mesh = h
	}
}

// WithMaterial sets the material handle.
//
// Parameters:
//   - h: the material
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the material
func WithMaterial(h common.MaterialHandle) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.material = h
	}
}

// WithSkin sets the skin handle.
//
// Parameters:
//   - h: the skin
//
// Returns:
//   - GameObjectBuilderOption: functional option to set the skin
func WithSkin(h common.SkinHandle) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.skin = h
	}
}

// WithLight attaches a light to the GameObject.
//
// Parameters:
//   - l: the light to attach
//
// Returns:
//   - GameObjectBuilderOption: functional option to attach the light
func WithLight(l light.Light) GameObjectBuilderOption {
	return func(obj *gameObject) {
		obj.attachedLight = l
	}
}
