package game_object

import (
	"sync"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/Carmen-Shannon/oxy-vr/engine/light"
	"github.com/go-gl/mathgl/mgl32"
)

// RenderState is a consistent snapshot of everything the frame assembler reads from a GameObject.
type RenderState struct {
	Local    mgl32.Mat4
	Mesh     common.MeshHandle
	Material common.MaterialHandle
	Skin     common.SkinHandle
	Light    light.Light
}

type gameObject struct {
	mu      *sync.Mutex
	name    string
	enabled atomic.Bool

	transform common.Transform
	mesh      common.MeshHandle
	material  common.MaterialHandle
	skin      common.SkinHandle

	attachedLight light.Light
}

// GameObject is an entity payload: a local transform plus optional mesh, material and skin handles and an
// optional attached light. Placement in the hierarchy is owned by the scene.
//
// Zero handles mean "none". Handles are not validated here; the frame assembler substitutes the error
// mesh or material for references that do not resolve.
type GameObject interface {
	// Name returns the object's debug name.
	//
	// Returns:
	//   - string: the name
	Name() string

	// Enabled returns whether this object and its descendants are rendered.
	//
	// Returns:
	//   - bool: true if enabled
	Enabled() bool

	// SetEnabled sets whether this object and its descendants are rendered.
	//
	// Parameters:
	//   - enabled: true to render
	SetEnabled(enabled bool)

	// Transform returns the local transform relative to the parent.
	//
	// Returns:
	//   - common.Transform: the local transform
	Transform() common.Transform

	// SetTransform replaces the local transform.
	//
	// Parameters:
	//   - t: the new local transform
	SetTransform(t common.Transform)

	// SetPosition sets the local translation.
	//
	// Parameters:
	//   - x, y, z: translation components
	SetPosition(x, y, z float32)

	// SetRotation sets the local orientation.
	//
	// Parameters:
	//   - q: the orientation quaternion
	SetRotation(q mgl32.Quat)

	// SetScale sets the local scale.
	//
	// Parameters:
	//   - sx, sy, sz: scale components
	SetScale(sx, sy, sz float32)

	// Mesh returns the mesh handle, zero if the object draws nothing.
	//
	// Returns:
	//   - common.MeshHandle: the mesh
	Mesh() common.MeshHandle

	// SetMesh sets the mesh handle.
	//
	// Parameters:
	//   - h: the mesh, zero to draw nothing
	SetMesh(h common.MeshHandle)

	// Material returns the material handle, zero for the error material.
	//
	// Returns:
	//   - common.MaterialHandle: the material
	Material() common.MaterialHandle

	// SetMaterial sets the material handle.
	//
	// Parameters:
	//   - h: the material
	SetMaterial(h common.MaterialHandle)

	// Skin returns the skin handle, zero for a rigid mesh.
	//
	// Returns:
	//   - common.SkinHandle: the skin
	Skin() common.SkinHandle

	// SetSkin sets the skin handle.
	//
	// Parameters:
	//   - h: the skin, zero for none
	SetSkin(h common.SkinHandle)

	// Light returns the attached light, or nil. An attached light follows the object: its position and
	// direction are taken from the object's world transform each frame.
	//
	// Returns:
	//   - light.Light: the light or nil
	Light() light.Light

	// SetLight attaches a light, nil to detach.
	//
	// Parameters:
	//   - l: the light
	SetLight(l light.Light)

	// RenderState snapshots the render-relevant fields under one lock.
	//
	// Returns:
	//   - RenderState: the snapshot
	RenderState() RenderState
}

var _ GameObject = &gameObject{}

// NewGameObject creates an enabled GameObject with an identity transform.
//
// Parameters:
//   - options: functional options
//
// Returns:
//   - GameObject: the object
func NewGameObject(options ...GameObjectBuilderOption) GameObject {
	g := &gameObject{
		mu:        &sync.Mutex{},
		transform: common.IdentityTransform(),
	}
	g.enabled.Store(true)
	for _, opt := range options {
		opt(g)
	}
	return g
}

func (g *gameObject) Name() string {
	return g.name
}

func (g *gameObject) Enabled() bool {
	return g.enabled.Load()
}

func (g *gameObject) SetEnabled(enabled bool) {
	g.enabled.Store(enabled)
}

func (g *gameObject) Transform() common.Transform {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.transform
}

func (g *gameObject) SetTransform(t common.Transform) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transform = t
}

func (g *gameObject) SetPosition(x, y, z float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transform.Translation = mgl32.Vec3{x, y, z}
}

func (g *gameObject) SetRotation(q mgl32.Quat) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transform.Rotation = q
}

func (g *gameObject) SetScale(sx, sy, sz float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.transform.Scale = mgl32.Vec3{sx, sy, sz}
}

func (g *gameObject) Mesh() common.MeshHandle {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mesh
}

func (g *gameObject) SetMesh(h common.MeshHandle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mesh = h
}

func (g *gameObject) Material() common.MaterialHandle {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.material
}

func (g *gameObject) SetMaterial(h common.MaterialHandle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.material = h
}

func (g *gameObject) Skin() common.SkinHandle {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.skin
}

func (g *gameObject) SetSkin(h common.SkinHandle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.skin = h
}

func (g *gameObject) Light() light.Light {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attachedLight
}

func (g *gameObject) SetLight(l light.Light) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attachedLight = l
}

func (g *gameObject) RenderState() RenderState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return RenderState{
		Local:    g.transform.Matrix(),
		Mesh:     g.mesh,
		Material: g.material,
		Skin:     g.skin,
		Light:    g.attachedLight,
	}
}
