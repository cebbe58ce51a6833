package material

import (
	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/go-gl/mathgl/mgl32"
)

// Workflow selects the shading model in the stereo fragment stage.
type Workflow uint32

const (
	WorkflowMetallicRoughness Workflow = 0
	WorkflowUnlit             Workflow = 1
)

func (w Workflow) String() string {
	switch w {
	case WorkflowMetallicRoughness:
		return "metallic_roughness"
	case WorkflowUnlit:
		return "unlit"
	default:
		return "unknown"
	}
}

// TextureSlot indexes the texture references of a material.
type TextureSlot int

const (
	TextureSlotBaseColor TextureSlot = iota
	TextureSlotMetallicRoughness
	TextureSlotNormal
	TextureSlotOcclusion
	TextureSlotEmissive

	TextureSlotCount
)

// DefaultPipelineKey is the render pipeline every material uses unless WithPipelineKey says otherwise.
const DefaultPipelineKey = "stereo_pbr"

// defaultAlphaCutoff applies when alpha masking is enabled without an explicit cutoff.
const defaultAlphaCutoff float32 = 0.5

// material is the implementation of the Material interface.
type material struct {
	name        string
	baseColor   mgl32.Vec4
	emissive    mgl32.Vec3
	workflow    Workflow
	textures    [TextureSlotCount]common.TextureHandle
	metallic    float32
	roughness   float32
	alphaMask   bool
	alphaCutoff *float32
	pipelineKey string
}

// Material is an immutable surface description. The resource tables copy it into a GPUMaterial record,
// resolving texture handles to texture indices at that point.
type Material interface {
	// Name retrieves the material identifier.
	//
	// Returns:
	//   - string: the name of the material
	Name() string

	// BaseColor retrieves the RGBA base color factor.
	//
	// Returns:
	//   - mgl32.Vec4: the base color
	BaseColor() mgl32.Vec4

	// Emissive retrieves the RGB emissive factor.
	//
	// Returns:
	//   - mgl32.Vec3: the emissive color
	Emissive() mgl32.Vec3

	// Workflow retrieves the shading model tag.
	//
	// Returns:
	//   - Workflow: the workflow
	Workflow() Workflow

	// Texture retrieves the texture referenced by a slot.
	//
	// Parameters:
	//   - slot: the texture slot
	//
	// Returns:
	//   - common.TextureHandle: the handle, zero when the slot is unset
	Texture(slot TextureSlot) common.TextureHandle

	// Metallic retrieves the metallic factor (0 dielectric, 1 metal).
	//
	// Returns:
	//   - float32: the metallic factor
	Metallic() float32

	// Roughness retrieves the roughness factor (0 smooth, 1 rough).
	//
	// Returns:
	//   - float32: the roughness factor
	Roughness() float32

	// AlphaMask reports the alpha test state as stored on the GPU.
	// An explicit cutoff enables masking on its own; masking without a cutoff uses 0.5.
	//
	// Returns:
	//   - bool: whether fragments are alpha tested
	//   - float32: the cutoff, 1 when masking is off
	AlphaMask() (bool, float32)

	// PipelineKey retrieves the key identifying the render pipeline this material draws with.
	//
	// Returns:
	//   - string: the pipeline key
	PipelineKey() string

	// GPURecord builds the storage buffer record.
	//
	// Parameters:
	//   - textureIndices: resolved texture indices in TextureSlot order, common.NotPresent for unset slots
	//
	// Returns:
	//   - GPUMaterial: the record
	GPURecord(textureIndices [TextureSlotCount]uint32) GPUMaterial
}

var _ Material = &material{}

// NewMaterial creates a new Material instance configured with the provided options.
// Defaults: white, dielectric, fully rough, metallic-roughness workflow, DefaultPipelineKey.
//
// Parameters:
//   - options: variadic list of MaterialBuilderOption functions to configure the material
//
// Returns:
//   - Material: a new Material instance
func NewMaterial(options ...MaterialBuilderOption) Material {
	m := &material{
		baseColor:   mgl32.Vec4{1, 1, 1, 1},
		roughness:   1,
		workflow:    WorkflowMetallicRoughness,
		pipelineKey: DefaultPipelineKey,
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// ErrorMaterial returns the magenta unlit material drawn wherever a material reference cannot be resolved.
//
// Returns:
//   - Material: the error material
func ErrorMaterial() Material {
	return NewMaterial(
		WithName("error"),
		WithBaseColor(mgl32.Vec4{1, 0, 1, 1}),
		WithWorkflow(WorkflowUnlit),
	)
}

func (m *material) Name() string {
	return m.name
}

func (m *material) BaseColor() mgl32.Vec4 {
	return m.baseColor
}

func (m *material) Emissive() mgl32.Vec3 {
	return m.emissive
}

func (m *material) Workflow() Workflow {
	return m.workflow
}

func (m *material) Texture(slot TextureSlot) common.TextureHandle {
	if slot < 0 || slot >= TextureSlotCount {
		return common.TextureHandle{}
	}
	return m.textures[slot]
}

func (m *material) Metallic() float32 {
	return m.metallic
}

func (m *material) Roughness() float32 {
	return m.roughness
}

func (m *material) AlphaMask() (bool, float32) {
	switch {
	case m.alphaCutoff != nil:
		return true, *m.alphaCutoff
	case m.alphaMask:
		return true, defaultAlphaCutoff
	default:
		return false, 1
	}
}

func (m *material) PipelineKey() string {
	return m.pipelineKey
}

func (m *material) GPURecord(textureIndices [TextureSlotCount]uint32) GPUMaterial {
	rec := GPUMaterial{
		BaseColorFactor: m.baseColor,
		EmissiveFactor:  m.emissive.Vec4(0),
		Workflow:        uint32(m.workflow),
		Textures:        textureIndices,
		MetallicFactor:  m.metallic,
		RoughnessFactor: m.roughness,
	}
	masked, cutoff := m.AlphaMask()
	if masked {
		rec.AlphaMask = 1
	}
	rec.AlphaMaskCutoff = cutoff
	return rec
}
