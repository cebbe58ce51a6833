package light

import "github.com/go-gl/mathgl/mgl32"

// LightType identifies the kind of light source. Values match GPULight.LightType.
type LightType uint32

const (
	// LightTypeDirectional represents a light with no position, only direction.
	// Used for distant sources like the sun. No distance attenuation.
	LightTypeDirectional LightType = iota

	// LightTypePoint represents a light that emits in all directions from a position.
	LightTypePoint

	// LightTypeSpot represents a light that emits in a cone from a position along a direction.
	// Attenuates with both distance and angle from the cone axis.
	LightTypeSpot
)

// lightImpl is the implementation of the Light interface.
type lightImpl struct {
	lightType  LightType
	position   [3]float32
	direction  [3]float32
	color      [3]float32
	intensity  float32
	lightRange float32
	innerCone  float32 // radians
	outerCone  float32 // radians
	enabled    bool
}

// Light defines the interface for a punctual light source in the scene, following KHR_lights_punctual.
//
// The frame assembler packs the first MaxGPULights enabled lights into SceneData every frame.
// Type-specific properties return their stored values even when the type ignores them.
type Light interface {
	// Type returns the kind of light source.
	//
	// Returns:
	//   - LightType: the light type (directional, point, or spot)
	Type() LightType

	// Position returns the world-space position of the light.
	// Meaningless for directional lights.
	//
	// Returns:
	//   - [3]float32: position as (x, y, z)
	Position() [3]float32

	// Direction returns the normalized direction the light faces.
	// Meaningless for point lights.
	//
	// Returns:
	//   - [3]float32: normalized direction as (x, y, z)
	Direction() [3]float32

	// Color returns the linear RGB color of the light.
	//
	// Returns:
	//   - [3]float32: color as (r, g, b)
	Color() [3]float32

	// Intensity returns the brightness in the type's units (candela or lux).
	//
	// Returns:
	//   - float32: the intensity value
	Intensity() float32

	// Range returns the attenuation distance for point and spot lights. Zero or negative means infinite.
	//
	// Returns:
	//   - float32: the range value
	Range() float32

	// InnerConeAngle returns the spot cone angle of full intensity.
	//
	// Returns:
	//   - float32: inner half-angle in radians
	InnerConeAngle() float32

	// OuterConeAngle returns the spot cone angle where intensity reaches zero.
	//
	// Returns:
	//   - float32: outer half-angle in radians
	OuterConeAngle() float32

	// Enabled returns whether this light is packed for rendering.
	//
	// Returns:
	//   - bool: true if the light is enabled
	Enabled() bool

	// SetPosition sets the world-space position of the light.
	//
	// Parameters:
	//   - x, y, z: position components
	SetPosition(x, y, z float32)

	// SetDirection sets the direction of the light and normalizes it.
	//
	// Parameters:
	//   - x, y, z: direction components (will be normalized)
	SetDirection(x, y, z float32)

	// SetColor sets the RGB color of the light.
	//
	// Parameters:
	//   - r, g, b: color components
	SetColor(r, g, b float32)

	// SetIntensity sets the brightness.
	//
	// Parameters:
	//   - intensity: the intensity value
	SetIntensity(intensity float32)

	// SetRange sets the attenuation distance.
	//
	// Parameters:
	//   - lightRange: the range value, zero for infinite
	SetRange(lightRange float32)

	// SetSpotCone sets the inner and outer cone half-angles for spot lights.
	//
	// Parameters:
	//   - innerDeg: inner cone half-angle in degrees
	//   - outerDeg: outer cone half-angle in degrees
	SetSpotCone(innerDeg, outerDeg float32)

	// SetEnabled enables or disables the light for rendering.
	//
	// Parameters:
	//   - enabled: true to enable
	SetEnabled(enabled bool)
}

var _ Light = &lightImpl{}

// NewLight creates a new Light of the specified type with sensible defaults and
// any provided options applied.
//
// Parameters:
//   - lightType: the kind of light to create (directional, point, or spot)
//   - opts: variadic list of LightBuilderOption functions to configure the light
//
// Returns:
//   - Light: a new Light instance
func NewLight(lightType LightType, opts ...LightBuilderOption) Light {
	l := &lightImpl{
		lightType: lightType,
		direction: [3]float32{0, 0, -1},
		color:     [3]float32{1, 1, 1},
		intensity: 1.0,
		outerCone: mgl32.DegToRad(45),
		enabled:   true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *lightImpl) Type() LightType {
	return l.lightType
}

func (l *lightImpl) Position() [3]float32 {
	return l.position
}

func (l *lightImpl) Direction() [3]float32 {
	return l.direction
}

func (l *lightImpl) Color() [3]float32 {
	return l.color
}

func (l *lightImpl) Intensity() float32 {
	return l.intensity
}

func (l *lightImpl) Range() float32 {
	return l.lightRange
}

func (l *lightImpl) InnerConeAngle() float32 {
	return l.innerCone
}

func (l *lightImpl) OuterConeAngle() float32 {
	return l.outerCone
}

func (l *lightImpl) Enabled() bool {
	return l.enabled
}

func (l *lightImpl) SetPosition(x, y, z float32) {
	l.position = [3]float32{x, y, z}
}

func (l *lightImpl) SetDirection(x, y, z float32) {
	l.direction = normalize3(x, y, z)
}

func (l *lightImpl) SetColor(r, g, b float32) {
	l.color = [3]float32{r, g, b}
}

func (l *lightImpl) SetIntensity(intensity float32) {
	l.intensity = intensity
}

func (l *lightImpl) SetRange(lightRange float32) {
	l.lightRange = lightRange
}

func (l *lightImpl) SetSpotCone(innerDeg, outerDeg float32) {
	l.innerCone = mgl32.DegToRad(innerDeg)
	l.outerCone = mgl32.DegToRad(outerDeg)
}

func (l *lightImpl) SetEnabled(enabled bool) {
	l.enabled = enabled
}
