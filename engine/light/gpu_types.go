package light

import (
	_ "embed"
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/go-gl/mathgl/mgl32"
)

// MaxGPULights is the number of light slots in SceneData. Enabled lights beyond this budget are dropped in
// scene order.
const MaxGPULights = 4

// GPULightSource is the canonical WGSL definition of the Light struct.
// Matches GPULight layout exactly (64 bytes).
//
//go:embed assets/light.wgsl
var GPULightSource string

// GPULight is the GPU-aligned representation of a single punctual light, embedded in SceneData.
// Size: 64 bytes (std430 / WGSL aligned).
type GPULight struct {
	Direction        [3]float32 // offset  0: normalized direction (directional/spot)
	Falloff          float32    // offset 12: 1/range², 0 for infinite range
	Color            [3]float32 // offset 16: linear RGB
	Intensity        float32    // offset 28: candela for point/spot, lux for directional
	Position         [3]float32 // offset 32: world-space position (point/spot)
	LightAngleScale  float32    // offset 44: spot cone scale, 1/(cos inner - cos outer)
	LightAngleOffset float32    // offset 48: spot cone offset, -cos outer * scale
	LightType        uint32     // offset 52: 0 directional, 1 point, 2 spot, NotPresent for an empty slot
	_                [2]uint32  // offset 56: padding to 64
}

// NoGPULight returns the empty slot value the fragment stage skips.
//
// Returns:
//   - GPULight: a light with type NotPresent
func NoGPULight() GPULight {
	return GPULight{LightType: common.NotPresent}
}

// Size returns the size of the GPULight struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (64)
func (g *GPULight) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPULight struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 64-byte buffer ready for GPU upload
func (g *GPULight) Marshal() []byte {
	buf := make([]byte, 64)
	g.MarshalInto(buf)
	return buf
}

// MarshalInto writes the light into buf, which must hold at least 64 bytes.
//
// Parameters:
//   - buf: the destination
func (g *GPULight) MarshalInto(buf []byte) {
	le := binary.LittleEndian
	for i := range 3 {
		le.PutUint32(buf[i*4:], math.Float32bits(g.Direction[i]))
		le.PutUint32(buf[16+i*4:], math.Float32bits(g.Color[i]))
		le.PutUint32(buf[32+i*4:], math.Float32bits(g.Position[i]))
	}
	le.PutUint32(buf[12:], math.Float32bits(g.Falloff))
	le.PutUint32(buf[28:], math.Float32bits(g.Intensity))
	le.PutUint32(buf[44:], math.Float32bits(g.LightAngleScale))
	le.PutUint32(buf[48:], math.Float32bits(g.LightAngleOffset))
	le.PutUint32(buf[52:], g.LightType)
	clear(buf[56:64])
}

// ToGPULight converts a Light to its GPU-aligned representation.
//
// Parameters:
//   - l: the Light to convert
//
// Returns:
//   - GPULight: the GPU-aligned representation
func ToGPULight(l Light) GPULight {
	g := GPULight{
		Direction: l.Direction(),
		Falloff:   falloff(l.Range()),
		Color:     l.Color(),
		Intensity: l.Intensity(),
		Position:  l.Position(),
		LightType: uint32(l.Type()),
	}
	if l.Type() == LightTypeSpot {
		g.LightAngleScale, g.LightAngleOffset = spotScaleOffset(l.InnerConeAngle(), l.OuterConeAngle())
	}
	return g
}

// ToGPULightAt converts a Light attached to a scene entity, moving its position and direction from the
// entity's local space into world space.
//
// Parameters:
//   - l: the Light to convert
//   - world: the entity's world transform
//
// Returns:
//   - GPULight: the GPU-aligned representation in world space
func ToGPULightAt(l Light, world mgl32.Mat4) GPULight {
	g := ToGPULight(l)
	g.Position = world.Mul4x1(mgl32.Vec3(g.Position).Vec4(1)).Vec3()
	dir := world.Mul4x1(mgl32.Vec3(g.Direction).Vec4(0)).Vec3()
	g.Direction = normalize3(dir[0], dir[1], dir[2])
	return g
}

// PackGPULights fills every light slot: the first MaxGPULights enabled lights in order, then empty slots.
//
// Parameters:
//   - lights: the scene lights
//
// Returns:
//   - [MaxGPULights]GPULight: the packed slots
func PackGPULights(lights []Light) [MaxGPULights]GPULight {
	var out [MaxGPULights]GPULight
	n := 0
	for _, l := range lights {
		if n == MaxGPULights {
			break
		}
		if l == nil || !l.Enabled() {
			continue
		}
		out[n] = ToGPULight(l)
		n++
	}
	for ; n < MaxGPULights; n++ {
		out[n] = NoGPULight()
	}
	return out
}

func falloff(lightRange float32) float32 {
	sq := lightRange * lightRange
	if lightRange <= 0 || sq <= 0 {
		return 0
	}
	return 1 / sq
}

// spotScaleOffset precomputes the smoothstep-free cone attenuation used by the fragment stage:
// attenuation = saturate(dot(-l, dir) * scale + offset)².
func spotScaleOffset(inner, outer float32) (scale, offset float32) {
	lo := float32(0.5 * math.Pi / 180)
	outer = min(max(absF32(outer), lo), math.Pi/2)
	inner = min(max(absF32(inner), lo), math.Pi/2, outer)
	cosInner := float32(math.Cos(float64(inner)))
	cosOuter := float32(math.Cos(float64(outer)))
	scale = 1 / max(0.001, cosInner-cosOuter)
	offset = -cosOuter * scale
	return scale, offset
}

func absF32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
