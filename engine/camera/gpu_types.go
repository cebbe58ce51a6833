package camera

import (
	_ "embed"
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/Carmen-Shannon/oxy-vr/engine/light"
	"github.com/go-gl/mathgl/mgl32"
)

// GPUSceneDataSource is the canonical WGSL definition of the SceneData struct. It references Light, so
// light.GPULightSource must precede it.
//
//go:embed assets/scene_data.wgsl
var GPUSceneDataSource string

// GPUViewParamsSource is the canonical WGSL definition of the ViewParams struct.
//
//go:embed assets/view_params.wgsl
var GPUViewParamsSource string

// GPUSceneData is the per-frame uniform shared by both eyes of the stereo pass.
// Size: 432 bytes (uniform address space, 16-byte aligned).
type GPUSceneData struct {
	ViewProjection [common.ViewCount]mgl32.Mat4       // offset   0: clip-from-world per eye
	CameraPosition [common.ViewCount]mgl32.Vec4       // offset 128: world-space eye position, w = 1
	Params         mgl32.Vec4                         // offset 160: x = IBL intensity
	Lights         [light.MaxGPULights]light.GPULight // offset 176
}

// NewGPUSceneData assembles scene data from the stereo view and lights.
//
// Parameters:
//   - view: the stereo view
//   - iblIntensity: image-based lighting scale
//   - lights: the scene lights, packed with light.PackGPULights
//
// Returns:
//   - GPUSceneData: the uniform contents
func NewGPUSceneData(view StereoView, iblIntensity float32, lights []light.Light) GPUSceneData {
	d := GPUSceneData{
		ViewProjection: view.ViewProjections(),
		Params:         mgl32.Vec4{iblIntensity, 0, 0, 0},
		Lights:         light.PackGPULights(lights),
	}
	for i, eye := range view.Eyes {
		d.CameraPosition[i] = eye.Position().Vec4(1)
	}
	return d
}

// Size returns the size of the GPUSceneData struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (432)
func (g *GPUSceneData) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUSceneData struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 432-byte buffer ready for GPU upload
func (g *GPUSceneData) Marshal() []byte {
	buf := make([]byte, 432)
	g.MarshalInto(buf)
	return buf
}

// MarshalInto writes the scene data into buf, which must hold at least 432 bytes.
//
// Parameters:
//   - buf: the destination
func (g *GPUSceneData) MarshalInto(buf []byte) {
	for i := range g.ViewProjection {
		putFloats(buf[i*64:], g.ViewProjection[i][:])
		putFloats(buf[128+i*16:], g.CameraPosition[i][:])
	}
	putFloats(buf[160:], g.Params[:])
	for i := range g.Lights {
		g.Lights[i].MarshalInto(buf[176+i*64:])
	}
}

// GPUViewParams selects the eye in the vertex stage. One copy per eye is bound at group 0 binding 1.
// Size: 16 bytes (uniform minimum, u32 plus padding).
type GPUViewParams struct {
	ViewIndex uint32    // offset 0
	_         [3]uint32 // offset 4: padding to 16
}

// Size returns the size of the GPUViewParams struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (16)
func (g *GPUViewParams) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUViewParams struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 16-byte buffer ready for GPU upload
func (g *GPUViewParams) Marshal() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf, g.ViewIndex)
	return buf
}

func putFloats(buf []byte, values []float32) {
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
}
