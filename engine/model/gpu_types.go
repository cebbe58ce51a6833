package model

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
)

// MaxJoints is the number of joint matrices a skin can hold, and the length of a GPUJointBlock.
const MaxJoints = 64

// GPUVertex is the vertex layout of the shared vertex arena.
// Size: 80 bytes, tightly packed (vertex attributes only need 4-byte alignment).
type GPUVertex struct {
	Position [3]float32 // offset  0: position in mesh space
	Normal   [3]float32 // offset 12: vertex normal
	Tangent  [4]float32 // offset 24: tangent (xyz) + handedness (w)
	TexCoord [2]float32 // offset 40: UV
	Joints   [4]uint32  // offset 48: indices of up to 4 influencing joints
	Weights  [4]float32 // offset 64: joint weights, all zero for rigid meshes
}

// Size returns the size of the GPUVertex struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUVertex) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUVertex struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 80-byte buffer ready for GPU upload.
func (g *GPUVertex) Marshal() []byte {
	buf := make([]byte, 80)
	g.put(buf)
	return buf
}

func (g *GPUVertex) put(buf []byte) {
	putFloats(buf[0:], g.Position[:])
	putFloats(buf[12:], g.Normal[:])
	putFloats(buf[24:], g.Tangent[:])
	putFloats(buf[40:], g.TexCoord[:])
	for i, j := range g.Joints {
		binary.LittleEndian.PutUint32(buf[48+i*4:], j)
	}
	putFloats(buf[64:], g.Weights[:])
}

// GPUVertexLayout describes GPUVertex to the vertex stage. Locations match the VertexInput struct in
// the stereo shader.
var GPUVertexLayout = wgpu.VertexBufferLayout{
	ArrayStride: 80,
	StepMode:    wgpu.VertexStepModeVertex,
	Attributes: []wgpu.VertexAttribute{
		{Format: wgpu.VertexFormatFloat32x3, Offset: 0, ShaderLocation: 0},
		{Format: wgpu.VertexFormatFloat32x3, Offset: 12, ShaderLocation: 1},
		{Format: wgpu.VertexFormatFloat32x4, Offset: 24, ShaderLocation: 2},
		{Format: wgpu.VertexFormatFloat32x2, Offset: 40, ShaderLocation: 3},
		{Format: wgpu.VertexFormatUint32x4, Offset: 48, ShaderLocation: 4},
		{Format: wgpu.VertexFormatFloat32x4, Offset: 64, ShaderLocation: 5},
	},
}

// GPUJointBlock is one skin's joint matrices as stored in the frame's skin buffer (array<mat4x4<f32>, 64>).
// Unused joints are left as zero matrices.
// Size: 4096 bytes.
type GPUJointBlock struct {
	Joints [MaxJoints]mgl32.Mat4
}

// Size returns the size of the GPUJointBlock struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUJointBlock) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUJointBlock struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 4096-byte buffer ready for GPU upload.
func (g *GPUJointBlock) Marshal() []byte {
	buf := make([]byte, MaxJoints*64)
	g.MarshalInto(buf)
	return buf
}

// MarshalInto writes the block into buf, which must hold at least 4096 bytes.
//
// Parameters:
//   - buf: the destination
func (g *GPUJointBlock) MarshalInto(buf []byte) {
	for i := range g.Joints {
		putFloats(buf[i*64:], g.Joints[i][:])
	}
}

func putFloats(buf []byte, values []float32) {
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
}
