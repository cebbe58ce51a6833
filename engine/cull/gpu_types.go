package cull

import (
	_ "embed"
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/go-gl/mathgl/mgl32"
)

// GPUDrawRecordSource is the canonical WGSL definition of the DrawRecord struct.
// Matches GPUDrawRecord layout exactly (160 bytes, std430 aligned).
//
//go:embed assets/draw_record.wgsl
var GPUDrawRecordSource string

// GPUDrawRecord is the per-draw data the culling stage and the stereo vertex stage read.
// Size: 160 bytes (std430 / WGSL aligned).
type GPUDrawRecord struct {
	Transform        mgl32.Mat4 // offset   0: world transform
	InverseTranspose mgl32.Mat4 // offset  64: normal matrix, identity for singular transforms
	BoundingSphere   mgl32.Vec4 // offset 128: world-space center (xyz) and radius (w)
	MaterialID       uint32     // offset 144: index into the material buffer
	SkinID           uint32     // offset 148: frame-local joint block, NotPresent for rigid draws
	_                [2]uint32  // offset 152: padding to 160
}

// Size returns the size of the GPUDrawRecord struct in bytes.
//
// Returns:
//   - int: The size of the struct in bytes.
func (g *GPUDrawRecord) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUDrawRecord struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 160-byte buffer ready for GPU upload.
func (g *GPUDrawRecord) Marshal() []byte {
	buf := make([]byte, DrawRecordSize)
	g.MarshalInto(buf)
	return buf
}

// MarshalInto writes the record into buf, which must hold at least 160 bytes.
//
// Parameters:
//   - buf: the destination
func (g *GPUDrawRecord) MarshalInto(buf []byte) {
	putFloats(buf[0:], g.Transform[:])
	putFloats(buf[64:], g.InverseTranspose[:])
	putFloats(buf[128:], g.BoundingSphere[:])
	binary.LittleEndian.PutUint32(buf[144:], g.MaterialID)
	binary.LittleEndian.PutUint32(buf[148:], g.SkinID)
	clear(buf[152:160])
}

// GPUDrawCommandSource is the canonical WGSL definition of the DrawCommand struct.
// Matches GPUDrawCommand layout exactly (20 bytes).
//
//go:embed assets/draw_command.wgsl
var GPUDrawCommandSource string

// GPUDrawCommand is the DrawIndexedIndirect argument block. FirstInstance carries the DrawRecord index so
// the vertex stage can fetch its record through instance_index; culling writes only InstanceCount.
// Size: 20 bytes (5 × u32).
type GPUDrawCommand struct {
	IndexCount    uint32 // offset  0
	InstanceCount uint32 // offset  4: 0 or 1, written by the culling stage
	FirstIndex    uint32 // offset  8: first index in the shared index arena
	VertexOffset  int32  // offset 12: base vertex in the shared vertex arena
	FirstInstance uint32 // offset 16: DrawRecord index
}

// Size returns the size of the GPUDrawCommand struct in bytes.
//
// Returns:
//   - int: The size of the struct in bytes.
func (g *GPUDrawCommand) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUDrawCommand struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 20-byte buffer ready for GPU upload.
func (g *GPUDrawCommand) Marshal() []byte {
	buf := make([]byte, DrawCommandSize)
	g.MarshalInto(buf)
	return buf
}

// MarshalInto writes the command into buf, which must hold at least 20 bytes.
//
// Parameters:
//   - buf: the destination
func (g *GPUDrawCommand) MarshalInto(buf []byte) {
	le := binary.LittleEndian
	le.PutUint32(buf[0:], g.IndexCount)
	le.PutUint32(buf[4:], g.InstanceCount)
	le.PutUint32(buf[8:], g.FirstIndex)
	le.PutUint32(buf[12:], uint32(g.VertexOffset))
	le.PutUint32(buf[16:], g.FirstInstance)
}

// GPUCullParamsSource is the canonical WGSL definition of the CullParams struct.
// Matches GPUCullParams layout exactly (144 bytes, uniform aligned).
//
//go:embed assets/cull_params.wgsl
var GPUCullParamsSource string

// GPUCullParams is the culling stage uniform: the side planes of both eyes and the record count.
// Size: 144 bytes.
type GPUCullParams struct {
	LeftPlanes  [4]mgl32.Vec4 // offset   0: left, right, bottom, top of eye 0
	RightPlanes [4]mgl32.Vec4 // offset  64: left, right, bottom, top of eye 1
	DrawCount   uint32        // offset 128
	_           [3]uint32     // offset 132: padding to 144
}

// NewGPUCullParams packs the side planes of both eye frustums.
//
// Parameters:
//   - frustums: the eye frustums, left first
//   - drawCount: the number of draw records
//
// Returns:
//   - GPUCullParams: the uniform contents
func NewGPUCullParams(frustums [common.ViewCount]common.Frustum, drawCount uint32) GPUCullParams {
	p := GPUCullParams{DrawCount: drawCount}
	for i, plane := range frustums[0].SidePlanes() {
		p.LeftPlanes[i] = plane.Vec4()
	}
	for i, plane := range frustums[1].SidePlanes() {
		p.RightPlanes[i] = plane.Vec4()
	}
	return p
}

// Size returns the size of the GPUCullParams struct in bytes.
//
// Returns:
//   - int: The size of the struct in bytes.
func (g *GPUCullParams) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUCullParams struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 144-byte buffer ready for GPU upload.
func (g *GPUCullParams) Marshal() []byte {
	buf := make([]byte, CullParamsSize)
	for i := range 4 {
		putFloats(buf[i*16:], g.LeftPlanes[i][:])
		putFloats(buf[64+i*16:], g.RightPlanes[i][:])
	}
	binary.LittleEndian.PutUint32(buf[128:], g.DrawCount)
	return buf
}

// unmarshalCullParams is the inverse of Marshal, used by the CPU kernel.
func unmarshalCullParams(buf []byte) GPUCullParams {
	var p GPUCullParams
	for i := range 4 {
		p.LeftPlanes[i] = mgl32.Vec4(getFloats4(buf[i*16:]))
		p.RightPlanes[i] = mgl32.Vec4(getFloats4(buf[64+i*16:]))
	}
	p.DrawCount = binary.LittleEndian.Uint32(buf[128:])
	return p
}

const (
	DrawRecordSize  = 160
	DrawCommandSize = 20
	CullParamsSize  = 144
)

func putFloats(buf []byte, values []float32) {
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
}

func getFloats4(buf []byte) [4]float32 {
	var out [4]float32
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}
