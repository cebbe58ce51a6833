package material

import (
	_ "embed"
	"encoding/binary"
	"math"
	"unsafe"
)

// GPUMaterialSource is the canonical WGSL definition of the Material struct.
// Matches GPUMaterial layout exactly (80 bytes, std430 aligned).
//
//go:embed assets/material.wgsl
var GPUMaterialSource string

// GPUMaterial is one entry of the material storage buffer, indexed by DrawRecord.materialID.
// Size: 80 bytes (std430, 16-byte aligned).
type GPUMaterial struct {
	BaseColorFactor [4]float32 // offset  0
	EmissiveFactor  [4]float32 // offset 16: rgb used, w zero
	Workflow        uint32     // offset 32
	Textures        [5]uint32  // offset 36: texture indices in TextureSlot order, NotPresent when unset
	MetallicFactor  float32    // offset 56
	RoughnessFactor float32    // offset 60
	AlphaMask       uint32     // offset 64: 1 when fragments below AlphaMaskCutoff are discarded
	AlphaMaskCutoff float32    // offset 68
	_               [2]uint32  // offset 72: padding to 80
}

// Size returns the size of the GPUMaterial struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUMaterial) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUMaterial struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 80-byte buffer ready for GPU upload.
func (g *GPUMaterial) Marshal() []byte {
	buf := make([]byte, 80)
	g.MarshalInto(buf)
	return buf
}

// MarshalInto writes the record into buf, which must hold at least 80 bytes. The padding bytes are zeroed.
//
// Parameters:
//   - buf: the destination
func (g *GPUMaterial) MarshalInto(buf []byte) {
	le := binary.LittleEndian
	for i := range 4 {
		le.PutUint32(buf[i*4:], math.Float32bits(g.BaseColorFactor[i]))
		le.PutUint32(buf[16+i*4:], math.Float32bits(g.EmissiveFactor[i]))
	}
	le.PutUint32(buf[32:], g.Workflow)
	for i, tex := range g.Textures {
		le.PutUint32(buf[36+i*4:], tex)
	}
	le.PutUint32(buf[56:], math.Float32bits(g.MetallicFactor))
	le.PutUint32(buf[60:], math.Float32bits(g.RoughnessFactor))
	le.PutUint32(buf[64:], g.AlphaMask)
	le.PutUint32(buf[68:], math.Float32bits(g.AlphaMaskCutoff))
	clear(buf[72:80])
}
