package cull

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/pipeline"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/shader"
)

// PipelineKey identifies the culling compute pipeline.
const PipelineKey = "cull"

// WorkgroupSize is the number of draw records one workgroup tests.
const WorkgroupSize = 64

// Bindings of the culling stage, all in group 0.
const (
	BindingParams   uint32 = 0
	BindingRecords  uint32 = 1
	BindingCommands uint32 = 2
)

//go:embed assets/cull.wgsl
var cullBody string

// Source is the complete WGSL of the culling stage: the shared struct definitions followed by the kernel.
var Source = GPUCullParamsSource + "\n" + GPUDrawRecordSource + "\n" + GPUDrawCommandSource + "\n" + cullBody

// NewPipeline compiles the culling shader and describes its compute pipeline.
//
// Returns:
//   - pipeline.Pipeline: the unregistered pipeline
//   - error: an error if the shader fails to compile
func NewPipeline() (pipeline.Pipeline, error) {
	s, err := shader.NewShader(PipelineKey, shader.ShaderTypeCompute, Source)
	if err != nil {
		return nil, fmt.Errorf("failed to compile culling shader: %w", err)
	}
	return pipeline.NewPipeline(PipelineKey, pipeline.PipelineTypeCompute, pipeline.WithComputeShader(s)), nil
}

// SphereVisible is the visibility rule the culling stage applies: a sphere is drawn when it is not fully
// outside any side plane of at least one eye. Spheres with a zero, negative or NaN radius are never drawn.
//
// Parameters:
//   - planes: the side planes of each eye
//   - s: the world-space bounding sphere
//
// Returns:
//   - bool: true if the sphere is visible to either eye
func SphereVisible(planes [common.ViewCount][4]common.Plane, s common.Sphere) bool {
	if !validRadius(s.Radius) {
		return false
	}
	for _, eye := range planes {
		if !outside(eye, s) {
			return true
		}
	}
	return false
}

func outside(planes [4]common.Plane, s common.Sphere) bool {
	for _, p := range planes {
		if p.SignedDistance(s.Center) < -s.Radius {
			return true
		}
	}
	return false
}

// validRadius mirrors the shader's bit test: positive, non-zero and not NaN.
func validRadius(r float32) bool {
	bits := math.Float32bits(r)
	return bits != 0 && bits <= 0x7f800000
}

// Kernel is the CPU implementation of the culling stage for the software device. It reads the bound
// CullParams and DrawRecords and writes only the instanceCount of each DrawCommand.
//
// Parameters:
//   - bindings: the bound buffer memory
//   - workgroups: the dispatch size
//
// Returns:
//   - error: an error if a binding is missing or too small for draw_count
func Kernel(bindings map[device.BindingSlot][]byte, workgroups [3]uint32) error {
	paramsBuf, ok := bindings[device.BindingSlot{Group: 0, Binding: BindingParams}]
	if !ok || len(paramsBuf) < CullParamsSize {
		return fmt.Errorf("cull params not bound")
	}
	records := bindings[device.BindingSlot{Group: 0, Binding: BindingRecords}]
	commands := bindings[device.BindingSlot{Group: 0, Binding: BindingCommands}]

	params := unmarshalCullParams(paramsBuf)
	invocations := uint64(workgroups[0]) * WorkgroupSize
	count := min(uint64(params.DrawCount), invocations)
	if uint64(len(records)) < count*DrawRecordSize || uint64(len(commands)) < count*DrawCommandSize {
		return fmt.Errorf("draw buffers too small for %d draws", count)
	}

	var planes [common.ViewCount][4]common.Plane
	for i := range 4 {
		planes[0][i] = planeFromVec4(params.LeftPlanes[i])
		planes[1][i] = planeFromVec4(params.RightPlanes[i])
	}

	for i := range count {
		sphere := getFloats4(records[i*DrawRecordSize+128:])
		s := common.Sphere{Center: [3]float32{sphere[0], sphere[1], sphere[2]}, Radius: sphere[3]}
		var instances uint32
		if SphereVisible(planes, s) {
			instances = 1
		}
		binary.LittleEndian.PutUint32(commands[i*DrawCommandSize+4:], instances)
	}
	return nil
}

func planeFromVec4(v [4]float32) common.Plane {
	return common.Plane{Normal: [3]float32{v[0], v[1], v[2]}, Distance: v[3]}
}
