package frame

import (
	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/Carmen-Shannon/oxy-vr/engine/camera"
	"github.com/Carmen-Shannon/oxy-vr/engine/cull"
	"github.com/Carmen-Shannon/oxy-vr/engine/model"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/material"
)

// Bucket is a contiguous range of draw records that share a render pipeline and material workflow. One
// indirect multi-draw is issued per bucket.
type Bucket struct {
	PipelineKey string
	Workflow    material.Workflow
	First       uint32
	Count       uint32
}

// Fallbacks counts the references that could not be resolved while building a frame.
type Fallbacks struct {
	// Materials counts draws whose material was absent, stale or invalid and fell back to the error material.
	Materials int

	// Meshes counts entities whose mesh handle was stale and were replaced by the error mesh.
	Meshes int

	// Skins counts skin handles that did not resolve and were dropped.
	Skins int

	// Pipelines counts draws whose bucket named an unregistered pipeline and were drawn with the stereo pipeline.
	// It is filled in by the renderer, not the Assembler.
	Pipelines int
}

// Total returns the number of fallbacks of every kind.
func (f Fallbacks) Total() int {
	return f.Materials + f.Meshes + f.Skins + f.Pipelines
}

// FrameBuffers is the CPU-side content of every per-frame GPU buffer. The slices are owned by the Assembler
// and rewritten by its next Assemble call.
type FrameBuffers struct {
	DrawRecords  []cull.GPUDrawRecord
	DrawCommands []cull.GPUDrawCommand
	Buckets      []Bucket

	// JointBlocks holds one block per unique skin drawn this frame; SkinHandles maps each block back to its skin.
	JointBlocks []model.GPUJointBlock
	SkinHandles []common.SkinHandle

	Materials       []material.GPUMaterial
	MaterialVersion uint64

	CullParams cull.GPUCullParams
	SceneData  camera.GPUSceneData

	// Lights is the number of light slots in SceneData holding a light.
	Lights int

	Fallbacks Fallbacks
}

// DrawCount returns the number of draw records.
func (b *FrameBuffers) DrawCount() uint32 {
	return uint32(len(b.DrawRecords))
}

// Clone returns a deep copy that stays valid after the next Assemble call.
//
// Returns:
//   - *FrameBuffers: the copy
func (b *FrameBuffers) Clone() *FrameBuffers {
	c := *b
	c.DrawRecords = append([]cull.GPUDrawRecord(nil), b.DrawRecords...)
	c.DrawCommands = append([]cull.GPUDrawCommand(nil), b.DrawCommands...)
	c.Buckets = append([]Bucket(nil), b.Buckets...)
	c.JointBlocks = append([]model.GPUJointBlock(nil), b.JointBlocks...)
	c.SkinHandles = append([]common.SkinHandle(nil), b.SkinHandles...)
	c.Materials = append([]material.GPUMaterial(nil), b.Materials...)
	return &c
}

func (b *FrameBuffers) reset() {
	b.DrawRecords = b.DrawRecords[:0]
	b.DrawCommands = b.DrawCommands[:0]
	b.Buckets = b.Buckets[:0]
	b.JointBlocks = b.JointBlocks[:0]
	b.SkinHandles = b.SkinHandles[:0]
	b.Lights = 0
	b.Fallbacks = Fallbacks{}
}
