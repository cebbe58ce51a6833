package frame_sync

import (
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/device"
)

// BufferKind names one of the per-frame GPU buffers a FrameSlot owns.
type BufferKind int

const (
	BufferDrawRecords BufferKind = iota
	BufferDrawCommands
	BufferMaterials
	BufferSkins
	BufferCullParams
	BufferSceneData
	BufferLeftView
	BufferRightView

	// BufferKindCount is the number of buffer kinds.
	BufferKindCount
)

var bufferKindNames = [BufferKindCount]string{
	"draw_records",
	"draw_commands",
	"materials",
	"skins",
	"cull_params",
	"scene_data",
	"left_view",
	"right_view",
}

func (k BufferKind) String() string {
	if k < 0 || k >= BufferKindCount {
		return "unknown"
	}
	return bufferKindNames[k]
}

// Usage returns the usage flags buffers of this kind are created with. Every kind is host-written.
//
// Returns:
//   - device.BufferUsage: the usage flags
func (k BufferKind) Usage() device.BufferUsage {
	base := device.BufferUsageCopyDst | device.BufferUsageHostWrite
	switch k {
	case BufferDrawCommands:
		return base | device.BufferUsageStorage | device.BufferUsageIndirect
	case BufferCullParams, BufferSceneData, BufferLeftView, BufferRightView:
		return base | device.BufferUsageUniform
	default:
		return base | device.BufferUsageStorage
	}
}
