package renderer

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-vr/engine/frame"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/pipeline"
)

// PipelineLookup resolves a bucket's pipeline key to a registered render pipeline.
type PipelineLookup func(key string) (pipeline.Pipeline, bool)

// DispatchBuckets issues one indexed-indirect multi-draw per non-empty bucket. Bucket b draws the commands
// [b.First, b.First+b.Count) of the command buffer; bind groups are set, in group order, after each
// pipeline change.
//
// Parameters:
//   - pass: the open render pass, with vertex and index buffers already set
//   - lookup: resolves bucket pipeline keys
//   - buckets: the frame's buckets
//   - commands: the DrawCommand buffer the culling stage wrote
//   - bindGroups: the bind groups to set, indexed by group
//
// Returns:
//   - int: the number of multi-draws issued
//   - error: wrapping device.ErrUnknownPipeline if a bucket names an unregistered pipeline
func DispatchBuckets(pass device.RenderPass, lookup PipelineLookup, buckets []frame.Bucket, commands device.Buffer,
	bindGroups ...device.BindGroup) (int, error) {
	issued := 0
	var current pipeline.Pipeline
	for _, b := range buckets {
		if b.Count == 0 {
			continue
		}
		p, ok := lookup(b.PipelineKey)
		if !ok || p.Type() != pipeline.PipelineTypeRender {
			return issued, fmt.Errorf("%w: bucket pipeline %q", device.ErrUnknownPipeline, b.PipelineKey)
		}
		if p != current {
			pass.SetPipeline(p)
			for group, bg := range bindGroups {
				pass.SetBindGroup(uint32(group), bg)
			}
			current = p
		}
		pass.MultiDrawIndexedIndirect(commands, uint64(b.First)*device.DrawIndexedIndirectSize, b.Count)
		issued++
	}
	return issued, nil
}
