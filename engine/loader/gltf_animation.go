package loader

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-vr/engine/model"
	"github.com/go-gl/mathgl/mgl32"
)

// extractClip converts the channels of a glTF animation that target bones of one skeleton. ok is false when
// no channel animates the skeleton. Morph target weights are skipped. Cubic spline samplers keep only their
// value keys and play back linearly.
func (d *document) extractClip(animIndex int, mapping skinMapping) (clip model.AnimationClip, ok bool, err error) {
	anim := d.Animations[animIndex]
	clip.Name = anim.Name
	if clip.Name == "" {
		clip.Name = fmt.Sprintf("animation_%d", animIndex)
	}

	channels := map[int]*model.AnimationChannel{}
	var order []int
	for ci, ch := range anim.Channels {
		if ch.Target.Node == nil || ch.Target.Path == "weights" {
			continue
		}
		bone, found := mapping.nodeToBone[*ch.Target.Node]
		if !found {
			continue
		}
		if ch.Sampler < 0 || ch.Sampler >= len(anim.Samplers) {
			return clip, false, fmt.Errorf("%w: animation %s channel %d sampler %d", ErrInvalidAsset, clip.Name, ci, ch.Sampler)
		}
		sampler := anim.Samplers[ch.Sampler]

		times, err := d.floats(sampler.Input, "SCALAR")
		if err != nil {
			return clip, false, fmt.Errorf("animation %s channel %d input: %w", clip.Name, ci, err)
		}
		outType := "VEC3"
		if ch.Target.Path == "rotation" {
			outType = "VEC4"
		}
		values, err := d.floats(sampler.Output, outType)
		if err != nil {
			return clip, false, fmt.Errorf("animation %s channel %d output: %w", clip.Name, ci, err)
		}
		comps := gltfComponentCounts[outType]
		stride, offset := comps, 0
		if sampler.Interpolation == "CUBICSPLINE" {
			stride, offset = comps*3, comps
		}
		if len(values) < len(times)*stride {
			return clip, false, fmt.Errorf("%w: animation %s channel %d has %d keys for %d times", ErrInvalidAsset, clip.Name, ci, len(values)/stride, len(times))
		}

		target := channels[bone]
		if target == nil {
			target = &model.AnimationChannel{Bone: bone}
			channels[bone] = target
			order = append(order, bone)
		}
		for k, t := range times {
			v := values[k*stride+offset:]
			switch ch.Target.Path {
			case "translation":
				target.Translations = append(target.Translations, model.VectorKeyframe{Time: t, Value: mgl32.Vec3{v[0], v[1], v[2]}})
			case "scale":
				target.Scales = append(target.Scales, model.VectorKeyframe{Time: t, Value: mgl32.Vec3{v[0], v[1], v[2]}})
			case "rotation":
				q := mgl32.Quat{W: v[3], V: mgl32.Vec3{v[0], v[1], v[2]}}.Normalize()
				target.Rotations = append(target.Rotations, model.QuaternionKeyframe{Time: t, Value: q})
			default:
				return clip, false, fmt.Errorf("%w: animation %s target path %q", ErrInvalidAsset, clip.Name, ch.Target.Path)
			}
			clip.Duration = max(clip.Duration, t)
		}
	}
	if len(order) == 0 {
		return clip, false, nil
	}
	for _, bone := range order {
		clip.Channels = append(clip.Channels, *channels[bone])
	}
	return clip, true, nil
}
