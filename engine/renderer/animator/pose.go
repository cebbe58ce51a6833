package animator

import (
	"sort"

	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/Carmen-Shannon/oxy-vr/engine/model"
	"github.com/go-gl/mathgl/mgl32"
)

// compiledClip indexes a clip's channels by bone so sampling does not search per frame.
type compiledClip struct {
	name     string
	duration float32
	channels []*model.AnimationChannel // indexed by bone, nil for bones the clip does not animate
}

func compileClip(clip model.AnimationClip, boneCount int) *compiledClip {
	c := &compiledClip{
		name:     clip.Name,
		duration: clip.Duration,
		channels: make([]*model.AnimationChannel, boneCount),
	}
	for i := range clip.Channels {
		ch := &clip.Channels[i]
		if ch.Bone >= 0 && ch.Bone < boneCount {
			c.channels[ch.Bone] = ch
		}
	}
	return c
}

// sampleInto writes the local transform of every bone at time t. Bones without a channel, or channel
// components without keyframes, keep their rest values.
func (c *compiledClip) sampleInto(dst []common.Transform, skeleton *model.Skeleton, t float32) {
	for i, bone := range skeleton.Bones {
		local := bone.Rest
		if ch := c.channels[i]; ch != nil {
			if len(ch.Translations) > 0 {
				local.Translation = sampleVector(ch.Translations, t)
			}
			if len(ch.Rotations) > 0 {
				local.Rotation = sampleQuaternion(ch.Rotations, t)
			}
			if len(ch.Scales) > 0 {
				local.Scale = sampleVector(ch.Scales, t)
			}
		}
		dst[i] = local
	}
}

// keyframeSpan finds the keyframes around t and the interpolation factor between them. Times before the
// first or after the last keyframe clamp to it.
func keyframeSpan(n int, timeAt func(int) float32, t float32) (int, int, float32) {
	if n == 1 || t <= timeAt(0) {
		return 0, 0, 0
	}
	if t >= timeAt(n-1) {
		return n - 1, n - 1, 0
	}
	next := sort.Search(n, func(i int) bool { return timeAt(i) > t })
	prev := next - 1
	span := timeAt(next) - timeAt(prev)
	if span <= 0 {
		return next, next, 0
	}
	return prev, next, (t - timeAt(prev)) / span
}

func sampleVector(keys []model.VectorKeyframe, t float32) mgl32.Vec3 {
	a, b, f := keyframeSpan(len(keys), func(i int) float32 { return keys[i].Time }, t)
	if a == b {
		return keys[a].Value
	}
	return lerp3(keys[a].Value, keys[b].Value, f)
}

func sampleQuaternion(keys []model.QuaternionKeyframe, t float32) mgl32.Quat {
	a, b, f := keyframeSpan(len(keys), func(i int) float32 { return keys[i].Time }, t)
	if a == b {
		return keys[a].Value.Normalize()
	}
	return mgl32.QuatSlerp(keys[a].Value.Normalize(), keys[b].Value.Normalize(), f)
}

func lerp3(a, b mgl32.Vec3, f float32) mgl32.Vec3 {
	return a.Add(b.Sub(a).Mul(f))
}

// blendInto mixes two local poses, weight 0 keeping a and 1 giving b.
func blendInto(a, b []common.Transform, weight float32) {
	for i := range a {
		a[i].Translation = lerp3(a[i].Translation, b[i].Translation, weight)
		a[i].Rotation = mgl32.QuatSlerp(a[i].Rotation, b[i].Rotation, weight)
		a[i].Scale = lerp3(a[i].Scale, b[i].Scale, weight)
	}
}

// jointMatrices composes the local pose down the hierarchy and applies the inverse bind matrices. Parents
// always precede their children, which model.Skeleton.Validate guarantees.
func jointMatrices(dst []mgl32.Mat4, global []mgl32.Mat4, skeleton *model.Skeleton, local []common.Transform) {
	for i, bone := range skeleton.Bones {
		m := local[i].Matrix()
		if bone.Parent >= 0 {
			m = global[bone.Parent].Mul4(m)
		}
		global[i] = m
		dst[i] = m.Mul4(bone.InverseBind)
	}
}
