package animator

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/Carmen-Shannon/oxy-vr/engine/model"
	"github.com/Carmen-Shannon/oxy-vr/engine/resources"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
)

var (
	// ErrUnknownClip is returned when playback references a clip that was never added.
	ErrUnknownClip = errors.New("unknown animation clip")

	// ErrSkinTooSmall is returned when a skin has fewer joints than the skeleton has bones.
	ErrSkinTooSmall = errors.New("skin has fewer joints than the skeleton")
)

// instanceState holds the playback state of one animated skin.
type instanceState struct {
	skin      common.SkinHandle
	clipIndex uint32
	playing   bool

	time, speed                 float32
	loop, blending              bool
	blendTo                     uint32
	blendToTime                 float32
	blendDuration, blendElapsed float32

	// scratch, sized to the skeleton
	local, target []common.Transform
	global        []mgl32.Mat4
	joints        []mgl32.Mat4
}

// animator is the implementation of the Animator interface.
type animator struct {
	mu     *sync.Mutex
	logger *zap.Logger

	skeleton *model.Skeleton
	tables   resources.Tables
	pool     worker.DynamicWorkerPool
	batch    int

	clips     []*compiledClip
	instances []*instanceState
}

// Animator evaluates skeletal animation for every skin sharing one skeleton. Each frame it advances playback,
// samples the clips, composes the joint matrices and replaces the joints of each skin in the resource tables.
// Instances are evaluated in parallel on a worker pool when one is configured.
//
// Usage pattern:
//  1. NewAnimator(skeleton, tables, WithWorkerPool(pool))
//  2. AddClip for every clip, AddInstance for every skin
//  3. PlayAnimation / BlendToAnimation as gameplay demands
//  4. Update(deltaTime) once per frame before frame assembly
type Animator interface {
	// Skeleton returns the skeleton every instance shares.
	//
	// Returns:
	//   - *model.Skeleton: the skeleton
	Skeleton() *model.Skeleton

	// AddClip adds an animation clip.
	//
	// Parameters:
	//   - clip: the clip, whose channels address bones of the skeleton
	//
	// Returns:
	//   - uint32: the clip index
	AddClip(clip model.AnimationClip) uint32

	// ClipCount returns the number of clips.
	ClipCount() int

	// AddInstance registers a skin to animate. The skin starts in the rest pose.
	//
	// Parameters:
	//   - skin: a registered skin with at least one joint per bone
	//
	// Returns:
	//   - uint32: the instance index
	//   - error: resources.ErrStaleHandle or ErrSkinTooSmall
	AddInstance(skin common.SkinHandle) (uint32, error)

	// RemoveInstance removes an instance using swap-remove.
	//
	// Parameters:
	//   - index: the instance index to remove
	//
	// Returns:
	//   - uint32: the old last index that was moved into index (only meaningful when bool is true)
	//   - bool: true if the last instance was moved into the removed slot
	RemoveInstance(index uint32) (uint32, bool)

	// InstanceCount returns the number of instances.
	InstanceCount() uint32

	// Skin returns the skin an instance drives.
	Skin(index uint32) common.SkinHandle

	// PlayAnimation starts a clip from the beginning at normal speed, cancelling any blend.
	//
	// Parameters:
	//   - index: the instance index
	//   - clip: the clip index
	//   - loop: wrap playback at the clip's end
	//
	// Returns:
	//   - error: ErrUnknownClip
	PlayAnimation(index, clip uint32, loop bool) error

	// BlendToAnimation cross-fades from the current clip to another over a duration.
	//
	// Parameters:
	//   - index: the instance index
	//   - clip: the target clip index
	//   - duration: the blend duration in seconds; zero or less switches immediately
	//
	// Returns:
	//   - error: ErrUnknownClip
	BlendToAnimation(index, clip uint32, duration float32) error

	// SetAnimationTime seeks the current clip.
	SetAnimationTime(index uint32, time float32)

	// SetAnimationSpeed scales the playback rate.
	SetAnimationSpeed(index uint32, speed float32)

	// AnimationTime returns the playback position of the current clip.
	AnimationTime(index uint32) float32

	// IsBlending reports whether an instance is cross-fading.
	IsBlending(index uint32) bool

	// BlendProgress returns the cross-fade progress in [0, 1), 0 when not blending.
	BlendProgress(index uint32) float32

	// CancelBlend stops a cross-fade, keeping the current clip.
	CancelBlend(index uint32)

	// Update advances playback by deltaTime and writes the joints of every instance to the resource tables.
	// It returns after every instance has been written.
	//
	// Parameters:
	//   - deltaTime: elapsed time since the last update in seconds
	//
	// Returns:
	//   - error: the first skin write error
	Update(deltaTime float32) error
}

var _ Animator = &animator{}

// NewAnimator creates an Animator for one skeleton.
//
// Parameters:
//   - skeleton: the shared skeleton, validated here
//   - tables: the resource tables holding the skins
//   - options: functional options applied to the animator
//
// Returns:
//   - Animator: the animator
//   - error: model.ErrInvalidSkeleton
func NewAnimator(skeleton *model.Skeleton, tables resources.Tables, options ...AnimatorBuilderOption) (Animator, error) {
	if skeleton == nil {
		return nil, fmt.Errorf("%w: nil skeleton", model.ErrInvalidSkeleton)
	}
	if err := skeleton.Validate(); err != nil {
		return nil, err
	}
	a := &animator{
		mu:       &sync.Mutex{},
		logger:   zap.NewNop(),
		skeleton: skeleton,
		tables:   tables,
		batch:    16,
	}
	for _, opt := range options {
		opt(a)
	}
	return a, nil
}

func (a *animator) Skeleton() *model.Skeleton {
	return a.skeleton
}

func (a *animator) AddClip(clip model.AnimationClip) uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clips = append(a.clips, compileClip(clip, len(a.skeleton.Bones)))
	return uint32(len(a.clips) - 1)
}

func (a *animator) ClipCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.clips)
}

func (a *animator) AddInstance(skin common.SkinHandle) (uint32, error) {
	joints, err := a.tables.Skin(skin)
	if err != nil {
		return 0, err
	}
	bones := len(a.skeleton.Bones)
	if joints < bones {
		return 0, fmt.Errorf("%w: %d joints for %d bones", ErrSkinTooSmall, joints, bones)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.instances = append(a.instances, &instanceState{
		skin:   skin,
		speed:  1,
		local:  make([]common.Transform, bones),
		target: make([]common.Transform, bones),
		global: make([]mgl32.Mat4, bones),
		joints: make([]mgl32.Mat4, bones),
	})
	return uint32(len(a.instances) - 1), nil
}

func (a *animator) RemoveInstance(index uint32) (uint32, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := uint32(len(a.instances))
	if index >= n {
		return 0, false
	}
	last := n - 1
	a.instances[index] = a.instances[last]
	a.instances[last] = nil
	a.instances = a.instances[:last]
	return last, index != last
}

func (a *animator) InstanceCount() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return uint32(len(a.instances))
}

func (a *animator) Skin(index uint32) common.SkinHandle {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s := a.instance(index); s != nil {
		return s.skin
	}
	return common.SkinHandle{}
}

func (a *animator) PlayAnimation(index, clip uint32, loop bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if int(clip) >= len(a.clips) {
		return fmt.Errorf("%w: %d", ErrUnknownClip, clip)
	}
	s := a.instance(index)
	if s == nil {
		return nil
	}
	s.clipIndex = clip
	s.playing = true
	s.time = 0
	s.speed = 1
	s.loop = loop
	s.blending = false
	s.blendElapsed = 0
	return nil
}

func (a *animator) BlendToAnimation(index, clip uint32, duration float32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if int(clip) >= len(a.clips) {
		return fmt.Errorf("%w: %d", ErrUnknownClip, clip)
	}
	s := a.instance(index)
	if s == nil {
		return nil
	}
	if duration <= 0 || !s.playing {
		s.clipIndex = clip
		s.playing = true
		s.time = 0
		s.blending = false
		return nil
	}
	s.blending = true
	s.blendTo = clip
	s.blendToTime = 0
	s.blendDuration = duration
	s.blendElapsed = 0
	return nil
}

func (a *animator) SetAnimationTime(index uint32, time float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s := a.instance(index); s != nil {
		s.time = time
	}
}

func (a *animator) SetAnimationSpeed(index uint32, speed float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s := a.instance(index); s != nil {
		s.speed = speed
	}
}

func (a *animator) AnimationTime(index uint32) float32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s := a.instance(index); s != nil {
		return s.time
	}
	return 0
}

func (a *animator) IsBlending(index uint32) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.instance(index)
	return s != nil && s.blending
}

func (a *animator) BlendProgress(index uint32) float32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.instance(index)
	if s == nil || !s.blending {
		return 0
	}
	return s.blendElapsed / s.blendDuration
}

func (a *animator) CancelBlend(index uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s := a.instance(index); s != nil {
		s.blending = false
		s.blendElapsed = 0
	}
}

func (a *animator) Update(deltaTime float32) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, s := range a.instances {
		a.advance(s, deltaTime)
	}

	n := len(a.instances)
	if a.pool == nil || n <= a.batch {
		return a.evaluateRange(0, n)
	}

	// A WaitGroup gives a per-frame barrier; pool.Wait only returns once the pool is idle.
	var wg sync.WaitGroup
	errs := make([]error, 0, n/a.batch+1)
	var errMu sync.Mutex
	for start := 0; start < n; start += a.batch {
		end := min(start+a.batch, n)
		wg.Add(1)
		a.pool.SubmitTask(worker.Task{
			ID: start,
			Do: func() (any, error) {
				defer wg.Done()
				err := a.evaluateRange(start, end)
				if err != nil {
					errMu.Lock()
					errs = append(errs, err)
					errMu.Unlock()
				}
				return nil, err
			},
		})
	}
	wg.Wait()
	return errors.Join(errs...)
}

// advance moves playback forward and resolves finished blends. Must hold mu.
func (a *animator) advance(s *instanceState, deltaTime float32) {
	if !s.playing {
		return
	}
	s.time = a.wrap(s.clipIndex, s.time+deltaTime*s.speed, s.loop)
	if !s.blending {
		return
	}
	s.blendElapsed += deltaTime
	s.blendToTime = a.wrap(s.blendTo, s.blendToTime+deltaTime*s.speed, s.loop)
	if s.blendElapsed >= s.blendDuration {
		s.clipIndex = s.blendTo
		s.time = s.blendToTime
		s.blending = false
		s.blendElapsed = 0
	}
}

func (a *animator) wrap(clip uint32, t float32, loop bool) float32 {
	duration := a.clips[clip].duration
	if duration <= 0 {
		return 0
	}
	if loop {
		if t > duration || t < 0 {
			t = float32(math.Mod(float64(t), float64(duration)))
			if t < 0 {
				t += duration
			}
		}
		return t
	}
	return min(max(t, 0), duration)
}

// evaluateRange computes and writes the joints of instances [start, end). Each instance owns its scratch
// slices, so ranges run concurrently; clips and the skeleton are read-only during Update.
func (a *animator) evaluateRange(start, end int) error {
	for _, s := range a.instances[start:end] {
		switch {
		case !s.playing:
			for i, bone := range a.skeleton.Bones {
				s.local[i] = bone.Rest
			}
		case s.blending:
			a.clips[s.clipIndex].sampleInto(s.local, a.skeleton, s.time)
			a.clips[s.blendTo].sampleInto(s.target, a.skeleton, s.blendToTime)
			blendInto(s.local, s.target, s.blendElapsed/s.blendDuration)
		default:
			a.clips[s.clipIndex].sampleInto(s.local, a.skeleton, s.time)
		}
		jointMatrices(s.joints, s.global, a.skeleton, s.local)
		if err := a.tables.SetSkinJoints(s.skin, s.joints); err != nil {
			a.logger.Debug("skin update failed", zap.Stringer("skin", common.Handle(s.skin)), zap.Error(err))
			return fmt.Errorf("skin %s: %w", common.Handle(s.skin), err)
		}
	}
	return nil
}

// instance returns the state at index or nil. Must hold mu.
func (a *animator) instance(index uint32) *instanceState {
	if int(index) >= len(a.instances) {
		return nil
	}
	return a.instances[index]
}
