package model

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/go-gl/mathgl/mgl32"
)

// ErrInvalidSkeleton is returned when a bone hierarchy is not ordered parent-before-child or exceeds MaxJoints.
var ErrInvalidSkeleton = errors.New("invalid skeleton")

// --- Skeleton Types ---

// Bone is a single joint in a skeleton hierarchy.
type Bone struct {
	// Name is the joint identifier used by animation channels.
	Name string

	// Parent is the index of the parent bone, -1 for roots. Parents always precede their children.
	Parent int

	// InverseBind transforms from mesh space to joint space at bind pose.
	InverseBind mgl32.Mat4

	// Rest is the joint transform relative to its parent when no channel animates it.
	Rest common.Transform
}

// Skeleton is an ordered bone hierarchy.
type Skeleton struct {
	Bones []Bone
}

// Validate checks that the hierarchy is topologically ordered and fits in one joint block.
//
// Returns:
//   - error: wrapping ErrInvalidSkeleton on failure
func (s *Skeleton) Validate() error {
	if len(s.Bones) > MaxJoints {
		return fmt.Errorf("%w: %d bones exceeds %d", ErrInvalidSkeleton, len(s.Bones), MaxJoints)
	}
	for i, b := range s.Bones {
		if b.Parent >= i || b.Parent < -1 {
			return fmt.Errorf("%w: bone %d (%s) has parent %d", ErrInvalidSkeleton, i, b.Name, b.Parent)
		}
	}
	return nil
}

// BoneIndex finds a bone by name.
//
// Parameters:
//   - name: the bone name
//
// Returns:
//   - int: the bone index, -1 if absent
func (s *Skeleton) BoneIndex(name string) int {
	for i, b := range s.Bones {
		if b.Name == name {
			return i
		}
	}
	return -1
}

// --- Animation Types ---

// AnimationClip is a named set of keyframe channels (walk, run, wave).
type AnimationClip struct {
	Name     string
	Duration float32
	Channels []AnimationChannel
}

// AnimationChannel holds the keyframes for a single bone. Keys are sorted by time; an empty key list leaves
// that component at the bone's rest value.
type AnimationChannel struct {
	Bone         int
	Translations []VectorKeyframe
	Rotations    []QuaternionKeyframe
	Scales       []VectorKeyframe
}

// VectorKeyframe stores a translation or scale at a time in seconds.
type VectorKeyframe struct {
	Time  float32
	Value mgl32.Vec3
}

// QuaternionKeyframe stores a rotation at a time in seconds.
type QuaternionKeyframe struct {
	Time  float32
	Value mgl32.Quat
}
