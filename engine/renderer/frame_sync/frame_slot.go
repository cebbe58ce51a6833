package frame_sync

import (
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/device"
)

// FrameSlot is one of the N copies of the per-frame buffers. Between BeginFrame and SubmitFrame (or
// DiscardFrame) its staging memory belongs to the caller; nothing reaches the GPU until SubmitFrame.
type FrameSlot struct {
	owner *synchronizer
	index int

	frame uint64
	open  bool
	fence device.Fence

	buffers  [BufferKindCount]device.Buffer
	staging  [BufferKindCount][]byte
	staged   [BufferKindCount]bool
	versions [BufferKindCount]uint64
	pending  [BufferKindCount]uint64
}

// Index returns the slot number, frameIndex mod N.
func (s *FrameSlot) Index() int {
	return s.index
}

// Frame returns the frame index the slot was last begun for.
func (s *FrameSlot) Frame() uint64 {
	return s.frame
}

// Buffer returns the GPU buffer of a kind. The buffer may change identity when Stage grows it, so callers
// fetch it after staging.
//
// Parameters:
//   - kind: the buffer kind
//
// Returns:
//   - device.Buffer: the slot's buffer
func (s *FrameSlot) Buffer(kind BufferKind) device.Buffer {
	s.owner.mu.Lock()
	defer s.owner.mu.Unlock()
	return s.buffers[kind]
}

// Stage returns size bytes of writable staging memory for a kind. The returned slice is uploaded at
// SubmitFrame. A payload larger than the buffer grows the buffer of this slot immediately and of every
// other slot at its next BeginFrame.
//
// Parameters:
//   - kind: the buffer kind
//   - size: the payload size in bytes
//
// Returns:
//   - []byte: the staging memory, valid until SubmitFrame or DiscardFrame
//   - error: ErrFrameNotBegun if the slot is not open, or a buffer creation error
func (s *FrameSlot) Stage(kind BufferKind, size int) ([]byte, error) {
	return s.owner.stage(s, kind, size, 0)
}

// StageVersion is Stage for content that changes rarely. It returns nil when this slot's buffer already
// holds version, so the caller can skip rebuilding the payload. Version 0 is never considered current.
//
// Parameters:
//   - kind: the buffer kind
//   - version: the content version
//   - size: the payload size in bytes
//
// Returns:
//   - []byte: the staging memory, or nil if the buffer is current
//   - error: ErrFrameNotBegun if the slot is not open, or a buffer creation error
func (s *FrameSlot) StageVersion(kind BufferKind, version uint64, size int) ([]byte, error) {
	return s.owner.stage(s, kind, size, version)
}
