package frame_sync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/device"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrSlotBusy is returned when a slot is begun while an earlier frame on it is still open.
	ErrSlotBusy = errors.New("frame slot is still open")

	// ErrFrameNotBegun is returned when a frame is staged, submitted or discarded without being begun.
	ErrFrameNotBegun = errors.New("frame was not begun")

	// ErrFrameOrder is returned when frame indices do not increase.
	ErrFrameOrder = errors.New("frame index is not increasing")

	// ErrInvalidFramesInFlight is returned for a frames-in-flight count outside 1..MaxFramesInFlight.
	ErrInvalidFramesInFlight = errors.New("invalid frames in flight")
)

// MaxFramesInFlight bounds the number of buffer copies.
const MaxFramesInFlight = 4

// DefaultFramesInFlight is the number of buffer copies when none is configured.
const DefaultFramesInFlight = 2

type retired struct {
	res device.Resource

	// until is the newest frame begun when the resource was retired; it is released once every frame up to
	// and including it has completed or been discarded.
	until uint64
	any   bool
}

// synchronizer is the implementation of the Synchronizer interface.
type synchronizer struct {
	mu     *sync.Mutex
	dev    device.Device
	logger *zap.Logger

	slots      []*FrameSlot
	capacities [BufferKindCount]uint64

	begun     bool
	lastBegun uint64
	retired   []retired
}

// Synchronizer owns N copies of every per-frame buffer and hands them out so the CPU never writes memory a
// previous submission may still read. Frame i uses slot i mod N; beginning a frame waits on the fence of the
// frame that last used the slot.
//
// Usage pattern:
//  1. BeginFrame(ctx, i) and stage the frame's data into the returned slot
//  2. Record passes against slot.Buffer(kind)
//  3. SubmitFrame(i, encoder), or DiscardFrame(i) to drop the frame
type Synchronizer interface {
	// FramesInFlight returns N, the number of slots.
	FramesInFlight() int

	// BeginFrame waits for the slot of frameIndex to leave the GPU, releases retired resources whose frames
	// have completed, re-creates any buffer of the slot that was grown, and opens the slot for staging.
	//
	// Parameters:
	//   - ctx: bounds the fence wait
	//   - frameIndex: the frame number, strictly increasing
	//
	// Returns:
	//   - *FrameSlot: the open slot
	//   - error: ErrFrameOrder, ErrSlotBusy, ctx.Err() or a buffer creation error
	BeginFrame(ctx context.Context, frameIndex uint64) (*FrameSlot, error)

	// SubmitFrame uploads the staged data of the frame, submits the encoder and records its fence.
	//
	// Parameters:
	//   - frameIndex: the frame begun earlier
	//   - enc: the encoder holding the frame's passes
	//
	// Returns:
	//   - device.Fence: the submission fence
	//   - error: ErrFrameNotBegun, or an upload or submission error (the slot is closed either way)
	SubmitFrame(frameIndex uint64, enc device.CommandEncoder) (device.Fence, error)

	// DiscardFrame closes the frame without uploading or submitting anything.
	//
	// Parameters:
	//   - frameIndex: the frame begun earlier
	//
	// Returns:
	//   - error: ErrFrameNotBegun
	DiscardFrame(frameIndex uint64) error

	// Grow raises the capacity of a buffer kind in every slot. Open slots are re-created immediately, the
	// others at their next BeginFrame, after their fence has signalled.
	//
	// Parameters:
	//   - kind: the buffer kind
	//   - size: the minimum capacity in bytes
	//
	// Returns:
	//   - error: a buffer creation error
	Grow(kind BufferKind, size uint64) error

	// Capacity returns the current capacity of a buffer kind.
	Capacity(kind BufferKind) uint64

	// Retire releases res once every frame begun so far has completed.
	Retire(res device.Resource)

	// PendingRetirements returns the number of retired resources not yet released.
	PendingRetirements() int

	// WaitIdle waits for every slot's fence concurrently, then releases all retired resources.
	//
	// Parameters:
	//   - ctx: bounds the wait
	//
	// Returns:
	//   - error: ctx.Err() if the wait was cut short
	WaitIdle(ctx context.Context) error

	// Release frees every slot buffer and retired resource. Callers WaitIdle first.
	Release()
}

var _ Synchronizer = &synchronizer{}

// NewSynchronizer creates the slots and their buffers.
//
// Parameters:
//   - dev: the device buffers are created on
//   - options: functional options applied to the synchronizer
//
// Returns:
//   - Synchronizer: the synchronizer
//   - error: ErrInvalidFramesInFlight or a buffer creation error
func NewSynchronizer(dev device.Device, options ...SynchronizerBuilderOption) (Synchronizer, error) {
	cfg := newSynchronizerConfig()
	for _, opt := range options {
		opt(cfg)
	}
	if cfg.framesInFlight < 1 || cfg.framesInFlight > MaxFramesInFlight {
		return nil, fmt.Errorf("%w: %d (want 1..%d)", ErrInvalidFramesInFlight, cfg.framesInFlight, MaxFramesInFlight)
	}

	s := &synchronizer{
		mu:         &sync.Mutex{},
		dev:        dev,
		logger:     cfg.logger.Named("frame_sync"),
		capacities: cfg.capacities,
	}
	for i := range cfg.framesInFlight {
		slot := &FrameSlot{owner: s, index: i}
		for kind := range BufferKindCount {
			if err := s.recreate(slot, kind); err != nil {
				s.Release()
				return nil, err
			}
		}
		s.slots = append(s.slots, slot)
	}
	return s, nil
}

func (s *synchronizer) FramesInFlight() int {
	return len(s.slots)
}

func (s *synchronizer) BeginFrame(ctx context.Context, frameIndex uint64) (*FrameSlot, error) {
	s.mu.Lock()
	if s.begun && frameIndex <= s.lastBegun {
		last := s.lastBegun
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %d after %d", ErrFrameOrder, frameIndex, last)
	}
	slot := s.slots[frameIndex%uint64(len(s.slots))]
	if slot.open {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: slot %d holds frame %d", ErrSlotBusy, slot.index, slot.frame)
	}
	fence := slot.fence
	s.mu.Unlock()

	if err := s.dev.Wait(ctx, fence); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if slot.open || (s.begun && frameIndex <= s.lastBegun) {
		return nil, fmt.Errorf("%w: slot %d was taken while waiting", ErrSlotBusy, slot.index)
	}
	slot.fence = nil
	s.sweep()

	for kind := range BufferKindCount {
		if slot.buffers[kind].Size() < s.capacities[kind] {
			if err := s.recreate(slot, kind); err != nil {
				return nil, err
			}
		}
	}

	slot.frame = frameIndex
	slot.open = true
	slot.staged = [BufferKindCount]bool{}
	s.begun = true
	s.lastBegun = frameIndex
	return slot, nil
}

func (s *synchronizer) SubmitFrame(frameIndex uint64, enc device.CommandEncoder) (device.Fence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, err := s.openSlot(frameIndex)
	if err != nil {
		return nil, err
	}
	slot.open = false

	writes := make([]bind_group_provider.BufferWrite, 0, BufferKindCount)
	for kind := range BufferKindCount {
		if slot.staged[kind] {
			writes = append(writes, bind_group_provider.BufferWrite{Buffer: slot.buffers[kind], Data: slot.staging[kind]})
		}
	}
	if err := bind_group_provider.FlushWrites(s.dev, writes); err != nil {
		enc.Release()
		return nil, fmt.Errorf("frame %d upload: %w", frameIndex, err)
	}
	for kind := range BufferKindCount {
		if slot.staged[kind] {
			slot.versions[kind] = slot.pending[kind]
		}
	}

	fence, err := s.dev.Submit(enc)
	if err != nil {
		return nil, fmt.Errorf("frame %d submit: %w", frameIndex, err)
	}
	slot.fence = fence
	return fence, nil
}

func (s *synchronizer) DiscardFrame(frameIndex uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, err := s.openSlot(frameIndex)
	if err != nil {
		return err
	}
	slot.open = false
	slot.staged = [BufferKindCount]bool{}
	s.logger.Debug("frame discarded", zap.Uint64("frame", frameIndex))
	return nil
}

func (s *synchronizer) Grow(kind BufferKind, size uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grow(kind, size)
}

func (s *synchronizer) Capacity(kind BufferKind) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacities[kind]
}

func (s *synchronizer) Retire(res device.Resource) {
	if res == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retired = append(s.retired, retired{res: res, until: s.lastBegun, any: s.begun})
	s.sweep()
}

func (s *synchronizer) PendingRetirements() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.retired)
}

func (s *synchronizer) WaitIdle(ctx context.Context) error {
	s.mu.Lock()
	fences := make([]device.Fence, 0, len(s.slots))
	for _, slot := range s.slots {
		if slot.fence != nil {
			fences = append(fences, slot.fence)
		}
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, f := range fences {
		g.Go(func() error {
			return s.dev.Wait(gctx, f)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep()
	return nil
}

func (s *synchronizer) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, slot := range s.slots {
		for kind, buf := range slot.buffers {
			if buf != nil {
				buf.Release()
				slot.buffers[kind] = nil
			}
		}
	}
	for _, r := range s.retired {
		r.res.Release()
	}
	s.retired = nil
}

func (s *synchronizer) openSlot(frameIndex uint64) (*FrameSlot, error) {
	slot := s.slots[frameIndex%uint64(len(s.slots))]
	if !slot.open || slot.frame != frameIndex {
		return nil, fmt.Errorf("%w: %d", ErrFrameNotBegun, frameIndex)
	}
	return slot, nil
}

func (s *synchronizer) stage(slot *FrameSlot, kind BufferKind, size int, version uint64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !slot.open {
		return nil, fmt.Errorf("%w: slot %d", ErrFrameNotBegun, slot.index)
	}
	if version != 0 && slot.versions[kind] == version && !slot.staged[kind] {
		return nil, nil
	}
	if uint64(size) > slot.buffers[kind].Size() {
		if err := s.grow(kind, uint64(size)); err != nil {
			return nil, err
		}
	}
	if cap(slot.staging[kind]) < size {
		slot.staging[kind] = make([]byte, size)
	}
	slot.staging[kind] = slot.staging[kind][:size]
	slot.staged[kind] = true
	slot.pending[kind] = version
	return slot.staging[kind], nil
}

// grow raises a kind's capacity and re-creates the buffer in every open slot. Must hold mu.
func (s *synchronizer) grow(kind BufferKind, size uint64) error {
	if size <= s.capacities[kind] {
		return nil
	}
	s.capacities[kind] = common.GrowCapacity(s.capacities[kind], size, 256)
	s.logger.Debug("growing frame buffers",
		zap.Stringer("kind", kind),
		zap.Uint64("capacity", s.capacities[kind]),
	)
	for _, slot := range s.slots {
		if slot.open {
			if err := s.recreate(slot, kind); err != nil {
				return err
			}
		}
	}
	return nil
}

// recreate replaces one buffer of a slot with one at the current capacity. The slot's fence has signalled,
// so the old buffer is released immediately. Must hold mu.
func (s *synchronizer) recreate(slot *FrameSlot, kind BufferKind) error {
	label := fmt.Sprintf("%s[%d]", kind, slot.index)
	buf, err := s.dev.CreateBuffer(label, s.capacities[kind], kind.Usage())
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", label, err)
	}
	if old := slot.buffers[kind]; old != nil {
		old.Release()
	}
	slot.buffers[kind] = buf
	slot.versions[kind] = 0
	return nil
}

// sweep releases retired resources whose frames are all finished. Must hold mu.
func (s *synchronizer) sweep() {
	kept := s.retired[:0]
	for _, r := range s.retired {
		if r.any && !s.finishedThrough(r.until) {
			kept = append(kept, r)
			continue
		}
		r.res.Release()
	}
	clear(s.retired[len(kept):])
	s.retired = kept
}

// finishedThrough reports whether every frame up to and including frame has completed or been discarded.
// Each slot only holds its newest frame; older frames on the same slot finished before it was begun.
func (s *synchronizer) finishedThrough(frame uint64) bool {
	for _, slot := range s.slots {
		if slot.frame > frame {
			continue
		}
		if slot.open || (slot.fence != nil && !slot.fence.Done()) {
			return false
		}
	}
	return true
}
