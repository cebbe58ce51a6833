package bind_group_provider

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/device"
)

// BufferWrite describes a single GPU buffer write at a byte offset.
type BufferWrite struct {
	Buffer device.Buffer
	Offset uint64
	Data   []byte
}

// CoalesceWrites merges writes that target the same buffer and are byte-contiguous, in order, so a frame's
// staged data reaches the device in as few queue writes as possible. Writes are otherwise left in order.
//
// Parameters:
//   - writes: the writes to merge
//
// Returns:
//   - []BufferWrite: the merged writes
func CoalesceWrites(writes []BufferWrite) []BufferWrite {
	out := make([]BufferWrite, 0, len(writes))
	for _, w := range writes {
		if len(w.Data) == 0 {
			continue
		}
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.Buffer == w.Buffer && last.Offset+uint64(len(last.Data)) == w.Offset {
				merged := make([]byte, 0, len(last.Data)+len(w.Data))
				merged = append(merged, last.Data...)
				last.Data = append(merged, w.Data...)
				continue
			}
		}
		out = append(out, w)
	}
	return out
}

// FlushWrites coalesces and applies writes on dev, stopping at the first failure.
//
// Parameters:
//   - dev: the device to write through
//   - writes: the writes to apply
//
// Returns:
//   - error: the first write error, naming the buffer
func FlushWrites(dev device.Device, writes []BufferWrite) error {
	for _, w := range CoalesceWrites(writes) {
		if err := dev.WriteBuffer(w.Buffer, w.Offset, w.Data); err != nil {
			return fmt.Errorf("write %q: %w", w.Buffer.Label(), err)
		}
	}
	return nil
}
