package resources

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/device"
	"go.uber.org/zap"
)

// arena is an append-only GPU buffer backed by a CPU shadow copy. Growth re-uploads the shadow into a larger
// buffer and retires the old one. Freed ranges are never compacted.
type arena struct {
	label   string
	usage   device.BufferUsage
	dev     device.Device
	retirer Retirer
	logger  *zap.Logger

	buffer device.Buffer
	shadow []byte
}

func newArena(dev device.Device, label string, usage device.BufferUsage, capacity uint64, retirer Retirer, logger *zap.Logger) (*arena, error) {
	buf, err := dev.CreateBuffer(label, capacity, usage|device.BufferUsageCopyDst)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s arena: %w", label, err)
	}
	return &arena{
		label:   label,
		usage:   usage | device.BufferUsageCopyDst,
		dev:     dev,
		retirer: retirer,
		logger:  logger,
		buffer:  buf,
		shadow:  make([]byte, 0, capacity),
	}, nil
}

// append uploads data at the end of the arena, growing the buffer first if it does not fit.
// On error the arena is unchanged.
func (a *arena) append(data []byte) (uint64, error) {
	offset := uint64(len(a.shadow))
	required := offset + uint64(len(data))
	if required > a.buffer.Size() {
		if err := a.grow(required); err != nil {
			return 0, err
		}
	}
	if err := a.dev.WriteBuffer(a.buffer, offset, data); err != nil {
		return 0, fmt.Errorf("failed to upload to %s arena: %w", a.label, err)
	}
	a.shadow = append(a.shadow, data...)
	return offset, nil
}

func (a *arena) grow(required uint64) error {
	capacity := common.GrowCapacity(a.buffer.Size(), required, 4096)
	buf, err := a.dev.CreateBuffer(a.label, capacity, a.usage)
	if err != nil {
		return fmt.Errorf("failed to grow %s arena to %d bytes: %w", a.label, capacity, err)
	}
	if len(a.shadow) > 0 {
		if err := a.dev.WriteBuffer(buf, 0, a.shadow); err != nil {
			buf.Release()
			return fmt.Errorf("failed to re-upload %s arena: %w", a.label, err)
		}
	}
	a.logger.Debug("arena grown",
		zap.String("arena", a.label),
		zap.Uint64("old_capacity", a.buffer.Size()),
		zap.Uint64("new_capacity", capacity),
	)
	old := a.buffer
	a.buffer = buf
	retire(a.retirer, old)
	return nil
}

func (a *arena) used() uint64 {
	return uint64(len(a.shadow))
}

func (a *arena) release() {
	if a.buffer != nil {
		a.buffer.Release()
		a.buffer = nil
	}
}

func retire(r Retirer, res device.Resource) {
	if r == nil {
		res.Release()
		return
	}
	r.Retire(res)
}
