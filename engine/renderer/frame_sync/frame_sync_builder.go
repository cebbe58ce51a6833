package frame_sync

import (
	"go.uber.org/zap"
)

type synchronizerConfig struct {
	framesInFlight int
	capacities     [BufferKindCount]uint64
	logger         *zap.Logger
}

func newSynchronizerConfig() *synchronizerConfig {
	return &synchronizerConfig{
		framesInFlight: DefaultFramesInFlight,
		capacities: [BufferKindCount]uint64{
			BufferDrawRecords:  256 * 160,
			BufferDrawCommands: 256 * 20,
			BufferMaterials:    64 * 80,
			BufferSkins:        4096,
			BufferCullParams:   144,
			BufferSceneData:    432,
			BufferLeftView:     16,
			BufferRightView:    16,
		},
		logger: zap.NewNop(),
	}
}

// SynchronizerBuilderOption configures a Synchronizer.
type SynchronizerBuilderOption func(*synchronizerConfig)

// WithFramesInFlight sets the number of buffer copies, 1..MaxFramesInFlight.
//
// Parameters:
//   - n: the number of frames that may be in flight
//
// Returns:
//   - SynchronizerBuilderOption: the option
func WithFramesInFlight(n int) SynchronizerBuilderOption {
	return func(c *synchronizerConfig) {
		c.framesInFlight = n
	}
}

// WithCapacity sets the initial capacity of a buffer kind. Capacities below the default are ignored.
//
// Parameters:
//   - kind: the buffer kind
//   - size: the capacity in bytes
//
// Returns:
//   - SynchronizerBuilderOption: the option
func WithCapacity(kind BufferKind, size uint64) SynchronizerBuilderOption {
	return func(c *synchronizerConfig) {
		if kind >= 0 && kind < BufferKindCount {
			c.capacities[kind] = max(c.capacities[kind], size)
		}
	}
}

// WithLogger sets the logger.
//
// Parameters:
//   - logger: the logger
//
// Returns:
//   - SynchronizerBuilderOption: the option
func WithLogger(logger *zap.Logger) SynchronizerBuilderOption {
	return func(c *synchronizerConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}
