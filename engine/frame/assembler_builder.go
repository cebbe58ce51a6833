package frame

import (
	"github.com/Carmen-Shannon/oxy-vr/engine/cull"
	"go.uber.org/zap"
)

// AssemblerBuilderOption configures an Assembler.
type AssemblerBuilderOption func(*assembler)

// WithLogger sets the logger used to report fallbacks.
//
// Parameters:
//   - logger: the logger
//
// Returns:
//   - AssemblerBuilderOption: the option
func WithLogger(logger *zap.Logger) AssemblerBuilderOption {
	return func(a *assembler) {
		if logger != nil {
			a.logger = logger.Named("frame")
		}
	}
}

// WithIBLIntensity sets the image-based lighting scale written to SceneData.
//
// Parameters:
//   - intensity: the scale, 1 by default
//
// Returns:
//   - AssemblerBuilderOption: the option
func WithIBLIntensity(intensity float32) AssemblerBuilderOption {
	return func(a *assembler) {
		a.iblIntensity = intensity
	}
}

// WithCapacity pre-sizes the draw buffers.
//
// Parameters:
//   - draws: the number of draws to reserve room for
//
// Returns:
//   - AssemblerBuilderOption: the option
func WithCapacity(draws int) AssemblerBuilderOption {
	return func(a *assembler) {
		a.out.DrawRecords = make([]cull.GPUDrawRecord, 0, draws)
		a.out.DrawCommands = make([]cull.GPUDrawCommand, 0, draws)
		a.pending = make([]pending, 0, draws)
	}
}
