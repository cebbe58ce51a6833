package renderer

import (
	"github.com/Carmen-Shannon/oxy-vr/engine/resources"
	"go.uber.org/zap"
)

// RendererBuilderOption is a functional option applied to a renderer during construction via NewRenderer.
type RendererBuilderOption func(*renderer)

// WithLogger sets the logger the renderer and the components it creates log through.
//
// Parameters:
//   - logger: the logger, nil keeps the no-op default
//
// Returns:
//   - RendererBuilderOption: a function that applies the logger option to a renderer
func WithLogger(logger *zap.Logger) RendererBuilderOption {
	return func(r *renderer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithFramesInFlight sets how many frames the CPU may run ahead of the GPU.
//
// Parameters:
//   - n: the number of frame slots, 1 to frame_sync.MaxFramesInFlight
//
// Returns:
//   - RendererBuilderOption: a function that applies the frames in flight option to a renderer
func WithFramesInFlight(n int) RendererBuilderOption {
	return func(r *renderer) {
		r.framesInFlight = n
	}
}

// WithLimits sets the capacity of the resource tables.
//
// Parameters:
//   - limits: the table limits
//
// Returns:
//   - RendererBuilderOption: a function that applies the limits option to a renderer
func WithLimits(limits resources.Limits) RendererBuilderOption {
	return func(r *renderer) {
		r.limits = limits
	}
}

// WithIBLIntensity sets the initial image-based lighting scale.
//
// Parameters:
//   - intensity: the scale
//
// Returns:
//   - RendererBuilderOption: a function that applies the IBL option to a renderer
func WithIBLIntensity(intensity float32) RendererBuilderOption {
	return func(r *renderer) {
		r.iblIntensity = intensity
	}
}

// WithInitialDrawCapacity sizes the per-frame draw buffers for n draws. Buffers grow on demand either way.
//
// Parameters:
//   - n: the number of draws
//
// Returns:
//   - RendererBuilderOption: a function that applies the capacity option to a renderer
func WithInitialDrawCapacity(n int) RendererBuilderOption {
	return func(r *renderer) {
		r.initialDraws = n
	}
}

// WithArenaCapacity sets the initial size of the shared vertex and index arenas.
//
// Parameters:
//   - vertexBytes: the vertex arena size
//   - indexBytes: the index arena size
//
// Returns:
//   - RendererBuilderOption: a function that applies the arena option to a renderer
func WithArenaCapacity(vertexBytes, indexBytes uint64) RendererBuilderOption {
	return func(r *renderer) {
		r.vertexArenaBytes = vertexBytes
		r.indexArenaBytes = indexBytes
	}
}

// WithStereoPipelineKey registers the stereo pipeline under key instead of material.DefaultPipelineKey.
//
// Parameters:
//   - key: the pipeline key
//
// Returns:
//   - RendererBuilderOption: a function that applies the key option to a renderer
func WithStereoPipelineKey(key string) RendererBuilderOption {
	return func(r *renderer) {
		if key != "" {
			r.stereoKey = key
		}
	}
}
