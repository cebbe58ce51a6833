package engine

import (
	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-vr/engine/config"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-vr/engine/scene"
	"go.uber.org/zap"
)

// EngineBuilderOption is a functional option for configuring an Engine.
// Use the With* functions to create options that are applied directly to the engine instance.
type EngineBuilderOption func(*engine)

// WithConfig sets the engine configuration. It is validated by NewEngine.
//
// Parameters:
//   - cfg: the configuration, nil keeps config.Default()
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithConfig(cfg *config.Config) EngineBuilderOption {
	return func(e *engine) {
		if cfg != nil {
			e.cfg = cfg
		}
	}
}

// WithLogger sets the logger handed to every component the engine creates.
//
// Parameters:
//   - logger: the logger, nil builds one from the logging configuration
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithLogger(logger *zap.Logger) EngineBuilderOption {
	return func(e *engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithDevice supplies a device instead of creating one from the configured backend. The engine does not
// release a supplied device.
//
// Parameters:
//   - dev: the device
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithDevice(dev device.Device) EngineBuilderOption {
	return func(e *engine) {
		e.dev = dev
	}
}

// WithWorkerPool supplies the pool animators run on. The engine does not stop a supplied pool.
//
// Parameters:
//   - pool: the worker pool
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithWorkerPool(pool worker.DynamicWorkerPool) EngineBuilderOption {
	return func(e *engine) {
		e.pool = pool
	}
}

// WithScene sets the scene rendered each frame.
//
// Parameters:
//   - s: the scene
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithScene(s scene.Scene) EngineBuilderOption {
	return func(e *engine) {
		e.scene = s
	}
}

// WithProfiling enables or disables performance logging, overriding the configured default when enabled.
//
// Parameters:
//   - enabled: if true, enables performance profiling
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithProfiling(enabled bool) EngineBuilderOption {
	return func(e *engine) {
		e.profilingEnabled = enabled
	}
}

// WithTickCallback registers the function called at the start of every frame.
//
// Parameters:
//   - callback: receives the frame's delta time in seconds
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithTickCallback(callback func(deltaTime float32)) EngineBuilderOption {
	return func(e *engine) {
		e.tickCallback = callback
	}
}
