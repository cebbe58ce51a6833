package device

import (
	"github.com/cogentcore/webgpu/wgpu"
	"go.uber.org/zap"
)

// deviceConfig collects the options shared by both backends. Options that do not apply to a backend are ignored.
type deviceConfig struct {
	logger *zap.Logger

	// wgpu backend
	forceFallbackAdapter bool
	colorFormat          wgpu.TextureFormat
	depthFormat          wgpu.TextureFormat

	// software backend
	kernels  map[string]Kernel
	deferred bool
}

func newDeviceConfig() *deviceConfig {
	return &deviceConfig{
		logger:      zap.NewNop(),
		colorFormat: wgpu.TextureFormatRGBA8UnormSrgb,
		depthFormat: wgpu.TextureFormatDepth32Float,
		kernels:     make(map[string]Kernel),
	}
}

// DeviceBuilderOption is a functional option used to configure a Device during construction.
type DeviceBuilderOption func(*deviceConfig)

// WithLogger sets the logger used for device diagnostics.
//
// Parameters:
//   - logger: the zap logger, nil keeps the no-op default
//
// Returns:
//   - DeviceBuilderOption: a function that applies the logger option
func WithLogger(logger *zap.Logger) DeviceBuilderOption {
	return func(c *deviceConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithForceFallbackAdapter requests the platform's software adapter from wgpu, for CI machines without a GPU.
//
// Parameters:
//   - force: whether to force the fallback adapter
//
// Returns:
//   - DeviceBuilderOption: a function that applies the fallback adapter option
func WithForceFallbackAdapter(force bool) DeviceBuilderOption {
	return func(c *deviceConfig) {
		c.forceFallbackAdapter = force
	}
}

// WithColorFormat sets the color format render pipelines target. It must match the swapchain images the
// platform layer hands to the renderer.
//
// Parameters:
//   - format: the color attachment format
//
// Returns:
//   - DeviceBuilderOption: a function that applies the color format option
func WithColorFormat(format wgpu.TextureFormat) DeviceBuilderOption {
	return func(c *deviceConfig) {
		c.colorFormat = format
	}
}

// WithKernel registers the CPU implementation of a compute pipeline for the software backend.
//
// Parameters:
//   - pipelineKey: the key of the compute pipeline the kernel implements
//   - kernel: the kernel
//
// Returns:
//   - DeviceBuilderOption: a function that registers the kernel
func WithKernel(pipelineKey string, kernel Kernel) DeviceBuilderOption {
	return func(c *deviceConfig) {
		c.kernels[pipelineKey] = kernel
	}
}

// WithDeferredExecution makes the software backend queue submissions instead of executing them in Submit.
// Queued submissions run, and their fences signal, when CompleteNext is called. This models a GPU that
// lags behind the CPU.
//
// Parameters:
//   - deferred: whether submissions are deferred
//
// Returns:
//   - DeviceBuilderOption: a function that applies the execution mode
func WithDeferredExecution(deferred bool) DeviceBuilderOption {
	return func(c *deviceConfig) {
		c.deferred = deferred
	}
}
