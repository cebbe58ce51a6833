package device

import (
	"context"
	"errors"

	"github.com/Carmen-Shannon/oxy-vr/common"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/pipeline"
	"github.com/cogentcore/webgpu/wgpu"
)

// BackendType selects the implementation behind a Device.
type BackendType int

const (
	// BackendTypeWGPU drives a real GPU through wgpu-native.
	BackendTypeWGPU BackendType = iota

	// BackendTypeSoftware executes compute work with registered CPU kernels and records draws instead of
	// rasterizing them. It validates the frame fence discipline and is used by tests and headless tools.
	BackendTypeSoftware
)

// BufferUsage describes how a buffer is bound. Values combine with bitwise OR.
type BufferUsage uint32

const (
	BufferUsageVertex BufferUsage = 1 << iota
	BufferUsageIndex
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageIndirect
	BufferUsageCopyDst

	// BufferUsageHostWrite marks memory the CPU rewrites every frame while earlier frames may still be in
	// flight. Writing such a buffer while a submission that references it is unfinished is a
	// synchronization violation.
	BufferUsageHostWrite
)

// DrawIndexedIndirectSize is the byte size of one indexed-indirect draw argument record.
const DrawIndexedIndirectSize = 20

var (
	// ErrBufferInUse is returned when host-written memory is modified while an unfinished submission reads it.
	ErrBufferInUse = errors.New("buffer is referenced by an unfinished submission")

	// ErrOutOfBounds is returned when a write or an indirect draw range exceeds a buffer's size.
	ErrOutOfBounds = errors.New("range exceeds buffer size")

	// ErrUnknownPipeline is returned when work references a pipeline the device has not registered.
	ErrUnknownPipeline = errors.New("pipeline not registered with device")

	// ErrForeignResource is returned when a resource created by another device is passed in.
	ErrForeignResource = errors.New("resource belongs to a different device")

	// ErrNoPendingSubmission is returned by the software device when there is nothing left to complete.
	ErrNoPendingSubmission = errors.New("no pending submission")
)

// Buffer is a linear block of GPU memory.
type Buffer interface {
	// Label returns the debug label given at creation.
	Label() string

	// Size returns the buffer size in bytes.
	Size() uint64

	// Usage returns the usage flags given at creation.
	Usage() BufferUsage

	// Release frees the buffer. Calling it while a submission still reads the buffer is a programmer error;
	// callers retire buffers through the frame synchronizer instead.
	Release()
}

// Texture is a sampled 2D RGBA8 image.
type Texture interface {
	Label() string
	Width() uint32
	Height() uint32
	Release()
}

// BindGroup is a set of buffers bound to one group index of a pipeline layout.
type BindGroup interface {
	Label() string
	Release()
}

// Fence signals when the work of one submission has finished on the GPU timeline.
type Fence interface {
	// Done reports whether the submission has completed without blocking.
	Done() bool
}

// Resource is any GPU object whose release can be deferred until the GPU is done with it.
type Resource interface {
	Release()
}

// BindGroupEntry binds a whole buffer at a binding index.
type BindGroupEntry struct {
	Binding uint32
	Buffer  Buffer
}

// Viewport is a rectangle of the render target in pixels.
type Viewport struct {
	X, Y, Width, Height float32
}

// RenderTarget is the image a render pass draws into. ColorView is the swapchain image supplied by the
// platform layer and is nil on the software backend.
type RenderTarget struct {
	Width, Height uint32
	ColorView     *wgpu.TextureView
	ClearColor    wgpu.Color
}

// ComputePass records compute dispatches.
type ComputePass interface {
	SetPipeline(p pipeline.Pipeline)
	SetBindGroup(group uint32, bg BindGroup)
	DispatchWorkgroups(x, y, z uint32)
	End()
}

// RenderPass records draws into a RenderTarget.
type RenderPass interface {
	SetPipeline(p pipeline.Pipeline)
	SetBindGroup(group uint32, bg BindGroup)
	SetViewport(v Viewport)
	SetVertexBuffer(buf Buffer)
	SetIndexBuffer(buf Buffer)

	// MultiDrawIndexedIndirect issues count indexed draws whose arguments are read from indirect starting at
	// offset, each DrawIndexedIndirectSize bytes apart.
	MultiDrawIndexedIndirect(indirect Buffer, offset uint64, count uint32)
	End()
}

// CommandEncoder records passes for a single submission.
type CommandEncoder interface {
	// BeginComputePass starts a compute pass. The previous pass must have ended.
	BeginComputePass(label string) ComputePass

	// BeginRenderPass starts a render pass that clears the target color and clears depth to depthClear.
	BeginRenderPass(label string, target RenderTarget, depthClear float32) RenderPass

	// Release drops the recorded commands without submitting them.
	Release()
}

// Device is the GPU abstraction every renderer component talks to. It is implemented by a wgpu backend and
// by a software backend, so the frame pipeline can be exercised without a GPU.
type Device interface {
	// Backend reports which implementation is in use.
	//
	// Returns:
	//   - BackendType: the backend type
	Backend() BackendType

	// CreateBuffer allocates a zero-filled buffer.
	//
	// Parameters:
	//   - label: a debug label
	//   - size: the size in bytes, rounded up to a multiple of 4
	//   - usage: how the buffer is bound
	//
	// Returns:
	//   - Buffer: the new buffer
	//   - error: an error if allocation fails
	CreateBuffer(label string, size uint64, usage BufferUsage) (Buffer, error)

	// WriteBuffer copies data into buf at offset on the queue timeline.
	//
	// Parameters:
	//   - buf: the destination buffer
	//   - offset: the byte offset, a multiple of 4
	//   - data: the bytes to write
	//
	// Returns:
	//   - error: ErrOutOfBounds, ErrBufferInUse (software backend) or a backend error
	WriteBuffer(buf Buffer, offset uint64, data []byte) error

	// CreateTexture creates a sampled RGBA8 texture and uploads its pixels.
	//
	// Parameters:
	//   - label: a debug label
	//   - data: the pixel data, Width*Height*4 bytes
	//
	// Returns:
	//   - Texture: the new texture
	//   - error: an error if creation fails
	CreateTexture(label string, data common.TextureStagingData) (Texture, error)

	// RegisterPipeline creates the native objects for a pipeline description. Registering a key twice is a no-op.
	//
	// Parameters:
	//   - p: the pipeline description
	//
	// Returns:
	//   - error: an error if the pipeline is invalid or creation fails
	RegisterPipeline(p pipeline.Pipeline) error

	// CreateBindGroup binds buffers to one group of a registered pipeline's layout.
	//
	// Parameters:
	//   - label: a debug label
	//   - p: the registered pipeline whose layout is used
	//   - group: the group index
	//   - entries: the buffers to bind
	//
	// Returns:
	//   - BindGroup: the new bind group
	//   - error: ErrUnknownPipeline or a backend error
	CreateBindGroup(label string, p pipeline.Pipeline, group uint32, entries []BindGroupEntry) (BindGroup, error)

	// CreateCommandEncoder starts recording a submission.
	//
	// Parameters:
	//   - label: a debug label
	//
	// Returns:
	//   - CommandEncoder: the encoder
	//   - error: an error if the encoder cannot be created
	CreateCommandEncoder(label string) (CommandEncoder, error)

	// Submit finishes the encoder and queues it. The encoder must not be used afterwards.
	//
	// Parameters:
	//   - enc: the encoder to submit
	//
	// Returns:
	//   - Fence: signalled when the submission completes
	//   - error: any error recorded while encoding or submitting
	Submit(enc CommandEncoder) (Fence, error)

	// Wait blocks until f signals or ctx is done.
	//
	// Parameters:
	//   - ctx: the context bounding the wait
	//   - f: the fence to wait on, nil returns immediately
	//
	// Returns:
	//   - error: ctx.Err() when the context ends first
	Wait(ctx context.Context, f Fence) error

	// Release frees the device and everything it still owns.
	Release()
}

// NewDevice creates a Device for the requested backend.
//
// Parameters:
//   - backend: the backend to create
//   - options: functional options applied to the device
//
// Returns:
//   - Device: the device
//   - error: an error if the wgpu adapter or device cannot be acquired
func NewDevice(backend BackendType, options ...DeviceBuilderOption) (Device, error) {
	cfg := newDeviceConfig()
	for _, opt := range options {
		opt(cfg)
	}
	switch backend {
	case BackendTypeSoftware:
		return newSoftwareDevice(cfg), nil
	default:
		return newWGPUDevice(cfg)
	}
}

func alignedSize(size uint64) uint64 {
	return common.AlignUp(max(size, 4), 4)
}
