package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-vr/engine/camera"
	"github.com/Carmen-Shannon/oxy-vr/engine/config"
	"github.com/Carmen-Shannon/oxy-vr/engine/loader"
	"github.com/Carmen-Shannon/oxy-vr/engine/logger"
	"github.com/Carmen-Shannon/oxy-vr/engine/model"
	"github.com/Carmen-Shannon/oxy-vr/engine/profiler"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/animator"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-vr/engine/scene"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrSessionEnded is returned by a FrameSource when the XR session is over. Run treats it as a clean exit.
	ErrSessionEnded = errors.New("session ended")

	// ErrNoFrameSource is returned by NewEngine when no FrameSource is supplied.
	ErrNoFrameSource = errors.New("no frame source")

	// ErrClosed is returned by operations on an engine after Close.
	ErrClosed = errors.New("engine closed")
)

// Frame is what a FrameSource hands the engine for one display refresh.
type Frame struct {
	// View holds both eye poses, projections and the near plane.
	View camera.StereoView

	// Target is the double-wide swapchain image; the left eye renders into its left half.
	Target device.RenderTarget

	// DeltaTime is the predicted time since the previous frame in seconds. Zero lets the engine measure it.
	DeltaTime float32
}

// FrameSource is the platform or XR runtime side of the frame loop.
type FrameSource interface {
	// NextFrame blocks until the runtime wants a new frame and returns its eye views and target.
	//
	// Parameters:
	//   - ctx: cancels the wait
	//
	// Returns:
	//   - Frame: the frame description
	//   - error: ErrSessionEnded when the session is over, or any runtime error
	NextFrame(ctx context.Context) (Frame, error)

	// EndFrame hands the rendered image back to the runtime.
	//
	// Parameters:
	//   - stats: what was rendered
	//
	// Returns:
	//   - error: any runtime error
	EndFrame(stats renderer.FrameStats) error
}

// engine implements the Engine interface.
type engine struct {
	mu     *sync.Mutex
	cfg       *config.Config
	logger    *zap.Logger
	ownLogger bool

	source    FrameSource
	dev       device.Device
	ownDevice bool
	renderer  renderer.Renderer
	loader    loader.Loader
	scene     scene.Scene
	empty     scene.Scene

	pool      worker.DynamicWorkerPool
	ownPool   bool
	animators []animator.Animator

	profiler         *profiler.Profiler
	profilingEnabled bool

	tickCallback func(deltaTime float32)
	lastFrame    time.Time

	quitChannel chan struct{}
	quitOnce    sync.Once
	closed      bool
}

// Engine drives the per-frame loop: it advances animation, asks the FrameSource for eye views, renders the
// active scene for both eyes and hands the image back.
type Engine interface {
	// Config returns the configuration the engine was built from.
	Config() *config.Config

	// Device returns the GPU device.
	Device() device.Device

	// Renderer returns the stereo renderer.
	Renderer() renderer.Renderer

	// Loader returns the glTF importer that registers into the renderer's resource tables.
	Loader() loader.Loader

	// Scene returns the scene being rendered.
	Scene() scene.Scene

	// SetScene replaces the scene being rendered. A nil or inactive scene renders nothing but still
	// completes frames.
	//
	// Parameters:
	//   - s: the scene
	SetScene(s scene.Scene)

	// WorkerPool returns the pool animators evaluate skins on.
	WorkerPool() worker.DynamicWorkerPool

	// NewAnimator creates an animator for a skeleton that the engine updates every frame.
	//
	// Parameters:
	//   - skeleton: the joint hierarchy
	//
	// Returns:
	//   - animator.Animator: the animator
	//   - error: an error if the skeleton is invalid or the engine is closed
	NewAnimator(skeleton *model.Skeleton) (animator.Animator, error)

	// RemoveAnimator stops updating an animator.
	//
	// Parameters:
	//   - a: the animator
	//
	// Returns:
	//   - bool: false if a was not created by this engine
	RemoveAnimator(a animator.Animator) bool

	// SetTickCallback registers the function called at the start of every frame, before animation.
	//
	// Parameters:
	//   - callback: receives the frame's delta time in seconds
	SetTickCallback(callback func(deltaTime float32))

	// EnableProfiler enables periodic performance logging.
	EnableProfiler()

	// DisableProfiler disables periodic performance logging.
	DisableProfiler()

	// Step runs exactly one frame.
	//
	// Parameters:
	//   - ctx: cancels the frame; a cancelled frame is discarded and nothing is uploaded
	//
	// A frame that misses renderer.frame_timeout while ctx is still live is skipped: the source receives it
	// through EndFrame with Skipped set and Step returns no error.
	//
	// Returns:
	//   - renderer.FrameStats: what was rendered
	//   - error: ErrSessionEnded, a runtime error or a rendering error
	Step(ctx context.Context) (renderer.FrameStats, error)

	// Run steps frames until ctx is cancelled, Quit is called or the FrameSource ends the session.
	//
	// Parameters:
	//   - ctx: cancels the loop
	//
	// Returns:
	//   - error: nil on a clean exit, otherwise the error that stopped the loop
	Run(ctx context.Context) error

	// Quit asks Run to return after the current frame. Safe to call more than once.
	Quit()

	// Close waits for the GPU to go idle and releases everything the engine created.
	//
	// Parameters:
	//   - ctx: bounds the wait for in-flight frames
	//
	// Returns:
	//   - error: an error if in-flight frames did not finish
	Close(ctx context.Context) error
}

var _ Engine = &engine{}

// NewEngine creates an Engine. Unless WithDevice is given, the device backend comes from the configuration,
// and likewise the worker pool unless WithWorkerPool is given and the logger unless WithLogger is given.
//
// Parameters:
//   - source: the platform frame source
//   - options: functional options
//
// Returns:
//   - Engine: the engine
//   - error: ErrNoFrameSource, a config validation error, or a device or renderer construction error
func NewEngine(source FrameSource, options ...EngineBuilderOption) (Engine, error) {
	if source == nil {
		return nil, ErrNoFrameSource
	}
	e := &engine{
		mu:          &sync.Mutex{},
		cfg:         config.Default(),
		source:      source,
		empty:       scene.NewScene("empty"),
		quitChannel: make(chan struct{}),
	}
	for _, opt := range options {
		opt(e)
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	if e.logger == nil {
		l, err := logger.Build(e.cfg.Logging.Level, e.cfg.Logging.File, e.cfg.Logging.Console)
		if err != nil {
			return nil, fmt.Errorf("creating logger: %w", err)
		}
		e.logger, e.ownLogger = l, true
	}
	e.logger = e.logger.Named("engine")
	e.profilingEnabled = e.profilingEnabled || e.cfg.Profiler.Enabled
	e.profiler = profiler.NewProfiler(
		profiler.WithLogger(e.logger),
		profiler.WithInterval(e.cfg.Profiler.Interval),
	)

	if e.dev == nil {
		backend, _ := e.cfg.Renderer.BackendType()
		dev, err := device.NewDevice(backend,
			device.WithLogger(e.logger),
			device.WithForceFallbackAdapter(e.cfg.Renderer.ForceFallbackAdapter),
		)
		if err != nil {
			return nil, fmt.Errorf("creating device: %w", err)
		}
		e.dev, e.ownDevice = dev, true
	}

	r, err := renderer.NewRenderer(e.dev, RendererOptions(e.cfg, e.logger)...)
	if err != nil {
		if e.ownDevice {
			e.dev.Release()
		}
		return nil, fmt.Errorf("creating renderer: %w", err)
	}
	e.renderer = r
	e.loader = loader.NewLoader(r.Tables(),
		loader.WithLogger(e.logger),
		loader.WithMaxTextureSize(e.cfg.Assets.MaxTextureSize),
	)

	if e.pool == nil {
		a := e.cfg.Animation
		e.pool, e.ownPool = worker.NewDynamicWorkerPool(a.Workers, a.QueueSize, a.IdleTime), true
	}

	e.logger.Info("engine ready",
		zap.String("backend", e.cfg.Renderer.Backend),
		zap.Int("frames_in_flight", e.renderer.Synchronizer().FramesInFlight()),
	)
	return e, nil
}

// RendererOptions translates the renderer-related configuration into renderer options.
//
// Parameters:
//   - cfg: the configuration
//   - logger: the logger handed to the renderer
//
// Returns:
//   - []renderer.RendererBuilderOption: the options
func RendererOptions(cfg *config.Config, logger *zap.Logger) []renderer.RendererBuilderOption {
	opts := []renderer.RendererBuilderOption{
		renderer.WithLogger(logger),
		renderer.WithFramesInFlight(cfg.Renderer.FramesInFlight),
		renderer.WithLimits(cfg.Limits),
		renderer.WithIBLIntensity(cfg.Lighting.IBLIntensity),
		renderer.WithInitialDrawCapacity(cfg.Renderer.InitialDrawCapacity),
		renderer.WithStereoPipelineKey(cfg.Renderer.StereoPipelineKey),
	}
	if cfg.Renderer.VertexArenaBytes > 0 || cfg.Renderer.IndexArenaBytes > 0 {
		opts = append(opts, renderer.WithArenaCapacity(cfg.Renderer.VertexArenaBytes, cfg.Renderer.IndexArenaBytes))
	}
	return opts
}

func (e *engine) Config() *config.Config {
	return e.cfg
}

func (e *engine) Device() device.Device {
	return e.dev
}

func (e *engine) Renderer() renderer.Renderer {
	return e.renderer
}

func (e *engine) Loader() loader.Loader {
	return e.loader
}

func (e *engine) Scene() scene.Scene {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scene
}

func (e *engine) SetScene(s scene.Scene) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scene = s
}

func (e *engine) WorkerPool() worker.DynamicWorkerPool {
	return e.pool
}

func (e *engine) NewAnimator(skeleton *model.Skeleton) (animator.Animator, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	a, err := animator.NewAnimator(skeleton, e.renderer.Tables(),
		animator.WithWorkerPool(e.pool),
		animator.WithBatchSize(e.cfg.Animation.BatchSize),
		animator.WithLogger(e.logger),
	)
	if err != nil {
		return nil, err
	}
	e.animators = append(e.animators, a)
	return a, nil
}

func (e *engine) RemoveAnimator(a animator.Animator) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := slices.Index(e.animators, a)
	if i < 0 {
		return false
	}
	e.animators = slices.Delete(e.animators, i, i+1)
	return true
}

func (e *engine) SetTickCallback(callback func(deltaTime float32)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tickCallback = callback
}

func (e *engine) EnableProfiler() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.profilingEnabled = true
}

func (e *engine) DisableProfiler() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.profilingEnabled = false
}

func (e *engine) Step(ctx context.Context) (renderer.FrameStats, error) {
	f, err := e.source.NextFrame(ctx)
	if err != nil {
		return renderer.FrameStats{}, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return renderer.FrameStats{}, ErrClosed
	}
	dt := f.DeltaTime
	now := time.Now()
	if dt <= 0 && !e.lastFrame.IsZero() {
		dt = float32(now.Sub(e.lastFrame).Seconds())
	}
	e.lastFrame = now
	tick := e.tickCallback
	animators := slices.Clone(e.animators)
	s := e.scene
	profiling := e.profilingEnabled
	e.mu.Unlock()

	if tick != nil {
		tick(dt)
	}
	if err := updateAnimators(ctx, animators, dt); err != nil {
		return renderer.FrameStats{}, fmt.Errorf("updating animation: %w", err)
	}

	if s == nil || !s.Active() {
		s = e.empty
	}
	renderCtx := ctx
	if timeout := e.cfg.Renderer.FrameTimeout; timeout > 0 {
		var cancel context.CancelFunc
		renderCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	stats, err := e.renderer.RenderFrame(renderCtx, s, f.View, f.Target)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return e.skipFrame(stats, err)
		}
		return stats, err
	}
	if err := e.source.EndFrame(stats); err != nil {
		return stats, fmt.Errorf("ending frame %d: %w", stats.Frame, err)
	}

	if profiling {
		e.profiler.Tick(profiler.FrameSample{
			Draws:      stats.Draws,
			MultiDraws: stats.MultiDraws,
			Lights:     stats.Lights,
			Fallbacks:  stats.Fallbacks.Total(),
		})
	}
	return stats, nil
}

// skipFrame hands a frame that missed its deadline back to the source without an image.
func (e *engine) skipFrame(stats renderer.FrameStats, cause error) (renderer.FrameStats, error) {
	stats.Skipped = true
	e.logger.Warn("frame missed its deadline", zap.Uint64("frame", stats.Frame), zap.Error(cause))
	if err := e.source.EndFrame(stats); err != nil {
		return stats, fmt.Errorf("ending skipped frame %d: %w", stats.Frame, err)
	}
	return stats, nil
}

// updateAnimators evaluates every animator concurrently. Each animator further splits its instances
// across the worker pool.
func updateAnimators(ctx context.Context, animators []animator.Animator, dt float32) error {
	if len(animators) == 0 {
		return nil
	}
	g, _ := errgroup.WithContext(ctx)
	for _, a := range animators {
		g.Go(func() error {
			return a.Update(dt)
		})
	}
	return g.Wait()
}

func (e *engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.quitChannel:
			return nil
		default:
		}

		_, err := e.Step(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrSessionEnded):
			e.logger.Info("session ended")
			return nil
		case ctx.Err() != nil && errors.Is(err, ctx.Err()):
			return nil
		default:
			e.logger.Error("frame failed", zap.Error(err))
			return err
		}
	}
}

func (e *engine) Quit() {
	e.quitOnce.Do(func() {
		close(e.quitChannel)
	})
}

func (e *engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.animators = nil
	e.mu.Unlock()

	e.Quit()
	err := e.renderer.WaitIdle(ctx)
	e.renderer.Release()
	if e.ownPool {
		e.pool.Stop()
	}
	if e.ownDevice {
		e.dev.Release()
	}
	if e.ownLogger {
		_ = e.logger.Sync()
	}
	return err
}
