package profiler

import (
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FrameSample carries the per-frame counters a renderer reports.
type FrameSample struct {
	Draws      int
	MultiDraws int
	Lights     int
	Fallbacks  int
}

// Report is one logged interval.
type Report struct {
	FPS          float64
	Frames       int
	HeapMB       float64
	SysMB        float64
	AllocRateMB  float64
	GCCount      uint32
	LastPauseUs  uint64
	MaxPauseUs   uint64
	AvgDraws     float64
	MaxDraws     int
	MultiDraws   int
	MaxLights    int
	Fallbacks    int
	FrameTimeMax time.Duration
}

// Profiler tracks frame rate, memory and draw statistics and logs them once per interval.
type Profiler struct {
	mu     *sync.Mutex
	logger *zap.Logger
	now    func() time.Time

	interval  time.Duration
	lastTime  time.Time
	lastFrame time.Time

	frames       int
	draws        int
	maxDraws     int
	multiDraws   int
	maxLights    int
	fallbacks    int
	maxFrameTime time.Duration

	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64
	last           Report
}

// NewProfiler creates a Profiler. The interval defaults to one second and the logger to a no-op logger.
//
// Parameters:
//   - options: functional options
//
// Returns:
//   - *Profiler: the profiler
func NewProfiler(options ...ProfilerBuilderOption) *Profiler {
	p := &Profiler{
		mu:       &sync.Mutex{},
		logger:   zap.NewNop(),
		now:      time.Now,
		interval: time.Second,
	}
	for _, opt := range options {
		opt(p)
	}
	p.logger = p.logger.Named("profiler")
	p.lastTime = p.now()
	p.lastFrame = p.lastTime
	return p
}

// Tick records one frame. When the interval has elapsed it logs a Report and starts a new interval.
//
// Parameters:
//   - sample: the frame's counters
//
// Returns:
//   - bool: true if a report was logged this tick
func (p *Profiler) Tick(sample FrameSample) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.frames++
	p.draws += sample.Draws
	p.maxDraws = max(p.maxDraws, sample.Draws)
	p.multiDraws += sample.MultiDraws
	p.maxLights = max(p.maxLights, sample.Lights)
	p.fallbacks += sample.Fallbacks
	p.maxFrameTime = max(p.maxFrameTime, now.Sub(p.lastFrame))
	p.lastFrame = now

	elapsed := now.Sub(p.lastTime)
	if elapsed < p.interval {
		return false
	}

	r := p.report(elapsed)
	p.logger.Info("frame stats",
		zap.Float64("fps", r.FPS),
		zap.Float64("heap_mb", r.HeapMB),
		zap.Float64("alloc_rate_mb_s", r.AllocRateMB),
		zap.Uint32("gc", r.GCCount),
		zap.Uint64("gc_last_pause_us", r.LastPauseUs),
		zap.Uint64("gc_max_pause_us", r.MaxPauseUs),
		zap.Float64("sys_mb", r.SysMB),
		zap.Float64("avg_draws", r.AvgDraws),
		zap.Int("max_draws", r.MaxDraws),
		zap.Int("multi_draws", r.MultiDraws),
		zap.Int("max_lights", r.MaxLights),
		zap.Int("fallbacks", r.Fallbacks),
		zap.Duration("max_frame_time", r.FrameTimeMax),
	)
	if r.Fallbacks > 0 {
		p.logger.Warn("draws fell back to the error material or mesh", zap.Int("fallbacks", r.Fallbacks))
	}

	p.last = r
	p.frames, p.draws, p.maxDraws, p.multiDraws, p.maxLights, p.fallbacks = 0, 0, 0, 0, 0, 0
	p.maxFrameTime = 0
	p.lastTime = now
	return true
}

// Last returns the most recently logged report.
//
// Returns:
//   - Report: the report, zero before the first interval completes
func (p *Profiler) Last() Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *Profiler) report(elapsed time.Duration) Report {
	runtime.ReadMemStats(&p.memStats)

	r := Report{
		FPS:          float64(p.frames) / elapsed.Seconds(),
		Frames:       p.frames,
		HeapMB:       float64(p.memStats.Alloc) / 1024 / 1024,
		SysMB:        float64(p.memStats.Sys) / 1024 / 1024,
		AllocRateMB:  float64(p.memStats.TotalAlloc-p.lastTotalAlloc) / 1024 / 1024 / elapsed.Seconds(),
		GCCount:      p.memStats.NumGC,
		AvgDraws:     float64(p.draws) / float64(p.frames),
		MaxDraws:     p.maxDraws,
		MultiDraws:   p.multiDraws,
		MaxLights:    p.maxLights,
		Fallbacks:    p.fallbacks,
		FrameTimeMax: p.maxFrameTime,
	}

	// PauseNs is a ring of the last 256 pauses.
	gc := p.memStats.NumGC
	if gc > 0 {
		r.LastPauseUs = p.memStats.PauseNs[(gc+255)%256] / 1000
		start := p.lastGCCount
		if gc-start > 256 {
			start = gc - 256
		}
		for i := start; i < gc; i++ {
			r.MaxPauseUs = max(r.MaxPauseUs, p.memStats.PauseNs[i%256]/1000)
		}
	}

	p.lastGCCount = gc
	p.lastTotalAlloc = p.memStats.TotalAlloc
	return r
}
