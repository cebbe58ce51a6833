// Package config loads and validates the engine's YAML settings.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/Carmen-Shannon/oxy-vr/engine/loader"
	"github.com/Carmen-Shannon/oxy-vr/engine/logger"
	"github.com/Carmen-Shannon/oxy-vr/engine/model"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/frame_sync"
	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/material"
	"github.com/Carmen-Shannon/oxy-vr/engine/resources"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid config")

const (
	BackendWGPU     = "wgpu"
	BackendSoftware = "software"
)

// Config holds all engine settings.
type Config struct {
	Renderer  RendererConfig   `yaml:"renderer"`
	Limits    resources.Limits `yaml:"limits"`
	Lighting  LightingConfig   `yaml:"lighting"`
	Animation AnimationConfig  `yaml:"animation"`
	Assets    AssetsConfig     `yaml:"assets"`
	Logging   LoggingConfig    `yaml:"logging"`
	Profiler  ProfilerConfig   `yaml:"profiler"`
}

// RendererConfig selects the device backend and sizes the per-frame state.
type RendererConfig struct {
	Backend              string        `yaml:"backend"`
	FramesInFlight       int           `yaml:"frames_in_flight"`
	ForceFallbackAdapter bool          `yaml:"force_fallback_adapter"`
	InitialDrawCapacity  int           `yaml:"initial_draw_capacity"`
	VertexArenaBytes     uint64        `yaml:"vertex_arena_bytes"`
	IndexArenaBytes      uint64        `yaml:"index_arena_bytes"`
	StereoPipelineKey    string        `yaml:"stereo_pipeline_key"`
	FrameTimeout         time.Duration `yaml:"frame_timeout"`
}

// LightingConfig holds scene-independent lighting parameters.
type LightingConfig struct {
	IBLIntensity float32 `yaml:"ibl_intensity"`
}

// AnimationConfig sizes the worker pool that evaluates skins.
type AnimationConfig struct {
	Workers   int           `yaml:"workers"`
	QueueSize int           `yaml:"queue_size"`
	IdleTime  time.Duration `yaml:"idle_time"`
	BatchSize int           `yaml:"batch_size"`
}

// AssetsConfig controls model import.
type AssetsConfig struct {
	MaxTextureSize int `yaml:"max_texture_size"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level   string            `yaml:"level"`
	Console bool              `yaml:"console"`
	File    logger.FileConfig `yaml:"file"`
}

// ProfilerConfig controls periodic performance logging.
type ProfilerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// Default returns a Config with the stock settings.
//
// Returns:
//   - *Config: the default configuration
func Default() *Config {
	return &Config{
		Renderer: RendererConfig{
			Backend:             BackendWGPU,
			FramesInFlight:      frame_sync.DefaultFramesInFlight,
			InitialDrawCapacity: 256,
			StereoPipelineKey:   material.DefaultPipelineKey,
			FrameTimeout:        time.Second,
		},
		Limits: resources.DefaultLimits(),
		Lighting: LightingConfig{
			IBLIntensity: 1,
		},
		Animation: AnimationConfig{
			Workers:   4,
			QueueSize: 256,
			IdleTime:  5 * time.Second,
			BatchSize: 16,
		},
		Assets: AssetsConfig{
			MaxTextureSize: loader.DefaultMaxTextureSize,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
		Profiler: ProfilerConfig{
			Interval: time.Second,
		},
	}
}

// Validate checks every field that would otherwise fail deep inside construction.
//
// Returns:
//   - error: ErrInvalidConfig wrapped with the first offending field, or nil
func (c *Config) Validate() error {
	if _, err := c.Renderer.BackendType(); err != nil {
		return err
	}
	if n := c.Renderer.FramesInFlight; n < 1 || n > frame_sync.MaxFramesInFlight {
		return invalid("renderer.frames_in_flight", "%d is outside 1..%d", n, frame_sync.MaxFramesInFlight)
	}
	if c.Renderer.InitialDrawCapacity < 0 {
		return invalid("renderer.initial_draw_capacity", "%d is negative", c.Renderer.InitialDrawCapacity)
	}
	if c.Renderer.FrameTimeout < 0 {
		return invalid("renderer.frame_timeout", "%s is negative", c.Renderer.FrameTimeout)
	}

	for _, limit := range []struct {
		field string
		value int
	}{
		{"limits.textures", c.Limits.Textures},
		{"limits.materials", c.Limits.Materials},
		{"limits.meshes", c.Limits.Meshes},
		{"limits.skins", c.Limits.Skins},
		{"limits.joints_per_skin", c.Limits.JointsPerSkin},
	} {
		if limit.value < 1 {
			return invalid(limit.field, "%d must be positive", limit.value)
		}
	}
	if c.Limits.JointsPerSkin > model.MaxJoints {
		return invalid("limits.joints_per_skin", "%d exceeds %d", c.Limits.JointsPerSkin, model.MaxJoints)
	}
	// The material table always holds the error material in slot 0.
	if c.Limits.Materials < 2 {
		return invalid("limits.materials", "%d leaves no room beside the error material", c.Limits.Materials)
	}

	if c.Lighting.IBLIntensity < 0 {
		return invalid("lighting.ibl_intensity", "%g is negative", c.Lighting.IBLIntensity)
	}
	if c.Animation.Workers < 1 {
		return invalid("animation.workers", "%d must be positive", c.Animation.Workers)
	}
	if c.Animation.QueueSize < 1 {
		return invalid("animation.queue_size", "%d must be positive", c.Animation.QueueSize)
	}
	if c.Animation.BatchSize < 1 {
		return invalid("animation.batch_size", "%d must be positive", c.Animation.BatchSize)
	}
	if c.Assets.MaxTextureSize < 0 {
		return invalid("assets.max_texture_size", "%d is negative", c.Assets.MaxTextureSize)
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return invalid("logging.level", "%v", err)
	}
	if c.Profiler.Enabled && c.Profiler.Interval <= 0 {
		return invalid("profiler.interval", "%s must be positive", c.Profiler.Interval)
	}
	return nil
}

// BackendType maps the backend name to a device backend.
//
// Returns:
//   - device.BackendType: the backend
//   - error: ErrInvalidConfig for an unknown name
func (r RendererConfig) BackendType() (device.BackendType, error) {
	switch r.Backend {
	case BackendWGPU:
		return device.BackendTypeWGPU, nil
	case BackendSoftware:
		return device.BackendTypeSoftware, nil
	}
	return 0, invalid("renderer.backend", "unknown backend %q", r.Backend)
}

func invalid(field, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, field, fmt.Sprintf(format, args...))
}
