package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-vr/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-vr/engine/resources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, BackendWGPU, cfg.Renderer.Backend)
	assert.Equal(t, 2, cfg.Renderer.FramesInFlight)
	assert.Equal(t, resources.DefaultLimits(), cfg.Limits)
	assert.Equal(t, 10_000, cfg.Limits.Textures)
	assert.Equal(t, float32(1), cfg.Lighting.IBLIntensity)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Profiler.Enabled)
}

func TestParseMergesOverDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
renderer:
  backend: software
  frames_in_flight: 3
  frame_timeout: 250ms
limits:
  textures: 128
lighting:
  ibl_intensity: 0.5
profiler:
  enabled: true
  interval: 2s
`))
	require.NoError(t, err)

	backend, err := cfg.Renderer.BackendType()
	require.NoError(t, err)
	assert.Equal(t, device.BackendTypeSoftware, backend)
	assert.Equal(t, 3, cfg.Renderer.FramesInFlight)
	assert.Equal(t, 250*time.Millisecond, cfg.Renderer.FrameTimeout)
	assert.Equal(t, 128, cfg.Limits.Textures)
	assert.Equal(t, 4096, cfg.Limits.Materials)
	assert.Equal(t, float32(0.5), cfg.Lighting.IBLIntensity)
	assert.Equal(t, 2*time.Second, cfg.Profiler.Interval)
	assert.Equal(t, 256, cfg.Renderer.InitialDrawCapacity)
}

func TestParseEmptyDocumentGivesDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("renderer:\n  msaa: 4\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown backend":     func(c *Config) { c.Renderer.Backend = "vulkan" },
		"zero frames":         func(c *Config) { c.Renderer.FramesInFlight = 0 },
		"five frames":         func(c *Config) { c.Renderer.FramesInFlight = 5 },
		"negative draws":      func(c *Config) { c.Renderer.InitialDrawCapacity = -1 },
		"no textures":         func(c *Config) { c.Limits.Textures = 0 },
		"only error material": func(c *Config) { c.Limits.Materials = 1 },
		"too many joints":     func(c *Config) { c.Limits.JointsPerSkin = 65 },
		"negative ibl":        func(c *Config) { c.Lighting.IBLIntensity = -1 },
		"no workers":          func(c *Config) { c.Animation.Workers = 0 },
		"bad level":           func(c *Config) { c.Logging.Level = "trace" },
		"negative textures":   func(c *Config) { c.Assets.MaxTextureSize = -1 },
		"profiler interval":   func(c *Config) { c.Profiler.Enabled, c.Profiler.Interval = true, 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	cfg := Default()
	cfg.Limits.JointsPerSkin = 64
	assert.NoError(t, cfg.Validate())
}

func TestSaveAndLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "oxy.yaml")
	cfg := Default()
	cfg.Renderer.Backend = BackendSoftware
	cfg.Renderer.FramesInFlight = 4
	cfg.Logging.File.Path = "logs/oxy.log"
	cfg.Animation.IdleTime = 30 * time.Second

	require.NoError(t, cfg.SaveTo(path))
	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("renderer:\n  frames_in_flight: 9\n"), 0o644))
	_, err = LoadFile(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadDefaultReadsEnv(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	cfg, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	path := filepath.Join(t.TempDir(), "env.yaml")
	require.NoError(t, os.WriteFile(path, []byte("lighting:\n  ibl_intensity: 2\n"), 0o644))
	t.Setenv(EnvConfigPath, path)
	cfg, err = LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, float32(2), cfg.Lighting.IBLIntensity)
}
