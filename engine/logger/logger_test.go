package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func resetGlobal(t *testing.T) {
	t.Cleanup(func() { install(zapcore.NewNopCore()) })
}

func TestFileSinkRespectsLevel(t *testing.T) {
	resetGlobal(t)
	path := filepath.Join(t.TempDir(), "logs", "oxy.log")

	require.NoError(t, InitWithFileConfig("warn", DefaultFileConfig(path), false))
	Info("frame submitted", zap.Uint64("frame", 1))
	Warn("fallback material", zap.Int("draw", 7))
	Named("renderer").Error("pipeline missing", zap.String("key", "stereo_pbr"))
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.NotContains(t, out, "frame submitted")
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "fallback material")
	assert.Contains(t, out, "draw")
	assert.Contains(t, out, "renderer")
	assert.Contains(t, out, "pipeline missing")
}

func TestHelpersReportCallerOutsidePackage(t *testing.T) {
	resetGlobal(t)
	path := filepath.Join(t.TempDir(), "caller.log")

	require.NoError(t, InitWithFileConfig("debug", FileConfig{Path: path}, false))
	Debug("helper call")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "logger_test.go")
	assert.NotContains(t, string(data), "logger/logger.go")
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]zapcore.Level{
		"":      zapcore.InfoLevel,
		"debug": zapcore.DebugLevel,
		"info":  zapcore.InfoLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
	} {
		got, err := ParseLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseLevel("verbose")
	assert.ErrorIs(t, err, ErrInvalidLevel)
	assert.ErrorIs(t, Init("loud", ""), ErrInvalidLevel)
}

func TestNewWritesToWriter(t *testing.T) {
	var buf bytes.Buffer
	l, err := New("info", &buf)
	require.NoError(t, err)

	l.Debug("hidden")
	l.Info("visible", zap.Int("eyes", 2))

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible")
	assert.Contains(t, buf.String(), `"eyes": 2`)
}

func TestDefaultFileConfig(t *testing.T) {
	cfg := DefaultFileConfig("vr.log")
	assert.Equal(t, "vr.log", cfg.Path)
	assert.Equal(t, 32, cfg.MaxSizeMB)
	assert.Equal(t, 5, cfg.MaxBackups)
	assert.Equal(t, 14, cfg.MaxAgeDays)
	assert.True(t, cfg.Compress)
}

func TestGlobalDefaultsToNop(t *testing.T) {
	require.NotNil(t, Log)
	require.NotNil(t, Sugar)
	assert.NotPanics(t, func() { Info("nobody listens") })
}

func TestBuildLeavesGlobalUntouched(t *testing.T) {
	resetGlobal(t)
	before := Log
	path := filepath.Join(t.TempDir(), "engine.log")

	l, err := Build("debug", FileConfig{Path: path}, false)
	require.NoError(t, err)
	l.Named("engine").Debug("engine ready")
	require.NoError(t, l.Sync())

	assert.Same(t, before, Log)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "engine ready")

	_, err = Build("loud", FileConfig{}, false)
	assert.ErrorIs(t, err, ErrInvalidLevel)
}
