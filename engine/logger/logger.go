package logger

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ErrInvalidLevel is returned when a level name is not one of debug, info, warn or error.
var ErrInvalidLevel = errors.New("invalid log level")

var (
	mu sync.Mutex

	// Log is the process-wide logger. It is a no-op logger until Init or InitWithFileConfig runs.
	Log = zap.NewNop()

	// Sugar is the sugared form of Log.
	Sugar = Log.Sugar()

	helpers = Log
)

// FileConfig describes the rotating log file.
type FileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// DefaultFileConfig returns rotation settings for a log file at path.
//
// Parameters:
//   - path: the log file path
//
// Returns:
//   - FileConfig: 32 MB per file, 5 backups kept for 14 days, compressed
func DefaultFileConfig(path string) FileConfig {
	return FileConfig{
		Path:       path,
		MaxSizeMB:  32,
		MaxBackups: 5,
		MaxAgeDays: 14,
		Compress:   true,
	}
}

// Init installs a console logger at the given level, plus a rotating file logger when logFile is not empty.
//
// Parameters:
//   - level: one of debug, info, warn, error
//   - logFile: the log file path, or "" for console only
//
// Returns:
//   - error: ErrInvalidLevel if level is unknown
func Init(level, logFile string) error {
	var file FileConfig
	if logFile != "" {
		file = DefaultFileConfig(logFile)
	}
	return InitWithFileConfig(level, file, true)
}

// InitWithFileConfig installs the global logger from explicit file settings.
// With console false and an empty file path the logger discards everything.
//
// Parameters:
//   - level: one of debug, info, warn, error
//   - file: the rotating file settings, Path "" disables the file sink
//   - console: whether to also log to stdout
//
// Returns:
//   - error: ErrInvalidLevel if level is unknown
func InitWithFileConfig(level string, file FileConfig, console bool) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	install(newCore(lvl, console, rotatingFile(file)))
	return nil
}

// Build creates a standalone logger from the settings InitWithFileConfig takes, leaving the global
// logger untouched.
//
// Parameters:
//   - level: one of debug, info, warn, error
//   - file: the rotating file settings, Path "" disables the file sink
//   - console: whether to also log to stdout
//
// Returns:
//   - *zap.Logger: the logger
//   - error: ErrInvalidLevel if level is unknown
func Build(level string, file FileConfig, console bool) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return zap.New(newCore(lvl, console, rotatingFile(file)), zap.AddCaller()), nil
}

func rotatingFile(file FileConfig) *lumberjack.Logger {
	if file.Path == "" {
		return nil
	}
	return &lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
		MaxAge:     file.MaxAgeDays,
		Compress:   file.Compress,
		LocalTime:  true,
	}
}

// New builds a standalone logger writing to w, for components that are handed a logger rather than
// using the global one.
//
// Parameters:
//   - level: one of debug, info, warn, error
//   - w: the destination
//
// Returns:
//   - *zap.Logger: the logger
//   - error: ErrInvalidLevel if level is unknown
func New(level string, w io.Writer) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(fileEncoderConfig()), zapcore.AddSync(w), lvl)
	return zap.New(core, zap.AddCaller()), nil
}

// ParseLevel maps a level name to its zap level. An empty name means info.
//
// Parameters:
//   - level: the level name
//
// Returns:
//   - zapcore.Level: the level
//   - error: ErrInvalidLevel if the name is unknown
func ParseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("%w: %q", ErrInvalidLevel, level)
}

// Named returns a child of the global logger scoped to a component.
//
// Parameters:
//   - name: the component name
//
// Returns:
//   - *zap.Logger: the child logger
func Named(name string) *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	return Log.Named(name)
}

// Sync flushes buffered entries. Errors from syncing stdout are ignored.
func Sync() {
	mu.Lock()
	l := Log
	mu.Unlock()
	_ = l.Sync()
}

func Debug(msg string, fields ...zap.Field) { current().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { current().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { current().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { current().Error(msg, fields...) }

// Fatal logs and exits the process.
func Fatal(msg string, fields ...zap.Field) { current().Fatal(msg, fields...) }

func current() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	return helpers
}

func install(core zapcore.Core) {
	mu.Lock()
	defer mu.Unlock()
	Log = zap.New(core, zap.AddCaller())
	Sugar = Log.Sugar()
	helpers = Log.WithOptions(zap.AddCallerSkip(1))
}

func newCore(lvl zapcore.Level, console bool, rotating *lumberjack.Logger) zapcore.Core {
	var cores []zapcore.Core
	if console {
		cfg := fileEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.Lock(os.Stdout), lvl))
	}
	if rotating != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(fileEncoderConfig()), zapcore.AddSync(rotating), lvl))
	}
	return zapcore.NewTee(cores...)
}

func fileEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:          "time",
		LevelKey:         "level",
		NameKey:          "logger",
		MessageKey:       "msg",
		CallerKey:        "caller",
		EncodeTime:       zapcore.ISO8601TimeEncoder,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeCaller:     zapcore.ShortCallerEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	}
}
