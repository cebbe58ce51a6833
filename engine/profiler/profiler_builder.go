package profiler

import (
	"time"

	"go.uber.org/zap"
)

// ProfilerBuilderOption is a functional option used to configure a Profiler during construction.
type ProfilerBuilderOption func(*Profiler)

// WithLogger sets the logger reports are written to.
//
// Parameters:
//   - logger: the logger, nil keeps the no-op default
//
// Returns:
//   - ProfilerBuilderOption: a function that applies the logger option
func WithLogger(logger *zap.Logger) ProfilerBuilderOption {
	return func(p *Profiler) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithInterval sets how often a report is logged.
//
// Parameters:
//   - interval: the report interval, values <= 0 keep the one second default
//
// Returns:
//   - ProfilerBuilderOption: a function that applies the interval option
func WithInterval(interval time.Duration) ProfilerBuilderOption {
	return func(p *Profiler) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

// WithClock replaces time.Now, for tests.
//
// Parameters:
//   - now: the clock
//
// Returns:
//   - ProfilerBuilderOption: a function that applies the clock option
func WithClock(now func() time.Time) ProfilerBuilderOption {
	return func(p *Profiler) {
		if now != nil {
			p.now = now
		}
	}
}
