package animator

import (
	"github.com/Carmen-Shannon/automation/tools/worker"
	"go.uber.org/zap"
)

// AnimatorBuilderOption is a functional option for configuring an Animator.
type AnimatorBuilderOption func(*animator)

// WithWorkerPool evaluates instances on a shared worker pool. Without one, Update evaluates on the
// calling goroutine.
//
// Parameters:
//   - pool: the worker pool
//
// Returns:
//   - AnimatorBuilderOption: the option
func WithWorkerPool(pool worker.DynamicWorkerPool) AnimatorBuilderOption {
	return func(a *animator) {
		a.pool = pool
	}
}

// WithBatchSize sets how many instances one pool task evaluates.
//
// Parameters:
//   - n: instances per task, at least 1
//
// Returns:
//   - AnimatorBuilderOption: the option
func WithBatchSize(n int) AnimatorBuilderOption {
	return func(a *animator) {
		a.batch = max(n, 1)
	}
}

// WithLogger sets the logger.
//
// Parameters:
//   - logger: the logger
//
// Returns:
//   - AnimatorBuilderOption: the option
func WithLogger(logger *zap.Logger) AnimatorBuilderOption {
	return func(a *animator) {
		if logger != nil {
			a.logger = logger.Named("animator")
		}
	}
}
