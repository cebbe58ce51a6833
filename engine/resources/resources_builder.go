package resources

import "go.uber.org/zap"

type tablesConfig struct {
	limits      Limits
	retirer     Retirer
	vertexArena uint64
	indexArena  uint64
	logger      *zap.Logger
}

// TablesBuilderOption is a functional option for configuring Tables via NewTables.
type TablesBuilderOption func(*tablesConfig)

// WithLimits overrides the table limits. A joints-per-skin value outside (0, 64] is reset to 64.
//
// Parameters:
//   - limits: the limits
//
// Returns:
//   - TablesBuilderOption: a function that applies the limits
func WithLimits(limits Limits) TablesBuilderOption {
	return func(c *tablesConfig) {
		c.limits = limits
	}
}

// WithRetirer routes released arena buffers and textures through r instead of releasing them at once.
//
// Parameters:
//   - r: the retirer, normally the frame synchronizer
//
// Returns:
//   - TablesBuilderOption: a function that applies the retirer
func WithRetirer(r Retirer) TablesBuilderOption {
	return func(c *tablesConfig) {
		c.retirer = r
	}
}

// WithArenaCapacity sets the initial vertex and index arena sizes in bytes.
//
// Parameters:
//   - vertexBytes: initial vertex arena capacity
//   - indexBytes: initial index arena capacity
//
// Returns:
//   - TablesBuilderOption: a function that applies the capacities
func WithArenaCapacity(vertexBytes, indexBytes uint64) TablesBuilderOption {
	return func(c *tablesConfig) {
		c.vertexArena = vertexBytes
		c.indexArena = indexBytes
	}
}

// WithLogger sets the logger for arena growth and fallbacks.
//
// Parameters:
//   - logger: the logger
//
// Returns:
//   - TablesBuilderOption: a function that applies the logger
func WithLogger(logger *zap.Logger) TablesBuilderOption {
	return func(c *tablesConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}
