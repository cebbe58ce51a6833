package loader

import "go.uber.org/zap"

// LoaderBuilderOption is a functional option for configuring a Loader via NewLoader.
type LoaderBuilderOption func(*loader)

// WithLogger sets the logger used for import diagnostics.
//
// Parameters:
//   - logger: the logger, nil keeps the no-op default
//
// Returns:
//   - LoaderBuilderOption: a function that applies the logger option to a loader
func WithLogger(logger *zap.Logger) LoaderBuilderOption {
	return func(l *loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMaxTextureSize bounds the longer side of imported textures; larger images are downscaled.
//
// Parameters:
//   - size: the limit in pixels, zero disables downscaling
//
// Returns:
//   - LoaderBuilderOption: a function that applies the size option to a loader
func WithMaxTextureSize(size int) LoaderBuilderOption {
	return func(l *loader) {
		if size >= 0 {
			l.maxTextureSize = size
		}
	}
}

// WithAsset pre-populates the cache.
//
// Parameters:
//   - key: the cache key
//   - asset: the asset to cache
//
// Returns:
//   - LoaderBuilderOption: a function that applies the asset option to a loader
func WithAsset(key string, asset *Asset) LoaderBuilderOption {
	return func(l *loader) {
		if asset != nil {
			l.cache[key] = asset
		}
	}
}
