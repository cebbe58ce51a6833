package scene

import "github.com/Carmen-Shannon/oxy-vr/engine/light"

// SceneBuilderOption is a functional option for configuring a Scene.
// Use the With* functions to create options.
type SceneBuilderOption func(s *scene)

// WithActive sets whether the scene is active for rendering.
//
// Parameters:
//   - active: whether the scene is active
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithActive(active bool) SceneBuilderOption {
	return func(s *scene) {
		s.active = active
	}
}

// WithLights adds initial scene-level lights.
//
// Parameters:
//   - lights: the lights to add
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithLights(lights ...light.Light) SceneBuilderOption {
	return func(s *scene) {
		for _, l := range lights {
			if l != nil {
				s.lights = append(s.lights, l)
			}
		}
	}
}

// WithCapacity pre-allocates storage for n entities.
//
// Parameters:
//   - n: the expected entity count
//
// Returns:
//   - SceneBuilderOption: option function to apply
func WithCapacity(n int) SceneBuilderOption {
	return func(s *scene) {
		if n > 0 {
			s.nodes = make([]node, 0, n)
			s.stack = make([]frame, 0, n)
		}
	}
}
