package bind_group_provider

import "github.com/Carmen-Shannon/oxy-vr/engine/renderer/device"

// BindGroupProviderOption is a functional option used to configure a BindGroupProvider during construction.
type BindGroupProviderOption func(*bindGroupProvider)

// WithBuffer binds a buffer at a binding index.
//
// Parameters:
//   - binding: the binding index
//   - buf: the buffer to bind
//
// Returns:
//   - BindGroupProviderOption: a function that binds the buffer on the provider
func WithBuffer(binding uint32, buf device.Buffer) BindGroupProviderOption {
	return func(p *bindGroupProvider) {
		p.buffers[binding] = buf
	}
}
