package common

import "fmt"

// Handle addresses a slot in a generational table. Generation 0 is never issued, so the zero Handle is the
// "absent" reference.
type Handle struct {
	Index      uint32
	Generation uint32
}

// IsZero reports whether the handle is the absent reference.
//
// Returns:
//   - bool: true if no slot is referenced
func (h Handle) IsZero() bool {
	return h.Generation == 0
}

func (h Handle) String() string {
	if h.IsZero() {
		return "none"
	}
	return fmt.Sprintf("%d#%d", h.Index, h.Generation)
}

// MeshHandle references a registered mesh.
type MeshHandle Handle

// IsZero reports whether the handle is the absent reference.
func (h MeshHandle) IsZero() bool { return Handle(h).IsZero() }

func (h MeshHandle) String() string { return Handle(h).String() }

// MaterialHandle references a registered material.
type MaterialHandle Handle

// IsZero reports whether the handle is the absent reference.
func (h MaterialHandle) IsZero() bool { return Handle(h).IsZero() }

func (h MaterialHandle) String() string { return Handle(h).String() }

// TextureHandle references a registered texture.
type TextureHandle Handle

// IsZero reports whether the handle is the absent reference.
func (h TextureHandle) IsZero() bool { return Handle(h).IsZero() }

func (h TextureHandle) String() string { return Handle(h).String() }

// SkinHandle references a registered skin.
type SkinHandle Handle

// IsZero reports whether the handle is the absent reference.
func (h SkinHandle) IsZero() bool { return Handle(h).IsZero() }

func (h SkinHandle) String() string { return Handle(h).String() }
