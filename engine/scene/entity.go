package scene

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-vr/engine/game_object"
)

// EntityID identifies an entity in one scene. IDs are generational: once an entity is removed its ID never
// resolves again, even after the slot is reused. The zero EntityID means "no entity" (a root's parent).
type EntityID struct {
	Index      uint32
	Generation uint32
}

// IsZero reports whether the ID is the "no entity" value.
//
// Returns:
//   - bool: true for the zero ID
func (id EntityID) IsZero() bool {
	return id.Generation == 0
}

func (id EntityID) String() string {
	if id.IsZero() {
		return "entity(none)"
	}
	return fmt.Sprintf("entity(%d#%d)", id.Index, id.Generation)
}

type node struct {
	obj        game_object.GameObject
	parent     EntityID
	children   []EntityID
	generation uint32
	live       bool
}
