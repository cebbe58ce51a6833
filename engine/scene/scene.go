package scene

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/Carmen-Shannon/oxy-vr/engine/game_object"
	"github.com/Carmen-Shannon/oxy-vr/engine/light"
	"github.com/go-gl/mathgl/mgl32"
)

var (
	// ErrCycle is returned when a parent assignment would make an entity its own ancestor.
	ErrCycle = errors.New("entity hierarchy cycle")

	// ErrUnknownEntity is returned for IDs that do not resolve to a live entity.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrAlreadyAdded is returned when a GameObject is added to a scene that already holds it.
	ErrAlreadyAdded = errors.New("object already in scene")
)

// Visit is passed to the Traverse callback for every enabled entity.
type Visit struct {
	ID     EntityID
	Parent EntityID
	Object game_object.GameObject
	State  game_object.RenderState
	World  mgl32.Mat4
}

type frame struct {
	id    EntityID
	world mgl32.Mat4
}

type scene struct {
	mu *sync.RWMutex

	name   string
	active bool

	nodes   []node
	free    []uint32
	roots   []EntityID
	objects map[game_object.GameObject]EntityID

	lights []light.Light

	walkMu *sync.Mutex
	stack  []frame
}

// Scene is a forest of entities. Each entity wraps a GameObject and has at most one parent; world transforms
// compose as parent_world * local. Thread-safe for concurrent access; Traverse callbacks must not mutate
// the scene.
type Scene interface {
	// Name returns the scene's identifier.
	Name() string

	// SetName sets the scene's identifier.
	SetName(name string)

	// Active returns whether this scene is currently active for rendering.
	Active() bool

	// SetActive sets whether this scene is active for rendering.
	SetActive(active bool)

	// Add inserts a GameObject as a new entity.
	//
	// Parameters:
	//   - obj: the payload
	//   - parent: the parent entity, zero for a root
	//
	// Returns:
	//   - EntityID: the new entity
	//   - error: ErrUnknownEntity for a dead parent, ErrAlreadyAdded if obj is already in the scene
	Add(obj game_object.GameObject, parent EntityID) (EntityID, error)

	// Get resolves an entity.
	//
	// Parameters:
	//   - id: the entity
	//
	// Returns:
	//   - game_object.GameObject: the payload
	//   - error: ErrUnknownEntity
	Get(id EntityID) (game_object.GameObject, error)

	// Lookup finds the entity holding a GameObject.
	//
	// Parameters:
	//   - obj: the payload
	//
	// Returns:
	//   - EntityID: the entity
	//   - bool: false if obj is not in the scene
	Lookup(obj game_object.GameObject) (EntityID, bool)

	// Remove deletes an entity and its whole subtree.
	//
	// Parameters:
	//   - id: the entity
	//
	// Returns:
	//   - int: the number of entities removed
	//   - error: ErrUnknownEntity
	Remove(id EntityID) (int, error)

	// SetParent re-parents an entity, keeping its local transform.
	//
	// Parameters:
	//   - id: the entity
	//   - parent: the new parent, zero to make it a root
	//
	// Returns:
	//   - error: ErrCycle if parent is id or one of its descendants, ErrUnknownEntity
	SetParent(id, parent EntityID) error

	// Parent returns an entity's parent, zero for roots.
	//
	// Parameters:
	//   - id: the entity
	//
	// Returns:
	//   - EntityID: the parent
	//   - error: ErrUnknownEntity
	Parent(id EntityID) (EntityID, error)

	// Children returns a copy of an entity's children in insertion order.
	//
	// Parameters:
	//   - id: the entity
	//
	// Returns:
	//   - []EntityID: the children
	//   - error: ErrUnknownEntity
	Children(id EntityID) ([]EntityID, error)

	// Roots returns a copy of the root entities in insertion order.
	Roots() []EntityID

	// Count returns the number of live entities.
	Count() int

	// Clear removes every entity. Lights are kept.
	Clear()

	// AddLight adds a scene-level light.
	AddLight(l light.Light)

	// RemoveLight removes a scene-level light.
	RemoveLight(l light.Light)

	// Lights returns a copy of the scene-level lights. Lights attached to GameObjects are reported by
	// Traverse instead.
	Lights() []light.Light

	// Traverse visits every enabled entity depth-first, parents before children, roots and siblings in
	// insertion order. Disabled entities are skipped with their subtrees. The walk uses an explicit stack,
	// so hierarchy depth is bounded only by memory.
	//
	// Parameters:
	//   - fn: called once per visited entity; the Visit is reused between calls
	Traverse(fn func(v *Visit))
}

var _ Scene = &scene{}

// NewScene creates an empty, inactive scene.
//
// Parameters:
//   - name: the name of the scene
//   - options: functional options to further configure the scene
//
// Returns:
//   - Scene: the newly created scene
func NewScene(name string, options ...SceneBuilderOption) Scene {
	s := &scene{
		mu:      &sync.RWMutex{},
		name:    name,
		objects: make(map[game_object.GameObject]EntityID),
		walkMu:  &sync.Mutex{},
	}
	for _, option := range options {
		option(s)
	}
	return s
}

func (s *scene) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *scene) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

func (s *scene) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *scene) SetActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = active
}

func (s *scene) Add(obj game_object.GameObject, parent EntityID) (EntityID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(obj, parent)
}

// add inserts under the write lock.
func (s *scene) add(obj game_object.GameObject, parent EntityID) (EntityID, error) {
	if obj == nil {
		return EntityID{}, fmt.Errorf("%w: nil object", ErrUnknownEntity)
	}
	if existing, ok := s.objects[obj]; ok {
		return EntityID{}, fmt.Errorf("%w: %s", ErrAlreadyAdded, existing)
	}
	if !parent.IsZero() {
		if _, err := s.node(parent); err != nil {
			return EntityID{}, err
		}
	}

	var idx uint32
	if n := len(s.free); n > 0 {
		idx = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		idx = uint32(len(s.nodes))
		s.nodes = append(s.nodes, node{})
	}
	n := &s.nodes[idx]
	n.generation++
	if n.generation == 0 {
		n.generation = 1
	}
	n.obj = obj
	n.parent = parent
	n.children = n.children[:0]
	n.live = true

	id := EntityID{Index: idx, Generation: n.generation}
	s.objects[obj] = id
	s.attach(id, parent)
	return id, nil
}

func (s *scene) node(id EntityID) (*node, error) {
	if id.IsZero() || int(id.Index) >= len(s.nodes) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, id)
	}
	n := &s.nodes[id.Index]
	if !n.live || n.generation != id.Generation {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, id)
	}
	return n, nil
}

func (s *scene) attach(id, parent EntityID) {
	if parent.IsZero() {
		s.roots = append(s.roots, id)
		return
	}
	p := &s.nodes[parent.Index]
	p.children = append(p.children, id)
}

func (s *scene) detach(id, parent EntityID) {
	if parent.IsZero() {
		s.roots = slices.DeleteFunc(s.roots, func(e EntityID) bool { return e == id })
		return
	}
	p := &s.nodes[parent.Index]
	p.children = slices.DeleteFunc(p.children, func(e EntityID) bool { return e == id })
}

func (s *scene) Get(id EntityID) (game_object.GameObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, err := s.node(id)
	if err != nil {
		return nil, err
	}
	return n.obj, nil
}

func (s *scene) Lookup(obj game_object.GameObject) (EntityID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.objects[obj]
	return id, ok
}

func (s *scene) Remove(id EntityID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.node(id)
	if err != nil {
		return 0, err
	}
	s.detach(id, n.parent)

	removed := 0
	pending := []EntityID{id}
	for len(pending) > 0 {
		cur := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		cn := &s.nodes[cur.Index]
		pending = append(pending, cn.children...)
		delete(s.objects, cn.obj)
		cn.obj = nil
		cn.parent = EntityID{}
		cn.children = cn.children[:0]
		cn.live = false
		s.free = append(s.free, cur.Index)
		removed++
	}
	return removed, nil
}

func (s *scene) SetParent(id, parent EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.node(id)
	if err != nil {
		return err
	}
	if !parent.IsZero() {
		if _, err := s.node(parent); err != nil {
			return err
		}
		// walk up from the new parent; meeting id means parent is id or its descendant
		for cur := parent; !cur.IsZero(); cur = s.nodes[cur.Index].parent {
			if cur == id {
				return fmt.Errorf("%w: %s under %s", ErrCycle, id, parent)
			}
		}
	}
	if n.parent == parent {
		return nil
	}
	s.detach(id, n.parent)
	n.parent = parent
	s.attach(id, parent)
	return nil
}

func (s *scene) Parent(id EntityID) (EntityID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, err := s.node(id)
	if err != nil {
		return EntityID{}, err
	}
	return n.parent, nil
}

func (s *scene) Children(id EntityID) ([]EntityID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, err := s.node(id)
	if err != nil {
		return nil, err
	}
	return slices.Clone(n.children), nil
}

func (s *scene) Roots() []EntityID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.roots)
}

func (s *scene) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func (s *scene) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.nodes {
		n := &s.nodes[i]
		if !n.live {
			continue
		}
		n.obj = nil
		n.parent = EntityID{}
		n.children = n.children[:0]
		n.live = false
		s.free = append(s.free, uint32(i))
	}
	s.roots = s.roots[:0]
	s.objects = make(map[game_object.GameObject]EntityID)
}

func (s *scene) AddLight(l light.Light) {
	if l == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lights = append(s.lights, l)
}

func (s *scene) RemoveLight(l light.Light) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lights = slices.DeleteFunc(s.lights, func(e light.Light) bool { return e == l })
}

func (s *scene) Lights() []light.Light {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.lights)
}

func (s *scene) Traverse(fn func(v *Visit)) {
	s.walkMu.Lock()
	defer s.walkMu.Unlock()
	s.mu.RLock()
	defer s.mu.RUnlock()

	stack := s.stack[:0]
	for i := len(s.roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{id: s.roots[i], world: mgl32.Ident4()})
	}

	var v Visit
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n := &s.nodes[top.id.Index]
		if !n.obj.Enabled() {
			continue
		}
		v = Visit{
			ID:     top.id,
			Parent: n.parent,
			Object: n.obj,
			State:  n.obj.RenderState(),
		}
		// top.world holds the parent's world transform
		v.World = top.world.Mul4(v.State.Local)
		fn(&v)

		for i := len(n.children) - 1; i >= 0; i-- {
			stack = append(stack, frame{id: n.children[i], world: v.World})
		}
	}
	s.stack = stack[:0]
}
