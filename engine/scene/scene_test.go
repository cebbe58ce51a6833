package scene

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-vr/engine/game_object"
	"github.com/Carmen-Shannon/oxy-vr/engine/light"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(s Scene) []string {
	var out []string
	s.Traverse(func(v *Visit) {
		out = append(out, v.Object.Name())
	})
	return out
}

func add(t *testing.T, s Scene, name string, parent EntityID, opts ...game_object.GameObjectBuilderOption) EntityID {
	t.Helper()
	id, err := s.Add(game_object.NewGameObject(append(opts, game_object.WithName(name))...), parent)
	require.NoError(t, err)
	return id
}

func TestTraverseOrderAndWorld(t *testing.T) {
	s := NewScene("test")
	a := add(t, s, "a", EntityID{}, game_object.WithPosition(1, 0, 0))
	b := add(t, s, "b", a, game_object.WithPosition(0, 2, 0), game_object.WithScale(2, 2, 2))
	add(t, s, "c", b, game_object.WithPosition(0, 0, 3))
	add(t, s, "d", a)
	add(t, s, "e", EntityID{})

	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, names(s))

	var world mgl32.Mat4
	s.Traverse(func(v *Visit) {
		if v.Object.Name() == "c" {
			world = v.World
		}
	})
	// c's local (0,0,3) is scaled by b then offset by b and a
	assert.Equal(t, mgl32.Vec3{1, 2, 6}, mgl32.TransformCoordinate(mgl32.Vec3{}, world))
}

func TestDisabledSkipsSubtree(t *testing.T) {
	s := NewScene("test")
	a := add(t, s, "a", EntityID{}, game_object.WithEnabled(false))
	add(t, s, "b", a)
	add(t, s, "c", EntityID{})
	assert.Equal(t, []string{"c"}, names(s))
}

func TestSetParentRejectsCycles(t *testing.T) {
	s := NewScene("test")
	a := add(t, s, "a", EntityID{})
	b := add(t, s, "b", a)
	c := add(t, s, "c", b)

	assert.ErrorIs(t, s.SetParent(a, c), ErrCycle)
	assert.ErrorIs(t, s.SetParent(a, a), ErrCycle)
	assert.Equal(t, []string{"a", "b", "c"}, names(s))

	require.NoError(t, s.SetParent(c, EntityID{}))
	assert.Equal(t, []EntityID{a, c}, s.Roots())
	require.NoError(t, s.SetParent(a, c))
	parent, err := s.Parent(a)
	require.NoError(t, err)
	assert.Equal(t, c, parent)
	assert.Equal(t, []string{"c", "a", "b"}, names(s))
}

func TestAddValidation(t *testing.T) {
	s := NewScene("test")
	obj := game_object.NewGameObject()
	a, err := s.Add(obj, EntityID{})
	require.NoError(t, err)

	_, err = s.Add(obj, a)
	assert.ErrorIs(t, err, ErrAlreadyAdded)
	_, err = s.Add(game_object.NewGameObject(), EntityID{Index: 9, Generation: 1})
	assert.ErrorIs(t, err, ErrUnknownEntity)

	id, ok := s.Lookup(obj)
	assert.True(t, ok)
	assert.Equal(t, a, id)
}

func TestRemoveSubtreeAndGenerations(t *testing.T) {
	s := NewScene("test")
	a := add(t, s, "a", EntityID{})
	b := add(t, s, "b", a)
	add(t, s, "c", b)
	keep := add(t, s, "keep", EntityID{})

	removed, err := s.Remove(a)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.Equal(t, 1, s.Count())
	assert.Equal(t, []EntityID{keep}, s.Roots())

	_, err = s.Get(b)
	assert.ErrorIs(t, err, ErrUnknownEntity)

	reused := add(t, s, "new", EntityID{})
	assert.NotEqual(t, a, reused)
	_, err = s.Get(a)
	assert.ErrorIs(t, err, ErrUnknownEntity)
	_, err = s.Remove(a)
	assert.ErrorIs(t, err, ErrUnknownEntity)
}

func TestClearKeepsGenerations(t *testing.T) {
	s := NewScene("test", WithLights(light.NewLight(light.LightTypeDirectional)))
	a := add(t, s, "a", EntityID{})
	s.Clear()
	assert.Equal(t, 0, s.Count())
	b := add(t, s, "b", EntityID{})
	assert.Equal(t, a.Index, b.Index)
	_, err := s.Get(a)
	assert.ErrorIs(t, err, ErrUnknownEntity)
	assert.Len(t, s.Lights(), 1)
}

func TestDeepHierarchy(t *testing.T) {
	s := NewScene("deep", WithCapacity(16))
	parent := EntityID{}
	for range 100_000 {
		parent = add(t, s, "n", parent, game_object.WithPosition(0, 1, 0))
	}
	count := 0
	var last mgl32.Mat4
	s.Traverse(func(v *Visit) {
		count++
		last = v.World
	})
	assert.Equal(t, 100_000, count)
	assert.Equal(t, float32(100_000), last.At(1, 3))
}
