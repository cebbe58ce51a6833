package resources

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-vr/common"
)

type slot[T any] struct {
	value      T
	generation uint32
	live       bool
}

// table is a generational slot array. Removed slots are reused LIFO with a bumped generation, so a handle
// to a removed entry never resolves to its replacement.
type table[T any] struct {
	kind  string
	limit int
	slots []slot[T]
	free  []uint32
	count int
}

func newTable[T any](kind string, limit int) *table[T] {
	// NotPresent is never a valid index
	limit = min(max(limit, 0), int(common.NotPresent))
	return &table[T]{kind: kind, limit: limit}
}

func (t *table[T]) insert(v T) (common.Handle, error) {
	if t.count >= t.limit {
		return common.Handle{}, fmt.Errorf("%w: %s limit %d reached", ErrResourceExhausted, t.kind, t.limit)
	}
	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		idx = uint32(len(t.slots))
		t.slots = append(t.slots, slot[T]{})
	}
	s := &t.slots[idx]
	s.generation++
	if s.generation == 0 {
		s.generation = 1
	}
	s.value = v
	s.live = true
	t.count++
	return common.Handle{Index: idx, Generation: s.generation}, nil
}

func (t *table[T]) lookup(h common.Handle) (*slot[T], error) {
	if h.IsZero() || int(h.Index) >= len(t.slots) {
		return nil, fmt.Errorf("%w: %s %s", ErrStaleHandle, t.kind, h)
	}
	s := &t.slots[h.Index]
	if !s.live || s.generation != h.Generation {
		return nil, fmt.Errorf("%w: %s %s", ErrStaleHandle, t.kind, h)
	}
	return s, nil
}

func (t *table[T]) get(h common.Handle) (T, error) {
	s, err := t.lookup(h)
	if err != nil {
		var zero T
		return zero, err
	}
	return s.value, nil
}

func (t *table[T]) valid(h common.Handle) bool {
	_, err := t.lookup(h)
	return err == nil
}

func (t *table[T]) remove(h common.Handle) (T, error) {
	s, err := t.lookup(h)
	if err != nil {
		var zero T
		return zero, err
	}
	v := s.value
	var zero T
	s.value = zero
	s.live = false
	t.free = append(t.free, h.Index)
	t.count--
	return v, nil
}

// each visits live entries in index order.
func (t *table[T]) each(fn func(idx uint32, v T)) {
	for i := range t.slots {
		if t.slots[i].live {
			fn(uint32(i), t.slots[i].value)
		}
	}
}

// span is the number of slots ever allocated, live or free.
func (t *table[T]) span() int {
	return len(t.slots)
}
