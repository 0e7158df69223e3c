// Package registry stores subscriptions in depth-indexed layers.
//
// Each layer maps a condition name to a sequence of slots. A slot keeps its
// index for life: Unregister tombstones it in place and the lowest free index
// is handed out again by the next Register on the same (depth, condition).
//
// A Registry is not safe for concurrent use. The dispatcher serialises access.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

var (
	// ErrNegativeDepth is returned when a layer index below zero is requested.
	ErrNegativeDepth = errors.New("negative depth")
	// ErrOutOfRange is returned when a write targets a depth, condition or id that was never issued.
	ErrOutOfRange = errors.New("subscription out of range")
)

// Entry is a live slot as seen by a dispatch pass.
type Entry[T any] struct {
	ID    int
	Value T
}

// ConditionStats summarises one condition sequence.
type ConditionStats struct {
	Depth     int    `json:"depth"`
	Condition string `json:"condition"`
	Slots     int    `json:"slots"`
	Live      int    `json:"live"`
	InFlight  bool   `json:"in_flight"`
}

type slot[T any] struct {
	value T
	live  bool
}

type sequence[T any] struct {
	slots []slot[T]
	free  []int // tombstoned indices, ascending
}

type layer[T any] struct {
	conditions map[string]*sequence[T]
	boxes      map[string][]any
}

func newLayer[T any]() *layer[T] {
	return &layer[T]{
		conditions: make(map[string]*sequence[T]),
		boxes:      make(map[string][]any),
	}
}

// Registry is the layered subscription store.
type Registry[T any] struct {
	layers []*layer[T]
}

// New returns an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{}
}

// Layers returns the number of allocated layers.
func (r *Registry[T]) Layers() int {
	return len(r.layers)
}

// Register stores value under (depth, condition) and returns its slot id.
// Layers up to depth are created on demand.
func (r *Registry[T]) Register(depth int, condition string, value T) (int, error) {
	if depth < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativeDepth, depth)
	}
	for len(r.layers) <= depth {
		r.layers = append(r.layers, newLayer[T]())
	}

	l := r.layers[depth]
	seq, ok := l.conditions[condition]
	if !ok {
		seq = &sequence[T]{}
		l.conditions[condition] = seq
	}

	if len(seq.free) > 0 {
		id := seq.free[0]
		seq.free = seq.free[1:]
		seq.slots[id] = slot[T]{value: value, live: true}
		return id, nil
	}

	seq.slots = append(seq.slots, slot[T]{value: value, live: true})
	return len(seq.slots) - 1, nil
}

// Unregister tombstones slot id. The sequence keeps its length so other ids stay valid.
func (r *Registry[T]) Unregister(depth int, condition string, id int) error {
	seq := r.sequence(depth, condition)
	if seq == nil {
		return fmt.Errorf("%w: depth %d condition %q", ErrOutOfRange, depth, condition)
	}
	if id < 0 || id >= len(seq.slots) {
		return fmt.Errorf("%w: depth %d condition %q id %d (slots %d)", ErrOutOfRange, depth, condition, id, len(seq.slots))
	}
	if !seq.slots[id].live {
		return nil
	}

	seq.slots[id] = slot[T]{}
	pos, _ := slices.BinarySearch(seq.free, id)
	seq.free = slices.Insert(seq.free, pos, id)
	return nil
}

// Len returns the slot count for (depth, condition), tombstones included.
func (r *Registry[T]) Len(depth int, condition string) int {
	seq := r.sequence(depth, condition)
	if seq == nil {
		return 0
	}
	return len(seq.slots)
}

// Known reports whether condition has ever been registered at depth since the last reset
// that removed it.
func (r *Registry[T]) Known(depth int, condition string) bool {
	return r.sequence(depth, condition) != nil
}

// Live returns a copy of the live slots of (depth, condition) in ascending id order.
func (r *Registry[T]) Live(depth int, condition string) []Entry[T] {
	seq := r.sequence(depth, condition)
	if seq == nil {
		return nil
	}
	out := make([]Entry[T], 0, len(seq.slots)-len(seq.free))
	for id, s := range seq.slots {
		if s.live {
			out = append(out, Entry[T]{ID: id, Value: s.value})
		}
	}
	return out
}

// ResetAll discards every layer.
func (r *Registry[T]) ResetAll() {
	r.layers = nil
}

// ResetLayer replaces the condition and safety box tables at depth with empty ones.
func (r *Registry[T]) ResetLayer(depth int) {
	if depth < 0 || depth >= len(r.layers) {
		return
	}
	r.layers[depth] = newLayer[T]()
}

// ResetCondition empties the sequence of (depth, condition) and drops its safety box.
// The condition stays known.
func (r *Registry[T]) ResetCondition(depth int, condition string) {
	l := r.layer(depth)
	if l == nil {
		return
	}
	if _, ok := l.conditions[condition]; !ok {
		return
	}
	l.conditions[condition] = &sequence[T]{}
	delete(l.boxes, condition)
}

// Stats lists every condition ordered by depth then name.
func (r *Registry[T]) Stats() []ConditionStats {
	var out []ConditionStats
	for depth, l := range r.layers {
		names := make([]string, 0, len(l.conditions))
		for name := range l.conditions {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			seq := l.conditions[name]
			out = append(out, ConditionStats{
				Depth:     depth,
				Condition: name,
				Slots:     len(seq.slots),
				Live:      len(seq.slots) - len(seq.free),
				InFlight:  len(l.boxes[name]) > 0,
			})
		}
	}
	return out
}

func (r *Registry[T]) layer(depth int) *layer[T] {
	if depth < 0 || depth >= len(r.layers) {
		return nil
	}
	return r.layers[depth]
}

func (r *Registry[T]) sequence(depth int, condition string) *sequence[T] {
	l := r.layer(depth)
	if l == nil {
		return nil
	}
	return l.conditions[condition]
}
