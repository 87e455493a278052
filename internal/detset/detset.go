// Package detset provides a container that groups detector data by
// detector element id.
//
// A Vector keeps one Set per id. Sets are iterated in ascending id order;
// elements inside a set keep their insertion order.
package detset

import "sort"

// Set holds the data recorded on a single detector element.
type Set[T any] struct {
	ID   uint32
	Data []T
}

// Push appends v to the set.
func (s *Set[T]) Push(v T) {
	s.Data = append(s.Data, v)
}

// Len returns the number of elements in the set.
func (s *Set[T]) Len() int {
	return len(s.Data)
}

// Vector is a collection of Sets keyed by detector element id.
// The zero value is ready to use.
type Vector[T any] struct {
	sets  []*Set[T] // sorted by ID
	index map[uint32]int
}

// FindOrInsert returns the set for id, creating an empty one if absent.
func (v *Vector[T]) FindOrInsert(id uint32) *Set[T] {
	if s, ok := v.Find(id); ok {
		return s
	}

	pos := sort.Search(len(v.sets), func(i int) bool { return v.sets[i].ID >= id })
	s := &Set[T]{ID: id}
	v.sets = append(v.sets, nil)
	copy(v.sets[pos+1:], v.sets[pos:])
	v.sets[pos] = s

	v.reindex()
	return s
}

// Find returns the set for id if one exists.
func (v *Vector[T]) Find(id uint32) (*Set[T], bool) {
	if v.index == nil {
		return nil, false
	}
	i, ok := v.index[id]
	if !ok {
		return nil, false
	}
	return v.sets[i], true
}

// Sets returns the sets in ascending id order. The slice is a copy; the
// sets themselves are shared with the vector.
func (v *Vector[T]) Sets() []*Set[T] {
	out := make([]*Set[T], len(v.sets))
	copy(out, v.sets)
	return out
}

// IDs returns the detector element ids present, ascending.
func (v *Vector[T]) IDs() []uint32 {
	ids := make([]uint32, len(v.sets))
	for i, s := range v.sets {
		ids[i] = s.ID
	}
	return ids
}

// Len returns the number of sets.
func (v *Vector[T]) Len() int {
	return len(v.sets)
}

// Size returns the total number of elements across all sets.
func (v *Vector[T]) Size() int {
	n := 0
	for _, s := range v.sets {
		n += len(s.Data)
	}
	return n
}

// Each calls fn for every element in id order, then insertion order.
// Iteration stops early when fn returns false.
func (v *Vector[T]) Each(fn func(id uint32, item T) bool) {
	for _, s := range v.sets {
		for _, item := range s.Data {
			if !fn(s.ID, item) {
				return
			}
		}
	}
}

func (v *Vector[T]) reindex() {
	if v.index == nil {
		v.index = make(map[uint32]int, len(v.sets))
	}
	for i, s := range v.sets {
		v.index[s.ID] = i
	}
}
