package artifact

import "github.com/pgavlin/wasmu/artifact/internal/archive"

// MapRef is a read-only indexed sequence that is either owned by a Build or archived in the buffer of a
// BuildRef. Both forms return equal elements; elements of an archived MapRef may alias the archive.
type MapRef[T any] struct {
	owned    []T
	archived *archive.Vector[T]
}

// OwnedMapRef returns a MapRef over s.
func OwnedMapRef[T any](s []T) MapRef[T] {
	return MapRef[T]{owned: s}
}

func archivedMapRef[T any](v archive.Vector[T]) MapRef[T] {
	return MapRef[T]{archived: &v}
}

// IsArchived reports whether the sequence is backed by an archive.
func (m MapRef[T]) IsArchived() bool {
	return m.archived != nil
}

func (m MapRef[T]) Len() int {
	if m.archived != nil {
		return m.archived.Len()
	}
	return len(m.owned)
}

// Get returns the element at index i, or false if i is out of range.
func (m MapRef[T]) Get(i int) (T, bool) {
	if i < 0 || i >= m.Len() {
		var zero T
		return zero, false
	}
	return m.At(i), true
}

// At returns the element at index i. It panics if i is out of range.
func (m MapRef[T]) At(i int) T {
	if m.archived != nil {
		if i < 0 || i >= m.archived.Len() {
			panic("artifact: index out of range")
		}
		return m.archived.At(i)
	}
	return m.owned[i]
}

// Each calls f for each element in order until f returns false.
func (m MapRef[T]) Each(f func(i int, v T) bool) {
	for i, n := 0, m.Len(); i < n; i++ {
		if !f(i, m.At(i)) {
			return
		}
	}
}

// ToOwned returns the elements as a slice that does not alias the archive. The result is nil if the
// sequence is empty.
func (m MapRef[T]) ToOwned() []T {
	n := m.Len()
	if n == 0 {
		return nil
	}
	out := make([]T, n)
	if m.archived == nil {
		copy(out, m.owned)
		return out
	}
	for i := range out {
		out[i] = m.archived.Own(i)
	}
	return out
}
