package ecsmem

// typedColumn is a concrete ecsface.Column backed by a Go slice, keeping
// structure-of-arrays storage: one slice per (archetype, component, field).
type typedColumn[T any] struct {
	values []T
}

func (c *typedColumn[T]) Len() int { return len(c.values) }

func (c *typedColumn[T]) At(i int) any { return c.values[i] }

func newColumn[T any](values []T) *typedColumn[T] {
	return &typedColumn[T]{values: values}
}
