package corpus

// Container is a fixed-capacity, insertion-ordered buffer that discards its
// oldest element when appended to past capacity. The corpus uses one to keep
// per-sample ages in lock-step with the backend's live sample range.
type Container[T any] struct {
	items    []T
	capacity int
}

func NewContainer[T any](capacity int) *Container[T] {
	return &Container[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
	}
}

// Append adds v at the newest position, dropping the oldest element first if
// the container is full. Reports whether an element was dropped.
func (c *Container[T]) Append(v T) bool {
	evicted := false
	if len(c.items) == c.capacity {
		c.items = c.items[:copy(c.items, c.items[1:])]
		evicted = true
	}
	c.items = append(c.items, v)
	return evicted
}

func (c *Container[T]) Len() int {
	return len(c.items)
}

// At returns the element at position i, oldest first.
func (c *Container[T]) At(i int) T {
	return c.items[i]
}

func (c *Container[T]) Set(i int, v T) {
	c.items[i] = v
}

func (c *Container[T]) Clear() {
	c.items = c.items[:0]
}

// Replace swaps the contents for vs, keeping at most the newest capacity
// elements.
func (c *Container[T]) Replace(vs []T) {
	if len(vs) > c.capacity {
		vs = vs[len(vs)-c.capacity:]
	}
	c.items = append(c.items[:0], vs...)
}
