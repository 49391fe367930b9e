package toc

import "iter"

// Cursor walks a snapshot of one traversal domain. Advancing past the end
// reports ok=false; it is never an error. Mutating the tree after a cursor
// is created does not affect the cursor.
type Cursor[T any] struct {
	items []T
	pos   int
}

// NewCursor returns a cursor over a copy of items.
func NewCursor[T any](items []T) *Cursor[T] {
	snap := make([]T, len(items))
	copy(snap, items)
	return &Cursor[T]{items: snap}
}

// Next returns the next item.
func (c *Cursor[T]) Next() (T, bool) {
	if c.pos >= len(c.items) {
		var zero T
		return zero, false
	}
	item := c.items[c.pos]
	c.pos++
	return item, true
}

// Done reports whether the cursor is exhausted.
func (c *Cursor[T]) Done() bool {
	return c.pos >= len(c.items)
}

// Len returns the total number of items in the snapshot.
func (c *Cursor[T]) Len() int {
	return len(c.items)
}

// All yields the remaining items, advancing the cursor as it goes.
func (c *Cursor[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			item, ok := c.Next()
			if !ok || !yield(item) {
				return
			}
		}
	}
}
