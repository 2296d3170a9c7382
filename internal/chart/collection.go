package chart

// Collection is an ordered list that notifies subscribers when items are
// added or removed.
type Collection[T comparable] struct {
	items   []T
	added   []func(T)
	removed []func(T)
}

// OnAdded registers fn to run after an item is appended.
func (c *Collection[T]) OnAdded(fn func(T)) { c.added = append(c.added, fn) }

// OnRemoved registers fn to run after an item is removed.
func (c *Collection[T]) OnRemoved(fn func(T)) { c.removed = append(c.removed, fn) }

// Append adds item unless it is already present.
func (c *Collection[T]) Append(item T) {
	if c.Contains(item) {
		return
	}
	c.items = append(c.items, item)
	for _, fn := range c.added {
		fn(item)
	}
}

// Remove deletes item and reports whether it was present.
func (c *Collection[T]) Remove(item T) bool {
	for i, it := range c.items {
		if it == item {
			c.items = append(c.items[:i], c.items[i+1:]...)
			for _, fn := range c.removed {
				fn(item)
			}
			return true
		}
	}
	return false
}

// Contains reports whether item is present.
func (c *Collection[T]) Contains(item T) bool {
	for _, it := range c.items {
		if it == item {
			return true
		}
	}
	return false
}

// Items returns a copy of the items in insertion order.
func (c *Collection[T]) Items() []T { return append([]T(nil), c.items...) }

// Len returns the number of items.
func (c *Collection[T]) Len() int { return len(c.items) }
