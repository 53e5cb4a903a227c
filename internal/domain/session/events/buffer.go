// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package events implements the bounded, revision-ordered buffer that feeds
// waitForEvents.
package events

// Item is one buffered value stamped with the session revision it carries.
type Item[T any] struct {
	Revision int64
	Value    T
}

// Buffer is a fixed-capacity ring of items in emission order. Items are never
// removed by reading; only ExpireBelow, overflow and Reset remove them.
type Buffer[T any] struct {
	items []Item[T]
	head  int
	size  int
}

// NewBuffer returns a buffer holding at most capacity items.
func NewBuffer[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]Item[T], capacity)}
}

// Cap returns the capacity.
func (b *Buffer[T]) Cap() int { return len(b.items) }

// Len returns the number of buffered items.
func (b *Buffer[T]) Len() int { return b.size }

// Push appends an item. When full the oldest item is overwritten and dropped
// reports true.
func (b *Buffer[T]) Push(revision int64, v T) (dropped bool) {
	idx := (b.head + b.size) % len(b.items)
	if b.size == len(b.items) {
		b.items[b.head] = Item[T]{Revision: revision, Value: v}
		b.head = (b.head + 1) % len(b.items)
		return true
	}
	b.items[idx] = Item[T]{Revision: revision, Value: v}
	b.size++
	return false
}

// ExpireBelow removes every item whose revision is <= revision and returns
// how many were removed. Order of the survivors is preserved.
func (b *Buffer[T]) ExpireBelow(revision int64) int {
	kept := b.SnapshotInOrder()
	removed := 0
	b.clear()
	for _, it := range kept {
		if it.Revision <= revision {
			removed++
			continue
		}
		b.Push(it.Revision, it.Value)
	}
	return removed
}

// SnapshotInOrder returns a copy of the items, oldest first.
func (b *Buffer[T]) SnapshotInOrder() []Item[T] {
	out := make([]Item[T], 0, b.size)
	for i := 0; i < b.size; i++ {
		out = append(out, b.items[(b.head+i)%len(b.items)])
	}
	return out
}

// Reset drops every item.
func (b *Buffer[T]) Reset() { b.clear() }

func (b *Buffer[T]) clear() {
	var zero Item[T]
	for i := range b.items {
		b.items[i] = zero
	}
	b.head = 0
	b.size = 0
}
