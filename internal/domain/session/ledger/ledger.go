// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package ledger tracks the image blocks a session has ready for retrieval.
package ledger

import (
	"slices"
)

// Ledger is a sorted set of image block numbers. The zero value is empty and
// ready to use.
type Ledger struct {
	blocks []int
}

// Add inserts n, ignoring duplicates.
func (l *Ledger) Add(n int) {
	i, found := slices.BinarySearch(l.blocks, n)
	if found {
		return
	}
	l.blocks = slices.Insert(l.blocks, i, n)
}

// Sync replaces the contents with blocks as reported by the device bridge.
func (l *Ledger) Sync(blocks []int) {
	next := slices.Clone(blocks)
	slices.Sort(next)
	l.blocks = slices.Compact(next)
}

// Blocks returns a copy of the block numbers in ascending order.
func (l *Ledger) Blocks() []int {
	if len(l.blocks) == 0 {
		return []int{}
	}
	return slices.Clone(l.blocks)
}

// Len returns the number of blocks held.
func (l *Ledger) Len() int { return len(l.blocks) }

// Empty reports whether no blocks are held.
func (l *Ledger) Empty() bool { return len(l.blocks) == 0 }

// Contains reports whether block n is held.
func (l *Ledger) Contains(n int) bool {
	_, found := slices.BinarySearch(l.blocks, n)
	return found
}

// Clamp narrows [lo,hi] to the blocks that exist. ok is false when the
// ledger is empty or the range does not overlap it.
func (l *Ledger) Clamp(lo, hi int) (int, int, bool) {
	if len(l.blocks) == 0 || hi < lo {
		return 0, 0, false
	}
	first, last := l.blocks[0], l.blocks[len(l.blocks)-1]
	if hi < first || lo > last {
		return 0, 0, false
	}
	return max(lo, first), min(hi, last), true
}

// Release removes every block in [lo,hi] after clamping to the held range and
// returns what was removed. Ranges outside the ledger are not an error.
func (l *Ledger) Release(lo, hi int) []int {
	lo, hi, ok := l.Clamp(lo, hi)
	if !ok {
		return nil
	}
	var released []int
	kept := l.blocks[:0]
	for _, b := range l.blocks {
		if b >= lo && b <= hi {
			released = append(released, b)
			continue
		}
		kept = append(kept, b)
	}
	l.blocks = kept
	return released
}

// Clone returns an independent copy.
func (l Ledger) Clone() Ledger {
	return Ledger{blocks: slices.Clone(l.blocks)}
}
