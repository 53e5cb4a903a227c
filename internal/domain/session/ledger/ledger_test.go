// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddKeepsSortedUnique(t *testing.T) {
	var l Ledger
	for _, n := range []int{5, 3, 9, 3, 1} {
		l.Add(n)
	}
	require.Equal(t, []int{1, 3, 5, 9}, l.Blocks())
	require.True(t, l.Contains(5))
	require.False(t, l.Contains(4))
}

func TestReleaseClampsWideRange(t *testing.T) {
	var l Ledger
	l.Sync([]int{3, 4, 5, 6, 7})

	released := l.Release(1, 100)
	require.Equal(t, []int{3, 4, 5, 6, 7}, released)
	require.True(t, l.Empty())
}

func TestReleasePartialRange(t *testing.T) {
	var l Ledger
	l.Sync([]int{7, 3, 5, 4, 6})

	require.Equal(t, []int{4, 5}, l.Release(4, 5))
	require.Equal(t, []int{3, 6, 7}, l.Blocks())
}

func TestReleaseNoOverlapIsNoop(t *testing.T) {
	var l Ledger
	l.Sync([]int{3, 4})
	require.Nil(t, l.Release(10, 20))
	require.Nil(t, l.Release(5, 1))
	require.Equal(t, []int{3, 4}, l.Blocks())

	var empty Ledger
	require.Nil(t, empty.Release(1, 1))
}

func TestClamp(t *testing.T) {
	var l Ledger
	l.Sync([]int{3, 4, 5, 6, 7})

	lo, hi, ok := l.Clamp(1, 100)
	require.True(t, ok)
	require.Equal(t, 3, lo)
	require.Equal(t, 7, hi)

	lo, hi, ok = l.Clamp(5, 6)
	require.True(t, ok)
	require.Equal(t, 5, lo)
	require.Equal(t, 6, hi)
}

func TestBlocksNeverNil(t *testing.T) {
	var l Ledger
	require.NotNil(t, l.Blocks())
	require.Empty(t, l.Blocks())
}

func TestCloneIndependent(t *testing.T) {
	var l Ledger
	l.Sync([]int{1, 2})
	c := l.Clone()
	c.Release(1, 2)
	require.Equal(t, []int{1, 2}, l.Blocks())
}
