// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommitBumpsOnlyOnChange(t *testing.T) {
	s := New()
	s.ID = "abc"
	s.State = Ready

	require.True(t, s.Commit())
	require.Equal(t, int64(1), s.Revision)

	require.False(t, s.Commit())
	require.Equal(t, int64(1), s.Revision)

	s.Task = json.RawMessage(`{"actions":[]}`)
	require.True(t, s.Commit())
	require.Equal(t, int64(2), s.Revision)
}

func TestSnapshotHidesBlocksOutsideCaptureStates(t *testing.T) {
	s := New()
	s.State = Ready
	s.Blocks.Sync([]int{1, 2})
	s.Drained = true
	snap := s.Snapshot()
	require.Nil(t, snap.ImageBlocks)
	require.False(t, snap.ImageBlocksDrained)

	s.State = Draining
	snap = s.Snapshot()
	require.Equal(t, []int{1, 2}, snap.ImageBlocks)
	require.True(t, snap.ImageBlocksDrained)
}

func TestBlockChangeBumpsRevisionWhileCapturing(t *testing.T) {
	s := New()
	s.State = Capturing
	s.Commit()
	rev := s.Revision

	s.Blocks.Add(1)
	require.True(t, s.Commit())
	require.Equal(t, rev+1, s.Revision)
}

func TestResetClearsEverything(t *testing.T) {
	s := New()
	s.ID = "abc"
	s.State = Closed
	s.Caller = "10.0.0.2"
	s.Token = "tok"
	s.Blocks.Add(4)
	s.Commit()

	s.Reset()
	require.Equal(t, NoSession, s.State)
	require.Zero(t, s.Revision)
	require.Empty(t, s.ID)
	require.Empty(t, s.Caller)
	require.Zero(t, s.Blocks.Len())
	require.Equal(t, Snapshot{}, s.Committed())
}

func TestCloneIsIndependent(t *testing.T) {
	s := New()
	s.State = Capturing
	s.Blocks.Add(1)
	s.Commit()

	c := s.Clone()
	c.Blocks.Add(2)
	c.Status = Status{Success: false, Detected: "misfeed"}

	require.Equal(t, []int{1}, s.Blocks.Blocks())
	require.True(t, s.Status.Success)
}

func TestStatusMergeLatchesFirstFailure(t *testing.T) {
	st := NominalStatus()
	st = st.Merge(Status{Success: false, Detected: "misfeed"})
	st = st.Merge(Status{Success: false, Detected: "coverOpen"})
	require.Equal(t, "misfeed", st.Detected)

	st = st.Merge(NominalStatus())
	require.False(t, st.Success)
}

func TestParseState(t *testing.T) {
	for _, st := range States {
		got, ok := ParseState(st.String())
		require.True(t, ok)
		require.Equal(t, st, got)
	}
	_, ok := ParseState("scanning")
	require.False(t, ok)
}
