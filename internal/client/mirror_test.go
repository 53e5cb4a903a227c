// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loachfighter/twain-direct/internal/protocol"
)

func session(id string, rev int64, state string, blocks ...int) protocol.Session {
	s := protocol.Session{SessionID: id, Revision: rev, State: state, Status: protocol.Status{Success: true, Detected: "nominal"}}
	if state != "ready" {
		s.ImageBlocks = protocol.Ints(blocks)
		s.ImageBlocksDrained = protocol.Bool(false)
	}
	return s
}

func TestMirrorRevisionNeverGoesBack(t *testing.T) {
	m := NewMirror()
	assert.Equal(t, "noSession", m.State())

	require.True(t, m.Apply(session("a", 1, "ready")))
	require.True(t, m.Apply(session("a", 3, "capturing", 1, 2)))
	assert.False(t, m.Apply(session("a", 2, "capturing", 1)))
	assert.False(t, m.Apply(session("a", 3, "capturing", 9)))
	assert.False(t, m.Apply(session("b", 9, "ready")), "other session ignored")

	assert.Equal(t, int64(3), m.Revision())
	assert.Equal(t, []int{1, 2}, m.ImageBlocks())
	assert.False(t, m.ImageBlocksDrained())
}

func TestMirrorNoSessionResets(t *testing.T) {
	m := NewMirror()
	m.Apply(session("a", 1, "ready"))
	require.True(t, m.Apply(protocol.Session{SessionID: "a", Revision: 2, State: "noSession"}))
	assert.Empty(t, m.SessionID())
	assert.Equal(t, int64(0), m.Revision())
	assert.Equal(t, []int{}, m.ImageBlocks())

	assert.False(t, m.Apply(session("a", 1, "capturing")), "late event for the ended session")
	assert.Empty(t, m.SessionID())

	// A new session starts over at revision 1.
	require.True(t, m.Apply(session("c", 1, "ready")))
	assert.Equal(t, "c", m.SessionID())
}

func TestWaitForSessionUpdateAutoResets(t *testing.T) {
	m := NewMirror()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, m.WaitForSessionUpdate(ctx), context.DeadlineExceeded)

	m.Apply(session("a", 1, "ready"))
	m.Apply(session("a", 2, "capturing"))
	require.NoError(t, m.WaitForSessionUpdate(context.Background()))

	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	require.ErrorIs(t, m.WaitForSessionUpdate(ctx2), context.DeadlineExceeded, "signal consumed")
}
