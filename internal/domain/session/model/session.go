// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package model holds the session record and its externally visible snapshot.
package model

import (
	"bytes"
	"encoding/json"
	"slices"

	"github.com/loachfighter/twain-direct/internal/domain/session/ledger"
)

// Snapshot is the externally visible view of a session, minus the revision.
// Two snapshots compare equal when nothing a client could observe differs.
type Snapshot struct {
	SessionID          string
	State              State
	Status             Status
	ImageBlocks        []int
	ImageBlocksDrained bool
	Task               json.RawMessage
}

// Equal compares snapshots structurally.
func (s Snapshot) Equal(o Snapshot) bool {
	return s.SessionID == o.SessionID &&
		s.State == o.State &&
		s.Status == o.Status &&
		slices.Equal(s.ImageBlocks, o.ImageBlocks) &&
		s.ImageBlocksDrained == o.ImageBlocksDrained &&
		bytes.Equal(s.Task, o.Task)
}

// Session is the mutable record owned by one engine instance.
type Session struct {
	ID       string
	State    State
	Revision int64
	Status   Status
	Blocks   ledger.Ledger
	Drained  bool
	Caller   string
	Token    string
	Task     json.RawMessage

	last Snapshot
}

// New returns a session in NoSession.
func New() *Session {
	return &Session{State: NoSession, Status: NominalStatus()}
}

// Active reports whether a session exists.
func (s *Session) Active() bool {
	return s.State != NoSession
}

// Snapshot renders the current externally visible view.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		SessionID: s.ID,
		State:     s.State,
		Status:    s.Status,
		Task:      s.Task,
	}
	if s.State.ShowsImageBlocks() {
		snap.ImageBlocks = s.Blocks.Blocks()
		snap.ImageBlocksDrained = s.Drained
	}
	return snap
}

// Commit bumps the revision iff the snapshot differs from the last committed
// one, and reports whether it did.
func (s *Session) Commit() bool {
	snap := s.Snapshot()
	if snap.Equal(s.last) {
		return false
	}
	s.Revision++
	s.last = snap
	return true
}

// Committed returns the last committed snapshot.
func (s *Session) Committed() Snapshot {
	return s.last
}

// Reset returns the record to NoSession, clearing identity, ledger, snapshot
// and revision.
func (s *Session) Reset() {
	*s = Session{State: NoSession, Status: NominalStatus()}
}

// Clone returns a deep copy used to roll back a failed handler.
func (s *Session) Clone() *Session {
	c := *s
	c.Blocks = s.Blocks.Clone()
	c.Task = slices.Clone(s.Task)
	c.last.ImageBlocks = slices.Clone(s.last.ImageBlocks)
	return &c
}
