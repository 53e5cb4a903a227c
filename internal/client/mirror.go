// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package client

import (
	"context"
	"slices"
	"sync"

	"github.com/loachfighter/twain-direct/internal/protocol"
)

const stateNoSession = "noSession"

// Mirror is the client's copy of the device session. Updates are applied
// only when they carry a newer revision, so readers never see it go back.
type Mirror struct {
	mu      sync.Mutex
	session protocol.Session
	updated chan struct{}
	// ended is the last session that went away; late events for it are ignored.
	ended string
}

// NewMirror returns a mirror in noSession.
func NewMirror() *Mirror {
	return &Mirror{
		session: protocol.Session{State: stateNoSession},
		updated: make(chan struct{}, 1),
	}
}

// Apply merges s and reports whether the mirror changed. A noSession view
// of the current session resets the mirror.
func (m *Mirror) Apply(s protocol.Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.session.SessionID
	if s.State == stateNoSession {
		if cur == "" || (s.SessionID != "" && s.SessionID != cur) {
			return false
		}
		m.resetLocked()
		return true
	}
	if cur == "" && s.SessionID == m.ended {
		return false
	}
	if cur != "" && s.SessionID != cur {
		return false
	}
	if cur != "" && s.Revision <= m.session.Revision {
		return false
	}
	m.session = cloneSession(s)
	m.signal()
	return true
}

// Reset drops the session, as after a critical or invalidSessionId reply.
func (m *Mirror) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.SessionID == "" && m.session.State == stateNoSession {
		return
	}
	m.resetLocked()
}

func (m *Mirror) resetLocked() {
	if m.session.SessionID != "" {
		m.ended = m.session.SessionID
	}
	m.session = protocol.Session{State: stateNoSession}
	m.signal()
}

func (m *Mirror) signal() {
	select {
	case m.updated <- struct{}{}:
	default:
	}
}

// WaitForSessionUpdate blocks until the mirror changes after the previous
// wait returned, or ctx ends. The signal resets when consumed.
func (m *Mirror) WaitForSessionUpdate(ctx context.Context) error {
	select {
	case <-m.updated:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the session.
func (m *Mirror) Snapshot() protocol.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneSession(m.session)
}

func (m *Mirror) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.SessionID
}

func (m *Mirror) Revision() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Revision
}

func (m *Mirror) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.State
}

func (m *Mirror) Status() protocol.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Status
}

// ImageBlocks returns the blocks ready for retrieval; never nil.
func (m *Mirror) ImageBlocks() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.ImageBlocks == nil {
		return []int{}
	}
	return slices.Clone(*m.session.ImageBlocks)
}

func (m *Mirror) ImageBlocksDrained() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.ImageBlocksDrained != nil && *m.session.ImageBlocksDrained
}

func cloneSession(s protocol.Session) protocol.Session {
	out := s
	if s.ImageBlocks != nil {
		out.ImageBlocks = protocol.Ints(slices.Clone(*s.ImageBlocks))
	}
	if s.ImageBlocksDrained != nil {
		out.ImageBlocksDrained = protocol.Bool(*s.ImageBlocksDrained)
	}
	out.Task = slices.Clone(s.Task)
	return out
}
