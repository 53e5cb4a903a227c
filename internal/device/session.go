// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package device

import (
	"context"
	"errors"

	"github.com/loachfighter/twain-direct/internal/bridge"
	"github.com/loachfighter/twain-direct/internal/domain/session/lifecycle"
	"github.com/loachfighter/twain-direct/internal/domain/session/model"
	xglog "github.com/loachfighter/twain-direct/internal/log"
	"github.com/loachfighter/twain-direct/internal/metrics"
	"github.com/loachfighter/twain-direct/internal/protocol"
)

func (s *Scanner) armLocked() {
	s.sup.schedule(s.opts.SessionTimeout, s.onIdleTimeout)
}

// onIdleTimeout announces the end of an idle session, then leaves the grace
// period for a parked or next poll to collect the event.
func (s *Scanner) onIdleTimeout(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sup.current(gen) || !s.session.Active() || s.expiring {
		return
	}
	s.expiring = true
	s.session.Revision++

	snap := s.session.Snapshot()
	snap.State = model.NoSession
	s.pushLocked(protocol.EventSessionTimedOut, render(snap, s.session.Revision))

	metrics.IncSessionTimeout()
	s.logger.Warn().Str(xglog.FieldSessionID, s.session.ID).
		Dur("timeout", s.opts.SessionTimeout).Msg("session timed out")
	s.opts.Notifier.Display("Session timed out")

	s.sup.schedule(s.opts.TimeoutGrace, s.onGraceElapsed)
}

func (s *Scanner) onGraceElapsed(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sup.current(gen) || !s.expiring {
		return
	}
	s.expireLocked("session timed out")
}

// expireLocked ends a timed-out session through the lifecycle table before
// releasing its resources.
func (s *Scanner) expireLocked(reason string) {
	if err := s.transitionLocked(lifecycle.EvTimedOut); err != nil {
		s.logger.Error().Err(err).Str(xglog.FieldSessionID, s.session.ID).Msg("expire session")
	}
	s.teardownLocked(reason)
}

// teardownLocked returns the scanner to NoSession and releases everything
// the session held.
func (s *Scanner) teardownLocked(reason string) {
	s.sup.disarm()
	if s.watchStop != nil {
		close(s.watchStop)
		s.watchStop = nil
	}
	if b := s.bridge; b != nil {
		s.bridge = nil
		s.closeBridgeAsync(b)
	}
	if s.parked != nil {
		s.answerParkedLocked(nil, fault(protocol.CodeInvalidSessionID, errors.New(reason)))
	}
	s.events.Reset()
	s.acked = 0
	s.expiring = false

	id, from := s.session.ID, s.session.State
	if from != model.NoSession {
		metrics.IncTransition(string(from), string(model.NoSession))
		s.logger.Info().
			Str(xglog.FieldSessionID, id).
			Str(xglog.FieldOldState, string(from)).
			Str(xglog.FieldNewState, string(model.NoSession)).
			Msg("session transition")
	}
	s.session.Reset()
	metrics.RecordSession(string(model.NoSession), 0, stateNames())
	metrics.RecordEventsBuffered(0)

	s.logger.Info().Str(xglog.FieldSessionID, id).Str("reason", reason).Msg("session ended")
	s.opts.Notifier.Display("Session ended")
}

func (s *Scanner) closeBridgeAsync(b bridge.Bridge) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := b.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close bridge")
		}
	}()
}

func (s *Scanner) startWatcherLocked(b bridge.Bridge) {
	stop := make(chan struct{})
	s.watchStop = stop
	s.wg.Add(1)
	go s.watch(b, stop)
}

// watch turns bridge change signals into session refreshes until the
// session ends or the bridge closes its channel.
func (s *Scanner) watch(b bridge.Bridge, stop <-chan struct{}) {
	defer s.wg.Done()
	changes := b.Changes()
	for {
		select {
		case <-stop:
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			metrics.IncBridgeChange()
			s.refreshFromBridge(b)
		}
	}
}

func (s *Scanner) refreshFromBridge(b bridge.Bridge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bridge != b || s.expiring || !s.session.Active() {
		return
	}
	reply, err := s.callBridge(context.Background(), b, bridge.Request{Method: bridge.MethodGetSession})
	if err != nil {
		s.logger.Warn().Err(err).Str(xglog.FieldSessionID, s.session.ID).Msg("refresh session from bridge")
		return
	}
	s.absorbLocked(reply.Session)
	s.settleLocked()
	s.publishLocked()
	if s.session.State == model.NoSession {
		s.teardownLocked("image blocks drained")
	}
}
