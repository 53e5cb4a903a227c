// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package device

import (
	"slices"
	"time"

	"github.com/loachfighter/twain-direct/internal/domain/session/model"
	xglog "github.com/loachfighter/twain-direct/internal/log"
	"github.com/loachfighter/twain-direct/internal/metrics"
	"github.com/loachfighter/twain-direct/internal/protocol"
)

// parkedPoll is a waitForEvents request with nothing to deliver yet.
type parkedPoll struct {
	out       chan<- protocol.Reply
	commandID string
	timer     *time.Timer
}

func render(snap model.Snapshot, revision int64) *protocol.Session {
	out := &protocol.Session{
		SessionID: snap.SessionID,
		Revision:  revision,
		State:     string(snap.State),
		Status:    protocol.Status{Success: snap.Status.Success, Detected: snap.Status.Detected},
	}
	if snap.State.ShowsImageBlocks() {
		out.ImageBlocks = protocol.Ints(slices.Clone(snap.ImageBlocks))
		out.ImageBlocksDrained = protocol.Bool(snap.ImageBlocksDrained)
	}
	if len(snap.Task) > 0 {
		out.Task = slices.Clone(snap.Task)
	}
	return out
}

func (s *Scanner) renderLocked() *protocol.Session {
	return render(s.session.Snapshot(), s.session.Revision)
}

// publishLocked commits the session and, when the revision moved, queues an
// imageBlocks event carrying the new snapshot.
func (s *Scanner) publishLocked() {
	if !s.session.Commit() {
		return
	}
	metrics.RecordSession(string(s.session.State), s.session.Revision, stateNames())
	s.pushLocked(protocol.EventImageBlocks, s.renderLocked())
}

func (s *Scanner) pushLocked(name string, sess *protocol.Session) {
	if dropped := s.events.Push(sess.Revision, protocol.Event{Event: name, Session: *sess}); dropped {
		metrics.IncEventsDropped()
		s.logger.Debug().Str(xglog.FieldSessionID, sess.SessionID).Msg("event buffer full, oldest event dropped")
	}
	metrics.RecordEventsBuffered(s.events.Len())
	s.deliverLocked()
}

// pendingLocked returns buffered events newer than the acknowledged revision,
// one per revision, in emission order.
func (s *Scanner) pendingLocked() []protocol.Event {
	items := s.events.SnapshotInOrder()
	out := make([]protocol.Event, 0, len(items))
	last := s.acked
	for _, it := range items {
		if it.Revision <= last {
			continue
		}
		last = it.Revision
		out = append(out, it.Value)
	}
	return out
}

func (s *Scanner) deliverLocked() {
	if s.parked == nil {
		return
	}
	if pending := s.pendingLocked(); len(pending) > 0 {
		s.answerParkedLocked(eventsResults(pending), nil)
	}
}

func eventsResults(ev []protocol.Event) *protocol.Results {
	if ev == nil {
		ev = []protocol.Event{}
	}
	return &protocol.Results{Success: true, Events: &ev}
}

// waitForEventsLocked acknowledges the caller's revision, expires what it has
// seen and either answers at once or parks the request.
func (s *Scanner) waitForEventsLocked(cmd protocol.Command, p protocol.Params, out chan<- protocol.Reply) (*protocol.Results, bool, error) {
	if p.SessionRevision > s.acked {
		s.acked = p.SessionRevision
	}
	if n := s.events.ExpireBelow(s.acked); n > 0 {
		metrics.RecordEventsBuffered(s.events.Len())
	}

	if s.parked != nil {
		s.answerParkedLocked(eventsResults(nil), nil)
	}

	if pending := s.pendingLocked(); len(pending) > 0 {
		return eventsResults(pending), false, nil
	}

	poll := &parkedPoll{out: out, commandID: cmd.CommandID}
	poll.timer = time.AfterFunc(s.opts.LongPollHold, func() { s.holdElapsed(poll) })
	s.parked = poll
	metrics.SetLongPollParked(true)
	return nil, true, nil
}

func (s *Scanner) holdElapsed(poll *parkedPoll) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.parked != poll {
		return
	}
	s.answerParkedLocked(eventsResults(nil), nil)
}

// answerParkedLocked completes the parked poll with res, or with err when
// non-nil.
func (s *Scanner) answerParkedLocked(res *protocol.Results, err error) {
	poll := s.parked
	s.parked = nil
	poll.timer.Stop()
	metrics.SetLongPollParked(false)

	reply := protocol.Reply{Kind: protocol.Kind, CommandID: poll.commandID, Method: protocol.MethodWaitForEvents}
	code := "success"
	if err != nil {
		f := asFault(err)
		code = f.Code
		reply.Results = &protocol.Results{Success: false, Code: f.Code, JSONKey: f.JSONKey}
	} else {
		reply.Results = res
	}
	metrics.IncCommand(protocol.MethodWaitForEvents, code)

	select {
	case poll.out <- reply:
	default:
		s.logger.Warn().Str(xglog.FieldCommandID, poll.commandID).Msg("long poll reply dropped, channel full")
	}
}

// Abandon forgets a parked poll whose caller went away.
func (s *Scanner) Abandon(out chan<- protocol.Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.parked == nil || s.parked.out != out {
		return
	}
	s.parked.timer.Stop()
	s.parked = nil
	metrics.SetLongPollParked(false)
}
