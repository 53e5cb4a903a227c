// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package lifecycle encodes the TWAIN Local session state machine: which
// transitions exist and which commands are legal in which state.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/loachfighter/twain-direct/internal/domain/session/model"
)

// Transition is a single allowed edge in the lifecycle state machine.
type Transition struct {
	From  model.State
	To    model.State
	Event EventKind
}

// ErrIllegalTransition is returned by Next for edges that do not exist.
var ErrIllegalTransition = errors.New("illegal session transition")

var transitionsTable = []Transition{
	{From: model.NoSession, To: model.Ready, Event: EvSessionCreated},

	{From: model.Ready, To: model.Capturing, Event: EvCaptureStarted},

	{From: model.Capturing, To: model.Draining, Event: EvCaptureStopped},
	{From: model.Capturing, To: model.Ready, Event: EvCaptureStoppedDrained},
	{From: model.Draining, To: model.Draining, Event: EvCaptureStopped},
	{From: model.Draining, To: model.Ready, Event: EvCaptureStoppedDrained},

	{From: model.Draining, To: model.Ready, Event: EvBlocksDrained},
	{From: model.Closed, To: model.NoSession, Event: EvBlocksDrained},

	{From: model.Ready, To: model.NoSession, Event: EvCloseCompleted},
	{From: model.Capturing, To: model.NoSession, Event: EvCloseCompleted},
	{From: model.Draining, To: model.NoSession, Event: EvCloseCompleted},
	{From: model.Capturing, To: model.Closed, Event: EvCloseRequested},
	{From: model.Draining, To: model.Closed, Event: EvCloseRequested},

	{From: model.Ready, To: model.NoSession, Event: EvTimedOut},
	{From: model.Capturing, To: model.NoSession, Event: EvTimedOut},
	{From: model.Draining, To: model.NoSession, Event: EvTimedOut},
	{From: model.Closed, To: model.NoSession, Event: EvTimedOut},
}

// TransitionFor returns the allowed transition for a given state+event.
func TransitionFor(from model.State, ev EventKind) (Transition, bool) {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return Transition{}, false
}

// Next resolves the target state for ev. changed is false for self edges,
// which must not re-trigger entry side effects.
func Next(from model.State, ev EventKind) (to model.State, changed bool, err error) {
	tr, ok := TransitionFor(from, ev)
	if !ok {
		return from, false, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, from, ev)
	}
	return tr.To, tr.To != from, nil
}
