// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import (
	"slices"

	"github.com/loachfighter/twain-direct/internal/domain/session/model"
	"github.com/loachfighter/twain-direct/internal/protocol"
)

// Decision records whether a command is allowed in a state.
type Decision struct {
	Allowed bool
	Reason  string
}

const (
	ForbiddenNoSession     = "no_session"
	ForbiddenSessionExists = "session_exists"
	ForbiddenWrongState    = "wrong_state"
	ForbiddenUnknownMethod = "unknown_method"
)

var legalStates = map[string][]model.State{
	protocol.MethodCreateSession:          {model.NoSession},
	protocol.MethodGetSession:             {model.Ready, model.Capturing, model.Draining, model.Closed},
	protocol.MethodSendTask:               {model.Ready, model.Capturing, model.Draining, model.Closed},
	protocol.MethodStartCapturing:         {model.Ready},
	protocol.MethodStopCapturing:          {model.Capturing, model.Draining},
	protocol.MethodReadImageBlock:         {model.Capturing, model.Draining, model.Closed},
	protocol.MethodReadImageBlockMetadata: {model.Capturing, model.Draining, model.Closed},
	protocol.MethodReleaseImageBlocks:     {model.Capturing, model.Draining, model.Closed},
	protocol.MethodCloseSession:           {model.Ready, model.Capturing, model.Draining},
	protocol.MethodWaitForEvents:          {model.Ready, model.Capturing, model.Draining, model.Closed},
}

// LegalStates returns the states in which method may run.
func LegalStates(method string) []model.State {
	return slices.Clone(legalStates[method])
}

// DecisionFor reports whether method may run in state.
func DecisionFor(state model.State, method string) Decision {
	states, ok := legalStates[method]
	if !ok {
		return Decision{Reason: ForbiddenUnknownMethod}
	}
	if slices.Contains(states, state) {
		return Decision{Allowed: true}
	}
	switch {
	case state == model.NoSession:
		return Decision{Reason: ForbiddenNoSession}
	case method == protocol.MethodCreateSession:
		return Decision{Reason: ForbiddenSessionExists}
	default:
		return Decision{Reason: ForbiddenWrongState}
	}
}

// Mutating reports whether method refreshes the idle timer. Long polls do not,
// so polling alone never keeps a session alive.
func Mutating(method string) bool {
	return method != protocol.MethodWaitForEvents
}
