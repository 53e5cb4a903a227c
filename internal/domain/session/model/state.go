// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

// State is the session state as it appears on the wire.
type State string

const (
	NoSession State = "noSession"
	Ready     State = "ready"
	Capturing State = "capturing"
	Draining  State = "draining"
	Closed    State = "closed"
)

// States lists every state in lifecycle order.
var States = []State{NoSession, Ready, Capturing, Draining, Closed}

// ParseState maps a wire value back to a State.
func ParseState(s string) (State, bool) {
	for _, st := range States {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

func (s State) String() string { return string(s) }

// ShowsImageBlocks reports whether snapshots in this state carry the ledger.
func (s State) ShowsImageBlocks() bool {
	switch s {
	case Capturing, Draining, Closed:
		return true
	default:
		return false
	}
}

// Status is the device health block. Success=false means user attention is
// required; Detected names the condition.
type Status struct {
	Success  bool
	Detected string
}

// NominalStatus is the status of a healthy device.
func NominalStatus() Status {
	return Status{Success: true, Detected: "nominal"}
}

// Merge latches the first failure: once a failure is recorded it is kept
// until the status is reset.
func (s Status) Merge(next Status) Status {
	if s.Success && !next.Success {
		return next
	}
	return s
}
