// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

// EventKind is a domain event in the session lifecycle.
type EventKind int

const (
	EvUnknown EventKind = iota
	EvSessionCreated
	EvCaptureStarted
	EvCaptureStopped        // blocks still pending
	EvCaptureStoppedDrained // nothing left to retrieve
	EvBlocksDrained         // ledger emptied after end-of-job
	EvCloseRequested        // blocks still pending
	EvCloseCompleted        // nothing left to retrieve
	EvTimedOut
)

func (e EventKind) String() string {
	switch e {
	case EvSessionCreated:
		return "session_created"
	case EvCaptureStarted:
		return "capture_started"
	case EvCaptureStopped:
		return "capture_stopped"
	case EvCaptureStoppedDrained:
		return "capture_stopped_drained"
	case EvBlocksDrained:
		return "blocks_drained"
	case EvCloseRequested:
		return "close_requested"
	case EvCloseCompleted:
		return "close_completed"
	case EvTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}
