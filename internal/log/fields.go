// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldRequestID = "request_id"
	FieldCommandID = "command_id"
	FieldCaller    = "caller"

	// Protocol fields
	FieldMethod   = "method"
	FieldCode     = "code"
	FieldRevision = "revision"
	FieldFacility = "facility"
	FieldBlock    = "image_block"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldBridge    = "bridge"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / URL fields
	FieldPath    = "path"
	FieldBaseURL = "base_url"

	// Network fields
	FieldListen = "listen"
)
