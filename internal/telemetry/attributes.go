// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by device, bridge and client spans.
const (
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	CommandMethodKey = "twain.method"
	CommandIDKey     = "twain.command_id"
	SessionIDKey     = "twain.session_id"
	RevisionKey      = "twain.revision"
	ResultCodeKey    = "twain.code"

	BridgeKindKey   = "bridge.kind"
	BridgeMethodKey = "bridge.method"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// CommandAttributes describes a session command; empty values are omitted.
func CommandAttributes(method, commandID string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 2)
	if method != "" {
		attrs = append(attrs, attribute.String(CommandMethodKey, method))
	}
	if commandID != "" {
		attrs = append(attrs, attribute.String(CommandIDKey, commandID))
	}
	return attrs
}

// SessionAttributes describes the session a command ran against.
func SessionAttributes(sessionID string, revision int64) []attribute.KeyValue {
	if sessionID == "" {
		return nil
	}
	return []attribute.KeyValue{
		attribute.String(SessionIDKey, sessionID),
		attribute.Int64(RevisionKey, revision),
	}
}

// ResultAttributes records the protocol code a command finished with.
func ResultAttributes(code string) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String(ResultCodeKey, code)}
}

// BridgeAttributes describes one bridge call.
func BridgeAttributes(kind, method string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(BridgeKindKey, kind),
		attribute.String(BridgeMethodKey, method),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(err error, errorType string) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
