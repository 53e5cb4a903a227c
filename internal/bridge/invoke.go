// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loachfighter/twain-direct/internal/metrics"
	"github.com/loachfighter/twain-direct/internal/telemetry"
)

var tracer = telemetry.Tracer("github.com/loachfighter/twain-direct/internal/bridge")

// Invoke performs one call and decodes the reply, recording its latency.
// A non-success status is not an error here; callers inspect Reply.Status.
func Invoke(ctx context.Context, b Bridge, req Request) (Reply, error) {
	ctx, span := tracer.Start(ctx, "bridge.call",
		trace.WithAttributes(telemetry.BridgeAttributes(fmt.Sprintf("%T", b), req.Method)...))
	defer span.End()

	start := time.Now()
	raw, err := b.Call(ctx, req)
	if err != nil {
		metrics.ObserveBridgeCall(req.Method, "error", time.Since(start))
		span.SetAttributes(telemetry.ErrorAttributes(err, "transport")...)
		span.SetStatus(codes.Error, err.Error())
		return Reply{}, err
	}
	reply, err := ParseReply(raw)
	if err != nil {
		metrics.ObserveBridgeCall(req.Method, "malformed", time.Since(start))
		span.SetAttributes(telemetry.ErrorAttributes(err, "malformed")...)
		span.SetStatus(codes.Error, err.Error())
		return Reply{}, err
	}
	outcome := "success"
	if !reply.OK() {
		outcome = "status"
	}
	metrics.ObserveBridgeCall(req.Method, outcome, time.Since(start))
	return reply, nil
}

// IsMalformed reports whether err came from an undecodable reply.
func IsMalformed(err error) (*MalformedError, bool) {
	var m *MalformedError
	if errors.As(err, &m) {
		return m, true
	}
	return nil, false
}
