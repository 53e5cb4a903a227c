// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"slices"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loachfighter/twain-direct/internal/auth"
	"github.com/loachfighter/twain-direct/internal/domain/session/lifecycle"
	xglog "github.com/loachfighter/twain-direct/internal/log"
	"github.com/loachfighter/twain-direct/internal/metrics"
	"github.com/loachfighter/twain-direct/internal/protocol"
	"github.com/loachfighter/twain-direct/internal/telemetry"
)

// Request is one command POSTed to the session endpoint.
type Request struct {
	Body         []byte
	Caller       string
	Token        string
	TokenPresent bool
}

// Dispatch authenticates and executes one command. Exactly one reply is sent
// on out, which must be buffered. Most replies are sent before Dispatch
// returns; a waitForEvents reply may be sent later from another goroutine.
func (s *Scanner) Dispatch(ctx context.Context, req Request, out chan<- protocol.Reply) {
	cmd, parseErr := parseCommand(req.Body)
	method := metricMethod(cmd.Method)

	ctx, span := s.tracer.Start(ctx, "device.dispatch",
		trace.WithAttributes(telemetry.CommandAttributes(method, cmd.CommandID)...))
	defer span.End()

	logger := xglog.WithContext(ctx, s.logger).With().
		Str(xglog.FieldCommandID, cmd.CommandID).
		Str(xglog.FieldMethod, cmd.Method).
		Str(xglog.FieldCaller, req.Caller).
		Logger()

	s.mu.Lock()
	defer s.mu.Unlock()

	results, parked, err := s.dispatchLocked(ctx, req, cmd, parseErr, out)
	if parked {
		logger.Debug().Int64(xglog.FieldRevision, s.acked).Msg("long poll parked")
		return
	}

	reply := protocol.Reply{Kind: protocol.Kind, CommandID: cmd.CommandID, Method: cmd.Method}
	var sec *securityError
	switch {
	case errors.As(err, &sec):
		reply.Error = protocol.ErrorInvalidToken
		reply.Description = sec.reason
		metrics.IncSecurityRejection(sec.reason)
		metrics.IncCommand(method, "security")
		span.SetStatus(codes.Error, sec.reason)
		logger.Warn().Str("reason", sec.reason).Msg("command rejected by token check")
	case err != nil:
		f := asFault(err)
		reply.Results = &protocol.Results{
			Success:         false,
			Code:            f.Code,
			JSONKey:         f.JSONKey,
			CharacterOffset: f.Offset,
		}
		metrics.IncCommand(method, f.Code)
		span.SetAttributes(telemetry.ResultAttributes(f.Code)...)
		span.SetStatus(codes.Error, f.Code)
		ev := logger.Info()
		if f.Code == protocol.CodeCritical {
			ev = logger.Error()
		}
		ev.Err(f.Err).Str(xglog.FieldCode, f.Code).Str("json_key", f.JSONKey).Msg("command failed")
	default:
		reply.Results = results
		span.SetAttributes(telemetry.SessionAttributes(s.session.ID, s.session.Revision)...)
		metrics.IncCommand(method, "success")
		logger.Debug().Msg("command completed")
	}
	out <- reply
}

func (s *Scanner) dispatchLocked(ctx context.Context, req Request, cmd protocol.Command, parseErr error, out chan<- protocol.Reply) (*protocol.Results, bool, error) {
	if s.closed {
		return nil, false, fault(protocol.CodeCritical, errShuttingDown)
	}
	if !req.TokenPresent {
		return nil, false, &securityError{reason: "missing_token"}
	}
	if err := s.authorizeLocked(req.Token, cmd.Method); err != nil {
		return nil, false, err
	}
	if parseErr != nil {
		return nil, false, invalidJSON(jsonOffset(parseErr), parseErr)
	}
	if cmd.Kind != protocol.Kind {
		return nil, false, invalidValue("kind")
	}
	if !slices.Contains(protocol.Methods, cmd.Method) {
		return nil, false, invalidValue("method")
	}
	p, err := parseParams(req.Body, cmd.Params)
	if err != nil {
		return nil, false, err
	}
	if err := s.checkSessionLocked(req, cmd.Method, p); err != nil {
		return nil, false, err
	}

	if cmd.Method == protocol.MethodWaitForEvents {
		return s.waitForEventsLocked(cmd, p, out)
	}
	res, err := s.runLocked(ctx, req, cmd.Method, p)
	return res, false, err
}

// authorizeLocked enforces the token rules. With a session open only its bound
// token is accepted, plus a fresh creation token for createSession. Without one,
// createSession needs a token inside the creation window; other methods only
// need a token this device issued, so a caller left over from an ended session
// learns that its session id is gone.
func (s *Scanner) authorizeLocked(token, method string) error {
	create := method == protocol.MethodCreateSession
	if s.session.Active() {
		if auth.AuthorizeToken(token, s.session.Token) {
			return nil
		}
		if create && s.opts.Authenticator.Validate(token, s.opts.CreateSessionWindow) == nil {
			return nil
		}
		return &securityError{reason: "session_token_mismatch"}
	}

	var err error
	if create {
		err = s.opts.Authenticator.Validate(token, s.opts.CreateSessionWindow)
	} else {
		err = s.opts.Authenticator.Verify(token)
	}
	if err != nil {
		reason := "token_mismatch"
		switch {
		case errors.Is(err, auth.ErrMalformedToken):
			reason = "token_malformed"
		case errors.Is(err, auth.ErrTokenExpired):
			reason = "token_expired"
		}
		return &securityError{reason: reason, err: err}
	}
	return nil
}

// checkSessionLocked applies the session-identity and state preconditions
// before any handler runs.
func (s *Scanner) checkSessionLocked(req Request, method string, p protocol.Params) error {
	active := s.session.Active()
	switch {
	case method == protocol.MethodCreateSession && active && !s.expiring:
		if req.Caller == s.session.Caller {
			return fault(protocol.CodeInvalidState, errors.New("session already open for this caller"))
		}
		return fault(protocol.CodeBusy, errors.New("session owned by another caller"))
	case method == protocol.MethodCreateSession:
		return nil
	case !active:
		return fault(protocol.CodeInvalidSessionID, errors.New("no session"))
	case s.expiring && method != protocol.MethodWaitForEvents:
		return fault(protocol.CodeInvalidSessionID, errors.New("session timed out"))
	case p.SessionID != s.session.ID:
		return &Fault{Code: protocol.CodeInvalidSessionID, JSONKey: "params.sessionId"}
	}

	if d := lifecycle.DecisionFor(s.session.State, method); !d.Allowed {
		return fault(protocol.CodeInvalidState, errors.New(d.Reason))
	}
	return nil
}

func parseCommand(body []byte) (protocol.Command, error) {
	var cmd protocol.Command
	err := json.Unmarshal(body, &cmd)
	return cmd, err
}

// parseParams decodes params; error offsets are relative to the whole body.
func parseParams(body []byte, raw json.RawMessage) (protocol.Params, error) {
	var p protocol.Params
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		base := max(bytes.Index(body, raw), 0)
		f := invalidJSON(base+jsonOffset(err), err)
		var typ *json.UnmarshalTypeError
		if errors.As(err, &typ) && typ.Field != "" {
			f.JSONKey = "params." + typ.Field
		}
		return p, f
	}
	return p, nil
}

func jsonOffset(err error) int {
	var syn *json.SyntaxError
	var typ *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syn):
		return int(syn.Offset)
	case errors.As(err, &typ):
		return int(typ.Offset)
	}
	return 0
}

func metricMethod(method string) string {
	if slices.Contains(protocol.Methods, method) {
		return method
	}
	return "unknown"
}
