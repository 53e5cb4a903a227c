// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/loachfighter/twain-direct/internal/protocol"
)

const maxDescription = 256

// Check classifies a reply to cmd, stopping at the first failing layer:
// HTTP status, envelope decoding, security rejection, results.success and
// finally the per-action results of a task. A language failure still returns
// the decoded reply so the caller can inspect the session.
func Check(cmd protocol.Command, status int, body []byte) (protocol.Reply, error) {
	base := APIError{Method: cmd.Method, CommandID: cmd.CommandID}

	if status != http.StatusOK {
		e := base
		e.Facility = FacilityHTTP
		e.HTTPStatus = status
		e.Description = snippet(body)
		return protocol.Reply{}, &e
	}

	var reply protocol.Reply
	if len(bytes.TrimSpace(body)) == 0 {
		e := base
		e.Facility = FacilityProtocol
		e.Err = errors.New("empty reply body")
		return protocol.Reply{}, &e
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		e := base
		e.Facility = FacilityProtocol
		e.Err = err
		var syn *json.SyntaxError
		if errors.As(err, &syn) {
			e.CharacterOffset = protocol.Int(int(syn.Offset))
		}
		return protocol.Reply{}, &e
	}
	if cmd.CommandID != "" && reply.CommandID != "" && reply.CommandID != cmd.CommandID {
		e := base
		e.Facility = FacilityProtocol
		e.JSONKey = "commandId"
		e.Err = errors.New("reply for another command")
		return reply, &e
	}

	if reply.Error != "" {
		e := base
		e.Facility = FacilitySecurity
		e.Code = reply.Error
		e.Description = reply.Description
		return reply, &e
	}

	if reply.Results == nil {
		e := base
		e.Facility = FacilityProtocol
		e.JSONKey = "results"
		e.Err = errors.New("results missing")
		return reply, &e
	}
	if !reply.Results.Success {
		e := base
		e.Facility = FacilityProtocol
		e.Code = reply.Results.Code
		e.JSONKey = reply.Results.JSONKey
		e.CharacterOffset = reply.Results.CharacterOffset
		return reply, &e
	}

	if cmd.Method == protocol.MethodSendTask && reply.Results.Session != nil {
		if failures := taskFailures(reply.Results.Session.Task); len(failures) > 0 {
			e := base
			e.Facility = FacilityLanguage
			e.Code = failures[0].Code
			e.JSONKey = failures[0].JSONKey
			e.Language = failures
			return reply, &e
		}
	}
	return reply, nil
}

// taskFailures reports every action whose results say success=false.
func taskFailures(task json.RawMessage) []LanguageError {
	if len(task) == 0 {
		return nil
	}
	var reply protocol.TaskReply
	if err := json.Unmarshal(task, &reply); err != nil {
		return nil
	}
	var out []LanguageError
	for i, a := range reply.Actions {
		if a.Results == nil || a.Results.Success == nil || *a.Results.Success {
			continue
		}
		code := a.Results.Code
		if code == "" {
			code = protocol.CodeInvalidTask
		}
		out = append(out, LanguageError{Action: i, Name: a.Action, Code: code, JSONKey: a.Results.JSONKey})
	}
	return out
}

func snippet(body []byte) string {
	s := string(bytes.TrimSpace(body))
	if len(s) > maxDescription {
		s = s[:maxDescription]
	}
	return s
}
