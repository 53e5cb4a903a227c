// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package client

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loachfighter/twain-direct/internal/protocol"
)

func TestCheckLayers(t *testing.T) {
	cmd := protocol.Command{Kind: protocol.Kind, CommandID: "c1", Method: protocol.MethodGetSession}

	tests := []struct {
		name     string
		status   int
		body     string
		facility Facility
		sentinel error
		code     string
	}{
		{
			name:     "http status wins over everything",
			status:   http.StatusInternalServerError,
			body:     `{"error":"invalid_x_privet_token"}`,
			facility: FacilityHTTP,
			sentinel: ErrHTTPStatus,
		},
		{
			name:     "empty body",
			status:   http.StatusOK,
			facility: FacilityProtocol,
			sentinel: ErrProtocol,
		},
		{
			name:     "malformed json",
			status:   http.StatusOK,
			body:     `{"kind":`,
			facility: FacilityProtocol,
			sentinel: ErrProtocol,
		},
		{
			name:     "security rejection",
			status:   http.StatusOK,
			body:     `{"kind":"twainlocalscanner","commandId":"c1","method":"getSession","error":"invalid_x_privet_token"}`,
			facility: FacilitySecurity,
			sentinel: ErrSecurity,
			code:     protocol.ErrorInvalidToken,
		},
		{
			name:     "results missing",
			status:   http.StatusOK,
			body:     `{"kind":"twainlocalscanner","commandId":"c1","method":"getSession"}`,
			facility: FacilityProtocol,
			sentinel: ErrProtocol,
		},
		{
			name:     "protocol code",
			status:   http.StatusOK,
			body:     `{"kind":"twainlocalscanner","commandId":"c1","method":"getSession","results":{"success":false,"code":"invalidState"}}`,
			facility: FacilityProtocol,
			sentinel: ErrProtocol,
			code:     protocol.CodeInvalidState,
		},
		{
			name:     "reply for another command",
			status:   http.StatusOK,
			body:     `{"kind":"twainlocalscanner","commandId":"zz","method":"getSession","results":{"success":true}}`,
			facility: FacilityProtocol,
			sentinel: ErrProtocol,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Check(cmd, tt.status, []byte(tt.body))
			require.Error(t, err)
			ae, ok := AsAPIError(err)
			require.True(t, ok)
			assert.Equal(t, tt.facility, ae.Facility)
			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.code, ae.Code)
		})
	}
}

func TestCheckMalformedCarriesOffset(t *testing.T) {
	cmd := protocol.Command{CommandID: "c1", Method: protocol.MethodGetSession}
	_, err := Check(cmd, http.StatusOK, []byte(`{"kind": nope}`))
	ae, ok := AsAPIError(err)
	require.True(t, ok)
	require.NotNil(t, ae.CharacterOffset)
	assert.Positive(t, *ae.CharacterOffset)
}

func TestCheckAggregatesLanguageErrors(t *testing.T) {
	cmd := protocol.Command{CommandID: "c1", Method: protocol.MethodSendTask}
	body := `{"kind":"twainlocalscanner","commandId":"c1","method":"sendTask","results":{"success":true,
		"session":{"sessionId":"s","revision":1,"state":"ready","status":{"success":true,"detected":"nominal"},
		"task":{"actions":[
			{"action":"configure","results":{"success":true}},
			{"action":"levitate","results":{"success":false,"code":"invalidValue","jsonKey":"actions[1].action"}},
			{"action":"teleport","results":{"success":false,"jsonKey":"actions[2].action"}}
		]}}}}`

	reply, err := Check(cmd, http.StatusOK, []byte(body))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLanguage))
	require.NotNil(t, reply.Results, "language failures keep the reply")

	ae, _ := AsAPIError(err)
	require.Len(t, ae.Language, 2)
	assert.Equal(t, LanguageError{Action: 1, Name: "levitate", Code: "invalidValue", JSONKey: "actions[1].action"}, ae.Language[0])
	assert.Equal(t, protocol.CodeInvalidTask, ae.Language[1].Code)
	assert.Contains(t, ae.Error(), "actions[2]")
}

func TestCheckSuccess(t *testing.T) {
	cmd := protocol.Command{CommandID: "c1", Method: protocol.MethodSendTask}
	body := `{"kind":"twainlocalscanner","commandId":"c1","method":"sendTask","results":{"success":true,
		"session":{"sessionId":"s","revision":2,"state":"ready","status":{"success":true,"detected":"nominal"},
		"task":{"actions":[{"action":"configure","results":{"success":true}}]}}}}`
	reply, err := Check(cmd, http.StatusOK, []byte(body))
	require.NoError(t, err)
	assert.Equal(t, int64(2), reply.Results.Session.Revision)
}
