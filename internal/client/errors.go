// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package client

import (
	"errors"
	"fmt"
	"strings"
)

// Facility names the layer a failure was detected in.
type Facility string

const (
	FacilityHTTP     Facility = "httpstatus"
	FacilityProtocol Facility = "protocol"
	FacilitySecurity Facility = "security"
	FacilityLanguage Facility = "language"
)

var (
	// Sentinel errors for errors.Is checks, one per facility.
	ErrHTTPStatus = errors.New("twain: transport or http status failure")
	ErrProtocol   = errors.New("twain: protocol failure")
	ErrSecurity   = errors.New("twain: security failure")
	ErrLanguage   = errors.New("twain: task rejected")

	ErrNoSession       = errors.New("twain: no session")
	ErrPipelineRunning = errors.New("twain: already waiting for events")
)

// LanguageError is one rejected action of a task.
type LanguageError struct {
	Action  int
	Name    string
	Code    string
	JSONKey string
}

// APIError describes a failed command. Facility decides which fields are set.
type APIError struct {
	Facility        Facility
	Method          string
	CommandID       string
	HTTPStatus      int
	Code            string
	JSONKey         string
	CharacterOffset *int
	Description     string
	Language        []LanguageError
	Err             error // transport or decoding error, if any
}

func (e *APIError) sentinel() error {
	switch e.Facility {
	case FacilityHTTP:
		return ErrHTTPStatus
	case FacilitySecurity:
		return ErrSecurity
	case FacilityLanguage:
		return ErrLanguage
	default:
		return ErrProtocol
	}
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "twain %s: %s", e.Method, e.Facility)
	if e.HTTPStatus > 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.HTTPStatus)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " %s", e.Code)
	}
	if e.JSONKey != "" {
		fmt.Fprintf(&b, " at %s", e.JSONKey)
	}
	if e.CharacterOffset != nil {
		fmt.Fprintf(&b, " offset %d", *e.CharacterOffset)
	}
	for _, l := range e.Language {
		fmt.Fprintf(&b, "; actions[%d] %s %s", l.Action, l.Code, l.JSONKey)
	}
	if e.Description != "" {
		fmt.Fprintf(&b, ": %s", e.Description)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *APIError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.sentinel(), e.Err}
	}
	return []error{e.sentinel()}
}

// AsAPIError extracts an *APIError from err.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	ok := errors.As(err, &ae)
	return ae, ok
}
