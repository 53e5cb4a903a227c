// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package bridge talks to the component that drives the physical scanner.
// One bridge is opened per session; requests and replies are JSON objects.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/loachfighter/twain-direct/internal/protocol"
)

// Bridge methods.
const (
	MethodCreateSession          = protocol.MethodCreateSession
	MethodGetSession             = protocol.MethodGetSession
	MethodCloseSession           = protocol.MethodCloseSession
	MethodSendTask               = protocol.MethodSendTask
	MethodStartCapturing         = protocol.MethodStartCapturing
	MethodStopCapturing          = protocol.MethodStopCapturing
	MethodReadImageBlock         = protocol.MethodReadImageBlock
	MethodReadImageBlockMetadata = protocol.MethodReadImageBlockMetadata
	MethodReleaseImageBlocks     = protocol.MethodReleaseImageBlocks
	MethodExit                   = "exit"
)

// StatusSuccess is the status of a successful reply.
const StatusSuccess = "success"

// ErrClosed is returned by calls on a bridge that has been shut down.
var ErrClosed = errors.New("bridge closed")

// Request is one bridge command.
type Request struct {
	Method            string          `json:"method"`
	Scanner           json.RawMessage `json:"scanner,omitempty"`
	Task              json.RawMessage `json:"task,omitempty"`
	ImageBlockNum     int             `json:"imageBlockNum,omitempty"`
	LastImageBlockNum int             `json:"lastImageBlockNum,omitempty"`
	WithMetadata      bool            `json:"withMetadata,omitempty"`
	WithThumbnail     bool            `json:"withThumbnail,omitempty"`
}

// Reply is a decoded bridge reply.
type Reply struct {
	Status    string          `json:"status"`
	Session   *SessionReply   `json:"session,omitempty"`
	ImageFile string          `json:"imageFile,omitempty"`
	Meta      string          `json:"meta,omitempty"`
	Thumbnail string          `json:"thumbnail,omitempty"`
	TaskReply json.RawMessage `json:"taskReply,omitempty"`
}

// SessionReply is the device-side view the bridge reports.
type SessionReply struct {
	ImageBlocks        []int            `json:"imageBlocks"`
	ImageBlocksDrained bool             `json:"imageBlocksDrained"`
	Status             *protocol.Status `json:"status,omitempty"`
}

// OK reports whether the bridge accepted the request.
func (r Reply) OK() bool { return r.Status == StatusSuccess }

// Bridge is an open connection to the scanner driver for one session.
type Bridge interface {
	// Call sends req and returns the raw reply. Transport failures are
	// returned as errors; the reply is decoded by ParseReply.
	Call(ctx context.Context, req Request) ([]byte, error)
	// Changes signals that image blocks, end-of-job or device status may
	// have changed without a request. Closed when the bridge shuts down.
	Changes() <-chan struct{}
	// Close sends exit and releases every resource.
	Close() error
}

// Spec describes the session a bridge is opened for.
type Spec struct {
	SessionID string
	ImagesDir string
	Scanner   json.RawMessage
}

// Factory opens a bridge for a new session.
type Factory interface {
	Open(ctx context.Context, spec Spec) (Bridge, error)
	Name() string
}

// MalformedError reports a reply that is not valid JSON.
type MalformedError struct {
	Offset int
	Err    error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed bridge reply at offset %d: %v", e.Offset, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// ParseReply decodes raw. Invalid JSON or a missing status yields a
// *MalformedError carrying the character offset of the problem.
func ParseReply(raw []byte) (Reply, error) {
	var r Reply
	if err := json.Unmarshal(raw, &r); err != nil {
		offset := 0
		var syn *json.SyntaxError
		var typ *json.UnmarshalTypeError
		switch {
		case errors.As(err, &syn):
			offset = int(syn.Offset)
		case errors.As(err, &typ):
			offset = int(typ.Offset)
		}
		return Reply{}, &MalformedError{Offset: offset, Err: err}
	}
	if r.Status == "" {
		return Reply{}, &MalformedError{Offset: 0, Err: errors.New("status missing")}
	}
	return r, nil
}

func encodeReply(r Reply) []byte {
	b, err := json.Marshal(r)
	if err != nil {
		return []byte(`{"status":"critical"}`)
	}
	return b
}
