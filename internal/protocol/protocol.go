// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package protocol defines the TWAIN Local wire envelope shared by the device
// daemon and the client driver. Field names are load-bearing for
// interoperability with other TWAIN Direct implementations.
package protocol

import "encoding/json"

// Kind is the envelope kind for every session command.
const Kind = "twainlocalscanner"

// HTTP endpoints.
const (
	PathInfo    = "/privet/info"
	PathInfoEx  = "/privet/infoex"
	PathSession = "/privet/twaindirect/session"
)

// Session methods.
const (
	MethodCreateSession          = "createSession"
	MethodGetSession             = "getSession"
	MethodCloseSession           = "closeSession"
	MethodSendTask               = "sendTask"
	MethodStartCapturing         = "startCapturing"
	MethodStopCapturing          = "stopCapturing"
	MethodReadImageBlock         = "readImageBlock"
	MethodReadImageBlockMetadata = "readImageBlockMetadata"
	MethodReleaseImageBlocks     = "releaseImageBlocks"
	MethodWaitForEvents          = "waitForEvents"
)

// Methods lists every session method in protocol order.
var Methods = []string{
	MethodCreateSession,
	MethodGetSession,
	MethodCloseSession,
	MethodSendTask,
	MethodStartCapturing,
	MethodStopCapturing,
	MethodReadImageBlock,
	MethodReadImageBlockMetadata,
	MethodReleaseImageBlocks,
	MethodWaitForEvents,
}

// Result codes reported in results.code.
const (
	CodeInvalidJSON      = "invalidJson"
	CodeInvalidSessionID = "invalidSessionId"
	CodeInvalidState     = "invalidState"
	CodeBusy             = "busy"
	CodeCritical         = "critical"
	CodeInvalidTask      = "invalidTask"
	CodeInvalidValue     = "invalidValue"
	CodeTimeout          = "timeout"

	// CodeInvalidCapturingOptions is reported by bridges for rejected tasks.
	CodeInvalidCapturingOptions = "invalidCapturingOptions"
)

// ErrorInvalidToken is the security-layer rejection placed in the top-level
// "error" field.
const ErrorInvalidToken = "invalid_x_privet_token"

// Event names.
const (
	EventImageBlocks     = "imageBlocks"
	EventSessionTimedOut = "sessionTimedOut"
)

// Detected values for status.detected.
const (
	DetectedNominal = "nominal"
)

// Command is the body POSTed to PathSession.
type Command struct {
	Kind      string          `json:"kind"`
	CommandID string          `json:"commandId"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// Params is the union of every method's parameters.
type Params struct {
	SessionID         string          `json:"sessionId,omitempty"`
	SessionRevision   int64           `json:"sessionRevision,omitempty"`
	Task              json.RawMessage `json:"task,omitempty"`
	ImageBlockNum     int             `json:"imageBlockNum,omitempty"`
	LastImageBlockNum int             `json:"lastImageBlockNum,omitempty"`
	WithMetadata      bool            `json:"withMetadata,omitempty"`
	WithThumbnail     bool            `json:"withThumbnail,omitempty"`
}

// Status is the device health block.
type Status struct {
	Success  bool   `json:"success"`
	Detected string `json:"detected"`
}

// Session is the externally visible view of a session. ImageBlocks and
// ImageBlocksDrained are pointers because their presence depends on state.
type Session struct {
	SessionID          string          `json:"sessionId"`
	Revision           int64           `json:"revision"`
	State              string          `json:"state"`
	Status             Status          `json:"status"`
	ImageBlocks        *[]int          `json:"imageBlocks,omitempty"`
	ImageBlocksDrained *bool           `json:"imageBlocksDrained,omitempty"`
	Task               json.RawMessage `json:"task,omitempty"`
}

// Event is one entry of a waitForEvents reply.
type Event struct {
	Event   string  `json:"event"`
	Session Session `json:"session"`
}

// Results is the results object of a reply.
type Results struct {
	Success         bool            `json:"success"`
	Code            string          `json:"code,omitempty"`
	JSONKey         string          `json:"jsonKey,omitempty"`
	CharacterOffset *int            `json:"characterOffset,omitempty"`
	Session         *Session        `json:"session,omitempty"`
	Events          *[]Event        `json:"events,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	ImageBlock      []byte          `json:"imageBlock,omitempty"`
	Thumbnail       []byte          `json:"thumbnail,omitempty"`
}

// Reply is the envelope returned for every session command.
type Reply struct {
	Kind        string   `json:"kind"`
	CommandID   string   `json:"commandId"`
	Method      string   `json:"method"`
	Results     *Results `json:"results,omitempty"`
	Error       string   `json:"error,omitempty"`
	Description string   `json:"description,omitempty"`
}

// TaskReply is the subset of a task reply inspected for language errors.
type TaskReply struct {
	Actions []TaskAction `json:"actions"`
}

// TaskAction is one action of a task reply.
type TaskAction struct {
	Action  string             `json:"action,omitempty"`
	Results *TaskActionResults `json:"results,omitempty"`
}

// TaskActionResults reports whether an action was accepted.
type TaskActionResults struct {
	Success *bool  `json:"success,omitempty"`
	Code    string `json:"code,omitempty"`
	JSONKey string `json:"jsonKey,omitempty"`
}

// InfoReply is returned by PathInfo and PathInfoEx.
type InfoReply struct {
	Version         string    `json:"version"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	URL             string    `json:"url"`
	Type            string    `json:"type"`
	ID              string    `json:"id"`
	DeviceState     string    `json:"device_state"`
	ConnectionState string    `json:"connection_state"`
	Manufacturer    string    `json:"manufacturer"`
	Model           string    `json:"model"`
	SerialNumber    string    `json:"serial_number"`
	Firmware        string    `json:"firmware"`
	Uptime          string    `json:"uptime"`
	SetupURL        string    `json:"setup_url"`
	SupportURL      string    `json:"support_url"`
	UpdateURL       string    `json:"update_url"`
	PrivetToken     string    `json:"x-privet-token"`
	API             []string  `json:"api"`
	SemanticState   string    `json:"semantic_state"`
	Clouds          *[]string `json:"clouds,omitempty"`
}

// Ints wraps a block list for Session.ImageBlocks; nil becomes an empty list.
func Ints(v []int) *[]int {
	if v == nil {
		v = []int{}
	}
	return &v
}

// Bool wraps b for optional boolean fields.
func Bool(b bool) *bool { return &b }

// Int wraps i for optional integer fields.
func Int(i int) *int { return &i }
