// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package client drives a TWAIN Local scanner over HTTP: it issues session
// commands, classifies failures and mirrors the device session.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/loachfighter/twain-direct/internal/auth"
	"github.com/loachfighter/twain-direct/internal/config"
	xglog "github.com/loachfighter/twain-direct/internal/log"
	"github.com/loachfighter/twain-direct/internal/metrics"
	"github.com/loachfighter/twain-direct/internal/protocol"
)

const maxReplyBytes = 64 << 20

// Options configures a Client.
type Options struct {
	BaseURL        string
	CommandTimeout time.Duration
	DataTimeout    time.Duration
	EventTimeout   time.Duration
	// Transport is wrapped with tracing; nil uses http.DefaultTransport.
	Transport http.RoundTripper
	// ReissueRate paces long-poll reissues after transient failures.
	ReissueRate  rate.Limit
	ReissueBurst int
}

// OptionsFromConfig returns options for baseURL using the client timeouts.
func OptionsFromConfig(baseURL string, cfg config.ClientConfig) Options {
	return Options{
		BaseURL:        baseURL,
		CommandTimeout: cfg.CommandTimeout,
		DataTimeout:    cfg.DataTimeout,
		EventTimeout:   cfg.EventTimeout,
	}
}

func (o *Options) applyDefaults() {
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = config.DefaultCommandTimeout
	}
	if o.DataTimeout <= 0 {
		o.DataTimeout = config.DefaultDataTimeout
	}
	if o.EventTimeout <= 0 {
		o.EventTimeout = config.DefaultEventTimeout
	}
	if o.Transport == nil {
		o.Transport = http.DefaultTransport
	}
	if o.ReissueRate == 0 {
		o.ReissueRate = rate.Every(250 * time.Millisecond)
	}
	if o.ReissueBurst <= 0 {
		o.ReissueBurst = 4
	}
}

// Client talks to one scanner. It is safe for concurrent use; the event
// pipeline runs alongside ordinary commands.
type Client struct {
	base   string
	http   *http.Client
	opts   Options
	logger zerolog.Logger
	mirror *Mirror

	mu    sync.Mutex
	token string

	pmu  sync.Mutex
	pipe *pipeline
}

// New returns a client for opts.BaseURL.
func New(opts Options) *Client {
	opts.applyDefaults()
	return &Client{
		base:   strings.TrimRight(opts.BaseURL, "/"),
		http:   &http.Client{Transport: otelhttp.NewTransport(opts.Transport)},
		opts:   opts,
		logger: xglog.WithComponent("client").With().Str(xglog.FieldBaseURL, opts.BaseURL).Logger(),
		mirror: NewMirror(),
	}
}

// Close stops the event pipeline and drops idle connections.
func (c *Client) Close() error {
	err := c.StopWaitingForEvents()
	c.http.CloseIdleConnections()
	return err
}

// Session returns the mirrored device session.
func (c *Client) Session() *Mirror { return c.mirror }

// WaitForSessionUpdate blocks until the mirror changes.
func (c *Client) WaitForSessionUpdate(ctx context.Context) error {
	return c.mirror.WaitForSessionUpdate(ctx)
}

func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) setToken(t string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = t
}

// Info performs the handshake and keeps the returned token.
func (c *Client) Info(ctx context.Context) (protocol.InfoReply, error) {
	return c.info(ctx, protocol.PathInfo)
}

// InfoEx is Info against the extended endpoint.
func (c *Client) InfoEx(ctx context.Context) (protocol.InfoReply, error) {
	return c.info(ctx, protocol.PathInfoEx)
}

func (c *Client) info(ctx context.Context, path string) (protocol.InfoReply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.CommandTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return protocol.InfoReply{}, err
	}
	req.Header.Set(auth.HeaderPrivetToken, "")

	res, err := c.http.Do(req)
	if err != nil {
		metrics.IncClientError(string(FacilityHTTP))
		return protocol.InfoReply{}, &APIError{Facility: FacilityHTTP, Method: "info", Err: err}
	}
	defer res.Body.Close()
	data, err := io.ReadAll(io.LimitReader(res.Body, maxReplyBytes))
	if err != nil {
		return protocol.InfoReply{}, &APIError{Facility: FacilityHTTP, Method: "info", Err: err}
	}
	if res.StatusCode != http.StatusOK {
		metrics.IncClientError(string(FacilityHTTP))
		return protocol.InfoReply{}, &APIError{Facility: FacilityHTTP, Method: "info", HTTPStatus: res.StatusCode, Description: snippet(data)}
	}

	var info protocol.InfoReply
	if err := json.Unmarshal(data, &info); err != nil {
		metrics.IncClientError(string(FacilityProtocol))
		return protocol.InfoReply{}, &APIError{Facility: FacilityProtocol, Method: "info", Err: err}
	}
	if info.PrivetToken == "" {
		return info, &APIError{Facility: FacilitySecurity, Method: "info", Err: errors.New("no x-privet-token in info reply")}
	}
	c.setToken(info.PrivetToken)
	return info, nil
}

// do sends one session command. Replies carrying a session update the
// mirror; critical and invalidSessionId replies reset it.
func (c *Client) do(ctx context.Context, method string, params *protocol.Params, timeout time.Duration) (protocol.Reply, error) {
	cmd := protocol.Command{Kind: protocol.Kind, CommandID: uuid.NewString(), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return protocol.Reply{}, fmt.Errorf("encode params: %w", err)
		}
		cmd.Params = raw
	}
	body, err := json.Marshal(cmd)
	if err != nil {
		return protocol.Reply{}, fmt.Errorf("encode command: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+protocol.PathSession, bytes.NewReader(body))
	if err != nil {
		return protocol.Reply{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.HeaderPrivetToken, c.Token())

	res, err := c.http.Do(req)
	if err != nil {
		return protocol.Reply{}, c.fail(&APIError{Facility: FacilityHTTP, Method: method, CommandID: cmd.CommandID, Err: err})
	}
	defer res.Body.Close()
	data, err := io.ReadAll(io.LimitReader(res.Body, maxReplyBytes))
	if err != nil {
		return protocol.Reply{}, c.fail(&APIError{Facility: FacilityHTTP, Method: method, CommandID: cmd.CommandID, Err: err})
	}

	reply, err := Check(cmd, res.StatusCode, data)
	if err != nil {
		return reply, c.fail(err)
	}
	if s := reply.Results.Session; s != nil {
		c.mirror.Apply(*s)
	}
	return reply, nil
}

func (c *Client) fail(err error) error {
	ae, ok := AsAPIError(err)
	if !ok {
		return err
	}
	metrics.IncClientError(string(ae.Facility))
	if ae.Facility == FacilityProtocol &&
		(ae.Code == protocol.CodeCritical || ae.Code == protocol.CodeInvalidSessionID) {
		c.mirror.Reset()
	}
	c.logger.Debug().Err(err).Str(xglog.FieldMethod, ae.Method).Str(xglog.FieldFacility, string(ae.Facility)).Msg("command failed")
	return err
}

func (c *Client) sessionParams() (*protocol.Params, error) {
	id := c.mirror.SessionID()
	if id == "" {
		return nil, ErrNoSession
	}
	return &protocol.Params{SessionID: id}, nil
}

// sessionCommand sends a command that only needs the session id.
func (c *Client) sessionCommand(ctx context.Context, method string) (protocol.Session, error) {
	p, err := c.sessionParams()
	if err != nil {
		return protocol.Session{}, err
	}
	reply, err := c.do(ctx, method, p, c.opts.CommandTimeout)
	return sessionOf(reply), err
}

func sessionOf(r protocol.Reply) protocol.Session {
	if r.Results == nil || r.Results.Session == nil {
		return protocol.Session{}
	}
	return *r.Results.Session
}

// CreateSession opens a session with the token from the last Info call.
func (c *Client) CreateSession(ctx context.Context) (protocol.Session, error) {
	if c.Token() == "" {
		if _, err := c.Info(ctx); err != nil {
			return protocol.Session{}, err
		}
	}
	reply, err := c.do(ctx, protocol.MethodCreateSession, nil, c.opts.CommandTimeout)
	return sessionOf(reply), err
}

func (c *Client) GetSession(ctx context.Context) (protocol.Session, error) {
	return c.sessionCommand(ctx, protocol.MethodGetSession)
}

// SendTask sends task. When actions are rejected the returned session holds
// the device's task reply and the error is a language-facility *APIError.
func (c *Client) SendTask(ctx context.Context, task json.RawMessage) (protocol.Session, error) {
	p, err := c.sessionParams()
	if err != nil {
		return protocol.Session{}, err
	}
	p.Task = task
	reply, err := c.do(ctx, protocol.MethodSendTask, p, c.opts.CommandTimeout)
	return sessionOf(reply), err
}

func (c *Client) StartCapturing(ctx context.Context) (protocol.Session, error) {
	return c.sessionCommand(ctx, protocol.MethodStartCapturing)
}

func (c *Client) StopCapturing(ctx context.Context) (protocol.Session, error) {
	return c.sessionCommand(ctx, protocol.MethodStopCapturing)
}

func (c *Client) CloseSession(ctx context.Context) (protocol.Session, error) {
	return c.sessionCommand(ctx, protocol.MethodCloseSession)
}

// ReadImageBlock fetches block n and, optionally, its metadata.
func (c *Client) ReadImageBlock(ctx context.Context, n int, withMetadata bool) (*protocol.Results, error) {
	p, err := c.sessionParams()
	if err != nil {
		return nil, err
	}
	p.ImageBlockNum = n
	p.WithMetadata = withMetadata
	reply, err := c.do(ctx, protocol.MethodReadImageBlock, p, c.opts.DataTimeout)
	if err != nil {
		return nil, err
	}
	return reply.Results, nil
}

// ReadImageBlockMetadata fetches the metadata of block n.
func (c *Client) ReadImageBlockMetadata(ctx context.Context, n int, withThumbnail bool) (*protocol.Results, error) {
	p, err := c.sessionParams()
	if err != nil {
		return nil, err
	}
	p.ImageBlockNum = n
	p.WithThumbnail = withThumbnail
	reply, err := c.do(ctx, protocol.MethodReadImageBlockMetadata, p, c.opts.DataTimeout)
	if err != nil {
		return nil, err
	}
	return reply.Results, nil
}

// ReleaseImageBlocks releases blocks first..last inclusive.
func (c *Client) ReleaseImageBlocks(ctx context.Context, first, last int) (protocol.Session, error) {
	p, err := c.sessionParams()
	if err != nil {
		return protocol.Session{}, err
	}
	p.ImageBlockNum = first
	p.LastImageBlockNum = last
	reply, err := c.do(ctx, protocol.MethodReleaseImageBlocks, p, c.opts.CommandTimeout)
	return sessionOf(reply), err
}

// WaitForEvents issues a single long poll acknowledging revision and
// applies the returned events to the mirror.
func (c *Client) WaitForEvents(ctx context.Context, revision int64) ([]protocol.Event, error) {
	id := c.mirror.SessionID()
	if id == "" {
		return nil, ErrNoSession
	}
	events, err := c.poll(ctx, id, revision)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		c.mirror.Apply(ev.Session)
	}
	return events, nil
}

func (c *Client) poll(ctx context.Context, sessionID string, revision int64) ([]protocol.Event, error) {
	p := &protocol.Params{SessionID: sessionID, SessionRevision: revision}
	reply, err := c.do(ctx, protocol.MethodWaitForEvents, p, c.opts.EventTimeout)
	if err != nil {
		return nil, err
	}
	if reply.Results.Events == nil {
		return nil, nil
	}
	return *reply.Results.Events, nil
}
