// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package client

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	xglog "github.com/loachfighter/twain-direct/internal/log"
	"github.com/loachfighter/twain-direct/internal/metrics"
	"github.com/loachfighter/twain-direct/internal/protocol"
)

const pipelineDepth = 8

// pipeline is one run of the long-poll loop.
type pipeline struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// StartWaitingForEvents keeps a long poll open against the device until the
// session ends or StopWaitingForEvents is called. onEvent runs on the
// processing goroutine after each event has been applied to the mirror.
func (c *Client) StartWaitingForEvents(ctx context.Context, onEvent func(protocol.Event)) error {
	c.pmu.Lock()
	defer c.pmu.Unlock()
	if c.pipe != nil {
		select {
		case <-c.pipe.done:
			c.pipe = nil
		default:
			return ErrPipelineRunning
		}
	}
	id := c.mirror.SessionID()
	if id == "" {
		return ErrNoSession
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	replies := make(chan []protocol.Event, pipelineDepth)

	g.Go(func() error {
		defer close(replies)
		return c.communicate(gctx, id, replies)
	})
	g.Go(func() error {
		return c.process(gctx, replies, onEvent, cancel)
	})

	p := &pipeline{cancel: cancel, done: make(chan struct{})}
	go func() {
		p.err = g.Wait()
		cancel()
		close(p.done)
	}()
	c.pipe = p
	return nil
}

// StopWaitingForEvents aborts the outstanding poll and joins the pipeline.
// It is idempotent and safe to call when nothing is running. The returned
// error is the failure that ended the pipeline, if any.
func (c *Client) StopWaitingForEvents() error {
	c.pmu.Lock()
	p := c.pipe
	c.pipe = nil
	c.pmu.Unlock()
	if p == nil {
		return nil
	}
	p.cancel()
	<-p.done
	return p.err
}

// communicate issues long polls back to back, carrying the newest revision
// seen, and hands non-empty replies to the processing side.
func (c *Client) communicate(ctx context.Context, sessionID string, out chan<- []protocol.Event) error {
	limiter := rate.NewLimiter(c.opts.ReissueRate, c.opts.ReissueBurst)
	revision := c.mirror.Revision()
	logger := c.logger.With().Str(xglog.FieldSessionID, sessionID).Logger()

	for {
		if ctx.Err() != nil {
			return nil
		}
		events, err := c.poll(ctx, sessionID, revision)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			reason, ok := transient(err)
			if !ok {
				logger.Warn().Err(err).Msg("long poll failed")
				return err
			}
			metrics.IncLongPollReissue(reason)
			logger.Debug().Err(err).Str("reason", reason).Msg("reissuing long poll")
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
			continue
		}
		if len(events) == 0 {
			metrics.IncLongPollReissue("empty")
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
			continue
		}
		for _, ev := range events {
			revision = max(revision, ev.Session.Revision)
		}
		select {
		case out <- events:
		case <-ctx.Done():
			return nil
		}
	}
}

// process applies replies in order and stops once the session is gone.
func (c *Client) process(ctx context.Context, in <-chan []protocol.Event, onEvent func(protocol.Event), stop context.CancelFunc) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case events, ok := <-in:
			if !ok {
				return nil
			}
			for _, ev := range events {
				c.mirror.Apply(ev.Session)
				if onEvent != nil {
					onEvent(ev)
				}
				if ev.Session.State == stateNoSession {
					stop()
					return nil
				}
			}
		}
	}
}

// transient reports whether err is worth reissuing the poll for.
func transient(err error) (string, bool) {
	ae, ok := AsAPIError(err)
	if !ok || ae.Facility != FacilityHTTP {
		return "", false
	}
	switch ae.HTTPStatus {
	case 0:
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return "status", true
	default:
		return "", false
	}
	var nerr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout", true
	case errors.As(err, &nerr) && nerr.Timeout():
		return "timeout", true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return "receive", true
	default:
		return "transport", true
	}
}
