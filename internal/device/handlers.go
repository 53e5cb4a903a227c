// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/loachfighter/twain-direct/internal/bridge"
	"github.com/loachfighter/twain-direct/internal/domain/session/lifecycle"
	"github.com/loachfighter/twain-direct/internal/domain/session/model"
	xglog "github.com/loachfighter/twain-direct/internal/log"
	"github.com/loachfighter/twain-direct/internal/metrics"
	"github.com/loachfighter/twain-direct/internal/protocol"
)

// runLocked executes a state-changing handler. A failed handler leaves the
// session exactly as it found it; a successful one is settled, committed and
// rendered into the reply.
func (s *Scanner) runLocked(ctx context.Context, req Request, method string, p protocol.Params) (*protocol.Results, error) {
	if method == protocol.MethodCreateSession && s.expiring {
		s.expireLocked("replaced after timeout")
	}
	prev := s.session.Clone()

	res, err := s.handleLocked(ctx, req, method, p)
	if err != nil {
		s.session = prev
		return nil, err
	}

	s.settleLocked()
	s.publishLocked()
	if res.Session == nil {
		res.Session = s.renderLocked()
	}

	if s.session.State == model.NoSession {
		s.teardownLocked("session ended")
		return res, nil
	}
	if lifecycle.Mutating(method) {
		s.armLocked()
	}
	return res, nil
}

func (s *Scanner) handleLocked(ctx context.Context, req Request, method string, p protocol.Params) (*protocol.Results, error) {
	switch method {
	case protocol.MethodCreateSession:
		return s.createSessionLocked(ctx, req)
	case protocol.MethodGetSession:
		return s.getSessionLocked(ctx)
	case protocol.MethodSendTask:
		return s.sendTaskLocked(ctx, req.Body, p)
	case protocol.MethodStartCapturing:
		return s.startCapturingLocked(ctx)
	case protocol.MethodStopCapturing:
		return s.stopCapturingLocked(ctx)
	case protocol.MethodReadImageBlock, protocol.MethodReadImageBlockMetadata:
		return s.readImageBlockLocked(ctx, method, p)
	case protocol.MethodReleaseImageBlocks:
		return s.releaseImageBlocksLocked(ctx, p)
	case protocol.MethodCloseSession:
		return s.closeSessionLocked(ctx)
	}
	return nil, invalidValue("method")
}

func (s *Scanner) createSessionLocked(ctx context.Context, req Request) (*protocol.Results, error) {
	reg, ok := s.opts.Registration.Current()
	if !ok {
		return nil, fault(protocol.CodeCritical, errNotRegistered)
	}
	if s.opts.Factory == nil {
		return nil, fault(protocol.CodeCritical, errors.New("no bridge configured"))
	}

	id := uuid.NewString()
	b, err := s.opts.Factory.Open(context.WithoutCancel(ctx), bridge.Spec{
		SessionID: id,
		ImagesDir: s.opts.ImagesDir,
		Scanner:   reg.Scanner,
	})
	if err != nil {
		return nil, fault(protocol.CodeCritical, fmt.Errorf("open bridge: %w", err))
	}
	if _, err := s.callBridge(ctx, b, bridge.Request{Method: bridge.MethodCreateSession, Scanner: reg.Scanner}); err != nil {
		s.closeBridgeAsync(b)
		return nil, err
	}

	s.session.ID = id
	s.session.Caller = req.Caller
	s.session.Token = req.Token
	if err := s.transitionLocked(lifecycle.EvSessionCreated); err != nil {
		s.closeBridgeAsync(b)
		return nil, fault(protocol.CodeCritical, err)
	}
	s.bridge = b
	s.startWatcherLocked(b)

	s.logger.Info().Str(xglog.FieldSessionID, id).Str(xglog.FieldCaller, req.Caller).
		Str(xglog.FieldBridge, s.opts.Factory.Name()).Msg("session created")
	s.opts.Notifier.Display("Session started by " + req.Caller)
	return &protocol.Results{Success: true}, nil
}

func (s *Scanner) getSessionLocked(ctx context.Context) (*protocol.Results, error) {
	reply, err := s.callBridge(ctx, s.bridge, bridge.Request{Method: bridge.MethodGetSession})
	if err != nil {
		return nil, err
	}
	s.absorbLocked(reply.Session)
	return &protocol.Results{Success: true}, nil
}

func (s *Scanner) sendTaskLocked(ctx context.Context, body []byte, p protocol.Params) (*protocol.Results, error) {
	task := bytes.TrimSpace(p.Task)
	if len(task) == 0 {
		return nil, &Fault{Code: protocol.CodeInvalidJSON, JSONKey: "params.task", Offset: protocol.Int(0)}
	}
	if task[0] != '{' {
		return nil, &Fault{Code: protocol.CodeInvalidJSON, JSONKey: "params.task", Offset: protocol.Int(max(bytes.Index(body, task), 0))}
	}

	reply, err := s.invokeBridge(ctx, s.bridge, bridge.Request{Method: bridge.MethodSendTask, Task: json.RawMessage(task)})
	if err != nil {
		return nil, err
	}
	switch {
	case reply.Status == protocol.CodeInvalidCapturingOptions:
		// Rejected actions: the session is untouched, the reply shows what failed.
		snap := s.session.Snapshot()
		snap.Task = reply.TaskReply
		return &protocol.Results{Success: true, Session: render(snap, s.session.Revision)}, nil
	case !reply.OK():
		return nil, fault(reply.Status, nil)
	}

	if len(reply.TaskReply) > 0 {
		s.session.Task = append(json.RawMessage(nil), reply.TaskReply...)
	} else {
		s.session.Task = append(json.RawMessage(nil), task...)
	}
	return &protocol.Results{Success: true}, nil
}

func (s *Scanner) startCapturingLocked(ctx context.Context) (*protocol.Results, error) {
	if s.opts.ConfirmScan {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ConfirmTimeout)
		confirmed := s.opts.Notifier.ConfirmScan(cctx)
		cancel()
		if !confirmed {
			return nil, fault(protocol.CodeBusy, errors.New("scan not confirmed at the device"))
		}
	}

	reply, err := s.callBridge(ctx, s.bridge, bridge.Request{Method: bridge.MethodStartCapturing})
	if err != nil {
		return nil, err
	}
	s.session.Status = model.NominalStatus()
	if err := s.transitionLocked(lifecycle.EvCaptureStarted); err != nil {
		return nil, fault(protocol.CodeCritical, err)
	}
	if reply.Session != nil {
		s.session.Blocks.Sync(reply.Session.ImageBlocks)
	}
	return &protocol.Results{Success: true}, nil
}

func (s *Scanner) stopCapturingLocked(ctx context.Context) (*protocol.Results, error) {
	reply, err := s.callBridge(ctx, s.bridge, bridge.Request{Method: bridge.MethodStopCapturing})
	if err != nil {
		return nil, err
	}
	s.absorbLocked(reply.Session)

	ev := lifecycle.EvCaptureStopped
	if s.session.Drained && s.session.Blocks.Empty() {
		ev = lifecycle.EvCaptureStoppedDrained
	}
	if err := s.transitionLocked(ev); err != nil {
		return nil, fault(protocol.CodeCritical, err)
	}
	return &protocol.Results{Success: true}, nil
}

func (s *Scanner) readImageBlockLocked(ctx context.Context, method string, p protocol.Params) (*protocol.Results, error) {
	if !s.session.Blocks.Contains(p.ImageBlockNum) {
		return nil, invalidValue("params.imageBlockNum")
	}

	reply, err := s.callBridge(ctx, s.bridge, bridge.Request{
		Method:        method,
		ImageBlockNum: p.ImageBlockNum,
		WithMetadata:  p.WithMetadata,
		WithThumbnail: p.WithThumbnail,
	})
	if err != nil {
		return nil, err
	}
	s.absorbLocked(reply.Session)

	res := &protocol.Results{Success: true}
	if method == protocol.MethodReadImageBlock {
		if res.ImageBlock, err = s.readImageFile(reply.ImageFile); err != nil {
			return nil, fault(protocol.CodeCritical, err)
		}
	}
	if method == protocol.MethodReadImageBlockMetadata || p.WithMetadata {
		raw, err := s.readImageFile(reply.Meta)
		if err != nil {
			return nil, fault(protocol.CodeCritical, err)
		}
		if res.Metadata, err = unwrapMetadata(raw); err != nil {
			return nil, fault(protocol.CodeCritical, err)
		}
	}
	if method == protocol.MethodReadImageBlockMetadata && p.WithThumbnail && reply.Thumbnail != "" {
		if res.Thumbnail, err = s.readImageFile(reply.Thumbnail); err != nil {
			return nil, fault(protocol.CodeCritical, err)
		}
	}
	return res, nil
}

func (s *Scanner) releaseImageBlocksLocked(ctx context.Context, p protocol.Params) (*protocol.Results, error) {
	lo, hi := p.ImageBlockNum, p.LastImageBlockNum
	if hi < lo {
		return nil, invalidValue("params.lastImageBlockNum")
	}
	lo, hi, ok := s.session.Blocks.Clamp(lo, hi)
	if !ok {
		return &protocol.Results{Success: true}, nil
	}

	reply, err := s.callBridge(ctx, s.bridge, bridge.Request{
		Method:            bridge.MethodReleaseImageBlocks,
		ImageBlockNum:     lo,
		LastImageBlockNum: hi,
	})
	if err != nil {
		return nil, err
	}
	released := s.session.Blocks.Release(lo, hi)
	s.absorbLocked(reply.Session)
	s.logger.Debug().Str(xglog.FieldSessionID, s.session.ID).Ints("released", released).Msg("image blocks released")
	return &protocol.Results{Success: true}, nil
}

func (s *Scanner) closeSessionLocked(ctx context.Context) (*protocol.Results, error) {
	reply, err := s.callBridge(ctx, s.bridge, bridge.Request{Method: bridge.MethodCloseSession})
	if err != nil {
		return nil, err
	}
	s.absorbLocked(reply.Session)

	ev := lifecycle.EvCloseRequested
	if s.session.State == model.Ready || (s.session.Drained && s.session.Blocks.Empty()) {
		ev = lifecycle.EvCloseCompleted
	}
	if err := s.transitionLocked(ev); err != nil {
		return nil, fault(protocol.CodeCritical, err)
	}
	return &protocol.Results{Success: true}, nil
}

// invokeBridge calls the bridge with a bounded context that survives the
// caller going away; transport and decoding failures become faults.
func (s *Scanner) invokeBridge(ctx context.Context, b bridge.Bridge, req bridge.Request) (bridge.Reply, error) {
	if b == nil {
		return bridge.Reply{}, fault(protocol.CodeCritical, bridge.ErrClosed)
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.BridgeTimeout)
	defer cancel()

	reply, err := bridge.Invoke(cctx, b, req)
	if m, ok := bridge.IsMalformed(err); ok {
		return bridge.Reply{}, invalidJSON(m.Offset, err)
	}
	if err != nil {
		return bridge.Reply{}, fault(protocol.CodeCritical, err)
	}
	return reply, nil
}

// callBridge is invokeBridge plus rejection of non-success statuses.
func (s *Scanner) callBridge(ctx context.Context, b bridge.Bridge, req bridge.Request) (bridge.Reply, error) {
	reply, err := s.invokeBridge(ctx, b, req)
	if err != nil {
		return bridge.Reply{}, err
	}
	if !reply.OK() {
		return bridge.Reply{}, fault(reply.Status, fmt.Errorf("bridge %s rejected", req.Method))
	}
	return reply, nil
}

// absorbLocked merges what the bridge reports. Blocks and end-of-job only
// apply while capture results are visible; end-of-job is never cleared here.
func (s *Scanner) absorbLocked(r *bridge.SessionReply) {
	if r == nil {
		return
	}
	if s.session.State.ShowsImageBlocks() {
		s.session.Blocks.Sync(r.ImageBlocks)
		if r.ImageBlocksDrained {
			s.session.Drained = true
		}
	}
	if r.Status != nil {
		s.session.Status = s.session.Status.Merge(model.Status{Success: r.Status.Success, Detected: r.Status.Detected})
	}
}

// settleLocked applies the automatic transitions that follow a drained,
// empty ledger.
func (s *Scanner) settleLocked() {
	if !s.session.Drained || !s.session.Blocks.Empty() {
		return
	}
	switch s.session.State {
	case model.Draining, model.Closed:
		if err := s.transitionLocked(lifecycle.EvBlocksDrained); err != nil {
			s.logger.Error().Err(err).Msg("settle session")
		}
	}
}

func (s *Scanner) transitionLocked(ev lifecycle.EventKind) error {
	from := s.session.State
	to, changed, err := lifecycle.Next(from, ev)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	s.session.State = to
	if to == model.Capturing {
		s.session.Drained = false
	}
	metrics.IncTransition(string(from), string(to))
	s.logger.Info().
		Str(xglog.FieldSessionID, s.session.ID).
		Str(xglog.FieldOldState, string(from)).
		Str(xglog.FieldNewState, string(to)).
		Str(xglog.FieldEvent, ev.String()).
		Msg("session transition")
	return nil
}

// readImageFile reads a file the bridge named; paths must stay inside the
// images directory.
func (s *Scanner) readImageFile(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("bridge reply names no file")
	}
	if dir := s.opts.ImagesDir; dir != "" {
		dir = filepath.Clean(dir)
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		path = filepath.Clean(path)
		if !strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return nil, fmt.Errorf("bridge file %q outside images directory", path)
		}
	}
	return os.ReadFile(path) // #nosec G304 -- confined to the images directory
}

// unwrapMetadata returns the value of the "metadata" member, or the whole
// document when it has none.
func unwrapMetadata(raw []byte) (json.RawMessage, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if inner, ok := doc["metadata"]; ok {
		return inner, nil
	}
	return json.RawMessage(raw), nil
}
