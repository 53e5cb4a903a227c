// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/loachfighter/twain-direct/internal/log"
	"github.com/loachfighter/twain-direct/internal/protocol"
	"github.com/rs/zerolog"
)

// VirtualOptions configures the simulated scanner.
type VirtualOptions struct {
	// Pages produced per startCapturing before end-of-job.
	Pages int
	// Pace between pages.
	Pace time.Duration
}

// VirtualFactory opens simulated scanners that write placeholder PDF pages
// into the session's images folder.
type VirtualFactory struct {
	opts VirtualOptions
}

// NewVirtualFactory returns a factory for simulated scanners.
func NewVirtualFactory(opts VirtualOptions) *VirtualFactory {
	return &VirtualFactory{opts: opts}
}

// Name implements Factory.
func (f *VirtualFactory) Name() string { return "virtual" }

// Open implements Factory.
func (f *VirtualFactory) Open(_ context.Context, spec Spec) (Bridge, error) {
	if err := ResetImagesDir(spec.ImagesDir); err != nil {
		return nil, err
	}
	return &Virtual{
		opts:    f.opts,
		dir:     spec.ImagesDir,
		changes: make(chan struct{}, 1),
		status:  protocol.Status{Success: true, Detected: protocol.DetectedNominal},
		logger:  log.WithComponent("bridge").With().Str(log.FieldBridge, "virtual").Str(log.FieldSessionID, spec.SessionID).Logger(),
	}, nil
}

// Virtual is a simulated scanner.
type Virtual struct {
	opts   VirtualOptions
	dir    string
	logger zerolog.Logger

	mu       sync.Mutex
	changes  chan struct{}
	blocks   []int
	next     int
	drained  bool
	status   protocol.Status
	closed   bool
	stop     context.CancelFunc
	producer sync.WaitGroup
}

var knownActions = map[string]bool{"configure": true}

// Call implements Bridge.
func (v *Virtual) Call(ctx context.Context, req Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Method == MethodStopCapturing || req.Method == MethodCloseSession || req.Method == MethodExit {
		v.halt()
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil, ErrClosed
	}

	switch req.Method {
	case MethodCreateSession:
		return encodeReply(Reply{Status: StatusSuccess}), nil
	case MethodGetSession:
		return encodeReply(Reply{Status: StatusSuccess, Session: v.sessionLocked()}), nil
	case MethodSendTask:
		return v.sendTaskLocked(req.Task), nil
	case MethodStartCapturing:
		v.startLocked()
		return encodeReply(Reply{Status: StatusSuccess, Session: v.sessionLocked()}), nil
	case MethodStopCapturing:
		v.drained = true
		v.writeDrainedLocked()
		return encodeReply(Reply{Status: StatusSuccess, Session: v.sessionLocked()}), nil
	case MethodReadImageBlock, MethodReadImageBlockMetadata:
		return v.readLocked(req), nil
	case MethodReleaseImageBlocks:
		return v.releaseLocked(req.ImageBlockNum, req.LastImageBlockNum), nil
	case MethodCloseSession:
		if !v.drained {
			v.drained = true
			v.writeDrainedLocked()
		}
		return encodeReply(Reply{Status: StatusSuccess, Session: v.sessionLocked()}), nil
	case MethodExit:
		v.closed = true
		close(v.changes)
		return encodeReply(Reply{Status: StatusSuccess}), nil
	default:
		return encodeReply(Reply{Status: protocol.CodeInvalidValue}), nil
	}
}

func (v *Virtual) sessionLocked() *SessionReply {
	blocks := append([]int{}, v.blocks...)
	st := v.status
	return &SessionReply{ImageBlocks: blocks, ImageBlocksDrained: v.drained, Status: &st}
}

func (v *Virtual) sendTaskLocked(task json.RawMessage) []byte {
	var t struct {
		Actions []struct {
			Action string `json:"action"`
		} `json:"actions"`
	}
	if err := json.Unmarshal(task, &t); err != nil {
		return encodeReply(Reply{Status: protocol.CodeInvalidJSON})
	}

	reply := protocol.TaskReply{Actions: make([]protocol.TaskAction, 0, len(t.Actions))}
	rejected := false
	for i, a := range t.Actions {
		res := &protocol.TaskActionResults{Success: protocol.Bool(true)}
		if !knownActions[a.Action] {
			rejected = true
			res = &protocol.TaskActionResults{
				Success: protocol.Bool(false),
				Code:    protocol.CodeInvalidValue,
				JSONKey: fmt.Sprintf("actions[%d].action", i),
			}
		}
		reply.Actions = append(reply.Actions, protocol.TaskAction{Action: a.Action, Results: res})
	}
	raw, _ := json.Marshal(reply)

	status := StatusSuccess
	if rejected {
		status = protocol.CodeInvalidCapturingOptions
	}
	return encodeReply(Reply{Status: status, TaskReply: raw})
}

func (v *Virtual) startLocked() {
	v.drained = false
	v.status = protocol.Status{Success: true, Detected: protocol.DetectedNominal}
	_ = os.Remove(filepath.Join(v.dir, DrainedMarker))

	ctx, cancel := context.WithCancel(context.Background())
	v.stop = cancel
	v.producer.Add(1)
	go v.produce(ctx, v.opts.Pages)
}

// halt stops the page producer and waits for it outside the lock.
func (v *Virtual) halt() {
	v.mu.Lock()
	stop := v.stop
	v.stop = nil
	v.mu.Unlock()
	if stop != nil {
		stop()
	}
	v.producer.Wait()
}

func (v *Virtual) produce(ctx context.Context, pages int) {
	defer v.producer.Done()
	for i := 0; i < pages; i++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(v.opts.Pace):
		}
		v.mu.Lock()
		v.next++
		n := v.next
		if err := v.writePage(n); err != nil {
			v.logger.Error().Err(err).Int(log.FieldBlock, n).Msg("write virtual page")
			v.status = protocol.Status{Success: false, Detected: "misfeed"}
			v.mu.Unlock()
			v.signal()
			return
		}
		v.blocks = append(v.blocks, n)
		v.mu.Unlock()
		v.signal()
	}

	v.mu.Lock()
	v.drained = true
	v.writeDrainedLocked()
	v.mu.Unlock()
	v.signal()
}

func (v *Virtual) writePage(n int) error {
	pdf := fmt.Sprintf("%%PDF-1.4\n%% virtual page %d\n%%%%EOF\n", n)
	if err := renameio.WriteFile(filepath.Join(v.dir, ImageName(n)), []byte(pdf), 0o640); err != nil {
		return err
	}
	if err := renameio.WriteFile(filepath.Join(v.dir, ThumbnailName(n)), []byte(pdf), 0o640); err != nil {
		return err
	}
	meta := fmt.Sprintf(`{"metadata":{"address":{"imageNumber":%d,"sheetNumber":%d,"source":"feederFront"},"image":{"pixelFormat":"rgb24","compression":"none","pixelWidth":2550,"pixelHeight":3300}}}`, n, n)
	return renameio.WriteFile(filepath.Join(v.dir, MetaName(n)), []byte(meta), 0o640)
}

func (v *Virtual) writeDrainedLocked() {
	if err := renameio.WriteFile(filepath.Join(v.dir, DrainedMarker), []byte(`{"detected":"endOfJob"}`), 0o640); err != nil {
		v.logger.Warn().Err(err).Msg("write drained marker")
	}
}

func (v *Virtual) readLocked(req Request) []byte {
	if !containsBlock(v.blocks, req.ImageBlockNum) {
		return encodeReply(Reply{Status: protocol.CodeInvalidValue})
	}
	r := Reply{Status: StatusSuccess, Session: v.sessionLocked()}
	if req.Method == MethodReadImageBlock {
		r.ImageFile = filepath.Join(v.dir, ImageName(req.ImageBlockNum))
	}
	if req.Method == MethodReadImageBlockMetadata || req.WithMetadata {
		r.Meta = filepath.Join(v.dir, MetaName(req.ImageBlockNum))
	}
	if req.WithThumbnail {
		r.Thumbnail = filepath.Join(v.dir, ThumbnailName(req.ImageBlockNum))
	}
	return encodeReply(r)
}

func (v *Virtual) releaseLocked(lo, hi int) []byte {
	kept := v.blocks[:0]
	for _, b := range v.blocks {
		if b >= lo && b <= hi {
			if err := RemoveBlock(v.dir, b); err != nil {
				v.logger.Warn().Err(err).Int(log.FieldBlock, b).Msg("remove released block")
			}
			continue
		}
		kept = append(kept, b)
	}
	v.blocks = kept
	return encodeReply(Reply{Status: StatusSuccess, Session: v.sessionLocked()})
}

func (v *Virtual) signal() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	select {
	case v.changes <- struct{}{}:
	default:
	}
}

// Changes implements Bridge.
func (v *Virtual) Changes() <-chan struct{} { return v.changes }

// Close implements Bridge.
func (v *Virtual) Close() error {
	v.halt()
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.closed {
		v.closed = true
		close(v.changes)
	}
	return nil
}

func containsBlock(blocks []int, n int) bool {
	for _, b := range blocks {
		if b == n {
			return true
		}
	}
	return false
}
