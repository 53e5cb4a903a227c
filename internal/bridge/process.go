// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/loachfighter/twain-direct/internal/log"
	"github.com/loachfighter/twain-direct/internal/procgroup"
	"github.com/rs/zerolog"
)

// ProcessOptions configures the child-process bridge.
type ProcessOptions struct {
	Path  string
	Args  []string
	Grace time.Duration
}

// ProcessFactory spawns one bridge process per session. The process reads
// one JSON request per line on stdin and answers with one JSON line on stdout.
// Image blocks appear as files in the images folder passed via --images.
type ProcessFactory struct {
	opts ProcessOptions
}

// NewProcessFactory returns a factory for child-process bridges.
func NewProcessFactory(opts ProcessOptions) *ProcessFactory {
	if opts.Grace <= 0 {
		opts.Grace = 3 * time.Second
	}
	return &ProcessFactory{opts: opts}
}

// Name implements Factory.
func (f *ProcessFactory) Name() string { return "process" }

// Open implements Factory.
func (f *ProcessFactory) Open(_ context.Context, spec Spec) (Bridge, error) {
	logger := log.WithComponent("bridge").With().
		Str(log.FieldBridge, "process").
		Str(log.FieldSessionID, spec.SessionID).
		Logger()

	if err := ResetImagesDir(spec.ImagesDir); err != nil {
		return nil, err
	}

	args := append([]string{}, f.opts.Args...)
	args = append(args, "--images", spec.ImagesDir)
	// #nosec G204 -- bridge binary is configured by the operator
	cmd := exec.Command(f.opts.Path, args...)
	cmd.Env = append(os.Environ(), "TWAIN_SESSION_ID="+spec.SessionID)
	cmd.Stderr = logWriter{logger: logger}
	procgroup.Set(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge stdout: %w", err)
	}

	watcher, err := NewWatcher(spec.ImagesDir, logger)
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("start bridge %s: %w", f.opts.Path, err)
	}
	logger.Info().Int("pid", cmd.Process.Pid).Str(log.FieldPath, f.opts.Path).Msg("bridge process started")

	p := &Process{
		cmd:     cmd,
		stdin:   stdin,
		lines:   bufio.NewReader(stdout),
		waitCh:  make(chan error, 1),
		watcher: watcher,
		dir:     spec.ImagesDir,
		grace:   f.opts.Grace,
		logger:  logger,
	}
	go func() { p.waitCh <- cmd.Wait() }()
	return p, nil
}

// Process is a bridge running as a child process.
type Process struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	lines   *bufio.Reader
	waitCh  chan error
	watcher *Watcher
	dir     string
	grace   time.Duration
	logger  zerolog.Logger

	mu     sync.Mutex
	broken bool
	closed bool
}

type lineResult struct {
	line []byte
	err  error
}

// Call implements Bridge. Calls are serialized; a call abandoned by ctx
// leaves the pipe out of sync, so the bridge is marked broken.
func (p *Process) Call(ctx context.Context, req Request) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if p.broken {
		return nil, errors.New("bridge pipe out of sync after abandoned call")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode bridge request: %w", err)
	}
	if _, err := p.stdin.Write(append(payload, '\n')); err != nil {
		p.broken = true
		return nil, fmt.Errorf("write bridge request: %w", err)
	}

	resCh := make(chan lineResult, 1)
	go func() {
		line, err := p.lines.ReadBytes('\n')
		resCh <- lineResult{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		p.broken = true
		return nil, fmt.Errorf("bridge %s: %w", req.Method, ctx.Err())
	case res := <-resCh:
		if res.err != nil {
			p.broken = true
			return nil, fmt.Errorf("read bridge reply: %w", res.err)
		}
		if req.Method == MethodGetSession {
			return p.withFolderState(res.line), nil
		}
		return res.line, nil
	}
}

// withFolderState fills in the session block when the bridge process leaves
// it to the images folder.
func (p *Process) withFolderState(raw []byte) []byte {
	r, err := ParseReply(raw)
	if err != nil || !r.OK() || r.Session != nil {
		return raw
	}
	blocks, drained, err := ScanImagesDir(p.dir)
	if err != nil {
		p.logger.Warn().Err(err).Msg("scan images folder")
		return raw
	}
	r.Session = &SessionReply{ImageBlocks: blocks, ImageBlocksDrained: drained}
	return encodeReply(r)
}

// Changes implements Bridge.
func (p *Process) Changes() <-chan struct{} { return p.watcher.Changes() }

// Close implements Bridge.
func (p *Process) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	if !p.broken {
		payload, _ := json.Marshal(Request{Method: MethodExit})
		_, _ = p.stdin.Write(append(payload, '\n'))
	}
	p.closed = true
	_ = p.stdin.Close()
	p.mu.Unlock()

	err := procgroup.Terminate(p.cmd, p.waitCh, p.grace)
	_ = p.watcher.Close()
	p.logger.Info().Msg("bridge process stopped")
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

type logWriter struct {
	logger zerolog.Logger
}

func (w logWriter) Write(b []byte) (int, error) {
	w.logger.Debug().Str("stream", "stderr").Msg(string(b))
	return len(b), nil
}
