// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package device implements the scanner side of TWAIN Local: it authenticates
// session commands, drives the session state machine, talks to the bridge and
// feeds the long-poll event pipeline.
package device

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/loachfighter/twain-direct/internal/auth"
	"github.com/loachfighter/twain-direct/internal/bridge"
	"github.com/loachfighter/twain-direct/internal/config"
	"github.com/loachfighter/twain-direct/internal/domain/session/events"
	"github.com/loachfighter/twain-direct/internal/domain/session/model"
	xglog "github.com/loachfighter/twain-direct/internal/log"
	"github.com/loachfighter/twain-direct/internal/metrics"
	"github.com/loachfighter/twain-direct/internal/protocol"
	"github.com/loachfighter/twain-direct/internal/registry"
)

// Options wires a Scanner to its collaborators.
type Options struct {
	Authenticator *auth.Authenticator
	Factory       bridge.Factory
	Registration  *registry.Holder
	Notifier      Notifier

	ImagesDir           string
	BaseURL             string
	SessionTimeout      time.Duration
	CreateSessionWindow time.Duration
	LongPollHold        time.Duration
	TimeoutGrace        time.Duration
	BridgeTimeout       time.Duration
	ConfirmScan         bool
	ConfirmTimeout      time.Duration
	EventCapacity       int
}

// OptionsFromConfig fills the timing fields from the device and bridge config.
func OptionsFromConfig(cfg config.AppConfig) Options {
	return Options{
		ImagesDir:           cfg.Device.ImagesDir,
		SessionTimeout:      cfg.Device.SessionTimeout,
		CreateSessionWindow: cfg.Device.CreateSessionWindow,
		LongPollHold:        cfg.Device.LongPollHold,
		TimeoutGrace:        cfg.Device.TimeoutGrace,
		BridgeTimeout:       cfg.Bridge.CallTimeout,
		ConfirmScan:         cfg.Device.ConfirmScan,
		ConfirmTimeout:      cfg.Device.ConfirmTimeout,
		EventCapacity:       cfg.Device.EventCapacity,
	}
}

func (o *Options) applyDefaults() {
	if o.Authenticator == nil {
		o.Authenticator = auth.NewAuthenticator(uuid.NewString())
	}
	if o.Notifier == nil {
		o.Notifier = NopNotifier{}
	}
	if o.Registration == nil {
		o.Registration = registry.NewHolder()
	}
	if o.SessionTimeout <= 0 {
		o.SessionTimeout = config.DefaultSessionTimeout
	}
	if o.CreateSessionWindow <= 0 {
		o.CreateSessionWindow = config.DefaultCreateSessionWindow
	}
	if o.LongPollHold <= 0 {
		o.LongPollHold = config.DefaultLongPollHold
	}
	if o.TimeoutGrace <= 0 {
		o.TimeoutGrace = config.DefaultTimeoutGrace
	}
	if o.BridgeTimeout <= 0 {
		o.BridgeTimeout = config.DefaultBridgeCallTimeout
	}
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = config.DefaultConfirmTimeout
	}
	if o.EventCapacity <= 0 {
		o.EventCapacity = config.DefaultEventCapacity
	}
}

// Scanner owns the one session this device serves. All session state is
// guarded by mu; bridge calls made under mu are bounded by BridgeTimeout.
type Scanner struct {
	opts    Options
	logger  zerolog.Logger
	tracer  trace.Tracer
	started time.Time

	mu        sync.Mutex
	session   *model.Session
	bridge    bridge.Bridge
	events    *events.Buffer[protocol.Event]
	acked     int64
	parked    *parkedPoll
	expiring  bool
	sup       supervisor
	watchStop chan struct{}
	closed    bool

	wg sync.WaitGroup
}

// New returns a scanner with no session.
func New(opts Options) *Scanner {
	opts.applyDefaults()
	s := &Scanner{
		opts:    opts,
		logger:  xglog.WithComponent("device"),
		tracer:  otel.Tracer("github.com/loachfighter/twain-direct/internal/device"),
		started: time.Now(),
		session: model.New(),
		events:  events.NewBuffer[protocol.Event](opts.EventCapacity),
	}
	metrics.RecordSession(string(model.NoSession), 0, stateNames())
	return s
}

// State returns the current session state and revision.
func (s *Scanner) State() (model.State, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.State, s.session.Revision
}

// Ready reports whether the scanner can accept createSession.
func (s *Scanner) Ready() bool {
	_, ok := s.opts.Registration.Current()
	s.mu.Lock()
	defer s.mu.Unlock()
	return ok && !s.closed
}

// Close ends any session, answers a parked poll and waits for background
// work (bridge shutdown, change watcher) to finish.
func (s *Scanner) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		if s.session.Active() || s.bridge != nil {
			s.teardownLocked("device shutting down")
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

func stateNames() []string {
	out := make([]string, 0, len(model.States))
	for _, st := range model.States {
		out = append(out, string(st))
	}
	return out
}
