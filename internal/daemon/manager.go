// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/loachfighter/twain-direct/internal/config"
	"github.com/rs/zerolog"
)

const fallbackShutdownTimeout = 30 * time.Second

// ShutdownHook releases a resource during graceful shutdown. Hooks run in
// reverse registration order.
type ShutdownHook func(ctx context.Context) error

// Manager runs the daemon's HTTP servers until its context ends.
type Manager interface {
	// Start serves until ctx is cancelled or a server fails, then shuts down.
	Start(ctx context.Context) error

	// Shutdown drains the servers and runs the hooks. Later calls are no-ops.
	Shutdown(ctx context.Context) error

	RegisterShutdownHook(name string, hook ShutdownHook)
}

// endpoint is one server the manager owns. The name prefixes its errors.
type endpoint struct {
	name     string
	srv      *http.Server
	certFile string
	keyFile  string
}

func (e endpoint) scheme() string {
	if e.certFile != "" && e.keyFile != "" {
		return "https"
	}
	return "http"
}

func (e endpoint) serve() error {
	if e.scheme() == "https" {
		return e.srv.ListenAndServeTLS(e.certFile, e.keyFile)
	}
	return e.srv.ListenAndServe()
}

type namedHook struct {
	name string
	hook ShutdownHook
}

type manager struct {
	serverCfg config.ServerConfig
	deps      Deps
	logger    zerolog.Logger

	mu        sync.Mutex
	started   bool
	stopping  bool
	endpoints []endpoint
	hooks     []namedHook
}

// NewManager validates deps and returns a Manager that has not started yet.
func NewManager(serverCfg config.ServerConfig, deps Deps) (Manager, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}
	return &manager{
		serverCfg: serverCfg,
		deps:      deps,
		logger:    deps.Logger.With().Str("component", "manager").Logger(),
	}, nil
}

func (m *manager) buildEndpoints() []endpoint {
	cfg := m.serverCfg
	eps := []endpoint{{
		name: "API server",
		srv: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           m.deps.APIHandler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout / 2,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
		certFile: cfg.TLSCert,
		keyFile:  cfg.TLSKey,
	}}
	if m.deps.MetricsHandler != nil {
		eps = append(eps, endpoint{
			name: "metrics server",
			srv: &http.Server{
				Addr:              m.deps.MetricsAddr,
				Handler:           m.deps.MetricsHandler,
				ReadHeaderTimeout: 5 * time.Second,
			},
		})
	}
	return eps
}

func (m *manager) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.New("start context is nil")
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("manager already started")
	}
	m.started = true
	m.endpoints = m.buildEndpoints()
	endpoints := m.endpoints
	m.mu.Unlock()

	m.logger.Info().
		Str("listen", m.serverCfg.ListenAddr).
		Dur("read_timeout", m.serverCfg.ReadTimeout).
		Dur("write_timeout", m.serverCfg.WriteTimeout).
		Dur("shutdown_timeout", m.serverCfg.ShutdownTimeout).
		Msg("starting daemon manager")

	failed := make(chan error, len(endpoints))
	for _, ep := range endpoints {
		go func() {
			m.logger.Info().Str("addr", ep.srv.Addr).Str("scheme", ep.scheme()).Msgf("%s listening", ep.name)
			if err := ep.serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				m.logger.Error().Err(err).Str("event", "server.failed").Str("server", ep.name).Msg("server failed")
				failed <- fmt.Errorf("%s: %w", ep.name, err)
			}
		}()
	}

	var cause error
	select {
	case cause = <-failed:
		m.logger.Error().Err(cause).Msg("server error, initiating shutdown")
	case <-ctx.Done():
		m.logger.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fallbackShutdownTimeout)
	defer cancel()
	err := m.Shutdown(shutdownCtx)
	switch {
	case cause != nil && err != nil:
		return fmt.Errorf("server error and shutdown failure: %w", errors.Join(cause, err))
	case cause != nil:
		return cause
	default:
		return err
	}
}

func (m *manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return errors.New("shutdown context is nil")
	}

	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	if !m.started {
		m.mu.Unlock()
		return ErrManagerNotStarted
	}
	m.stopping = true
	endpoints := m.endpoints
	hooks := append([]namedHook(nil), m.hooks...)
	m.mu.Unlock()

	timeout := m.serverCfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = fallbackShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	m.logger.Info().Int("hooks", len(hooks)).Msg("shutting down daemon manager")

	var errs []error
	for _, ep := range endpoints {
		if err := ep.srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s shutdown: %w", ep.name, err))
		}
	}

	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		began := time.Now()
		err := h.hook(ctx)
		ev := m.logger.Debug()
		if err != nil {
			ev = m.logger.Error().Err(err)
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
		}
		ev.Str("hook", h.name).Dur("duration", time.Since(began)).Msg("shutdown hook finished")
	}

	if len(errs) > 0 {
		m.logger.Error().Int("error_count", len(errs)).Msg("shutdown completed with errors")
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	m.logger.Info().Msg("daemon manager stopped cleanly")
	return nil
}

func (m *manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	m.hooks = append(m.hooks, namedHook{name: name, hook: hook})
	m.mu.Unlock()
	m.logger.Debug().Str("hook", name).Msg("registered shutdown hook")
}
