// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api exposes the scanner over the TWAIN Local HTTP endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/loachfighter/twain-direct/internal/api/middleware"
	"github.com/loachfighter/twain-direct/internal/config"
	"github.com/loachfighter/twain-direct/internal/device"
	"github.com/loachfighter/twain-direct/internal/health"
	xglog "github.com/loachfighter/twain-direct/internal/log"
	"github.com/loachfighter/twain-direct/internal/protocol"
)

// maxCommandBytes bounds a session command body; tasks are small JSON documents.
const maxCommandBytes = 1 << 20

// Device is the scanner as seen by the HTTP layer.
type Device interface {
	Info(extended bool) protocol.InfoReply
	Dispatch(ctx context.Context, req device.Request, out chan<- protocol.Reply)
	Abandon(out chan<- protocol.Reply)
}

// Config tunes the HTTP surface.
type Config struct {
	InfoRateLimit  middleware.RateLimitConfig
	TracingService string
	EnableMetrics  bool
	AccessLog      bool
}

// ConfigFromApp maps the application config onto the HTTP surface.
func ConfigFromApp(cfg config.AppConfig) Config {
	c := Config{
		InfoRateLimit: middleware.RateLimitConfig{
			RequestLimit: cfg.RateLimit.InfoRequests,
			WindowSize:   cfg.RateLimit.InfoWindow,
		},
		EnableMetrics: true,
		AccessLog:     true,
	}
	if cfg.Tracing.Enabled {
		c.TracingService = cfg.Tracing.ServiceName
	}
	return c
}

// Server routes HTTP requests to the scanner.
type Server struct {
	dev    Device
	health *health.Manager
	cfg    Config
	logger zerolog.Logger
}

// New builds a server. hm may be nil, which disables the health endpoints.
func New(dev Device, hm *health.Manager, cfg Config) *Server {
	return &Server{
		dev:    dev,
		health: hm,
		cfg:    cfg,
		logger: xglog.WithComponent("api"),
	}
}

// Handler returns the routed handler with the middleware stack applied.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:  s.cfg.EnableMetrics,
		TracingService: s.cfg.TracingService,
		EnableLogging:  s.cfg.AccessLog,
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(s.cfg.InfoRateLimit))
		r.Get(protocol.PathInfo, s.handleInfo(false))
		r.Get(protocol.PathInfoEx, s.handleInfo(true))
	})
	r.Post(protocol.PathSession, s.handleSession)

	if s.health != nil {
		r.Get("/healthz", s.health.ServeHealth)
		r.Get("/readyz", s.health.ServeReady)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
	})
	return r
}

// NewHTTPServer wraps h with the configured timeouts. WriteTimeout must stay
// above the long-poll hold.
func NewHTTPServer(cfg config.ServerConfig, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}
