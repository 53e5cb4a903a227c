// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// AppOptions wires the background work App owns next to the servers.
type AppOptions struct {
	// Reload re-reads the device registration. Called on the reload signal.
	Reload func(ctx context.Context) error

	// Announce publishes the device on the local network. The returned
	// closer withdraws the announcement. Nil disables discovery.
	Announce func() (io.Closer, error)

	// ReloadSignal defaults to SIGHUP.
	ReloadSignal os.Signal
}

// App owns the long-lived runtime lifecycle (reload wiring, announcements)
// and delegates server management to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	reload       func(ctx context.Context) error
	announce     func() (io.Closer, error)
	reloadSignal os.Signal

	mu        sync.Mutex
	announced io.Closer
}

// NewApp creates a new App orchestrator.
func NewApp(logger zerolog.Logger, manager Manager, opts AppOptions) *App {
	sig := opts.ReloadSignal
	if sig == nil {
		sig = syscall.SIGHUP
	}
	return &App{
		logger:       logger,
		manager:      manager,
		reload:       opts.Reload,
		announce:     opts.Announce,
		reloadSignal: sig,
	}
}

// Run starts all owned background subsystems and blocks until ctx is cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.announce != nil {
		// Announcement is best-effort: the scanner stays reachable by URL.
		a.republish()
		g.Go(func() error {
			<-ctx.Done()
			a.withdraw()
			return nil
		})
	}

	if a.reload != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, a.reloadSignal)
			defer signal.Stop(hupChan)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hupChan:
					a.logger.Info().
						Str("event", "registration.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal, reloading registration")
					a.Reload(ctx)
				}
			}
		})
	}

	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}

// Reload re-reads the registration and refreshes the announcement so the
// advertised name and note follow it.
func (a *App) Reload(ctx context.Context) {
	if a.reload == nil {
		return
	}
	if err := a.reload(ctx); err != nil {
		a.logger.Warn().
			Err(err).
			Str("event", "registration.reload_failed").
			Msg("registration reload failed")
		return
	}
	if a.announce != nil {
		a.republish()
	}
}

func (a *App) republish() {
	a.withdraw()
	c, err := a.announce()
	if err != nil {
		a.logger.Warn().Err(err).Str("event", "discovery.publish_failed").Msg("mDNS announcement failed")
		return
	}
	a.mu.Lock()
	a.announced = c
	a.mu.Unlock()
	a.logger.Info().Str("event", "discovery.published").Msg("device announced")
}

func (a *App) withdraw() {
	a.mu.Lock()
	c := a.announced
	a.announced = nil
	a.mu.Unlock()
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("withdraw announcement")
	}
}
