// SPDX-License-Identifier: MIT

// Package daemon provides the core daemon bootstrapping and lifecycle management.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/loachfighter/twain-direct/internal/api"
	"github.com/loachfighter/twain-direct/internal/auth"
	"github.com/loachfighter/twain-direct/internal/bridge"
	"github.com/loachfighter/twain-direct/internal/certs"
	"github.com/loachfighter/twain-direct/internal/config"
	"github.com/loachfighter/twain-direct/internal/device"
	"github.com/loachfighter/twain-direct/internal/discovery"
	"github.com/loachfighter/twain-direct/internal/health"
	"github.com/loachfighter/twain-direct/internal/log"
	"github.com/loachfighter/twain-direct/internal/registry"
	"github.com/loachfighter/twain-direct/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Runtime is a fully wired scanner daemon.
type Runtime struct {
	App     *App
	Manager Manager
	Scanner *device.Scanner
}

// Bootstrap validates the host, opens the registration store and builds the
// scanner, HTTP surface and lifecycle around it. Resources opened here are
// released by the manager's shutdown hooks.
func Bootstrap(ctx context.Context, cfg config.AppConfig) (rt *Runtime, err error) {
	logger := log.WithComponent("daemon")

	addr, err := config.BindListenAddr(cfg.Server.ListenAddr, cfg.Server.Bind)
	if err != nil {
		return nil, fmt.Errorf("bind listen addr: %w", err)
	}
	cfg.Server.ListenAddr = addr

	if cfg.Server.TLSAuto && cfg.Server.TLSCert == "" && cfg.Server.TLSKey == "" {
		pair := certs.InDir(cfg.DataDir)
		if err := certs.Ensure(pair, []string{cfg.Platform.Hostname}, logger); err != nil {
			return nil, fmt.Errorf("provision TLS certificate: %w", err)
		}
		cfg.Server.TLSCert, cfg.Server.TLSKey = pair.Cert, pair.Key
	}

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		return nil, fmt.Errorf("startup checks: %w", err)
	}

	// Partially built resources are released if a later step fails.
	var closers []func(context.Context) error
	defer func() {
		if err == nil {
			return
		}
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i](context.WithoutCancel(ctx))
		}
	}()

	tp, err := telemetry.NewProvider(ctx, telemetry.FromConfig(cfg.Tracing, cfg.Version))
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	closers = append(closers, tp.Shutdown)

	store, err := registry.Open(cfg.Registry)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	closers = append(closers, func(context.Context) error { return store.Close() })

	holder := registry.NewHolder()
	loaded, err := registry.LoadInto(ctx, store, holder)
	if err != nil {
		return nil, fmt.Errorf("load registration: %w", err)
	}
	if !loaded {
		logger.Warn().
			Str("event", "registration.missing").
			Str("path", cfg.Registry.Path).
			Msg("device is not registered; sessions will be refused until it is")
	}

	factory, err := bridge.NewFactory(cfg.Bridge)
	if err != nil {
		return nil, err
	}

	opts := device.OptionsFromConfig(cfg)
	opts.Authenticator = auth.NewAuthenticator(cfg.Device.Secret)
	opts.Factory = factory
	opts.Registration = holder
	opts.Notifier = device.LogNotifier{Logger: log.WithComponent("display")}
	opts.BaseURL = baseURL(cfg)

	scanner := device.New(opts)
	closers = append(closers, func(context.Context) error { return scanner.Close() })

	hm := health.NewManager(cfg.Version)
	hm.RegisterChecker(health.NewFuncChecker("scanner", func(context.Context) error {
		if !scanner.Ready() {
			return errors.New("scanner is shutting down")
		}
		return nil
	}))
	hm.RegisterChecker(health.NewDirChecker("images_dir", cfg.Device.ImagesDir))
	hm.RegisterChecker(health.NewSoftFuncChecker("registration", func(context.Context) error {
		if _, ok := holder.Current(); !ok {
			return registry.ErrNotRegistered
		}
		return nil
	}))
	if checker, ok := store.(interface{ Check(context.Context) error }); ok {
		hm.RegisterChecker(health.NewSoftFuncChecker("registry_store", checker.Check))
	}

	handler := api.New(scanner, hm, api.ConfigFromApp(cfg)).Handler()

	deps := Deps{
		Logger:      logger,
		Config:      cfg,
		APIHandler:  handler,
		MetricsAddr: cfg.Metrics.ListenAddr,
	}
	if cfg.Metrics.ListenAddr != "" {
		deps.MetricsHandler = promhttp.Handler()
	}

	mgr, err := NewManager(cfg.Server, deps)
	if err != nil {
		return nil, err
	}
	// Hooks run in reverse: the scanner stops before its store and tracer.
	mgr.RegisterShutdownHook("telemetry", tp.Shutdown)
	mgr.RegisterShutdownHook("registry", func(context.Context) error { return store.Close() })
	mgr.RegisterShutdownHook("scanner", func(context.Context) error { return scanner.Close() })

	appOpts := AppOptions{
		Reload: func(ctx context.Context) error {
			_, err := registry.LoadInto(ctx, store, holder)
			return err
		},
	}
	if cfg.Discovery.Enabled {
		appOpts.Announce = announcer(cfg, holder)
	}

	logger.Info().
		Str("version", cfg.Version).
		Str("listen", cfg.Server.ListenAddr).
		Str("bridge", factory.Name()).
		Str("registry", cfg.Registry.Backend).
		Bool("registered", loaded).
		Msg("scanner daemon ready")

	return &Runtime{
		App:     NewApp(logger, mgr, appOpts),
		Manager: mgr,
		Scanner: scanner,
	}, nil
}

func announcer(cfg config.AppConfig, holder *registry.Holder) func() (io.Closer, error) {
	return func() (io.Closer, error) {
		port, err := cfg.Server.Port()
		if err != nil {
			return nil, err
		}
		d := discovery.Device{
			InstanceName: cfg.Discovery.Instance,
			Secure:       cfg.Server.TLSCert != "",
			ID:           cfg.Platform.Hostname,
			Port:         port,
		}
		if reg, ok := holder.Current(); ok {
			d.FriendlyName = reg.FriendlyName
			d.Note = reg.Note
			d.ID = reg.SerialNumber
			if d.InstanceName == "" {
				d.InstanceName = reg.FriendlyName
			}
		}
		if d.InstanceName == "" {
			d.InstanceName = cfg.Platform.Hostname
		}
		if d.FriendlyName == "" {
			d.FriendlyName = d.InstanceName
		}
		return discovery.Publish(d)
	}
}

func baseURL(cfg config.AppConfig) string {
	scheme := "http"
	if cfg.Server.TLSCert != "" {
		scheme = "https"
	}
	host, port, err := net.SplitHostPort(cfg.Server.ListenAddr)
	if err != nil {
		return ""
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = cfg.Platform.Hostname
	}
	return fmt.Sprintf("%s://%s/", scheme, net.JoinHostPort(host, port))
}

// WaitForShutdown returns a context cancelled on interrupt or termination.
func WaitForShutdown() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
