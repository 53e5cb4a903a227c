// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"errors"
	"fmt"
)

// Validate checks the resolved configuration. Every failure is reported, not
// only the first.
func Validate(cfg AppConfig) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if cfg.Server.ListenAddr == "" {
		add("server.listenAddr must not be empty")
	}
	if (cfg.Server.TLSCert == "") != (cfg.Server.TLSKey == "") {
		add("server.tlsCert and server.tlsKey must be set together")
	}
	if cfg.Server.WriteTimeout > 0 && cfg.Server.WriteTimeout <= cfg.Device.LongPollHold {
		add("server.writeTimeout (%s) must exceed device.longPollHold (%s)", cfg.Server.WriteTimeout, cfg.Device.LongPollHold)
	}
	if cfg.Device.LongPollHold >= cfg.Client.EventTimeout {
		add("device.longPollHold (%s) must be shorter than client.eventTimeout (%s)", cfg.Device.LongPollHold, cfg.Client.EventTimeout)
	}

	// startCapturing holds the session while the operator decides, so the
	// client must still be waiting when the answer arrives.
	if cfg.Device.ConfirmScan && cfg.Device.ConfirmTimeout >= cfg.Client.CommandTimeout {
		add("device.confirmTimeout (%s) must be shorter than client.commandTimeout (%s)", cfg.Device.ConfirmTimeout, cfg.Client.CommandTimeout)
	}

	switch cfg.Bridge.Kind {
	case BridgeVirtual:
		if cfg.Bridge.VirtualPages < 0 {
			add("bridge.virtualPages must not be negative")
		}
	case BridgeProcess:
		if cfg.Bridge.Path == "" {
			add("bridge.path is required for the process bridge")
		}
	default:
		add("unknown bridge.kind %q", cfg.Bridge.Kind)
	}

	switch cfg.Registry.Backend {
	case RegistryFile, RegistrySQLite:
	default:
		add("unknown registry.backend %q", cfg.Registry.Backend)
	}

	if cfg.Tracing.Enabled {
		switch cfg.Tracing.Exporter {
		case "grpc", "http":
		default:
			add("unknown tracing.exporter %q", cfg.Tracing.Exporter)
		}
		if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
			add("tracing.sampleRate must be within [0,1]")
		}
	}

	if cfg.RateLimit.InfoRequests < 0 {
		add("rateLimit.infoRequests must not be negative")
	}

	return errors.Join(errs...)
}
