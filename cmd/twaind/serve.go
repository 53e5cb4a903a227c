// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"fmt"
	"os"

	"github.com/loachfighter/twain-direct/internal/daemon"
	xglog "github.com/loachfighter/twain-direct/internal/log"
	"github.com/spf13/pflag"
)

func runServe(args []string) int {
	fs := pflag.NewFlagSet("twaind serve", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "path to config file (YAML)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}
	logger := xglog.WithComponent("main")
	logger.Info().
		Str("event", "config.loaded").
		Str("path", *configPath).
		Str("data_dir", cfg.DataDir).
		Str("secret", xglog.Redact(cfg.Device.Secret)).
		Msg("loaded configuration")

	ctx, stop := daemon.WaitForShutdown()
	defer stop()

	rt, err := daemon.Bootstrap(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Str("event", "bootstrap.failed").Msg("failed to start scanner daemon")
		return 1
	}

	if err := rt.App.Run(ctx); err != nil {
		logger.Error().Err(err).Str("event", "daemon.failed").Msg("scanner daemon stopped with error")
		return 1
	}
	logger.Info().Msg("scanner daemon stopped")
	return 0
}
