// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/loachfighter/twain-direct/internal/config"
	"github.com/loachfighter/twain-direct/internal/log"
)

// PerformStartupChecks validates the environment before the daemon listens.
func PerformStartupChecks(_ context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	if err := checkWritableDir(logger, "data", cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}
	if cfg.Device.ImagesDir != "" {
		if err := os.MkdirAll(cfg.Device.ImagesDir, 0o750); err != nil {
			return fmt.Errorf("create images directory: %w", err)
		}
		if err := checkWritableDir(logger, "images", cfg.Device.ImagesDir); err != nil {
			return fmt.Errorf("images directory check failed: %w", err)
		}
	}
	if err := checkTargetedValidations(logger, cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger.Info().Msg("all startup checks passed")
	return nil
}

func checkWritableDir(logger zerolog.Logger, label, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", path)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str(log.FieldPath, path).Str("dir", label).Msg("directory is writable")
	return nil
}

func checkTargetedValidations(logger zerolog.Logger, cfg config.AppConfig) error {
	if addr := cfg.Server.ListenAddr; addr != "" {
		_, port, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("invalid listen address %q: %w", addr, err)
		}
		portNum, err := strconv.Atoi(port)
		if err != nil || portNum < 0 || portNum > 65535 {
			return fmt.Errorf("invalid listen port %q in %q", port, addr)
		}
		logger.Info().Str(log.FieldListen, addr).Msg("listen address is valid")
	}

	if cfg.Server.TLSCert != "" || cfg.Server.TLSKey != "" {
		if cfg.Server.TLSCert == "" || cfg.Server.TLSKey == "" {
			return fmt.Errorf("TLS configuration requires BOTH cert and key to be set")
		}
		if err := checkFileReadable(cfg.Server.TLSCert); err != nil {
			return fmt.Errorf("TLS cert error: %w", err)
		}
		if err := checkFileReadable(cfg.Server.TLSKey); err != nil {
			return fmt.Errorf("TLS key error: %w", err)
		}
		logger.Info().Msg("TLS configuration is valid")
	}

	if strings.EqualFold(cfg.Bridge.Kind, config.BridgeProcess) {
		if _, err := exec.LookPath(cfg.Bridge.Path); err != nil {
			return fmt.Errorf("bridge executable not found (%s): %w", cfg.Bridge.Path, err)
		}
		logger.Info().Str(log.FieldBridge, cfg.Bridge.Path).Msg("bridge executable available")
	} else {
		logger.Info().Msg("virtual bridge selected; skipping driver checks")
	}

	if cfg.Device.Secret == "" {
		logger.Warn().Msg("no device secret configured; tokens change on every restart")
	}

	return nil
}

func checkFileReadable(path string) error {
	f, err := os.Open(path) // #nosec G304 -- path comes from operator config
	if err != nil {
		return err
	}
	return f.Close()
}
