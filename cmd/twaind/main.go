// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Command twaind fronts a scanner with the TWAIN Local protocol.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/loachfighter/twain-direct/internal/config"
	xglog "github.com/loachfighter/twain-direct/internal/log"
	"github.com/loachfighter/twain-direct/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		return runServe(args)
	case "register":
		return runRegister(args)
	case "version":
		fmt.Println(version.String())
		return 0
	case "help":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  twaind [serve] [--config|-c config.yaml]")
	fmt.Fprintln(os.Stderr, "  twaind register --manufacturer M --model M --serial S --name N [--note N] [--firmware F] [--scanner-json FILE]")
	fmt.Fprintln(os.Stderr, "  twaind version")
}

// loadConfig resolves configuration and installs the process logger.
func loadConfig(path string) (config.AppConfig, error) {
	cfg, err := config.NewLoader(strings.TrimSpace(path), version.Version).Load()
	if err != nil {
		return cfg, err
	}
	xglog.Configure(xglog.Config{
		Level:   cfg.LogLevel,
		Service: "twaind",
		Version: cfg.Version,
	})
	return cfg, nil
}
