// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/loachfighter/twain-direct/internal/registry"
	"github.com/spf13/pflag"
)

func runRegister(args []string) int {
	fs := pflag.NewFlagSet("twaind register", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "path to config file (YAML)")
	var reg registry.Registration
	fs.StringVar(&reg.Manufacturer, "manufacturer", "", "scanner manufacturer")
	fs.StringVar(&reg.Model, "model", "", "scanner model")
	fs.StringVar(&reg.SerialNumber, "serial", "", "scanner serial number")
	fs.StringVar(&reg.Firmware, "firmware", "", "scanner firmware version")
	fs.StringVar(&reg.FriendlyName, "name", "", "name shown to clients")
	fs.StringVar(&reg.Note, "note", "", "free-form note shown to clients")
	scannerFile := fs.String("scanner-json", "", "file holding the bridge's scanner record")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *scannerFile != "" {
		raw, err := os.ReadFile(*scannerFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		reg.Scanner = json.RawMessage(raw)
	}
	reg.RegisteredAt = time.Now().UTC()
	if err := reg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	store, err := registry.Open(cfg.Registry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	if err := store.Save(context.Background(), reg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("registered %q in %s\n", reg.FriendlyName, cfg.Registry.Path)
	fmt.Println("send SIGHUP to a running twaind to pick up the change")
	return 0
}
