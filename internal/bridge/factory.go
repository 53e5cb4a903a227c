// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package bridge

import (
	"fmt"

	"github.com/loachfighter/twain-direct/internal/config"
)

// NewFactory returns the factory selected by cfg.Kind.
func NewFactory(cfg config.BridgeConfig) (Factory, error) {
	switch cfg.Kind {
	case config.BridgeVirtual, "":
		return NewVirtualFactory(VirtualOptions{Pages: cfg.VirtualPages, Pace: cfg.VirtualPace}), nil
	case config.BridgeProcess:
		if cfg.Path == "" {
			return nil, fmt.Errorf("process bridge requires a path")
		}
		return NewProcessFactory(ProcessOptions{Path: cfg.Path, Args: cfg.Args}), nil
	default:
		return nil, fmt.Errorf("unknown bridge kind %q", cfg.Kind)
	}
}
