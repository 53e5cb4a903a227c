// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package registry

import (
	"fmt"

	"github.com/loachfighter/twain-direct/internal/config"
)

// Open returns the store selected by cfg.
func Open(cfg config.RegistryConfig) (Store, error) {
	switch cfg.Backend {
	case config.RegistryFile, "":
		return NewFileStore(cfg.Path), nil
	case config.RegistrySQLite:
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown registry backend %q", cfg.Backend)
	}
}
