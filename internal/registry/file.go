// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// FileStore keeps the registration as a JSON document replaced atomically.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load implements Store.
func (s *FileStore) Load(_ context.Context) (Registration, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Registration{}, ErrNotRegistered
	}
	if err != nil {
		return Registration{}, fmt.Errorf("read registration: %w", err)
	}
	var r Registration
	if err := json.Unmarshal(data, &r); err != nil {
		return Registration{}, fmt.Errorf("decode registration: %w", err)
	}
	return r, nil
}

// Save implements Store.
func (s *FileStore) Save(_ context.Context, r Registration) error {
	if err := r.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registration: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create registration dir: %w", err)
	}

	pf, err := renameio.NewPendingFile(s.path, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() { _ = pf.Cleanup() }()

	if _, err := pf.Write(data); err != nil {
		return fmt.Errorf("write registration: %w", err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace registration: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }
