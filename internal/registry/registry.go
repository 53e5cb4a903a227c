// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package registry persists the device registration record. The daemon
// refuses to create sessions until a record has been loaded.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrNotRegistered is returned by stores that hold no record yet.
var ErrNotRegistered = errors.New("device not registered")

// Registration describes the scanner this daemon fronts.
type Registration struct {
	Manufacturer string          `json:"manufacturer"`
	Model        string          `json:"model"`
	SerialNumber string          `json:"serialNumber"`
	Firmware     string          `json:"firmware"`
	FriendlyName string          `json:"friendlyName"`
	Note         string          `json:"note"`
	Scanner      json.RawMessage `json:"scanner,omitempty"`
	RegisteredAt time.Time       `json:"registeredAt"`
}

// Validate checks the fields every info reply needs.
func (r Registration) Validate() error {
	switch {
	case r.Manufacturer == "":
		return errors.New("manufacturer is required")
	case r.Model == "":
		return errors.New("model is required")
	case r.SerialNumber == "":
		return errors.New("serial number is required")
	case r.FriendlyName == "":
		return errors.New("friendly name is required")
	}
	if len(r.Scanner) > 0 && !json.Valid(r.Scanner) {
		return errors.New("scanner record is not valid JSON")
	}
	return nil
}

// Store loads and saves the registration.
type Store interface {
	Load(ctx context.Context) (Registration, error)
	Save(ctx context.Context, r Registration) error
	Close() error
}

// Holder serves the loaded registration to the engine.
type Holder struct {
	mu  sync.RWMutex
	reg Registration
	ok  bool
}

// NewHolder returns an empty holder.
func NewHolder() *Holder { return &Holder{} }

// Set installs r.
func (h *Holder) Set(r Registration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reg = r
	h.ok = true
}

// Current returns the registration and whether one is loaded.
func (h *Holder) Current() (Registration, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.reg, h.ok
}

// LoadInto reads the store into h. A store without a record leaves h empty
// and is not an error.
func LoadInto(ctx context.Context, s Store, h *Holder) (bool, error) {
	r, err := s.Load(ctx)
	if errors.Is(err, ErrNotRegistered) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	h.Set(r)
	return true, nil
}
