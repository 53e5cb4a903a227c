// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/loachfighter/twain-direct/internal/persistence/sqlite"
)

const schemaVersion = 1

// SQLiteStore keeps the registration in a single-row table.
type SQLiteStore struct {
	DB *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{DB: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("registry: migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	var current int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS registration (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		manufacturer TEXT NOT NULL,
		model TEXT NOT NULL,
		serial_number TEXT NOT NULL,
		firmware TEXT NOT NULL,
		friendly_name TEXT NOT NULL,
		note TEXT NOT NULL,
		scanner_json TEXT,
		registered_at_ms INTEGER NOT NULL
	);`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context) (Registration, error) {
	var (
		r       Registration
		scanner sql.NullString
		ms      int64
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT manufacturer, model, serial_number, firmware, friendly_name, note, scanner_json, registered_at_ms
		FROM registration WHERE id = 1`).
		Scan(&r.Manufacturer, &r.Model, &r.SerialNumber, &r.Firmware, &r.FriendlyName, &r.Note, &scanner, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return Registration{}, ErrNotRegistered
	}
	if err != nil {
		return Registration{}, fmt.Errorf("load registration: %w", err)
	}
	if scanner.Valid && scanner.String != "" {
		r.Scanner = []byte(scanner.String)
	}
	r.RegisteredAt = time.UnixMilli(ms).UTC()
	return r, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, r Registration) error {
	if err := r.Validate(); err != nil {
		return err
	}
	var scanner sql.NullString
	if len(r.Scanner) > 0 {
		scanner = sql.NullString{String: string(r.Scanner), Valid: true}
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO registration (id, manufacturer, model, serial_number, firmware, friendly_name, note, scanner_json, registered_at_ms)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			manufacturer = excluded.manufacturer,
			model = excluded.model,
			serial_number = excluded.serial_number,
			firmware = excluded.firmware,
			friendly_name = excluded.friendly_name,
			note = excluded.note,
			scanner_json = excluded.scanner_json,
			registered_at_ms = excluded.registered_at_ms`,
		r.Manufacturer, r.Model, r.SerialNumber, r.Firmware, r.FriendlyName, r.Note, scanner, r.RegisteredAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save registration: %w", err)
	}
	return nil
}

// Check runs an integrity check; used by the readiness check.
func (s *SQLiteStore) Check(ctx context.Context) error {
	issues, err := sqlite.QuickCheck(ctx, s.DB)
	if err != nil {
		return err
	}
	if len(issues) > 0 {
		return fmt.Errorf("registration database damaged: %v", issues)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.DB.Close() }
