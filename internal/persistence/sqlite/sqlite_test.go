// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenAppliesWAL(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "t.db"), DefaultConfig())
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	require.Equal(t, "wal", mode)
}

func TestQuickCheckHealthy(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "t.db"), DefaultConfig())
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	issues, err := QuickCheck(context.Background(), db)
	require.NoError(t, err)
	require.Nil(t, issues)
}
