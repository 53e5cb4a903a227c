// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loachfighter/twain-direct/internal/api"
	"github.com/loachfighter/twain-direct/internal/bridge"
	"github.com/loachfighter/twain-direct/internal/config"
	"github.com/loachfighter/twain-direct/internal/device"
	"github.com/loachfighter/twain-direct/internal/discovery"
	"github.com/loachfighter/twain-direct/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScanner(t *testing.T, pages int) *httptest.Server {
	t.Helper()
	holder := registry.NewHolder()
	holder.Set(registry.Registration{
		Manufacturer: "Acme",
		Model:        "ScanMaster",
		SerialNumber: "SN-7",
		FriendlyName: "Mail Room",
	})
	scanner := device.New(device.Options{
		Factory:       bridge.NewVirtualFactory(bridge.VirtualOptions{Pages: pages, Pace: 5 * time.Millisecond}),
		Registration:  holder,
		ImagesDir:     t.TempDir(),
		LongPollHold:  2 * time.Second,
		BridgeTimeout: 5 * time.Second,
	})
	srv := httptest.NewServer(api.New(scanner, nil, api.Config{}).Handler())
	t.Cleanup(func() {
		require.NoError(t, scanner.Close())
		srv.Close()
	})
	return srv
}

func defaultTarget(url string) *target {
	return &target{
		devices:  []string{url},
		commands: config.DefaultCommandTimeout,
		data:     config.DefaultDataTimeout,
		events:   config.DefaultEventTimeout,
	}
}

func TestScanSavesEveryBlock(t *testing.T) {
	srv := newScanner(t, 2)
	tg := defaultTarget(srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	d, err := tg.pick(ctx)
	require.NoError(t, err)
	c := tg.client(d)
	defer func() { _ = c.Close() }()

	out := t.TempDir()
	var progress bytes.Buffer
	n, err := scan(ctx, c, json.RawMessage(`{"actions":[{"action":"configure"}]}`), out, &progress)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Contains(t, progress.String(), "image block 2 saved")

	assert.FileExists(t, filepath.Join(out, bridge.ImageName(1)))
	assert.FileExists(t, filepath.Join(out, bridge.ImageName(2)))
	assert.Empty(t, c.Session().SessionID(), "session is closed after the scan")
}

func TestRunUnknownCommand(t *testing.T) {
	assert.Equal(t, 2, run(context.Background(), "frobnicate", nil))
	assert.Equal(t, 0, run(context.Background(), "version", nil))
}

func TestRunInfoAgainstStaticDevice(t *testing.T) {
	srv := newScanner(t, 1)
	assert.Equal(t, 0, run(context.Background(), "info", []string{"--device", srv.URL}))
	assert.Equal(t, 1, run(context.Background(), "info", []string{"--device", "ftp://scanner"}))
}

func TestScanRejectsInvalidTask(t *testing.T) {
	task := filepath.Join(t.TempDir(), "task.json")
	require.NoError(t, os.WriteFile(task, []byte("{not json"), 0o600))
	assert.Equal(t, 2, run(context.Background(), "scan", []string{"--task", task, "--device", "http://127.0.0.1:1"}))
}

func TestPrintDevices(t *testing.T) {
	var buf bytes.Buffer
	printDevices(&buf, []discovery.Device{{
		FriendlyName: "Mail Room",
		ID:           "SN-7",
		Note:         "basement",
		Host:         "10.0.0.5",
		Port:         55555,
	}})
	out := buf.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "http://10.0.0.5:55555")
	assert.Contains(t, out, "basement")
}
