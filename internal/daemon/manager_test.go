// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loachfighter/twain-direct/internal/config"
	"github.com/loachfighter/twain-direct/internal/log"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func reserveListenAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve listen addr: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func waitForListen(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return errors.New("listen timeout")
}

func testDeps(h http.Handler) Deps {
	return Deps{Logger: log.WithComponent("test"), APIHandler: h}
}

func testServerConfig(t *testing.T, shutdown time.Duration) config.ServerConfig {
	return config.ServerConfig{
		ListenAddr:      reserveListenAddr(t),
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		IdleTimeout:     10 * time.Second,
		ShutdownTimeout: shutdown,
	}
}

// startManager runs Start in the background and waits for the API listener.
func startManager(t *testing.T, mgr Manager, addr string) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() { errChan <- mgr.Start(ctx) }()
	if err := waitForListen(addr, 2*time.Second); err != nil {
		cancel()
		t.Fatalf("server did not start listening: %v", err)
	}
	return cancel, errChan
}

func awaitStop(t *testing.T, errChan <-chan error) error {
	t.Helper()
	select {
	case err := <-errChan:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after context cancellation")
		return nil
	}
}

func TestNewManager_Validation(t *testing.T) {
	tests := []struct {
		name    string
		deps    Deps
		wantErr error
	}{
		{name: "valid", deps: testDeps(http.NotFoundHandler())},
		{name: "disabled logger", deps: Deps{Logger: zerolog.Nop(), APIHandler: http.NotFoundHandler()}, wantErr: ErrMissingLogger},
		{name: "missing handler", deps: testDeps(nil), wantErr: ErrMissingAPIHandler},
		{
			name: "metrics without addr",
			deps: Deps{
				Logger:         log.WithComponent("test"),
				APIHandler:     http.NotFoundHandler(),
				MetricsHandler: http.NotFoundHandler(),
			},
			wantErr: ErrMetricsHandlerWithoutAddr,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, err := NewManager(config.ServerConfig{ListenAddr: "127.0.0.1:0"}, tt.deps)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, mgr)
		})
	}
}

func TestManager_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	serverCfg := testServerConfig(t, 2*time.Second)
	mgr, err := NewManager(serverCfg, testDeps(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})))
	require.NoError(t, err)

	cancel, errChan := startManager(t, mgr, serverCfg.ListenAddr)
	cancel()
	require.NoError(t, awaitStop(t, errChan))
}

func TestManager_ShutdownTimesOutOnStuckRequest(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	requestStarted := make(chan struct{})
	release := make(chan struct{})
	handler := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		close(requestStarted)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})

	serverCfg := testServerConfig(t, 100*time.Millisecond)
	mgr, err := NewManager(serverCfg, testDeps(handler))
	require.NoError(t, err)
	cancel, errChan := startManager(t, mgr, serverCfg.ListenAddr)

	requestDone := make(chan struct{})
	go func() {
		defer close(requestDone)
		client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
		resp, err := client.Get("http://" + serverCfg.ListenAddr)
		if err == nil {
			_ = resp.Body.Close()
		}
	}()

	select {
	case <-requestStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("expected in-flight request before shutdown")
	}

	cancel()
	err = awaitStop(t, errChan)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	select {
	case <-requestDone:
	case <-time.After(2 * time.Second):
		t.Fatal("blocked request did not terminate after shutdown")
	}
}

func TestManager_ShutdownBeforeStart(t *testing.T) {
	mgr, err := NewManager(config.ServerConfig{ListenAddr: "127.0.0.1:0"}, testDeps(http.NotFoundHandler()))
	require.NoError(t, err)
	require.ErrorIs(t, mgr.Shutdown(context.Background()), ErrManagerNotStarted)
}

func TestManager_ServesMetrics(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	deps := testDeps(http.NotFoundHandler())
	deps.MetricsAddr = reserveListenAddr(t)
	deps.MetricsHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# HELP twain_up\n"))
	})

	serverCfg := testServerConfig(t, 2*time.Second)
	mgr, err := NewManager(serverCfg, deps)
	require.NoError(t, err)
	cancel, errChan := startManager(t, mgr, serverCfg.ListenAddr)

	require.NoError(t, waitForListen(deps.MetricsAddr, 2*time.Second))
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + deps.MetricsAddr + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	require.NoError(t, awaitStop(t, errChan))
}

func TestManager_PropagatesListenErrors(t *testing.T) {
	busy := httptest.NewServer(http.NotFoundHandler())
	defer busy.Close()

	serverCfg := config.ServerConfig{ListenAddr: busy.Listener.Addr().String(), ShutdownTimeout: time.Second}
	mgr, err := NewManager(serverCfg, testDeps(http.NotFoundHandler()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = mgr.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API server")
}

func TestManager_ShutdownHooksRunInReverse(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	serverCfg := testServerConfig(t, 2*time.Second)
	mgr, err := NewManager(serverCfg, testDeps(http.NotFoundHandler()))
	require.NoError(t, err)

	var order []string
	hookErr := errors.New("store busy")
	hook := func(name string, err error) ShutdownHook {
		return func(context.Context) error {
			order = append(order, name)
			return err
		}
	}
	mgr.RegisterShutdownHook("telemetry", hook("telemetry", nil))
	mgr.RegisterShutdownHook("registry", hook("registry", hookErr))
	mgr.RegisterShutdownHook("scanner", hook("scanner", nil))

	cancel, errChan := startManager(t, mgr, serverCfg.ListenAddr)
	cancel()
	require.ErrorIs(t, awaitStop(t, errChan), hookErr)
	assert.Equal(t, []string{"scanner", "registry", "telemetry"}, order)

	// A second shutdown is a no-op.
	require.NoError(t, mgr.Shutdown(context.Background()))
}

func TestManager_StartTwice(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	serverCfg := testServerConfig(t, time.Second)
	mgr, err := NewManager(serverCfg, testDeps(http.NotFoundHandler()))
	require.NoError(t, err)
	cancel, errChan := startManager(t, mgr, serverCfg.ListenAddr)

	err = mgr.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")

	cancel()
	require.NoError(t, awaitStop(t, errChan))
}
