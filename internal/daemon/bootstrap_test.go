// SPDX-License-Identifier: MIT
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loachfighter/twain-direct/internal/auth"
	"github.com/loachfighter/twain-direct/internal/certs"
	"github.com/loachfighter/twain-direct/internal/config"
	"github.com/loachfighter/twain-direct/internal/log"
	"github.com/loachfighter/twain-direct/internal/platform"
	"github.com/loachfighter/twain-direct/internal/protocol"
	"github.com/loachfighter/twain-direct/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func testConfig(t *testing.T) config.AppConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.Version = "test-1.0.0"
	cfg.Platform = platform.Info{Kind: platform.Linux, Hostname: "scanhost"}
	cfg.DataDir = dir
	cfg.Server.ListenAddr = reserveListenAddr(t)
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Device.Secret = "test-secret"
	cfg.Device.ImagesDir = filepath.Join(dir, "images")
	cfg.Registry = config.RegistryConfig{Backend: config.RegistryFile, Path: filepath.Join(dir, "registration.json")}
	cfg.Bridge = config.BridgeConfig{Kind: config.BridgeVirtual, VirtualPages: 1}
	return cfg
}

func register(t *testing.T, path string) {
	t.Helper()
	err := registry.NewFileStore(path).Save(context.Background(), registry.Registration{
		Manufacturer: "Acme",
		Model:        "ScanMaster 9000",
		SerialNumber: "SN-001",
		FriendlyName: "Front Office Scanner",
		RegisteredAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestBootstrap_ServesInfo(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := testConfig(t)
	register(t, cfg.Registry.Path)

	rt, err := Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, rt.Scanner)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.App.Run(ctx) }()

	require.NoError(t, waitForListen(cfg.Server.ListenAddr, 2*time.Second))

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	req, err := http.NewRequest(http.MethodGet, "http://"+cfg.Server.ListenAddr+protocol.PathInfo, nil)
	require.NoError(t, err)
	req.Header.Set(auth.HeaderPrivetToken, "")
	resp, err := client.Do(req)
	require.NoError(t, err)
	var info protocol.InfoReply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Acme", info.Manufacturer)
	assert.Equal(t, "Front Office Scanner", info.Name)
	assert.Equal(t, "http://"+cfg.Server.ListenAddr+"/", info.URL)
	assert.NotEmpty(t, info.PrivetToken)

	resp, err = client.Get("http://" + cfg.Server.ListenAddr + "/readyz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}
	assert.False(t, rt.Scanner.Ready())
}

func TestBootstrap_UnregisteredStillStarts(t *testing.T) {
	cfg := testConfig(t)

	rt, err := Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, rt.Scanner.Close())
}

func TestBootstrap_GeneratesTLSPair(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.TLSAuto = true

	rt, err := Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, rt.Scanner.Close())

	pair := certs.InDir(cfg.DataDir)
	assert.FileExists(t, pair.Cert)
	assert.FileExists(t, pair.Key)
}

func TestBootstrap_RejectsBadConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Registry.Backend = "etcd"

	_, err := Bootstrap(context.Background(), cfg)
	require.Error(t, err)

	cfg = testConfig(t)
	cfg.Bridge.Kind = "usb"
	_, err = Bootstrap(context.Background(), cfg)
	require.Error(t, err)
}

func TestBaseURL(t *testing.T) {
	cfg := config.AppConfig{Platform: platform.Info{Hostname: "scanhost"}}

	cfg.Server.ListenAddr = ":55555"
	assert.Equal(t, "http://scanhost:55555/", baseURL(cfg))

	cfg.Server.ListenAddr = "0.0.0.0:8080"
	cfg.Server.TLSCert = "cert.pem"
	assert.Equal(t, "https://scanhost:8080/", baseURL(cfg))

	cfg.Server.ListenAddr = "192.168.1.20:55555"
	assert.Equal(t, "https://192.168.1.20:55555/", baseURL(cfg))

	cfg.Server.ListenAddr = "garbage"
	assert.Empty(t, baseURL(cfg))
}

type fakeManager struct {
	started  chan struct{}
	shutdown atomic.Int32
	startErr error
}

func (m *fakeManager) Start(ctx context.Context) error {
	close(m.started)
	if m.startErr != nil {
		return m.startErr
	}
	<-ctx.Done()
	return nil
}

func (m *fakeManager) Shutdown(context.Context) error {
	m.shutdown.Add(1)
	return nil
}

func (m *fakeManager) RegisterShutdownHook(string, ShutdownHook) {}

type countingCloser struct {
	mu     sync.Mutex
	closed int
}

func (c *countingCloser) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func TestApp_AnnouncesAndReloads(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var (
		published atomic.Int32
		reloaded  atomic.Int32
		closers   []*countingCloser
		mu        sync.Mutex
	)
	app := NewApp(log.WithComponent("test"), &fakeManager{started: make(chan struct{})}, AppOptions{
		Reload: func(context.Context) error {
			reloaded.Add(1)
			return nil
		},
		Announce: func() (io.Closer, error) {
			published.Add(1)
			c := &countingCloser{}
			mu.Lock()
			closers = append(closers, c)
			mu.Unlock()
			return c, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return published.Load() == 1 }, time.Second, 5*time.Millisecond)

	app.Reload(ctx)
	assert.Equal(t, int32(1), reloaded.Load())
	assert.Equal(t, int32(2), published.Load())

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, closers, 2)
	for _, c := range closers {
		assert.Equal(t, 1, c.closed)
	}
}

func TestApp_FailedReloadKeepsAnnouncement(t *testing.T) {
	var published atomic.Int32
	app := NewApp(log.WithComponent("test"), &fakeManager{started: make(chan struct{})}, AppOptions{
		Reload: func(context.Context) error { return errors.New("disk gone") },
		Announce: func() (io.Closer, error) {
			published.Add(1)
			return &countingCloser{}, nil
		},
	})

	app.Reload(context.Background())
	assert.Zero(t, published.Load())
}

func TestApp_StartErrorShutsDown(t *testing.T) {
	boom := errors.New("listen failed")
	mgr := &fakeManager{started: make(chan struct{}), startErr: boom}
	app := NewApp(log.WithComponent("test"), mgr, AppOptions{})

	err := app.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), mgr.shutdown.Load())
}

func TestApp_MissingManager(t *testing.T) {
	app := NewApp(log.WithComponent("test"), nil, AppOptions{})
	require.ErrorIs(t, app.Run(context.Background()), ErrMissingManager)
}
