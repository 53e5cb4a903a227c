// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/loachfighter/twain-direct/internal/auth"
	"github.com/loachfighter/twain-direct/internal/bridge"
	"github.com/loachfighter/twain-direct/internal/client"
	"github.com/loachfighter/twain-direct/internal/device"
	"github.com/loachfighter/twain-direct/internal/health"
	"github.com/loachfighter/twain-direct/internal/protocol"
	"github.com/loachfighter/twain-direct/internal/registry"
)

type stack struct {
	scanner *device.Scanner
	server  *httptest.Server
	client  *client.Client
}

func newStack(t *testing.T, pages int) *stack {
	t.Helper()
	holder := registry.NewHolder()
	holder.Set(registry.Registration{
		Manufacturer: "Acme",
		Model:        "ScanMaster",
		SerialNumber: "SN-42",
		Firmware:     "2.1",
		FriendlyName: "Front Desk",
		Note:         "lobby",
	})
	opts := device.Options{
		Factory:       bridge.NewVirtualFactory(bridge.VirtualOptions{Pages: pages, Pace: 5 * time.Millisecond}),
		Registration:  holder,
		ImagesDir:     t.TempDir(),
		LongPollHold:  2 * time.Second,
		BridgeTimeout: 5 * time.Second,
	}
	scanner := device.New(opts)

	hm := health.NewManager("test")
	hm.RegisterChecker(health.NewFuncChecker("scanner", func(context.Context) error {
		if !scanner.Ready() {
			return errors.New("scanner not ready")
		}
		return nil
	}))
	srv := httptest.NewServer(New(scanner, hm, Config{}).Handler())
	c := client.New(client.Options{BaseURL: srv.URL})

	t.Cleanup(func() {
		_ = c.Close()
		require.NoError(t, scanner.Close())
		srv.Close()
	})
	return &stack{scanner: scanner, server: srv, client: c}
}

func leakOptions() []goleak.Option {
	return []goleak.Option{
		goleak.IgnoreCurrent(),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	}
}

func TestScanOverHTTP(t *testing.T) {
	st := newStack(t, 3)
	c := st.client
	ctx := context.Background()

	info, err := c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Front Desk", info.Name)
	assert.Equal(t, "idle", info.DeviceState)
	assert.Equal(t, []string{protocol.PathSession}, info.API)

	sess, err := c.CreateSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ready", sess.State)
	assert.Equal(t, sess.SessionID, c.Session().SessionID())

	info, err = c.InfoEx(ctx)
	require.NoError(t, err)
	assert.Equal(t, "processing", info.DeviceState)
	require.NotNil(t, info.Clouds)

	var (
		mu   sync.Mutex
		seen []protocol.Event
	)
	require.NoError(t, c.StartWaitingForEvents(ctx, func(ev protocol.Event) {
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
	}))
	require.ErrorIs(t, c.StartWaitingForEvents(ctx, nil), client.ErrPipelineRunning)

	_, err = c.SendTask(ctx, json.RawMessage(`{"actions":[{"action":"configure"}]}`))
	require.NoError(t, err)

	sess, err = c.StartCapturing(ctx)
	require.NoError(t, err)
	assert.Equal(t, "capturing", sess.State)

	m := c.Session()
	require.Eventually(t, func() bool {
		return m.ImageBlocksDrained() && len(m.ImageBlocks()) == 3
	}, 10*time.Second, 10*time.Millisecond, "events should carry every block")

	sess, err = c.StopCapturing(ctx)
	require.NoError(t, err)
	assert.Equal(t, "draining", sess.State)

	out := t.TempDir()
	for _, n := range m.ImageBlocks() {
		res, err := c.ReadImageBlock(ctx, n, true)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(res.ImageBlock, []byte("%PDF")))

		meta, err := c.ReadImageBlockMetadata(ctx, n, true)
		require.NoError(t, err)
		res.Thumbnail = meta.Thumbnail

		written, err := client.SaveImageBlock(out, n, res)
		require.NoError(t, err)
		assert.Len(t, written, 3)

		sess, err = c.ReleaseImageBlocks(ctx, n, n)
		require.NoError(t, err)
	}
	assert.Equal(t, "ready", sess.State)
	assert.Empty(t, m.ImageBlocks())

	saved, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Len(t, saved, 9)
	assert.FileExists(t, filepath.Join(out, bridge.ImageName(2)))

	sess, err = c.CloseSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "noSession", sess.State)
	assert.Empty(t, m.SessionID())

	if err := c.StopWaitingForEvents(); err != nil {
		ae, ok := client.AsAPIError(err)
		require.True(t, ok, err)
		assert.Equal(t, protocol.CodeInvalidSessionID, ae.Code)
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i].Session.Revision, seen[i-1].Session.Revision, "events arrive in revision order")
	}

	_, err = c.GetSession(ctx)
	require.ErrorIs(t, err, client.ErrNoSession)
}

func TestLanguageErrorsOverHTTP(t *testing.T) {
	st := newStack(t, 1)
	c := st.client
	ctx := context.Background()

	_, err := c.CreateSession(ctx)
	require.NoError(t, err)

	sess, err := c.SendTask(ctx, json.RawMessage(`{"actions":[{"action":"levitate"},{"action":"configure"},{"action":"teleport"}]}`))
	require.ErrorIs(t, err, client.ErrLanguage)
	ae, ok := client.AsAPIError(err)
	require.True(t, ok)
	require.Len(t, ae.Language, 2)
	assert.Equal(t, "actions[0].action", ae.Language[0].JSONKey)
	assert.Equal(t, "actions[2].action", ae.Language[1].JSONKey)
	assert.NotEmpty(t, sess.Task)
	assert.Equal(t, "ready", c.Session().State(), "language errors keep the session")
}

func TestCriticalReplyResetsMirror(t *testing.T) {
	st := newStack(t, 1)
	c := st.client
	ctx := context.Background()

	_, err := c.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, st.scanner.Close())

	_, err = c.GetSession(ctx)
	require.ErrorIs(t, err, client.ErrProtocol)
	ae, _ := client.AsAPIError(err)
	assert.Equal(t, protocol.CodeCritical, ae.Code)
	assert.Empty(t, c.Session().SessionID())
}

func TestSecurityRejectionOverHTTP(t *testing.T) {
	st := newStack(t, 1)

	post := func(token *string) protocol.Reply {
		body := `{"kind":"twainlocalscanner","commandId":"c1","method":"createSession"}`
		req, err := http.NewRequest(http.MethodPost, st.server.URL+protocol.PathSession, bytes.NewBufferString(body))
		require.NoError(t, err)
		if token != nil {
			req.Header.Set(auth.HeaderPrivetToken, *token)
		}
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode)
		var reply protocol.Reply
		require.NoError(t, json.NewDecoder(res.Body).Decode(&reply))
		return reply
	}

	assert.Equal(t, protocol.ErrorInvalidToken, post(nil).Error)
	forged := "AAAA:1"
	assert.Equal(t, protocol.ErrorInvalidToken, post(&forged).Error)

	fresh := `"` + st.scanner.Info(false).PrivetToken + `"`
	reply := post(&fresh)
	assert.Empty(t, reply.Error)
	require.NotNil(t, reply.Results)
	assert.True(t, reply.Results.Success)
}

func TestReadyzFollowsScanner(t *testing.T) {
	st := newStack(t, 1)

	res, err := http.Get(st.server.URL + "/readyz")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	require.NoError(t, st.scanner.Close())
	res, err = http.Get(st.server.URL + "/readyz")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}

func TestStopWaitingForEventsIsIdempotent(t *testing.T) {
	opts := leakOptions()
	t.Cleanup(func() { goleak.VerifyNone(t, opts...) })

	st := newStack(t, 1)
	c := st.client
	ctx := context.Background()

	require.NoError(t, c.StopWaitingForEvents())
	require.ErrorIs(t, c.StartWaitingForEvents(ctx, nil), client.ErrNoSession)

	_, err := c.CreateSession(ctx)
	require.NoError(t, err)
	require.NoError(t, c.StartWaitingForEvents(ctx, nil))
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, c.StopWaitingForEvents())
	require.NoError(t, c.StopWaitingForEvents())

	require.NoError(t, c.StartWaitingForEvents(ctx, nil), "pipeline can be restarted")
	require.NoError(t, c.StopWaitingForEvents())

	_, err = c.CloseSession(ctx)
	require.NoError(t, err)
}
