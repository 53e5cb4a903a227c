// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package device

import (
	"context"
	"encoding/json"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/loachfighter/twain-direct/internal/bridge"
	"github.com/loachfighter/twain-direct/internal/protocol"
	"github.com/loachfighter/twain-direct/internal/registry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeBridge is a scripted bridge whose blocks are changed by the test.
type fakeBridge struct {
	mu      sync.Mutex
	blocks  []int
	drained bool
	status  map[string]string
	raw     map[string][]byte
	calls   []bridge.Request
	changes chan struct{}
	closed  bool
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		status:  map[string]string{},
		raw:     map[string][]byte{},
		changes: make(chan struct{}, 1),
	}
}

func (f *fakeBridge) Call(_ context.Context, req bridge.Request) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, bridge.ErrClosed
	}
	f.calls = append(f.calls, req)
	if raw, ok := f.raw[req.Method]; ok {
		return raw, nil
	}
	st := bridge.StatusSuccess
	if o := f.status[req.Method]; o != "" {
		st = o
	}
	if st == bridge.StatusSuccess {
		switch req.Method {
		case bridge.MethodStartCapturing:
			f.drained = false
		case bridge.MethodReleaseImageBlocks:
			f.blocks = slices.DeleteFunc(f.blocks, func(b int) bool {
				return b >= req.ImageBlockNum && b <= req.LastImageBlockNum
			})
		}
	}
	reply := bridge.Reply{
		Status:  st,
		Session: &bridge.SessionReply{ImageBlocks: slices.Clone(f.blocks), ImageBlocksDrained: f.drained},
	}
	return json.Marshal(reply)
}

func (f *fakeBridge) Changes() <-chan struct{} { return f.changes }

func (f *fakeBridge) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.changes)
	}
	return nil
}

// produce replaces the device-side blocks and signals a change.
func (f *fakeBridge) produce(blocks []int, drained bool) {
	f.mu.Lock()
	f.blocks = slices.Clone(blocks)
	f.drained = drained
	f.mu.Unlock()
	select {
	case f.changes <- struct{}{}:
	default:
	}
}

func (f *fakeBridge) lastCall(method string) (bridge.Request, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Method == method {
			return f.calls[i], true
		}
	}
	return bridge.Request{}, false
}

func (f *fakeBridge) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeFactory struct {
	mu      sync.Mutex
	bridges []*fakeBridge
}

func (f *fakeFactory) Name() string { return "fake" }

func (f *fakeFactory) Open(context.Context, bridge.Spec) (bridge.Bridge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := newFakeBridge()
	f.bridges = append(f.bridges, b)
	return b, nil
}

func (f *fakeFactory) current() *fakeBridge {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bridges[len(f.bridges)-1]
}

type harness struct {
	t         *testing.T
	s         *Scanner
	caller    string
	token     string
	sessionID string
	seq       int
}

func testRegistration() registry.Registration {
	return registry.Registration{
		Manufacturer: "Acme",
		Model:        "ScanMaster",
		SerialNumber: "SN-1",
		Firmware:     "1.0",
		FriendlyName: "Desk Scanner",
		Note:         "lab",
	}
}

func newHarness(t *testing.T, factory bridge.Factory, mutate func(*Options)) *harness {
	t.Helper()
	holder := registry.NewHolder()
	holder.Set(testRegistration())
	opts := Options{
		Factory:       factory,
		Registration:  holder,
		ImagesDir:     t.TempDir(),
		LongPollHold:  5 * time.Second,
		BridgeTimeout: 5 * time.Second,
	}
	if mutate != nil {
		mutate(&opts)
	}
	s := New(opts)
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	h := &harness{t: t, s: s, caller: "10.0.0.5"}
	h.token = s.Info(false).PrivetToken
	return h
}

func commandBody(method, commandID string, params map[string]any) []byte {
	cmd := map[string]any{"kind": protocol.Kind, "commandId": commandID, "method": method}
	if params != nil {
		cmd["params"] = params
	}
	b, _ := json.Marshal(cmd)
	return b
}

// post dispatches a command and returns the channel its reply arrives on.
func (h *harness) post(method string, params map[string]any) chan protocol.Reply {
	h.seq++
	if params == nil {
		params = map[string]any{}
	}
	if _, ok := params["sessionId"]; !ok && method != protocol.MethodCreateSession {
		params["sessionId"] = h.sessionID
	}
	return h.postRaw(commandBody(method, "cmd-"+strconv.Itoa(h.seq), params), h.caller, h.token, true)
}

func (h *harness) postRaw(body []byte, caller, token string, present bool) chan protocol.Reply {
	out := make(chan protocol.Reply, 1)
	h.s.Dispatch(context.Background(), Request{Body: body, Caller: caller, Token: token, TokenPresent: present}, out)
	return out
}

func (h *harness) await(ch chan protocol.Reply) protocol.Reply {
	h.t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		h.t.Fatal("no reply")
		return protocol.Reply{}
	}
}

func (h *harness) send(method string, params map[string]any) protocol.Reply {
	h.t.Helper()
	return h.await(h.post(method, params))
}

// ok sends a command and requires success, returning the session.
func (h *harness) ok(method string, params map[string]any) protocol.Session {
	h.t.Helper()
	r := h.send(method, params)
	require.Empty(h.t, r.Error, "security error on %s", method)
	require.NotNil(h.t, r.Results, method)
	require.True(h.t, r.Results.Success, "%s failed with %s", method, r.Results.Code)
	require.NotNil(h.t, r.Results.Session, method)
	return *r.Results.Session
}

// fails sends a command and requires a protocol failure with code.
func (h *harness) fails(method string, params map[string]any, code string) protocol.Reply {
	h.t.Helper()
	r := h.send(method, params)
	require.NotNil(h.t, r.Results, method)
	require.False(h.t, r.Results.Success, method)
	require.Equal(h.t, code, r.Results.Code, method)
	return r
}

func (h *harness) create() protocol.Session {
	h.t.Helper()
	sess := h.ok(protocol.MethodCreateSession, nil)
	h.sessionID = sess.SessionID
	return sess
}

func (h *harness) waitRevision(rev int64) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		_, got := h.s.State()
		return got >= rev
	}, 5*time.Second, 5*time.Millisecond)
}

func blocksOf(s protocol.Session) []int {
	if s.ImageBlocks == nil {
		return nil
	}
	return *s.ImageBlocks
}
