// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package bridge

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/loachfighter/twain-direct/internal/protocol"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func openVirtual(t *testing.T, pages int) Bridge {
	t.Helper()
	f := NewVirtualFactory(VirtualOptions{Pages: pages, Pace: 5 * time.Millisecond})
	b, err := f.Open(context.Background(), Spec{SessionID: "s1", ImagesDir: t.TempDir()})
	require.NoError(t, err)
	return b
}

func waitChange(t *testing.T, b Bridge) {
	t.Helper()
	select {
	case <-b.Changes():
	case <-time.After(2 * time.Second):
		t.Fatal("no change signal")
	}
}

func TestVirtualCaptureProducesBlocksThenDrains(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	b := openVirtual(t, 2)
	defer b.Close()

	r, err := Invoke(ctx, b, Request{Method: MethodStartCapturing})
	require.NoError(t, err)
	require.True(t, r.OK())

	require.Eventually(t, func() bool {
		r, err := Invoke(ctx, b, Request{Method: MethodGetSession})
		return err == nil && r.Session.ImageBlocksDrained && len(r.Session.ImageBlocks) == 2
	}, 2*time.Second, 10*time.Millisecond)
	waitChange(t, b)

	r, err = Invoke(ctx, b, Request{Method: MethodReadImageBlock, ImageBlockNum: 1, WithMetadata: true})
	require.NoError(t, err)
	require.True(t, r.OK())
	data, err := os.ReadFile(r.ImageFile)
	require.NoError(t, err)
	require.Contains(t, string(data), "%PDF")
	meta, err := os.ReadFile(r.Meta)
	require.NoError(t, err)
	require.True(t, json.Valid(meta))

	r, err = Invoke(ctx, b, Request{Method: MethodReleaseImageBlocks, ImageBlockNum: 1, LastImageBlockNum: 2})
	require.NoError(t, err)
	require.Empty(t, r.Session.ImageBlocks)

	r, err = Invoke(ctx, b, Request{Method: MethodReadImageBlock, ImageBlockNum: 1})
	require.NoError(t, err)
	require.Equal(t, protocol.CodeInvalidValue, r.Status)
}

func TestVirtualStopCapturingMarksDrained(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	f := NewVirtualFactory(VirtualOptions{Pages: 100, Pace: time.Hour})
	b, err := f.Open(ctx, Spec{SessionID: "s2", ImagesDir: t.TempDir()})
	require.NoError(t, err)
	defer b.Close()

	_, err = Invoke(ctx, b, Request{Method: MethodStartCapturing})
	require.NoError(t, err)
	r, err := Invoke(ctx, b, Request{Method: MethodStopCapturing})
	require.NoError(t, err)
	require.True(t, r.Session.ImageBlocksDrained)
	require.Empty(t, r.Session.ImageBlocks)
}

func TestVirtualSendTask(t *testing.T) {
	ctx := context.Background()
	b := openVirtual(t, 0)
	defer b.Close()

	r, err := Invoke(ctx, b, Request{Method: MethodSendTask, Task: json.RawMessage(`{"actions":[{"action":"configure"}]}`)})
	require.NoError(t, err)
	require.True(t, r.OK())

	r, err = Invoke(ctx, b, Request{Method: MethodSendTask, Task: json.RawMessage(`{"actions":[{"action":"configure"},{"action":"teleport"}]}`)})
	require.NoError(t, err)
	require.Equal(t, protocol.CodeInvalidCapturingOptions, r.Status)

	var tr protocol.TaskReply
	require.NoError(t, json.Unmarshal(r.TaskReply, &tr))
	require.Len(t, tr.Actions, 2)
	require.True(t, *tr.Actions[0].Results.Success)
	require.False(t, *tr.Actions[1].Results.Success)
	require.Equal(t, "actions[1].action", tr.Actions[1].Results.JSONKey)
}

func TestVirtualExitClosesChanges(t *testing.T) {
	ctx := context.Background()
	b := openVirtual(t, 0)

	_, err := Invoke(ctx, b, Request{Method: MethodExit})
	require.NoError(t, err)
	_, open := <-b.Changes()
	require.False(t, open)

	_, err = b.Call(ctx, Request{Method: MethodGetSession})
	require.ErrorIs(t, err, ErrClosed)
	require.NoError(t, b.Close())
}
