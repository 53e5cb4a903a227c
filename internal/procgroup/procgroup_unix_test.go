// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build linux

package procgroup

import (
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startGroup(t *testing.T, script string) (*exec.Cmd, <-chan error) {
	t.Helper()
	cmd := exec.Command("sh", "-c", script)
	Set(cmd)
	require.NoError(t, cmd.Start())
	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()
	return cmd, waitCh
}

func TestTerminateReapsGroup(t *testing.T) {
	cmd, waitCh := startGroup(t, "sleep 30 & sleep 30")
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	require.NoError(t, err)
	require.Equal(t, cmd.Process.Pid, pgid)

	err = Terminate(cmd, waitCh, 500*time.Millisecond)
	require.Error(t, err, "process killed by signal exits non-zero")

	time.Sleep(50 * time.Millisecond)
	require.ErrorIs(t, syscall.Kill(-pgid, syscall.Signal(0)), syscall.ESRCH)
}

func TestTerminateEscalatesToKill(t *testing.T) {
	cmd, waitCh := startGroup(t, "trap '' TERM; sleep 30")

	start := time.Now()
	_ = Terminate(cmd, waitCh, 100*time.Millisecond)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestTerminateNilCommand(t *testing.T) {
	require.NoError(t, Terminate(nil, nil, time.Millisecond))
	require.NoError(t, Kill(&exec.Cmd{}, syscall.SIGTERM))
}
