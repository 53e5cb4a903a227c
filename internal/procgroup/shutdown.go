// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package procgroup

import (
	"os/exec"
	"syscall"
	"time"

	"github.com/loachfighter/twain-direct/internal/metrics"
)

// Terminate stops a process group: SIGTERM, wait up to grace for waitCh, then
// SIGKILL. It consumes and returns the error from waitCh and is safe to call
// on nil commands.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	signal(cmd, syscall.SIGTERM)

	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
	}

	signal(cmd, syscall.SIGKILL)
	return <-waitCh
}

func signal(cmd *exec.Cmd, sig syscall.Signal) {
	name := "SIGTERM"
	if sig == syscall.SIGKILL {
		name = "SIGKILL"
	}
	if err := Kill(cmd, sig); err != nil {
		metrics.IncBridgeSignal(name, "error")
		return
	}
	metrics.IncBridgeSignal(name, "sent")
}
