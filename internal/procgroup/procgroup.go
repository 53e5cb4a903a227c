// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package procgroup spawns device bridge processes in their own process group
// so that stopping a session reaps the bridge and every helper it forked.
package procgroup

import "errors"

// ErrKillFailed is returned when a process group survives SIGKILL.
var ErrKillFailed = errors.New("kill operation failed")
