// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package device

import "time"

// supervisor is a single-shot, re-armable timer. Every schedule or disarm
// starts a new generation; a callback whose generation is no longer current
// must do nothing. All methods are called with the scanner lock held.
type supervisor struct {
	timer *time.Timer
	gen   uint64
}

func (v *supervisor) schedule(d time.Duration, fn func(gen uint64)) {
	v.stop()
	v.gen++
	g := v.gen
	v.timer = time.AfterFunc(d, func() { fn(g) })
}

func (v *supervisor) disarm() {
	v.stop()
	v.gen++
}

func (v *supervisor) current(gen uint64) bool { return v.gen == gen }

func (v *supervisor) stop() {
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
}
