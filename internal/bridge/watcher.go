// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package bridge

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher turns writes of *.meta files in an images folder into change
// signals. Bursts coalesce into a single pending signal.
type Watcher struct {
	fs     *fsnotify.Watcher
	out    chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	logger zerolog.Logger
}

// NewWatcher starts watching dir, which must exist.
func NewWatcher(dir string, logger zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	w := &Watcher{
		fs:     fw,
		out:    make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	defer close(w.out)
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ".meta") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.notify()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("images folder watch error")
		}
	}
}

// notify raises a change signal without blocking.
func (w *Watcher) notify() {
	select {
	case w.out <- struct{}{}:
	default:
	}
}

// Changes delivers coalesced change signals.
func (w *Watcher) Changes() <-chan struct{} { return w.out }

// Close stops the watcher and waits for its goroutine.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fs.Close()
		w.wg.Wait()
	})
	return err
}
