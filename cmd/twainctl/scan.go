// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/loachfighter/twain-direct/internal/client"
	"github.com/loachfighter/twain-direct/internal/domain/session/model"
	xglog "github.com/loachfighter/twain-direct/internal/log"
	"github.com/loachfighter/twain-direct/internal/protocol"
	"github.com/spf13/pflag"
)

// updatePoll bounds each wait for a mirror change so a missed wakeup only
// costs one interval.
const updatePoll = time.Second

func runScan(ctx context.Context, args []string) int {
	fs := pflag.NewFlagSet("twainctl scan", pflag.ContinueOnError)
	var t target
	t.register(fs)
	taskFile := fs.String("task", "", "file holding the TWAIN Direct task")
	out := fs.StringP("out", "o", ".", "directory images are written to")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var task json.RawMessage
	if *taskFile != "" {
		raw, err := os.ReadFile(*taskFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if !json.Valid(raw) {
			fmt.Fprintf(os.Stderr, "Error: %s is not valid JSON\n", *taskFile)
			return 2
		}
		task = raw
	}
	if err := os.MkdirAll(*out, 0o750); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	d, err := t.pick(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	c := t.client(d)
	defer func() { _ = c.Close() }()

	n, err := scan(ctx, c, task, *out, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("%d image(s) saved to %s\n", n, *out)
	return 0
}

// scan runs one session end to end: capture, transfer every image block into
// out, then close. It returns the number of blocks saved.
func scan(ctx context.Context, c *client.Client, task json.RawMessage, out string, w io.Writer) (saved int, err error) {
	logger := xglog.WithComponent("scan")

	if _, err := c.Info(ctx); err != nil {
		return 0, err
	}
	if _, err := c.CreateSession(ctx); err != nil {
		return 0, err
	}
	defer func() {
		if _, cerr := c.CloseSession(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := c.StartWaitingForEvents(ctx, func(ev protocol.Event) {
		logger.Debug().
			Str("event", ev.Event).
			Str("state", ev.Session.State).
			Int64("revision", ev.Session.Revision).
			Msg("session event")
	}); err != nil {
		return 0, err
	}

	if len(task) > 0 {
		if _, err := c.SendTask(ctx, task); err != nil {
			return 0, err
		}
	}
	if _, err := c.StartCapturing(ctx); err != nil {
		return 0, err
	}

	m := c.Session()
	stopped := false
	for {
		if m.SessionID() == "" {
			return saved, errors.New("session ended before all images were transferred")
		}
		drained := m.ImageBlocksDrained()
		if drained && !stopped {
			if _, err := c.StopCapturing(ctx); err != nil {
				return saved, err
			}
			stopped = true
		}

		blocks := m.ImageBlocks()
		if len(blocks) == 0 && (drained || (stopped && m.State() == string(model.Ready))) {
			return saved, nil
		}
		for _, n := range blocks {
			if err := transfer(ctx, c, n, out); err != nil {
				return saved, err
			}
			saved++
			fmt.Fprintf(w, "image block %d saved\n", n)
		}
		if len(blocks) > 0 {
			continue
		}

		waitCtx, cancel := context.WithTimeout(ctx, updatePoll)
		err := c.WaitForSessionUpdate(waitCtx)
		cancel()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return saved, err
		}
		if ctx.Err() != nil {
			return saved, ctx.Err()
		}
	}
}

func transfer(ctx context.Context, c *client.Client, n int, out string) error {
	res, err := c.ReadImageBlock(ctx, n, true)
	if err != nil {
		return err
	}
	meta, err := c.ReadImageBlockMetadata(ctx, n, true)
	if err != nil {
		return err
	}
	res.Thumbnail = meta.Thumbnail
	if _, err := client.SaveImageBlock(out, n, res); err != nil {
		return err
	}
	_, err = c.ReleaseImageBlocks(ctx, n, n)
	return err
}
