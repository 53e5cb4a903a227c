// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/loachfighter/twain-direct/internal/discovery"
	"github.com/spf13/pflag"
)

func runDiscover(ctx context.Context, args []string) int {
	fs := pflag.NewFlagSet("twainctl discover", pflag.ContinueOnError)
	var t target
	t.register(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	r, err := t.resolver()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	found, err := r.Resolve(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	printDevices(os.Stdout, found)
	return 0
}

func printDevices(w io.Writer, found []discovery.Device) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tURL\tID\tNOTE")
	for _, d := range found {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.FriendlyName, d.BaseURL(), d.ID, d.Note)
	}
	_ = tw.Flush()
}

func runInfo(ctx context.Context, args []string) int {
	fs := pflag.NewFlagSet("twainctl info", pflag.ContinueOnError)
	var t target
	t.register(fs)
	ex := fs.Bool("ex", false, "query infoex instead of info")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	d, err := t.pick(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	c := t.client(d)
	defer func() { _ = c.Close() }()

	fetch := c.Info
	if *ex {
		fetch = c.InfoEx
	}
	info, err := fetch(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(info); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
