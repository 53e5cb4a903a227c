// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Command twainctl finds TWAIN Local scanners and drives scans against them.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loachfighter/twain-direct/internal/client"
	"github.com/loachfighter/twain-direct/internal/config"
	"github.com/loachfighter/twain-direct/internal/discovery"
	xglog "github.com/loachfighter/twain-direct/internal/log"
	"github.com/loachfighter/twain-direct/internal/version"
	"github.com/spf13/pflag"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}
	xglog.Configure(xglog.Config{
		Level:   config.ParseString("TWAIN_LOG_LEVEL", "warn"),
		Service: "twainctl",
		Version: version.Version,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1], os.Args[2:]))
}

func run(ctx context.Context, cmd string, args []string) int {
	switch cmd {
	case "discover":
		return runDiscover(ctx, args)
	case "info":
		return runInfo(ctx, args)
	case "scan":
		return runScan(ctx, args)
	case "version":
		fmt.Println(version.String())
		return 0
	case "help", "-h", "--help":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  twainctl discover [--timeout 2s] [--device URL]...")
	fmt.Fprintln(os.Stderr, "  twainctl info [--device URL] [--ex] [--insecure]")
	fmt.Fprintln(os.Stderr, "  twainctl scan [--device URL] [--task FILE] [--out DIR]")
	fmt.Fprintln(os.Stderr, "  twainctl version")
}

// target holds the flags every device-facing command shares.
type target struct {
	devices  []string
	timeout  time.Duration
	noIPv6   bool
	commands time.Duration
	data     time.Duration
	events   time.Duration
	insecure bool
}

func (t *target) register(fs *pflag.FlagSet) {
	fs.StringArrayVarP(&t.devices, "device", "d", nil, "scanner base URL; skips mDNS discovery")
	fs.DurationVar(&t.timeout, "timeout", 2*time.Second, "mDNS browse time")
	fs.BoolVar(&t.noIPv6, "no-ipv6", false, "browse over IPv4 only")
	fs.DurationVar(&t.commands, "command-timeout", config.DefaultCommandTimeout, "per-command timeout")
	fs.DurationVar(&t.data, "data-timeout", config.DefaultDataTimeout, "image transfer timeout")
	fs.DurationVar(&t.events, "event-timeout", config.DefaultEventTimeout, "long-poll timeout")
	fs.BoolVar(&t.insecure, "insecure", false, "accept self-signed scanner certificates")
}

func (t *target) resolver() (discovery.Resolver, error) {
	if len(t.devices) > 0 {
		return discovery.ParseStatic(t.devices)
	}
	return discovery.MDNS{Timeout: t.timeout, DisableIPv6: t.noIPv6}, nil
}

// pick resolves scanners and returns the first one found.
func (t *target) pick(ctx context.Context) (discovery.Device, error) {
	r, err := t.resolver()
	if err != nil {
		return discovery.Device{}, err
	}
	found, err := r.Resolve(ctx)
	if err != nil {
		return discovery.Device{}, err
	}
	if len(found) == 0 {
		return discovery.Device{}, errors.New("no scanner found")
	}
	return found[0], nil
}

func (t *target) client(d discovery.Device) *client.Client {
	cfg := config.ClientConfig{
		CommandTimeout: t.commands,
		DataTimeout:    t.data,
		EventTimeout:   t.events,
	}
	opts := client.OptionsFromConfig(d.BaseURL(), cfg)
	if t.insecure {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed scanners
		opts.Transport = tr
	}
	return client.New(opts)
}
