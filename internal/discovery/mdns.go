// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package discovery

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog"

	xglog "github.com/loachfighter/twain-direct/internal/log"
)

// Publication keeps an advertisement alive until closed.
type Publication struct {
	server *mdns.Server
	logger zerolog.Logger
}

// Publish registers d under Service. Host and Port describe the listener;
// an empty Host advertises every local address.
func Publish(d Device) (*Publication, error) {
	var ips []net.IP
	if d.Host != "" {
		if ip := net.ParseIP(d.Host); ip != nil && !ip.IsUnspecified() {
			ips = []net.IP{ip}
		}
	}
	svc, err := mdns.NewMDNSService(d.InstanceName, Service, "", "", d.Port, ips, d.TXT())
	if err != nil {
		return nil, fmt.Errorf("build mdns service: %w", err)
	}
	srv, err := mdns.NewServer(&mdns.Config{Zone: svc, Logger: quietLogger()})
	if err != nil {
		return nil, fmt.Errorf("start mdns responder: %w", err)
	}
	logger := xglog.WithComponent("discovery")
	logger.Info().
		Str("instance", d.InstanceName).
		Int("port", d.Port).
		Strs("txt", d.TXT()).
		Msg("advertising scanner")
	return &Publication{server: srv, logger: logger}, nil
}

// Close withdraws the advertisement.
func (p *Publication) Close() error {
	if p == nil || p.server == nil {
		return nil
	}
	p.logger.Info().Msg("withdrawing advertisement")
	return p.server.Shutdown()
}

// MDNS browses the local link for scanners.
type MDNS struct {
	Timeout     time.Duration
	DisableIPv6 bool
}

// Resolve implements Resolver. It returns once Timeout elapses or ctx ends.
func (m MDNS) Resolve(ctx context.Context) ([]Device, error) {
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if dl, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(dl))
	}

	entries := make(chan *mdns.ServiceEntry, 16)
	var found []Device
	done := make(chan struct{})
	go func() {
		defer close(done)
		seen := map[string]bool{}
		for e := range entries {
			d, ok := deviceFromEntry(e)
			if !ok || seen[d.InstanceName] {
				continue
			}
			seen[d.InstanceName] = true
			found = append(found, d)
		}
	}()

	params := mdns.DefaultParams(Service)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = m.DisableIPv6
	params.Logger = quietLogger()
	err := mdns.Query(params)
	close(entries)
	<-done
	if err != nil {
		return nil, fmt.Errorf("mdns query: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return found, err
	}
	return found, nil
}

func deviceFromEntry(e *mdns.ServiceEntry) (Device, bool) {
	d, err := ParseTXT(e.InfoFields)
	if err != nil {
		return Device{}, false
	}
	d.InstanceName = strings.TrimSuffix(e.Name, "."+Service+".local.")
	d.Port = e.Port
	switch {
	case e.AddrV4 != nil:
		d.Host = e.AddrV4.String()
	case e.AddrV6 != nil:
		d.Host = e.AddrV6.String()
	default:
		d.Host = strings.TrimSuffix(e.Host, ".")
	}
	return d, true
}

// quietLogger silences the library's standard logger; failures surface as
// returned errors.
func quietLogger() *stdlog.Logger {
	return stdlog.New(io.Discard, "", 0)
}
