// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package discovery advertises the scanner on DNS-SD and finds scanners
// from the client side.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Service is the DNS-SD service type TWAIN Local devices register under.
const Service = "_privet._tcp"

// DeviceType is the value of the "type" TXT field.
const DeviceType = "twaindirect"

// ErrIncompleteRecord reports a TXT record missing required fields.
var ErrIncompleteRecord = errors.New("discovery: incomplete TXT record")

// Device is one advertised scanner.
type Device struct {
	InstanceName string
	FriendlyName string
	Note         string
	Secure       bool
	ID           string
	Host         string
	Port         int
}

// BaseURL is the root the client driver talks to.
func (d Device) BaseURL() string {
	scheme := "http"
	if d.Secure {
		scheme = "https"
	}
	return scheme + "://" + net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// TXT renders the record fields in registration order. The note is omitted
// when empty.
func (d Device) TXT() []string {
	https := "0"
	if d.Secure {
		https = "1"
	}
	txt := []string{
		"txtvers=1",
		"ty=" + d.FriendlyName,
		"type=" + DeviceType,
		"id=" + d.ID,
		"cs=offline",
		"https=" + https,
	}
	if d.Note != "" {
		txt = append(txt, "note="+d.Note)
	}
	return txt
}

// ParseTXT fills the TXT-derived fields of d. Records without txtvers=1,
// ty, a twaindirect type, id, cs or https are rejected.
func ParseTXT(fields []string) (Device, error) {
	var (
		d                   Device
		vers, typ           string
		hasTy, hasID, hasCS bool
		hasHTTPS            bool
	)
	for _, f := range fields {
		key, value, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		switch key {
		case "txtvers":
			vers = value
		case "ty":
			d.FriendlyName, hasTy = value, true
		case "type":
			typ = value
		case "id":
			d.ID, hasID = value, true
		case "cs":
			hasCS = true
		case "https":
			d.Secure, hasHTTPS = value != "0", true
		case "note":
			d.Note = value
		}
	}
	if vers != "1" || !hasTy || !strings.Contains(typ, DeviceType) || !hasID || !hasCS || !hasHTTPS {
		return Device{}, ErrIncompleteRecord
	}
	return d, nil
}

// Resolver finds scanners.
type Resolver interface {
	Resolve(ctx context.Context) ([]Device, error)
}

// Static resolves a fixed list, for networks without multicast.
type Static []Device

// Resolve implements Resolver.
func (s Static) Resolve(context.Context) ([]Device, error) {
	return append([]Device(nil), s...), nil
}

// ParseStatic turns base URLs such as "http://10.0.0.7:55555" into devices.
func ParseStatic(urls []string) (Static, error) {
	out := make(Static, 0, len(urls))
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse device url %q: %w", raw, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("device url %q: scheme must be http or https", raw)
		}
		port := 55555
		if p := u.Port(); p != "" {
			if port, err = strconv.Atoi(p); err != nil {
				return nil, fmt.Errorf("device url %q: bad port: %w", raw, err)
			}
		}
		out = append(out, Device{
			InstanceName: u.Hostname(),
			Host:         u.Hostname(),
			Port:         port,
			Secure:       u.Scheme == "https",
		})
	}
	return out, nil
}
