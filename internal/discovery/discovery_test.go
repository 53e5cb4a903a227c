// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package discovery

import (
	"context"
	"net"
	"testing"

	"github.com/hashicorp/mdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTXTRecordIsParseable(t *testing.T) {
	d := Device{FriendlyName: "Front Desk", Note: "lobby", Secure: true, ID: ""}
	txt := d.TXT()
	assert.Equal(t, []string{"txtvers=1", "ty=Front Desk", "type=twaindirect", "id=", "cs=offline", "https=1", "note=lobby"}, txt)

	got, err := ParseTXT(txt)
	require.NoError(t, err)
	assert.Equal(t, "Front Desk", got.FriendlyName)
	assert.Equal(t, "lobby", got.Note)
	assert.True(t, got.Secure)

	assert.NotContains(t, Device{FriendlyName: "x"}.TXT(), "note=")
}

func TestParseTXTRejectsIncompleteRecords(t *testing.T) {
	full := []string{"txtvers=1", "ty=Scanner", "type=twaindirect", "id=", "cs=offline", "https=0"}
	_, err := ParseTXT(full)
	require.NoError(t, err)

	for i := range full {
		partial := append(append([]string{}, full[:i]...), full[i+1:]...)
		_, err := ParseTXT(partial)
		assert.ErrorIs(t, err, ErrIncompleteRecord, "without %s", full[i])
	}

	_, err = ParseTXT([]string{"txtvers=2", "ty=Scanner", "type=twaindirect", "id=", "cs=offline", "https=0"})
	assert.ErrorIs(t, err, ErrIncompleteRecord)
	_, err = ParseTXT([]string{"txtvers=1", "ty=Printer", "type=printer", "id=", "cs=offline", "https=0"})
	assert.ErrorIs(t, err, ErrIncompleteRecord)
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "http://10.0.0.7:55555", Device{Host: "10.0.0.7", Port: 55555}.BaseURL())
	assert.Equal(t, "https://[fe80::1]:443", Device{Host: "fe80::1", Port: 443, Secure: true}.BaseURL())
}

func TestStaticResolver(t *testing.T) {
	s, err := ParseStatic([]string{"http://10.0.0.7", "https://scanner.lan:8443"})
	require.NoError(t, err)

	got, err := s.Resolve(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "http://10.0.0.7:55555", got[0].BaseURL())
	assert.Equal(t, "https://scanner.lan:8443", got[1].BaseURL())

	got[0].Host = "mutated"
	again, _ := s.Resolve(context.Background())
	assert.Equal(t, "10.0.0.7", again[0].Host)

	_, err = ParseStatic([]string{"ftp://scanner"})
	assert.Error(t, err)
	_, err = ParseStatic([]string{"http://scanner:notaport"})
	assert.Error(t, err)
}

func TestDeviceFromEntry(t *testing.T) {
	e := &mdns.ServiceEntry{
		Name:       "desk._privet._tcp.local.",
		Host:       "desk.local.",
		AddrV4:     net.ParseIP("192.168.1.20"),
		Port:       55555,
		InfoFields: Device{FriendlyName: "Desk"}.TXT(),
	}
	d, ok := deviceFromEntry(e)
	require.True(t, ok)
	assert.Equal(t, "desk", d.InstanceName)
	assert.Equal(t, "http://192.168.1.20:55555", d.BaseURL())

	e.AddrV4 = nil
	d, ok = deviceFromEntry(e)
	require.True(t, ok)
	assert.Equal(t, "desk.local", d.Host)

	e.InfoFields = []string{"txtvers=1"}
	_, ok = deviceFromEntry(e)
	assert.False(t, ok)
}
