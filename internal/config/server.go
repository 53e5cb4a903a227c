// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"fmt"
	"net"
	"time"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":55555")
	ListenAddr string `yaml:"listenAddr"`

	// Bind optionally replaces the host of ListenAddr; "if:<name>" binds to
	// the first IPv4 address of that interface.
	Bind string `yaml:"bind"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `yaml:"readTimeout"`

	// WriteTimeout must exceed the long-poll hold or parked waitForEvents
	// requests are cut off by the server.
	WriteTimeout time.Duration `yaml:"writeTimeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	IdleTimeout time.Duration `yaml:"idleTimeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	TLSCert string `yaml:"tlsCert"`
	TLSKey  string `yaml:"tlsKey"`

	// TLSAuto serves a generated self-signed pair from the data directory
	// when no explicit pair is configured.
	TLSAuto bool `yaml:"tlsAuto"`
}

// BindListenAddr replaces the host part of a listen address when it is of the
// form ":PORT" or empty. Explicit host:port values are left untouched.
func BindListenAddr(listenAddr, bind string) (string, error) {
	if bind == "" {
		return listenAddr, nil
	}
	if listenAddr != "" && listenAddr[0] != ':' {
		return listenAddr, nil
	}
	port := listenAddr
	if port == "" {
		port = ":0"
	}

	host := bind
	if len(bind) > 3 && bind[:3] == "if:" {
		ip, err := interfaceIPv4(bind[3:])
		if err != nil {
			return "", err
		}
		host = ip
	}
	return net.JoinHostPort(host, port[1:]), nil
}

func interfaceIPv4(name string) (string, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return "", fmt.Errorf("resolve interface %q: %w", name, err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return "", fmt.Errorf("list addrs for %q: %w", name, err)
	}
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip == nil || ip.IsLoopback() || ip.To4() == nil {
			continue
		}
		return ip.String(), nil
	}
	return "", fmt.Errorf("no suitable IPv4 on interface %q", name)
}

// Port returns the numeric port of the resolved listen address.
func (s ServerConfig) Port() (int, error) {
	_, p, err := net.SplitHostPort(s.ListenAddr)
	if err != nil {
		return 0, fmt.Errorf("split listen addr: %w", err)
	}
	var port int
	if _, err := fmt.Sscanf(p, "%d", &port); err != nil {
		return 0, fmt.Errorf("parse port %q: %w", p, err)
	}
	return port, nil
}
