// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package certs provisions the self-signed certificate the daemon serves when
// TLS is enabled without an operator-supplied pair.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

// Validity of generated certificates.
const Validity = 5 * 365 * 24 * time.Hour

// Pair names the files of a certificate and its key.
type Pair struct {
	Cert string
	Key  string
}

// InDir returns the default pair location under dataDir.
func InDir(dataDir string) Pair {
	return Pair{
		Cert: filepath.Join(dataDir, "certs", "twaind.crt"),
		Key:  filepath.Join(dataDir, "certs", "twaind.key"),
	}
}

// Ensure returns p when both files exist and otherwise writes a fresh pair
// valid for hosts, loopback and every routable interface address.
func Ensure(p Pair, hosts []string, logger zerolog.Logger) error {
	certOK, keyOK := isFile(p.Cert), isFile(p.Key)
	if certOK && keyOK {
		logger.Debug().Str("cert", p.Cert).Msg("TLS certificate found")
		return nil
	}
	if certOK || keyOK {
		logger.Warn().
			Bool("cert_exists", certOK).
			Bool("key_exists", keyOK).
			Msg("incomplete TLS pair, regenerating both")
	}

	ips, err := InterfaceIPs()
	if err != nil {
		logger.Warn().Err(err).Msg("interface addresses unavailable; certificate covers loopback only")
	}
	if err := Generate(p, hosts, ips, time.Now()); err != nil {
		return err
	}
	logger.Info().
		Str("cert", p.Cert).
		Strs("hosts", hosts).
		Int("ips", len(ips)).
		Msg("generated self-signed TLS certificate")
	return nil
}

// Generate writes an ECDSA P-256 certificate and key for p.
func Generate(p Pair, hosts []string, ips []net.IP, now time.Time) error {
	if err := os.MkdirAll(filepath.Dir(p.Cert), 0o750); err != nil {
		return fmt.Errorf("create cert directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.Key), 0o750); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("generate serial: %w", err)
	}

	names := []string{"localhost"}
	for _, h := range hosts {
		if h != "" && !slices.Contains(names, h) {
			names = append(names, h)
		}
	}
	addrs := []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}
	for _, ip := range ips {
		if !slices.ContainsFunc(addrs, ip.Equal) {
			addrs = append(addrs, ip)
		}
	}

	tmpl := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"twaind"}, CommonName: names[len(names)-1]},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(Validity),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              names,
		IPAddresses:           addrs,
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal key: %w", err)
	}

	// Key first: a crash between the writes leaves an incomplete pair,
	// which Ensure regenerates.
	if err := renameio.WriteFile(p.Key, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	if err := renameio.WriteFile(p.Cert, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644); err != nil {
		return fmt.Errorf("write certificate: %w", err)
	}
	return nil
}

// InterfaceIPs lists the addresses of up interfaces, skipping loopback and
// link-local ones.
func InterfaceIPs() ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	var ips []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			var ip net.IP
			switch v := a.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
				continue
			}
			ips = append(ips, ip)
		}
	}
	return ips, nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
