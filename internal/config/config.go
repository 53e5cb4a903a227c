// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads daemon and client settings with the precedence
// ENV > YAML file > defaults.
package config

import (
	"time"

	"github.com/loachfighter/twain-direct/internal/platform"
)

// Protocol timing defaults and their lower bounds.
const (
	DefaultListenAddr          = ":55555"
	DefaultSessionTimeout      = 5 * time.Minute
	MinSessionTimeout          = 10 * time.Second
	DefaultCreateSessionWindow = 30 * time.Second
	DefaultEventCapacity       = 32
	DefaultLongPollHold        = 25 * time.Second
	DefaultTimeoutGrace        = 2 * time.Second
	DefaultConfirmTimeout      = 10 * time.Second

	DefaultCommandTimeout = 15 * time.Second
	MinCommandTimeout     = 5 * time.Second
	DefaultDataTimeout    = 30 * time.Second
	MinDataTimeout        = 10 * time.Second
	DefaultEventTimeout   = 30 * time.Second
	MinEventTimeout       = 10 * time.Second

	DefaultBridgeCallTimeout = 20 * time.Second
)

// Bridge kinds.
const (
	BridgeVirtual = "virtual"
	BridgeProcess = "process"
)

// Registry backends.
const (
	RegistryFile   = "file"
	RegistrySQLite = "sqlite"
)

// AppConfig is the fully resolved configuration.
type AppConfig struct {
	Version  string        `yaml:"-"`
	Platform platform.Info `yaml:"-"`

	DataDir  string `yaml:"dataDir"`
	LogLevel string `yaml:"logLevel"`

	Server    ServerConfig    `yaml:"server"`
	Device    DeviceConfig    `yaml:"device"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Registry  RegistryConfig  `yaml:"registry"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Client    ClientConfig    `yaml:"client"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

// DeviceConfig tunes the session engine.
type DeviceConfig struct {
	// Secret seeds privet token hashes. Generated per process when empty.
	Secret              string        `yaml:"secret"`
	SessionTimeout      time.Duration `yaml:"sessionTimeout"`
	CreateSessionWindow time.Duration `yaml:"createSessionWindow"`
	EventCapacity       int           `yaml:"eventCapacity"`
	LongPollHold        time.Duration `yaml:"longPollHold"`
	TimeoutGrace        time.Duration `yaml:"timeoutGrace"`
	ConfirmScan         bool          `yaml:"confirmScan"`
	ConfirmTimeout      time.Duration `yaml:"confirmTimeout"`
	ImagesDir           string        `yaml:"imagesDir"`
}

// BridgeConfig selects and configures the device bridge.
type BridgeConfig struct {
	Kind         string        `yaml:"kind"`
	Path         string        `yaml:"path"`
	Args         []string      `yaml:"args"`
	CallTimeout  time.Duration `yaml:"callTimeout"`
	VirtualPages int           `yaml:"virtualPages"`
	VirtualPace  time.Duration `yaml:"virtualPace"`
}

// RegistryConfig selects where the device registration lives.
type RegistryConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// DiscoveryConfig controls mDNS publication.
type DiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
}

// ClientConfig holds the client protocol driver timeouts.
type ClientConfig struct {
	CommandTimeout time.Duration `yaml:"commandTimeout"`
	DataTimeout    time.Duration `yaml:"dataTimeout"`
	EventTimeout   time.Duration `yaml:"eventTimeout"`
}

// MetricsConfig exposes Prometheus on a dedicated listener.
type MetricsConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRate  float64 `yaml:"sampleRate"`
	ServiceName string  `yaml:"serviceName"`
}

// RateLimitConfig throttles the unauthenticated info endpoints per client IP.
type RateLimitConfig struct {
	InfoRequests int           `yaml:"infoRequests"`
	InfoWindow   time.Duration `yaml:"infoWindow"`
}
