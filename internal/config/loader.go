// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loachfighter/twain-direct/internal/log"
	"github.com/loachfighter/twain-direct/internal/platform"
	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath string
	version    string
	platform   platform.Info

	// ConsumedEnvKeys records every environment key the loader looked at.
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader. The platform is detected here,
// once, and copied into every AppConfig the loader returns.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		platform:        platform.Detect(),
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) envString(key, def string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, def)
}

func (l *Loader) envBool(key string, def bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, def)
}

func (l *Loader) envInt(key string, def int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, def)
}

func (l *Loader) envFloat(key string, def float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, def)
}

func (l *Loader) envDuration(key string, def time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, def)
}

func (l *Loader) envList(key string, def []string) []string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseList(key, def)
}

// Load loads configuration with precedence: ENV > File > Defaults.
// Order: defaults -> strict file parse -> env -> normalize -> validate.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	if cfg.Device.ImagesDir == "" {
		cfg.Device.ImagesDir = filepath.Join(cfg.DataDir, "images")
	}
	if cfg.Registry.Path == "" {
		cfg.Registry.Path = defaultRegistryPath(cfg.DataDir, cfg.Registry.Backend)
	}
	if cfg.Device.Secret == "" {
		secret, err := randomSecret()
		if err != nil {
			return cfg, fmt.Errorf("generate device secret: %w", err)
		}
		cfg.Device.Secret = secret
	}
	if cfg.Discovery.Instance == "" {
		cfg.Discovery.Instance = l.platform.Hostname
	}

	cfg.Version = l.version
	cfg.Platform = l.platform

	Normalize(&cfg)

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Defaults returns the baseline configuration.
func Defaults() AppConfig {
	return AppConfig{
		DataDir:  "./data",
		LogLevel: "info",
		Server: ServerConfig{
			ListenAddr:      DefaultListenAddr,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    DefaultLongPollHold + 35*time.Second,
			IdleTimeout:     2 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Device: DeviceConfig{
			SessionTimeout:      DefaultSessionTimeout,
			CreateSessionWindow: DefaultCreateSessionWindow,
			EventCapacity:       DefaultEventCapacity,
			LongPollHold:        DefaultLongPollHold,
			TimeoutGrace:        DefaultTimeoutGrace,
			ConfirmTimeout:      DefaultConfirmTimeout,
		},
		Bridge: BridgeConfig{
			Kind:         BridgeVirtual,
			CallTimeout:  DefaultBridgeCallTimeout,
			VirtualPages: 2,
			VirtualPace:  200 * time.Millisecond,
		},
		Registry: RegistryConfig{
			Backend: RegistryFile,
		},
		Discovery: DiscoveryConfig{
			Enabled: true,
		},
		Client: ClientConfig{
			CommandTimeout: DefaultCommandTimeout,
			DataTimeout:    DefaultDataTimeout,
			EventTimeout:   DefaultEventTimeout,
		},
		Tracing: TracingConfig{
			Exporter:    "grpc",
			SampleRate:  1.0,
			ServiceName: "twaind",
		},
		RateLimit: RateLimitConfig{
			InfoRequests: 60,
			InfoWindow:   time.Minute,
		},
	}
}

// loadFile decodes path over cfg with STRICT parsing.
// Unknown fields are fatal so typos never silently fall back to defaults.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.DataDir = l.envString("TWAIN_DATA", cfg.DataDir)
	cfg.LogLevel = l.envString("TWAIN_LOG_LEVEL", cfg.LogLevel)

	cfg.Server.ListenAddr = l.envString("TWAIN_LISTEN", cfg.Server.ListenAddr)
	cfg.Server.Bind = l.envString("TWAIN_BIND", cfg.Server.Bind)
	cfg.Server.TLSCert = l.envString("TWAIN_TLS_CERT", cfg.Server.TLSCert)
	cfg.Server.TLSKey = l.envString("TWAIN_TLS_KEY", cfg.Server.TLSKey)
	cfg.Server.TLSAuto = l.envBool("TWAIN_TLS_AUTO", cfg.Server.TLSAuto)

	cfg.Device.Secret = l.envString("TWAIN_DEVICE_SECRET", cfg.Device.Secret)
	cfg.Device.SessionTimeout = l.envDuration("TWAIN_SESSION_TIMEOUT", cfg.Device.SessionTimeout)
	cfg.Device.CreateSessionWindow = l.envDuration("TWAIN_CREATE_SESSION_WINDOW", cfg.Device.CreateSessionWindow)
	cfg.Device.EventCapacity = l.envInt("TWAIN_EVENT_CAPACITY", cfg.Device.EventCapacity)
	cfg.Device.LongPollHold = l.envDuration("TWAIN_LONGPOLL_HOLD", cfg.Device.LongPollHold)
	cfg.Device.ConfirmScan = l.envBool("TWAIN_CONFIRM_SCAN", cfg.Device.ConfirmScan)
	cfg.Device.ImagesDir = l.envString("TWAIN_IMAGES_DIR", cfg.Device.ImagesDir)

	cfg.Bridge.Kind = l.envString("TWAIN_BRIDGE", cfg.Bridge.Kind)
	cfg.Bridge.Path = l.envString("TWAIN_BRIDGE_PATH", cfg.Bridge.Path)
	cfg.Bridge.Args = l.envList("TWAIN_BRIDGE_ARGS", cfg.Bridge.Args)
	cfg.Bridge.CallTimeout = l.envDuration("TWAIN_BRIDGE_TIMEOUT", cfg.Bridge.CallTimeout)
	cfg.Bridge.VirtualPages = l.envInt("TWAIN_VIRTUAL_PAGES", cfg.Bridge.VirtualPages)

	cfg.Registry.Backend = l.envString("TWAIN_REGISTRY_BACKEND", cfg.Registry.Backend)
	cfg.Registry.Path = l.envString("TWAIN_REGISTRY_PATH", cfg.Registry.Path)

	cfg.Discovery.Enabled = l.envBool("TWAIN_DISCOVERY_ENABLED", cfg.Discovery.Enabled)
	cfg.Discovery.Instance = l.envString("TWAIN_DISCOVERY_INSTANCE", cfg.Discovery.Instance)

	cfg.Client.CommandTimeout = l.envDuration("TWAIN_CLIENT_COMMAND_TIMEOUT", cfg.Client.CommandTimeout)
	cfg.Client.DataTimeout = l.envDuration("TWAIN_CLIENT_DATA_TIMEOUT", cfg.Client.DataTimeout)
	cfg.Client.EventTimeout = l.envDuration("TWAIN_CLIENT_EVENT_TIMEOUT", cfg.Client.EventTimeout)

	cfg.Metrics.ListenAddr = l.envString("TWAIN_METRICS_LISTEN", cfg.Metrics.ListenAddr)

	cfg.Tracing.Enabled = l.envBool("TWAIN_TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Exporter = l.envString("TWAIN_TRACING_EXPORTER", cfg.Tracing.Exporter)
	cfg.Tracing.Endpoint = l.envString("TWAIN_TRACING_ENDPOINT", cfg.Tracing.Endpoint)
	cfg.Tracing.SampleRate = l.envFloat("TWAIN_TRACING_SAMPLE_RATE", cfg.Tracing.SampleRate)
}

func defaultRegistryPath(dataDir, backend string) string {
	if backend == RegistrySQLite {
		return filepath.Join(dataDir, "registration.db")
	}
	return filepath.Join(dataDir, "registration.json")
}

func randomSecret() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Normalize replaces protocol timings that fall below their minimum with the
// default, logging a warning for each substitution.
func Normalize(cfg *AppConfig) {
	logger := log.WithComponent("config")
	floor := func(name string, v *time.Duration, min, def time.Duration) {
		if *v < min {
			logger.Warn().Str("key", name).Dur("value", *v).Dur("default", def).
				Msg("value below minimum, using default")
			*v = def
		}
	}
	floor("device.sessionTimeout", &cfg.Device.SessionTimeout, MinSessionTimeout, DefaultSessionTimeout)
	floor("client.commandTimeout", &cfg.Client.CommandTimeout, MinCommandTimeout, DefaultCommandTimeout)
	floor("client.dataTimeout", &cfg.Client.DataTimeout, MinDataTimeout, DefaultDataTimeout)
	floor("client.eventTimeout", &cfg.Client.EventTimeout, MinEventTimeout, DefaultEventTimeout)

	if cfg.Device.CreateSessionWindow <= 0 {
		cfg.Device.CreateSessionWindow = DefaultCreateSessionWindow
	}
	if cfg.Device.EventCapacity <= 0 {
		cfg.Device.EventCapacity = DefaultEventCapacity
	}
	if cfg.Device.LongPollHold <= 0 {
		cfg.Device.LongPollHold = DefaultLongPollHold
	}
	if cfg.Device.TimeoutGrace < 0 {
		cfg.Device.TimeoutGrace = DefaultTimeoutGrace
	}
	if cfg.Device.ConfirmTimeout <= 0 {
		cfg.Device.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.Bridge.CallTimeout <= 0 {
		cfg.Bridge.CallTimeout = DefaultBridgeCallTimeout
	}
}
