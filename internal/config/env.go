// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/loachfighter/twain-direct/internal/log"
	"github.com/rs/zerolog"
)

// lookup resolves key from the environment and reports which source won.
// Empty values count as unset.
func lookup(logger zerolog.Logger, key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logger.Debug().Str("key", key).Str("source", "default").Msg("using default value")
		return "", false
	}
	ev := logger.Debug().Str("key", key).Str("source", "environment")
	lowerKey := strings.ToLower(key)
	if strings.Contains(lowerKey, "secret") || strings.Contains(lowerKey, "token") {
		ev = ev.Bool("sensitive", true)
	} else {
		ev = ev.Str("value", v)
	}
	ev.Msg("using environment variable")
	return v, true
}

// ParseString reads a string from environment variable or returns default value.
func ParseString(key, defaultValue string) string {
	if v, ok := lookup(log.WithComponent("config"), key); ok {
		return v
	}
	return defaultValue
}

// ParseInt reads an integer from environment variable or returns default value.
// It falls back to the default on parse errors.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	v, ok := lookup(logger, key)
	if !ok {
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Int("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
		return defaultValue
	}
	return i
}

// ParseFloat reads a float64 from environment variable or returns default value.
func ParseFloat(key string, defaultValue float64) float64 {
	logger := log.WithComponent("config")
	v, ok := lookup(logger, key)
	if !ok {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Float64("default", defaultValue).
			Msg("invalid float in environment variable, using default")
		return defaultValue
	}
	return f
}

// ParseDuration reads a duration in Go duration format (e.g. "5s").
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("config")
	v, ok := lookup(logger, key)
	if !ok {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Dur("default", defaultValue).
			Msg("invalid duration in environment variable, using default")
		return defaultValue
	}
	return d
}

// ParseBool accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	logger := log.WithComponent("config")
	v, ok := lookup(logger, key)
	if !ok {
		return defaultValue
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		logger.Warn().Str("key", key).Str("value", v).Bool("default", defaultValue).
			Msg("invalid boolean in environment variable, using default")
		return defaultValue
	}
}

// ParseList splits a comma separated variable.
func ParseList(key string, defaultValue []string) []string {
	v, ok := lookup(log.WithComponent("config"), key)
	if !ok {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
