// SPDX-License-Identifier: MIT

package daemon

import (
	"net/http"

	"github.com/loachfighter/twain-direct/internal/config"
	"github.com/rs/zerolog"
)

// Deps contains dependencies required by the daemon Manager.
type Deps struct {
	// Logger is the structured logger for the daemon
	Logger zerolog.Logger

	Config config.AppConfig

	// APIHandler serves the privet and health routes.
	APIHandler http.Handler

	// MetricsHandler is the HTTP handler for Prometheus metrics (if enabled)
	MetricsHandler http.Handler

	// MetricsAddr is where MetricsHandler listens. Empty disables the listener.
	MetricsAddr string
}

// Validate checks if the dependencies are valid.
func (d *Deps) Validate() error {
	if d.Logger.GetLevel() == zerolog.Disabled {
		return ErrMissingLogger
	}
	if d.APIHandler == nil {
		return ErrMissingAPIHandler
	}
	if d.MetricsHandler != nil && d.MetricsAddr == "" {
		return ErrMetricsHandlerWithoutAddr
	}
	return nil
}
