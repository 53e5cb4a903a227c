// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"time"

	"github.com/loachfighter/twain-direct/internal/log"
)

// AccessLog writes one entry per request once the handler returns.
// Health endpoints log at debug.
func AccessLog(component string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := wrap(w)
			next.ServeHTTP(sw, r)

			logger := log.WithComponentFromContext(r.Context(), component)
			ev := logger.Info()
			switch {
			case sw.statusCode >= 500:
				ev = logger.Error()
			case r.URL.Path == "/healthz" || r.URL.Path == "/readyz":
				ev = logger.Debug()
			}
			traceID, _ := ExtractTraceContext(r)
			ev.Str(log.FieldMethod, r.Method).
				Str(log.FieldPath, r.URL.Path).
				Int("status", sw.statusCode).
				Int("bytes", sw.bytesWritten).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Str("trace_id", traceID).
				Msg("http request")
		})
	}
}
