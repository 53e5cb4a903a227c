// SPDX-License-Identifier: MIT
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bridgeCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "twain_bridge_call_duration_seconds",
		Help:    "Device bridge call latency by method and outcome",
		Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 20},
	}, []string{"method", "outcome"}) // outcome=success|status|error|malformed

	bridgeSignals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twain_bridge_signals_total",
		Help: "Signals sent to bridge process groups",
	}, []string{"signal", "result"})

	bridgeChanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "twain_bridge_changes_total",
		Help: "Asynchronous change notifications raised by bridges",
	})
)

// ObserveBridgeCall records one bridge round trip.
func ObserveBridgeCall(method, outcome string, d time.Duration) {
	bridgeCallDuration.WithLabelValues(method, outcome).Observe(d.Seconds())
}

// IncBridgeSignal records a signal sent to a bridge process group.
func IncBridgeSignal(signal, result string) { bridgeSignals.WithLabelValues(signal, result).Inc() }

// IncBridgeChange records a change notification.
func IncBridgeChange() { bridgeChanges.Inc() }
