// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twain_commands_total",
		Help: "Session commands handled by method and result code",
	}, []string{"method", "code"}) // code=ok|<protocol code>

	sessionRevision = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "twain_session_revision",
		Help: "Revision of the current session (0 without a session)",
	})

	sessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "twain_session_state",
		Help: "1 for the current session state, 0 otherwise",
	}, []string{"state"})

	sessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twain_session_transitions_total",
		Help: "Session state transitions",
	}, []string{"from", "to"})

	sessionTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "twain_session_timeouts_total",
		Help: "Sessions ended by the idle timeout supervisor",
	})

	eventsBuffered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "twain_events_buffered",
		Help: "Events waiting for acknowledgement",
	})

	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "twain_events_dropped_total",
		Help: "Events dropped because the buffer overflowed",
	})

	longPollParked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "twain_longpoll_parked",
		Help: "waitForEvents requests currently parked (0 or 1)",
	})

	securityRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twain_security_rejections_total",
		Help: "Requests rejected by privet token checks",
	}, []string{"reason"}) // reason=missing|invalid|expired
)

// IncCommand records a handled command. code is "ok" on success.
func IncCommand(method, code string) {
	if code == "" {
		code = "ok"
	}
	commandsTotal.WithLabelValues(method, code).Inc()
}

// RecordSession publishes the revision and current state.
func RecordSession(state string, revision int64, states []string) {
	sessionRevision.Set(float64(revision))
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		sessionState.WithLabelValues(s).Set(v)
	}
}

// IncTransition records a state transition.
func IncTransition(from, to string) { sessionTransitions.WithLabelValues(from, to).Inc() }

// IncSessionTimeout records an idle timeout.
func IncSessionTimeout() { sessionTimeouts.Inc() }

// RecordEventsBuffered publishes the event buffer depth.
func RecordEventsBuffered(n int) { eventsBuffered.Set(float64(n)) }

// IncEventsDropped records an overflow drop.
func IncEventsDropped() { eventsDropped.Inc() }

// SetLongPollParked publishes whether a long poll is parked.
func SetLongPollParked(parked bool) {
	if parked {
		longPollParked.Set(1)
		return
	}
	longPollParked.Set(0)
}

// IncSecurityRejection records a token rejection.
func IncSecurityRejection(reason string) { securityRejections.WithLabelValues(reason).Inc() }
