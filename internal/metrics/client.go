// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	clientErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twain_client_errors_total",
		Help: "Client command failures by error facility",
	}, []string{"facility"}) // facility=httpstatus|protocol|security|language

	clientReissues = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "twain_client_longpoll_reissues_total",
		Help: "Long polls reissued by the client pipeline",
	}, []string{"reason"}) // reason=reply|timeout|transport
)

// IncClientError records a classified client failure.
func IncClientError(facility string) { clientErrors.WithLabelValues(facility).Inc() }

// IncLongPollReissue records a reissued long poll.
func IncLongPollReissue(reason string) { clientReissues.WithLabelValues(reason).Inc() }
