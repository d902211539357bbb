// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "setu"

// Registry is the registry every collector below is registered with.
var Registry = prometheus.NewRegistry()

// Registration outcomes.
const (
	OutcomeRegistered        = "registered"
	OutcomeAlreadyRegistered = "already_registered"
	OutcomeEventFull         = "event_full"
	OutcomeForbidden         = "forbidden"
	OutcomePastEvent         = "past_event"
	OutcomeNotFound          = "not_found"
	OutcomeInvalid           = "invalid"
	OutcomeError             = "error"
)

// RegistrationAttempts counts registration attempts by outcome.
var RegistrationAttempts = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_registration_attempts_total",
		Help:      "Event registration attempts by outcome",
	},
	[]string{"outcome"},
)

// EventMutations counts successful create, update and delete operations.
var EventMutations = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_mutations_total",
		Help:      "Successful event mutations by operation",
	},
	[]string{"operation"},
)

// HTTPRequests counts served requests by method and status code.
var HTTPRequests = promauto.With(Registry).NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method and status",
	},
	[]string{"method", "status"},
)

// HTTPDuration observes request latency.
var HTTPDuration = promauto.With(Registry).NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method"},
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
