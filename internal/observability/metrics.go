package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// DispatchRequests counts dispatched requests by inbound format, vendor and outcome
	DispatchRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prism_dispatch_requests_total",
			Help: "Total number of dispatched requests",
		},
		[]string{"inbound", "vendor", "outcome"},
	)

	// DispatchDuration measures time from routing to the last forwarded byte
	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prism_dispatch_duration_seconds",
			Help:    "Dispatch duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"inbound", "vendor", "stream"},
	)

	// RoutingDecisions counts routing outcomes per resolved vendor
	RoutingDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prism_routing_decisions_total",
			Help: "Total number of routing decisions",
		},
		[]string{"vendor", "outcome"},
	)

	// AuthRetries counts credential-refresh retries after an authentication failure
	AuthRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prism_auth_retries_total",
			Help: "Total number of auth-failure retries",
		},
		[]string{"vendor", "outcome"},
	)

	// CredentialRefreshes counts refresh attempts by the credential store
	CredentialRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prism_credential_refresh_total",
			Help: "Total number of credential refresh attempts",
		},
		[]string{"vendor", "outcome"},
	)

	// StreamEvents counts streamed events forwarded to clients
	StreamEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prism_stream_events_total",
			Help: "Total number of streamed events forwarded to clients",
		},
		[]string{"vendor", "kind"},
	)

	// MaintenanceLastRun is the unix time of the last completed maintenance pass
	MaintenanceLastRun = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "prism_maintenance_last_run_timestamp_seconds",
			Help: "Unix time of the last completed credential maintenance pass",
		},
	)
)

func init() {
	prometheus.MustRegister(DispatchRequests)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(RoutingDecisions)
	prometheus.MustRegister(AuthRetries)
	prometheus.MustRegister(CredentialRefreshes)
	prometheus.MustRegister(StreamEvents)
	prometheus.MustRegister(MaintenanceLastRun)
}

// Outcome labels shared by the counters above.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// OutcomeLabel maps an error to an outcome label
func OutcomeLabel(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
