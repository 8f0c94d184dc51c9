package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the verification flow.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registrations         *prometheus.CounterVec
	ProviderRequests      *prometheus.CounterVec
	ProviderLatency       *prometheus.HistogramVec
	Verifications         *prometheus.CounterVec
	OrphanedRemoteAccount prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medqr_registrations_total",
			Help: "Registration attempts by outcome (success, partial, failed)",
		}, []string{"outcome"}),
		ProviderRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medqr_provider_requests_total",
			Help: "Identity provider calls by operation and result kind",
		}, []string{"operation", "kind"}),
		ProviderLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medqr_provider_request_duration_seconds",
			Help:    "Identity provider call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		Verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medqr_verifications_total",
			Help: "Users marked verified by source (code, poll, register, resend, override, bulk)",
		}, []string{"source"}),
		OrphanedRemoteAccount: factory.NewCounter(prometheus.CounterOpts{
			Name: "medqr_orphaned_remote_accounts_total",
			Help: "Remote accounts created without a persisted local mapping",
		}),
	}
}

func (m *Metrics) ObserveRegistration(outcome string) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveProviderCall(operation, kind string, took time.Duration) {
	if m == nil {
		return
	}
	m.ProviderRequests.WithLabelValues(operation, kind).Inc()
	m.ProviderLatency.WithLabelValues(operation).Observe(took.Seconds())
}

func (m *Metrics) ObserveVerified(source string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.Verifications.WithLabelValues(source).Add(float64(count))
}

func (m *Metrics) ObserveOrphanedRemoteAccount() {
	if m == nil {
		return
	}
	m.OrphanedRemoteAccount.Inc()
}
