package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "secops"

// Metrics holds the service collectors on a private registry so tests can build as
// many instances as they like.
type Metrics struct {
	Registry *prometheus.Registry

	Requests          *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	SessionsCreated   prometheus.Counter
	SessionsEvicted   prometheus.Counter
	TwoFactorResults  *prometheus.CounterVec
	RiskScores        *prometheus.HistogramVec
	IncidentsCreated  *prometheus.CounterVec
	IncidentsActive   prometheus.Gauge
	Containments      prometheus.Counter
	AuditEvents       *prometheus.CounterVec
	ComplianceChecks  *prometheus.CounterVec
	SinkFailures      *prometheus.CounterVec
	NotificationsSent *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "API requests by component, action and result code",
		}, []string{"component", "action", "code"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "API request latency by component",
			Buckets:   prometheus.DefBuckets,
		}, []string{"component"}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions created",
		}),
		SessionsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Sessions terminated by the concurrency cap",
		}),
		TwoFactorResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "two_factor_verifications_total",
			Help:      "Two-factor verifications by kind and result",
		}, []string{"kind", "result"}),
		RiskScores: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "risk_score",
			Help:      "Distribution of computed action risk scores",
			Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100, 150},
		}, []string{"level"}),
		IncidentsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_created_total",
			Help:      "Incidents created by type and severity",
		}, []string{"type", "severity"}),
		IncidentsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "incidents_active",
			Help:      "Incidents in open, investigating or escalated state at last read",
		}),
		Containments: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "automated_containments_total",
			Help:      "Automated containment runs",
		}),
		AuditEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_total",
			Help:      "Audit events recorded by type",
		}, []string{"event_type"}),
		ComplianceChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compliance_checks_total",
			Help:      "Compliance checks by kind and outcome",
		}, []string{"kind", "compliant"}),
		SinkFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_sink_failures_total",
			Help:      "Failed deliveries to downstream sinks",
		}, []string{"sink"}),
		NotificationsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications by template and result",
		}, []string{"template", "result"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
