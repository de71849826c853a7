package incident

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the incident pipeline.
type Metrics struct {
	WebhooksTotal         *prometheus.CounterVec
	IncidentsTotal        *prometheus.CounterVec
	DecisionRequestsTotal *prometheus.CounterVec
	NotificationsTotal    *prometheus.CounterVec
	ApprovalsTotal        *prometheus.CounterVec
	RemediationsTotal     *prometheus.CounterVec
	RemediationDuration   prometheus.Histogram
}

// NewMetrics registers and returns incident metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WebhooksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mend_webhooks_total",
			Help: "Total inbound VCS webhooks by result.",
		}, []string{"result"}),
		IncidentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mend_incidents_total",
			Help: "Total incidents created by risk level.",
		}, []string{"risk"}),
		DecisionRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mend_decision_requests_total",
			Help: "Total decision-gate submissions by outcome.",
		}, []string{"outcome"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mend_notifications_total",
			Help: "Total approval notifications by outcome.",
		}, []string{"outcome"}),
		ApprovalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mend_approvals_total",
			Help: "Total approval callbacks by outcome.",
		}, []string{"outcome"}),
		RemediationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mend_remediations_total",
			Help: "Total remediation attempts by outcome.",
		}, []string{"outcome"}),
		RemediationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mend_remediation_duration_seconds",
			Help:    "Duration of remediation PR creation in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s .. ~64s
		}),
	}

	reg.MustRegister(
		m.WebhooksTotal,
		m.IncidentsTotal,
		m.DecisionRequestsTotal,
		m.NotificationsTotal,
		m.ApprovalsTotal,
		m.RemediationsTotal,
		m.RemediationDuration,
	)

	return m
}

// nopMetrics returns unregistered metrics for tests and nil-safety.
func nopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
