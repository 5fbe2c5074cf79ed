package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReconcileMetrics exposes counters/histograms for the result delivery and
// reconciliation flows.
type ReconcileMetrics struct {
	webhooksTotal    *prometheus.CounterVec
	resolutionsTotal *prometheus.CounterVec
	timeoutsTotal    prometheus.Counter
	malformedTotal   *prometheus.CounterVec
	webhookLatency   *prometheus.HistogramVec
}

func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	m := &ReconcileMetrics{
		webhooksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "diagnosis",
			Subsystem: "webhook",
			Name:      "received_total",
			Help:      "Total inbound workflow webhooks",
		}, []string{"content_type", "status"}),
		resolutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "diagnosis",
			Subsystem: "reconcile",
			Name:      "resolutions_total",
			Help:      "Sessions resolved, by winning delivery channel",
		}, []string{"channel"}),
		timeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "diagnosis",
			Subsystem: "reconcile",
			Name:      "timeouts_total",
			Help:      "Sessions that elapsed their wait window with no result",
		}),
		malformedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "diagnosis",
			Subsystem: "reconcile",
			Name:      "malformed_payloads_total",
			Help:      "Payloads a channel could not normalize",
		}, []string{"channel"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "diagnosis",
			Subsystem: "webhook",
			Name:      "handling_seconds",
			Help:      "Latency of webhook receiver processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"content_type"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.webhooksTotal, m.resolutionsTotal, m.timeoutsTotal, m.malformedTotal, m.webhookLatency)
	return m
}

func (m *ReconcileMetrics) ObserveWebhook(contentType, status string) {
	if m == nil {
		return
	}
	m.webhooksTotal.WithLabelValues(contentType, status).Inc()
}

func (m *ReconcileMetrics) ObserveResolution(channel string) {
	if m == nil {
		return
	}
	m.resolutionsTotal.WithLabelValues(channel).Inc()
}

func (m *ReconcileMetrics) ObserveTimeout() {
	if m == nil {
		return
	}
	m.timeoutsTotal.Inc()
}

func (m *ReconcileMetrics) ObserveMalformed(channel string) {
	if m == nil {
		return
	}
	m.malformedTotal.WithLabelValues(channel).Inc()
}

func (m *ReconcileMetrics) ObserveWebhookLatency(contentType string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(contentType).Observe(seconds)
}
