package metrics

import "github.com/prometheus/client_golang/prometheus"

// IngestionMetrics exposes counters/histograms for the inbound-call pipeline.
type IngestionMetrics struct {
	inboundTotal     *prometheus.CounterVec
	duplicateTotal   *prometheus.CounterVec
	tenantMissTotal  prometheus.Counter
	webhookLatency   *prometheus.HistogramVec
	deliveryAttempts *prometheus.CounterVec
	routingTotal     *prometheus.CounterVec
}

func NewIngestionMetrics(reg prometheus.Registerer) *IngestionMetrics {
	m := &IngestionMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casecurrent",
			Subsystem: "ingestion",
			Name:      "inbound_webhook_total",
			Help:      "Total inbound telephony provider webhooks",
		}, []string{"provider", "kind", "status"}),
		duplicateTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casecurrent",
			Subsystem: "ingestion",
			Name:      "duplicate_event_total",
			Help:      "Inbound events short-circuited by the idempotency gate",
		}, []string{"provider"}),
		tenantMissTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "casecurrent",
			Subsystem: "ingestion",
			Name:      "tenant_miss_total",
			Help:      "Inbound events for numbers with no configured tenant",
		}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "casecurrent",
			Subsystem: "ingestion",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of inbound webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "kind"}),
		deliveryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casecurrent",
			Subsystem: "webhookout",
			Name:      "delivery_attempt_total",
			Help:      "Outbound webhook delivery attempts",
		}, []string{"outcome"}),
		routingTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "casecurrent",
			Subsystem: "oncall",
			Name:      "routing_total",
			Help:      "On-call routing decisions for new inbound calls",
		}, []string{"target"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.duplicateTotal, m.tenantMissTotal, m.webhookLatency, m.deliveryAttempts, m.routingTotal)
	return m
}

func (m *IngestionMetrics) ObserveInbound(provider, kind, status string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(provider, kind, status).Inc()
}

func (m *IngestionMetrics) ObserveDuplicate(provider string) {
	if m == nil {
		return
	}
	m.duplicateTotal.WithLabelValues(provider).Inc()
}

func (m *IngestionMetrics) ObserveTenantMiss() {
	if m == nil {
		return
	}
	m.tenantMissTotal.Inc()
}

func (m *IngestionMetrics) ObserveWebhookLatency(provider, kind string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(provider, kind).Observe(seconds)
}

func (m *IngestionMetrics) ObserveDeliveryAttempt(outcome string) {
	if m == nil {
		return
	}
	m.deliveryAttempts.WithLabelValues(outcome).Inc()
}

func (m *IngestionMetrics) ObserveRouting(target string) {
	if m == nil {
		return
	}
	m.routingTotal.WithLabelValues(target).Inc()
}
