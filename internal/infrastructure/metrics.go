package infrastructure

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the fulfillment pipeline.
type Metrics struct {
	WebhookEvents   *prometheus.CounterVec
	Fulfillments    *prometheus.CounterVec
	KeysIssued      prometheus.Counter
	Claims          *prometheus.CounterVec
	Redemptions     *prometheus.CounterVec
	FulfillDuration prometheus.Histogram
	Registry        *prometheus.Registry
}

// NewMetrics creates and registers the fulfillment metrics on a dedicated
// registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		WebhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rosina",
			Name:      "webhook_events_total",
			Help:      "Webhook events received, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		Fulfillments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rosina",
			Name:      "fulfillments_total",
			Help:      "Fulfillment attempts, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		KeysIssued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rosina",
			Name:      "license_keys_issued_total",
			Help:      "License keys minted.",
		}),
		Claims: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rosina",
			Name:      "claims_total",
			Help:      "Claim attempts, by outcome.",
		}, []string{"outcome"}),
		Redemptions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rosina",
			Name:      "redemptions_total",
			Help:      "License key redemption attempts, by outcome.",
		}, []string{"outcome"}),
		FulfillDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rosina",
			Name:      "fulfillment_duration_seconds",
			Help:      "Wall time of fulfillment orchestration.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
