// Package metrics mirrors C4's in-process aggregator as Prometheus
// gauges/counters, exposed at /metrics for operator scraping.
//
// Grounded on the teacher's src/chainadapter/metrics.PrometheusMetrics
// (per-operation counter/duration tracking, Export()-style text format)
// and on the pack's DanDo385-go-edu 50-mini-service-all-features, which
// wires github.com/prometheus/client_golang's registry and promhttp
// handler directly rather than hand-rolling an exposition format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every counter/gauge the relay records. Construct one per
// process with New and register it with a *prometheus.Registry (or the
// default one) before serving /metrics.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	TransactionsTotal   *prometheus.CounterVec
	ErrorsTotal         *prometheus.CounterVec
	FeesSponsoredUnits  prometheus.Counter
	NonceAvailable      *prometheus.GaugeVec
	NonceReserved       *prometheus.GaugeVec
	APIKeyRequestsTotal *prometheus.CounterVec
}

// New constructs Metrics with fresh collectors. Call Register to attach
// them to a registry.
func New() *Metrics {
	return &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total HTTP requests by route and status class.",
		}, []string{"route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		TransactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_transactions_total",
			Help: "Settlement pipeline outcomes by endpoint and success.",
		}, []string{"endpoint", "success"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_errors_total",
			Help: "Errors recorded by category.",
		}, []string{"category"}),
		FeesSponsoredUnits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_fees_sponsored_units_total",
			Help: "Cumulative smallest-unit fees paid by sponsor wallets.",
		}),
		NonceAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_nonce_available",
			Help: "Available (unreserved) nonces per sponsor wallet.",
		}, []string{"wallet"}),
		NonceReserved: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_nonce_reserved",
			Help: "In-flight reserved nonces per sponsor wallet.",
		}, []string{"wallet"}),
		APIKeyRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_apikey_requests_total",
			Help: "API-key gated requests by tier and outcome.",
		}, []string{"tier", "outcome"}),
	}
}

// Register attaches every collector to reg.
func (m *Metrics) Register(reg *prometheus.Registry) {
	reg.MustRegister(
		m.RequestsTotal, m.RequestDuration, m.TransactionsTotal, m.ErrorsTotal,
		m.FeesSponsoredUnits, m.NonceAvailable, m.NonceReserved, m.APIKeyRequestsTotal,
	)
}
