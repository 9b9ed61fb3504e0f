// Package metrics defines the prometheus collectors exported on /metrics.
// All recording methods are no-ops on a nil *Metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

// Cache names used as label values
const (
	CacheTransfers = "transfers"
	CachePrices    = "prices"
)

// Metrics groups every collector the service records
type Metrics struct {
	httpDuration *prometheus.HistogramVec
	httpRequests *prometheus.CounterVec

	cacheLookups *prometheus.CounterVec

	priceLookups *prometheus.CounterVec

	indexerCalls    *prometheus.CounterVec
	indexerDuration *prometheus.HistogramVec

	breakerState *prometheus.GaugeVec

	walletFailures prometheus.Counter
}

// NewMetrics creates unregistered collectors
func NewMetrics() *Metrics {
	return &Metrics{
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "income_verifier_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "route", "status"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "income_verifier_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "income_verifier_cache_lookups_total",
				Help: "Cache lookups by cache and result (hit, miss, bypass)",
			},
			[]string{"cache", "result"},
		),
		priceLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "income_verifier_price_lookups_total",
				Help: "Price lookups by kind (current, historical) and outcome",
			},
			[]string{"kind", "outcome"},
		),
		indexerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "income_verifier_indexer_calls_total",
				Help: "Calls to the transfer indexer by chain and status",
			},
			[]string{"chain_id", "status"},
		),
		indexerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "income_verifier_indexer_call_duration_seconds",
				Help:    "Duration of transfer indexer calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"chain_id"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "income_verifier_circuit_breaker_state",
				Help: "Current state of circuit breakers (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		walletFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "income_verifier_wallet_enrichment_failures_total",
				Help: "Wallets skipped during all-wallet enrichment",
			},
		),
	}
}

// MustRegister registers all metrics with the provided registry
func (m *Metrics) MustRegister(registry prometheus.Registerer) {
	registry.MustRegister(
		m.httpDuration,
		m.httpRequests,
		m.cacheLookups,
		m.priceLookups,
		m.indexerCalls,
		m.indexerDuration,
		m.breakerState,
		m.walletFailures,
	)
}

// RecordHTTPRequest records one served request
func (m *Metrics) RecordHTTPRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, status).Observe(seconds)
	m.httpRequests.WithLabelValues(method, route, status).Inc()
}

// RecordCacheLookup records a hit, miss or bypass on the named cache
func (m *Metrics) RecordCacheLookup(cache, result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

// RecordPriceLookup records the outcome of a price resolution
func (m *Metrics) RecordPriceLookup(kind, outcome string) {
	if m == nil {
		return
	}
	m.priceLookups.WithLabelValues(kind, outcome).Inc()
}

// RecordIndexerCall records one indexer request
func (m *Metrics) RecordIndexerCall(chainID, status string, seconds float64) {
	if m == nil {
		return
	}
	m.indexerCalls.WithLabelValues(chainID, status).Inc()
	m.indexerDuration.WithLabelValues(chainID).Observe(seconds)
}

// UpdateCircuitBreakerState updates the circuit breaker state metric
func (m *Metrics) UpdateCircuitBreakerState(name string, state gobreaker.State) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(name).Set(float64(state))
}

// RecordWalletFailure counts a wallet dropped from a multi-wallet result
func (m *Metrics) RecordWalletFailure() {
	if m == nil {
		return
	}
	m.walletFailures.Inc()
}
