package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Handler struct {
	RequestsReceived  *prometheus.CounterVec
	RateLimitRejected prometheus.Counter
	OracleCalls       *prometheus.CounterVec
	OracleLatency     prometheus.Histogram
	StoreQueryLatency *prometheus.HistogramVec
	AlertRefreshes    *prometheus.CounterVec
}

type Options struct {
	// Additional labels necessary
}

func New(name string) (*Handler, error) {
	return &Handler{
		RequestsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_received",
			Help: "The total number of http requests received",
		}, []string{"status"}),
		RateLimitRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rate_limit_rejected_total",
			Help: "The total number of requests rejected by the rate limiter",
		}),
		OracleCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "anomaly_oracle_calls_total",
			Help: "The total number of calls to the anomaly oracle",
		}, []string{"outcome"}),
		OracleLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "anomaly_oracle_latency_seconds",
			Help:    "The latency of anomaly oracle calls",
			Buckets: prometheus.DefBuckets,
		}),
		StoreQueryLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "logstore_query_latency_seconds",
			Help:    "The latency of log store queries",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		AlertRefreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "alert_cache_refreshes_total",
			Help: "The total number of alert cache refresh attempts",
		}, []string{"outcome"}),
	}, nil
}

// IncRequestsReceived increments the received-requests counter
func (h *Handler) IncRequestsReceived(status string) {
	if h == nil {
		return
	}
	h.RequestsReceived.WithLabelValues(status).Inc()
}

// IncRateLimitRejected increments the rate-limit rejection counter
func (h *Handler) IncRateLimitRejected() {
	if h == nil {
		return
	}
	h.RateLimitRejected.Inc()
}

// IncOracleCall increments the oracle call counter for the given outcome
func (h *Handler) IncOracleCall(outcome string) {
	if h == nil {
		return
	}
	h.OracleCalls.WithLabelValues(outcome).Inc()
}

// ObserveOracleLatency records the latency of an oracle call
func (h *Handler) ObserveOracleLatency(d time.Duration) {
	if h == nil {
		return
	}
	h.OracleLatency.Observe(d.Seconds())
}

// ObserveStoreQuery records the latency of a log store query
func (h *Handler) ObserveStoreQuery(operation string, d time.Duration) {
	if h == nil {
		return
	}
	h.StoreQueryLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// IncAlertRefresh increments the alert cache refresh counter
func (h *Handler) IncAlertRefresh(outcome string) {
	if h == nil {
		return
	}
	h.AlertRefreshes.WithLabelValues(outcome).Inc()
}
