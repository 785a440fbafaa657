package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"feeindex/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "feeindex"

// Metrics implements application.Observer on top of a private prometheus
// registry and exposes it over HTTP.
type Metrics struct {
	registry *prometheus.Registry

	cacheLookups   *prometheus.CounterVec
	degradedRates  *prometheus.CounterVec
	upstreamErrors *prometheus.CounterVec
	lookups        *prometheus.CounterVec
	scanCursor     *prometheus.GaugeVec
	scanComputed   *prometheus.CounterVec
	requests       *prometheus.CounterVec
	latency        *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by key namespace and result.",
		}, []string{"namespace", "result"}),
		degradedRates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_rates_total",
			Help:      "Price lookups that came back unavailable or rate limited.",
		}, []string{"status"}),
		upstreamErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Requests that failed because a collaborator failed.",
		}, []string{"service"}),
		lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Fee lookups by kind and outcome.",
		}, []string{"kind", "outcome"}),
		scanCursor: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scan_cursor_block",
			Help:      "Last block processed by the historic scanner.",
		}, []string{"action"}),
		scanComputed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_fees_computed_total",
			Help:      "Fees computed by the historic scanner.",
		}, []string{"action"}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

func (m *Metrics) OnCacheLookup(ns string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(ns, result).Inc()
}

func (m *Metrics) OnDegradedRate(status domain.RateStatus) {
	m.degradedRates.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) OnScanProgress(action domain.ActionType, cursor uint64, computed int) {
	m.scanCursor.WithLabelValues(string(action)).Set(float64(cursor))
	m.scanComputed.WithLabelValues(string(action)).Add(float64(computed))
}

func (m *Metrics) OnUpstreamError(service string) {
	m.upstreamErrors.WithLabelValues(service).Inc()
}

func (m *Metrics) OnLookup(kind, outcome string) {
	m.lookups.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// instrument counts and times requests under a fixed route label.
func (m *Metrics) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		m.requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		m.latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
