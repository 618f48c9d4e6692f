package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the request-path Prometheus collectors, standing in for the
// out-of-scope disk-usage-aggregation exporter's sibling concern: request
// latency and cache hit/miss (spec.md §6's metrics note). Request latency is
// recorded by the router middleware; the cache hit/miss counter moves only
// through ObserveCacheLookup.
type Metrics struct {
	requestDuration *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
}

// NewMetrics registers the gateway's collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "storage_api",
			Name:      "http_request_duration_seconds",
			Help:      "Storage gateway HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storage_api",
			Name:      "permission_cache_lookups_total",
			Help:      "Permission cache lookups by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.requestDuration, m.cacheLookups)
	return m
}

// ObserveCacheLookup records a cache hit or miss. Nothing in the gateway
// calls it: the permission cache does not report its lookups here, so the
// permission_cache_lookups_total counter stays at zero unless a caller
// invokes this method.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheLookups.WithLabelValues(outcome).Inc()
}

// middleware times every request and labels it by resolved operation
// and response status, falling back to "default" when the operation cannot
// be determined.
func (m *Metrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		op, err := parseOperation(r)
		if err != nil || op == "" {
			op = "default"
		}

		next.ServeHTTP(rec, r)

		m.requestDuration.WithLabelValues(string(op), strconv.Itoa(rec.status)).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
