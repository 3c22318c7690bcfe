package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Directory metrics
	DirectoryOperationsTotal   *prometheus.CounterVec
	DirectoryOperationDuration *prometheus.HistogramVec
	DirectoryConnectionsOpened prometheus.Counter
	DirectoryConnectionsClosed prometheus.Counter

	// Local store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal          *prometheus.CounterVec
	CacheMissesTotal        *prometheus.CounterVec
	CacheInvalidationsTotal *prometheus.CounterVec

	// Listener metrics
	ListenerEventsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redback_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "redback_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		DirectoryOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redback_directory_operations_total",
				Help: "Total number of directory (LDAP) operations",
			},
			[]string{"operation", "status"},
		),
		DirectoryOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "redback_directory_operation_duration_seconds",
				Help:    "Directory operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"operation"},
		),
		DirectoryConnectionsOpened: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "redback_directory_connections_opened_total",
				Help: "Total number of directory connections opened",
			},
		),
		DirectoryConnectionsClosed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "redback_directory_connections_closed_total",
				Help: "Total number of directory connections released",
			},
		),

		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redback_store_operations_total",
				Help: "Total number of local RBAC store operations",
			},
			[]string{"operation", "status"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "redback_store_operation_duration_seconds",
				Help:    "Local RBAC store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redback_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type", "key_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redback_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type", "key_type"},
		),
		CacheInvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redback_cache_invalidations_total",
				Help: "Total number of cache invalidations",
			},
			[]string{"key_type"},
		),

		ListenerEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "redback_listener_events_total",
				Help: "Total number of RBAC listener events received",
			},
			[]string{"event"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.DirectoryOperationsTotal,
		m.DirectoryOperationDuration,
		m.DirectoryConnectionsOpened,
		m.DirectoryConnectionsClosed,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheInvalidationsTotal,
		m.ListenerEventsTotal,
	)

	return m
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveDirectory records one directory operation. Safe on a nil receiver.
func (m *Metrics) ObserveDirectory(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.DirectoryOperationsTotal.WithLabelValues(operation, statusLabel(err)).Inc()
	m.DirectoryOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ObserveStore records one local store operation. Safe on a nil receiver.
func (m *Metrics) ObserveStore(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.StoreOperationsTotal.WithLabelValues(operation, statusLabel(err)).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// ConnectionOpened counts an acquired directory connection
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.DirectoryConnectionsOpened.Inc()
}

// ConnectionClosed counts a released directory connection
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.DirectoryConnectionsClosed.Inc()
}

// CacheHit counts a hit on cacheType ("l1", "l2") for keyType ("role", ...)
func (m *Metrics) CacheHit(cacheType, keyType string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(cacheType, keyType).Inc()
}

// CacheMiss counts a miss on cacheType for keyType
func (m *Metrics) CacheMiss(cacheType, keyType string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(cacheType, keyType).Inc()
}

// CacheInvalidated counts an invalidation of keyType
func (m *Metrics) CacheInvalidated(keyType string) {
	if m == nil {
		return
	}
	m.CacheInvalidationsTotal.WithLabelValues(keyType).Inc()
}

// ListenerEvent counts a received listener event
func (m *Metrics) ListenerEvent(event string) {
	if m == nil {
		return
	}
	m.ListenerEventsTotal.WithLabelValues(event).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routeLabel prefers the mux route template so usernames and role names do
// not explode label cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
