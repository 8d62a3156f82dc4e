package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/wasteplan/internal/reconcile"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	reconcileRecords  *prometheus.CounterVec
	reconcileOutliers *prometheus.CounterVec
	reconcileRuns     *prometheus.CounterVec
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wasteplan_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wasteplan_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	records := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wasteplan_reconcile_records_total",
		Help: "Jumlah jadwal hasil rekonsiliasi per periode dan status.",
	}, []string{"period", "status"})
	outliers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wasteplan_reconcile_outliers_total",
		Help: "Realisasi tanpa jadwal dan baris rusak per periode.",
	}, []string{"period", "kind"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wasteplan_reconcile_runs_total",
		Help: "Jumlah eksekusi rekonsiliasi per periode.",
	}, []string{"period"})
	registry.MustRegister(requests, duration, records, outliers, runs)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		reconcileRecords:  records,
		reconcileOutliers: outliers,
		reconcileRuns:     runs,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveReconcile mencatat ringkasan satu eksekusi rekonsiliasi.
func (m *Metrics) ObserveReconcile(period string, summary reconcile.Summary) {
	if m == nil {
		return
	}
	m.reconcileRuns.WithLabelValues(period).Inc()
	for status, n := range summary.ByStatus {
		m.reconcileRecords.WithLabelValues(period, string(status)).Add(float64(n))
	}
	m.reconcileOutliers.WithLabelValues(period, "unscheduled").Add(float64(summary.Unscheduled))
	m.reconcileOutliers.WithLabelValues(period, "error").Add(float64(summary.Errors))
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
