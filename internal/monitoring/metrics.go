// Package monitoring exposes the preview server's prometheus metrics and its
// health endpoint.
package monitoring

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "zat"

// Metrics holds the server's collectors. Each instance owns its registry so
// several servers (and tests) can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	// Requests counts HTTP requests.
	// Labels: route, code
	Requests *prometheus.CounterVec

	// RequestDuration measures request latency.
	// Labels: route
	RequestDuration *prometheus.HistogramVec

	// Builds counts rebuild cycles.
	// Labels: result (success, error), upload (true, false)
	Builds *prometheus.CounterVec

	// BuildDuration measures rebuild cycle latency, uploads included.
	BuildDuration prometheus.Histogram

	// Broadcasts counts reload notifications handed to the hub.
	Broadcasts prometheus.Counter

	// Sessions is the number of registered livereload sessions.
	Sessions prometheus.Gauge

	// Bundles counts app.js builds.
	// Labels: result (success, error)
	Bundles *prometheus.CounterVec
}

// NewMetrics registers the collectors, along with the Go and process
// collectors, on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"route"}),
		Builds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "build",
			Name:      "cycles_total",
			Help:      "Rebuild cycles by result",
		}, []string{"result", "upload"}),
		BuildDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "build",
			Name:      "duration_seconds",
			Help:      "Rebuild cycle latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		Broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "livereload",
			Name:      "broadcasts_total",
			Help:      "Reload notifications broadcast to sessions",
		}),
		Sessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "livereload",
			Name:      "sessions",
			Help:      "Registered livereload sessions",
		}),
		Bundles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bundle",
			Name:      "builds_total",
			Help:      "app.js bundle builds by result",
		}, []string{"result"}),
	}
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveBuild records one rebuild cycle.
func (m *Metrics) ObserveBuild(err error, uploaded bool, duration time.Duration) {
	m.Builds.WithLabelValues(result(err), strconv.FormatBool(uploaded)).Inc()
	m.BuildDuration.Observe(duration.Seconds())
}

// ObserveBundle records one app.js build.
func (m *Metrics) ObserveBundle(err error) {
	m.Bundles.WithLabelValues(result(err)).Inc()
}

// Instrument wraps next so requests are counted and timed under route.
func (m *Metrics) Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		m.Requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		m.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// statusRecorder captures the response code. It stays hijackable so the
// websocket upgrade works behind it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	r.status = http.StatusSwitchingProtocols
	return http.NewResponseController(r.ResponseWriter).Hijack()
}
