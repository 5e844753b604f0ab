package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

// DefaultBuckets are default histogram buckets in seconds
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

// Recorder holds the process metrics on its own registry. It is created once
// at startup and passed to every transport; all methods are safe for
// concurrent use.
type Recorder struct {
	registry *prometheus.Registry

	requests       prometheus.Counter
	errors         prometheus.Counter
	csrfErrors     prometheus.Counter
	validateErrors prometheus.Counter
	latency        prometheus.Histogram
	inFlight       prometheus.Gauge
	postgresReady  prometheus.Gauge
	responses      *prometheus.CounterVec

	handler http.Handler
}

// NewRecorder creates a recorder whose metric names are prefixed with
// namespace when it is not empty.
func NewRecorder(namespace string) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_request_counter_total",
			Help:      "Total number of API requests received.",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_error_counter_total",
			Help:      "Total number of API requests that did not complete successfully.",
		}),
		csrfErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "csrf_error_counter_total",
			Help:      "Total number of requests that failed the CSRF check.",
		}),
		validateErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validate_error_counter_total",
			Help:      "Total number of requests rejected by input validation.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_latency_seconds",
			Help:      "API request latency in seconds.",
			Buckets:   DefaultBuckets,
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "api_requests_in_flight",
			Help:      "API requests currently being served.",
		}),
		postgresReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "postgres_ready_bit",
			Help:      "1 when the last readiness probe reached the store, else 0.",
		}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_response_counter_total",
			Help:      "API responses by transport and status code.",
		}, []string{"transport", "code"}),
	}

	r.registry.MustRegister(
		r.requests,
		r.errors,
		r.csrfErrors,
		r.validateErrors,
		r.latency,
		r.inFlight,
		r.postgresReady,
		r.responses,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r.handler = promhttp.InstrumentMetricHandler(r.registry, http.HandlerFunc(r.serveExport))
	return r
}

// Begin counts a new request and returns its start time.
func (r *Recorder) Begin() time.Time {
	r.requests.Inc()
	r.inFlight.Inc()
	return time.Now()
}

// End records the latency of a request started with Begin and counts it as
// an error when success is false.
func (r *Recorder) End(start time.Time, success bool) {
	r.inFlight.Dec()
	r.latency.Observe(time.Since(start).Seconds())
	if !success {
		r.errors.Inc()
	}
}

// ObserveResponse counts a response status per transport, e.g. ("http", "404")
// or ("grpc", "PermissionDenied").
func (r *Recorder) ObserveResponse(transport, code string) {
	r.responses.WithLabelValues(transport, code).Inc()
}

// CSRFFailure counts a request that failed the double-submit check.
func (r *Recorder) CSRFFailure() {
	r.csrfErrors.Inc()
}

// ValidationError counts a request rejected by input validation.
func (r *Recorder) ValidationError() {
	r.validateErrors.Inc()
}

// SetReady records the outcome of the last readiness probe.
func (r *Recorder) SetReady(ready bool) {
	if ready {
		r.postgresReady.Set(1)
		return
	}
	r.postgresReady.Set(0)
}

// Register adds an extra collector, ignoring duplicates.
func (r *Recorder) Register(c prometheus.Collector) error {
	if err := r.registry.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

// Registry exposes the underlying registry for tests and extra exporters.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Export serialises every metric in the Prometheus text exposition format and
// returns its content type with the payload.
func (r *Recorder) Export() (string, []byte, error) {
	families, err := r.registry.Gather()
	if err != nil {
		return "", nil, fmt.Errorf("gather metrics: %w", err)
	}

	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, format)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return "", nil, fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return string(format), buf.Bytes(), nil
}

// Handler serves Export over HTTP.
func (r *Recorder) Handler() http.Handler {
	return r.handler
}

func (r *Recorder) serveExport(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	contentType, payload, err := r.Export()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if req.Method == http.MethodGet {
		w.Write(payload)
	}
}
