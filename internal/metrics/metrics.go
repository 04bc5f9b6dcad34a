// Package metrics exposes orgmem's Prometheus counters. Every method is safe
// on a nil *Collector so components can run without instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the metrics for one process. It owns its registry, so
// several collectors can coexist in tests.
type Collector struct {
	registry *prometheus.Registry

	NodesCreated         prometheus.Counter
	NodesDeleted         prometheus.Counter
	EdgesCreated         prometheus.Counter
	RelationshipsSkipped prometheus.Counter
	MirrorFailures       prometheus.Counter
	SalienceDecayed      prometheus.Counter
	Divergences          prometheus.Counter

	Queries       *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewCollector creates and registers every metric under namespace.
func NewCollector(namespace string) *Collector {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}
	c := &Collector{
		registry:             prometheus.NewRegistry(),
		NodesCreated:         counter("nodes_created_total", "Total number of nodes created"),
		NodesDeleted:         counter("nodes_deleted_total", "Total number of nodes deleted"),
		EdgesCreated:         counter("edges_created_total", "Total number of relationships written"),
		RelationshipsSkipped: counter("relationships_skipped_total", "Relationships skipped because an endpoint was missing"),
		MirrorFailures:       counter("mirror_failures_total", "Similarity index writes that failed after the store committed"),
		SalienceDecayed:      counter("salience_decayed_total", "Node salience values lowered by decay"),
		Divergences:          counter("divergences_total", "Store and index divergences found by reconciliation"),
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "queries_total", Help: "Queries executed by strategy",
		}, []string{"strategy"}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "query_duration_seconds", Help: "Query latency by strategy",
			Buckets: prometheus.DefBuckets,
		}, []string{"strategy"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total", Help: "Total number of HTTP requests",
		}, []string{"method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
	c.registry.MustRegister(
		c.NodesCreated, c.NodesDeleted, c.EdgesCreated, c.RelationshipsSkipped,
		c.MirrorFailures, c.SalienceDecayed, c.Divergences,
		c.Queries, c.QueryDuration, c.HTTPRequests, c.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func add(ctr prometheus.Counter, n int) {
	if n > 0 {
		ctr.Add(float64(n))
	}
}

func (c *Collector) NodeCreated(n int) {
	if c != nil {
		add(c.NodesCreated, n)
	}
}

func (c *Collector) NodeDeleted() {
	if c != nil {
		c.NodesDeleted.Inc()
	}
}

func (c *Collector) EdgeCreated(n int) {
	if c != nil {
		add(c.EdgesCreated, n)
	}
}

func (c *Collector) Skipped(n int) {
	if c != nil {
		add(c.RelationshipsSkipped, n)
	}
}

func (c *Collector) MirrorFailed() {
	if c != nil {
		c.MirrorFailures.Inc()
	}
}

func (c *Collector) Decayed(n int) {
	if c != nil {
		add(c.SalienceDecayed, n)
	}
}

func (c *Collector) Diverged(n int) {
	if c != nil {
		add(c.Divergences, n)
	}
}

// ObserveQuery records one executed query.
func (c *Collector) ObserveQuery(strategy string, d time.Duration) {
	if c == nil {
		return
	}
	c.Queries.WithLabelValues(strategy).Inc()
	c.QueryDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

// Middleware counts requests and their latency.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		c.HTTPRequests.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		c.HTTPDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
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

// Flush keeps streaming responses working through the recorder.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
