// Package metrics exposes service counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "tubefetch"

// Metrics is what the HTTP layer reports into.
type Metrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
	IncDownload(format, status string)
	ObserveDownloadDuration(format string, durationSeconds float64)
	IncDeletion(source, outcome string)
	SetPendingDeletions(n int)
	IncCacheLookup(result string)
	Handler() http.Handler
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) ObserveRequest(string, string, string, float64) {}
func (Noop) IncDownload(string, string)                     {}
func (Noop) ObserveDownloadDuration(string, float64)        {}
func (Noop) IncDeletion(string, string)                     {}
func (Noop) SetPendingDeletions(int)                        {}
func (Noop) IncCacheLookup(string)                          {}

func (Noop) Handler() http.Handler {
	return http.NotFoundHandler()
}

// Prom implements Metrics on its own registry so several instances can coexist.
type Prom struct {
	registry *prometheus.Registry

	requests         *prometheus.CounterVec
	latency          *prometheus.HistogramVec
	downloads        *prometheus.CounterVec
	downloadDuration *prometheus.HistogramVec
	deletions        *prometheus.CounterVec
	pending          prometheus.Gauge
	cacheLookups     *prometheus.CounterVec
}

func NewProm(namespace string) *Prom {
	if namespace == "" {
		namespace = Namespace
	}
	p := &Prom{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Downloads by format and status",
		}, []string{"format", "status"}),
		downloadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Time spent in the extraction engine by format",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"format"}),
		deletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_deletions_total",
			Help:      "Artifact deletions by source and outcome",
		}, []string{"source", "outcome"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_deletions",
			Help:      "Scheduled deletions not yet carried out",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_cache_lookups_total",
			Help:      "Metadata cache lookups by result",
		}, []string{"result"}),
	}

	p.registry.MustRegister(
		p.requests, p.latency,
		p.downloads, p.downloadDuration,
		p.deletions, p.pending,
		p.cacheLookups,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// Registry returns the registry the collectors are registered on.
func (p *Prom) Registry() *prometheus.Registry { return p.registry }

func (p *Prom) ObserveRequest(method, route, status string, durationSeconds float64) {
	p.requests.WithLabelValues(method, route, status).Inc()
	p.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

func (p *Prom) IncDownload(format, status string) {
	p.downloads.WithLabelValues(format, status).Inc()
}

func (p *Prom) ObserveDownloadDuration(format string, durationSeconds float64) {
	p.downloadDuration.WithLabelValues(format).Observe(durationSeconds)
}

func (p *Prom) IncDeletion(source, outcome string) {
	p.deletions.WithLabelValues(source, outcome).Inc()
}

func (p *Prom) SetPendingDeletions(n int) {
	p.pending.Set(float64(n))
}

func (p *Prom) IncCacheLookup(result string) {
	p.cacheLookups.WithLabelValues(result).Inc()
}

// Handler returns an HTTP handler for /metrics.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
