// Package metrics implements the Recorder port with Prometheus counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ericfisherdev/shelfsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Recorder = (*Recorder)(nil)

const namespace = "shelfsync"

// Recorder counts catalog pages, retries, token refreshes, written rows and
// finished runs. It owns its registry so tests and multiple instances never
// collide on the default one.
type Recorder struct {
	registry *prometheus.Registry

	pages     *prometheus.CounterVec
	retries   *prometheus.CounterVec
	refreshes *prometheus.CounterVec
	rows      prometheus.Counter
	runs      *prometheus.CounterVec
}

// NewRecorder creates a Recorder with Go runtime and process collectors
// registered alongside the service counters.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_pages_total",
			Help:      "Upstream catalog pages fetched, by resource.",
		}, []string{"resource"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retried requests, by target and reason.",
		}, []string{"target", "reason"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Access token refresh attempts, by outcome.",
		}, []string{"outcome"}),
		rows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows written to destination tables.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_runs_total",
			Help:      "Finished export runs, by result kind.",
		}, []string{"kind"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.pages, r.retries, r.refreshes, r.rows, r.runs,
	)
	return r
}

func (r *Recorder) PageFetched(resource string) { r.pages.WithLabelValues(resource).Inc() }

func (r *Recorder) Retried(target, reason string) { r.retries.WithLabelValues(target, reason).Inc() }

func (r *Recorder) TokenRefreshed(outcome string) { r.refreshes.WithLabelValues(outcome).Inc() }

func (r *Recorder) RowsWritten(n int) { r.rows.Add(float64(n)) }

func (r *Recorder) RunFinished(kind string) { r.runs.WithLabelValues(kind).Inc() }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
