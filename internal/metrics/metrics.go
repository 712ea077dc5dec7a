// Package metrics exposes batch progress as Prometheus metrics. Batches
// run for hours, so an optional scrape endpoint is the practical way to
// watch one without tailing logs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the batch metrics. It registers against an explicit
// registry so tests can use isolated registries.
type Recorder struct {
	jobsTotal   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
}

// NewRecorder creates and registers the batch metrics on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chkforge_jobs_total",
				Help: "Checkpoint jobs by terminal status.",
			},
			[]string{"status"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chkforge_job_duration_seconds",
				Help:    "Wall-clock duration of checkpoint jobs.",
				Buckets: prometheus.ExponentialBuckets(30, 2, 8),
			},
			[]string{"status"},
		),
	}

	reg.MustRegister(r.jobsTotal, r.jobDuration)
	return r
}

// ObserveJob records one terminal job outcome.
func (r *Recorder) ObserveJob(status string, duration time.Duration) {
	r.jobsTotal.WithLabelValues(status).Inc()
	r.jobDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// Server returns an HTTP server exposing reg on /metrics at bind.
func Server(bind string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &http.Server{
		Addr:    bind,
		Handler: mux,
	}
}
