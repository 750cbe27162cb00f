package reposync

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records run statistics on a dedicated registry. A nil *Metrics
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	repositories *prometheus.CounterVec
	files        *prometheus.CounterVec
	forkWait     prometheus.Histogram
	runDuration  prometheus.Gauge
}

// NewMetrics creates the run metrics on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		repositories: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reposync_repositories_total",
			Help: "Repositories processed by outcome.",
		}, []string{"outcome"}),
		files: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reposync_files_total",
			Help: "File rules classified by decision.",
		}, []string{"decision"}),
		forkWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "reposync_fork_wait_seconds",
			Help:    "Time spent waiting for newly created forks to become ready.",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
		}),
		runDuration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reposync_run_duration_seconds",
			Help: "Duration of the last run.",
		}),
	}
}

// Registry returns the registry holding the run metrics
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveResult records one repository result
func (m *Metrics) ObserveResult(res RepoSyncResult) {
	if m == nil {
		return
	}
	m.repositories.WithLabelValues(string(res.Outcome.Status)).Inc()
	for _, d := range res.Decisions {
		m.files.WithLabelValues(d.Kind.String()).Inc()
	}
	if n := len(res.UpToDate); n > 0 {
		m.files.WithLabelValues(DecisionUpToDate.String()).Add(float64(n))
	}
	if res.Fork != nil && res.Fork.Created {
		m.forkWait.Observe(res.Fork.Waited.Seconds())
	}
}

// ObserveRun records the run duration
func (m *Metrics) ObserveRun(d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Set(d.Seconds())
}

// WriteFile writes the metrics in text exposition format, for the
// node-exporter textfile collector.
func (m *Metrics) WriteFile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
