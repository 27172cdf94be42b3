// Package metrics exports per-invocation build statistics in the
// Prometheus text format, for node_exporter's textfile collector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/flarebyte/fabrik/internal/scheduler"
)

// Collector holds the metrics for one invocation on a private registry.
type Collector struct {
	reg *prometheus.Registry

	commands    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess prometheus.Gauge
	inFlight    prometheus.Gauge
	finished    prometheus.Gauge
}

// New registers the fabrik metrics on a fresh registry.
func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fabrik",
				Name:      "commands_total",
				Help:      "Commands by terminal status.",
			},
			[]string{"status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fabrik",
				Name:      "command_duration_seconds",
				Help:      "Wall time of executed commands.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"phase"},
		),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fabrik",
			Name:      "build_success",
			Help:      "1 if the last build succeeded, 0 otherwise.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fabrik",
			Name:      "build_max_in_flight",
			Help:      "Highest number of commands running at once.",
		}),
		finished: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fabrik",
			Name:      "build_finished_timestamp_seconds",
			Help:      "Unix time the build finished.",
		}),
	}
	c.reg.MustRegister(c.commands, c.duration, c.lastSuccess, c.inFlight, c.finished)
	return c
}

// Registry exposes the underlying registry, mostly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Observe folds a report into the metrics.
func (c *Collector) Observe(r *scheduler.Report) {
	if r == nil {
		return
	}
	for _, s := range []scheduler.Status{scheduler.StatusSkipped, scheduler.StatusSucceeded, scheduler.StatusFailed, scheduler.StatusNotRun, scheduler.StatusCanceled} {
		c.commands.WithLabelValues(string(s)).Add(0)
	}
	for _, cr := range r.Commands {
		c.commands.WithLabelValues(string(cr.Status)).Inc()
		if cr.Status == scheduler.StatusSucceeded || cr.Status == scheduler.StatusFailed {
			c.duration.WithLabelValues(cr.PhaseName).Observe(cr.Duration.Seconds())
		}
	}
	if r.Success {
		c.lastSuccess.Set(1)
	} else {
		c.lastSuccess.Set(0)
	}
	c.inFlight.Set(float64(r.MaxInFlight))
	if !r.Finished.IsZero() {
		c.finished.Set(float64(r.Finished.Unix()))
	}
}

// WriteFile writes the metrics atomically to path.
func (c *Collector) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, c.reg)
}
