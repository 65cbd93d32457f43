package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shorebase/shorebase/models"
)

var (
	// RunsTotal counts provisioning runs by mode and final status.
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shorebase_runs_total",
			Help: "Total number of provisioning runs",
		},
		[]string{"mode", "status"},
	)

	// RunDuration measures end-to-end run duration in seconds.
	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "shorebase_run_duration_seconds",
			Help: "Provisioning run duration in seconds",
			// Runs range from seconds (no-op verify) to minutes (full apply)
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"mode"},
	)

	// StepsTotal counts individual step outcomes by stage and status.
	StepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shorebase_steps_total",
			Help: "Total number of provisioning step outcomes",
		},
		[]string{"stage", "status"},
	)

	// LastRunChanged reports whether the most recent run modified the host.
	LastRunChanged = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shorebase_last_run_changed",
			Help: "Whether the most recent run changed the host (1) or found it converged (0)",
		},
		[]string{"mode"},
	)
)

// registerRunMetrics registers all run-level metrics.
func registerRunMetrics() error {
	metrics := []prometheus.Collector{
		RunsTotal,
		RunDuration,
		StepsTotal,
		LastRunChanged,
	}

	for _, metric := range metrics {
		if err := Registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

// ObserveRun records counters and histograms for a completed run report.
func ObserveRun(report *models.RunReport) {
	RunsTotal.WithLabelValues(report.Mode, string(report.Status)).Inc()

	if report.CompletedAt != nil {
		RunDuration.WithLabelValues(report.Mode).
			Observe(report.CompletedAt.Sub(report.StartedAt).Seconds())
	}

	for _, stage := range report.Stages {
		for _, step := range stage.Steps {
			StepsTotal.WithLabelValues(stage.Name, string(step.Status)).Inc()
		}
	}

	changed := 0.0
	if report.Changed() {
		changed = 1.0
	}
	LastRunChanged.WithLabelValues(report.Mode).Set(changed)
}
