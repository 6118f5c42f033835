// Package observability holds the Prometheus collectors and OpenTelemetry
// tracing helpers shared by the web and API runners.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qapilot",
			Subsystem: "run",
			Name:      "total",
			Help:      "Runs by kind and result (completed or fatal).",
		},
		[]string{"kind", "result"},
	)

	CasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qapilot",
			Subsystem: "case",
			Name:      "total",
			Help:      "Test cases by kind and result (passed or failed).",
		},
		[]string{"kind", "result"},
	)

	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qapilot",
			Subsystem: "step",
			Name:      "total",
			Help:      "Executed steps by action kind and result.",
		},
		[]string{"action", "result"},
	)

	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "qapilot",
			Subsystem: "step",
			Name:      "duration_seconds",
			Help:      "Step execution time in seconds, including the screenshot.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		[]string{"action"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "qapilot",
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Wall time of a full run in seconds.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"kind"},
	)
)

// RecordRun counts a finished run.
func RecordRun(kind string, fatal bool, elapsed time.Duration) {
	result := "completed"
	if fatal {
		result = "fatal"
	}
	RunsTotal.WithLabelValues(kind, result).Inc()
	RunDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// RecordCase counts a finished test case.
func RecordCase(kind string, passed bool) {
	CasesTotal.WithLabelValues(kind, passedLabel(passed)).Inc()
}

// RecordStep counts one executed step.
func RecordStep(action string, ok bool, elapsed time.Duration) {
	StepsTotal.WithLabelValues(action, passedLabel(ok)).Inc()
	StepDuration.WithLabelValues(action).Observe(elapsed.Seconds())
}

func passedLabel(ok bool) string {
	if ok {
		return "passed"
	}
	return "failed"
}
