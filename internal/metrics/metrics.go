package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels completed pipeline runs.
	OutcomeSuccess = "success"
	// OutcomeError labels runs rejected or aborted before completion.
	OutcomeError = "error"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "portfolio_engine",
			Name:      "runs_total",
			Help:      "Total number of prioritization runs handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	runDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "portfolio_engine",
			Name:      "run_seconds",
			Help:      "End-to-end prioritization run latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
	)

	stageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "portfolio_engine",
			Name:      "stage_seconds",
			Help:      "Per-stage pipeline latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"stage"},
	)

	oracleRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "portfolio_engine",
			Name:      "oracle_requests_total",
			Help:      "Classification oracle calls, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	patternsAppliedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "portfolio_engine",
			Name:      "patterns_applied_total",
			Help:      "Learned pattern adjustments applied to priority scores.",
		},
	)
)

// Register attaches portfolio-engine collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		runsTotal,
		runDurationSeconds,
		stageDurationSeconds,
		oracleRequestsTotal,
		patternsAppliedTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRun records a run duration and outcome label.
func ObserveRun(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	runsTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	runDurationSeconds.Observe(duration.Seconds())
}

// ObserveStage records a single pipeline stage duration.
func ObserveStage(stage string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveOracle records one classification oracle call.
func ObserveOracle(outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	oracleRequestsTotal.WithLabelValues(label).Inc()
}

// AddPatternsApplied records learned adjustments applied during a run.
func AddPatternsApplied(n int) {
	if n > 0 {
		patternsAppliedTotal.Add(float64(n))
	}
}
