// Package metrics exposes Prometheus collectors for fit jobs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/copyleftdev/curvefit/internal/optimization"
)

// Outcome labels for fits_total.
const (
	OutcomeConverged = "converged"
	OutcomeMaxedOut  = "maxed_out"
	OutcomeDiverged  = "diverged"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Metrics groups the service collectors.
type Metrics struct {
	FitsTotal  *prometheus.CounterVec
	Iterations *prometheus.HistogramVec
	Duration   *prometheus.HistogramVec
	ActiveJobs prometheus.Gauge
	FinalCost  *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "curvefit",
			Name:      "fits_total",
			Help:      "Completed fit jobs by model, method and outcome.",
		}, []string{"model", "method", "outcome"}),
		Iterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "curvefit",
			Name:      "fit_iterations",
			Help:      "Iterations used by gradient descent fits.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"model"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "curvefit",
			Name:      "fit_duration_seconds",
			Help:      "Wall time spent fitting.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"model", "method"}),
		ActiveJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "curvefit",
			Name:      "jobs_active",
			Help:      "Fit jobs currently pending or running.",
		}),
		FinalCost: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "curvefit",
			Name:      "last_fit_cost",
			Help:      "Final cost of the most recent successful fit.",
		}, []string{"model", "method"}),
	}

	if reg != nil {
		reg.MustRegister(m.FitsTotal, m.Iterations, m.Duration, m.ActiveJobs, m.FinalCost)
	}
	return m
}

// Outcome classifies a finished fit.
func Outcome(result *optimization.FitResult, err error) string {
	switch {
	case err != nil:
		return OutcomeFailed
	case result.Diverged():
		return OutcomeDiverged
	case result.Converged:
		return OutcomeConverged
	default:
		return OutcomeMaxedOut
	}
}

// ObserveFit records a finished fit.
func (m *Metrics) ObserveFit(model, method string, elapsed time.Duration, result *optimization.FitResult, err error) {
	outcome := Outcome(result, err)
	m.FitsTotal.WithLabelValues(model, method, outcome).Inc()
	m.Duration.WithLabelValues(model, method).Observe(elapsed.Seconds())

	if err != nil {
		return
	}
	if result.IterationsUsed > 0 {
		m.Iterations.WithLabelValues(model).Observe(float64(result.IterationsUsed))
	}
	if outcome != OutcomeDiverged {
		m.FinalCost.WithLabelValues(model, method).Set(result.FinalCost)
	}
}

// ObserveCancelled records a fit stopped by its caller.
func (m *Metrics) ObserveCancelled(model, method string) {
	m.FitsTotal.WithLabelValues(model, method, OutcomeCancelled).Inc()
}
