package metrics

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/curvefit/internal/optimization"
)

func TestOutcome(t *testing.T) {
	assert.Equal(t, OutcomeFailed, Outcome(nil, errors.New("boom")))
	assert.Equal(t, OutcomeConverged, Outcome(&optimization.FitResult{Parameters: []float64{1}, Converged: true}, nil))
	assert.Equal(t, OutcomeMaxedOut, Outcome(&optimization.FitResult{Parameters: []float64{1}}, nil))
	assert.Equal(t, OutcomeDiverged, Outcome(&optimization.FitResult{Parameters: []float64{math.NaN()}}, nil))
}

func TestObserveFit(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveFit("linear", "gradient", 10*time.Millisecond, &optimization.FitResult{
		Parameters:     []float64{0, 2},
		FinalCost:      0.5,
		IterationsUsed: 300,
		Converged:      true,
	}, nil)
	m.ObserveFit("linear", "gradient", time.Millisecond, nil, errors.New("bad input"))
	m.ObserveCancelled("exponential", "gradient")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FitsTotal.WithLabelValues("linear", "gradient", OutcomeConverged)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FitsTotal.WithLabelValues("linear", "gradient", OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FitsTotal.WithLabelValues("exponential", "gradient", OutcomeCancelled)))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.FinalCost.WithLabelValues("linear", "gradient")))

	count, err := testutil.GatherAndCount(reg, "curvefit_fit_iterations")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNewWithoutRegistry(t *testing.T) {
	m := New(nil)
	m.ActiveJobs.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveJobs))
}
