package gradient

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/copyleftdev/curvefit/internal/errors"
	"github.com/copyleftdev/curvefit/internal/optimization"
	"github.com/copyleftdev/curvefit/internal/optimization/analytic"
	"github.com/copyleftdev/curvefit/internal/optimization/models"
	"github.com/copyleftdev/curvefit/internal/optimization/optimtest"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		model   optimization.Model
		hp      optimization.Hyperparameters
		wantErr bool
	}{
		{
			name:  "valid configuration",
			model: models.Linear{},
			hp:    optimization.Hyperparameters{LearningRate: 0.01, MaxIterations: 100, ConvergenceThreshold: 1e-4},
		},
		{
			name:    "no model",
			hp:      optimization.Hyperparameters{LearningRate: 0.01, MaxIterations: 100},
			wantErr: true,
		},
		{
			name:    "non-positive learning rate",
			model:   models.Linear{},
			hp:      optimization.Hyperparameters{LearningRate: 0, MaxIterations: 100},
			wantErr: true,
		},
		{
			name:    "non-positive iteration cap",
			model:   models.Exponential{},
			hp:      optimization.Hyperparameters{LearningRate: 0.01, MaxIterations: -1},
			wantErr: true,
		},
		{
			name:    "negative threshold",
			model:   models.Exponential{},
			hp:      optimization.Hyperparameters{LearningRate: 0.01, MaxIterations: 10, ConvergenceThreshold: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.model, tt.hp)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsKind(err, errors.KindConfig), "want ConfigError, got %v", err)
				assert.Nil(t, d)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, d)
			assert.Equal(t, tt.hp, d.Hyperparameters())
			assert.Equal(t, DefaultProgressInterval, d.progressInterval)
			assert.NotNil(t, d.logger)
		})
	}
}

func TestFitRejectsBadInput(t *testing.T) {
	d, err := New(models.Linear{}, optimization.Hyperparameters{LearningRate: 0.01, MaxIterations: 10})
	require.NoError(t, err)

	_, err = d.Fit(context.Background(), nil, []float64{0, 0})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInput))

	_, err = d.Fit(context.Background(), optimtest.Line(0, 1, 1, 2), []float64{0})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInput))

	_, err = d.Fit(context.Background(), []optimization.Sample{{X: math.NaN(), Y: 1}}, []float64{0, 0})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindInput))
}

func TestFitExactLine(t *testing.T) {
	samples := []optimization.Sample{{X: 1, Y: 2}, {X: 2, Y: 4}, {X: 3, Y: 6}, {X: 4, Y: 8}}
	d, err := New(models.Linear{}, optimization.Hyperparameters{
		LearningRate:         0.01,
		MaxIterations:        5000,
		ConvergenceThreshold: 1e-5,
	})
	require.NoError(t, err)

	result, err := d.Fit(context.Background(), samples, []float64{0, 0})
	require.NoError(t, err)

	assert.True(t, result.Converged)
	assert.Less(t, result.IterationsUsed, 5000)
	assert.Greater(t, result.IterationsUsed, 0)
	optimtest.AssertFloat64SlicesEqual(t, result.Parameters, []float64{0, 2}, 1e-2)
	assert.InDelta(t, 0.0, result.FinalCost, 1e-4)

	a0, a1, degenerate, err := analytic.Solve(samples)
	require.NoError(t, err)
	assert.False(t, degenerate)
	optimtest.AssertFloat64SlicesEqual(t, result.Parameters, []float64{a0, a1}, 1e-2)
}

func TestFitRecoversNoiselessLine(t *testing.T) {
	samples := optimtest.Line(1, 2, optimtest.Range(-5, 5)...)
	d, err := New(models.Linear{}, optimization.Hyperparameters{
		LearningRate:         0.01,
		MaxIterations:        10000,
		ConvergenceThreshold: 1e-4,
	})
	require.NoError(t, err)

	result, err := d.Fit(context.Background(), samples, []float64{0, 0})
	require.NoError(t, err)

	assert.True(t, result.Converged)
	optimtest.AssertFloat64SlicesEqual(t, result.Parameters, []float64{1, 2}, 1e-2)
}

func TestFitExponential(t *testing.T) {
	samples := optimtest.Exp(2.0, 0.3, optimtest.Range(0, 5)...)
	initial := []float64{1.0, 0.1}

	t.Run("threshold 1e-4 converges", func(t *testing.T) {
		d, err := New(models.Exponential{}, optimization.Hyperparameters{
			LearningRate:         0.001,
			MaxIterations:        200000,
			ConvergenceThreshold: 1e-4,
		})
		require.NoError(t, err)

		result, err := d.Fit(context.Background(), samples, initial)
		require.NoError(t, err)

		assert.True(t, result.Converged)
		assert.Less(t, result.IterationsUsed, 200000)
		assert.Less(t, result.FinalCost, optimization.Cost(models.Exponential{}, samples, initial))
		// A step-size stop at 1e-4 lands within 10% here.
		optimtest.AssertWithinRelative(t, result.Parameters, []float64{2.0, 0.3}, 0.10)
	})

	t.Run("threshold 1e-5 within five percent", func(t *testing.T) {
		d, err := New(models.Exponential{}, optimization.Hyperparameters{
			LearningRate:         0.001,
			MaxIterations:        200000,
			ConvergenceThreshold: 1e-5,
		})
		require.NoError(t, err)

		result, err := d.Fit(context.Background(), samples, initial)
		require.NoError(t, err)

		assert.True(t, result.Converged)
		optimtest.AssertWithinRelative(t, result.Parameters, []float64{2.0, 0.3}, 0.05)
	})
}

func TestFitIterationCap(t *testing.T) {
	samples := optimtest.Line(3, -1, optimtest.Range(0, 9)...)
	d, err := New(models.Linear{}, optimization.Hyperparameters{
		LearningRate:         0.001,
		MaxIterations:        25,
		ConvergenceThreshold: 1e-12,
	})
	require.NoError(t, err)

	result, err := d.Fit(context.Background(), samples, []float64{0, 0})
	require.NoError(t, err)

	assert.False(t, result.Converged)
	assert.Equal(t, 25, result.IterationsUsed)
	assert.False(t, result.Diverged())
}

func TestFitZeroThresholdNeverConverges(t *testing.T) {
	samples := optimtest.Line(0, 1, 0, 1)
	d, err := New(models.Linear{}, optimization.Hyperparameters{LearningRate: 0.1, MaxIterations: 50})
	require.NoError(t, err)

	// Starting on the optimum gives a zero step, which is not < 0.
	result, err := d.Fit(context.Background(), samples, []float64{0, 1})
	require.NoError(t, err)

	assert.False(t, result.Converged)
	assert.Equal(t, 50, result.IterationsUsed)
	assert.Equal(t, []float64{0, 1}, result.Parameters)
}

func TestFitConvergesOnFirstStep(t *testing.T) {
	samples := optimtest.Line(0, 1, 0, 1, 2)
	d, err := New(models.Linear{}, optimization.Hyperparameters{LearningRate: 0.1, MaxIterations: 50, ConvergenceThreshold: 1e-9})
	require.NoError(t, err)

	result, err := d.Fit(context.Background(), samples, []float64{0, 1})
	require.NoError(t, err)

	assert.True(t, result.Converged)
	assert.Equal(t, 1, result.IterationsUsed)
	assert.Equal(t, 0.0, result.FinalCost)
}

func TestFitDivergencePropagates(t *testing.T) {
	samples := optimtest.Line(1, 2, optimtest.Range(0, 20)...)
	d, err := New(models.Linear{}, optimization.Hyperparameters{
		LearningRate:         1.0,
		MaxIterations:        2000,
		ConvergenceThreshold: 1e-6,
	})
	require.NoError(t, err)

	result, err := d.Fit(context.Background(), samples, []float64{0, 0})
	require.NoError(t, err)

	assert.False(t, result.Converged)
	assert.Equal(t, 2000, result.IterationsUsed)
	assert.True(t, result.Diverged())
}

func TestFitDoesNotMutateInputs(t *testing.T) {
	samples := optimtest.Line(1, 1, 0, 1, 2)
	samplesCopy := append([]optimization.Sample(nil), samples...)
	initial := []float64{0, 0}

	d, err := New(models.Linear{}, optimization.Hyperparameters{LearningRate: 0.1, MaxIterations: 100, ConvergenceThreshold: 1e-6})
	require.NoError(t, err)

	result, err := d.Fit(context.Background(), samples, initial)
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 0}, initial)
	assert.Equal(t, samplesCopy, samples)
	result.Parameters[0] = 100
	assert.Equal(t, []float64{0, 0}, initial)
}

func TestFitMonotonicDescent(t *testing.T) {
	samples := optimtest.Line(0.5, 1.5, optimtest.Range(-3, 3)...)

	var costs []float64
	d, err := New(models.Linear{}, optimization.Hyperparameters{
		LearningRate:         0.001,
		MaxIterations:        20,
		ConvergenceThreshold: 1e-12,
	},
		WithProgressInterval(1),
		WithObserver(func(e optimization.Evaluation) {
			costs = append(costs, e.Solution.Cost)
		}),
	)
	require.NoError(t, err)

	result, err := d.Fit(context.Background(), samples, []float64{0, 0})
	require.NoError(t, err)

	require.Len(t, costs, 20)
	require.Len(t, result.History, 20)
	for k := 1; k < len(costs); k++ {
		assert.LessOrEqual(t, costs[k], costs[k-1], "cost increased at iteration %d", k)
	}
	for k, e := range result.History {
		assert.Equal(t, k, e.Iteration)
	}
}

func TestFitProgressIntervalDoesNotAffectResult(t *testing.T) {
	samples := optimtest.Exp(1.5, 0.2, optimtest.Range(0, 4)...)
	hp := optimization.Hyperparameters{LearningRate: 0.001, MaxIterations: 50000, ConvergenceThreshold: 1e-5}

	var results []*optimization.FitResult
	for _, every := range []int{0, 1, 7, 1000} {
		d, err := New(models.Exponential{}, hp, WithProgressInterval(every))
		require.NoError(t, err)
		result, err := d.Fit(context.Background(), samples, []float64{1, 0.1})
		require.NoError(t, err)
		results = append(results, result)
	}

	assert.Empty(t, results[0].History)
	for _, r := range results[1:] {
		assert.Equal(t, results[0].Parameters, r.Parameters)
		assert.Equal(t, results[0].IterationsUsed, r.IterationsUsed)
		assert.Equal(t, results[0].Converged, r.Converged)
	}
}

func TestFitCancelled(t *testing.T) {
	samples := optimtest.Line(1, 1, 0, 1, 2)
	d, err := New(models.Linear{}, optimization.Hyperparameters{LearningRate: 0.001, MaxIterations: 100000, ConvergenceThreshold: 1e-12}, WithProgressInterval(10))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := d.Fit(ctx, samples, []float64{0, 0})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestFitCancelledWithoutSnapshots(t *testing.T) {
	samples := optimtest.Line(1, 1, 0, 1, 2)
	hp := optimization.Hyperparameters{LearningRate: 0.001, MaxIterations: 1 << 40, ConvergenceThreshold: 0}

	t.Run("before start", func(t *testing.T) {
		d, err := New(models.Linear{}, hp, WithProgressInterval(0))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err = d.Fit(ctx, samples, []float64{0, 0})
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))

		var e *errors.Error
		require.True(t, errors.As(err, &e))
		assert.Equal(t, "gradient", e.Component)
	})

	t.Run("while running", func(t *testing.T) {
		d, err := New(models.Linear{}, hp, WithProgressInterval(0))
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			_, err := d.Fit(ctx, samples, []float64{0, 0})
			done <- err
		}()

		select {
		case err := <-done:
			assert.True(t, errors.Is(err, context.DeadlineExceeded))
		case <-time.After(10 * time.Second):
			t.Fatal("fit did not stop after its context expired")
		}
	})
}

func TestFitHistoryBounded(t *testing.T) {
	samples := optimtest.Line(1, 1, 0, 1, 2)
	hp := optimization.Hyperparameters{LearningRate: 0.001, MaxIterations: 50, ConvergenceThreshold: 0}

	var observed int
	d, err := New(models.Linear{}, hp,
		WithProgressInterval(1),
		WithHistoryLimit(5),
		WithObserver(func(optimization.Evaluation) { observed++ }),
	)
	require.NoError(t, err)

	result, err := d.Fit(context.Background(), samples, []float64{0, 0})
	require.NoError(t, err)

	assert.Equal(t, 50, observed, "observer sees every snapshot")
	require.Len(t, result.History, 5)
	for k, e := range result.History {
		assert.Equal(t, 45+k, e.Iteration)
	}

	hp.MaxIterations = 5000
	d, err = New(models.Linear{}, hp, WithProgressInterval(1), WithHistoryLimit(0))
	require.NoError(t, err)

	result, err = d.Fit(context.Background(), samples, []float64{0, 0})
	require.NoError(t, err)
	require.Len(t, result.History, DefaultHistoryLimit)
	assert.Equal(t, 4999, result.History[DefaultHistoryLimit-1].Iteration)
}

func TestFitLogsProgress(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	samples := optimtest.Line(1, 1, 0, 1, 2)

	d, err := New(models.Linear{}, optimization.Hyperparameters{LearningRate: 0.01, MaxIterations: 30, ConvergenceThreshold: 1e-12},
		WithLogger(zap.New(core)),
		WithProgressInterval(10),
	)
	require.NoError(t, err)

	_, err = d.Fit(context.Background(), samples, []float64{0, 0})
	require.NoError(t, err)

	assert.Equal(t, 3, logs.FilterMessage("Gradient descent progress").Len())
	assert.Equal(t, 1, logs.FilterMessage("Gradient descent reached iteration cap").Len())
	for _, entry := range logs.FilterMessage("Gradient descent progress").All() {
		assert.Equal(t, "gradient_descent", entry.LoggerName)
		assert.Contains(t, entry.ContextMap(), "cost")
	}
}

func TestConcurrentFits(t *testing.T) {
	d, err := New(models.Linear{}, optimization.Hyperparameters{LearningRate: 0.01, MaxIterations: 10000, ConvergenceThreshold: 1e-6})
	require.NoError(t, err)

	want := [][]float64{{1, 2}, {-3, 0.5}, {0, -1}, {4, 4}}
	got := make([]*optimization.FitResult, len(want))
	done := make(chan int)
	for i := range want {
		go func(i int) {
			defer func() { done <- i }()
			got[i], _ = d.Fit(context.Background(), optimtest.Line(want[i][0], want[i][1], optimtest.Range(-2, 2)...), []float64{0, 0})
		}(i)
	}
	for range want {
		<-done
	}

	for i := range want {
		require.NotNil(t, got[i])
		optimtest.AssertFloat64SlicesEqual(t, got[i].Parameters, want[i], 1e-3)
	}
}
