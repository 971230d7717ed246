// Package analytic solves the linear least squares problem in closed form.
package analytic

import (
	"context"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/curvefit/internal/errors"
	"github.com/copyleftdev/curvefit/internal/optimization"
	"github.com/copyleftdev/curvefit/internal/optimization/models"
)

// DegenerateTolerance is the bound on |n*sum(x^2) - sum(x)^2| below which
// the x values are treated as having no spread.
const DegenerateTolerance = 1e-10

// Solve returns the ordinary least squares line y = a0 + a1*x through
// samples. When every x is (numerically) the same the slope is undefined;
// Solve then returns a1 = 0, a0 = mean(y) and reports degenerate = true.
func Solve(samples []optimization.Sample) (a0, a1 float64, degenerate bool, err error) {
	if err = optimization.ValidateSamples(samples); err != nil {
		return 0, 0, false, err
	}

	n := float64(len(samples))
	xs := make([]float64, len(samples))
	ys := make([]float64, len(samples))
	for i, p := range samples {
		xs[i] = p.X
		ys[i] = p.Y
	}

	sumX := floats.Sum(xs)
	sumY := floats.Sum(ys)
	sumXY := floats.Dot(xs, ys)
	sumXX := floats.Dot(xs, xs)

	meanY := stat.Mean(ys, nil)

	denom := n*sumXX - sumX*sumX
	if math.Abs(denom) < DegenerateTolerance {
		return meanY, 0, true, nil
	}

	a1 = (n*sumXY - sumX*sumY) / denom
	a0 = meanY - a1*stat.Mean(xs, nil)
	return a0, a1, false, nil
}

// LeastSquares adapts Solve to the optimization.Optimizer interface for
// the linear model.
type LeastSquares struct {
	logger *zap.Logger
}

var _ optimization.Optimizer = (*LeastSquares)(nil)

// NewLeastSquares creates a closed form linear solver. A nil logger
// disables logging.
func NewLeastSquares(logger *zap.Logger) *LeastSquares {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LeastSquares{logger: logger.Named("least_squares")}
}

// Fit implements optimization.Optimizer. initial is ignored; it may be
// nil. The result reports zero iterations and is always converged.
func (s *LeastSquares) Fit(ctx context.Context, samples []optimization.Sample, initial []float64) (*optimization.FitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "least squares fit cancelled").
			WithOperation("LeastSquares.Fit").
			WithComponent("analytic")
	}

	a0, a1, degenerate, err := Solve(samples)
	if err != nil {
		return nil, err
	}

	params := []float64{a0, a1}
	result := &optimization.FitResult{
		Parameters: params,
		FinalCost:  optimization.Cost(models.Linear{}, samples, params),
		Converged:  true,
		Degenerate: degenerate,
	}

	if degenerate {
		s.logger.Warn("Degenerate x spread, using horizontal line through mean(y)",
			zap.Int("samples", len(samples)),
			zap.Float64("a0", a0),
		)
	} else {
		s.logger.Debug("Solved normal equations",
			zap.Int("samples", len(samples)),
			zap.Float64("a0", a0),
			zap.Float64("a1", a1),
			zap.Float64("cost", result.FinalCost),
		)
	}

	return result, nil
}
