// Package gradient implements fixed-step gradient descent over any
// optimization.Model.
package gradient

import (
	"context"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/curvefit/internal/errors"
	"github.com/copyleftdev/curvefit/internal/optimization"
)

// DefaultProgressInterval is the number of iterations between diagnostic
// snapshots.
const DefaultProgressInterval = 1000

// DefaultHistoryLimit is the number of most recent snapshots kept in a
// FitResult.
const DefaultHistoryLimit = 100

// cancelCheckInterval bounds how many iterations run between context checks
// when snapshots are sparse or disabled.
const cancelCheckInterval = 1024

const component = "gradient"

// Descent fits a model by repeatedly stepping against its gradient with a
// fixed learning rate. It stops when every component of a parameter
// update is smaller than the convergence threshold, or when the iteration
// cap is reached.
//
// A Descent holds no per-fit state and may be used by several goroutines.
type Descent struct {
	model            optimization.Model
	hp               optimization.Hyperparameters
	progressInterval int
	historyLimit     int
	observer         func(optimization.Evaluation)
	logger           *zap.Logger
}

var _ optimization.Optimizer = (*Descent)(nil)

// Option configures a Descent.
type Option func(*Descent)

// WithLogger sets the logger used for progress diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Descent) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithProgressInterval sets how often a diagnostic snapshot is taken.
// Zero or a negative value disables snapshots.
func WithProgressInterval(every int) Option {
	return func(d *Descent) {
		d.progressInterval = every
	}
}

// WithHistoryLimit sets how many of the most recent snapshots a FitResult
// keeps. Values below one keep the default.
func WithHistoryLimit(n int) Option {
	return func(d *Descent) {
		if n > 0 {
			d.historyLimit = n
		}
	}
}

// WithObserver registers fn to receive every diagnostic snapshot.
func WithObserver(fn func(optimization.Evaluation)) Option {
	return func(d *Descent) {
		d.observer = fn
	}
}

// New creates a gradient descent optimizer for model.
func New(model optimization.Model, hp optimization.Hyperparameters, opts ...Option) (*Descent, error) {
	if model == nil {
		return nil, errors.E(errors.KindConfig, "gradient.New", "model is required").WithComponent(component)
	}
	if err := hp.Validate(); err != nil {
		return nil, err
	}

	d := &Descent{
		model:            model,
		hp:               hp,
		progressInterval: DefaultProgressInterval,
		historyLimit:     DefaultHistoryLimit,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("gradient_descent").With(zap.String("model", model.Name()))

	return d, nil
}

// Hyperparameters returns the settings the optimizer runs with.
func (d *Descent) Hyperparameters() optimization.Hyperparameters {
	return d.hp
}

// Fit runs gradient descent from initial. Divergence is not detected: a
// learning rate that is too large yields non-finite parameters in the
// result. ctx is checked at every diagnostic snapshot and at least every
// 1024 iterations.
func (d *Descent) Fit(ctx context.Context, samples []optimization.Sample, initial []float64) (*optimization.FitResult, error) {
	const op = "Descent.Fit"

	if err := optimization.ValidateSamples(samples); err != nil {
		return nil, err
	}
	if err := optimization.ValidateParams(d.model, initial); err != nil {
		return nil, err
	}

	d.logger.Debug("Starting gradient descent",
		zap.Int("samples", len(samples)),
		zap.Float64s("initial", initial),
		zap.Float64("learning_rate", d.hp.LearningRate),
		zap.Int("max_iterations", d.hp.MaxIterations),
		zap.Float64("convergence_threshold", d.hp.ConvergenceThreshold),
	)

	params := append([]float64(nil), initial...)
	grad := make([]float64, len(params))
	candidate := make([]float64, len(params))
	delta := make([]float64, len(params))

	var history []optimization.Evaluation
	if d.progressInterval > 0 {
		history = make([]optimization.Evaluation, 0, min(d.hp.MaxIterations/d.progressInterval+1, d.historyLimit))
	}

	for iter := 0; iter < d.hp.MaxIterations; iter++ {
		grad = d.model.Gradient(samples, params, grad)

		copy(candidate, params)
		floats.AddScaled(candidate, -d.hp.LearningRate, grad)
		floats.SubTo(delta, candidate, params)
		copy(params, candidate)

		// Max norm; NaN propagates so a diverged step never counts.
		if floats.Norm(delta, math.Inf(1)) < d.hp.ConvergenceThreshold {
			result := d.result(samples, params, iter+1, true, history)
			d.logger.Debug("Gradient descent converged",
				zap.Int("iterations", result.IterationsUsed),
				zap.Float64s("parameters", result.Parameters),
				zap.Float64("cost", result.FinalCost),
			)
			return result, nil
		}

		snap := d.progressInterval > 0 && iter%d.progressInterval == 0
		if snap {
			history = appendBounded(history, d.snapshot(samples, params, iter), d.historyLimit)
		}
		if snap || iter%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, errors.Wrapf(err, "gradient descent stopped at iteration %d", iter).
					WithOperation(op).
					WithComponent(component)
			}
		}
	}

	result := d.result(samples, params, d.hp.MaxIterations, false, history)
	d.logger.Warn("Gradient descent reached iteration cap",
		zap.Int("max_iterations", d.hp.MaxIterations),
		zap.Float64s("parameters", result.Parameters),
		zap.Float64("cost", result.FinalCost),
	)
	return result, nil
}

// appendBounded appends eval, dropping the oldest entry once limit is reached.
func appendBounded(history []optimization.Evaluation, eval optimization.Evaluation, limit int) []optimization.Evaluation {
	if len(history) >= limit {
		copy(history, history[len(history)-limit+1:])
		history = history[:limit-1]
	}
	return append(history, eval)
}

func (d *Descent) snapshot(samples []optimization.Sample, params []float64, iter int) optimization.Evaluation {
	eval := optimization.Evaluation{
		Iteration: iter,
		Solution: &optimization.Solution{
			Parameters: append([]float64(nil), params...),
			Cost:       optimization.Cost(d.model, samples, params),
		},
	}

	d.logger.Debug("Gradient descent progress",
		zap.Int("iteration", iter),
		zap.Float64s("parameters", eval.Solution.Parameters),
		zap.Float64("cost", eval.Solution.Cost),
	)
	if d.observer != nil {
		d.observer(eval)
	}
	return eval
}

func (d *Descent) result(samples []optimization.Sample, params []float64, iterations int, converged bool, history []optimization.Evaluation) *optimization.FitResult {
	return &optimization.FitResult{
		Parameters:     params,
		FinalCost:      optimization.Cost(d.model, samples, params),
		IterationsUsed: iterations,
		Converged:      converged,
		History:        history,
	}
}
