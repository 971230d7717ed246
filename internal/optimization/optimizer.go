package optimization

import (
	"context"
	"math"

	"github.com/copyleftdev/curvefit/internal/errors"
)

// Sample is a single observed (x, y) point.
type Sample struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Model is a scalar model family y = f(params, x) together with the
// analytic gradient of the half mean squared error cost.
type Model interface {
	// Name identifies the model family ("linear", "exponential").
	Name() string

	// NumParams is the length of the parameter vector.
	NumParams() int

	// Predict evaluates the model at x.
	Predict(params []float64, x float64) float64

	// Gradient writes dJ/dparam_k into dst and returns it. dst is
	// allocated when it is nil or has the wrong length.
	Gradient(samples []Sample, params, dst []float64) []float64
}

// Optimizer fits a model's parameters to a dataset.
type Optimizer interface {
	// Fit runs the fitting process starting from initial. Implementations
	// must not retain samples or the returned parameters after returning.
	Fit(ctx context.Context, samples []Sample, initial []float64) (*FitResult, error)
}

// Hyperparameters control the gradient descent loop.
type Hyperparameters struct {
	// Fixed step size applied to the gradient.
	LearningRate float64 `json:"learning_rate"`

	// Iteration cap.
	MaxIterations int `json:"max_iterations"`

	// The loop stops once every component of the parameter update is
	// strictly smaller than this value in absolute terms.
	ConvergenceThreshold float64 `json:"convergence_threshold"`
}

// Validate reports a KindConfig error for unusable hyperparameters.
func (h Hyperparameters) Validate() error {
	const op = "Hyperparameters.Validate"

	if !(h.LearningRate > 0) || math.IsInf(h.LearningRate, 1) {
		return errors.E(errors.KindConfig, op, "learning rate must be a positive finite number, got %v", h.LearningRate)
	}
	if h.MaxIterations <= 0 {
		return errors.E(errors.KindConfig, op, "max iterations must be positive, got %d", h.MaxIterations)
	}
	if !(h.ConvergenceThreshold >= 0) {
		return errors.E(errors.KindConfig, op, "convergence threshold must be non-negative, got %v", h.ConvergenceThreshold)
	}
	return nil
}

// Solution is a parameter vector together with its cost.
type Solution struct {
	Parameters []float64 `json:"parameters"`
	Cost       float64   `json:"cost"`
}

// Evaluation is a periodic diagnostic snapshot taken during a fit.
type Evaluation struct {
	Iteration int       `json:"iteration"`
	Solution  *Solution `json:"solution"`
}

// FitResult is produced exactly once per fit call.
type FitResult struct {
	Parameters     []float64    `json:"parameters"`
	FinalCost      float64      `json:"final_cost"`
	IterationsUsed int          `json:"iterations_used"`
	Converged      bool         `json:"converged"`
	Degenerate     bool         `json:"degenerate,omitempty"`
	History        []Evaluation `json:"history,omitempty"`
}

// Diverged reports whether the fit produced non-finite parameters or cost.
func (r *FitResult) Diverged() bool {
	if r == nil {
		return false
	}
	if math.IsNaN(r.FinalCost) || math.IsInf(r.FinalCost, 0) {
		return true
	}
	for _, p := range r.Parameters {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return true
		}
	}
	return false
}
