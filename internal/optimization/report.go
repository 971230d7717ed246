package optimization

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultCurveSteps is the number of intervals used by Curve when the
	// caller does not choose one.
	DefaultCurveSteps = 200

	curveMargin = 0.1
)

// Residual describes how far a single prediction landed from its sample.
type Residual struct {
	Index     int     `json:"index"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Predicted float64 `json:"predicted"`
	Residual  float64 `json:"residual"`
}

// Report is the presentation-ready summary of a fit.
type Report struct {
	Model          string     `json:"model"`
	Parameters     []float64  `json:"parameters"`
	Cost           float64    `json:"cost"`
	RMSE           float64    `json:"rmse"`
	RSquared       float64    `json:"r_squared"`
	IterationsUsed int        `json:"iterations_used"`
	MaxIterations  int        `json:"max_iterations,omitempty"`
	Converged      bool       `json:"converged"`
	Degenerate     bool       `json:"degenerate,omitempty"`
	Residuals      []Residual `json:"residuals"`
}

// NewReport builds a Report for result. maxIterations is the cap the fit
// ran under, or 0 for closed form solvers.
func NewReport(m Model, samples []Sample, result *FitResult, maxIterations int) *Report {
	n := len(samples)
	predicted := make([]float64, n)
	observed := make([]float64, n)
	residuals := make([]Residual, n)
	for i, p := range samples {
		predicted[i] = m.Predict(result.Parameters, p.X)
		observed[i] = p.Y
		residuals[i] = Residual{
			Index:     i + 1,
			X:         p.X,
			Y:         p.Y,
			Predicted: predicted[i],
			Residual:  predicted[i] - p.Y,
		}
	}

	return &Report{
		Model:          m.Name(),
		Parameters:     append([]float64(nil), result.Parameters...),
		Cost:           result.FinalCost,
		RMSE:           math.Sqrt(result.FinalCost * 2 * float64(n)),
		RSquared:       stat.RSquaredFrom(predicted, observed, nil),
		IterationsUsed: result.IterationsUsed,
		MaxIterations:  maxIterations,
		Converged:      result.Converged,
		Degenerate:     result.Degenerate,
		Residuals:      residuals,
	}
}

// Curve samples the fitted model over the x range of samples widened by
// ten percent on each side. It returns steps+1 points.
func Curve(m Model, params []float64, samples []Sample, steps int) []Sample {
	if len(samples) == 0 {
		return nil
	}
	if steps <= 0 {
		steps = DefaultCurveSteps
	}

	xs := make([]float64, len(samples))
	for i, p := range samples {
		xs[i] = p.X
	}
	xmin, xmax := floats.Min(xs), floats.Max(xs)
	if xmax == xmin {
		xmin--
		xmax++
	}
	span := xmax - xmin
	start := xmin - curveMargin*span
	end := xmax + curveMargin*span

	grid := make([]float64, steps+1)
	floats.Span(grid, start, end)

	curve := make([]Sample, len(grid))
	for i, x := range grid {
		curve[i] = Sample{X: x, Y: m.Predict(params, x)}
	}
	return curve
}
