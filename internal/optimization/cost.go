package optimization

import (
	"math"

	"github.com/copyleftdev/curvefit/internal/errors"
)

// Cost returns J = (1/(2n)) * sum((model(params, x_i) - y_i)^2).
// The result is NaN for an empty dataset.
func Cost(m Model, samples []Sample, params []float64) float64 {
	var s float64
	for _, p := range samples {
		diff := m.Predict(params, p.X) - p.Y
		s += diff * diff
	}
	return s / (2.0 * float64(len(samples)))
}

// Predict evaluates m at every x.
func Predict(m Model, params []float64, xs []float64) []float64 {
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = m.Predict(params, x)
	}
	return ys
}

// ValidateSamples rejects empty datasets and non-finite coordinates.
func ValidateSamples(samples []Sample) error {
	const op = "ValidateSamples"

	if len(samples) == 0 {
		return errors.E(errors.KindInput, op, "dataset must contain at least one sample")
	}
	for i, p := range samples {
		if !finite(p.X) || !finite(p.Y) {
			return errors.E(errors.KindInput, op, "sample %d is not finite: (%v, %v)", i+1, p.X, p.Y)
		}
	}
	return nil
}

// ValidateParams checks that params fits m.
func ValidateParams(m Model, params []float64) error {
	const op = "ValidateParams"

	if len(params) != m.NumParams() {
		return errors.E(errors.KindInput, op, "%s model needs %d parameters, got %d", m.Name(), m.NumParams(), len(params))
	}
	for i, v := range params {
		if !finite(v) {
			return errors.E(errors.KindInput, op, "parameter %d is not finite: %v", i, v)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
