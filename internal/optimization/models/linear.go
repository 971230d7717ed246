package models

import "github.com/copyleftdev/curvefit/internal/optimization"

// Linear is f(x) = a0 + a1*x with parameters (a0, a1).
type Linear struct{}

var _ optimization.Model = Linear{}

// Name implements optimization.Model.
func (Linear) Name() string { return LinearName }

// NumParams implements optimization.Model.
func (Linear) NumParams() int { return 2 }

// Predict implements optimization.Model.
func (Linear) Predict(params []float64, x float64) float64 {
	return params[0] + params[1]*x
}

// Gradient implements optimization.Model:
//
//	dJ/da0 = (1/n) sum(pred_i - y_i)
//	dJ/da1 = (1/n) sum((pred_i - y_i) * x_i)
func (Linear) Gradient(samples []optimization.Sample, params, dst []float64) []float64 {
	if len(dst) != 2 {
		dst = make([]float64, 2)
	}
	a0, a1 := params[0], params[1]

	var g0, g1 float64
	for _, p := range samples {
		diff := a0 + a1*p.X - p.Y
		g0 += diff
		g1 += diff * p.X
	}
	n := float64(len(samples))
	dst[0] = g0 / n
	dst[1] = g1 / n
	return dst
}
