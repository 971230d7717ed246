package models

import (
	"math"

	"github.com/copyleftdev/curvefit/internal/optimization"
)

// Exponential is f(x) = a * exp(b*x) with parameters (a, b).
//
// Large b*x overflows to +Inf; the value is propagated unchanged.
type Exponential struct{}

var _ optimization.Model = Exponential{}

// Name implements optimization.Model.
func (Exponential) Name() string { return ExponentialName }

// NumParams implements optimization.Model.
func (Exponential) NumParams() int { return 2 }

// Predict implements optimization.Model.
func (Exponential) Predict(params []float64, x float64) float64 {
	return params[0] * math.Exp(params[1]*x)
}

// Gradient implements optimization.Model. With e_i = exp(b*x_i) and
// diff_i = a*e_i - y_i:
//
//	dJ/da = (1/n) sum(diff_i * e_i)
//	dJ/db = (1/n) sum(diff_i * a * x_i * e_i)
func (Exponential) Gradient(samples []optimization.Sample, params, dst []float64) []float64 {
	if len(dst) != 2 {
		dst = make([]float64, 2)
	}
	a, b := params[0], params[1]

	var ga, gb float64
	for _, p := range samples {
		ebx := math.Exp(b * p.X)
		pred := a * ebx
		diff := pred - p.Y
		ga += diff * ebx
		gb += diff * a * p.X * ebx
	}
	n := float64(len(samples))
	dst[0] = ga / n
	dst[1] = gb / n
	return dst
}
