// Package optimtest provides dataset generators and assertions shared by
// the optimization tests.
package optimtest

import (
	"math"
	"testing"

	"github.com/copyleftdev/curvefit/internal/optimization"
)

// Line returns noiseless samples of y = a0 + a1*x at xs.
func Line(a0, a1 float64, xs ...float64) []optimization.Sample {
	samples := make([]optimization.Sample, len(xs))
	for i, x := range xs {
		samples[i] = optimization.Sample{X: x, Y: a0 + a1*x}
	}
	return samples
}

// Exp returns noiseless samples of y = a*exp(b*x) at xs.
func Exp(a, b float64, xs ...float64) []optimization.Sample {
	samples := make([]optimization.Sample, len(xs))
	for i, x := range xs {
		samples[i] = optimization.Sample{X: x, Y: a * math.Exp(b*x)}
	}
	return samples
}

// Range returns the integers from..to inclusive as float64.
func Range(from, to int) []float64 {
	if to < from {
		return nil
	}
	xs := make([]float64, 0, to-from+1)
	for i := from; i <= to; i++ {
		xs = append(xs, float64(i))
	}
	return xs
}

// AssertFloat64SlicesEqual checks if two float64 slices are approximately equal
func AssertFloat64SlicesEqual(t testing.TB, got, want []float64, tol float64) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}

	for i := range got {
		if math.Abs(got[i]-want[i]) > tol {
			t.Fatalf("at index %d: got %v, want %v (tolerance %v)", i, got[i], want[i], tol)
		}
	}
}

// AssertWithinRelative checks that every got[i] is within frac of want[i].
func AssertWithinRelative(t testing.TB, got, want []float64, frac float64) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}

	for i := range got {
		if math.Abs(got[i]-want[i]) > frac*math.Abs(want[i]) {
			t.Fatalf("at index %d: got %v, want %v (within %.1f%%)", i, got[i], want[i], frac*100)
		}
	}
}
