// Package models provides the model families that can be fitted.
package models

import (
	"sort"
	"strings"

	"github.com/copyleftdev/curvefit/internal/errors"
	"github.com/copyleftdev/curvefit/internal/optimization"
)

const (
	LinearName      = "linear"
	ExponentialName = "exponential"
)

type entry struct {
	model   optimization.Model
	initial []float64
}

var registry = map[string]entry{
	LinearName:      {model: Linear{}, initial: []float64{0, 0}},
	ExponentialName: {model: Exponential{}, initial: []float64{1.0, 0.1}},
}

// Lookup returns the model registered under name. Names are case
// insensitive.
func Lookup(name string) (optimization.Model, error) {
	e, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, errors.E(errors.KindConfig, "models.Lookup", "unknown model %q, expected one of %s", name, strings.Join(Names(), ", "))
	}
	return e.model, nil
}

// DefaultInitial returns a fresh copy of the default starting point for
// the named model, or nil for unknown names.
func DefaultInitial(name string) []float64 {
	e, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil
	}
	return append([]float64(nil), e.initial...)
}

// Names lists the registered model names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
