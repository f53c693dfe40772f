// Package flip performs the weighted "coin flip": a categorical draw over the
// oracle's option weights.
package flip

import (
	"errors"
	"math/rand/v2"

	"decision-flip/backend/internal/store"
)

// Scale is the upper bound of a draw; weights are expressed in percent.
const Scale = 100.0

// ErrNoOptions is returned when there is nothing to select from.
var ErrNoOptions = errors.New("no weighted options to select from")

// Source yields uniform values in [0, 1).
type Source interface {
	Float64() float64
}

// SourceFunc adapts a function to Source.
type SourceFunc func() float64

// Float64 implements Source.
func (f SourceFunc) Float64() float64 { return f() }

// DefaultSource draws from the math/rand/v2 top-level generator, which is safe
// for concurrent use.
var DefaultSource Source = SourceFunc(rand.Float64)

// Fixed returns a Source that always yields the draw r, expressed on the 0-100 scale.
func Fixed(r float64) Source {
	return SourceFunc(func() float64 { return r / Scale })
}

// Select draws r in [0, 100) and returns the first option whose cumulative weight
// reaches r. When the weights sum to less than r the last option is returned.
func Select(weights []store.OptionWeight, src Source) (string, error) {
	if len(weights) == 0 {
		return "", ErrNoOptions
	}
	if len(weights) == 1 {
		return weights[0].Option, nil
	}
	if src == nil {
		src = DefaultSource
	}

	r := src.Float64() * Scale
	cumulative := 0.0
	for _, w := range weights {
		cumulative += w.Weight
		if cumulative >= r {
			return w.Option, nil
		}
	}
	return weights[len(weights)-1].Option, nil
}
