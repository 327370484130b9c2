// Package stats provides percentile and summary statistics over numeric
// samples. Functions sort an internal copy and never mutate their input.
package stats

import (
	"fmt"
	"math"
	"sort"
)

// Percentile computes the p-th percentile of values using linear
// interpolation between order statistics, the convention used by most
// statistical software.
//
// Parameters:
//   - values: The sample (order does not matter; the slice is not mutated)
//   - p: Percentile in [0, 100]
//
// Returns:
//   - The interpolated percentile. An empty sample returns 0. A
//     single-element sample returns that element.
//   - An error if p is outside [0, 100].
func Percentile(values []float64, p float64) (float64, error) {
	if p < 0 || p > 100 {
		return 0, fmt.Errorf("percentile must be in [0, 100], got %g", p)
	}
	if len(values) == 0 {
		return 0, nil
	}
	if len(values) == 1 {
		return values[0], nil
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	// Position in the sorted sample: (n-1) * p/100.
	pos := float64(len(sorted)-1) * p / 100.0
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower], nil
	}

	frac := pos - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*frac, nil
}

// Median returns the 50th percentile of values.
func Median(values []float64) float64 {
	m, _ := Percentile(values, 50)
	return m
}

// Mean returns the arithmetic mean of values, or 0 for an empty sample.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
