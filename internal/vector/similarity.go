package vector

import (
	"errors"
	"fmt"
	"sort"
)

// ErrDimensionMismatch is wrapped by every error caused by a vector or snapshot
// of the wrong length.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// SquaredL2 returns the squared Euclidean distance between a and b.
// Accumulates in float64 so equal inputs always produce equal distances.
func SquaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// sortMatches orders matches by distance, then row.
func sortMatches(m []Match) {
	sort.Slice(m, func(i, j int) bool {
		if m[i].Distance != m[j].Distance {
			return m[i].Distance < m[j].Distance
		}
		return m[i].Row < m[j].Row
	})
}

func checkDimensions(got, want int) error {
	if got != want {
		return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, got, want)
	}
	return nil
}
