// Package scoring turns rule output and profile statistics into bounded risk scores.
//
// Everything here is pure: identical inputs give identical outputs, and no
// function touches storage, clocks, or shared state.
package scoring

import (
	"math"

	"github.com/opensource-finance/sentinel/internal/domain"
)

// MaxZ bounds the standardized deviation before it is turned into a score.
const MaxZ = 5.0

// Deviation is the amount-deviation signal against a user's rolling amount stats.
type Deviation struct {
	Z              float64 // clamped to [-MaxZ, MaxZ]
	DeviationScore float64
	AnomalyScore   float64
}

// ComputeDeviation standardizes amount against the profile's rolling window.
// A zero std falls back to relative deviation from the average; an empty
// profile yields zero deviation.
func ComputeDeviation(amount float64, stats domain.AmountStats) Deviation {
	var z float64
	switch {
	case stats.Std > 0:
		z = (amount - stats.Avg) / stats.Std
	case stats.Avg > 0:
		z = (amount - stats.Avg) / stats.Avg
	}
	if math.IsNaN(z) {
		z = 0
	}
	z = clamp(z, -MaxZ, MaxZ)

	abs := math.Abs(z)
	return Deviation{
		Z:              z,
		DeviationScore: round2(math.Min(abs/3*100, 100)),
		AnomalyScore:   round2(math.Min(abs/4*100, 100)),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
