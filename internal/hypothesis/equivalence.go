package hypothesis

import (
	"math"

	"gomargins/domain/core"
	"gomargins/domain/frame"
	"gomargins/internal/inference"
)

// Equivalence runs two one-sided tests of every estimate against [low, high] and fills
// PNonInf, PNonSup and PEquiv. Rows without a standard error are left unset.
func Equivalence(ef *frame.EstimateFrame, low, high float64) error {
	if math.IsNaN(low) || math.IsNaN(high) || low >= high {
		return core.NewOptionError("equivalence", "interval must satisfy low < high")
	}
	dist := inference.Reference(ef.DF)
	for i := range ef.Rows {
		r := &ef.Rows[i]
		if math.IsNaN(r.StdError) {
			continue
		}
		zLow := inference.Statistic(r.Estimate, r.StdError, low)
		zHigh := inference.Statistic(r.Estimate, r.StdError, high)
		r.PNonInf = 1 - dist.CDF(zLow)
		r.PNonSup = dist.CDF(zHigh)
		r.PEquiv = math.Max(r.PNonInf, r.PNonSup)
	}
	return nil
}
