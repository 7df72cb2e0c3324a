// Package inference turns estimates with a Jacobian or a draws matrix into standard
// errors, test statistics, p-values and confidence intervals.
package inference

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"gomargins/domain/core"
	"gomargins/domain/frame"
)

// Distribution is the reference distribution of a test statistic
type Distribution interface {
	CDF(x float64) float64
	Quantile(p float64) float64
}

// Reference returns the standard normal, or a Student t when df is positive and finite
func Reference(df float64) Distribution {
	if df > 0 && !math.IsInf(df, 0) {
		return distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	}
	return distuv.UnitNormal
}

// CheckLevel validates a confidence level
func CheckLevel(level float64) error {
	if !(level > 0 && level < 1) {
		return core.NewOptionError("conf_level", fmt.Sprintf("%g is not in (0, 1)", level))
	}
	return nil
}

// Statistic is (estimate - null) / se. A zero standard error gives 0 when the estimate
// equals the null and an infinite statistic otherwise.
func Statistic(est, se, null float64) float64 {
	d := est - null
	if se == 0 {
		switch {
		case d == 0:
			return 0
		case d > 0:
			return math.Inf(1)
		default:
			return math.Inf(-1)
		}
	}
	return d / se
}

// TwoSided returns the two-sided p-value of a statistic
func TwoSided(dist Distribution, z float64) float64 {
	if math.IsNaN(z) {
		return math.NaN()
	}
	return 2 * (1 - dist.CDF(math.Abs(z)))
}

// Finalize fills Statistic, PValue, ConfLow and ConfHigh from the estimates and standard
// errors already on the frame. Rows without a standard error are left unset.
func Finalize(ef *frame.EstimateFrame) error {
	if err := CheckLevel(ef.ConfLevel); err != nil {
		return err
	}
	dist := Reference(ef.DF)
	q := dist.Quantile(1 - (1-ef.ConfLevel)/2)
	for i := range ef.Rows {
		r := &ef.Rows[i]
		if math.IsNaN(r.StdError) {
			continue
		}
		r.Statistic = Statistic(r.Estimate, r.StdError, ef.Null)
		r.PValue = TwoSided(dist, r.Statistic)
		if ef.Source == frame.SourceDelta || ef.Source == "" {
			r.ConfLow = r.Estimate - q*r.StdError
			r.ConfHigh = r.Estimate + q*r.StdError
		}
	}
	return nil
}
