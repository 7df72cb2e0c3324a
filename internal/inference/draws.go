package inference

import (
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"gomargins/domain/core"
	"gomargins/domain/frame"
)

// Bootstrap interval types
const (
	Percentile = "perc"
	Normal     = "norm"
	Basic      = "basic"
	BCa        = "bca"
)

// Posterior conventions
const (
	CenterMedian = "median"
	CenterMean   = "mean"
	IntervalETI  = "eti"
	IntervalHDI  = "hdi"
)

// DrawOptions select how a draws matrix is summarized
type DrawOptions struct {
	Center   string // posterior point estimate
	Interval string // posterior interval
	Type     string // bootstrap interval

	// Jackknife holds one leave-one-out estimate vector per data row; required for BCa
	Jackknife [][]float64
}

// Summarize computes standard errors and intervals from ef.Draws according to ef.Source.
// Posterior sources also replace the estimate by the posterior center.
func Summarize(ef *frame.EstimateFrame, opts DrawOptions) error {
	if err := CheckLevel(ef.ConfLevel); err != nil {
		return err
	}
	if ef.Draws == nil || ef.Draws.Len() == 0 {
		return fmt.Errorf("%w: %s uncertainty requested but no draws are attached", core.ErrDrawFailed, ef.Source)
	}
	if ef.Draws.Rows() != ef.Len() {
		return fmt.Errorf("%w: %d draw rows for %d estimates", core.ErrDrawFailed, ef.Draws.Rows(), ef.Len())
	}
	alpha := 1 - ef.ConfLevel
	for i := range ef.Rows {
		r := &ef.Rows[i]
		d := finite(ef.Draws.Row(i))
		if len(d) < 2 {
			continue
		}
		sort.Float64s(d)
		sd, err := stats.StandardDeviationSample(d)
		if err != nil {
			return err
		}
		r.StdError = sd

		switch ef.Source {
		case frame.SourcePosterior:
			if opts.Center == CenterMean {
				r.Estimate = stat.Mean(d, nil)
			} else {
				r.Estimate = stat.Quantile(0.5, stat.LinInterp, d, nil)
			}
			if opts.Interval == IntervalHDI {
				r.ConfLow, r.ConfHigh = hdi(d, ef.ConfLevel)
			} else {
				r.ConfLow, r.ConfHigh = eti(d, alpha)
			}
		case frame.SourceBootstrap:
			lo, hi, err := bootInterval(opts, d, r.Estimate, sd, alpha, i)
			if err != nil {
				return err
			}
			r.ConfLow, r.ConfHigh = lo, hi
		default:
			r.ConfLow, r.ConfHigh = eti(d, alpha)
		}
	}
	return Finalize(ef)
}

func bootInterval(opts DrawOptions, d []float64, est, sd, alpha float64, row int) (float64, float64, error) {
	switch opts.Type {
	case "", Percentile:
		lo, hi := eti(d, alpha)
		return lo, hi, nil
	case Normal:
		z := distuv.UnitNormal.Quantile(1 - alpha/2)
		// bias-corrected normal interval
		bias := stat.Mean(d, nil) - est
		return est - bias - z*sd, est - bias + z*sd, nil
	case Basic:
		lo, hi := eti(d, alpha)
		return 2*est - hi, 2*est - lo, nil
	case BCa:
		if len(opts.Jackknife) == 0 {
			return 0, 0, core.NewOptionError("bootstrap", "bca intervals need jackknife estimates")
		}
		jack := make([]float64, len(opts.Jackknife))
		for k, v := range opts.Jackknife {
			jack[k] = v[row]
		}
		lo, hi := bca(d, jack, est, alpha)
		return lo, hi, nil
	}
	return 0, 0, core.NewOptionError("bootstrap", fmt.Sprintf("unknown interval type %q", opts.Type))
}

// eti is the equal-tailed interval of sorted draws
func eti(sorted []float64, alpha float64) (float64, float64) {
	return stat.Quantile(alpha/2, stat.LinInterp, sorted, nil),
		stat.Quantile(1-alpha/2, stat.LinInterp, sorted, nil)
}

// hdi is the shortest interval holding level of the sorted draws
func hdi(sorted []float64, level float64) (float64, float64) {
	n := len(sorted)
	k := int(math.Ceil(level * float64(n)))
	if k >= n {
		return sorted[0], sorted[n-1]
	}
	if k < 1 {
		k = 1
	}
	best := 0
	for i := 1; i+k-1 < n; i++ {
		if sorted[i+k-1]-sorted[i] < sorted[best+k-1]-sorted[best] {
			best = i
		}
	}
	return sorted[best], sorted[best+k-1]
}

// bca is the bias-corrected and accelerated interval
func bca(sorted, jack []float64, est, alpha float64) (float64, float64) {
	below := 0
	for _, v := range sorted {
		if v < est {
			below++
		}
	}
	n := float64(len(sorted))
	prop := math.Min(math.Max(float64(below)/n, 0.5/n), 1-0.5/n)
	z0 := distuv.UnitNormal.Quantile(prop)

	mean := stat.Mean(jack, nil)
	var num, den float64
	for _, v := range jack {
		d := mean - v
		num += d * d * d
		den += d * d
	}
	a := 0.0
	if den > 0 {
		a = num / (6 * math.Pow(den, 1.5))
	}

	adjust := func(q float64) float64 {
		z := distuv.UnitNormal.Quantile(q)
		return distuv.UnitNormal.CDF(z0 + (z0+z)/(1-a*(z0+z)))
	}
	return stat.Quantile(adjust(alpha/2), stat.LinInterp, sorted, nil),
		stat.Quantile(adjust(1-alpha/2), stat.LinInterp, sorted, nil)
}

func finite(x []float64) []float64 {
	out := make([]float64, 0, len(x))
	for _, v := range x {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}
