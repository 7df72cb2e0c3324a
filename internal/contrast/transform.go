package contrast

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"

	"gomargins/domain/core"
	"gomargins/internal/aggregate"
)

// Result is the tagged output of a transform: one value per row of the block, or a
// single value for the whole block.
type Result struct {
	Values []float64
	scalar bool
}

// PerRow tags a vector aligned with the block rows
func PerRow(v []float64) Result { return Result{Values: v} }

// Scalar tags a single block-level value
func Scalar(v float64) Result { return Result{Values: []float64{v}, scalar: true} }

// IsScalar reports whether the result describes the whole block
func (r Result) IsScalar() bool { return r.scalar }

// Inputs are the aligned vectors of one block. X holds the observed values of the
// contrasted variable (NaN for categorical variables), Y the original-grid predictions
// (NaN unless the transform asked for them) and W the row weights.
type Inputs struct {
	Hi, Lo, Y, X []float64
	W            []float64
	Eps          float64
}

// Func reduces a block of predictions
type Func func(in Inputs) (Result, error)

// Transform is a named reduction of (lo, hi, original) predictions
type Transform struct {
	Name string
	Fn   Func

	// Format renders "hi" and "lo" level labels into a contrast label
	Format string
	// Label replaces the contrast label of numeric variables (e.g. "dY/dX")
	Label string

	Collapsible bool
	NeedsY      bool
	// Scaled transforms divide by the step and are not defined for cross contrasts
	Scaled bool
	// NeedsX transforms scale by the contrasted value and need a numeric variable
	NeedsX bool
	// Averaged transforms average lo/hi/y/x over a block (or by-group) before reducing
	Averaged bool
}

// Reducer exposes the aggregation behavior of the transform. Non-collapsible transforms
// are recomputed on group-averaged predictions.
func (t Transform) Reducer() aggregate.Reducer {
	if t.Collapsible {
		return aggregate.Reducer{}
	}
	return aggregate.Reducer{Recompute: func(m aggregate.Means) (float64, error) {
		r, err := t.Apply(Inputs{
			Hi: []float64{m.Hi}, Lo: []float64{m.Lo}, Y: []float64{m.Y}, X: []float64{m.X},
			W: []float64{1}, Eps: m.Eps,
		})
		if err != nil {
			return math.NaN(), err
		}
		return r.Values[0], nil
	}}
}

// Apply runs the transform and checks the shape of its result
func (t Transform) Apply(in Inputs) (Result, error) {
	r, err := t.Fn(in)
	if err != nil {
		return Result{}, fmt.Errorf("transform %s: %w", t.Name, err)
	}
	n := len(in.Hi)
	switch {
	case r.scalar && len(r.Values) == 1:
	case !r.scalar && len(r.Values) == n:
	default:
		return Result{}, core.NewTransformResultError(t.Name, len(r.Values), n)
	}
	return r, nil
}

// ContrastLabel renders a label for a (hi, lo) pair
func (t Transform) ContrastLabel(hi, lo string) string {
	if t.Format == "" {
		return hi + ", " + lo
	}
	return fmt.Sprintf(t.Format, hi, lo)
}

// Custom wraps a user function. Non-collapsible custom transforms are recomputed on
// group-averaged predictions when aggregated.
func Custom(name string, fn Func, collapsible, needsY bool) Transform {
	return Transform{Name: name, Fn: fn, Format: "%s, %s", Collapsible: collapsible, NeedsY: needsY}
}

type unit func(hi, lo, y, x, eps float64) float64

func perRow(u unit) Func {
	return func(in Inputs) (Result, error) {
		out := make([]float64, len(in.Hi))
		for i := range out {
			out[i] = u(in.Hi[i], in.Lo[i], in.Y[i], in.X[i], in.Eps)
		}
		return PerRow(out), nil
	}
}

func averaged(u unit) Func {
	return func(in Inputs) (Result, error) {
		w := in.W
		hi, lo := stat.Mean(in.Hi, w), stat.Mean(in.Lo, w)
		y, x := stat.Mean(in.Y, w), stat.Mean(in.X, w)
		return Scalar(u(hi, lo, y, x, in.Eps)), nil
	}
}

var units = []struct {
	name, format, label string
	fn                  unit
	collapsible         bool
	needsY, needsX      bool
	scaled              bool
}{
	{"difference", "%s - %s", "", func(hi, lo, _, _, _ float64) float64 { return hi - lo }, true, false, false, false},
	{"ratio", "%s / %s", "", func(hi, lo, _, _, _ float64) float64 { return hi / lo }, false, false, false, false},
	{"lnratio", "ln(%s / %s)", "", func(hi, lo, _, _, _ float64) float64 { return math.Log(hi / lo) }, false, false, false, false},
	{"lnor", "ln(odds(%s) / odds(%s))", "", func(hi, lo, _, _, _ float64) float64 {
		return math.Log(hi/(1-hi)) - math.Log(lo/(1-lo))
	}, false, false, false, false},
	{"lift", "lift(%s, %s)", "", func(hi, lo, _, _, _ float64) float64 { return (hi - lo) / lo }, false, false, false, false},
	{"dydx", "%s - %s", "dY/dX", func(hi, lo, _, _, eps float64) float64 { return (hi - lo) / eps }, true, false, false, true},
	{"eyex", "%s - %s", "eY/eX", func(hi, lo, y, x, eps float64) float64 { return (hi - lo) / eps * (x / y) }, true, true, true, true},
	{"eydx", "%s - %s", "eY/dX", func(hi, lo, y, _, eps float64) float64 { return (hi - lo) / eps / y }, true, true, false, true},
	{"dyex", "%s - %s", "dY/eX", func(hi, lo, _, x, eps float64) float64 { return (hi - lo) / eps * x }, true, false, true, true},
}

var registry = buildRegistry()

func buildRegistry() map[string]Transform {
	out := make(map[string]Transform, 2*len(units))
	for _, u := range units {
		out[u.name] = Transform{
			Name: u.name, Fn: perRow(u.fn), Format: u.format, Label: u.label,
			Collapsible: u.collapsible, NeedsY: u.needsY, NeedsX: u.needsX, Scaled: u.scaled,
		}
		avgLabel := ""
		if u.label != "" {
			avgLabel = "mean(" + u.label + ")"
		}
		out[u.name+"avg"] = Transform{
			Name: u.name + "avg", Fn: averaged(u.fn), Format: avgFormat(u.format), Label: avgLabel,
			NeedsY: u.needsY, NeedsX: u.needsX, Scaled: u.scaled, Averaged: true,
		}
	}
	return out
}

func avgFormat(f string) string {
	f = strings.Replace(f, "%s", "mean(%s)", 2)
	return f
}

// Lookup returns a built-in transform by name
func Lookup(name string) (Transform, error) {
	t, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		known := make([]string, 0, len(registry))
		for k := range registry {
			known = append(known, k)
		}
		return Transform{}, core.NewOptionError("transform", fmt.Sprintf("unknown transform %q (known: %s)", name, strings.Join(sortedCopy(known), ", ")))
	}
	return t, nil
}
