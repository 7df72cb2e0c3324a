package contrast

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/montanaflynn/stats"

	"gomargins/domain/core"
	"gomargins/domain/frame"
)

// Pair is one lo/hi counterfactual for a variable. Lo and Hi are aligned with the grid.
type Pair struct {
	Label  string
	Lo, Hi *frame.Column
	Eps    float64
}

// specInput is what a Spec sees: the observed column from the estimation data, the
// grid column it perturbs and the active transform (for labels).
type specInput struct {
	observed     *frame.Column
	grid         *frame.Column
	transform    Transform
	stepRelative float64
}

// Spec turns one variable into its lo/hi pairs
type Spec interface {
	pairs(in specInput) ([]Pair, error)
}

type specFunc func(in specInput) ([]Pair, error)

func (f specFunc) pairs(in specInput) ([]Pair, error) { return f(in) }

// Variable names a variable and how to contrast it. A nil Spec uses the default for the
// variable's kind.
type Variable struct {
	Name string
	Spec Spec
}

// Increment compares x - h/2 with x + h/2
func Increment(h float64) Spec {
	return centered(func(in specInput) (float64, string, error) {
		return h, "+" + frame.FormatNumber(h), nil
	})
}

// Slope uses a step of stepRelative x the observed range, centered on x
func Slope() Spec {
	return centered(func(in specInput) (float64, string, error) {
		x := finite(in.observed.Num)
		if len(x) == 0 {
			return 0, "", core.NewDegenerateStepError(in.observed.Name, "no finite values")
		}
		lo, _ := stats.Min(x)
		hi, _ := stats.Max(x)
		return in.stepRelative * (hi - lo), "dY/dX", nil
	})
}

// SD compares x - sd/2 with x + sd/2
func SD() Spec {
	return centered(func(in specInput) (float64, string, error) {
		sd, err := stats.StandardDeviationSample(finite(in.observed.Num))
		return sd, "+sd", err
	})
}

// TwoSD compares x - sd with x + sd
func TwoSD() Spec {
	return centered(func(in specInput) (float64, string, error) {
		sd, err := stats.StandardDeviationSample(finite(in.observed.Num))
		return 2 * sd, "+2sd", err
	})
}

// NumericPair compares two fixed values
func NumericPair(lo, hi float64) Spec {
	return fixed(func(in specInput) (float64, float64, string, string, error) {
		return lo, hi, frame.FormatNumber(lo), frame.FormatNumber(hi), nil
	})
}

// IQR compares the lower and upper quartiles
func IQR() Spec {
	return fixed(func(in specInput) (float64, float64, string, string, error) {
		q, err := stats.Quartile(finite(in.observed.Num))
		return q.Q1, q.Q3, "Q1", "Q3", err
	})
}

// MinMax compares the observed minimum and maximum
func MinMax() Spec {
	return fixed(func(in specInput) (float64, float64, string, string, error) {
		x := finite(in.observed.Num)
		lo, err := stats.Min(x)
		if err != nil {
			return 0, 0, "", "", err
		}
		hi, _ := stats.Max(x)
		return lo, hi, "Min", "Max", nil
	})
}

func centered(step func(in specInput) (float64, string, error)) Spec {
	return specFunc(func(in specInput) ([]Pair, error) {
		if !in.grid.IsNumeric() {
			return nil, core.NewOptionError(in.grid.Name, "numeric contrast on a "+in.grid.Kind.String()+" variable")
		}
		h, label, err := step(in)
		if err != nil {
			return nil, fmt.Errorf("step for %s: %w", in.grid.Name, err)
		}
		if h == 0 || math.IsNaN(h) || math.IsInf(h, 0) {
			return nil, core.NewDegenerateStepError(in.grid.Name, "zero variance or zero step")
		}
		if in.transform.Label != "" {
			label = in.transform.Label
		}
		lo := make([]float64, in.grid.Len())
		hi := make([]float64, in.grid.Len())
		for i, x := range in.grid.Num {
			lo[i] = x - h/2
			hi[i] = x + h/2
		}
		return []Pair{{Label: label, Lo: in.grid.WithNumbers(lo), Hi: in.grid.WithNumbers(hi), Eps: h}}, nil
	})
}

func fixed(values func(in specInput) (float64, float64, string, string, error)) Spec {
	return specFunc(func(in specInput) ([]Pair, error) {
		if !in.grid.IsNumeric() {
			return nil, core.NewOptionError(in.grid.Name, "numeric contrast on a "+in.grid.Kind.String()+" variable")
		}
		lo, hi, loLabel, hiLabel, err := values(in)
		if err != nil {
			return nil, fmt.Errorf("values for %s: %w", in.grid.Name, err)
		}
		if hi == lo {
			return nil, core.NewDegenerateStepError(in.grid.Name, "lo and hi are equal")
		}
		label := in.transform.ContrastLabel(hiLabel, loLabel)
		if in.transform.Label != "" {
			label = in.transform.Label
		}
		n := in.grid.Len()
		return []Pair{{
			Label: label,
			Lo:    in.grid.WithNumbers(constant(n, lo)),
			Hi:    in.grid.WithNumbers(constant(n, hi)),
			Eps:   hi - lo,
		}}, nil
	})
}

// levelPairs yields (lo, hi) index pairs over the observed levels
type levelPairs func(k int) [][2]int

// Reference compares every level with the first
func Reference() Spec {
	return categorical(func(k int) [][2]int {
		var out [][2]int
		for i := 1; i < k; i++ {
			out = append(out, [2]int{0, i})
		}
		return out
	})
}

// RevReference compares the first level with every other
func RevReference() Spec {
	return categorical(func(k int) [][2]int {
		var out [][2]int
		for i := 1; i < k; i++ {
			out = append(out, [2]int{i, 0})
		}
		return out
	})
}

// Sequential compares each level with the previous one
func Sequential() Spec {
	return categorical(func(k int) [][2]int {
		var out [][2]int
		for i := 1; i < k; i++ {
			out = append(out, [2]int{i - 1, i})
		}
		return out
	})
}

// RevSequential compares each level with the next one
func RevSequential() Spec {
	return categorical(func(k int) [][2]int {
		var out [][2]int
		for i := 1; i < k; i++ {
			out = append(out, [2]int{i, i - 1})
		}
		return out
	})
}

// Pairwise compares every ordered pair of levels i < j as j vs i
func Pairwise() Spec {
	return categorical(func(k int) [][2]int {
		var out [][2]int
		for i := 0; i < k; i++ {
			for j := i + 1; j < k; j++ {
				out = append(out, [2]int{i, j})
			}
		}
		return out
	})
}

// RevPairwise compares every ordered pair of levels i < j as i vs j
func RevPairwise() Spec {
	return categorical(func(k int) [][2]int {
		var out [][2]int
		for i := 0; i < k; i++ {
			for j := i + 1; j < k; j++ {
				out = append(out, [2]int{j, i})
			}
		}
		return out
	})
}

// LevelPair compares two explicit levels
func LevelPair(lo, hi string) Spec {
	return specFunc(func(in specInput) ([]Pair, error) {
		levels := levelsOf(in.observed)
		li, hi2 := indexOf(levels, lo), indexOf(levels, hi)
		if li < 0 || hi2 < 0 {
			return nil, core.NewOptionError(in.grid.Name, fmt.Sprintf("levels %q and %q must both be observed", lo, hi))
		}
		return categorical(func(int) [][2]int { return [][2]int{{li, hi2}} }).pairs(in)
	})
}

func categorical(pairsOf levelPairs) Spec {
	return specFunc(func(in specInput) ([]Pair, error) {
		if in.grid.IsNumeric() {
			return nil, core.NewOptionError(in.grid.Name, "level contrast on a numeric variable")
		}
		levels := levelsOf(in.observed)
		if len(levels) < 2 {
			return nil, core.NewDegenerateStepError(in.grid.Name, "fewer than two observed levels")
		}
		n := in.grid.Len()
		var out []Pair
		for _, p := range pairsOf(len(levels)) {
			lo, hi := levels[p[0]], levels[p[1]]
			out = append(out, Pair{
				Label: in.transform.ContrastLabel(hi, lo),
				Lo:    levelColumn(in.grid, lo, n),
				Hi:    levelColumn(in.grid, hi, n),
				Eps:   1,
			})
		}
		return out, nil
	})
}

// DefaultSpec picks the contrast of a variable when none is given
func DefaultSpec(col *frame.Column, slopes bool) Spec {
	switch {
	case col.IsNumeric() && slopes:
		return Slope()
	case col.IsNumeric():
		return Increment(1)
	}
	return Reference()
}

func levelsOf(col *frame.Column) []string {
	if col.Kind == frame.Logical {
		return []string{"FALSE", "TRUE"}
	}
	return col.Unique().Str
}

func levelColumn(grid *frame.Column, level string, n int) *frame.Column {
	if grid.Kind == frame.Logical {
		v := 0.0
		if level == "TRUE" {
			v = 1
		}
		return grid.WithNumbers(constant(n, v))
	}
	labels := make([]string, n)
	for i := range labels {
		labels[i] = level
	}
	return grid.WithLabels(labels)
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
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

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

// ParseSpec reads the textual form of a contrast: a keyword (sd, 2sd, iqr, minmax,
// slope, reference, revreference, sequential, revsequential, pairwise, revpairwise),
// a number h for an increment, or "lo:hi" for a numeric or level pair. An empty string
// selects the default for the variable's kind.
func ParseSpec(s string) (Spec, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "default":
		return nil, nil
	case "sd":
		return SD(), nil
	case "2sd":
		return TwoSD(), nil
	case "iqr":
		return IQR(), nil
	case "minmax":
		return MinMax(), nil
	case "slope", "dydx":
		return Slope(), nil
	case "reference":
		return Reference(), nil
	case "revreference":
		return RevReference(), nil
	case "sequential":
		return Sequential(), nil
	case "revsequential":
		return RevSequential(), nil
	case "pairwise":
		return Pairwise(), nil
	case "revpairwise":
		return RevPairwise(), nil
	}
	if h, err := strconv.ParseFloat(s, 64); err == nil {
		return Increment(h), nil
	}
	if lo, hi, ok := strings.Cut(s, ":"); ok {
		lo, hi = strings.TrimSpace(lo), strings.TrimSpace(hi)
		a, errA := strconv.ParseFloat(lo, 64)
		b, errB := strconv.ParseFloat(hi, 64)
		if errA == nil && errB == nil {
			return NumericPair(a, b), nil
		}
		return LevelPair(lo, hi), nil
	}
	return nil, core.NewOptionError("variables", fmt.Sprintf("cannot read contrast %q", s))
}
