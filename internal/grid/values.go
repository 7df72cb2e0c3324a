package grid

import (
	"fmt"
	"math"
	"strings"

	"github.com/montanaflynn/stats"

	"gomargins/domain/core"
	"gomargins/domain/frame"
)

// Values resolves the candidate values of one grid variable against its observed column
type Values interface {
	Resolve(col *frame.Column) (*frame.Column, error)
}

// ValuesFunc adapts a function into Values
type ValuesFunc func(col *frame.Column) (*frame.Column, error)

// Resolve calls f
func (f ValuesFunc) Resolve(col *frame.Column) (*frame.Column, error) { return f(col) }

type numbers []float64

func (n numbers) Resolve(col *frame.Column) (*frame.Column, error) {
	if col.Kind == frame.Categorical {
		return nil, core.NewOptionError(col.Name, "numeric values given for a categorical variable")
	}
	return col.WithNumbers(append([]float64(nil), n...)), nil
}

// Numbers holds a variable at explicit numeric values
func Numbers(v ...float64) Values { return numbers(v) }

type levels []string

func (l levels) Resolve(col *frame.Column) (*frame.Column, error) {
	switch col.Kind {
	case frame.Categorical:
		return col.WithLabels(append([]string(nil), l...)), nil
	case frame.Logical:
		num := make([]float64, len(l))
		for i, s := range l {
			switch strings.ToUpper(s) {
			case "TRUE":
				num[i] = 1
			case "FALSE":
			default:
				return nil, core.NewOptionError(col.Name, fmt.Sprintf("%q is not TRUE or FALSE", s))
			}
		}
		return col.WithNumbers(num), nil
	}
	return nil, core.NewOptionError(col.Name, "levels given for a numeric variable")
}

// Levels holds a categorical or logical variable at explicit labels
func Levels(v ...string) Values { return levels(v) }

// Unique uses every observed value
func Unique() Values {
	return ValuesFunc(func(col *frame.Column) (*frame.Column, error) { return col.Unique(), nil })
}

// Range uses the observed minimum and maximum
func Range() Values {
	return numericSummary("range", func(x []float64) ([]float64, error) {
		lo, err := stats.Min(x)
		if err != nil {
			return nil, err
		}
		hi, err := stats.Max(x)
		if err != nil {
			return nil, err
		}
		return []float64{lo, hi}, nil
	})
}

// FiveNum uses minimum, lower quartile, median, upper quartile and maximum
func FiveNum() Values {
	return numericSummary("fivenum", func(x []float64) ([]float64, error) {
		lo, err := stats.Min(x)
		if err != nil {
			return nil, err
		}
		hi, _ := stats.Max(x)
		if len(x) < 4 {
			med, _ := stats.Median(x)
			return []float64{lo, med, hi}, nil
		}
		q, err := stats.Quartile(x)
		if err != nil {
			return nil, err
		}
		return []float64{lo, q.Q1, q.Q2, q.Q3, hi}, nil
	})
}

// Quantiles uses the given percentiles (0-100)
func Quantiles(p ...float64) Values {
	return numericSummary("quantiles", func(x []float64) ([]float64, error) {
		out := make([]float64, len(p))
		for i, pct := range p {
			v, err := stats.Percentile(x, pct)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	})
}

// Mean holds a numeric variable at its mean
func Mean() Values {
	return numericSummary("mean", func(x []float64) ([]float64, error) {
		m, err := stats.Mean(x)
		return []float64{m}, err
	})
}

// Median holds a numeric variable at its median
func Median() Values {
	return numericSummary("median", func(x []float64) ([]float64, error) {
		m, err := stats.Median(x)
		return []float64{m}, err
	})
}

// Mode holds any variable at its most frequent value
func Mode() Values {
	return ValuesFunc(func(col *frame.Column) (*frame.Column, error) {
		return Summary(col)
	})
}

// Shorthand maps the string forms accepted on the call surface
func Shorthand(s string) (Values, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mean":
		return ValuesFunc(func(col *frame.Column) (*frame.Column, error) {
			if !col.IsNumeric() {
				return Summary(col)
			}
			return Mean().Resolve(col)
		}), nil
	case "median":
		return Median(), nil
	case "mode":
		return Mode(), nil
	case "unique":
		return Unique(), nil
	case "range", "minmax":
		return Range(), nil
	case "fivenum":
		return FiveNum(), nil
	}
	return nil, core.NewOptionError("grid", fmt.Sprintf("unknown shorthand %q", s))
}

func numericSummary(name string, fn func([]float64) ([]float64, error)) Values {
	return ValuesFunc(func(col *frame.Column) (*frame.Column, error) {
		if !col.IsNumeric() {
			return nil, core.NewOptionError(col.Name, name+" requires a numeric variable")
		}
		x := finite(col.Num)
		if len(x) == 0 {
			return nil, core.NewOptionError(col.Name, "no finite values")
		}
		v, err := fn(x)
		if err != nil {
			return nil, fmt.Errorf("%s of %s: %w", name, col.Name, err)
		}
		return col.WithNumbers(v), nil
	})
}

// Summary returns the one-row representative value of a column: the mean of a numeric
// variable, the rounded mean of an integer variable and the mode otherwise.
func Summary(col *frame.Column) (*frame.Column, error) {
	switch col.Kind {
	case frame.Numeric, frame.Integer:
		x := finite(col.Num)
		if len(x) == 0 {
			return nil, core.NewOptionError(col.Name, "no finite values")
		}
		m, err := stats.Mean(x)
		if err != nil {
			return nil, err
		}
		if col.Kind == frame.Integer {
			m = math.Round(m)
		}
		return col.WithNumbers([]float64{m}), nil
	case frame.Logical:
		ones := 0
		for _, v := range col.Num {
			if v != 0 {
				ones++
			}
		}
		if 2*ones > len(col.Num) {
			return col.WithNumbers([]float64{1}), nil
		}
		return col.WithNumbers([]float64{0}), nil
	}

	counts := make(map[string]int, len(col.Levels))
	for _, s := range col.Str {
		counts[s]++
	}
	best, bestN := "", -1
	for _, l := range col.Levels {
		if counts[l] > bestN {
			best, bestN = l, counts[l]
		}
	}
	return col.WithLabels([]string{best}), nil
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
