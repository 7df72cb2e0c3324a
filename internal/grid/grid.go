// Package grid materializes the rows over which estimands are evaluated.
//
// A typical grid has one row per combination of the requested values, with every other
// variable collapsed to a representative value. A counterfactual grid replicates the full
// data once per combination and keeps the observed values of unrequested variables.
package grid

import (
	"gomargins/domain/core"
	"gomargins/domain/frame"
)

// RowIDColumn is added to counterfactual grids to point back at the original data row
const RowIDColumn = "rowidcf"

// Setting holds one variable at the values produced by Values
type Setting struct {
	Name   string
	Values Values
}

// Set is shorthand for a Setting literal
func Set(name string, v Values) Setting {
	return Setting{Name: name, Values: v}
}

// Typical builds one row per combination of the settings' values; the first setting
// varies slowest. Unset variables are held at Summary.
func Typical(data *frame.Frame, settings ...Setting) (*frame.Frame, error) {
	resolved, err := resolve(data, settings)
	if err != nil {
		return nil, err
	}
	combos := combinations(resolved)

	cols := make([]*frame.Column, 0, len(data.Columns()))
	for _, c := range data.Columns() {
		if k := indexOf(settings, c.Name); k >= 0 {
			cols = append(cols, resolved[k].Take(combos[k]))
			continue
		}
		s, err := Summary(c)
		if err != nil {
			return nil, err
		}
		cols = append(cols, s.Repeat(0, len(combos[0])))
	}
	return frame.New(cols...)
}

// Counterfactual replicates the data once per combination of the settings' values.
// Unset variables keep their observed values.
func Counterfactual(data *frame.Frame, settings ...Setting) (*frame.Frame, error) {
	resolved, err := resolve(data, settings)
	if err != nil {
		return nil, err
	}
	combos := combinations(resolved)
	n := data.NRow()
	k := len(combos[0])

	out := data.Repeat(k)
	var replaced []*frame.Column
	for s, col := range resolved {
		rows := make([]int, 0, n*k)
		for c := 0; c < k; c++ {
			for i := 0; i < n; i++ {
				rows = append(rows, combos[s][c])
			}
		}
		replaced = append(replaced, col.Take(rows))
	}

	ids := make([]float64, 0, n*k)
	for c := 0; c < k; c++ {
		for i := 0; i < n; i++ {
			ids = append(ids, float64(i))
		}
	}
	replaced = append(replaced, frame.NewInteger(RowIDColumn, ids))
	return out.With(replaced...)
}

// Balanced crosses every level of the categorical and logical terms and holds numeric
// terms at their means. It is the reference grid of marginal means. Explicit settings
// replace the balanced values of their variable and vary slowest.
func Balanced(data *frame.Frame, terms []string, settings ...Setting) (*frame.Frame, error) {
	all := append([]Setting(nil), settings...)
	for _, t := range terms {
		c, err := data.Column(t)
		if err != nil {
			return nil, err
		}
		if (c.Kind == frame.Categorical || c.Kind == frame.Logical) && indexOf(settings, t) < 0 {
			all = append(all, Set(t, Unique()))
		}
	}
	return Typical(data, all...)
}

func resolve(data *frame.Frame, settings []Setting) ([]*frame.Column, error) {
	out := make([]*frame.Column, len(settings))
	for i, s := range settings {
		col, err := data.Column(s.Name)
		if err != nil {
			return nil, err
		}
		if indexOf(settings[:i], s.Name) >= 0 {
			return nil, core.NewOptionError(s.Name, "set more than once")
		}
		v, err := s.Values.Resolve(col)
		if err != nil {
			return nil, err
		}
		if v.Len() == 0 {
			return nil, core.NewOptionError(s.Name, "no grid values")
		}
		out[i] = v
	}
	return out, nil
}

// combinations returns, for each resolved column, the value index used by each combo.
// With no settings there is a single empty combination.
func combinations(resolved []*frame.Column) [][]int {
	total := 1
	for _, c := range resolved {
		total *= c.Len()
	}
	out := make([][]int, len(resolved))
	if len(resolved) == 0 {
		return [][]int{make([]int, 1)}
	}
	for s := range resolved {
		out[s] = make([]int, total)
	}
	for row := 0; row < total; row++ {
		rem := row
		for s := len(resolved) - 1; s >= 0; s-- {
			n := resolved[s].Len()
			out[s][row] = rem % n
			rem /= n
		}
	}
	return out
}

func indexOf(settings []Setting, name string) int {
	for i, s := range settings {
		if s.Name == name {
			return i
		}
	}
	return -1
}
