// Package aggregate marginalizes unit-level estimates into groups.
//
// Collapsible statistics are reduced with a weighted mean of the unit estimates.
// Non-collapsible statistics are recomputed from group-averaged predictions; averaging
// them after the fact is never done. Every output row keeps its group-averaged
// predictions, so aggregating an aggregated table by the same key changes nothing.
package aggregate

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"gomargins/domain/core"
	"gomargins/domain/frame"
)

// Row is one unit-level (or already aggregated) quantity together with the predictions
// it was derived from.
type Row struct {
	Term     string
	Contrast string
	Group    string
	Keys     []string // values for Table.KeyNames

	// GridRow indexes Table.Grid; -1 once the row no longer maps to a single grid row
	GridRow int

	Lo, Hi, Y, X, Eps float64
	W                 float64
	Estimate          float64
}

// Table is the input and output of aggregation
type Table struct {
	KeyNames     []string
	Rows         []Row
	Grid         *frame.Frame
	AggregatedBy []string
}

// Means are the group-weighted averages handed to a Recompute function
type Means struct {
	Lo, Hi, Y, X, Eps float64
}

// Recompute re-derives a non-collapsible statistic from group-averaged predictions
type Recompute func(m Means) (float64, error)

// Reducer tells the engine how a statistic aggregates. A nil Recompute means the
// statistic is collapsible.
type Reducer struct {
	Recompute Recompute
}

// Collapsible reports whether group values are weighted means of unit values
func (r Reducer) Collapsible() bool {
	return r.Recompute == nil
}

// Map relabels the values of a grid column before grouping
type Map struct {
	Column string
	Name   string
	Labels map[string]string
}

// By is a grouping key: grid column names, mapping tables, or All (one group per
// term/contrast/outcome).
type By struct {
	Columns []string
	Maps    []Map
	All     bool
}

// Empty reports whether no aggregation was requested
func (b By) Empty() bool {
	return !b.All && len(b.Columns) == 0 && len(b.Maps) == 0
}

// Names returns the key names the grouping adds
func (b By) Names() []string {
	names := append([]string(nil), b.Columns...)
	for _, m := range b.Maps {
		names = append(names, m.Name)
	}
	return names
}

// Aggregate reduces t into one row per (term, contrast, group, key values).
func Aggregate(t *Table, by By, red Reducer) (*Table, error) {
	if by.Empty() {
		return t, nil
	}
	byNames := by.Names()
	for i, n := range byNames {
		if indexOf(byNames[:i], n) >= 0 {
			return nil, core.NewOptionError("by", fmt.Sprintf("%q listed twice", n))
		}
	}
	if sameKey(t.AggregatedBy, byNames) {
		return t, nil
	}

	keyNames := append([]string(nil), t.KeyNames...)
	sources := make([]func(Row) (string, error), 0, len(byNames))
	for _, name := range by.Columns {
		name := name
		if k := indexOf(keyNames, name); k >= 0 {
			sources = append(sources, func(r Row) (string, error) { return r.Keys[k], nil })
			continue
		}
		keyNames = append(keyNames, name)
		sources = append(sources, gridValue(t, name, nil))
	}
	for _, m := range by.Maps {
		if k := indexOf(keyNames, m.Name); k >= 0 {
			sources = append(sources, func(r Row) (string, error) { return r.Keys[k], nil })
			continue
		}
		keyNames = append(keyNames, m.Name)
		sources = append(sources, gridValue(t, m.Column, m.Labels))
	}

	type group struct {
		head Row
		rows []Row
	}
	var order []string
	groups := make(map[string]*group)
	for _, r := range t.Rows {
		keys := make([]string, 0, len(keyNames))
		for k := range t.KeyNames {
			keys = append(keys, r.Keys[k])
		}
		for s, src := range sources {
			v, err := src(r)
			if err != nil {
				return nil, err
			}
			if indexOf(t.KeyNames, byNames[s]) < 0 {
				keys = append(keys, v)
			}
		}
		id := fmt.Sprintf("%q|%q|%q|%q", r.Term, r.Contrast, r.Group, keys)
		g, ok := groups[id]
		if !ok {
			head := r
			head.Keys = keys
			g = &group{head: head}
			groups[id] = g
			order = append(order, id)
		}
		g.rows = append(g.rows, r)
	}

	out := &Table{KeyNames: keyNames, Grid: t.Grid, AggregatedBy: byNames}
	for _, id := range order {
		g := groups[id]
		row, err := reduce(g.head, g.rows, red)
		if err != nil {
			return nil, err
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

func reduce(head Row, rows []Row, red Reducer) (Row, error) {
	n := len(rows)
	lo, hi, y, x, eps, est, w := make([]float64, n), make([]float64, n), make([]float64, n),
		make([]float64, n), make([]float64, n), make([]float64, n), make([]float64, n)
	total := 0.0
	for i, r := range rows {
		lo[i], hi[i], y[i], x[i], eps[i], est[i] = r.Lo, r.Hi, r.Y, r.X, r.Eps, r.Estimate
		w[i] = r.W
		if w[i] < 0 || math.IsNaN(w[i]) {
			return Row{}, core.NewOptionError("weights", "negative or missing weight")
		}
		total += w[i]
	}
	if total == 0 {
		return Row{}, core.NewOptionError("weights", "weights sum to zero within a group")
	}
	for i := range w {
		w[i] /= total
	}

	out := head
	out.GridRow = -1
	out.Lo = stat.Mean(lo, w)
	out.Hi = stat.Mean(hi, w)
	out.Y = stat.Mean(y, w)
	out.X = stat.Mean(x, w)
	out.Eps = stat.Mean(eps, w)
	out.W = total

	if red.Collapsible() {
		out.Estimate = stat.Mean(est, w)
		return out, nil
	}
	v, err := red.Recompute(Means{Lo: out.Lo, Hi: out.Hi, Y: out.Y, X: out.X, Eps: out.Eps})
	if err != nil {
		return Row{}, err
	}
	out.Estimate = v
	return out, nil
}

func gridValue(t *Table, column string, labels map[string]string) func(Row) (string, error) {
	return func(r Row) (string, error) {
		if t.Grid == nil || r.GridRow < 0 {
			return "", core.NewOptionError("by", fmt.Sprintf("%q is not available on aggregated rows", column))
		}
		c, err := t.Grid.Column(column)
		if err != nil {
			return "", err
		}
		v := c.Label(r.GridRow)
		if labels != nil {
			if mapped, ok := labels[v]; ok {
				return mapped, nil
			}
		}
		return v, nil
	}
}

func sameKey(a, b []string) bool {
	if a == nil || len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

// Estimates returns the row estimates in order
func (t *Table) Estimates() []float64 {
	out := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Estimate
	}
	return out
}
