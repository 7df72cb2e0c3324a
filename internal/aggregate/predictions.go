package aggregate

import (
	"gomargins/domain/frame"
)

// FromPredictions turns a prediction into a unit table. keyNames are grid columns copied
// into every row so that unaggregated predictions stay identifiable; weights are indexed
// by grid row and may be nil.
func FromPredictions(p *frame.Prediction, grid *frame.Frame, keyNames []string, weights []float64, estimates []float64) (*Table, error) {
	cols := make([]*frame.Column, len(keyNames))
	for k, name := range keyNames {
		c, err := grid.Column(name)
		if err != nil {
			return nil, err
		}
		cols[k] = c
	}
	t := &Table{KeyNames: keyNames, Grid: grid, Rows: make([]Row, p.Len())}
	for i := range t.Rows {
		id := p.RowID[i]
		keys := make([]string, len(cols))
		for k, c := range cols {
			keys[k] = c.Label(id)
		}
		w := 1.0
		if weights != nil {
			w = weights[id]
		}
		v := estimates[i]
		t.Rows[i] = Row{Group: p.GroupOf(i), Keys: keys, GridRow: id, Lo: v, Hi: v, Y: v, W: w, Estimate: v}
	}
	return t, nil
}
