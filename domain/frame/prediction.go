package frame

// Prediction is one estimate per (grid row x outcome group). Group is nil for
// single-outcome models. Grid carries the grid side columns aligned with the rows once
// the prediction engine has merged them back.
type Prediction struct {
	RowID    []int
	Group    []string
	Estimate []float64
	Draws    *Draws
	Grid     *Frame
}

// Len returns the number of prediction rows
func (p *Prediction) Len() int {
	return len(p.Estimate)
}

// GroupOf returns the outcome group of row i, or "" for single-outcome models
func (p *Prediction) GroupOf(i int) string {
	if p.Group == nil {
		return ""
	}
	return p.Group[i]
}

// Take keeps the given rows, realigning draws and grid side columns with them
func (p *Prediction) Take(rows []int) *Prediction {
	out := &Prediction{
		RowID:    make([]int, len(rows)),
		Estimate: make([]float64, len(rows)),
		Draws:    p.Draws.Take(rows),
	}
	if p.Group != nil {
		out.Group = make([]string, len(rows))
	}
	for i, r := range rows {
		out.RowID[i] = p.RowID[r]
		out.Estimate[i] = p.Estimate[r]
		if p.Group != nil {
			out.Group[i] = p.Group[r]
		}
	}
	if p.Grid != nil {
		out.Grid = p.Grid.Take(rows)
	}
	return out
}
