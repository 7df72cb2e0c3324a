package frame

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Draws is a matrix of posterior, bootstrap or simulation draws with one row per owner
// row (prediction or estimate) and one column per draw. It travels next to a frame and
// must be realigned explicitly whenever the owner's rows are filtered or stacked.
type Draws struct {
	m *mat.Dense
}

// NewDraws wraps a rows x draws matrix
func NewDraws(m *mat.Dense) *Draws {
	if m == nil {
		return nil
	}
	return &Draws{m: m}
}

// DrawsFromRows builds draws from per-row slices of equal length
func DrawsFromRows(rows [][]float64) (*Draws, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	n := len(rows[0])
	data := make([]float64, 0, len(rows)*n)
	for i, r := range rows {
		if len(r) != n {
			return nil, fmt.Errorf("draw row %d has %d draws, want %d", i, len(r), n)
		}
		data = append(data, r...)
	}
	return &Draws{m: mat.NewDense(len(rows), n, data)}, nil
}

// Rows returns the number of owner rows
func (d *Draws) Rows() int {
	if d == nil {
		return 0
	}
	r, _ := d.m.Dims()
	return r
}

// Len returns the number of draws
func (d *Draws) Len() int {
	if d == nil {
		return 0
	}
	_, c := d.m.Dims()
	return c
}

// Row copies the draws of owner row i
func (d *Draws) Row(i int) []float64 {
	return mat.Row(nil, i, d.m)
}

// Draw copies draw j across all owner rows
func (d *Draws) Draw(j int) []float64 {
	return mat.Col(nil, j, d.m)
}

// Take realigns draws to the given owner rows
func (d *Draws) Take(rows []int) *Draws {
	if d == nil {
		return nil
	}
	out := mat.NewDense(len(rows), d.Len(), nil)
	for i, r := range rows {
		out.SetRow(i, d.m.RawRowView(r))
	}
	return &Draws{m: out}
}

// BindDraws stacks draws row-wise. All non-nil inputs must agree on the draw count and
// either all or none of the inputs carry draws.
func BindDraws(ds ...*Draws) (*Draws, error) {
	var present, total, n int
	for _, d := range ds {
		if d == nil {
			continue
		}
		if present > 0 && d.Len() != n {
			return nil, fmt.Errorf("draw counts differ: %d vs %d", d.Len(), n)
		}
		n = d.Len()
		present++
		total += d.Rows()
	}
	if present == 0 {
		return nil, nil
	}
	if present != len(ds) {
		return nil, fmt.Errorf("draws attached to %d of %d blocks", present, len(ds))
	}
	out := mat.NewDense(total, n, nil)
	offset := 0
	for _, d := range ds {
		for i := 0; i < d.Rows(); i++ {
			out.SetRow(offset+i, d.m.RawRowView(i))
		}
		offset += d.Rows()
	}
	return &Draws{m: out}, nil
}
