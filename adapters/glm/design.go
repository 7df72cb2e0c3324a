package glm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"gomargins/domain/core"
	"gomargins/domain/frame"
)

// encoding is how one variable enters the design matrix. Categorical variables use
// treatment coding against their first observed level.
type encoding struct {
	kind   frame.Kind
	levels []string
}

// design builds model matrices for any frame holding the formula's variables
type design struct {
	formula   Formula
	encodings map[string]encoding
	names     []string
}

type block struct {
	names  []string
	values [][]float64
}

func newDesign(f Formula, data *frame.Frame) (*design, error) {
	d := &design{formula: f, encodings: make(map[string]encoding)}
	for _, v := range f.Variables() {
		c, err := data.Column(v)
		if err != nil {
			return nil, err
		}
		e := encoding{kind: c.Kind}
		if c.Kind == frame.Categorical {
			e.levels = c.Unique().Str
			if len(e.levels) < 2 {
				return nil, fmt.Errorf("%s has fewer than two observed levels", v)
			}
		}
		d.encodings[v] = e
	}
	if f.Intercept {
		d.names = append(d.names, "(Intercept)")
	}
	layout, err := d.blocks(data.Take(nil))
	if err != nil {
		return nil, err
	}
	for _, b := range layout {
		d.names = append(d.names, b.names...)
	}
	return d, nil
}

// matrix returns the n x k model matrix of data
func (d *design) matrix(data *frame.Frame) (*mat.Dense, error) {
	n := data.NRow()
	if n == 0 {
		return nil, fmt.Errorf("no rows to encode")
	}
	blocks, err := d.blocks(data)
	if err != nil {
		return nil, err
	}
	x := mat.NewDense(n, len(d.names), nil)
	col := 0
	if d.formula.Intercept {
		for i := 0; i < n; i++ {
			x.Set(i, 0, 1)
		}
		col++
	}
	for _, b := range blocks {
		for _, v := range b.values {
			for i := 0; i < n; i++ {
				x.Set(i, col, v[i])
			}
			col++
		}
	}
	return x, nil
}

func (d *design) blocks(data *frame.Frame) ([]block, error) {
	out := make([]block, 0, len(d.formula.Terms))
	for _, term := range d.formula.Terms {
		b := block{names: []string{""}, values: [][]float64{ones(data.NRow())}}
		for k, v := range term {
			part, err := d.encode(data, v)
			if err != nil {
				return nil, err
			}
			var next block
			for i := range b.names {
				for j := range part.names {
					name := part.names[j]
					if k > 0 {
						name = b.names[i] + ":" + name
					}
					next.names = append(next.names, name)
					next.values = append(next.values, multiply(b.values[i], part.values[j]))
				}
			}
			b = next
		}
		out = append(out, b)
	}
	return out, nil
}

func (d *design) encode(data *frame.Frame, v string) (block, error) {
	c, err := data.Column(v)
	if err != nil {
		return block{}, err
	}
	e := d.encodings[v]
	n := c.Len()
	switch e.kind {
	case frame.Categorical:
		if c.Kind != frame.Categorical {
			return block{}, fmt.Errorf("%s must be categorical, got %s", v, c.Kind)
		}
		index := make(map[string]int, len(e.levels))
		for i, l := range e.levels {
			index[l] = i
		}
		b := block{}
		for _, l := range e.levels[1:] {
			b.names = append(b.names, v+l)
			b.values = append(b.values, make([]float64, n))
		}
		for i, s := range c.Str {
			k, ok := index[s]
			if !ok {
				return block{}, fmt.Errorf("%s has level %q not seen when fitting", v, s)
			}
			if k > 0 {
				b.values[k-1][i] = 1
			}
		}
		return b, nil
	case frame.Logical:
		if c.Kind == frame.Categorical {
			return block{}, fmt.Errorf("%s must be logical", v)
		}
		return block{names: []string{v + "TRUE"}, values: [][]float64{c.Num}}, nil
	}
	if !c.IsNumeric() {
		return block{}, fmt.Errorf("%s must be numeric, got %s", v, c.Kind)
	}
	for _, x := range c.Num {
		if math.IsNaN(x) {
			return block{}, fmt.Errorf("%s has missing values", v)
		}
	}
	return block{names: []string{v}, values: [][]float64{c.Num}}, nil
}

// predictionMatrix wraps design errors as prediction errors
func (d *design) predictionMatrix(family string, grid *frame.Frame) (*mat.Dense, error) {
	x, err := d.matrix(grid)
	if err != nil {
		return nil, core.NewPredictionError(family, err)
	}
	return x, nil
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func multiply(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range out {
		out[i] = a[i] * b[i]
	}
	return out
}
