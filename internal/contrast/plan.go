// Package contrast builds lo/hi counterfactual grids for requested variables and
// reduces (lo, hi, original) predictions through a named transform into slopes,
// differences, ratios and elasticities.
package contrast

import (
	"context"
	"fmt"
	"math"
	"strings"

	"gomargins/domain/core"
	"gomargins/domain/frame"
	"gomargins/internal/aggregate"
	"gomargins/internal/predict"
	"gomargins/ports"
)

// CrossTerm is the term label of rows where several variables move together
const CrossTerm = "cross"

// Options configure a contrast plan
type Options struct {
	Variables    []Variable
	Transform    Transform
	Cross        bool
	Slopes       bool // numeric variables default to a derivative step instead of +1
	StepRelative float64
	By           aggregate.By
	Weights      []float64 // one per grid row; nil is uniform
	KeyColumns   []string  // grid columns copied into unit rows
}

// Block is one (term, contrast) counterfactual pair over the whole grid
type Block struct {
	Term        string
	Contrast    string
	CrossLabels []string
	Lo, Hi      *frame.Frame
	X           []float64
	Eps         float64
}

// Plan holds everything needed to evaluate contrasts for any coefficient vector
type Plan struct {
	Grid      *frame.Frame
	Blocks    []Block
	Transform Transform
	By        aggregate.By
	Weights   []float64
	KeyNames  []string

	keyCols []*frame.Column
	lo, hi  *frame.Frame
}

// NewPlan validates variables against the estimation data and builds the stacked lo and
// hi grids.
func NewPlan(data, grid *frame.Frame, opts Options) (*Plan, error) {
	if len(opts.Variables) == 0 {
		return nil, core.NewOptionError("variables", "at least one variable is required")
	}
	if opts.Transform.Fn == nil {
		return nil, core.NewOptionError("transform", "missing transform function")
	}
	if opts.Weights != nil && len(opts.Weights) != grid.NRow() {
		return nil, core.NewOptionError("weights", fmt.Sprintf("%d weights for %d grid rows", len(opts.Weights), grid.NRow()))
	}

	perVar := make([][]Pair, len(opts.Variables))
	xs := make([][]float64, len(opts.Variables))
	for i, v := range opts.Variables {
		observed, err := data.Column(v.Name)
		if err != nil {
			return nil, err
		}
		gcol, err := grid.Column(v.Name)
		if err != nil {
			return nil, err
		}
		if opts.Transform.NeedsX && !observed.IsNumeric() {
			return nil, core.NewOptionError("transform", fmt.Sprintf("%s needs a numeric variable, %s is %s", opts.Transform.Name, v.Name, observed.Kind))
		}
		spec := v.Spec
		if spec == nil {
			spec = DefaultSpec(observed, opts.Slopes)
		}
		pairs, err := spec.pairs(specInput{
			observed: observed, grid: gcol, transform: opts.Transform, stepRelative: opts.StepRelative,
		})
		if err != nil {
			return nil, err
		}
		perVar[i] = pairs
		xs[i] = observedX(gcol)
	}

	p := &Plan{Grid: grid, Transform: opts.Transform, By: opts.By, Weights: opts.Weights}
	if opts.Cross && len(opts.Variables) > 1 {
		if opts.Transform.Scaled {
			return nil, core.NewOptionError("transform", opts.Transform.Name+" is not defined for cross contrasts")
		}
		if err := p.crossBlocks(opts.Variables, perVar); err != nil {
			return nil, err
		}
	} else {
		for i, v := range opts.Variables {
			for _, pair := range perVar[i] {
				lo, err := grid.With(pair.Lo)
				if err != nil {
					return nil, err
				}
				hi, err := grid.With(pair.Hi)
				if err != nil {
					return nil, err
				}
				p.Blocks = append(p.Blocks, Block{
					Term: v.Name, Contrast: pair.Label, Lo: lo, Hi: hi, X: xs[i], Eps: pair.Eps,
				})
			}
		}
	}

	for _, name := range opts.KeyColumns {
		c, err := grid.Column(name)
		if err != nil {
			return nil, err
		}
		p.KeyNames = append(p.KeyNames, name)
		p.keyCols = append(p.keyCols, c)
	}

	los := make([]*frame.Frame, len(p.Blocks))
	his := make([]*frame.Frame, len(p.Blocks))
	for i, b := range p.Blocks {
		los[i], his[i] = b.Lo, b.Hi
	}
	var err error
	if p.lo, err = frame.Bind(los...); err != nil {
		return nil, err
	}
	if p.hi, err = frame.Bind(his...); err != nil {
		return nil, err
	}
	return p, nil
}

// crossBlocks builds one block per combination of every variable's pairs
func (p *Plan) crossBlocks(vars []Variable, perVar [][]Pair) error {
	for _, v := range vars {
		p.KeyNames = append(p.KeyNames, "contrast_"+v.Name)
	}
	idx := make([]int, len(vars))
	nan := constant(p.Grid.NRow(), math.NaN())
	for {
		var loCols, hiCols []*frame.Column
		labels := make([]string, len(vars))
		for i := range vars {
			pair := perVar[i][idx[i]]
			loCols = append(loCols, pair.Lo)
			hiCols = append(hiCols, pair.Hi)
			labels[i] = pair.Label
		}
		lo, err := p.Grid.With(loCols...)
		if err != nil {
			return err
		}
		hi, err := p.Grid.With(hiCols...)
		if err != nil {
			return err
		}
		p.Blocks = append(p.Blocks, Block{
			Term: CrossTerm, Contrast: strings.Join(labels, ", "), CrossLabels: labels,
			Lo: lo, Hi: hi, X: nan, Eps: 1,
		})

		k := len(vars) - 1
		for k >= 0 {
			idx[k]++
			if idx[k] < len(perVar[k]) {
				break
			}
			idx[k] = 0
			k--
		}
		if k < 0 {
			return nil
		}
	}
}

// Predictions are the aligned lo/hi predictions plus, when the transform needs them,
// predictions on the original grid.
type Predictions struct {
	Lo, Hi *frame.Prediction
	Y      *frame.Prediction
}

// Draws returns the number of draws attached to the predictions
func (s *Predictions) Draws() int {
	return s.Lo.Draws.Len()
}

// Predict scores the lo, hi and (if needed) original grids with m
func (p *Plan) Predict(ctx context.Context, eng *predict.Engine, m ports.Model, scale string) (*Predictions, error) {
	lo, err := eng.Run(ctx, m, p.lo, scale)
	if err != nil {
		return nil, err
	}
	hi, err := eng.Run(ctx, m, p.hi, scale)
	if err != nil {
		return nil, err
	}
	lo, hi = align(lo, hi)
	set := &Predictions{Lo: lo, Hi: hi}
	if p.Transform.NeedsY {
		if set.Y, err = eng.Run(ctx, m, p.Grid, scale); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// align keeps the (row, group) pairs present in both predictions, in lo order
func align(lo, hi *frame.Prediction) (*frame.Prediction, *frame.Prediction) {
	if sameLayout(lo, hi) {
		return lo, hi
	}
	at := make(map[string]int, hi.Len())
	for i := range hi.RowID {
		at[rowKey(hi.RowID[i], hi.GroupOf(i))] = i
	}
	var keepLo, keepHi []int
	for i := range lo.RowID {
		if j, ok := at[rowKey(lo.RowID[i], lo.GroupOf(i))]; ok {
			keepLo = append(keepLo, i)
			keepHi = append(keepHi, j)
		}
	}
	return lo.Take(keepLo), hi.Take(keepHi)
}

func sameLayout(a, b *frame.Prediction) bool {
	if a.Len() != b.Len() {
		return false
	}
	for i := range a.RowID {
		if a.RowID[i] != b.RowID[i] || a.GroupOf(i) != b.GroupOf(i) {
			return false
		}
	}
	return true
}

func rowKey(row int, group string) string {
	return fmt.Sprintf("%d|%s", row, group)
}

func observedX(col *frame.Column) []float64 {
	if !col.IsNumeric() {
		return constant(col.Len(), math.NaN())
	}
	return col.Num
}
