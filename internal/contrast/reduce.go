package contrast

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"gomargins/domain/core"
	"gomargins/domain/frame"
	"gomargins/internal/aggregate"
)

// PointEstimate selects the point predictions in Reduce; any other value is a draw index
const PointEstimate = -1

// Reduce applies the transform block by block and aggregates the result by the plan's
// key. Averaged transforms with no key are aggregated over the whole block.
func (p *Plan) Reduce(set *Predictions, draw int) (*aggregate.Table, error) {
	lo, hi := pick(set.Lo, draw), pick(set.Hi, draw)
	if len(lo) != len(hi) {
		return nil, fmt.Errorf("lo/hi predictions misaligned: %d vs %d", len(lo), len(hi))
	}
	n := p.Grid.NRow()

	var y map[string]float64
	if set.Y != nil {
		yv := pick(set.Y, draw)
		y = make(map[string]float64, len(yv))
		for i := range yv {
			y[rowKey(set.Y.RowID[i], set.Y.GroupOf(i))] = yv[i]
		}
	}

	type part struct {
		block int
		group string
		rows  []int
	}
	var order []string
	parts := make(map[string]*part)
	for i, id := range set.Lo.RowID {
		b, g := id/n, set.Lo.GroupOf(i)
		k := fmt.Sprintf("%d|%s", b, g)
		pt, ok := parts[k]
		if !ok {
			pt = &part{block: b, group: g}
			parts[k] = pt
			order = append(order, k)
		}
		pt.rows = append(pt.rows, i)
	}

	t := p.Transform
	table := &aggregate.Table{KeyNames: p.KeyNames, Grid: p.Grid}
	scalars := false
	for _, k := range order {
		pt := parts[k]
		blk := p.Blocks[pt.block]
		m := len(pt.rows)
		in := Inputs{
			Hi: make([]float64, m), Lo: make([]float64, m), Y: make([]float64, m),
			X: make([]float64, m), W: make([]float64, m), Eps: blk.Eps,
		}
		base := make([]int, m)
		for j, i := range pt.rows {
			base[j] = set.Lo.RowID[i] % n
			in.Lo[j], in.Hi[j] = lo[i], hi[i]
			in.X[j] = blk.X[base[j]]
			in.W[j] = p.weight(base[j])
			in.Y[j] = math.NaN()
			if y != nil {
				if v, ok := y[rowKey(base[j], pt.group)]; ok {
					in.Y[j] = v
				}
			}
		}

		row := func(j int, est float64) aggregate.Row {
			return aggregate.Row{
				Term: blk.Term, Contrast: blk.Contrast, Group: pt.group, Keys: p.keys(blk, base[j]),
				GridRow: base[j], Lo: in.Lo[j], Hi: in.Hi[j], Y: in.Y[j], X: in.X[j],
				Eps: in.Eps, W: in.W[j], Estimate: est,
			}
		}

		if t.Averaged {
			for j := range pt.rows {
				table.Rows = append(table.Rows, row(j, math.NaN()))
			}
			continue
		}
		res, err := t.Apply(in)
		if err != nil {
			return nil, err
		}
		if !res.IsScalar() {
			for j := range pt.rows {
				table.Rows = append(table.Rows, row(j, res.Values[j]))
			}
			continue
		}
		scalars = true
		total := 0.0
		for _, w := range in.W {
			total += w
		}
		table.Rows = append(table.Rows, aggregate.Row{
			Term: blk.Term, Contrast: blk.Contrast, Group: pt.group, Keys: p.keys(blk, -1),
			GridRow: -1, Lo: stat.Mean(in.Lo, in.W), Hi: stat.Mean(in.Hi, in.W),
			Y: stat.Mean(in.Y, in.W), X: stat.Mean(in.X, in.W), Eps: in.Eps, W: total,
			Estimate: res.Values[0],
		})
	}

	by := p.By
	if scalars {
		if !by.Empty() && !by.All {
			return nil, core.NewOptionError("by", fmt.Sprintf("transform %s returns one value per block and cannot be grouped", t.Name))
		}
		return table, nil
	}
	if t.Averaged && by.Empty() {
		by = aggregate.By{All: true}
	}
	return aggregate.Aggregate(table, by, t.Reducer())
}

// keys are the cross labels of the block followed by the key columns at grid row base
func (p *Plan) keys(blk Block, base int) []string {
	if len(p.KeyNames) == 0 {
		return nil
	}
	out := append(make([]string, 0, len(p.KeyNames)), blk.CrossLabels...)
	for _, c := range p.keyCols {
		if base < 0 {
			out = append(out, "")
			continue
		}
		out = append(out, c.Label(base))
	}
	return out
}

func (p *Plan) weight(base int) float64 {
	if p.Weights == nil {
		return 1
	}
	return p.Weights[base]
}

func pick(pr *frame.Prediction, draw int) []float64 {
	if draw == PointEstimate {
		return pr.Estimate
	}
	return pr.Draws.Draw(draw)
}
