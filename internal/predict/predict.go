// Package predict normalizes adapter output into one prediction row per (grid row x
// outcome group), with grid side columns and draws aligned to those rows.
package predict

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gomargins/domain/core"
	"gomargins/domain/frame"
	"gomargins/internal"
	"gomargins/ports"
)

// Engine wraps Model.Predict
type Engine struct {
	log *internal.Logger
}

// NewEngine creates a prediction engine
func NewEngine(log *internal.Logger) *Engine {
	if log == nil {
		log = internal.DefaultLogger
	}
	return &Engine{log: log}
}

// Run predicts every row of grid on scale. Rows with a missing (NaN) estimate are dropped
// together with their draws and grid columns.
func (e *Engine) Run(ctx context.Context, m ports.Model, grid *frame.Frame, scale string) (*frame.Prediction, error) {
	p, err := m.Predict(ctx, grid, scale)
	if err != nil {
		if errors.Is(err, core.ErrPrediction) {
			return nil, err
		}
		return nil, core.NewPredictionError(m.Family(), err)
	}
	if err := normalize(p, grid.NRow()); err != nil {
		return nil, core.NewPredictionError(m.Family(), err)
	}
	p.Grid = grid.Take(p.RowID)

	keep := make([]int, 0, p.Len())
	for i, v := range p.Estimate {
		if !math.IsNaN(v) {
			keep = append(keep, i)
		}
	}
	if len(keep) < p.Len() {
		e.log.Warn("[Predict] dropped %d of %d predictions with missing estimates", p.Len()-len(keep), p.Len())
		p = p.Take(keep)
	}
	return p, nil
}

// normalize checks row multiplicity and fills row identifiers. Adapters that omit RowID
// must emit rows group by group, each group in grid order.
func normalize(p *frame.Prediction, nrow int) error {
	groups := 1
	if p.Group != nil {
		if len(p.Group) != len(p.Estimate) {
			return fmt.Errorf("%d group labels for %d estimates", len(p.Group), len(p.Estimate))
		}
		seen := make(map[string]bool)
		for _, g := range p.Group {
			seen[g] = true
		}
		groups = len(seen)
	}
	if len(p.Estimate) != nrow*groups {
		return fmt.Errorf("%d estimates for %d grid rows x %d groups", len(p.Estimate), nrow, groups)
	}

	if p.RowID == nil {
		p.RowID = make([]int, len(p.Estimate))
		for i := range p.RowID {
			p.RowID[i] = i % maxInt(nrow, 1)
		}
	}
	if len(p.RowID) != len(p.Estimate) {
		return fmt.Errorf("%d row ids for %d estimates", len(p.RowID), len(p.Estimate))
	}
	for _, id := range p.RowID {
		if id < 0 || id >= nrow {
			return fmt.Errorf("row id %d outside grid of %d rows", id, nrow)
		}
	}
	if p.Draws != nil && p.Draws.Rows() != len(p.Estimate) {
		return fmt.Errorf("%d draw rows for %d estimates", p.Draws.Rows(), len(p.Estimate))
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
