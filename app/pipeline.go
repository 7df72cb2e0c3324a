package app

import (
	"context"

	"gomargins/domain/frame"
	"gomargins/internal/aggregate"
	"gomargins/internal/contrast"
	"gomargins/internal/predict"
	"gomargins/ports"
)

// evaluator runs the prediction step of an estimand for one model
type evaluator interface {
	evaluate(ctx context.Context, m ports.Model) (evaluation, error)
}

// evaluation reduces cached predictions to a table, for the point predictions or one draw
type evaluation interface {
	table(draw int) (*aggregate.Table, error)
	draws() int
}

// estimates runs ev on m and returns the point estimates
func estimates(ctx context.Context, ev evaluator, m ports.Model) ([]float64, error) {
	e, err := ev.evaluate(ctx, m)
	if err != nil {
		return nil, err
	}
	t, err := e.table(contrast.PointEstimate)
	if err != nil {
		return nil, err
	}
	return t.Estimates(), nil
}

type contrastEvaluator struct {
	plan  *contrast.Plan
	eng   *predict.Engine
	scale string
}

type contrastEvaluation struct {
	plan *contrast.Plan
	set  *contrast.Predictions
}

func (c *contrastEvaluator) evaluate(ctx context.Context, m ports.Model) (evaluation, error) {
	set, err := c.plan.Predict(ctx, c.eng, m, c.scale)
	if err != nil {
		return nil, err
	}
	return &contrastEvaluation{plan: c.plan, set: set}, nil
}

func (c *contrastEvaluation) table(draw int) (*aggregate.Table, error) {
	return c.plan.Reduce(c.set, draw)
}

func (c *contrastEvaluation) draws() int { return c.set.Draws() }

type predictionEvaluator struct {
	grid     *frame.Frame
	eng      *predict.Engine
	scale    string
	keyNames []string
	weights  []float64
	by       aggregate.By

	// marginal lists terms whose balanced-grid means are reported one term at a time
	marginal []string
}

type predictionEvaluation struct {
	*predictionEvaluator
	pred *frame.Prediction
}

func (p *predictionEvaluator) evaluate(ctx context.Context, m ports.Model) (evaluation, error) {
	pred, err := p.eng.Run(ctx, m, p.grid, p.scale)
	if err != nil {
		return nil, err
	}
	return &predictionEvaluation{predictionEvaluator: p, pred: pred}, nil
}

func (p *predictionEvaluation) table(draw int) (*aggregate.Table, error) {
	est := p.pred.Estimate
	if draw != contrast.PointEstimate {
		est = p.pred.Draws.Draw(draw)
	}
	if len(p.marginal) > 0 {
		return p.marginalMeans(est)
	}
	t, err := aggregate.FromPredictions(p.pred, p.grid, p.keyNames, p.weights, est)
	if err != nil {
		return nil, err
	}
	return aggregate.Aggregate(t, p.by, aggregate.Reducer{})
}

// marginalMeans averages predictions over the balanced grid separately for each term,
// within the groups of p.by when given
func (p *predictionEvaluation) marginalMeans(est []float64) (*aggregate.Table, error) {
	out := &aggregate.Table{KeyNames: append([]string{"value"}, p.by.Names()...), Grid: p.grid}
	for _, term := range p.marginal {
		t, err := aggregate.FromPredictions(p.pred, p.grid, nil, p.weights, est)
		if err != nil {
			return nil, err
		}
		by := aggregate.By{Columns: append([]string{term}, p.by.Columns...), Maps: p.by.Maps}
		agg, err := aggregate.Aggregate(t, by, aggregate.Reducer{})
		if err != nil {
			return nil, err
		}
		for _, r := range agg.Rows {
			r.Term = term
			out.Rows = append(out.Rows, r)
		}
	}
	return out, nil
}

func (p *predictionEvaluation) draws() int { return p.pred.Draws.Len() }

// coefficientEvaluator reports the model coefficients themselves
type coefficientEvaluator struct{}

type coefficientEvaluation struct {
	coef ports.Coefficients
}

func (coefficientEvaluator) evaluate(_ context.Context, m ports.Model) (evaluation, error) {
	return coefficientEvaluation{coef: m.Coefficients()}, nil
}

func (c coefficientEvaluation) table(int) (*aggregate.Table, error) {
	t := &aggregate.Table{}
	for i, name := range c.coef.Names {
		v := c.coef.Values[i]
		t.Rows = append(t.Rows, aggregate.Row{Term: name, GridRow: -1, W: 1, Estimate: v})
	}
	return t, nil
}

func (coefficientEvaluation) draws() int { return 0 }
