package app

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"gomargins/domain/core"
	"gomargins/domain/frame"
	"gomargins/internal"
	"gomargins/internal/aggregate"
	"gomargins/internal/config"
	"gomargins/internal/contrast"
	"gomargins/internal/delta"
	"gomargins/internal/grid"
	"gomargins/internal/hypothesis"
	"gomargins/internal/inference"
	"gomargins/internal/predict"
	"gomargins/ports"
)

// MarginsService computes predictions, comparisons, slopes, marginal means and
// hypothesis tests for any ports.Model.
type MarginsService struct {
	cfg config.Config
	log *internal.Logger
	eng *predict.Engine
}

// NewMarginsService creates a service using cfg for every call
func NewMarginsService(cfg config.Config, log *internal.Logger) *MarginsService {
	if log == nil {
		log = internal.DefaultLogger
	}
	return &MarginsService{cfg: cfg, log: log, eng: predict.NewEngine(log)}
}

// Config returns the configuration the service was built with
func (s *MarginsService) Config() config.Config {
	return s.cfg
}

// Compute is the general estimand surface. Without variables, transform or slopes it
// reports predictions. Derivative transforms (dydx, eyex, eydx, dyex and their averages)
// report slopes; every other transform reports contrasts.
func (s *MarginsService) Compute(ctx context.Context, m ports.Model, opts Options) (*frame.EstimateFrame, error) {
	if len(opts.Variables) == 0 && opts.Transform == "" && opts.Custom == nil && !opts.Slopes {
		return s.Predictions(ctx, m, opts)
	}
	if opts.Slopes {
		return s.Slopes(ctx, m, opts)
	}
	if t, err := s.transform(opts); err == nil && t.Scaled {
		return s.Slopes(ctx, m, opts)
	}
	return s.Comparisons(ctx, m, opts)
}

// Predictions reports adjusted predictions on the grid, optionally averaged by opts.By
func (s *MarginsService) Predictions(ctx context.Context, m ports.Model, opts Options) (*frame.EstimateFrame, error) {
	g, err := s.grid(m, opts.Grid)
	if err != nil {
		return nil, err
	}
	weights, err := resolveWeights(g, opts)
	if err != nil {
		return nil, err
	}
	var keys []string
	if opts.By.Empty() {
		keys = settingNames(opts.Grid)
	}
	ev := &predictionEvaluator{
		grid: g, eng: s.eng, scale: opts.Scale, keyNames: keys, weights: weights, by: opts.By,
	}
	return s.run(ctx, "predictions", m, ev, opts)
}

// Comparisons reports contrasts of the requested variables (default: every model term)
// through a named transform (default: difference).
func (s *MarginsService) Comparisons(ctx context.Context, m ports.Model, opts Options) (*frame.EstimateFrame, error) {
	if opts.Transform == "" && opts.Custom == nil {
		opts.Transform = "difference"
	}
	return s.contrasts(ctx, "comparisons", m, opts)
}

// Slopes reports partial derivatives (default transform dydx)
func (s *MarginsService) Slopes(ctx context.Context, m ports.Model, opts Options) (*frame.EstimateFrame, error) {
	if opts.Transform == "" && opts.Custom == nil {
		opts.Transform = "dydx"
	}
	opts.Slopes = true
	return s.contrasts(ctx, "slopes", m, opts)
}

// MarginalMeans averages predictions over a balanced grid, one block of rows per term.
// Terms default to every categorical or logical model term. Grid settings replace the
// balanced values of their variable, and opts.By splits each term's means by grid columns.
func (s *MarginsService) MarginalMeans(ctx context.Context, m ports.Model, terms []string, opts Options) (*frame.EstimateFrame, error) {
	if opts.By.All {
		return nil, core.NewOptionError("by", "marginal means are reported per term; by takes grid columns")
	}
	data := m.Data()
	if len(terms) == 0 {
		for _, t := range m.Terms() {
			if c, err := data.Column(t); err == nil && !c.IsNumeric() {
				terms = append(terms, t)
			}
		}
	}
	if len(terms) == 0 {
		return nil, core.NewOptionError("terms", "marginal means need at least one categorical term")
	}
	g := opts.Grid.Frame
	if g == nil {
		if k := opts.Grid.Kind; k != "" && k != GridBalanced {
			return nil, core.NewOptionError("grid", fmt.Sprintf("marginal means use a balanced grid, not %q; pass Grid.Frame for a custom grid", k))
		}
		var err error
		if g, err = grid.Balanced(data, m.Terms(), opts.Grid.Settings...); err != nil {
			return nil, err
		}
	}
	for _, t := range terms {
		if !g.Has(t) {
			return nil, core.NewUnknownVariableError(t, g.Names())
		}
		for _, name := range opts.By.Names() {
			if name == t {
				return nil, core.NewOptionError("by", fmt.Sprintf("%s is both a term and a by column", t))
			}
		}
	}
	weights, err := resolveWeights(g, opts)
	if err != nil {
		return nil, err
	}
	ev := &predictionEvaluator{grid: g, eng: s.eng, scale: opts.Scale, weights: weights, marginal: terms, by: opts.By}
	return s.run(ctx, "marginal_means", m, ev, opts)
}

// Hypotheses tests opts.Hypothesis directly on the model coefficients
func (s *MarginsService) Hypotheses(ctx context.Context, m ports.Model, opts Options) (*frame.EstimateFrame, error) {
	return s.run(ctx, "hypotheses", m, coefficientEvaluator{}, opts)
}

func (s *MarginsService) contrasts(ctx context.Context, kind string, m ports.Model, opts Options) (*frame.EstimateFrame, error) {
	t, err := s.transform(opts)
	if err != nil {
		return nil, err
	}
	g, err := s.grid(m, opts.Grid)
	if err != nil {
		return nil, err
	}
	weights, err := resolveWeights(g, opts)
	if err != nil {
		return nil, err
	}
	vars := opts.Variables
	if len(vars) == 0 {
		for _, term := range m.Terms() {
			vars = append(vars, contrast.Variable{Name: term})
		}
	}
	var keys []string
	if opts.By.Empty() && !t.Averaged {
		keys = settingNames(opts.Grid)
	}
	plan, err := contrast.NewPlan(m.Data(), g, contrast.Options{
		Variables: vars, Transform: t, Cross: opts.Cross, Slopes: opts.Slopes || t.Scaled,
		StepRelative: s.cfg.StepRelative, By: opts.By, Weights: weights, KeyColumns: keys,
	})
	if err != nil {
		return nil, err
	}
	ev := &contrastEvaluator{plan: plan, eng: s.eng, scale: opts.Scale}
	return s.run(ctx, kind, m, ev, opts)
}

// run evaluates the estimand, attaches uncertainty, applies the hypothesis and
// finalizes statistics and intervals.
func (s *MarginsService) run(ctx context.Context, kind string, m ports.Model, ev evaluator, opts Options) (*frame.EstimateFrame, error) {
	log := s.log.With("call", core.NewCallID().String())
	conf := opts.ConfLevel
	if conf == 0 {
		conf = s.cfg.ConfLevel
	}
	if err := inference.CheckLevel(conf); err != nil {
		return nil, err
	}
	if err := checkUncertainty(opts.Uncertainty); err != nil {
		return nil, err
	}
	log.Debug("[MarginsService] %s with %s (%d coefficients)", kind, m.Family(), m.Coefficients().Len())

	// 1. Point estimates
	e, err := ev.evaluate(ctx, m)
	if err != nil {
		return nil, err
	}
	t, err := e.table(contrast.PointEstimate)
	if err != nil {
		return nil, err
	}
	ef := fromTable(t, conf, opts.DF)
	base := ef.Estimates()
	pipeline := func(ctx context.Context, mm ports.Model) ([]float64, error) {
		return estimates(ctx, ev, mm)
	}

	// 2. Uncertainty source
	var (
		vcov      *mat.SymDense
		jackknife [][]float64
	)
	u := opts.Uncertainty
	resampler := inference.Resampler{Workers: s.cfg.Workers, Seed: uint64(s.cfg.Seed), Log: log}
	switch {
	case u.Posterior:
		if ef.Draws, err = posteriorDraws(e, ef.Len()); err != nil {
			return nil, err
		}
		ef.Source = frame.SourcePosterior

	case u.Bootstrap != nil:
		data := m.Data()
		if ef.Draws, err = resampler.Bootstrap(ctx, data, u.Bootstrap.R, u.Bootstrap.Refit, pipeline, ef.Len()); err != nil {
			return nil, err
		}
		if u.Bootstrap.Type == inference.BCa {
			if jackknife, err = resampler.Jackknife(ctx, data, u.Bootstrap.Refit, pipeline); err != nil {
				return nil, err
			}
		}
		ef.Source = frame.SourceBootstrap

	case u.Simulation > 0:
		if vcov, err = s.covariance(m, u.Vcov); err != nil {
			return nil, err
		}
		if ef.Draws, err = resampler.Simulate(ctx, m, vcov, u.Simulation, pipeline, ef.Len()); err != nil {
			return nil, err
		}
		ef.Source = frame.SourceSimulation

	case opts.wantsDelta():
		if vcov, err = s.covariance(m, u.Vcov); err != nil {
			return nil, err
		}
		jac, err := delta.Jacobian(ctx, m, pipeline, base, delta.Options{
			Step: s.cfg.JacobianStep, Method: delta.Method(s.cfg.JacobianMethod), Workers: s.cfg.Workers, Log: log,
		})
		if err != nil {
			return nil, err
		}
		ef.Jacobian, ef.Vcov = jac, vcov
		ef.Source = frame.SourceDelta

	default:
		ef.Source = frame.SourceNone
	}

	// 3. Hypothesis
	if opts.Hypothesis != nil {
		if jackknife != nil {
			fn, err := hypothesis.Compile(ef, opts.Hypothesis)
			if err != nil {
				return nil, err
			}
			for i, v := range jackknife {
				if jackknife[i], err = fn.Eval(v); err != nil {
					return nil, err
				}
			}
		}
		if ef, err = hypothesis.Apply(ef, opts.Hypothesis); err != nil {
			return nil, err
		}
	}

	// 4. Standard errors, statistics and intervals
	switch ef.Source {
	case frame.SourceDelta:
		se, err := delta.StdErrors(ef.Jacobian, ef.Vcov)
		if err != nil {
			log.Warn("[MarginsService] %v", err)
			return nil, err
		}
		for i := range ef.Rows {
			ef.Rows[i].StdError = se[i]
		}
		if err := inference.Finalize(ef); err != nil {
			return nil, err
		}
	case frame.SourceNone:
	default:
		err := inference.Summarize(ef, inference.DrawOptions{
			Center: s.cfg.PosteriorCenter, Interval: s.cfg.PosteriorInterval,
			Type: bootType(u), Jackknife: jackknife,
		})
		if err != nil {
			return nil, err
		}
	}

	// 5. Equivalence
	switch len(opts.Equivalence) {
	case 0:
	case 2:
		if err := hypothesis.Equivalence(ef, opts.Equivalence[0], opts.Equivalence[1]); err != nil {
			return nil, err
		}
	default:
		return nil, core.NewOptionError("equivalence", "expected [low, high]")
	}

	log.Debug("[MarginsService] %s done: %d estimates, uncertainty %s", kind, ef.Len(), ef.Source)
	return ef, nil
}

func (s *MarginsService) transform(opts Options) (contrast.Transform, error) {
	if opts.Custom != nil {
		return *opts.Custom, nil
	}
	return contrast.Lookup(opts.Transform)
}

func (s *MarginsService) grid(m ports.Model, spec GridSpec) (*frame.Frame, error) {
	if spec.Frame != nil {
		return spec.Frame, nil
	}
	data := m.Data()
	switch spec.Kind {
	case "", GridData:
		if len(spec.Settings) > 0 {
			return nil, core.NewOptionError("grid", "settings need a typical, counterfactual or balanced grid")
		}
		return data, nil
	case GridTypical:
		return grid.Typical(data, spec.Settings...)
	case GridCounterfactual:
		return grid.Counterfactual(data, spec.Settings...)
	case GridBalanced:
		return grid.Balanced(data, m.Terms(), spec.Settings...)
	}
	return nil, core.NewOptionError("grid", fmt.Sprintf("unknown grid kind %q", spec.Kind))
}

// covariance resolves a VcovSpec; the engine handles precomputed matrices itself
func (s *MarginsService) covariance(m ports.Model, spec ports.VcovSpec) (*mat.SymDense, error) {
	k := m.Coefficients().Len()
	switch spec.Kind {
	case ports.VcovMatrix:
		if spec.Matrix == nil || spec.Matrix.SymmetricDim() != k {
			return nil, core.NewOptionError("vcov", fmt.Sprintf("precomputed matrix must be %dx%d", k, k))
		}
		return spec.Matrix, nil
	case "":
		spec = ports.Analytic()
	}
	v, err := m.Covariance(spec)
	if err != nil {
		return nil, err
	}
	if v.SymmetricDim() != k {
		return nil, fmt.Errorf("%w: covariance is %dx%d for %d coefficients",
			core.ErrSingularCovariance, v.SymmetricDim(), v.SymmetricDim(), k)
	}
	return v, nil
}

func checkUncertainty(u Uncertainty) error {
	n := 0
	if u.Bootstrap != nil {
		n++
	}
	if u.Simulation > 0 {
		n++
	}
	if u.Posterior {
		n++
	}
	if n > 1 {
		return core.NewOptionError("uncertainty", "bootstrap, simulation and posterior draws are mutually exclusive")
	}
	if u.Simulation < 0 {
		return core.NewOptionError("uncertainty", "simulation draws must be positive")
	}
	return nil
}

func bootType(u Uncertainty) string {
	if u.Bootstrap == nil {
		return ""
	}
	return u.Bootstrap.Type
}

func posteriorDraws(e evaluation, n int) (*frame.Draws, error) {
	d := e.draws()
	if d == 0 {
		return nil, fmt.Errorf("%w: posterior uncertainty requested but predictions carry no draws", core.ErrDrawFailed)
	}
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, d)
	}
	for j := 0; j < d; j++ {
		t, err := e.table(j)
		if err != nil {
			return nil, fmt.Errorf("%w: draw %d: %v", core.ErrDrawFailed, j+1, err)
		}
		if len(t.Rows) != n {
			return nil, fmt.Errorf("%w: draw %d yields %d estimates, want %d", core.ErrDrawFailed, j+1, len(t.Rows), n)
		}
		for i, r := range t.Rows {
			rows[i][j] = r.Estimate
		}
	}
	return frame.DrawsFromRows(rows)
}

func fromTable(t *aggregate.Table, conf, df float64) *frame.EstimateFrame {
	ef := &frame.EstimateFrame{
		KeyNames: t.KeyNames, ConfLevel: conf, DF: df, AggregatedBy: t.AggregatedBy,
	}
	for _, r := range t.Rows {
		ef.Rows = append(ef.Rows, frame.NewEstimateRow(r.Term, r.Contrast, r.Group, r.Keys, r.Estimate))
	}
	return ef
}

func resolveWeights(g *frame.Frame, opts Options) ([]float64, error) {
	switch {
	case opts.Weights != nil && opts.WeightsBy != "":
		return nil, core.NewOptionError("weights", "give either weights or a weights column")
	case opts.Weights != nil:
		if len(opts.Weights) != g.NRow() {
			return nil, core.NewOptionError("weights", fmt.Sprintf("%d weights for %d grid rows", len(opts.Weights), g.NRow()))
		}
		return opts.Weights, nil
	case opts.WeightsBy != "":
		c, err := g.Column(opts.WeightsBy)
		if err != nil {
			return nil, err
		}
		if !c.IsNumeric() {
			return nil, core.NewOptionError("weights", opts.WeightsBy+" is not numeric")
		}
		for _, w := range c.Num {
			if w < 0 || math.IsNaN(w) {
				return nil, core.NewOptionError("weights", "negative or missing weight in "+opts.WeightsBy)
			}
		}
		return c.Num, nil
	}
	return nil, nil
}

func settingNames(spec GridSpec) []string {
	var out []string
	for _, st := range spec.Settings {
		out = append(out, st.Name)
	}
	return out
}
