package app

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"gomargins/adapters/glm"
	"gomargins/domain/core"
	"gomargins/domain/frame"
	"gomargins/internal"
	"gomargins/internal/aggregate"
	"gomargins/internal/config"
	"gomargins/internal/contrast"
	"gomargins/internal/grid"
	"gomargins/internal/hypothesis"
	"gomargins/internal/testkit"
	"gomargins/ports"
)

func sample() *frame.Frame {
	return frame.MustNew(
		frame.NewNumeric("x", []float64{0, 1, 2, 3}),
		frame.NewCategorical("g", []string{"a", "b", "c", "a"}),
	)
}

func service() *MarginsService {
	return NewMarginsService(config.Default(), internal.Discard)
}

// line is y = 1 + 2x with vcov 0.01 * I
func line() *testkit.Linear {
	return testkit.NewLinear(sample(), 1, testkit.Coef{Var: "x", Value: 2})
}

func TestPredictionsDeltaMethod(t *testing.T) {
	ef, err := service().Predictions(context.Background(), line(), Options{})
	require.NoError(t, err)
	assert.Equal(t, frame.SourceDelta, ef.Source)
	assert.Equal(t, 0.95, ef.ConfLevel)
	require.Equal(t, 4, ef.Len())
	for i, x := range []float64{0, 1, 2, 3} {
		r := ef.Rows[i]
		se := 0.1 * math.Sqrt(1+x*x)
		assert.InDelta(t, 1+2*x, r.Estimate, 1e-12)
		assert.InDelta(t, se, r.StdError, 1e-6)
		assert.InDelta(t, r.Estimate-1.959964*se, r.ConfLow, 1e-5)
	}

	avg, err := service().Predictions(context.Background(), line(), Options{By: aggregate.By{All: true}})
	require.NoError(t, err)
	require.Equal(t, 1, avg.Len())
	assert.InDelta(t, 4.0, avg.Rows[0].Estimate, 1e-12)
	assert.InDelta(t, 0.1*math.Sqrt(1+1.5*1.5), avg.Rows[0].StdError, 1e-6)
}

func TestPredictionsOnTypicalGrid(t *testing.T) {
	ef, err := service().Predictions(context.Background(), line(), Options{
		Grid: GridSpec{Kind: GridTypical, Settings: []grid.Setting{grid.Set("x", grid.Numbers(10, 20))}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, ef.KeyNames)
	assert.Equal(t, []float64{21, 41}, ef.Estimates())
	assert.Equal(t, []string{"10"}, ef.Rows[0].Keys)
}

func TestComparisonsAndHypothesis(t *testing.T) {
	m := testkit.NewLinear(sample(), 0,
		testkit.Coef{Var: "g", Level: "b", Value: 1}, testkit.Coef{Var: "g", Level: "c", Value: 3})

	ef, err := service().Comparisons(context.Background(), m, Options{By: aggregate.By{All: true}})
	require.NoError(t, err)
	require.Equal(t, 2, ef.Len())
	assert.Equal(t, "b - a", ef.Rows[0].Contrast)
	assert.InDelta(t, 1.0, ef.Rows[0].Estimate, 1e-12)
	assert.InDelta(t, 0.1, ef.Rows[0].StdError, 1e-6)

	ef, err = service().Comparisons(context.Background(), m, Options{
		By: aggregate.By{All: true}, Hypothesis: hypothesis.Pairwise(),
	})
	require.NoError(t, err)
	require.Equal(t, 1, ef.Len())
	assert.InDelta(t, -2.0, ef.Rows[0].Estimate, 1e-12)
	assert.InDelta(t, 0.1*math.Sqrt2, ef.Rows[0].StdError, 1e-6)
}

func TestSlopesAverage(t *testing.T) {
	ef, err := service().Slopes(context.Background(), line(), Options{
		Variables: []contrast.Variable{{Name: "x"}}, Transform: "dydxavg",
	})
	require.NoError(t, err)
	require.Equal(t, 1, ef.Len())
	assert.InDelta(t, 2.0, ef.Rows[0].Estimate, 1e-6)
	assert.InDelta(t, 0.1, ef.Rows[0].StdError, 1e-4)
}

func TestMarginalMeans(t *testing.T) {
	m := testkit.NewLinear(sample(), 1, testkit.Coef{Var: "x", Value: 2},
		testkit.Coef{Var: "g", Level: "b", Value: 1}, testkit.Coef{Var: "g", Level: "c", Value: 3})
	ef, err := service().MarginalMeans(context.Background(), m, nil, Options{})
	require.NoError(t, err)
	require.Equal(t, 3, ef.Len())
	assert.InDeltaSlice(t, []float64{4, 5, 7}, ef.Estimates(), 1e-12)
	assert.Equal(t, "g", ef.Rows[0].Term)
	assert.InDelta(t, 0.1*math.Sqrt(1+1.5*1.5), ef.Rows[0].StdError, 1e-6)

	_, err = service().MarginalMeans(context.Background(), line(), nil, Options{})
	assert.True(t, errors.Is(err, core.ErrInvalidOption), "no categorical terms")

	_, err = service().MarginalMeans(context.Background(), m, []string{"h"}, Options{})
	assert.True(t, errors.Is(err, core.ErrUnknownVariable))
}

func TestMarginalMeansByAndSettings(t *testing.T) {
	data := frame.MustNew(
		frame.NewNumeric("x", []float64{0, 1, 2, 3}),
		frame.NewCategorical("g", []string{"a", "b", "c", "a"}),
		frame.NewCategorical("h", []string{"u", "v", "u", "v"}),
	)
	m := testkit.NewLinear(data, 1, testkit.Coef{Var: "x", Value: 2},
		testkit.Coef{Var: "g", Level: "b", Value: 1}, testkit.Coef{Var: "g", Level: "c", Value: 3},
		testkit.Coef{Var: "h", Level: "v", Value: 10})
	ctx := context.Background()

	ef, err := service().MarginalMeans(ctx, m, []string{"g"}, Options{By: aggregate.By{Columns: []string{"h"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"value", "h"}, ef.KeyNames)
	require.Equal(t, 6, ef.Len())
	got := make(map[string]float64)
	for _, r := range ef.Rows {
		assert.Equal(t, "g", r.Term)
		got[r.Keys[0]+"|"+r.Keys[1]] = r.Estimate
	}
	want := map[string]float64{"a|u": 4, "a|v": 14, "b|u": 5, "b|v": 15, "c|u": 7, "c|v": 17}
	for k, v := range want {
		assert.InDelta(t, v, got[k], 1e-12, k)
	}

	// x held at 0 instead of its mean; h still balanced
	ef, err = service().MarginalMeans(ctx, m, []string{"g"}, Options{
		Grid: GridSpec{Settings: []grid.Setting{grid.Set("x", grid.Numbers(0))}},
	})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{6, 7, 9}, ef.Estimates(), 1e-12)

	_, err = service().MarginalMeans(ctx, m, []string{"g"}, Options{Grid: GridSpec{Kind: GridTypical}})
	assert.True(t, errors.Is(err, core.ErrInvalidOption), "typical grid")
	_, err = service().MarginalMeans(ctx, m, []string{"g"}, Options{By: aggregate.By{All: true}})
	assert.True(t, errors.Is(err, core.ErrInvalidOption), "by all")
	_, err = service().MarginalMeans(ctx, m, []string{"g"}, Options{By: aggregate.By{Columns: []string{"g"}}})
	assert.True(t, errors.Is(err, core.ErrInvalidOption), "term used as by column")
}

func TestHypothesesOnCoefficients(t *testing.T) {
	m := testkit.NewLinear(sample(), 2, testkit.Coef{Var: "x", Value: 2})
	ef, err := service().Hypotheses(context.Background(), m, Options{Hypothesis: hypothesis.Expr("b1 = b2")})
	require.NoError(t, err)
	require.Equal(t, 1, ef.Len())
	assert.InDelta(t, 0.0, ef.Rows[0].Estimate, 1e-12)
	assert.InDelta(t, 0.1*math.Sqrt2, ef.Rows[0].StdError, 1e-6)
	assert.InDelta(t, 1.0, ef.Rows[0].PValue, 1e-9)

	named, err := service().Hypotheses(context.Background(), m, Options{Hypothesis: hypothesis.Null(2)})
	require.NoError(t, err)
	assert.Equal(t, "(Intercept)", named.Rows[0].Term)
	assert.InDelta(t, 1.0, named.Rows[0].PValue, 1e-9)
}

func TestEquivalence(t *testing.T) {
	ef, err := service().Predictions(context.Background(), line(), Options{
		By: aggregate.By{All: true}, Equivalence: []float64{3, 5},
	})
	require.NoError(t, err)
	r := ef.Rows[0]
	assert.InDelta(t, r.PNonInf, r.PNonSup, 1e-9)
	assert.Less(t, r.PEquiv, 0.001)

	_, err = service().Predictions(context.Background(), line(), Options{Equivalence: []float64{3}})
	assert.True(t, errors.Is(err, core.ErrInvalidOption))
}

func TestSimulationIsSeeded(t *testing.T) {
	opts := Options{By: aggregate.By{All: true}, Uncertainty: Uncertainty{Simulation: 1000}}
	a, err := service().Predictions(context.Background(), line(), opts)
	require.NoError(t, err)
	b, err := service().Predictions(context.Background(), line(), opts)
	require.NoError(t, err)
	assert.Equal(t, frame.SourceSimulation, a.Source)
	assert.Equal(t, a.Rows[0].StdError, b.Rows[0].StdError)
	assert.InDelta(t, 0.18, a.Rows[0].StdError, 0.02)
	assert.InDelta(t, 4.0, a.Rows[0].Estimate, 1e-12, "simulation keeps the point estimate")
}

func TestBootstrapRefitsModel(t *testing.T) {
	data := testkit.Generate(testkit.DefaultGeneratorConfig())
	m, err := glm.Fit(context.Background(), glm.Gaussian, "y ~ x + g", data)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Workers = 4
	svc := NewMarginsService(cfg, internal.Discard)
	ef, err := svc.Comparisons(context.Background(), m, Options{
		Variables: []contrast.Variable{{Name: "x"}}, By: aggregate.By{All: true},
		Uncertainty: Uncertainty{Bootstrap: &Bootstrap{R: 100, Refit: m.Refitter()}},
	})
	require.NoError(t, err)
	assert.Equal(t, frame.SourceBootstrap, ef.Source)
	r := ef.Rows[0]
	assert.Greater(t, r.StdError, 0.0)
	assert.Less(t, r.ConfLow, r.Estimate)
	assert.Greater(t, r.ConfHigh, r.Estimate)

	delta, err := svc.Comparisons(context.Background(), m, Options{
		Variables: []contrast.Variable{{Name: "x"}}, By: aggregate.By{All: true},
	})
	require.NoError(t, err)
	assert.InDelta(t, delta.Rows[0].Estimate, r.Estimate, 1e-12)
	assert.InDelta(t, delta.Rows[0].StdError, r.StdError, delta.Rows[0].StdError)
}

func TestPosteriorDraws(t *testing.T) {
	m := line()
	m.Draws = 5
	ef, err := service().Predictions(context.Background(), m, Options{Uncertainty: Uncertainty{Posterior: true}})
	require.NoError(t, err)
	assert.Equal(t, frame.SourcePosterior, ef.Source)
	// draws are symmetric around the prediction, so the median is the prediction
	assert.InDeltaSlice(t, []float64{1, 3, 5, 7}, ef.Estimates(), 1e-12)
	assert.InDelta(t, 0.1*math.Sqrt(2.5), ef.Rows[0].StdError, 1e-12)

	_, err = service().Predictions(context.Background(), line(), Options{Uncertainty: Uncertainty{Posterior: true}})
	assert.True(t, errors.Is(err, core.ErrDrawFailed))
}

func TestDisabledVcov(t *testing.T) {
	ef, err := service().Predictions(context.Background(), line(), Options{
		Uncertainty: Uncertainty{Vcov: ports.Disabled()},
	})
	require.NoError(t, err)
	assert.Equal(t, frame.SourceNone, ef.Source)
	assert.True(t, math.IsNaN(ef.Rows[0].StdError))
	assert.True(t, math.IsNaN(ef.Rows[0].PValue))
}

func TestPrecomputedVcov(t *testing.T) {
	v := mat.NewSymDense(2, []float64{0.04, 0, 0, 0})
	ef, err := service().Predictions(context.Background(), line(), Options{
		Uncertainty: Uncertainty{Vcov: ports.VcovSpec{Kind: ports.VcovMatrix, Matrix: v}},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.2, ef.Rows[3].StdError, 1e-9)

	_, err = service().Predictions(context.Background(), line(), Options{
		Uncertainty: Uncertainty{Vcov: ports.VcovSpec{Kind: ports.VcovMatrix, Matrix: mat.NewSymDense(3, nil)}},
	})
	assert.True(t, errors.Is(err, core.ErrInvalidOption))
}

func TestOptionErrors(t *testing.T) {
	cases := map[string]Options{
		"conf level":   {ConfLevel: 1.5},
		"two sources":  {Uncertainty: Uncertainty{Simulation: 10, Posterior: true}},
		"data grid":    {Grid: GridSpec{Settings: []grid.Setting{grid.Set("x", grid.Numbers(1))}}},
		"grid kind":    {Grid: GridSpec{Kind: "diagonal"}},
		"weights":      {Weights: []float64{1, 2}},
		"weights both": {Weights: []float64{1, 1, 1, 1}, WeightsBy: "x"},
		"weights kind": {WeightsBy: "g"},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := service().Predictions(context.Background(), line(), opts)
			assert.True(t, errors.Is(err, core.ErrInvalidOption), "%v", err)
		})
	}

	_, err := service().Comparisons(context.Background(), line(), Options{Transform: "nope"})
	assert.Error(t, err)
}

func TestCovarianceErrorsPropagate(t *testing.T) {
	m := &testkit.MockModel{}
	m.On("Family").Return("mock")
	m.On("Coefficients").Return(ports.Coefficients{Names: []string{"b"}, Values: []float64{1}})
	m.On("Data").Return(sample())
	m.On("Predict", mock.Anything, mock.Anything, mock.Anything).
		Return(&frame.Prediction{Estimate: []float64{1, 1, 1, 1}}, nil)
	m.On("Covariance", mock.Anything).Return(nil, core.ErrUnsupportedOperation)

	_, err := service().Predictions(context.Background(), m, Options{})
	assert.True(t, errors.Is(err, core.ErrUnsupportedOperation))
	m.AssertNotCalled(t, "WithCoefficients", mock.Anything)
}

func TestComputeDispatch(t *testing.T) {
	pred, err := service().Compute(context.Background(), line(), Options{By: aggregate.By{All: true}})
	require.NoError(t, err)
	assert.InDelta(t, 4.0, pred.Rows[0].Estimate, 1e-12)

	slope, err := service().Compute(context.Background(), line(), Options{Slopes: true, By: aggregate.By{All: true}})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, slope.Rows[0].Estimate, 1e-6)
}

func TestComputeDerivativeTransformsAreSlopes(t *testing.T) {
	m := testkit.NewLinear(sample(), -0.5, testkit.Coef{Var: "x", Value: 1.3})
	m.Logit = true
	ctx := context.Background()
	vars := []contrast.Variable{{Name: "x"}}

	for _, name := range []string{"dydx", "eyex", "eydx", "dyex"} {
		want, err := service().Slopes(ctx, m, Options{Variables: vars, Transform: name})
		require.NoError(t, err)
		got, err := service().Compute(ctx, m, Options{Variables: vars, Transform: name})
		require.NoError(t, err)
		require.Equal(t, want.Len(), got.Len())
		assert.InDeltaSlice(t, want.Estimates(), got.Estimates(), 1e-6, name)
		for i := range want.Rows {
			assert.Equal(t, want.Rows[i].Contrast, got.Rows[i].Contrast, name)
		}

		cmp, err := service().Comparisons(ctx, m, Options{Variables: vars, Transform: name})
		require.NoError(t, err)
		assert.InDeltaSlice(t, want.Estimates(), cmp.Estimates(), 1e-6, name)
	}

	ef, err := service().Compute(ctx, m, Options{Variables: vars, Transform: "dydx"})
	require.NoError(t, err)
	for i, x := range []float64{0, 1, 2, 3} {
		p := 1 / (1 + math.Exp(0.5-1.3*x))
		assert.InDelta(t, 1.3*p*(1-p), ef.Rows[i].Estimate, 1e-6)
		assert.Equal(t, "dY/dX", ef.Rows[i].Contrast)
	}
}
