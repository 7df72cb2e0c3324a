package hypothesis

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"gomargins/domain/core"
	"gomargins/domain/frame"
	"gomargins/internal/inference"
)

// threeRows has estimates 1, 4, 9 and an identity Jacobian
func threeRows() *frame.EstimateFrame {
	ef := &frame.EstimateFrame{Source: frame.SourceDelta, ConfLevel: 0.95}
	for i, term := range []string{"a", "b", "c"} {
		ef.Rows = append(ef.Rows, frame.NewEstimateRow(term, "", "", nil, float64((i+1)*(i+1))))
	}
	ef.Jacobian = mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	return ef
}

func TestPairwiseMatchesManualDifferences(t *testing.T) {
	out, err := Apply(threeRows(), Pairwise())
	require.NoError(t, err)
	require.Equal(t, 3, out.Len())
	assert.Equal(t, []float64{-3, -8, -5}, out.Estimates())
	assert.Equal(t, "(a) - (b)", out.Rows[0].Term)
	assert.Equal(t, "(b) - (c)", out.Rows[2].Term)

	// composed Jacobian is W . J
	assert.Equal(t, []float64{1, -1, 0}, out.Jacobian.RawRowView(0))

	rev, err := Apply(threeRows(), RevPairwise())
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 8, 5}, rev.Estimates())
	assert.Equal(t, "(b) - (a)", rev.Rows[0].Term)
}

func TestKeywords(t *testing.T) {
	cases := []struct {
		name string
		spec Spec
		want []float64
	}{
		{"reference", Reference(), []float64{3, 8}},
		{"revreference", RevReference(), []float64{-3, -8}},
		{"sequential", Sequential(), []float64{3, 5}},
		{"revsequential", RevSequential(), []float64{-3, -5}},
		{"meandev", MeanDev(), []float64{1 - 14.0/3, 4 - 14.0/3, 9 - 14.0/3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := Apply(threeRows(), tc.spec)
			require.NoError(t, err)
			assert.InDeltaSlice(t, tc.want, out.Estimates(), 1e-12)
		})
	}

	out, err := Apply(threeRows(), MeanDev())
	require.NoError(t, err)
	assert.Equal(t, "(a) - mean", out.Rows[0].Term)

	one := threeRows().Take([]int{0})
	_, err = Apply(one, Pairwise())
	assert.True(t, core.IsHypothesisError(err))
}

func TestEqualCoefficientsGiveZero(t *testing.T) {
	ef := threeRows()
	ef.Rows[1].Estimate = ef.Rows[0].Estimate
	out, err := Apply(ef, Expr("b1 = b2"))
	require.NoError(t, err)
	assert.InDelta(t, 0.0, out.Rows[0].Estimate, 1e-12)
	assert.Equal(t, "b1 = b2", out.Rows[0].Term)

	out.Rows[0].StdError = 0.5
	require.NoError(t, inference.Finalize(out))
	assert.InDelta(t, 1.0, out.Rows[0].PValue, 1e-12)
}

func TestExpressionGradient(t *testing.T) {
	out, err := Apply(threeRows(), Expr("b / a", "exp(log(c)) - pow(b1, 2)"))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{4, 8}, out.Estimates(), 1e-9)

	// d(b/a) = (-b/a^2, 1/a, 0) at a=1, b=4
	assert.InDeltaSlice(t, []float64{-4, 1, 0}, out.Jacobian.RawRowView(0), 1e-5)
	assert.InDeltaSlice(t, []float64{-2, 0, 1}, out.Jacobian.RawRowView(1), 1e-5)
}

func TestExpressionErrors(t *testing.T) {
	for _, s := range []string{"b1 = b2 = b3", "= b2", "b7 - b1", "missing + 1", "b1 +"} {
		_, err := Apply(threeRows(), Expr(s))
		assert.Error(t, err, s)
		assert.True(t, errors.Is(err, core.ErrMalformedHypothesis), s)
	}
	_, err := Apply(threeRows(), Expr("'text'"))
	assert.True(t, core.IsHypothesisError(err))

	// comparison operators are not split
	out, err := Apply(threeRows(), Expr("b1 == b1"))
	require.Error(t, err, "a boolean is not a number")
	assert.Nil(t, out)
}

func TestLinearSpecs(t *testing.T) {
	out, err := Apply(threeRows(), Vector(1, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, []float64{14}, out.Estimates())
	assert.Equal(t, "custom", out.Rows[0].Term)

	_, err = Apply(threeRows(), Vector(1, 1))
	assert.True(t, core.IsHypothesisError(err))

	w := mat.NewDense(3, 2, []float64{1, 0, -1, 1, 0, -1})
	out, err = Apply(threeRows(), Matrix(w))
	require.NoError(t, err)
	assert.Equal(t, []float64{-3, -5}, out.Estimates())
	assert.Equal(t, "H2", out.Rows[1].Term)

	_, err = Apply(threeRows(), Matrix(w, "only one"))
	assert.True(t, core.IsHypothesisError(err))
}

func TestNullKeepsRows(t *testing.T) {
	ef := threeRows()
	out, err := Apply(ef, Null(4))
	require.NoError(t, err)
	assert.Equal(t, 4.0, out.Null)
	assert.Equal(t, ef.Estimates(), out.Estimates())
	out.Rows[0].Estimate = 100
	assert.Equal(t, 1.0, ef.Rows[0].Estimate, "input must not be modified")
}

func TestApplyToDraws(t *testing.T) {
	ef := threeRows()
	ef.Jacobian = nil
	ef.Source = frame.SourceBootstrap
	d, err := frame.DrawsFromRows([][]float64{{1, 2}, {4, 6}, {9, 9}})
	require.NoError(t, err)
	ef.Draws = d

	out, err := Apply(ef, Sequential())
	require.NoError(t, err)
	assert.Nil(t, out.Jacobian)
	assert.Equal(t, []float64{3, 4}, out.Draws.Row(0))
	assert.Equal(t, []float64{5, 3}, out.Draws.Row(1))
}

func TestParse(t *testing.T) {
	spec, err := Parse(" 0.5 ")
	require.NoError(t, err)
	assert.Equal(t, Null(0.5), spec)

	spec, err = Parse("Pairwise")
	require.NoError(t, err)
	assert.Equal(t, Pairwise(), spec)

	spec, err = Parse("b1 - b2 = 0")
	require.NoError(t, err)
	assert.Equal(t, Expr("b1 - b2 = 0"), spec)

	_, err = Parse("   ")
	assert.True(t, core.IsHypothesisError(err))
}

func TestCompileEval(t *testing.T) {
	f, err := Compile(threeRows(), Reference())
	require.NoError(t, err)
	v, err := f.Eval([]float64{2, 2, 5})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 3}, v)

	n, err := Compile(threeRows(), Null(0))
	require.NoError(t, err)
	v, err = n.Eval([]float64{7})
	require.NoError(t, err)
	assert.Equal(t, []float64{7}, v)
}

func TestEquivalence(t *testing.T) {
	ef := &frame.EstimateFrame{ConfLevel: 0.95, Rows: []frame.EstimateRow{
		frame.NewEstimateRow("mid", "", "", nil, 0),
		frame.NewEstimateRow("out", "", "", nil, 5),
		frame.NewEstimateRow("unset", "", "", nil, 0),
	}}
	ef.Rows[0].StdError = 0.5
	ef.Rows[1].StdError = 0.5

	require.NoError(t, Equivalence(ef, -1, 1))
	mid := ef.Rows[0]
	// at the midpoint both one-sided tests have z = 2
	assert.InDelta(t, mid.PNonInf, mid.PNonSup, 1e-12)
	assert.InDelta(t, 0.02275, mid.PEquiv, 1e-4)
	assert.Greater(t, ef.Rows[1].PEquiv, 0.99)
	assert.True(t, math.IsNaN(ef.Rows[2].PEquiv))

	assert.True(t, errors.Is(Equivalence(ef, 1, 1), core.ErrInvalidOption))
	assert.Error(t, Equivalence(ef, math.NaN(), 1))
}
