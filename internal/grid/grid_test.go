package grid

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomargins/domain/core"
	"gomargins/domain/frame"
)

func data() *frame.Frame {
	return frame.MustNew(
		frame.NewNumeric("x", []float64{1, 2, 3, 4, 10}),
		frame.NewInteger("n", []float64{1, 1, 2, 2, 2}),
		frame.NewCategorical("g", []string{"a", "b", "b", "c", "b"}),
		frame.NewLogical("d", []bool{true, false, false, true, false}),
	)
}

func TestTypicalHoldsUnsetVariablesAtSummary(t *testing.T) {
	g, err := Typical(data())
	require.NoError(t, err)
	require.Equal(t, 1, g.NRow())

	x, _ := g.Column("x")
	n, _ := g.Column("n")
	grp, _ := g.Column("g")
	d, _ := g.Column("d")
	assert.InDelta(t, 4.0, x.Num[0], 1e-12)
	assert.Equal(t, 2.0, n.Num[0], "integer summary is the rounded mean")
	assert.Equal(t, "b", grp.Str[0], "categorical summary is the mode")
	assert.Equal(t, 0.0, d.Num[0], "logical summary is the majority value")
}

func TestTypicalCrossesSettings(t *testing.T) {
	g, err := Typical(data(), Set("x", Numbers(0, 1)), Set("g", Levels("a", "c")))
	require.NoError(t, err)
	require.Equal(t, 4, g.NRow())

	x, _ := g.Column("x")
	grp, _ := g.Column("g")
	assert.Equal(t, []float64{0, 0, 1, 1}, x.Num, "first setting varies slowest")
	assert.Equal(t, []string{"a", "c", "a", "c"}, grp.Str)
	assert.Equal(t, []string{"x", "n", "g", "d"}, g.Names())
}

func TestCounterfactualReplicatesData(t *testing.T) {
	g, err := Counterfactual(data(), Set("d", Levels("FALSE", "TRUE")))
	require.NoError(t, err)
	assert.Equal(t, 10, g.NRow())

	d, _ := g.Column("d")
	ids, _ := g.Column(RowIDColumn)
	x, _ := g.Column("x")
	for i := 0; i < 5; i++ {
		assert.Equal(t, 0.0, d.Num[i])
		assert.Equal(t, 1.0, d.Num[i+5])
		assert.Equal(t, float64(i), ids.Num[i+5])
		assert.Equal(t, x.Num[i], x.Num[i+5], "unset variables keep observed values")
	}
}

func TestBalancedCrossesCategoricalTerms(t *testing.T) {
	g, err := Balanced(data(), []string{"x", "g", "d"})
	require.NoError(t, err)
	assert.Equal(t, 6, g.NRow())
	x, _ := g.Column("x")
	for _, v := range x.Num {
		assert.InDelta(t, 4.0, v, 1e-12)
	}
}

func TestShorthandsAndSummaries(t *testing.T) {
	col, _ := data().Column("x")
	tests := []struct {
		name string
		want []float64
	}{
		{"mean", []float64{4}},
		{"median", []float64{3}},
		{"range", []float64{1, 10}},
		{"unique", []float64{1, 2, 3, 4, 10}},
	}
	for _, tt := range tests {
		v, err := Shorthand(tt.name)
		require.NoError(t, err, tt.name)
		out, err := v.Resolve(col)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, out.Num, tt.name)
	}

	five, err := FiveNum().Resolve(col)
	require.NoError(t, err)
	assert.Len(t, five.Num, 5)
	assert.Equal(t, 1.0, five.Num[0])
	assert.Equal(t, 10.0, five.Num[4])

	_, err = Shorthand("bogus")
	assert.True(t, errors.Is(err, core.ErrInvalidOption))
}

func TestGridErrors(t *testing.T) {
	_, err := Typical(data(), Set("nope", Numbers(1)))
	assert.True(t, errors.Is(err, core.ErrUnknownVariable))

	_, err = Typical(data(), Set("g", Numbers(1)))
	assert.True(t, errors.Is(err, core.ErrInvalidOption))

	_, err = Typical(data(), Set("x", Numbers(1)), Set("x", Numbers(2)))
	assert.True(t, errors.Is(err, core.ErrInvalidOption))

	_, err = Typical(data(), Set("x", Numbers()))
	assert.True(t, errors.Is(err, core.ErrInvalidOption))
}
