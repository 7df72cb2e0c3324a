package frame

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"gomargins/domain/core"
)

func fixture() *Frame {
	return MustNew(
		NewNumeric("x", []float64{1, 2, 3}),
		NewCategorical("g", []string{"b", "a", "b"}),
		NewLogical("d", []bool{true, false, true}),
	)
}

func TestNewRejectsRaggedColumns(t *testing.T) {
	_, err := New(NewNumeric("x", []float64{1, 2}), NewNumeric("y", []float64{1}))
	assert.Error(t, err)

	_, err = New(NewNumeric("x", []float64{1}), NewNumeric("x", []float64{2}))
	assert.Error(t, err)
}

func TestColumnLookupSuggestsName(t *testing.T) {
	f := fixture()
	_, err := f.Column("gg")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrUnknownVariable))
	assert.Contains(t, err.Error(), `"g"`)
}

func TestCategoricalLevelsSorted(t *testing.T) {
	c := NewCategorical("g", []string{"b", "a", "b"})
	assert.Equal(t, []string{"a", "b"}, c.Levels)
	assert.Equal(t, []string{"a", "b"}, c.Unique().Str)

	explicit := NewCategorical("g", []string{"b", "a"}, "b", "a")
	assert.Equal(t, []string{"b", "a"}, explicit.Unique().Str)
}

func TestLabels(t *testing.T) {
	f := fixture()
	assert.Equal(t, "x=2, g=a, d=FALSE", f.RowLabel(1, []string{"x", "g", "d"}))
}

func TestTakeRepeatAndWith(t *testing.T) {
	f := fixture()
	taken := f.Take([]int{2, 0})
	x, _ := taken.Column("x")
	assert.Equal(t, []float64{3, 1}, x.Num)

	rep := f.Repeat(2)
	assert.Equal(t, 6, rep.NRow())

	next, err := f.With(NewNumeric("x", []float64{0, 0, 0}), NewNumeric("z", []float64{1, 1, 1}))
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "g", "d", "z"}, next.Names())
	orig, _ := f.Column("x")
	assert.Equal(t, []float64{1, 2, 3}, orig.Num, "With must not mutate the receiver")
}

func TestBindMergesLevels(t *testing.T) {
	a := MustNew(NewCategorical("g", []string{"a"}))
	b := MustNew(NewCategorical("g", []string{"c"}))
	out, err := Bind(a, b)
	require.NoError(t, err)
	g, _ := out.Column("g")
	assert.Equal(t, []string{"a", "c"}, g.Str)
	assert.Equal(t, []string{"a", "c"}, g.Levels)

	_, err = Bind(a, MustNew(NewNumeric("g", []float64{1})))
	assert.Error(t, err)
}

func TestDrawsAlignment(t *testing.T) {
	d, err := DrawsFromRows([][]float64{{1, 2}, {3, 4}, {5, 6}})
	require.NoError(t, err)
	assert.Equal(t, 3, d.Rows())
	assert.Equal(t, 2, d.Len())
	assert.Equal(t, []float64{3, 4}, d.Row(1))
	assert.Equal(t, []float64{2, 4, 6}, d.Draw(1))

	taken := d.Take([]int{2, 0})
	assert.Equal(t, []float64{5, 6}, taken.Row(0))

	_, err = BindDraws(d, nil)
	assert.Error(t, err, "draws on only some blocks must fail")

	bound, err := BindDraws(d, d)
	require.NoError(t, err)
	assert.Equal(t, 6, bound.Rows())

	_, err = DrawsFromRows([][]float64{{1}, {1, 2}})
	assert.Error(t, err)
}

func TestPredictionTake(t *testing.T) {
	d, _ := DrawsFromRows([][]float64{{1}, {2}, {3}})
	p := &Prediction{
		RowID: []int{0, 1, 2}, Group: []string{"u", "v", "w"}, Estimate: []float64{10, 20, 30},
		Draws: d, Grid: fixture(),
	}
	out := p.Take([]int{2})
	assert.Equal(t, []int{2}, out.RowID)
	assert.Equal(t, "w", out.GroupOf(0))
	assert.Equal(t, []float64{3}, out.Draws.Row(0))
	assert.Equal(t, 1, out.Grid.NRow())
}

func TestEstimateFrameTakeAndLabel(t *testing.T) {
	ef := &EstimateFrame{
		KeyNames: []string{"g"},
		Rows: []EstimateRow{
			NewEstimateRow("x", "+1", "", []string{"a"}, 1),
			NewEstimateRow("x", "+1", "", []string{"b"}, 2),
		},
		Jacobian: mat.NewDense(2, 2, []float64{1, 0, 0, 1}),
	}
	assert.Equal(t, "x, +1, g=b", ef.Label(1))
	assert.True(t, math.IsNaN(ef.Rows[0].StdError))

	out := ef.Take([]int{1})
	assert.Equal(t, []float64{2}, out.Estimates())
	assert.Equal(t, []float64{0, 1}, out.Jacobian.RawRowView(0))
	assert.Equal(t, 2, ef.Len(), "Take must not shrink the receiver")
}
