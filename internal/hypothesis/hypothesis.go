// Package hypothesis evaluates linear and non-linear combinations of estimates and
// equivalence tests, reusing the Jacobian and draws already attached to an EstimateFrame.
package hypothesis

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"gomargins/domain/core"
	"gomargins/domain/frame"
)

// Spec is a hypothesis specification
type Spec interface {
	combine(ef *frame.EstimateFrame) (*combination, error)
}

// combination maps an estimate vector to hypothesis estimates. Linear combinations carry
// their weight matrix (hypotheses x estimates); non-linear ones are differentiated.
type combination struct {
	labels  []string
	weights *mat.Dense
	fn      func(est []float64) ([]float64, error)
	null    float64
}

type nullSpec float64

func (n nullSpec) combine(*frame.EstimateFrame) (*combination, error) {
	return &combination{null: float64(n)}, nil
}

// Null tests every estimate against v
func Null(v float64) Spec { return nullSpec(v) }

type vectorSpec []float64

func (v vectorSpec) combine(ef *frame.EstimateFrame) (*combination, error) {
	if len(v) != ef.Len() {
		return nil, core.NewHypothesisError("weight vector has length %d but there are %d estimates", len(v), ef.Len())
	}
	return linear([]string{"custom"}, mat.NewDense(1, len(v), append([]float64(nil), v...))), nil
}

// Vector tests the linear combination w . estimates
func Vector(w ...float64) Spec { return vectorSpec(w) }

type matrixSpec struct {
	m      *mat.Dense
	labels []string
}

func (s matrixSpec) combine(ef *frame.EstimateFrame) (*combination, error) {
	r, c := s.m.Dims()
	if r != ef.Len() {
		return nil, core.NewHypothesisError("weight matrix has %d rows but there are %d estimates", r, ef.Len())
	}
	labels := s.labels
	if labels == nil {
		for j := 0; j < c; j++ {
			labels = append(labels, "H"+strconv.Itoa(j+1))
		}
	}
	if len(labels) != c {
		return nil, core.NewHypothesisError("%d labels for %d weight columns", len(labels), c)
	}
	w := mat.DenseCopyOf(s.m.T())
	return linear(labels, w), nil
}

// Matrix tests one linear combination per column of m (estimates x hypotheses)
func Matrix(m *mat.Dense, labels ...string) Spec {
	if len(labels) == 0 {
		labels = nil
	}
	return matrixSpec{m: m, labels: labels}
}

func linear(labels []string, w *mat.Dense) *combination {
	return &combination{
		labels:  labels,
		weights: w,
		fn: func(est []float64) ([]float64, error) {
			out := mat.NewVecDense(len(labels), nil)
			out.MulVec(w, mat.NewVecDense(len(est), est))
			return out.RawVector().Data, nil
		},
	}
}

// Apply evaluates spec on ef. The result carries the composed Jacobian (W.J or G.J) and,
// for draw-based sources, the combination applied to every draw. Standard errors and
// intervals are left for the caller to finalize.
func Apply(ef *frame.EstimateFrame, spec Spec) (*frame.EstimateFrame, error) {
	if ef.Len() == 0 {
		return nil, core.NewHypothesisError("no estimates to test")
	}
	c, err := spec.combine(ef)
	if err != nil {
		return nil, err
	}
	if c.fn == nil {
		out := *ef
		out.Rows = append([]frame.EstimateRow(nil), ef.Rows...)
		out.Null = c.null
		return &out, nil
	}

	est, err := c.fn(ef.Estimates())
	if err != nil {
		return nil, err
	}
	if len(est) != len(c.labels) {
		return nil, core.NewHypothesisError("hypothesis produced %d values for %d labels", len(est), len(c.labels))
	}

	out := &frame.EstimateFrame{
		Vcov: ef.Vcov, Source: ef.Source, ConfLevel: ef.ConfLevel, DF: ef.DF, Null: c.null,
	}
	for i, v := range est {
		out.Rows = append(out.Rows, frame.NewEstimateRow(c.labels[i], "", "", nil, v))
	}

	if ef.Jacobian != nil {
		g := c.weights
		if g == nil {
			if g, err = gradient(c.fn, ef.Estimates(), len(est)); err != nil {
				return nil, err
			}
		}
		var jac mat.Dense
		jac.Mul(g, ef.Jacobian)
		out.Jacobian = &jac
	}

	if ef.Draws != nil {
		rows := make([][]float64, len(est))
		for i := range rows {
			rows[i] = make([]float64, ef.Draws.Len())
		}
		for j := 0; j < ef.Draws.Len(); j++ {
			v, err := c.fn(ef.Draws.Draw(j))
			if err != nil {
				return nil, fmt.Errorf("draw %d: %w", j+1, err)
			}
			for i := range rows {
				rows[i][j] = v[i]
			}
		}
		if out.Draws, err = frame.DrawsFromRows(rows); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// gradient differentiates fn at est with central differences, one row per output
func gradient(fn func([]float64) ([]float64, error), est []float64, outputs int) (*mat.Dense, error) {
	g := mat.NewDense(outputs, len(est), nil)
	var failed error
	for i := 0; i < outputs; i++ {
		i := i
		row := fd.Gradient(nil, func(x []float64) float64 {
			v, err := fn(x)
			if err != nil {
				if failed == nil {
					failed = err
				}
				return math.NaN()
			}
			return v[i]
		}, est, &fd.Settings{Formula: fd.Central})
		if failed != nil {
			return nil, failed
		}
		g.SetRow(i, row)
	}
	return g, nil
}

// Parse reads a textual hypothesis: a number is a null value, a keyword generates
// combinations from row order, anything else is an expression.
func Parse(s string) (Spec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, core.NewHypothesisError("empty hypothesis")
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return Null(v), nil
	}
	if k, ok := keywords[strings.ToLower(s)]; ok {
		return k, nil
	}
	return Expr(s), nil
}

// Function is a compiled hypothesis that can be re-evaluated on other estimate vectors
// (bootstrap replicates, jackknife estimates) with the same layout.
type Function struct {
	c *combination
}

// Compile resolves spec against the layout of ef
func Compile(ef *frame.EstimateFrame, spec Spec) (*Function, error) {
	c, err := spec.combine(ef)
	if err != nil {
		return nil, err
	}
	return &Function{c: c}, nil
}

// Eval applies the hypothesis to an estimate vector. Null specs return est unchanged.
func (f *Function) Eval(est []float64) ([]float64, error) {
	if f.c.fn == nil {
		return est, nil
	}
	return f.c.fn(est)
}
