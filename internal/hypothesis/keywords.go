package hypothesis

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"gomargins/domain/core"
	"gomargins/domain/frame"
)

// keyword generates (label, weights) pairs from the row order of an EstimateFrame
type keyword struct {
	name string
	gen  func(n int) [][]float64
}

func (k keyword) combine(ef *frame.EstimateFrame) (*combination, error) {
	n := ef.Len()
	if n < 2 && k.name != "meandev" {
		return nil, core.NewHypothesisError("%s needs at least two estimates", k.name)
	}
	rows := k.gen(n)
	w := mat.NewDense(len(rows), n, nil)
	labels := make([]string, len(rows))
	for i, r := range rows {
		w.SetRow(i, r)
		labels[i] = label(ef, r)
	}
	return linear(labels, w), nil
}

// label renders a contrast of rows as "(a) - (b)", or "(a) - mean" for deviations
func label(ef *frame.EstimateFrame, weights []float64) string {
	pos, neg, negatives := -1, -1, 0
	for j, v := range weights {
		switch {
		case v > 0 && (pos < 0 || v > weights[pos]):
			pos = j
		case v < 0:
			neg = j
			negatives++
		}
	}
	switch {
	case pos < 0:
		return "custom"
	case negatives == 1:
		return fmt.Sprintf("(%s) - (%s)", rowName(ef, pos), rowName(ef, neg))
	}
	return fmt.Sprintf("(%s) - mean", rowName(ef, pos))
}

func rowName(ef *frame.EstimateFrame, i int) string {
	if s := ef.Label(i); s != "" {
		return s
	}
	return fmt.Sprintf("b%d", i+1)
}

func diff(n, plus, minus int) []float64 {
	r := make([]float64, n)
	r[plus], r[minus] = 1, -1
	return r
}

var keywords = map[string]Spec{
	"pairwise": keyword{"pairwise", func(n int) [][]float64 {
		var out [][]float64
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				out = append(out, diff(n, i, j))
			}
		}
		return out
	}},
	"revpairwise": keyword{"revpairwise", func(n int) [][]float64 {
		var out [][]float64
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				out = append(out, diff(n, j, i))
			}
		}
		return out
	}},
	"reference": keyword{"reference", func(n int) [][]float64 {
		var out [][]float64
		for i := 1; i < n; i++ {
			out = append(out, diff(n, i, 0))
		}
		return out
	}},
	"revreference": keyword{"revreference", func(n int) [][]float64 {
		var out [][]float64
		for i := 1; i < n; i++ {
			out = append(out, diff(n, 0, i))
		}
		return out
	}},
	"sequential": keyword{"sequential", func(n int) [][]float64 {
		var out [][]float64
		for i := 1; i < n; i++ {
			out = append(out, diff(n, i, i-1))
		}
		return out
	}},
	"revsequential": keyword{"revsequential", func(n int) [][]float64 {
		var out [][]float64
		for i := 1; i < n; i++ {
			out = append(out, diff(n, i-1, i))
		}
		return out
	}},
	"meandev": keyword{"meandev", func(n int) [][]float64 {
		out := make([][]float64, n)
		for i := range out {
			r := make([]float64, n)
			for j := range r {
				r[j] = -1 / float64(n)
			}
			r[i] += 1
			out[i] = r
		}
		return out
	}},
}

// Pairwise compares every pair of rows i < j as row i minus row j
func Pairwise() Spec { return keywords["pairwise"] }

// RevPairwise compares every pair of rows i < j as row j minus row i
func RevPairwise() Spec { return keywords["revpairwise"] }

// Reference compares every row with the first
func Reference() Spec { return keywords["reference"] }

// RevReference compares the first row with every other
func RevReference() Spec { return keywords["revreference"] }

// Sequential compares each row with the previous one
func Sequential() Spec { return keywords["sequential"] }

// RevSequential compares each row with the next one
func RevSequential() Spec { return keywords["revsequential"] }

// MeanDev compares each row with the mean of all rows
func MeanDev() Spec { return keywords["meandev"] }
