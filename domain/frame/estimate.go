package frame

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Source names where the uncertainty in an EstimateFrame came from
type Source string

const (
	SourceNone       Source = "none"
	SourceDelta      Source = "delta"
	SourceBootstrap  Source = "bootstrap"
	SourceSimulation Source = "simulation"
	SourcePosterior  Source = "posterior"
)

// EstimateRow is one reported quantity
type EstimateRow struct {
	Term     string   `json:"term,omitempty"`
	Contrast string   `json:"contrast,omitempty"`
	Group    string   `json:"group,omitempty"`
	Keys     []string `json:"keys,omitempty"` // values for EstimateFrame.KeyNames

	Estimate  float64 `json:"estimate"`
	StdError  float64 `json:"std_error"`
	Statistic float64 `json:"statistic"`
	PValue    float64 `json:"p_value"`
	ConfLow   float64 `json:"conf_low"`
	ConfHigh  float64 `json:"conf_high"`

	// Equivalence test p-values; NaN unless an interval was requested
	PNonInf float64 `json:"p_noninf"`
	PNonSup float64 `json:"p_nonsup"`
	PEquiv  float64 `json:"p_equiv"`
}

// NewEstimateRow returns a row with every inferential field unset (NaN)
func NewEstimateRow(term, contrast, group string, keys []string, estimate float64) EstimateRow {
	nan := math.NaN()
	return EstimateRow{
		Term: term, Contrast: contrast, Group: group, Keys: keys,
		Estimate: estimate, StdError: nan, Statistic: nan, PValue: nan,
		ConfLow: nan, ConfHigh: nan, PNonInf: nan, PNonSup: nan, PEquiv: nan,
	}
}

// EstimateFrame is the output of every estimand call. Jacobian (estimates x
// coefficients) and Draws (estimates x draws) are side values aligned with Rows.
type EstimateFrame struct {
	KeyNames []string
	Rows     []EstimateRow

	Jacobian *mat.Dense
	Vcov     *mat.SymDense
	Draws    *Draws

	Source    Source
	ConfLevel float64
	DF        float64 // 0 means normal reference distribution
	Null      float64 // value statistics and p-values test against

	// AggregatedBy records the key the rows were last aggregated by
	AggregatedBy []string
}

// Len returns the number of rows
func (e *EstimateFrame) Len() int {
	return len(e.Rows)
}

// Estimates returns the point estimates in row order
func (e *EstimateFrame) Estimates() []float64 {
	out := make([]float64, len(e.Rows))
	for i, r := range e.Rows {
		out[i] = r.Estimate
	}
	return out
}

// StdErrors returns the standard errors in row order
func (e *EstimateFrame) StdErrors() []float64 {
	out := make([]float64, len(e.Rows))
	for i, r := range e.Rows {
		out[i] = r.StdError
	}
	return out
}

// Label renders the identifying columns of row i
func (e *EstimateFrame) Label(i int) string {
	r := e.Rows[i]
	var parts []string
	for _, s := range []string{r.Term, r.Contrast, r.Group} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	for k, v := range r.Keys {
		if k < len(e.KeyNames) {
			parts = append(parts, e.KeyNames[k]+"="+v)
		} else {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ", ")
}

// Take keeps the given rows and realigns the Jacobian and draws
func (e *EstimateFrame) Take(rows []int) *EstimateFrame {
	out := *e
	out.Rows = make([]EstimateRow, len(rows))
	for i, r := range rows {
		out.Rows[i] = e.Rows[r]
	}
	if e.Jacobian != nil {
		_, k := e.Jacobian.Dims()
		j := mat.NewDense(len(rows), k, nil)
		for i, r := range rows {
			j.SetRow(i, e.Jacobian.RawRowView(r))
		}
		out.Jacobian = j
	}
	out.Draws = e.Draws.Take(rows)
	return &out
}
