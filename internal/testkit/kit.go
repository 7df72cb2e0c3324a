// Package testkit provides model doubles and seeded fixtures for tests across the
// engine.
package testkit

import (
	"context"
	"fmt"
	"math"

	"github.com/stretchr/testify/mock"
	"gonum.org/v1/gonum/mat"

	"gomargins/domain/core"
	"gomargins/domain/frame"
	"gomargins/ports"
)

// Coef is one slope of a Linear model. Level selects a treatment dummy of a
// categorical variable; numeric and logical variables leave it empty.
type Coef struct {
	Var   string
	Level string
	Value float64
}

// Linear is a deterministic linear predictor b0 + sum(b_k * x_k), optionally passed
// through the logistic function on the response scale.
type Linear struct {
	Intercept float64
	Coefs     []Coef
	Logit     bool

	// Outcomes turns the model into a multi-outcome model; outcome g adds g to the
	// linear predictor.
	Outcomes []string
	// Draws attaches that many deterministic draws around every prediction
	Draws int
	// Fixed makes WithCoefficients fail with core.ErrUnsupportedOperation
	Fixed bool

	Vcov *mat.SymDense
	data *frame.Frame
}

var _ ports.Model = (*Linear)(nil)

// NewLinear builds a Linear model on data with a 0.01 * I covariance
func NewLinear(data *frame.Frame, intercept float64, coefs ...Coef) *Linear {
	k := len(coefs) + 1
	v := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		v.SetSym(i, i, 0.01)
	}
	return &Linear{Intercept: intercept, Coefs: coefs, Vcov: v, data: data}
}

func (l *Linear) Family() string {
	if l.Logit {
		return "testkit-logit"
	}
	return "testkit-linear"
}

func (l *Linear) Coefficients() ports.Coefficients {
	c := ports.Coefficients{Names: []string{"(Intercept)"}, Values: []float64{l.Intercept}}
	for _, b := range l.Coefs {
		c.Names = append(c.Names, b.Var+b.Level)
		c.Values = append(c.Values, b.Value)
	}
	return c
}

func (l *Linear) WithCoefficients(values []float64) (ports.Model, error) {
	if l.Fixed {
		return nil, core.ErrUnsupportedOperation
	}
	if len(values) != len(l.Coefs)+1 {
		return nil, fmt.Errorf("%d coefficients for a model with %d", len(values), len(l.Coefs)+1)
	}
	out := *l
	out.Intercept = values[0]
	out.Coefs = append([]Coef(nil), l.Coefs...)
	for i := range out.Coefs {
		out.Coefs[i].Value = values[i+1]
	}
	return &out, nil
}

func (l *Linear) Covariance(spec ports.VcovSpec) (*mat.SymDense, error) {
	switch spec.Kind {
	case "", ports.VcovAnalytic:
		return l.Vcov, nil
	case ports.VcovMatrix:
		return spec.Matrix, nil
	}
	return nil, core.ErrUnsupportedOperation
}

func (l *Linear) Predict(ctx context.Context, grid *frame.Frame, scale string) (*frame.Prediction, error) {
	n := grid.NRow()
	eta := make([]float64, n)
	for i := range eta {
		eta[i] = l.Intercept
	}
	for _, b := range l.Coefs {
		c, err := grid.Column(b.Var)
		if err != nil {
			return nil, core.NewPredictionError(l.Family(), err)
		}
		for i := range eta {
			switch {
			case b.Level != "":
				if c.Label(i) == b.Level {
					eta[i] += b.Value
				}
			default:
				eta[i] += b.Value * c.Float(i)
			}
		}
	}
	if l.Logit && scale != "link" {
		for i, v := range eta {
			eta[i] = 1 / (1 + math.Exp(-v))
		}
	}
	p := &frame.Prediction{Estimate: eta}
	if len(l.Outcomes) > 0 {
		p = &frame.Prediction{}
		for g, name := range l.Outcomes {
			for i, v := range eta {
				p.RowID = append(p.RowID, i)
				p.Group = append(p.Group, name)
				p.Estimate = append(p.Estimate, v+float64(g))
			}
		}
	}
	if l.Draws > 0 {
		rows := make([][]float64, p.Len())
		for i, v := range p.Estimate {
			rows[i] = make([]float64, l.Draws)
			for j := range rows[i] {
				rows[i][j] = v + 0.1*(float64(j)-float64(l.Draws-1)/2)
			}
		}
		d, err := frame.DrawsFromRows(rows)
		if err != nil {
			return nil, err
		}
		p.Draws = d
	}
	return p, nil
}

func (l *Linear) Data() *frame.Frame { return l.data }

func (l *Linear) Terms() []string {
	var out []string
	seen := make(map[string]bool)
	for _, b := range l.Coefs {
		if !seen[b.Var] {
			seen[b.Var] = true
			out = append(out, b.Var)
		}
	}
	return out
}

// Refitter returns a refit function that keeps the coefficients and swaps the data
func (l *Linear) Refitter() ports.Refitter {
	return func(ctx context.Context, data *frame.Frame) (ports.Model, error) {
		out := *l
		out.data = data
		return &out, nil
	}
}

// MockModel is a testify mock of ports.Model for call-pattern assertions
type MockModel struct {
	mock.Mock
}

var _ ports.Model = (*MockModel)(nil)

func (m *MockModel) Family() string {
	return m.Called().String(0)
}

func (m *MockModel) Coefficients() ports.Coefficients {
	return m.Called().Get(0).(ports.Coefficients)
}

func (m *MockModel) WithCoefficients(values []float64) (ports.Model, error) {
	args := m.Called(values)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(ports.Model), args.Error(1)
}

func (m *MockModel) Covariance(spec ports.VcovSpec) (*mat.SymDense, error) {
	args := m.Called(spec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*mat.SymDense), args.Error(1)
}

func (m *MockModel) Predict(ctx context.Context, grid *frame.Frame, scale string) (*frame.Prediction, error) {
	args := m.Called(ctx, grid, scale)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*frame.Prediction), args.Error(1)
}

func (m *MockModel) Data() *frame.Frame {
	if d := m.Called().Get(0); d != nil {
		return d.(*frame.Frame)
	}
	return nil
}

func (m *MockModel) Terms() []string {
	if t := m.Called().Get(0); t != nil {
		return t.([]string)
	}
	return nil
}
