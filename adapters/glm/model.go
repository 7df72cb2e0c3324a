// Package glm is the reference model adapter: Gaussian linear models fitted by least
// squares and binomial-logit models fitted by IRLS, with analytic, heteroskedasticity-
// consistent and cluster-robust covariance.
package glm

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"gomargins/domain/core"
	"gomargins/domain/frame"
	"gomargins/ports"
)

// Family tags
const (
	Gaussian = "gaussian"
	Binomial = "binomial"
)

// Prediction scales
const (
	ScaleResponse = "response"
	ScaleLink     = "link"
)

// Model is a fitted generalized linear model. Values are never mutated after fitting;
// WithCoefficients returns a copy sharing the fit quantities.
type Model struct {
	family  string
	formula Formula
	design  *design
	data    *frame.Frame

	x    *mat.Dense
	y    []float64
	beta []float64

	mu         []float64 // fitted means
	w          []float64 // working weights
	dispersion float64
	bread      *mat.SymDense // (X'WX)^-1
	iterations int
}

var _ ports.Model = (*Model)(nil)

// Family implements ports.Model
func (m *Model) Family() string { return m.family }

// Formula returns the model formula
func (m *Model) Formula() Formula { return m.formula }

// Coefficients implements ports.Model
func (m *Model) Coefficients() ports.Coefficients {
	return ports.Coefficients{
		Names:  append([]string(nil), m.design.names...),
		Values: append([]float64(nil), m.beta...),
	}
}

// WithCoefficients implements ports.Model
func (m *Model) WithCoefficients(values []float64) (ports.Model, error) {
	if len(values) != len(m.beta) {
		return nil, fmt.Errorf("%d coefficients for a model with %d", len(values), len(m.beta))
	}
	out := *m
	out.beta = append([]float64(nil), values...)
	return &out, nil
}

// Data implements ports.Model
func (m *Model) Data() *frame.Frame { return m.data }

// Terms implements ports.Model
func (m *Model) Terms() []string { return m.formula.Variables() }

// Iterations returns the number of IRLS iterations (1 for least squares)
func (m *Model) Iterations() int { return m.iterations }

// Predict implements ports.Model
func (m *Model) Predict(ctx context.Context, grid *frame.Frame, scale string) (*frame.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	x, err := m.design.predictionMatrix(m.family, grid)
	if err != nil {
		return nil, err
	}
	eta := linear(x, m.beta)
	switch scale {
	case "", ScaleResponse:
		if m.family == Binomial {
			for i, v := range eta {
				eta[i] = logistic(v)
			}
		}
	case ScaleLink:
	default:
		return nil, core.NewPredictionError(m.family, fmt.Errorf("unknown scale %q", scale))
	}
	return &frame.Prediction{Estimate: eta}, nil
}

func (m *Model) String() string {
	return fmt.Sprintf("%s(%s)", m.family, m.formula)
}

func linear(x *mat.Dense, beta []float64) []float64 {
	r, _ := x.Dims()
	out := mat.NewVecDense(r, nil)
	out.MulVec(x, mat.NewVecDense(len(beta), beta))
	return out.RawVector().Data
}

func logistic(v float64) float64 {
	if v >= 0 {
		return 1 / (1 + math.Exp(-v))
	}
	e := math.Exp(v)
	return e / (1 + e)
}
