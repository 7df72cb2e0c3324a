package glm

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"gomargins/domain/frame"
	"gomargins/internal"
	"gomargins/internal/errors"
)

const (
	maxIterations = 50
	tolerance     = 1e-10
)

// Fitter estimates a model of one family
type Fitter func(ctx context.Context, f Formula, data *frame.Frame) (*Model, error)

func prepare(family string, f Formula, data *frame.Frame) (*Model, error) {
	d, err := newDesign(f, data)
	if err != nil {
		return nil, errors.ModelFitError(family, err)
	}
	x, err := d.matrix(data)
	if err != nil {
		return nil, errors.ModelFitError(family, err)
	}
	y, err := response(family, f.Response, data)
	if err != nil {
		return nil, errors.ModelFitError(family, err)
	}
	n, k := x.Dims()
	if n <= k {
		return nil, errors.ModelFitError(family, fmt.Errorf("%d rows for %d coefficients", n, k))
	}
	return &Model{family: family, formula: f, design: d, data: data, x: x, y: y}, nil
}

// FitGaussian fits a linear model by least squares
func FitGaussian(ctx context.Context, f Formula, data *frame.Frame) (*Model, error) {
	m, err := prepare(Gaussian, f, data)
	if err != nil {
		return nil, err
	}
	n, k := m.x.Dims()
	m.w = ones(n)
	if err := m.solve(m.y); err != nil {
		return nil, err
	}
	m.mu = linear(m.x, m.beta)
	rss := 0.0
	for i := range m.y {
		r := m.y[i] - m.mu[i]
		rss += r * r
	}
	m.dispersion = rss / float64(n-k)
	m.iterations = 1
	internal.DefaultLogger.Debug("[GLM] gaussian %s: n=%d k=%d sigma=%.4g", f, n, k, math.Sqrt(m.dispersion))
	return m, nil
}

// FitBinomial fits a logistic regression by iteratively reweighted least squares
func FitBinomial(ctx context.Context, f Formula, data *frame.Frame) (*Model, error) {
	m, err := prepare(Binomial, f, data)
	if err != nil {
		return nil, err
	}
	n, k := m.x.Dims()
	m.beta = make([]float64, k)
	m.w = make([]float64, n)
	m.dispersion = 1
	z := make([]float64, n)
	for it := 1; it <= maxIterations; it++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		eta := linear(m.x, m.beta)
		for i, e := range eta {
			mu := logistic(e)
			w := math.Max(mu*(1-mu), 1e-10)
			m.w[i] = w
			z[i] = e + (m.y[i]-mu)/w
		}
		prev := append([]float64(nil), m.beta...)
		if err := m.solve(z); err != nil {
			return nil, err
		}
		m.iterations = it
		if floats.Distance(prev, m.beta, math.Inf(1)) < tolerance*(1+floats.Norm(m.beta, math.Inf(1))) {
			break
		}
		if it == maxIterations {
			internal.DefaultLogger.Warn("[GLM] binomial %s did not converge in %d iterations", f, maxIterations)
		}
	}
	m.mu = linear(m.x, m.beta)
	for i, e := range m.mu {
		m.mu[i] = logistic(e)
		m.w[i] = m.mu[i] * (1 - m.mu[i])
	}
	// bread at the final estimates
	if err := m.factor(); err != nil {
		return nil, err
	}
	internal.DefaultLogger.Debug("[GLM] binomial %s: n=%d k=%d iterations=%d", f, n, k, m.iterations)
	return m, nil
}

// solve sets beta to the weighted least squares solution of X beta = z with weights w
func (m *Model) solve(z []float64) error {
	if err := m.factor(); err != nil {
		return err
	}
	n, k := m.x.Dims()
	xtwz := mat.NewVecDense(k, nil)
	wz := make([]float64, n)
	for i := range wz {
		wz[i] = m.w[i] * z[i]
	}
	xtwz.MulVec(m.x.T(), mat.NewVecDense(n, wz))
	beta := mat.NewVecDense(k, nil)
	beta.MulVec(m.bread, xtwz)
	m.beta = beta.RawVector().Data
	return nil
}

// factor computes (X'WX)^-1 at the current weights
func (m *Model) factor() error {
	_, k := m.x.Dims()
	xtwx := mat.NewSymDense(k, nil)
	for i := range m.w {
		xtwx.SymRankOne(xtwx, m.w[i], m.x.RowView(i))
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(xtwx); !ok {
		return errors.ModelFitError(m.family, fmt.Errorf("design matrix is rank deficient"))
	}
	inv := mat.NewSymDense(k, nil)
	if err := chol.InverseTo(inv); err != nil {
		return errors.ModelFitError(m.family, err)
	}
	m.bread = inv
	return nil
}

func response(family, name string, data *frame.Frame) ([]float64, error) {
	c, err := data.Column(name)
	if err != nil {
		return nil, err
	}
	var y []float64
	switch {
	case c.Kind == frame.Categorical:
		if family != Binomial {
			return nil, fmt.Errorf("response %s is categorical", name)
		}
		levels := c.Unique().Str
		if len(levels) != 2 {
			return nil, fmt.Errorf("binomial response %s needs two levels, has %d", name, len(levels))
		}
		y = make([]float64, c.Len())
		for i, s := range c.Str {
			if s == levels[1] {
				y[i] = 1
			}
		}
	default:
		y = append([]float64(nil), c.Num...)
	}
	for _, v := range y {
		if math.IsNaN(v) {
			return nil, fmt.Errorf("response %s has missing values", name)
		}
		if family == Binomial && (v < 0 || v > 1) {
			return nil, fmt.Errorf("binomial response %s must lie in [0, 1]", name)
		}
	}
	return y, nil
}
