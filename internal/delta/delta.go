// Package delta differentiates an estimand pipeline with respect to model coefficients
// and propagates the coefficient covariance into standard errors.
package delta

import (
	"context"
	"errors"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"gomargins/domain/core"
	"gomargins/internal"
	"gomargins/ports"
)

// Func runs an estimand pipeline on a model and returns its estimates in a fixed order
type Func func(ctx context.Context, m ports.Model) ([]float64, error)

// Method is the finite-difference scheme
type Method string

const (
	Forward Method = "forward"
	Central Method = "central"
)

// Options control the Jacobian computation
type Options struct {
	Step    float64 // relative to max(|beta_k|, 1)
	Method  Method
	Workers int
	Log     *internal.Logger
}

// Step returns the perturbation used for a coefficient of value beta
func Step(rel, beta float64) float64 {
	return rel * math.Max(math.Abs(beta), 1)
}

// Jacobian evaluates fn at the model's coefficients and at perturbed coefficient vectors.
// base are the estimates at the unperturbed coefficients; when nil they are computed.
// Column k of the result holds d estimates / d beta_k.
func Jacobian(ctx context.Context, m ports.Model, fn Func, base []float64, opts Options) (*mat.Dense, error) {
	log := opts.Log
	if log == nil {
		log = internal.DefaultLogger
	}
	if opts.Step <= 0 || math.IsNaN(opts.Step) {
		return nil, core.NewOptionError("jacobian_step", "must be positive")
	}
	if base == nil {
		var err error
		if base, err = fn(ctx, m); err != nil {
			return nil, err
		}
	}
	beta := m.Coefficients().Values
	n, k := len(base), len(beta)
	if n == 0 || k == 0 {
		return nil, fmt.Errorf("%w: %d estimates and %d coefficients to differentiate", core.ErrInvalidOption, n, k)
	}

	jac := mat.NewDense(n, k, nil)
	g, gctx := errgroup.WithContext(ctx)
	if opts.Workers > 0 {
		g.SetLimit(opts.Workers)
	} else {
		g.SetLimit(1)
	}
	for c := 0; c < k; c++ {
		c := c
		g.Go(func() error {
			h := Step(opts.Step, beta[c])
			hi, err := evaluate(gctx, m, fn, beta, c, h)
			if err != nil {
				return err
			}
			if len(hi) != n {
				return fmt.Errorf("coefficient %d: pipeline returned %d estimates, want %d", c, len(hi), n)
			}
			lo, width := base, h
			if opts.Method == Central {
				if lo, err = evaluate(gctx, m, fn, beta, c, -h); err != nil {
					return err
				}
				if len(lo) != n {
					return fmt.Errorf("coefficient %d: pipeline returned %d estimates, want %d", c, len(lo), n)
				}
				width = 2 * h
			}
			col := make([]float64, n)
			for i := range col {
				col[i] = (hi[i] - lo[i]) / width
			}
			// each goroutine owns column c
			jac.SetCol(c, col)
			log.Trace("[Jacobian] column %d/%d done (step %g)", c+1, k, h)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return jac, nil
}

func evaluate(ctx context.Context, m ports.Model, fn Func, beta []float64, c int, h float64) ([]float64, error) {
	values := append([]float64(nil), beta...)
	values[c] += h
	mm, err := m.WithCoefficients(values)
	if err != nil {
		if errors.Is(err, core.ErrUnsupportedOperation) {
			return nil, fmt.Errorf("%w: %s: %v", core.ErrCoefficientSubstitutionUnsupported, m.Family(), err)
		}
		return nil, err
	}
	return fn(ctx, mm)
}

// Variance returns diag(J V J')
func Variance(jac *mat.Dense, vcov mat.Symmetric) ([]float64, error) {
	n, k := jac.Dims()
	if vcov.SymmetricDim() != k {
		return nil, fmt.Errorf("%w: covariance is %dx%d, jacobian has %d columns",
			core.ErrSingularCovariance, vcov.SymmetricDim(), vcov.SymmetricDim(), k)
	}
	var jv mat.Dense
	jv.Mul(jac, vcov)
	out := make([]float64, n)
	for i := range out {
		out[i] = mat.Dot(jv.RowView(i), jac.RowView(i))
	}
	return out, nil
}

// StdErrors returns sqrt(diag(J V J')). Negative or undefined variances are an error;
// tiny negative values from rounding are clamped to zero.
func StdErrors(jac *mat.Dense, vcov mat.Symmetric) ([]float64, error) {
	v, err := Variance(jac, vcov)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(v))
	for i, x := range v {
		switch {
		case math.IsNaN(x):
			return nil, fmt.Errorf("%w: variance of estimate %d is undefined", core.ErrSingularCovariance, i+1)
		case x < 0 && x > -1e-12:
			x = 0
		case x < 0:
			return nil, fmt.Errorf("%w: variance of estimate %d is negative (%g)", core.ErrSingularCovariance, i+1, x)
		}
		out[i] = math.Sqrt(x)
	}
	return out, nil
}
