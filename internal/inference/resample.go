package inference

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"

	"golang.org/x/sync/semaphore"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"

	"gomargins/domain/core"
	"gomargins/domain/frame"
	"gomargins/internal"
	"gomargins/ports"
)

// Pipeline evaluates the estimand on a model and returns estimates in a fixed order
type Pipeline func(ctx context.Context, m ports.Model) ([]float64, error)

// Resampler runs a pipeline under resampled data or simulated coefficients
type Resampler struct {
	Workers int
	Seed    uint64
	Log     *internal.Logger
}

func (r Resampler) logger() *internal.Logger {
	if r.Log == nil {
		return internal.DefaultLogger
	}
	return r.Log
}

// Bootstrap refits the model on n-out-of-n row resamples of data and evaluates the
// pipeline on each refit. The result has one row per estimate and one column per
// resample. Any failed resample aborts the batch.
func (r Resampler) Bootstrap(ctx context.Context, data *frame.Frame, reps int, refit ports.Refitter, run Pipeline, n int) (*frame.Draws, error) {
	if reps < 2 {
		return nil, core.NewOptionError("bootstrap", "at least two resamples are required")
	}
	if refit == nil {
		return nil, core.NewOptionError("bootstrap", "a refit function is required")
	}
	rows := data.NRow()
	r.logger().Debug("[Bootstrap] %d resamples of %d rows", reps, rows)
	cols, err := r.slots(ctx, reps, func(ctx context.Context, k int) ([]float64, error) {
		rng := rand.New(rand.NewPCG(r.Seed, uint64(k)))
		idx := make([]int, rows)
		for i := range idx {
			idx[i] = rng.IntN(rows)
		}
		m, err := refit(ctx, data.Take(idx))
		if err != nil {
			return nil, err
		}
		return run(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	return columns(cols, n)
}

// Jackknife refits the model once per left-out data row
func (r Resampler) Jackknife(ctx context.Context, data *frame.Frame, refit ports.Refitter, run Pipeline) ([][]float64, error) {
	rows := data.NRow()
	r.logger().Debug("[Bootstrap] jackknife over %d rows", rows)
	return r.slots(ctx, rows, func(ctx context.Context, k int) ([]float64, error) {
		idx := make([]int, 0, rows-1)
		for i := 0; i < rows; i++ {
			if i != k {
				idx = append(idx, i)
			}
		}
		m, err := refit(ctx, data.Take(idx))
		if err != nil {
			return nil, err
		}
		return run(ctx, m)
	})
}

// Simulate draws coefficient vectors from a multivariate normal centered on the model's
// coefficients with covariance vcov, and evaluates the pipeline on each.
func (r Resampler) Simulate(ctx context.Context, m ports.Model, vcov mat.Symmetric, reps int, run Pipeline, n int) (*frame.Draws, error) {
	if reps < 2 {
		return nil, core.NewOptionError("simulation", "at least two draws are required")
	}
	beta := m.Coefficients().Values
	mvn, ok := distmv.NewNormal(beta, vcov, rand.NewPCG(r.Seed, 0))
	if !ok {
		return nil, fmt.Errorf("%w: covariance is not positive definite", core.ErrSingularCovariance)
	}
	// draw sequentially so results do not depend on scheduling
	draws := make([][]float64, reps)
	for k := range draws {
		draws[k] = mvn.Rand(nil)
	}
	r.logger().Debug("[Simulation] %d coefficient draws", reps)
	cols, err := r.slots(ctx, reps, func(ctx context.Context, k int) ([]float64, error) {
		mm, err := m.WithCoefficients(draws[k])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrCoefficientSubstitutionUnsupported, err)
		}
		return run(ctx, mm)
	})
	if err != nil {
		return nil, err
	}
	return columns(cols, n)
}

// slots runs fn for k = 0..count-1 with at most Workers in flight. Each call writes only
// its own slot; the first error cancels the rest.
func (r Resampler) slots(ctx context.Context, count int, fn func(ctx context.Context, k int) ([]float64, error)) ([][]float64, error) {
	workers := r.Workers
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sem := semaphore.NewWeighted(int64(workers))

	out := make([][]float64, count)
	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}
	for k := 0; k < count; k++ {
		if err := sem.Acquire(ctx, 1); err != nil {
			fail(err)
			break
		}
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			defer sem.Release(1)
			v, err := fn(ctx, k)
			if err != nil {
				fail(fmt.Errorf("%w: replicate %d: %v", core.ErrDrawFailed, k+1, err))
				return
			}
			out[k] = v
		}(k)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// columns turns per-replicate estimate vectors into an estimates x replicates matrix
func columns(cols [][]float64, n int) (*frame.Draws, error) {
	m := mat.NewDense(n, len(cols), nil)
	for k, c := range cols {
		if len(c) != n {
			return nil, fmt.Errorf("%w: replicate %d returned %d estimates, want %d", core.ErrDrawFailed, k+1, len(c), n)
		}
		m.SetCol(k, c)
	}
	return frame.NewDraws(m), nil
}
