package testkit

import (
	"math"
	"math/rand"

	"gomargins/domain/frame"
)

// GeneratorConfig configures the synthetic regression dataset
type GeneratorConfig struct {
	Rows  int     `json:"rows"`
	Noise float64 `json:"noise"`
	Seed  int64   `json:"seed"`
}

// DefaultGeneratorConfig returns the fixture used across package tests
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{Rows: 200, Noise: 0.5, Seed: 42}
}

// Generate builds a dataset with
//
//	x, z  numeric regressors
//	g     categorical with levels a, b, c
//	d     logical
//	id    cluster label (10 clusters)
//	wt    positive weights
//	y     1 + 2x - z + 0.5[g=b] + 1.5[g=c] + 0.3d + noise
//	yb    Bernoulli(logistic(-0.5 + x + 0.8[g=c]))
func Generate(cfg GeneratorConfig) *frame.Frame {
	rng := rand.New(rand.NewSource(cfg.Seed))
	n := cfg.Rows
	x := make([]float64, n)
	z := make([]float64, n)
	g := make([]string, n)
	d := make([]bool, n)
	id := make([]string, n)
	wt := make([]float64, n)
	y := make([]float64, n)
	yb := make([]float64, n)
	levels := []string{"a", "b", "c"}
	effect := map[string]float64{"a": 0, "b": 0.5, "c": 1.5}
	for i := 0; i < n; i++ {
		x[i] = rng.NormFloat64()
		z[i] = rng.Float64() * 4
		g[i] = levels[i%3]
		d[i] = rng.Float64() < 0.5
		id[i] = string(rune('A' + i%10))
		wt[i] = 0.5 + rng.Float64()
		dv := 0.0
		if d[i] {
			dv = 1
		}
		y[i] = 1 + 2*x[i] - z[i] + effect[g[i]] + 0.3*dv + cfg.Noise*rng.NormFloat64()
		c := 0.0
		if g[i] == "c" {
			c = 0.8
		}
		p := 1 / (1 + math.Exp(-(-0.5 + x[i] + c)))
		if rng.Float64() < p {
			yb[i] = 1
		}
	}
	return frame.MustNew(
		frame.NewNumeric("y", y),
		frame.NewNumeric("yb", yb),
		frame.NewNumeric("x", x),
		frame.NewNumeric("z", z),
		frame.NewCategorical("g", g),
		frame.NewLogical("d", d),
		frame.NewCategorical("id", id),
		frame.NewNumeric("wt", wt),
	)
}

// Line returns the exact data y = a + b*x for x = 0..n-1
func Line(n int, a, b float64) *frame.Frame {
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = float64(i)
		y[i] = a + b*x[i]
	}
	return frame.MustNew(frame.NewNumeric("y", y), frame.NewNumeric("x", x))
}
