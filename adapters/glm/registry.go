package glm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gomargins/domain/core"
	"gomargins/domain/frame"
	"gomargins/ports"
)

var registry = map[string]Fitter{
	Gaussian: FitGaussian,
	Binomial: FitBinomial,
}

// Families lists the registered family tags
func Families() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Fit parses formula and fits it with the fitter registered for family
func Fit(ctx context.Context, family, formula string, data *frame.Frame) (*Model, error) {
	fit, ok := registry[strings.ToLower(family)]
	if !ok {
		return nil, core.NewOptionError("family", fmt.Sprintf("unknown family %q (known: %s)", family, strings.Join(Families(), ", ")))
	}
	f, err := ParseFormula(formula)
	if err != nil {
		return nil, err
	}
	return fit(ctx, f, data)
}

// Refitter re-estimates the model's specification on new data, for bootstrap resampling
func (m *Model) Refitter() ports.Refitter {
	fit := registry[m.family]
	f := m.formula
	return func(ctx context.Context, data *frame.Frame) (ports.Model, error) {
		mm, err := fit(ctx, f, data)
		if err != nil {
			return nil, err
		}
		return mm, nil
	}
}
