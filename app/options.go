package app

import (
	"gomargins/domain/frame"
	"gomargins/internal/aggregate"
	"gomargins/internal/contrast"
	"gomargins/internal/grid"
	"gomargins/internal/hypothesis"
	"gomargins/ports"
)

// Grid kinds
const (
	GridData           = "data"
	GridTypical        = "typical"
	GridCounterfactual = "counterfactual"
	GridBalanced       = "balanced"
)

// GridSpec selects the rows estimands are evaluated on. An explicit Frame wins over Kind.
type GridSpec struct {
	Kind     string
	Settings []grid.Setting
	Frame    *frame.Frame
}

// Bootstrap requests resampling uncertainty
type Bootstrap struct {
	R     int
	Type  string // perc, norm, basic or bca
	Refit ports.Refitter
}

// Uncertainty selects where standard errors come from. Vcov applies to the delta method
// and to simulation; Bootstrap, Simulation and Posterior are mutually exclusive.
type Uncertainty struct {
	Vcov       ports.VcovSpec
	Bootstrap  *Bootstrap
	Simulation int  // number of Krinsky-Robb draws; 0 is off
	Posterior  bool // summarize draws attached to predictions
}

// Options mirror compute(model, grid, variables, transform, uncertainty, by, hypothesis,
// equivalence, conf_level).
type Options struct {
	Grid      GridSpec
	Variables []contrast.Variable
	Transform string
	Custom    *contrast.Transform
	Cross     bool
	Slopes    bool
	Scale     string

	Uncertainty Uncertainty
	By          aggregate.By
	Weights     []float64 // one per grid row
	WeightsBy   string    // grid column holding weights

	Hypothesis  hypothesis.Spec
	Equivalence []float64 // [low, high]
	ConfLevel   float64
	DF          float64
}

func (o Options) wantsDelta() bool {
	u := o.Uncertainty
	return u.Bootstrap == nil && u.Simulation == 0 && !u.Posterior && u.Vcov.Kind != ports.VcovDisabled
}
