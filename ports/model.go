package ports

import (
	"context"

	"gomargins/domain/frame"

	"gonum.org/v1/gonum/mat"
)

// Coefficients is a named, order-stable coefficient vector
type Coefficients struct {
	Names  []string
	Values []float64
}

// Len returns the number of coefficients
func (c Coefficients) Len() int {
	return len(c.Values)
}

// Model is the capability contract every model family implements once. The engine never
// inspects concrete types; the family tag is informational and used by registries.
type Model interface {
	// Family returns the explicit variant tag of the adapter (e.g. "gaussian")
	Family() string

	// Coefficients returns coefficients in the order used by WithCoefficients and Covariance
	Coefficients() Coefficients

	// WithCoefficients returns a new handle predicting with the given coefficients. The
	// receiver is never mutated. Families that cannot substitute coefficients return
	// core.ErrUnsupportedOperation.
	WithCoefficients(values []float64) (Model, error)

	// Covariance returns the coefficient covariance selected by spec
	Covariance(spec VcovSpec) (*mat.SymDense, error)

	// Predict returns exactly one estimate per (grid row, outcome group) on the given
	// scale. Malformed grids fail with core.ErrPrediction.
	Predict(ctx context.Context, grid *frame.Frame, scale string) (*frame.Prediction, error)

	// Data returns the estimation data
	Data() *frame.Frame

	// Terms returns the predictor names
	Terms() []string
}

// Refitter re-estimates a model of the same specification on new data. Bootstrap
// resampling takes one explicitly instead of discovering it on the model.
type Refitter func(ctx context.Context, data *frame.Frame) (Model, error)

// VcovKind selects the covariance estimator
type VcovKind string

const (
	VcovAnalytic VcovKind = "analytic"
	VcovDisabled VcovKind = "disabled"
	VcovRobust   VcovKind = "robust"
	VcovCluster  VcovKind = "cluster"
	VcovMatrix   VcovKind = "matrix"
)

// VcovSpec describes which coefficient covariance to use
type VcovSpec struct {
	Kind    VcovKind
	Type    string        // robust estimator: HC0, HC1, HC2, HC3
	Cluster string        // cluster column for VcovCluster
	Matrix  *mat.SymDense // precomputed matrix for VcovMatrix
}

// Analytic is the default covariance spec
func Analytic() VcovSpec { return VcovSpec{Kind: VcovAnalytic} }

// Disabled skips uncertainty entirely
func Disabled() VcovSpec { return VcovSpec{Kind: VcovDisabled} }

// Robust selects a heteroskedasticity-consistent estimator
func Robust(hc string) VcovSpec { return VcovSpec{Kind: VcovRobust, Type: hc} }

// Clustered selects a cluster-robust estimator
func Clustered(column string) VcovSpec { return VcovSpec{Kind: VcovCluster, Cluster: column} }

// Precomputed uses a caller-supplied matrix
func Precomputed(m *mat.SymDense) VcovSpec { return VcovSpec{Kind: VcovMatrix, Matrix: m} }
