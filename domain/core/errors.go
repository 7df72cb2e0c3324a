package core

import (
	"errors"
	"fmt"
	"sort"

	"github.com/agnivade/levenshtein"
)

// Domain errors - centralized error definitions
var (
	// Grid and variable errors
	ErrUnknownVariable    = errors.New("unknown variable")
	ErrDegenerateStepSize = errors.New("degenerate step size")

	// Adapter errors
	ErrPrediction                         = errors.New("prediction failed")
	ErrUnsupportedOperation               = errors.New("unsupported operation")
	ErrCoefficientSubstitutionUnsupported = errors.New("coefficient substitution unsupported")

	// Estimand errors
	ErrMalformedHypothesis       = errors.New("malformed hypothesis")
	ErrNonNumericTransformResult = errors.New("non-numeric transform result")
	ErrSingularCovariance        = errors.New("singular covariance")
	ErrInvalidOption             = errors.New("invalid option")

	// Resampling errors
	ErrDrawFailed = errors.New("draw failed")
)

// NewUnknownVariableError reports a missing column and suggests the closest known name.
func NewUnknownVariableError(name string, known []string) error {
	if s := closest(name, known); s != "" {
		return fmt.Errorf("%w: %q (did you mean %q?)", ErrUnknownVariable, name, s)
	}
	return fmt.Errorf("%w: %q", ErrUnknownVariable, name)
}

func NewDegenerateStepError(variable string, reason string) error {
	return fmt.Errorf("%w for %s: %s", ErrDegenerateStepSize, variable, reason)
}

func NewPredictionError(family string, err error) error {
	return fmt.Errorf("%w (%s): %v", ErrPrediction, family, err)
}

func NewHypothesisError(reason string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedHypothesis, fmt.Sprintf(reason, args...))
}

func NewTransformResultError(transform string, got, want int) error {
	return fmt.Errorf("%w: %s returned %d values, want 1 or %d", ErrNonNumericTransformResult, transform, got, want)
}

func NewOptionError(field string, reason string) error {
	return fmt.Errorf("%w %s: %s", ErrInvalidOption, field, reason)
}

// closest returns the known name with the smallest edit distance, if it is close enough
// to be a plausible typo.
func closest(name string, known []string) string {
	if len(known) == 0 || name == "" {
		return ""
	}
	candidates := append([]string(nil), known...)
	sort.Strings(candidates)

	best, bestDist := "", -1
	for _, k := range candidates {
		d := levenshtein.ComputeDistance(name, k)
		if bestDist < 0 || d < bestDist {
			best, bestDist = k, d
		}
	}
	limit := len(name) / 2
	if limit < 1 {
		limit = 1
	}
	if bestDist > limit {
		return ""
	}
	return best
}

// Error checking helpers
func IsHypothesisError(err error) bool {
	return errors.Is(err, ErrMalformedHypothesis)
}
