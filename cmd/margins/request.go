package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"gomargins/adapters/glm"
	"gomargins/app"
	"gomargins/internal/aggregate"
	"gomargins/internal/contrast"
	"gomargins/internal/errors"
	"gomargins/internal/grid"
	"gomargins/internal/hypothesis"
	"gomargins/ports"
)

// Request is one estimand call, read from a YAML file or assembled from flags.
// Variables and grid settings use "name=value" strings so their order is kept.
type Request struct {
	Kind string `yaml:"kind" validate:"required,oneof=predictions comparisons slopes means hypotheses"`

	Data    string            `yaml:"data" validate:"required"`
	Sheet   string            `yaml:"sheet"`
	Types   map[string]string `yaml:"types" validate:"dive,oneof=numeric integer logical categorical"`
	Formula string            `yaml:"formula" validate:"required"`
	Family  string            `yaml:"family" validate:"omitempty,oneof=gaussian binomial"`

	Grid      string   `yaml:"grid" validate:"omitempty,oneof=data typical counterfactual balanced"`
	At        []string `yaml:"at"`
	Variables []string `yaml:"variables"`
	Terms     []string `yaml:"terms"`
	Transform string   `yaml:"transform"`
	Cross     bool     `yaml:"cross"`
	Scale     string   `yaml:"scale" validate:"omitempty,oneof=response link"`
	By        []string `yaml:"by"`
	Wts       string   `yaml:"wts"`

	Vcov        string `yaml:"vcov"`
	Bootstrap   int    `yaml:"bootstrap" validate:"gte=0"`
	BootType    string `yaml:"boot_type" validate:"omitempty,oneof=perc norm basic bca"`
	Simulations int    `yaml:"simulations" validate:"gte=0"`

	Hypothesis  string    `yaml:"hypothesis"`
	Equivalence []float64 `yaml:"equivalence" validate:"omitempty,len=2"`
	ConfLevel   float64   `yaml:"conf_level" validate:"omitempty,gt=0,lt=1"`
	DF          float64   `yaml:"df" validate:"gte=0"`
}

var validate = validator.New()

// loadRequest reads a request file
func loadRequest(path string) (*Request, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.NotFound("request file " + path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read request %s", path)
	}
	var req Request
	if err := yaml.Unmarshal(raw, &req); err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("parse request %s: %w", path, err))
	}
	return &req, nil
}

// Validate checks the request fields
func (r *Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		return errors.ValidationError(err.Error())
	}
	if r.Kind == "hypotheses" && r.Hypothesis == "" {
		return errors.ValidationError("hypotheses need a hypothesis")
	}
	return nil
}

// options converts the request into service options for the fitted model
func (r *Request) options(m *glm.Model) (app.Options, error) {
	opts := app.Options{
		Grid:      app.GridSpec{Kind: r.Grid},
		Transform: r.Transform,
		Cross:     r.Cross,
		Scale:     r.Scale,
		By:        aggregate.By{Columns: r.By},
		WeightsBy: r.Wts,
		ConfLevel: r.ConfLevel,
		DF:        r.DF,
	}
	if len(r.By) == 1 && strings.EqualFold(r.By[0], "all") {
		opts.By = aggregate.By{All: true}
	}
	if opts.Grid.Kind == "" && len(r.At) > 0 {
		opts.Grid.Kind = app.GridTypical
		if r.Kind == "means" {
			opts.Grid.Kind = app.GridBalanced
		}
	}

	for _, s := range r.At {
		st, err := parseSetting(s)
		if err != nil {
			return opts, err
		}
		opts.Grid.Settings = append(opts.Grid.Settings, st)
	}
	for _, s := range r.Variables {
		v, err := parseVariable(s)
		if err != nil {
			return opts, err
		}
		opts.Variables = append(opts.Variables, v)
	}

	vcov, err := parseVcov(r.Vcov)
	if err != nil {
		return opts, err
	}
	opts.Uncertainty = app.Uncertainty{Vcov: vcov, Simulation: r.Simulations}
	if r.Bootstrap > 0 {
		opts.Uncertainty.Bootstrap = &app.Bootstrap{R: r.Bootstrap, Type: r.BootType, Refit: m.Refitter()}
	}

	if r.Hypothesis != "" {
		if opts.Hypothesis, err = hypothesis.Parse(r.Hypothesis); err != nil {
			return opts, err
		}
	}
	opts.Equivalence = r.Equivalence
	return opts, nil
}

// parseSetting reads "x=1,2,3", "g=a,b" or "x=mean"
func parseSetting(s string) (grid.Setting, error) {
	name, value, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return grid.Setting{}, errors.InvalidInput(fmt.Sprintf("grid setting %q is not name=values", s))
	}
	parts := strings.Split(value, ",")
	if len(parts) == 1 {
		if v, err := grid.Shorthand(parts[0]); err == nil {
			return grid.Set(name, v), nil
		}
	}
	nums := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			labels := make([]string, len(parts))
			for i, q := range parts {
				labels[i] = strings.TrimSpace(q)
			}
			return grid.Set(name, grid.Levels(labels...)), nil
		}
		nums = append(nums, v)
	}
	return grid.Set(name, grid.Numbers(nums...)), nil
}

// parseVariable reads "x" or "x=sd"
func parseVariable(s string) (contrast.Variable, error) {
	name, value, _ := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if name == "" {
		return contrast.Variable{}, errors.InvalidInput(fmt.Sprintf("variable %q has no name", s))
	}
	spec, err := contrast.ParseSpec(value)
	if err != nil {
		return contrast.Variable{}, err
	}
	return contrast.Variable{Name: name, Spec: spec}, nil
}

// parseVcov reads analytic, none, HC0-HC3 or cluster:<column>
func parseVcov(s string) (ports.VcovSpec, error) {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	switch {
	case lower == "" || lower == "analytic" || lower == "true":
		return ports.Analytic(), nil
	case lower == "none" || lower == "false":
		return ports.Disabled(), nil
	case strings.HasPrefix(lower, "hc"):
		return ports.Robust(strings.ToUpper(s)), nil
	case strings.HasPrefix(lower, "cluster:"):
		return ports.Clustered(strings.TrimSpace(s[len("cluster:"):])), nil
	}
	return ports.VcovSpec{}, errors.InvalidInput(fmt.Sprintf("unknown vcov %q", s))
}
