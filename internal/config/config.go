package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"gomargins/internal/errors"
)

// Config holds the process-wide, read-only settings of the estimand engine. It is passed
// explicitly into every call.
type Config struct {
	// StepRelative scales the observed range of a variable into the slope step size
	StepRelative float64 `env:"MARGINS_STEP" envDefault:"1e-4" validate:"gt=0,lt=1"`

	// JacobianStep is the relative coefficient perturbation of the delta method
	JacobianStep float64 `env:"MARGINS_JACOBIAN_STEP" envDefault:"1e-4" validate:"gt=0,lt=1"`

	// JacobianMethod is "forward" or "central"
	JacobianMethod string `env:"MARGINS_JACOBIAN_METHOD" envDefault:"forward" validate:"oneof=forward central"`

	ConfLevel float64 `env:"MARGINS_CONF_LEVEL" envDefault:"0.95" validate:"gt=0,lt=1"`

	// PosteriorCenter is "median" or "mean"; PosteriorInterval is "eti" or "hdi"
	PosteriorCenter   string `env:"MARGINS_POSTERIOR_CENTER" envDefault:"median" validate:"oneof=median mean"`
	PosteriorInterval string `env:"MARGINS_POSTERIOR_INTERVAL" envDefault:"eti" validate:"oneof=eti hdi"`

	// Workers bounds parallel Jacobian columns and resamples; 1 is single-threaded
	Workers int   `env:"MARGINS_WORKERS" envDefault:"1" validate:"gte=1"`
	Seed    int64 `env:"MARGINS_SEED" envDefault:"20240101"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"INFO" validate:"oneof=ERROR WARN INFO DEBUG TRACE"`
}

// Default returns the configuration used when nothing is set in the environment
func Default() Config {
	return Config{
		StepRelative:      1e-4,
		JacobianStep:      1e-4,
		JacobianMethod:    "forward",
		ConfLevel:         0.95,
		PosteriorCenter:   "median",
		PosteriorInterval: "eti",
		Workers:           1,
		Seed:              20240101,
		LogLevel:          "INFO",
	}
}

// Load reads an optional .env file, then environment variables, and validates the result
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, errors.Wrap(err, "failed to read .env")
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, fmt.Errorf("parse env: %w", err))
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field ranges and enumerations
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.ConfigInvalid(err.Error())
	}
	return nil
}
