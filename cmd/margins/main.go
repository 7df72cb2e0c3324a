package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"gomargins/adapters/excel"
	"gomargins/adapters/glm"
	"gomargins/app"
	"gomargins/domain/frame"
	"gomargins/internal"
	"gomargins/internal/config"
	"gomargins/internal/errors"
	"gomargins/ports"
)

// globals are the flags shared by every subcommand
type globals struct {
	data     string
	sheet    string
	formula  string
	family   string
	format   string
	out      string
	logLevel string
	workers  int
	seed     int64
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		report(os.Stderr, err)
		os.Exit(1)
	}
}

// report prints err, prefixed with its code when it carries one
func report(w io.Writer, err error) {
	if errors.IsAppError(err) {
		fmt.Fprintf(w, "%s: %v\n", errors.GetCode(err), err)
		return
	}
	fmt.Fprintln(w, err)
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	rootCmd := &cobra.Command{
		Use:   "margins",
		Short: "Predictions, comparisons, slopes and marginal means for fitted models",
		Long: `Fit a Gaussian or binomial model to a CSV or Excel dataset and report
predictions, comparisons, slopes, marginal means or coefficient hypotheses with
delta-method, bootstrap or simulation uncertainty.

Example: margins slopes --data mtcars.csv --formula "mpg ~ hp * wt" --variables hp --by am`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&g.data, "data", "", "CSV or xlsx dataset")
	pf.StringVar(&g.sheet, "sheet", "", "Excel sheet (default Sheet1)")
	pf.StringVar(&g.formula, "formula", "", `Model formula, e.g. "y ~ x * g"`)
	pf.StringVar(&g.family, "family", glm.Gaussian, "Model family: gaussian|binomial")
	pf.StringVar(&g.format, "format", "table", "Output format: table|json")
	pf.StringVar(&g.out, "out", "", "Also write results to a .xlsx or .json file")
	pf.StringVar(&g.logLevel, "log-level", "", "Override LOG_LEVEL: ERROR|WARN|INFO|DEBUG|TRACE")
	pf.IntVar(&g.workers, "workers", 0, "Override MARGINS_WORKERS")
	pf.Int64Var(&g.seed, "seed", 0, "Override MARGINS_SEED")

	rootCmd.AddCommand(
		newEstimandCmd(g, "predictions", "Adjusted predictions on a grid"),
		newEstimandCmd(g, "comparisons", "Contrasts of predictions between counterfactual values"),
		newEstimandCmd(g, "slopes", "Partial derivatives and elasticities"),
		newEstimandCmd(g, "means", "Marginal means over a balanced grid"),
		newEstimandCmd(g, "hypotheses", "Tests on the model coefficients"),
		newRunCmd(g),
	)
	return rootCmd
}

func newEstimandCmd(g *globals, kind, short string) *cobra.Command {
	req := &Request{Kind: kind}

	cmd := &cobra.Command{
		Use:   kind,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Data, req.Sheet, req.Formula, req.Family = g.data, g.sheet, g.formula, g.family
			return runRequest(cmd, g, req)
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.Grid, "grid", "", "Grid: data|typical|counterfactual|balanced")
	f.StringArrayVar(&req.At, "at", nil, `Grid setting "x=1,2,3", "g=a,b" or "x=mean" (repeatable)`)
	f.StringVar(&req.Scale, "scale", "", "Prediction scale: response|link")
	f.StringSliceVar(&req.By, "by", nil, `Grid columns to average by, or "all"`)
	f.StringVar(&req.Wts, "wts", "", "Grid column holding weights")
	f.StringVar(&req.Vcov, "vcov", "", "Covariance: analytic|none|HC0..HC3|cluster:<column>")
	f.IntVar(&req.Bootstrap, "bootstrap", 0, "Bootstrap resamples (0 is off)")
	f.StringVar(&req.BootType, "boot-type", "perc", "Bootstrap interval: perc|norm|basic|bca")
	f.IntVar(&req.Simulations, "simulations", 0, "Krinsky-Robb draws (0 is off)")
	f.StringVar(&req.Hypothesis, "hypothesis", "", `Null value, keyword (pairwise, reference, ...) or expression "b1 = b2"`)
	f.Float64SliceVar(&req.Equivalence, "equivalence", nil, "Equivalence bounds low,high")
	f.Float64Var(&req.ConfLevel, "conf-level", 0, "Confidence level (default from MARGINS_CONF_LEVEL)")
	f.Float64Var(&req.DF, "df", 0, "Degrees of freedom for t statistics (0 is normal)")
	f.StringToStringVar(&req.Types, "types", nil, "Force column types, e.g. cyl=categorical")

	switch kind {
	case "comparisons", "slopes":
		f.StringArrayVar(&req.Variables, "variables", nil, `Variable to contrast, "x" or "x=sd" (repeatable)`)
		f.StringVar(&req.Transform, "transform", "", "Transform: difference, ratio, lnor, dydx, eyex, ...avg")
		f.BoolVar(&req.Cross, "cross", false, "Cross-contrast every variable jointly")
	case "means":
		f.StringSliceVar(&req.Terms, "terms", nil, "Terms to report (default: every categorical term)")
	}
	return cmd
}

func newRunCmd(g *globals) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a YAML request file",
		Long: `Run the estimand described by a YAML request file.

Example request:

  kind: comparisons
  data: trial.csv
  formula: outcome ~ treatment * age
  family: binomial
  variables: [treatment]
  transform: lnor
  by: [sex]
  hypothesis: pairwise`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := loadRequest(path)
			if err != nil {
				return err
			}
			return runRequest(cmd, g, req)
		},
	}

	cmd.Flags().StringVar(&path, "request", "", "YAML request file")
	_ = cmd.MarkFlagRequired("request")
	return cmd
}

func runRequest(cmd *cobra.Command, g *globals, req *Request) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.workers > 0 {
		cfg.Workers = g.workers
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = g.seed
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := internal.NewLogger(internal.ParseLogLevel(cfg.LogLevel))

	if err := req.Validate(); err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	data, err := excel.NewDataReader(req.Data, excel.ReaderConfig{Sheet: req.Sheet, Types: req.Types}).ReadFrame()
	if err != nil {
		return err
	}
	family := req.Family
	if family == "" {
		family = glm.Gaussian
	}
	m, err := glm.Fit(ctx, family, req.Formula, data)
	if err != nil {
		return err
	}
	log.Info("fitted %s model %s on %d rows", family, m.Formula(), data.NRow())

	opts, err := req.options(m)
	if err != nil {
		return err
	}

	ef, err := dispatch(ctx, app.NewMarginsService(*cfg, log), m, req, opts)
	if err != nil {
		return err
	}
	return output{format: g.format, path: g.out, stdout: cmd.OutOrStdout()}.write(ef)
}

func dispatch(ctx context.Context, svc *app.MarginsService, m ports.Model, req *Request, opts app.Options) (*frame.EstimateFrame, error) {
	switch req.Kind {
	case "predictions":
		return svc.Predictions(ctx, m, opts)
	case "comparisons":
		return svc.Comparisons(ctx, m, opts)
	case "slopes":
		return svc.Slopes(ctx, m, opts)
	case "means":
		return svc.MarginalMeans(ctx, m, req.Terms, opts)
	case "hypotheses":
		return svc.Hypotheses(ctx, m, opts)
	}
	return nil, errors.InternalError(fmt.Sprintf("no handler for request kind %q", req.Kind))
}
