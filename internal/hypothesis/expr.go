package hypothesis

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"go.starlark.net/starlark"

	"gomargins/domain/core"
	"gomargins/domain/frame"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var positional = regexp.MustCompile(`^b[0-9]+$`)

type exprSpec []string

// Expr tests one expression per argument. Estimates are bound to b1..bn and, when the
// term of a row is a unique identifier, to that name. "lhs = rhs" is evaluated as
// lhs - rhs. exp, log, sqrt, pow and abs are available.
func Expr(exprs ...string) Spec { return exprSpec(exprs) }

func (e exprSpec) combine(ef *frame.EstimateFrame) (*combination, error) {
	if len(e) == 0 {
		return nil, core.NewHypothesisError("no expression given")
	}
	srcs := make([]string, len(e))
	labels := make([]string, len(e))
	for i, s := range e {
		src, err := rewrite(s)
		if err != nil {
			return nil, err
		}
		srcs[i] = src
		labels[i] = strings.Join(strings.Fields(s), " ")
	}
	names := named(ef)

	fn := func(est []float64) ([]float64, error) {
		env := builtins()
		for i, v := range est {
			env[fmt.Sprintf("b%d", i+1)] = starlark.Float(v)
		}
		for name, i := range names {
			env[name] = starlark.Float(est[i])
		}
		out := make([]float64, len(srcs))
		for i, src := range srcs {
			thread := &starlark.Thread{Name: "hypothesis"}
			v, err := starlark.Eval(thread, "hypothesis", src, env)
			if err != nil {
				return nil, core.NewHypothesisError("%q: %v", labels[i], err)
			}
			f, ok := starlark.AsFloat(v)
			if !ok {
				return nil, core.NewHypothesisError("%q evaluates to %s, not a number", labels[i], v.Type())
			}
			out[i] = f
		}
		return out, nil
	}
	// surface syntax errors and unknown references before differentiating
	if _, err := fn(ef.Estimates()); err != nil {
		return nil, err
	}
	return &combination{labels: labels, fn: fn}, nil
}

// rewrite turns "lhs = rhs" into "(lhs) - (rhs)"
func rewrite(s string) (string, error) {
	at := -1
	for i := 0; i < len(s); i++ {
		if s[i] != '=' {
			continue
		}
		if i > 0 && strings.ContainsRune("=!<>", rune(s[i-1])) {
			continue
		}
		if i+1 < len(s) && s[i+1] == '=' {
			continue
		}
		if at >= 0 {
			return "", core.NewHypothesisError("%q has more than one '='", s)
		}
		at = i
	}
	if at < 0 {
		return s, nil
	}
	lhs, rhs := strings.TrimSpace(s[:at]), strings.TrimSpace(s[at+1:])
	if lhs == "" || rhs == "" {
		return "", core.NewHypothesisError("%q has an empty side", s)
	}
	return "(" + lhs + ") - (" + rhs + ")", nil
}

// named maps row terms that are unique identifiers to their row index
func named(ef *frame.EstimateFrame) map[string]int {
	count := make(map[string]int)
	for _, r := range ef.Rows {
		count[r.Term]++
	}
	reserved := builtins()
	out := make(map[string]int)
	for i, r := range ef.Rows {
		t := r.Term
		if count[t] != 1 || !identifier.MatchString(t) || positional.MatchString(t) {
			continue
		}
		if _, ok := reserved[t]; ok {
			continue
		}
		out[t] = i
	}
	return out
}

func builtins() starlark.StringDict {
	return starlark.StringDict{
		"exp":  unary("exp", math.Exp),
		"log":  unary("log", math.Log),
		"sqrt": unary("sqrt", math.Sqrt),
		"abs":  unary("abs", math.Abs),
		"pow": starlark.NewBuiltin("pow", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var x, y starlark.Value
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &x, &y); err != nil {
				return nil, err
			}
			fx, ok1 := starlark.AsFloat(x)
			fy, ok2 := starlark.AsFloat(y)
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("pow: arguments must be numbers")
			}
			return starlark.Float(math.Pow(fx, fy)), nil
		}),
	}
}

func unary(name string, f func(float64) float64) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var x starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
			return nil, err
		}
		fx, ok := starlark.AsFloat(x)
		if !ok {
			return nil, fmt.Errorf("%s: argument must be a number", name)
		}
		return starlark.Float(f(fx)), nil
	})
}
