package glm

import (
	"fmt"
	"strings"

	"gomargins/internal/errors"
)

// Formula is a parsed model formula "y ~ a + b + a:b". "a*b" expands to a + b + a:b and
// "- 1" or "+ 0" drops the intercept.
type Formula struct {
	Response  string
	Terms     [][]string // each term is one variable or an interaction of several
	Intercept bool
	raw       string
}

// ParseFormula parses a formula string
func ParseFormula(s string) (Formula, error) {
	parts := strings.Split(s, "~")
	if len(parts) != 2 {
		return Formula{}, errors.InvalidInput(fmt.Sprintf("formula %q must contain exactly one '~'", s))
	}
	f := Formula{Response: strings.TrimSpace(parts[0]), Intercept: true, raw: strings.TrimSpace(s)}
	if f.Response == "" {
		return Formula{}, errors.InvalidInput(fmt.Sprintf("formula %q has no response", s))
	}

	rhs := strings.ReplaceAll(parts[1], "-", "+-")
	seen := make(map[string]bool)
	add := func(vars []string) {
		key := strings.Join(vars, ":")
		if !seen[key] {
			seen[key] = true
			f.Terms = append(f.Terms, vars)
		}
	}
	for _, tok := range strings.Split(rhs, "+") {
		tok = strings.TrimSpace(tok)
		switch tok {
		case "":
			continue
		case "1":
			f.Intercept = true
			continue
		case "0", "-1", "- 1":
			f.Intercept = false
			continue
		}
		if strings.HasPrefix(tok, "-") {
			return Formula{}, errors.InvalidInput(fmt.Sprintf("formula %q: only '- 1' can be subtracted", s))
		}
		switch {
		case strings.Contains(tok, "*"):
			vars := splitVars(tok, "*")
			// all main effects, then every interaction of two or more
			for _, sub := range subsets(vars) {
				add(sub)
			}
		default:
			add(splitVars(tok, ":"))
		}
	}
	for _, t := range f.Terms {
		for _, v := range t {
			if v == "" {
				return Formula{}, errors.InvalidInput(fmt.Sprintf("formula %q has an empty variable", s))
			}
		}
	}
	if len(f.Terms) == 0 && !f.Intercept {
		return Formula{}, errors.InvalidInput(fmt.Sprintf("formula %q has no terms", s))
	}
	return f, nil
}

// Variables returns the distinct predictor names in order of appearance
func (f Formula) Variables() []string {
	var out []string
	seen := make(map[string]bool)
	for _, t := range f.Terms {
		for _, v := range t {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

func (f Formula) String() string {
	return f.raw
}

func splitVars(tok, sep string) []string {
	parts := strings.Split(tok, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// subsets lists non-empty subsets of vars ordered by size, then by position
func subsets(vars []string) [][]string {
	n := len(vars)
	var out [][]string
	for size := 1; size <= n; size++ {
		for mask := 1; mask < 1<<n; mask++ {
			if popcount(mask) != size {
				continue
			}
			var sub []string
			for i := 0; i < n; i++ {
				if mask&(1<<i) != 0 {
					sub = append(sub, vars[i])
				}
			}
			out = append(out, sub)
		}
	}
	return out
}

func popcount(x int) int {
	n := 0
	for ; x > 0; x &= x - 1 {
		n++
	}
	return n
}
