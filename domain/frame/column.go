package frame

import (
	"math"
	"sort"
	"strconv"
)

// Kind is the statistical type of a column
type Kind int

const (
	Numeric Kind = iota
	Integer
	Logical
	Categorical
)

func (k Kind) String() string {
	switch k {
	case Numeric:
		return "numeric"
	case Integer:
		return "integer"
	case Logical:
		return "logical"
	case Categorical:
		return "categorical"
	}
	return "unknown"
}

// Column is a single named vector. Numeric, integer and logical columns store their
// values in Num (logical as 0/1); categorical columns store labels in Str.
type Column struct {
	Name   string
	Kind   Kind
	Num    []float64
	Str    []string
	Levels []string // categorical level order
}

// NewNumeric creates a numeric column
func NewNumeric(name string, values []float64) *Column {
	return &Column{Name: name, Kind: Numeric, Num: values}
}

// NewInteger creates an integer-valued column. Values are stored as float64.
func NewInteger(name string, values []float64) *Column {
	return &Column{Name: name, Kind: Integer, Num: values}
}

// NewLogical creates a logical column
func NewLogical(name string, values []bool) *Column {
	num := make([]float64, len(values))
	for i, v := range values {
		if v {
			num[i] = 1
		}
	}
	return &Column{Name: name, Kind: Logical, Num: num}
}

// NewCategorical creates a categorical column. When levels are omitted they are the
// sorted unique labels.
func NewCategorical(name string, values []string, levels ...string) *Column {
	if len(levels) == 0 {
		seen := make(map[string]bool)
		for _, v := range values {
			if !seen[v] {
				seen[v] = true
				levels = append(levels, v)
			}
		}
		sort.Strings(levels)
	}
	return &Column{Name: name, Kind: Categorical, Str: values, Levels: levels}
}

// Len returns the number of rows
func (c *Column) Len() int {
	if c.Kind == Categorical {
		return len(c.Str)
	}
	return len(c.Num)
}

// IsNumeric reports whether arithmetic on the column is meaningful
func (c *Column) IsNumeric() bool {
	return c.Kind == Numeric || c.Kind == Integer
}

// Float returns the numeric value at row i; categorical columns yield NaN.
func (c *Column) Float(i int) float64 {
	if c.Kind == Categorical {
		return math.NaN()
	}
	return c.Num[i]
}

// Label renders row i as a string
func (c *Column) Label(i int) string {
	switch c.Kind {
	case Categorical:
		return c.Str[i]
	case Logical:
		if c.Num[i] != 0 {
			return "TRUE"
		}
		return "FALSE"
	default:
		return FormatNumber(c.Num[i])
	}
}

// Take returns a new column holding the given rows, in order
func (c *Column) Take(rows []int) *Column {
	out := c.emptyLike()
	if c.Kind == Categorical {
		out.Str = make([]string, len(rows))
		for i, r := range rows {
			out.Str[i] = c.Str[r]
		}
		return out
	}
	out.Num = make([]float64, len(rows))
	for i, r := range rows {
		out.Num[i] = c.Num[r]
	}
	return out
}

// Repeat returns a column of length n whose every row holds row i of c
func (c *Column) Repeat(i, n int) *Column {
	rows := make([]int, n)
	for k := range rows {
		rows[k] = i
	}
	return c.Take(rows)
}

// WithNumbers returns a copy of c carrying new numeric values
func (c *Column) WithNumbers(values []float64) *Column {
	out := c.emptyLike()
	out.Num = values
	return out
}

// WithLabels returns a copy of c carrying new categorical labels
func (c *Column) WithLabels(values []string) *Column {
	out := c.emptyLike()
	out.Str = values
	return out
}

// Unique returns the distinct values in level order (categorical) or ascending order.
func (c *Column) Unique() *Column {
	if c.Kind == Categorical {
		present := make(map[string]bool, len(c.Levels))
		for _, s := range c.Str {
			present[s] = true
		}
		var labels []string
		for _, l := range c.Levels {
			if present[l] {
				labels = append(labels, l)
			}
		}
		return c.WithLabels(labels)
	}
	seen := make(map[float64]bool)
	var vals []float64
	for _, v := range c.Num {
		if math.IsNaN(v) || seen[v] {
			continue
		}
		seen[v] = true
		vals = append(vals, v)
	}
	sort.Float64s(vals)
	return c.WithNumbers(vals)
}

func (c *Column) emptyLike() *Column {
	return &Column{Name: c.Name, Kind: c.Kind, Levels: c.Levels}
}

// FormatNumber renders a float compactly for labels
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}
