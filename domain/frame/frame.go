// Package frame holds the tabular values that flow through the estimand pipeline:
// data and grids (Frame), adapter output (Prediction), draw matrices riding alongside
// rows (Draws) and reported quantities (EstimateFrame).
package frame

import (
	"fmt"

	"gomargins/domain/core"
)

// Frame is an immutable, ordered set of equal-length columns.
type Frame struct {
	cols  []*Column
	index map[string]int
	nrow  int
}

// New builds a frame, checking that names are unique and lengths agree.
func New(cols ...*Column) (*Frame, error) {
	f := &Frame{index: make(map[string]int, len(cols))}
	for i, c := range cols {
		if _, dup := f.index[c.Name]; dup {
			return nil, fmt.Errorf("duplicate column %q", c.Name)
		}
		if i == 0 {
			f.nrow = c.Len()
		} else if c.Len() != f.nrow {
			return nil, fmt.Errorf("column %q has %d rows, want %d", c.Name, c.Len(), f.nrow)
		}
		f.index[c.Name] = i
		f.cols = append(f.cols, c)
	}
	return f, nil
}

// MustNew is New for fixtures whose shape is known to be valid
func MustNew(cols ...*Column) *Frame {
	f, err := New(cols...)
	if err != nil {
		panic(err)
	}
	return f
}

// NRow returns the number of rows
func (f *Frame) NRow() int {
	if f == nil {
		return 0
	}
	return f.nrow
}

// Names returns column names in order
func (f *Frame) Names() []string {
	names := make([]string, len(f.cols))
	for i, c := range f.cols {
		names[i] = c.Name
	}
	return names
}

// Has reports whether a column exists
func (f *Frame) Has(name string) bool {
	_, ok := f.index[name]
	return ok
}

// Column looks a column up by name
func (f *Frame) Column(name string) (*Column, error) {
	i, ok := f.index[name]
	if !ok {
		return nil, core.NewUnknownVariableError(name, f.Names())
	}
	return f.cols[i], nil
}

// Columns returns the columns in order. Callers must not mutate them.
func (f *Frame) Columns() []*Column {
	return f.cols
}

// With returns a frame where each given column replaces the same-named column or is
// appended.
func (f *Frame) With(cols ...*Column) (*Frame, error) {
	next := append([]*Column(nil), f.cols...)
	for _, c := range cols {
		if i, ok := f.index[c.Name]; ok {
			next[i] = c
			continue
		}
		next = append(next, c)
	}
	return New(next...)
}

// Take returns the given rows, in order
func (f *Frame) Take(rows []int) *Frame {
	cols := make([]*Column, len(f.cols))
	for i, c := range f.cols {
		cols[i] = c.Take(rows)
	}
	out := &Frame{cols: cols, index: f.index, nrow: len(rows)}
	return out
}

// Repeat stacks the frame on top of itself n times
func (f *Frame) Repeat(n int) *Frame {
	rows := make([]int, 0, f.nrow*n)
	for k := 0; k < n; k++ {
		for i := 0; i < f.nrow; i++ {
			rows = append(rows, i)
		}
	}
	return f.Take(rows)
}

// Bind stacks frames sharing the same schema. Categorical levels are merged in order
// of first appearance.
func Bind(frames ...*Frame) (*Frame, error) {
	if len(frames) == 0 {
		return New()
	}
	first := frames[0]
	cols := make([]*Column, len(first.cols))
	for j, c := range first.cols {
		out := c.emptyLike()
		levels := append([]string(nil), c.Levels...)
		seen := make(map[string]bool, len(levels))
		for _, l := range levels {
			seen[l] = true
		}
		for _, f := range frames {
			other, err := f.Column(c.Name)
			if err != nil {
				return nil, fmt.Errorf("bind: %w", err)
			}
			if other.Kind != c.Kind {
				return nil, fmt.Errorf("bind: column %q is %s in one frame and %s in another", c.Name, c.Kind, other.Kind)
			}
			if c.Kind == Categorical {
				out.Str = append(out.Str, other.Str...)
				for _, l := range other.Levels {
					if !seen[l] {
						seen[l] = true
						levels = append(levels, l)
					}
				}
				continue
			}
			out.Num = append(out.Num, other.Num...)
		}
		out.Levels = levels
		cols[j] = out
	}
	return New(cols...)
}

// RowLabel renders the named columns of row i as "a=1, b=x"
func (f *Frame) RowLabel(i int, names []string) string {
	s := ""
	for k, n := range names {
		c, err := f.Column(n)
		if err != nil {
			continue
		}
		if k > 0 {
			s += ", "
		}
		s += n + "=" + c.Label(i)
	}
	return s
}
