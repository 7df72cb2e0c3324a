package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"gomargins/adapters/excel"
	"gomargins/domain/frame"
	"gomargins/internal/errors"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

// writeTable renders ef as an aligned text table
func writeTable(w io.Writer, ef *frame.EstimateFrame) error {
	equivalence := hasEquivalence(ef)
	headers := identityHeaders(ef)
	headers = append(headers, "Estimate", "Std. Error", "z", "Pr(>|z|)", ciHeader(ef, "low"), ciHeader(ef, "high"))
	if ef.DF > 0 {
		headers[len(headers)-4] = "t"
		headers[len(headers)-3] = "Pr(>|t|)"
	}
	if equivalence {
		headers = append(headers, "p (NonInf)", "p (NonSup)", "p (Equiv)")
	}
	numeric := len(identityHeaders(ef))

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col >= numeric {
				return cellStyle.Align(lipgloss.Right)
			}
			return cellStyle
		})
	for i := range ef.Rows {
		r := ef.Rows[i]
		cells := identityCells(ef, r)
		cells = append(cells, number(r.Estimate), number(r.StdError), number(r.Statistic), pvalue(r.PValue), number(r.ConfLow), number(r.ConfHigh))
		if equivalence {
			cells = append(cells, pvalue(r.PNonInf), pvalue(r.PNonSup), pvalue(r.PEquiv))
		}
		t.Row(cells...)
	}
	if _, err := fmt.Fprintln(w, t.Render()); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "Uncertainty: %s\n", ef.Source)
	return err
}

func ciHeader(ef *frame.EstimateFrame, side string) string {
	p := (1 - ef.ConfLevel) / 2 * 100
	if side == "high" {
		p = 100 - p
	}
	return strconv.FormatFloat(p, 'g', 4, 64) + " %"
}

// identityHeaders lists the columns that identify a row, skipping empty ones
func identityHeaders(ef *frame.EstimateFrame) []string {
	var out []string
	term, contrast, group := used(ef)
	if term {
		out = append(out, "Term")
	}
	if contrast {
		out = append(out, "Contrast")
	}
	if group {
		out = append(out, "Group")
	}
	return append(out, ef.KeyNames...)
}

func identityCells(ef *frame.EstimateFrame, r frame.EstimateRow) []string {
	var out []string
	term, contrast, group := used(ef)
	if term {
		out = append(out, r.Term)
	}
	if contrast {
		out = append(out, r.Contrast)
	}
	if group {
		out = append(out, r.Group)
	}
	for k := range ef.KeyNames {
		v := ""
		if k < len(r.Keys) {
			v = r.Keys[k]
		}
		out = append(out, v)
	}
	return out
}

func used(ef *frame.EstimateFrame) (term, contrast, group bool) {
	for _, r := range ef.Rows {
		term = term || r.Term != ""
		contrast = contrast || r.Contrast != ""
		group = group || r.Group != ""
	}
	return term, contrast, group
}

func number(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', 4, 64)
}

func pvalue(p float64) string {
	switch {
	case math.IsNaN(p):
		return ""
	case p < 0.001:
		return "<0.001"
	}
	return strconv.FormatFloat(p, 'f', 3, 64)
}

func hasEquivalence(ef *frame.EstimateFrame) bool {
	for _, r := range ef.Rows {
		if !math.IsNaN(r.PEquiv) {
			return true
		}
	}
	return false
}

type jsonFrame struct {
	Source    frame.Source `json:"source"`
	ConfLevel float64      `json:"conf_level"`
	DF        float64      `json:"df,omitempty"`
	Rows      []jsonRow    `json:"rows"`
}

type jsonRow struct {
	Term      string            `json:"term,omitempty"`
	Contrast  string            `json:"contrast,omitempty"`
	Group     string            `json:"group,omitempty"`
	Keys      map[string]string `json:"keys,omitempty"`
	Estimate  *float64          `json:"estimate"`
	StdError  *float64          `json:"std_error"`
	Statistic *float64          `json:"statistic"`
	PValue    *float64          `json:"p_value"`
	ConfLow   *float64          `json:"conf_low"`
	ConfHigh  *float64          `json:"conf_high"`
	PNonInf   *float64          `json:"p_noninf,omitempty"`
	PNonSup   *float64          `json:"p_nonsup,omitempty"`
	PEquiv    *float64          `json:"p_equiv,omitempty"`
}

// writeJSON encodes ef with missing values as null
func writeJSON(w io.Writer, ef *frame.EstimateFrame) error {
	out := jsonFrame{Source: ef.Source, ConfLevel: ef.ConfLevel, DF: ef.DF, Rows: make([]jsonRow, 0, ef.Len())}
	for _, r := range ef.Rows {
		row := jsonRow{
			Term: r.Term, Contrast: r.Contrast, Group: r.Group,
			Estimate: ptr(r.Estimate), StdError: ptr(r.StdError), Statistic: ptr(r.Statistic),
			PValue: ptr(r.PValue), ConfLow: ptr(r.ConfLow), ConfHigh: ptr(r.ConfHigh),
			PNonInf: ptr(r.PNonInf), PNonSup: ptr(r.PNonSup), PEquiv: ptr(r.PEquiv),
		}
		if len(ef.KeyNames) > 0 {
			row.Keys = make(map[string]string, len(ef.KeyNames))
			for k, name := range ef.KeyNames {
				if k < len(r.Keys) {
					row.Keys[name] = r.Keys[k]
				}
			}
		}
		out.Rows = append(out.Rows, row)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func ptr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// output writes results to stdout in the chosen format and optionally to a file
type output struct {
	format string
	path   string
	stdout io.Writer
}

func (o output) write(ef *frame.EstimateFrame) error {
	switch strings.ToLower(o.format) {
	case "", "table":
		if err := writeTable(o.stdout, ef); err != nil {
			return err
		}
	case "json":
		if err := writeJSON(o.stdout, ef); err != nil {
			return err
		}
	default:
		return errors.InvalidInput(fmt.Sprintf("unknown format %q (table or json)", o.format))
	}
	if o.path == "" {
		return nil
	}
	switch strings.ToLower(filepath.Ext(o.path)) {
	case ".xlsx":
		return excel.WriteEstimates(o.path, ef)
	case ".json":
		f, err := os.Create(o.path)
		if err != nil {
			return errors.Wrapf(err, "create %s", o.path)
		}
		defer f.Close()
		return writeJSON(f, ef)
	}
	return errors.InvalidInput(fmt.Sprintf("cannot write %s: use .xlsx or .json", o.path))
}
