package main

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomargins/app"
	"gomargins/domain/frame"
	"gomargins/internal"
	"gomargins/internal/config"
	"gomargins/internal/errors"
	"gomargins/internal/grid"
	"gomargins/ports"
)

func TestParseSetting(t *testing.T) {
	s, err := parseSetting("x=1, 2,3")
	require.NoError(t, err)
	assert.Equal(t, "x", s.Name)
	assert.Equal(t, grid.Numbers(1, 2, 3), s.Values)

	s, err = parseSetting("g=a,b")
	require.NoError(t, err)
	assert.Equal(t, grid.Levels("a", "b"), s.Values)

	s, err = parseSetting("x=fivenum")
	require.NoError(t, err)
	assert.NotNil(t, s.Values)

	_, err = parseSetting("=1")
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
	_, err = parseSetting("x")
	assert.Error(t, err)
}

func TestParseVcov(t *testing.T) {
	cases := map[string]ports.VcovSpec{
		"":           ports.Analytic(),
		"analytic":   ports.Analytic(),
		"none":       ports.Disabled(),
		"FALSE":      ports.Disabled(),
		"hc1":        ports.Robust("HC1"),
		"cluster:id": ports.Clustered("id"),
	}
	for in, want := range cases {
		got, err := parseVcov(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseVcov("bootstrap")
	assert.Error(t, err)
}

func TestParseVariable(t *testing.T) {
	v, err := parseVariable("hp")
	require.NoError(t, err)
	assert.Equal(t, "hp", v.Name)
	assert.Nil(t, v.Spec)

	v, err = parseVariable("hp=sd")
	require.NoError(t, err)
	assert.NotNil(t, v.Spec)

	_, err = parseVariable("=sd")
	assert.Error(t, err)
	_, err = parseVariable("hp=sideways")
	assert.Error(t, err)
}

func TestRequestValidate(t *testing.T) {
	ok := Request{Kind: "comparisons", Data: "d.csv", Formula: "y ~ x"}
	assert.NoError(t, ok.Validate())

	bad := []Request{
		{Kind: "effects", Data: "d.csv", Formula: "y ~ x"},
		{Kind: "predictions", Formula: "y ~ x"},
		{Kind: "predictions", Data: "d.csv", Formula: "y ~ x", Family: "poisson"},
		{Kind: "predictions", Data: "d.csv", Formula: "y ~ x", Equivalence: []float64{1}},
		{Kind: "predictions", Data: "d.csv", Formula: "y ~ x", Types: map[string]string{"x": "date"}},
		{Kind: "hypotheses", Data: "d.csv", Formula: "y ~ x"},
	}
	for _, r := range bad {
		err := r.Validate()
		assert.Equal(t, errors.CodeValidationError, errors.GetCode(err), "%+v", r)
	}
}

func TestLoadRequest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "req.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kind: slopes\ndata: d.csv\nformula: y ~ x\nvariables: [x]\nboot_type: bca\nbootstrap: 20\n"), 0o644))
	req, err := loadRequest(path)
	require.NoError(t, err)
	assert.Equal(t, "slopes", req.Kind)
	assert.Equal(t, []string{"x"}, req.Variables)
	assert.Equal(t, 20, req.Bootstrap)
	assert.Equal(t, "bca", req.BootType)

	require.NoError(t, os.WriteFile(path, []byte("kind: [oops"), 0o644))
	_, err = loadRequest(path)
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))

	_, err = loadRequest(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
}

func TestWriteJSONUsesNull(t *testing.T) {
	r := frame.NewEstimateRow("x", "", "", []string{"a"}, 1.5)
	ef := &frame.EstimateFrame{KeyNames: []string{"g"}, Rows: []frame.EstimateRow{r}, Source: frame.SourceNone, ConfLevel: 0.95}
	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, ef))

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	row := out["rows"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, 1.5, row["estimate"])
	assert.Nil(t, row["std_error"])
	assert.Equal(t, map[string]interface{}{"g": "a"}, row["keys"])
	_, hasEquiv := row["p_equiv"]
	assert.False(t, hasEquiv)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "", number(math.NaN()))
	assert.Equal(t, "1.235", number(1.23456))
	assert.Equal(t, "<0.001", pvalue(1e-5))
	assert.Equal(t, "0.050", pvalue(0.05))
	assert.Equal(t, "2.5 %", ciHeader(&frame.EstimateFrame{ConfLevel: 0.95}, "low"))
	assert.Equal(t, "97.5 %", ciHeader(&frame.EstimateFrame{ConfLevel: 0.95}, "high"))
}

func writeLine(t *testing.T) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("y,x,g\n")
	for i := 0; i < 30; i++ {
		g := []string{"a", "b", "c"}[i%3]
		y := 1 + 2*float64(i) + float64(i%3) + 0.1*math.Sin(float64(i))
		b.WriteString(strings.Join([]string{
			strconvFloat(y), strconvFloat(float64(i)), g,
		}, ",") + "\n")
	}
	path := filepath.Join(t.TempDir(), "line.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func strconvFloat(v float64) string {
	return frame.FormatNumber(v)
}

func TestSlopesCommand(t *testing.T) {
	data := writeLine(t)
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"slopes", "--data", data, "--formula", "y ~ x + g", "--variables", "x", "--by", "all", "--format", "json"})
	require.NoError(t, cmd.Execute())

	var res struct {
		Source string `json:"source"`
		Rows   []struct {
			Term     string  `json:"term"`
			Estimate float64 `json:"estimate"`
		} `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, "delta", res.Source)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "x", res.Rows[0].Term)
	assert.InDelta(t, 2.0, res.Rows[0].Estimate, 0.05)
}

func TestMeansCommandWritesTableAndWorkbook(t *testing.T) {
	data := writeLine(t)
	xlsx := filepath.Join(t.TempDir(), "means.xlsx")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"means", "--data", data, "--formula", "y ~ x + g", "--out", xlsx})
	require.NoError(t, cmd.Execute())

	text := out.String()
	assert.Contains(t, text, "Estimate")
	assert.Contains(t, text, "97.5 %")
	assert.Contains(t, text, "Uncertainty: delta")
	_, err := os.Stat(xlsx)
	assert.NoError(t, err)
}

func TestRunCommand(t *testing.T) {
	data := writeLine(t)
	path := filepath.Join(t.TempDir(), "req.yaml")
	req := "kind: hypotheses\ndata: " + data + "\nformula: y ~ x\nhypothesis: b2 = 2\n"
	require.NoError(t, os.WriteFile(path, []byte(req), 0o644))

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"run", "--request", path, "--format", "json"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), `"term": "b2 = 2"`)

	cmd = newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"predictions", "--data", data, "--formula", "y ~ x", "--format", "yaml"})
	assert.Error(t, cmd.Execute())
}

func TestReportPrefixesCode(t *testing.T) {
	var buf bytes.Buffer
	report(&buf, errors.NotFound("request file r.yaml"))
	assert.Equal(t, "NOT_FOUND: request file r.yaml not found\n", buf.String())

	buf.Reset()
	report(&buf, stderrors.New("plain"))
	assert.Equal(t, "plain\n", buf.String())
}

func TestDispatchRejectsUnknownKind(t *testing.T) {
	svc := app.NewMarginsService(config.Default(), internal.Discard)
	_, err := dispatch(context.Background(), svc, nil, &Request{Kind: "forecast"}, app.Options{})
	assert.Equal(t, errors.CodeInternalError, errors.GetCode(err))
}

func TestMeansCommandSettingsKeepBalancedGrid(t *testing.T) {
	data := writeLine(t)
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"means", "--data", data, "--formula", "y ~ x + g", "--at", "x=0", "--format", "json"})
	require.NoError(t, cmd.Execute())

	var res struct {
		Rows []struct {
			Term string `json:"term"`
		} `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	require.NotEmpty(t, res.Rows)
	for _, r := range res.Rows {
		assert.Equal(t, "g", r.Term)
	}
}
