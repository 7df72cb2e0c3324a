package excel

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"gomargins/domain/frame"
	"gomargins/internal/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadCSVInfersKinds(t *testing.T) {
	path := writeFile(t, "data.csv", "y, x ,n,treated,arm\n1.5,2,3,TRUE,a\n2.5,NA,4,F,b\n3,1,5,T, a \n")
	f, err := NewDataReader(path, ReaderConfig{}).ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, 3, f.NRow())
	assert.Equal(t, []string{"y", "x", "n", "treated", "arm"}, f.Names())

	kinds := map[string]frame.Kind{}
	for _, c := range f.Columns() {
		kinds[c.Name] = c.Kind
	}
	assert.Equal(t, frame.Numeric, kinds["y"])
	assert.Equal(t, frame.Integer, kinds["x"])
	assert.Equal(t, frame.Integer, kinds["n"])
	assert.Equal(t, frame.Logical, kinds["treated"])
	assert.Equal(t, frame.Categorical, kinds["arm"])

	x, _ := f.Column("x")
	assert.True(t, math.IsNaN(x.Num[1]), "NA is missing")
	arm, _ := f.Column("arm")
	assert.Equal(t, "a", arm.Str[2], "cells are trimmed")
}

func TestForcedTypes(t *testing.T) {
	path := writeFile(t, "data.csv", "cyl,y\n4,1\n6,2\n8,3\n")
	f, err := NewDataReader(path, ReaderConfig{Types: map[string]string{"cyl": "categorical"}}).ReadFrame()
	require.NoError(t, err)
	cyl, _ := f.Column("cyl")
	assert.Equal(t, frame.Categorical, cyl.Kind)

	_, err = NewDataReader(path, ReaderConfig{Types: map[string]string{"cyl": "logical"}}).ReadFrame()
	assert.Equal(t, errors.CodeDataLoad, errors.GetCode(err))

	_, err = NewDataReader(path, ReaderConfig{Types: map[string]string{"cyl": "date"}}).ReadFrame()
	assert.Error(t, err)
}

func TestReadErrors(t *testing.T) {
	_, err := NewDataReader(filepath.Join(t.TempDir(), "missing.csv"), ReaderConfig{}).ReadFrame()
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
	assert.Contains(t, err.Error(), "missing.csv not found")

	_, err = NewDataReader(writeFile(t, "header.csv", "y,x\n"), ReaderConfig{}).ReadFrame()
	assert.Equal(t, errors.CodeDataLoad, errors.GetCode(err))

	_, err = NewDataReader(writeFile(t, "blank.csv", "y,\n1,2\n"), ReaderConfig{}).ReadFrame()
	assert.Equal(t, errors.CodeDataLoad, errors.GetCode(err))
}

func TestReadExcelPadsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.xlsx")
	x := excelize.NewFile()
	require.NoError(t, x.SetSheetRow("Sheet1", "A1", &[]interface{}{"y", "g", "z"}))
	require.NoError(t, x.SetSheetRow("Sheet1", "A2", &[]interface{}{1.0, "a", 3.5}))
	require.NoError(t, x.SetSheetRow("Sheet1", "A3", &[]interface{}{2.0, "b"}))
	require.NoError(t, x.SaveAs(path))
	require.NoError(t, x.Close())

	f, err := NewDataReader(path, ReaderConfig{}).ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, 2, f.NRow())
	z, _ := f.Column("z")
	assert.True(t, math.IsNaN(z.Num[1]), "trailing empty cell is missing")

	_, err = NewDataReader(path, ReaderConfig{Sheet: "Other"}).ReadFrame()
	assert.Equal(t, errors.CodeDataLoad, errors.GetCode(err))
}

func TestWriteEstimates(t *testing.T) {
	r := frame.NewEstimateRow("x", "+1", "", []string{"b"}, 2)
	r.StdError = 0.5
	ef := &frame.EstimateFrame{KeyNames: []string{"g"}, Rows: []frame.EstimateRow{r}}
	path := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, WriteEstimates(path, ef))

	x, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer x.Close()
	rows, err := x.GetRows("Sheet1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"term", "contrast", "group", "g", "estimate", "std_error", "statistic", "p_value", "conf_low", "conf_high"}, rows[0])
	assert.Equal(t, "x", rows[1][0])
	assert.Equal(t, "b", rows[1][3])
	assert.Equal(t, "2", rows[1][4])
	assert.Equal(t, "0.5", rows[1][5])
	assert.Len(t, rows[1], 6, "NaN cells are left empty")
}
