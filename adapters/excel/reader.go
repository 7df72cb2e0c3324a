package excel

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"gomargins/domain/frame"
	"gomargins/internal"
	"gomargins/internal/errors"
)

// DataReader handles reading Excel and CSV files
type DataReader struct {
	filePath string
	fileType string // "xlsx" or "csv"
	config   ReaderConfig
	log      *internal.Logger
}

// NewDataReader creates a new data reader that handles both Excel and CSV files
func NewDataReader(filePath string, config ReaderConfig) *DataReader {
	ext := strings.ToLower(filepath.Ext(filePath))
	fileType := "xlsx"
	if ext == ".csv" {
		fileType = "csv"
	}
	if config.Sheet == "" {
		config.Sheet = DefaultReaderConfig().Sheet
	}
	if config.Missing == nil {
		config.Missing = DefaultReaderConfig().Missing
	}
	return &DataReader{filePath: filePath, fileType: fileType, config: config, log: internal.DefaultLogger}
}

// ReadFrame reads the file and infers a column kind for every header
func (r *DataReader) ReadFrame() (*frame.Frame, error) {
	data, err := r.ReadData()
	if err != nil {
		return nil, err
	}
	f, err := r.toFrame(data)
	if err != nil {
		return nil, errors.DataLoadError(r.filePath, err)
	}
	return f, nil
}

// ReadData reads data from Excel or CSV files into structured format
func (r *DataReader) ReadData() (*ExcelData, error) {
	r.log.Debug("[DataReader] Starting to read %s file: %s", r.fileType, r.filePath)

	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, errors.NotFound(fmt.Sprintf("%s file %s", strings.ToUpper(r.fileType), r.filePath))
	}

	var (
		rows [][]string
		err  error
	)
	switch r.fileType {
	case "csv":
		rows, err = r.readCSV()
	default:
		rows, err = r.readExcel()
	}
	if err != nil {
		return nil, errors.DataLoadError(r.filePath, err)
	}
	if len(rows) < 2 {
		return nil, errors.DataLoadError(r.filePath, fmt.Errorf("file must have at least a header row and one data row"))
	}
	return r.processRows(rows), nil
}

func (r *DataReader) readExcel() ([][]string, error) {
	start := time.Now()
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(r.config.Sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", r.config.Sheet, err)
	}
	r.log.Debug("[DataReader] %s read in %.2fms (%d rows)", r.config.Sheet, float64(time.Since(start).Nanoseconds())/1e6, len(rows))
	return rows, nil
}

func (r *DataReader) readCSV() ([][]string, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	start := time.Now()
	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	r.log.Debug("[DataReader] CSV file read in %.2fms (%d rows)", float64(time.Since(start).Nanoseconds())/1e6, len(rows))
	return rows, nil
}

// processRows trims cells and pads short rows (excelize drops trailing empty cells)
func (r *DataReader) processRows(rows [][]string) *ExcelData {
	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(h)
	}
	data := &ExcelData{Headers: headers}
	for _, row := range rows[1:] {
		cells := make([]string, len(headers))
		for j := range cells {
			if j < len(row) {
				cells[j] = strings.TrimSpace(row[j])
			}
		}
		data.Rows = append(data.Rows, cells)
	}
	r.log.Debug("[DataReader] %s file processed (%d columns, %d rows)", strings.ToUpper(r.fileType), len(headers), len(data.Rows))
	return data
}

func (r *DataReader) toFrame(data *ExcelData) (*frame.Frame, error) {
	cols := make([]*frame.Column, 0, len(data.Headers))
	for j, name := range data.Headers {
		if name == "" {
			return nil, fmt.Errorf("column %d has an empty header", j+1)
		}
		cells := make([]string, len(data.Rows))
		for i, row := range data.Rows {
			cells[i] = row[j]
		}
		kind, forced := r.config.Types[name]
		if !forced {
			kind = r.infer(cells)
		}
		c, err := r.column(name, kind, cells)
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return frame.New(cols...)
}

// infer picks logical, integer, numeric or categorical from the non-missing cells
func (r *DataReader) infer(cells []string) string {
	logical, integer, numeric := true, true, true
	seen := 0
	for _, s := range cells {
		if r.missing(s) {
			continue
		}
		seen++
		if _, ok := parseBool(s); !ok {
			logical = false
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			numeric, integer = false, false
			continue
		}
		if v != math.Trunc(v) {
			integer = false
		}
	}
	switch {
	case seen == 0:
		return "numeric"
	case logical:
		return "logical"
	case integer:
		return "integer"
	case numeric:
		return "numeric"
	}
	return "categorical"
}

func (r *DataReader) column(name, kind string, cells []string) (*frame.Column, error) {
	kind = strings.ToLower(kind)
	switch kind {
	case "categorical":
		return frame.NewCategorical(name, cells), nil
	case "logical":
		vals := make([]bool, len(cells))
		for i, s := range cells {
			b, ok := parseBool(s)
			if !ok {
				return nil, fmt.Errorf("column %s row %d: %q is not TRUE or FALSE", name, i+1, s)
			}
			vals[i] = b
		}
		return frame.NewLogical(name, vals), nil
	case "numeric", "integer":
		vals := make([]float64, len(cells))
		for i, s := range cells {
			if r.missing(s) {
				vals[i] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("column %s row %d: %w", name, i+1, err)
			}
			vals[i] = v
		}
		if kind == "integer" {
			return frame.NewInteger(name, vals), nil
		}
		return frame.NewNumeric(name, vals), nil
	}
	return nil, fmt.Errorf("column %s: unknown type %q", name, kind)
}

func (r *DataReader) missing(s string) bool {
	for _, m := range r.config.Missing {
		if s == m {
			return true
		}
	}
	return false
}

func parseBool(s string) (bool, bool) {
	switch strings.ToUpper(s) {
	case "TRUE", "T":
		return true, true
	case "FALSE", "F":
		return false, true
	}
	return false, false
}
