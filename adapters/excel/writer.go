package excel

import (
	"fmt"
	"math"

	"github.com/xuri/excelize/v2"

	"gomargins/domain/frame"
	"gomargins/internal/errors"
)

// WriteEstimates saves an EstimateFrame to a single-sheet xlsx workbook. Missing
// values are left as empty cells.
func WriteEstimates(path string, ef *frame.EstimateFrame) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Sheet1"
	header := []interface{}{"term", "contrast", "group"}
	for _, k := range ef.KeyNames {
		header = append(header, k)
	}
	header = append(header, "estimate", "std_error", "statistic", "p_value", "conf_low", "conf_high")
	equivalence := hasEquivalence(ef)
	if equivalence {
		header = append(header, "p_noninf", "p_nonsup", "p_equiv")
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return errors.Wrap(err, "write header")
	}

	for i, r := range ef.Rows {
		row := []interface{}{r.Term, r.Contrast, r.Group}
		for k := range ef.KeyNames {
			v := ""
			if k < len(r.Keys) {
				v = r.Keys[k]
			}
			row = append(row, v)
		}
		row = append(row, cell(r.Estimate), cell(r.StdError), cell(r.Statistic), cell(r.PValue), cell(r.ConfLow), cell(r.ConfHigh))
		if equivalence {
			row = append(row, cell(r.PNonInf), cell(r.PNonSup), cell(r.PEquiv))
		}
		addr, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, addr, &row); err != nil {
			return errors.Wrapf(err, "write row %d", i+1)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return errors.Wrap(err, fmt.Sprintf("save %s", path))
	}
	return nil
}

func cell(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func hasEquivalence(ef *frame.EstimateFrame) bool {
	for _, r := range ef.Rows {
		if !math.IsNaN(r.PEquiv) {
			return true
		}
	}
	return false
}
