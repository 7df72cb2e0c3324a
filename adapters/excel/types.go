package excel

// ExcelData is a sheet as read from disk, before type inference
type ExcelData struct {
	Headers []string   // Column headers
	Rows    [][]string // Data rows aligned with Headers
}
