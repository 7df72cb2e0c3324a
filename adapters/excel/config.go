package excel

// ReaderConfig controls how a sheet or csv file becomes a frame
type ReaderConfig struct {
	// Sheet is the worksheet to read from xlsx files
	Sheet string `yaml:"sheet" json:"sheet"`

	// Types forces the kind of named columns: numeric, integer, logical or categorical
	Types map[string]string `yaml:"types" json:"types"`

	// Missing lists cell values read as missing
	Missing []string `yaml:"missing" json:"missing"`
}

// DefaultReaderConfig reads Sheet1 and treats empty cells and NA as missing
func DefaultReaderConfig() ReaderConfig {
	return ReaderConfig{
		Sheet:   "Sheet1",
		Missing: []string{"", "NA", "NaN", "null"},
	}
}
