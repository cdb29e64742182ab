package loader

// Supported file types
const (
	FileTypeCSV  = "csv"
	FileTypeXLSX = "xlsx"

	sheetName = "Sheet1"
)

// RawRowData represents a row of raw data as header/value pairs
type RawRowData map[string]string

// TableData is a parsed sheet: trimmed headers plus one map per data row
type TableData struct {
	Headers []string
	Rows    []RawRowData
}

// HasColumn reports whether the header row contains name
func (t *TableData) HasColumn(name string) bool {
	for _, h := range t.Headers {
		if h == name {
			return true
		}
	}
	return false
}

// ColumnMapping names the columns holding each experiment field
type ColumnMapping struct {
	Pre       string `json:"pre"`
	Post      string `json:"post"`
	Treatment string `json:"treatment"`
}

// DefaultColumnMapping returns the headers written by WriteDataset
func DefaultColumnMapping() ColumnMapping {
	return ColumnMapping{
		Pre:       "pre",
		Post:      "post",
		Treatment: "treatment",
	}
}

// RegressionMapping names the columns of a regression sample
type RegressionMapping struct {
	Treatment  string `json:"treatment"`
	Age        string `json:"age"`
	Engagement string `json:"engagement"`
	Revenue    string `json:"revenue"`
	Converted  string `json:"converted"`
}

// DefaultRegressionMapping returns the headers written by WriteRegressionSample
func DefaultRegressionMapping() RegressionMapping {
	return RegressionMapping{
		Treatment:  "treatment",
		Age:        "age",
		Engagement: "engagement",
		Revenue:    "revenue",
		Converted:  "converted",
	}
}
