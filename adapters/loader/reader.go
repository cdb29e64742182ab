package loader

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"goabtest/domain/core"
	"goabtest/domain/dataset"
	"goabtest/internal"
	"goabtest/internal/errors"

	"github.com/xuri/excelize/v2"
)

// DataReader handles reading experiment data from XLSX and CSV files
type DataReader struct {
	filePath string
	fileType string // "xlsx" or "csv"
	logger   *internal.Logger
}

// NewDataReader creates a reader; the file type follows the extension and
// defaults to xlsx.
func NewDataReader(filePath string) *DataReader {
	return &DataReader{
		filePath: filePath,
		fileType: detectFileType(filePath),
		logger:   internal.DefaultLogger.WithComponent("DataReader"),
	}
}

// WithLogger replaces the reader's logger
func (r *DataReader) WithLogger(logger *internal.Logger) *DataReader {
	r.logger = logger.WithComponent("DataReader")
	return r
}

// FileType returns "csv" or "xlsx"
func (r *DataReader) FileType() string {
	return r.fileType
}

func detectFileType(path string) string {
	if strings.ToLower(filepath.Ext(path)) == ".csv" {
		return FileTypeCSV
	}
	return FileTypeXLSX
}

// ReadData reads the file into headers and string rows
func (r *DataReader) ReadData() (*TableData, error) {
	r.logger.Debug("Starting to read %s file: %s", r.fileType, r.filePath)

	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil, errors.IOError(fmt.Sprintf("%s file not found: %s", strings.ToUpper(r.fileType), r.filePath), err)
	}

	switch r.fileType {
	case FileTypeCSV:
		return r.readCSVData()
	case FileTypeXLSX:
		return r.readExcelData()
	default:
		return nil, errors.InvalidInput(fmt.Sprintf("unsupported file type: %s", r.fileType))
	}
}

// readExcelData reads Sheet1 of an XLSX workbook
func (r *DataReader) readExcelData() (*TableData, error) {
	start := time.Now()
	f, err := excelize.OpenFile(r.filePath)
	if err != nil {
		return nil, errors.IOError("failed to open Excel file", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheetName, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, errors.IOError("failed to read "+sheetName, err)
	}
	r.logger.Debug("%s read in %.2fms (%d rows)", sheetName, float64(time.Since(start).Nanoseconds())/1e6, len(rows))

	return r.processRows(rows)
}

// readCSVData reads a comma separated file
func (r *DataReader) readCSVData() (*TableData, error) {
	file, err := os.Open(r.filePath)
	if err != nil {
		return nil, errors.IOError("failed to open CSV file", err)
	}
	defer file.Close()

	start := time.Now()
	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.IOError("failed to read CSV file", err)
	}
	r.logger.Debug("CSV file read in %.2fms (%d rows)", float64(time.Since(start).Nanoseconds())/1e6, len(rows))

	return r.processRows(rows)
}

// processRows converts raw string rows into TableData
func (r *DataReader) processRows(rows [][]string) (*TableData, error) {
	if len(rows) < 2 {
		return nil, errors.WithCode(errors.CodeInvalidInput,
			core.NewInsufficientDataError(strings.ToUpper(r.fileType)+" file", max(len(rows)-1, 0), 1))
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(h)
	}

	data := make([]RawRowData, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		rowData := make(RawRowData, len(headers))
		for j, cell := range row {
			if j < len(headers) {
				rowData[headers[j]] = strings.TrimSpace(cell)
			}
		}
		data = append(data, rowData)
	}

	r.logger.Debug("%s file processed (%d columns, %d rows)", strings.ToUpper(r.fileType), len(headers), len(data))
	return &TableData{Headers: headers, Rows: data}, nil
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// ReadDataset maps the pre, post and treatment columns into a Dataset
func (r *DataReader) ReadDataset(mapping ColumnMapping) (*dataset.Dataset, error) {
	table, err := r.ReadData()
	if err != nil {
		return nil, err
	}
	if err := requireColumns(table, mapping.Pre, mapping.Post, mapping.Treatment); err != nil {
		return nil, err
	}

	n := len(table.Rows)
	pre := make([]float64, n)
	post := make([]float64, n)
	treatment := make([]int, n)
	for i, row := range table.Rows {
		if pre[i], err = parseNumber(row, mapping.Pre, i); err != nil {
			return nil, err
		}
		if post[i], err = parseNumber(row, mapping.Post, i); err != nil {
			return nil, err
		}
		if treatment[i], err = parseIndicator(row, mapping.Treatment, i, core.ErrInvalidTreatment); err != nil {
			return nil, err
		}
	}

	ds, err := dataset.FromColumns(filepath.Base(r.filePath), r.fileType, pre, post, treatment)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid dataset in %s", r.filePath)
	}
	control, treated := ds.GroupSizes()
	r.logger.Info("Loaded %d observations from %s (control=%d, treatment=%d)", ds.Len(), r.filePath, control, treated)
	return ds, nil
}

// ReadRegressionSample maps the regression columns into a RegressionSample
func (r *DataReader) ReadRegressionSample(mapping RegressionMapping) (*dataset.RegressionSample, error) {
	table, err := r.ReadData()
	if err != nil {
		return nil, err
	}
	if err := requireColumns(table, mapping.Treatment, mapping.Age, mapping.Engagement, mapping.Revenue, mapping.Converted); err != nil {
		return nil, err
	}

	n := len(table.Rows)
	sample := &dataset.RegressionSample{
		Treatment:  make([]float64, n),
		Age:        make([]float64, n),
		Engagement: make([]float64, n),
		Revenue:    make([]float64, n),
		Converted:  make([]float64, n),
	}
	for i, row := range table.Rows {
		t, err := parseIndicator(row, mapping.Treatment, i, core.ErrInvalidTreatment)
		if err != nil {
			return nil, err
		}
		c, err := parseIndicator(row, mapping.Converted, i, core.ErrInvalidOutcome)
		if err != nil {
			return nil, err
		}
		sample.Treatment[i] = float64(t)
		sample.Converted[i] = float64(c)
		if sample.Age[i], err = parseNumber(row, mapping.Age, i); err != nil {
			return nil, err
		}
		if sample.Engagement[i], err = parseNumber(row, mapping.Engagement, i); err != nil {
			return nil, err
		}
		if sample.Revenue[i], err = parseNumber(row, mapping.Revenue, i); err != nil {
			return nil, err
		}
	}

	r.logger.Info("Loaded regression sample of %d users from %s", n, r.filePath)
	return sample, nil
}

func requireColumns(table *TableData, names ...string) error {
	for _, name := range names {
		if !table.HasColumn(name) {
			return errors.Wrapf(core.NewColumnNotFoundError(name), "header row is %v", table.Headers)
		}
	}
	return nil
}

// parseNumber reads a finite float. Row numbers in errors count the header
// as row 1 so they match what a spreadsheet shows.
func parseNumber(row RawRowData, column string, index int) (float64, error) {
	raw := row[column]
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.InvalidInput(fmt.Sprintf("row %d, column %q: cannot parse %q as a finite number", index+2, column, raw))
	}
	return v, nil
}

func parseIndicator(row RawRowData, column string, index int, sentinel error) (int, error) {
	raw := strings.ToLower(row[column])
	switch raw {
	case "0", "0.0", "false":
		return 0, nil
	case "1", "1.0", "true":
		return 1, nil
	}
	return 0, errors.Wrap(
		fmt.Errorf("%w: row %d, column %q has %q", sentinel, index+2, column, row[column]),
		"failed to parse indicator",
	)
}

// Source adapts a file on disk to ports.DatasetSource and ports.RegressionSource
type Source struct {
	Path              string
	Mapping           ColumnMapping
	RegressionMapping RegressionMapping
}

// NewSource creates a file source with default column mappings
func NewSource(path string) *Source {
	return &Source{
		Path:              path,
		Mapping:           DefaultColumnMapping(),
		RegressionMapping: DefaultRegressionMapping(),
	}
}

// LoadDataset implements ports.DatasetSource
func (s *Source) LoadDataset(ctx context.Context) (*dataset.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewDataReader(s.Path).ReadDataset(s.Mapping)
}

// LoadRegressionSample implements ports.RegressionSource
func (s *Source) LoadRegressionSample(ctx context.Context) (*dataset.RegressionSample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewDataReader(s.Path).ReadRegressionSample(s.RegressionMapping)
}
