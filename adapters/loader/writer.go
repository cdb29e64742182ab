package loader

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"goabtest/domain/dataset"
	"goabtest/internal/errors"

	"github.com/xuri/excelize/v2"
)

// WriteDataset writes ds to path as CSV or XLSX (Sheet1) using the default
// column headers, so ReadDataset with DefaultColumnMapping reads it back.
func WriteDataset(path string, ds *dataset.Dataset) error {
	m := DefaultColumnMapping()
	header := []string{m.Pre, m.Post, m.Treatment}

	rows := make([][]interface{}, ds.Len())
	for i, obs := range ds.Observations {
		rows[i] = []interface{}{obs.Pre, obs.Post, obs.Treatment}
	}
	return writeTable(path, header, rows)
}

// WriteRegressionSample writes a regression sample with the default headers
func WriteRegressionSample(path string, sample *dataset.RegressionSample) error {
	m := DefaultRegressionMapping()
	header := []string{m.Treatment, m.Age, m.Engagement, m.Revenue, m.Converted}

	rows := make([][]interface{}, sample.Len())
	for i := range rows {
		rows[i] = []interface{}{
			int(sample.Treatment[i]),
			sample.Age[i],
			sample.Engagement[i],
			sample.Revenue[i],
			int(sample.Converted[i]),
		}
	}
	return writeTable(path, header, rows)
}

func writeTable(path string, header []string, rows [][]interface{}) error {
	if detectFileType(path) == FileTypeCSV {
		return writeCSV(path, header, rows)
	}
	return writeExcel(path, header, rows)
}

func writeCSV(path string, header []string, rows [][]interface{}) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.IOError("failed to create CSV file", err)
	}
	return encodeCSV(file, header, rows)
}

// encodeCSV writes the table to wc and closes it, reporting a failed close
func encodeCSV(wc io.WriteCloser, header []string, rows [][]interface{}) (err error) {
	defer func() {
		if cerr := wc.Close(); cerr != nil && err == nil {
			err = errors.IOError("failed to close CSV file", cerr)
		}
	}()

	w := csv.NewWriter(wc)
	if err := w.Write(header); err != nil {
		return errors.IOError("failed to write CSV header", err)
	}
	record := make([]string, len(header))
	for _, row := range rows {
		for j, cell := range row {
			record[j] = formatCell(cell)
		}
		if err := w.Write(record); err != nil {
			return errors.IOError("failed to write CSV row", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.IOError("failed to flush CSV file", err)
	}
	return nil
}

func writeExcel(path string, header []string, rows [][]interface{}) error {
	f := excelize.NewFile()
	defer f.Close()

	headerRow := make([]interface{}, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	if err := f.SetSheetRow(sheetName, "A1", &headerRow); err != nil {
		return errors.IOError("failed to write header row", err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return errors.IOError("failed to address row", err)
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return errors.IOError("failed to write data row", err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return errors.IOError("failed to save Excel file", err)
	}
	return nil
}

// formatCell renders floats with the shortest exact representation so a
// CSV round trip preserves every value.
func formatCell(v interface{}) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int:
		return strconv.Itoa(x)
	case string:
		return x
	}
	return ""
}
