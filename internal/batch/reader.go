// Package batch runs the predictor over CSV files of supermarket transactions.
// Input columns are matched by header name, original columns are preserved, and
// a Predicted_Total column is appended to every row.
package batch

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"supermarket-sales/internal/features"
)

// Source columns used to derive fields the model needs.
const (
	ColTime = "Time"
	ColDate = "Date"

	// PredictedColumn is appended to every output row.
	PredictedColumn = "Predicted_Total"
)

var (
	timeLayouts = []string{"15:04", "15:04:05", "3:04 PM", "3:04:05 PM"}
	dateLayouts = []string{"1/2/2006", "2006-01-02", "01/02/2006"}

	// ErrEmptyInput is returned for a CSV without a header row.
	ErrEmptyInput = errors.New("csv has no header")
)

// RowError reports the data row (1-based, header excluded) that failed.
type RowError struct {
	Row    int
	Column string
	Err    error
}

func (e *RowError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("row %d: %v", e.Row, e.Err)
	}
	return fmt.Sprintf("row %d: column %q: %v", e.Row, e.Column, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// Row is one input record and the transaction parsed from it.
type Row struct {
	Number      int
	Record      []string
	Transaction features.RawTransaction
}

// Table is a parsed CSV file.
type Table struct {
	Header []string
	Rows   []Row
}

// LoadCSV parses the CSV file at path.
func LoadCSV(path string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	return ReadCSV(file)
}

// ReadCSV parses transactions from r. Columns the model does not use are kept
// verbatim. A missing numeric column contributes zero, an empty numeric cell
// is treated as a missing value, and a cell that is not a number fails the
// whole read with its row number.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyInput
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	indices := make(map[string]int, len(header))
	for i, col := range header {
		indices[strings.TrimSpace(col)] = i
	}

	table := &Table{Header: header}
	for n := 1; ; n++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &RowError{Row: n, Err: err}
		}

		raw, err := parseTransaction(record, indices)
		if err != nil {
			var rowErr *RowError
			if errors.As(err, &rowErr) {
				rowErr.Row = n
			}
			return nil, err
		}
		table.Rows = append(table.Rows, Row{Number: n, Record: record, Transaction: raw})
	}
	return table, nil
}

func parseTransaction(record []string, indices map[string]int) (features.RawTransaction, error) {
	var raw features.RawTransaction

	cell := func(col string) (string, bool) {
		i, ok := indices[col]
		if !ok || i >= len(record) {
			return "", false
		}
		return strings.TrimSpace(record[i]), true
	}

	for _, col := range features.CategoricalColumns() {
		if v, ok := cell(col); ok {
			raw.SetCategorical(col, v)
		}
	}

	for _, col := range features.NumericColumns() {
		v, ok := cell(col)
		if !ok {
			continue
		}
		if v == "" {
			raw.SetNumeric(col, math.NaN())
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return raw, &RowError{Column: col, Err: fmt.Errorf("not a number: %q", v)}
		}
		raw.SetNumeric(col, f)
	}

	if _, ok := indices[features.ColHour]; !ok {
		if v, ok := cell(ColTime); ok && v != "" {
			t, err := parseFirst(timeLayouts, v)
			if err != nil {
				return raw, &RowError{Column: ColTime, Err: err}
			}
			raw.Hour = float64(t.Hour())
		}
	}

	_, hasMonth := indices[features.ColMonth]
	_, hasDay := indices[features.ColDayOfWeek]
	if !hasMonth || !hasDay {
		if v, ok := cell(ColDate); ok && v != "" {
			d, err := parseFirst(dateLayouts, v)
			if err != nil {
				return raw, &RowError{Column: ColDate, Err: err}
			}
			if !hasMonth {
				raw.Month = float64(d.Month())
			}
			if !hasDay {
				raw.DayOfWeek = float64(MondayIndex(d.Weekday()))
			}
		}
	}

	return raw, nil
}

// MondayIndex numbers weekdays from Monday = 0 to Sunday = 6.
func MondayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

func parseFirst(layouts []string, v string) (time.Time, error) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised value %q", v)
}
