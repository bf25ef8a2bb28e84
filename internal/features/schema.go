package features

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// ErrSchemaMismatch reports a feature schema that cannot be used for alignment.
var ErrSchemaMismatch = errors.New("feature schema mismatch")

// Schema is the ordered list of feature columns fixed at training time.
// It is immutable once built and safe to share between goroutines.
type Schema struct {
	columns []string
	index   map[string]int
}

// NewSchema validates the column list and builds a schema from it.
// The slice is copied.
func NewSchema(columns []string) (*Schema, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: no columns", ErrSchemaMismatch)
	}

	s := &Schema{
		columns: make([]string, len(columns)),
		index:   make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		if strings.TrimSpace(c) == "" {
			return nil, fmt.Errorf("%w: column %d has an empty name", ErrSchemaMismatch, i)
		}
		if prev, dup := s.index[c]; dup {
			return nil, fmt.Errorf("%w: column %q appears at %d and %d", ErrSchemaMismatch, c, prev, i)
		}
		s.columns[i] = c
		s.index[c] = i
	}
	return s, nil
}

// LoadSchema reads a feature_columns.json file: a JSON array of column names.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feature columns %s: %w", path, err)
	}

	var columns []string
	if err := json.Unmarshal(data, &columns); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrSchemaMismatch, path, err)
	}
	return NewSchema(columns)
}

// Len returns the number of columns.
func (s *Schema) Len() int {
	if s == nil {
		return 0
	}
	return len(s.columns)
}

// Columns returns a copy of the column names in training order.
func (s *Schema) Columns() []string {
	out := make([]string, len(s.columns))
	copy(out, s.columns)
	return out
}

// Column returns the name at position i.
func (s *Schema) Column(i int) string {
	return s.columns[i]
}

// Index returns the position of a column.
func (s *Schema) Index(column string) (int, bool) {
	i, ok := s.index[column]
	return i, ok
}

// Equal reports whether two schemas carry the same columns in the same order.
func (s *Schema) Equal(other *Schema) bool {
	if s.Len() != other.Len() {
		return false
	}
	for i, c := range s.columns {
		if other.columns[i] != c {
			return false
		}
	}
	return true
}

// Categories lists the values of a categorical column that have an indicator
// column in the schema, sorted alphabetically.
func (s *Schema) Categories(column string) []string {
	prefix := column + "_"
	var values []string
	for _, c := range s.columns {
		if strings.HasPrefix(c, prefix) {
			values = append(values, strings.TrimPrefix(c, prefix))
		}
	}
	sort.Strings(values)
	return values
}

// UnknownCategories returns the categorical columns of raw whose value has no
// indicator column in the schema. Those fields encode as all zeros.
func (s *Schema) UnknownCategories(raw RawTransaction) []string {
	var unknown []string
	for _, f := range categoricalFields {
		if _, ok := s.index[IndicatorColumn(f.column, f.get(&raw))]; !ok {
			unknown = append(unknown, f.column)
		}
	}
	return unknown
}

func (s *Schema) validate() error {
	if s == nil || len(s.columns) == 0 {
		return fmt.Errorf("%w: schema is empty", ErrSchemaMismatch)
	}
	if len(s.index) != len(s.columns) {
		return fmt.Errorf("%w: index covers %d of %d columns", ErrSchemaMismatch, len(s.index), len(s.columns))
	}
	return nil
}
