package features

import (
	"fmt"
	"strings"
)

// Vector is an aligned feature vector: one value per schema column, in schema order.
type Vector struct {
	schema *Schema
	values []float64
}

// Align encodes raw into the column layout of schema.
//
// A categorical value whose indicator column is missing from the schema is
// dropped, leaving every indicator of that field at zero. This is not an error.
// Numeric fields the schema does not carry are dropped as well, and schema
// columns the transaction does not provide stay zero.
func Align(raw RawTransaction, schema *Schema) (Vector, error) {
	if err := schema.validate(); err != nil {
		return Vector{}, err
	}

	values := make([]float64, len(schema.columns))

	for _, f := range categoricalFields {
		if i, ok := schema.index[IndicatorColumn(f.column, f.get(&raw))]; ok {
			values[i] = 1
		}
	}

	for _, f := range numericFields {
		if i, ok := schema.index[f.column]; ok {
			values[i] = f.get(&raw)
		}
	}

	return Vector{schema: schema, values: values}, nil
}

// Len returns the vector length, equal to the schema length.
func (v Vector) Len() int {
	return len(v.values)
}

// Schema returns the schema the vector was aligned to.
func (v Vector) Schema() *Schema {
	return v.schema
}

// Values returns a copy of the values in schema order.
func (v Vector) Values() []float64 {
	out := make([]float64, len(v.values))
	copy(out, v.values)
	return out
}

// At returns the value at position i.
func (v Vector) At(i int) float64 {
	return v.values[i]
}

// Get returns the value of a named column.
func (v Vector) Get(column string) (float64, bool) {
	if v.schema == nil {
		return 0, false
	}
	i, ok := v.schema.index[column]
	if !ok {
		return 0, false
	}
	return v.values[i], true
}

// Decode reverses Align for the fields the schema knows about: each categorical
// field takes the label of its set indicator column and numeric fields are read
// back by name. A field with no set indicator decodes to an empty string.
func Decode(v Vector) (RawTransaction, error) {
	if err := v.schema.validate(); err != nil {
		return RawTransaction{}, err
	}
	if len(v.values) != len(v.schema.columns) {
		return RawTransaction{}, fmt.Errorf("%w: vector has %d values for %d columns",
			ErrSchemaMismatch, len(v.values), len(v.schema.columns))
	}

	var raw RawTransaction
	for _, f := range categoricalFields {
		prefix := f.column + "_"
		found := ""
		for i, c := range v.schema.columns {
			if v.values[i] == 0 || !strings.HasPrefix(c, prefix) {
				continue
			}
			if found != "" {
				return RawTransaction{}, fmt.Errorf("%w: %s has more than one indicator set",
					ErrSchemaMismatch, f.column)
			}
			found = strings.TrimPrefix(c, prefix)
		}
		f.set(&raw, found)
	}

	for _, f := range numericFields {
		if i, ok := v.schema.index[f.column]; ok {
			f.set(&raw, v.values[i])
		}
	}
	return raw, nil
}
