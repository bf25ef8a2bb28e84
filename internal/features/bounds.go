package features

import (
	"errors"
	"fmt"
	"math"
)

// ErrOutOfRange reports a numeric input outside its accepted interval.
var ErrOutOfRange = errors.New("value out of range")

// Range is an inclusive numeric interval with the default shown on the form.
type Range struct {
	Min     float64 `yaml:"min" json:"min"`
	Max     float64 `yaml:"max" json:"max"`
	Default float64 `yaml:"default" json:"default"`
	Step    float64 `yaml:"step" json:"step"`
}

// Contains reports whether v lies within the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Bounds holds the accepted interval of every numeric field.
type Bounds struct {
	UnitPrice Range `yaml:"unitPrice" json:"unit_price"`
	Quantity  Range `yaml:"quantity" json:"quantity"`
	Rating    Range `yaml:"rating" json:"rating"`
	Month     Range `yaml:"month" json:"month"`
	DayOfWeek Range `yaml:"dayOfWeek" json:"day_of_week"`
	Hour      Range `yaml:"hour" json:"hour"`
}

// DefaultBounds returns the form limits for the three-month supermarket dataset.
func DefaultBounds() Bounds {
	return Bounds{
		UnitPrice: Range{Min: 10, Max: 100, Default: 55, Step: 0.1},
		Quantity:  Range{Min: 1, Max: 10, Default: 5, Step: 1},
		Rating:    Range{Min: 1, Max: 10, Default: 7, Step: 0.1},
		Month:     Range{Min: 1, Max: 3, Default: 2, Step: 1},
		DayOfWeek: Range{Min: 0, Max: 6, Default: 3, Step: 1},
		Hour:      Range{Min: 0, Max: 23, Default: 14, Step: 1},
	}
}

// For returns the range of a numeric column.
func (b Bounds) For(column string) (Range, bool) {
	switch column {
	case ColUnitPrice:
		return b.UnitPrice, true
	case ColQuantity:
		return b.Quantity, true
	case ColRating:
		return b.Rating, true
	case ColMonth:
		return b.Month, true
	case ColDayOfWeek:
		return b.DayOfWeek, true
	case ColHour:
		return b.Hour, true
	}
	return Range{}, false
}

// Defaults returns a transaction with every numeric field at its form default.
func (b Bounds) Defaults() RawTransaction {
	var t RawTransaction
	for _, f := range numericFields {
		r, _ := b.For(f.column)
		f.set(&t, r.Default)
	}
	return t
}

// Validate checks every numeric field of raw against its range.
// Categorical values are never validated here.
func (b Bounds) Validate(raw RawTransaction) error {
	for _, f := range numericFields {
		v := f.get(&raw)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not a finite number", ErrOutOfRange, f.column)
		}
		r, _ := b.For(f.column)
		if !r.Contains(v) {
			return fmt.Errorf("%w: %s=%g outside [%g, %g]", ErrOutOfRange, f.column, v, r.Min, r.Max)
		}
	}
	return nil
}
