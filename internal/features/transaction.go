// Package features turns raw supermarket transactions into the numeric feature
// vectors a trained model consumes.
//
// Categorical fields are expanded into indicator columns named "<Field>_<value>",
// numeric fields are copied through under their dataset column names, and the
// result is laid out in the exact column order recorded at training time.
package features

// Dataset column names for the categorical fields.
const (
	ColBranch       = "Branch"
	ColCity         = "City"
	ColCustomerType = "Customer type"
	ColGender       = "Gender"
	ColProductLine  = "Product line"
	ColPayment      = "Payment"
)

// Dataset column names for the numeric fields.
const (
	ColUnitPrice = "Unit price"
	ColQuantity  = "Quantity"
	ColRating    = "Rating"
	ColMonth     = "Month"
	ColDayOfWeek = "DayOfWeek"
	ColHour      = "Hour"
)

// RawTransaction is one user-entered (or CSV-read) transaction before encoding.
// JSON names match the dataset columns so records round-trip through the
// training CSV layout unchanged.
type RawTransaction struct {
	Branch       string `json:"Branch"`
	City         string `json:"City"`
	CustomerType string `json:"Customer type"`
	Gender       string `json:"Gender"`
	ProductLine  string `json:"Product line"`
	Payment      string `json:"Payment"`

	UnitPrice float64 `json:"Unit price"`
	Quantity  float64 `json:"Quantity"`
	Rating    float64 `json:"Rating"`
	Month     float64 `json:"Month"`
	DayOfWeek float64 `json:"DayOfWeek"`
	Hour      float64 `json:"Hour"`
}

type categoricalField struct {
	column string
	get    func(*RawTransaction) string
	set    func(*RawTransaction, string)
}

type numericField struct {
	column string
	get    func(*RawTransaction) float64
	set    func(*RawTransaction, float64)
}

var categoricalFields = []categoricalField{
	{ColBranch, func(t *RawTransaction) string { return t.Branch }, func(t *RawTransaction, v string) { t.Branch = v }},
	{ColCity, func(t *RawTransaction) string { return t.City }, func(t *RawTransaction, v string) { t.City = v }},
	{ColCustomerType, func(t *RawTransaction) string { return t.CustomerType }, func(t *RawTransaction, v string) { t.CustomerType = v }},
	{ColGender, func(t *RawTransaction) string { return t.Gender }, func(t *RawTransaction, v string) { t.Gender = v }},
	{ColProductLine, func(t *RawTransaction) string { return t.ProductLine }, func(t *RawTransaction, v string) { t.ProductLine = v }},
	{ColPayment, func(t *RawTransaction) string { return t.Payment }, func(t *RawTransaction, v string) { t.Payment = v }},
}

var numericFields = []numericField{
	{ColUnitPrice, func(t *RawTransaction) float64 { return t.UnitPrice }, func(t *RawTransaction, v float64) { t.UnitPrice = v }},
	{ColQuantity, func(t *RawTransaction) float64 { return t.Quantity }, func(t *RawTransaction, v float64) { t.Quantity = v }},
	{ColRating, func(t *RawTransaction) float64 { return t.Rating }, func(t *RawTransaction, v float64) { t.Rating = v }},
	{ColMonth, func(t *RawTransaction) float64 { return t.Month }, func(t *RawTransaction, v float64) { t.Month = v }},
	{ColDayOfWeek, func(t *RawTransaction) float64 { return t.DayOfWeek }, func(t *RawTransaction, v float64) { t.DayOfWeek = v }},
	{ColHour, func(t *RawTransaction) float64 { return t.Hour }, func(t *RawTransaction, v float64) { t.Hour = v }},
}

// CategoricalColumns returns the categorical dataset columns in form order.
func CategoricalColumns() []string {
	cols := make([]string, len(categoricalFields))
	for i, f := range categoricalFields {
		cols[i] = f.column
	}
	return cols
}

// NumericColumns returns the numeric dataset columns in form order.
func NumericColumns() []string {
	cols := make([]string, len(numericFields))
	for i, f := range numericFields {
		cols[i] = f.column
	}
	return cols
}

// Categorical returns the raw value of a categorical column, and false if the
// column is not one of the six categorical fields.
func (t RawTransaction) Categorical(column string) (string, bool) {
	for _, f := range categoricalFields {
		if f.column == column {
			return f.get(&t), true
		}
	}
	return "", false
}

// Numeric returns the value of a numeric column, and false if the column is not
// one of the six numeric fields.
func (t RawTransaction) Numeric(column string) (float64, bool) {
	for _, f := range numericFields {
		if f.column == column {
			return f.get(&t), true
		}
	}
	return 0, false
}

// SetCategorical assigns a categorical column by dataset name.
func (t *RawTransaction) SetCategorical(column, value string) bool {
	for _, f := range categoricalFields {
		if f.column == column {
			f.set(t, value)
			return true
		}
	}
	return false
}

// SetNumeric assigns a numeric column by dataset name.
func (t *RawTransaction) SetNumeric(column string, value float64) bool {
	for _, f := range numericFields {
		if f.column == column {
			f.set(t, value)
			return true
		}
	}
	return false
}

// IndicatorColumn is the one-hot column name for a categorical value.
func IndicatorColumn(column, value string) string {
	return column + "_" + value
}
