// Package report renders a one-page PDF summary of a prediction.
package report

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// FormatCurrency renders v as dollars with thousands separators, e.g. $1,234.56.
func FormatCurrency(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	// Round first so that -0.001 does not print as -$0.00.
	v = math.Round(v*100) / 100
	if v == 0 {
		v = 0
	}
	if v < 0 {
		return printer.Sprintf("-$%.2f", -v)
	}
	return printer.Sprintf("$%.2f", v)
}

// FormatPercent renders a percentage with two decimals, e.g. 87.50%.
func FormatPercent(v float64) string {
	return printer.Sprintf("%.2f%%", v)
}

// FormatSigned renders a contribution with an explicit sign.
func FormatSigned(v float64) string {
	if v >= 0 {
		return printer.Sprintf("+%.2f", v)
	}
	return printer.Sprintf("%.2f", v)
}
