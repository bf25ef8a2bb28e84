package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"strconv"
	"time"
)

const taxRate = 0.05

var (
	branchCity = []struct{ branch, city string }{
		{"A", "Yangon"},
		{"B", "Mandalay"},
		{"C", "Naypyitaw"},
	}
	customerTypes = []string{"Member", "Normal"}
	genders       = []string{"Female", "Male"}
	productLines  = []string{
		"Electronic accessories",
		"Fashion accessories",
		"Food and beverages",
		"Health and beauty",
		"Home and lifestyle",
		"Sports and travel",
	}
	payments = []string{"Cash", "Credit card", "Ewallet"}

	header = []string{
		"Invoice ID", "Branch", "City", "Customer type", "Gender", "Product line",
		"Unit price", "Quantity", "Tax 5%", "Total", "Date", "Time", "Payment",
		"cogs", "gross margin percentage", "gross income", "Rating",
	}
)

func main() {
	var (
		outputPath = flag.String("output", "data/supermarket_sales.csv", "Output CSV path")
		rows       = flag.Int("rows", 1000, "Number of transactions to generate")
		seed       = flag.Uint64("seed", 1, "Random seed")
		start      = flag.String("start", "2019-01-01", "First transaction date (YYYY-MM-DD)")
		months     = flag.Int("months", 3, "Number of months covered")
		noTotal    = flag.Bool("no-total", false, "Leave out the Total column (batch input)")
	)
	flag.Parse()

	startDate, err := time.Parse("2006-01-02", *start)
	if err != nil {
		log.Fatalf("Invalid start date: %v", err)
	}
	if *rows <= 0 || *months <= 0 {
		log.Fatalf("rows and months must be positive")
	}

	fmt.Printf("Generating %d transactions...\n", *rows)
	fmt.Printf("  Period: %s + %d months\n", startDate.Format("2006-01-02"), *months)
	fmt.Printf("  Output: %s\n", *outputPath)

	file, err := os.Create(*outputPath)
	if err != nil {
		log.Fatalf("Failed to create output: %v", err)
	}
	defer file.Close()

	rng := rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
	if err := generate(csv.NewWriter(file), rng, *rows, startDate, startDate.AddDate(0, *months, 0), !*noTotal); err != nil {
		log.Fatalf("Failed to generate data: %v", err)
	}

	fmt.Printf("✓ Generated %d transactions\n", *rows)
}

func generate(w *csv.Writer, rng *rand.Rand, rows int, from, to time.Time, withTotal bool) error {
	cols := header
	if !withTotal {
		cols = without(header, "Total")
	}
	if err := w.Write(cols); err != nil {
		return err
	}

	days := int(to.Sub(from).Hours() / 24)
	for i := 0; i < rows; i++ {
		bc := branchCity[rng.IntN(len(branchCity))]
		unitPrice := round2(10 + rng.Float64()*90)
		quantity := 1 + rng.IntN(10)
		cogs := round2(unitPrice * float64(quantity))
		tax := round4(cogs * taxRate)
		total := round4(cogs + tax)
		ts := from.AddDate(0, 0, rng.IntN(days)).
			Add(time.Duration(10+rng.IntN(11))*time.Hour + time.Duration(rng.IntN(60))*time.Minute)

		record := []string{
			fmt.Sprintf("%03d-%02d-%04d", rng.IntN(1000), rng.IntN(100), rng.IntN(10000)),
			bc.branch,
			bc.city,
			pick(rng, customerTypes),
			pick(rng, genders),
			pick(rng, productLines),
			strconv.FormatFloat(unitPrice, 'f', 2, 64),
			strconv.Itoa(quantity),
			strconv.FormatFloat(tax, 'f', -1, 64),
		}
		if withTotal {
			record = append(record, strconv.FormatFloat(total, 'f', -1, 64))
		}
		record = append(record,
			ts.Format("1/2/2006"),
			ts.Format("15:04"),
			pick(rng, payments),
			strconv.FormatFloat(cogs, 'f', 2, 64),
			"4.761904762",
			strconv.FormatFloat(tax, 'f', -1, 64),
			strconv.FormatFloat(round1(4+rng.Float64()*6), 'f', 1, 64),
		)
		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

func pick(rng *rand.Rand, values []string) string {
	return values[rng.IntN(len(values))]
}

func without(cols []string, drop string) []string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if c != drop {
			out = append(out, c)
		}
	}
	return out
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
