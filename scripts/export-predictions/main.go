package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"supermarket-sales/internal/features"
	"supermarket-sales/internal/storage"
)

// ExportRecord is one served prediction in flat form.
type ExportRecord struct {
	ID          string                  `json:"id"`
	Timestamp   time.Time               `json:"timestamp"`
	Source      string                  `json:"source"`
	Transaction features.RawTransaction `json:"transaction"`
	Estimate    float64                 `json:"estimate"`
	RangeLow    float64                 `json:"range_low"`
	RangeHigh   float64                 `json:"range_high"`
	Confidence  *float64                `json:"confidence,omitempty"`
	Unknown     []string                `json:"unknown_categories,omitempty"`
}

func main() {
	var (
		dataPath   = flag.String("data", "data", "Data directory holding sales-data.db")
		outputPath = flag.String("output", "predictions.csv", "Output file path")
		format     = flag.String("format", "csv", "Output format: csv or json")
		branch     = flag.String("branch", "", "Branch to export (empty for all)")
		days       = flag.Int("days", 0, "Number of days to export (0 for all)")
	)
	flag.Parse()

	if *format != "csv" && *format != "json" {
		log.Fatalf("Unknown format %q", *format)
	}

	log.Printf("Exporting predictions from %s to %s", *dataPath, *outputPath)
	if *branch != "" {
		log.Printf("Filtering by branch: %s", *branch)
	}

	store, err := storage.New(*dataPath)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	var cutoff time.Time
	if *days > 0 {
		cutoff = time.Now().AddDate(0, 0, -*days)
		log.Printf("Exporting last %d days", *days)
	}

	records, err := collect(store, *branch, cutoff)
	if err != nil {
		log.Fatalf("Failed to read predictions: %v", err)
	}
	if len(records) == 0 {
		log.Printf("No predictions found")
		return
	}

	file, err := os.Create(*outputPath)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer file.Close()

	if *format == "json" {
		err = writeJSON(file, records)
	} else {
		err = writeCSV(file, records)
	}
	if err != nil {
		log.Fatalf("Failed to write output: %v", err)
	}

	log.Printf("Exported %d predictions", len(records))
}

func collect(store *storage.Store, branch string, cutoff time.Time) ([]ExportRecord, error) {
	var records []ExportRecord
	add := func(rec storage.PredictionRecord) {
		records = append(records, ExportRecord{
			ID:          rec.ID.String(),
			Timestamp:   rec.Timestamp,
			Source:      rec.Source,
			Transaction: rec.Transaction,
			Estimate:    rec.Estimate,
			RangeLow:    rec.RangeLow,
			RangeHigh:   rec.RangeHigh,
			Confidence:  rec.Confidence,
			Unknown:     rec.UnknownCategories,
		})
	}

	if branch != "" {
		start := cutoff
		if start.IsZero() {
			start = time.Unix(0, 0)
		}
		recs, err := store.GetPredictionsInRange(branch, start, time.Now())
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			add(rec)
		}
		return records, nil
	}

	err := store.ForEachPrediction(func(rec storage.PredictionRecord) error {
		if rec.Timestamp.Before(cutoff) {
			return nil
		}
		add(rec)
		return nil
	})
	return records, err
}

func writeJSON(w io.Writer, records []ExportRecord) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

func writeCSV(w io.Writer, records []ExportRecord) error {
	writer := csv.NewWriter(w)

	header := []string{"id", "timestamp", "source"}
	header = append(header, features.CategoricalColumns()...)
	header = append(header, features.NumericColumns()...)
	header = append(header, "Predicted_Total", "range_low", "range_high", "confidence", "unknown_categories")
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range records {
		row := []string{r.ID, r.Timestamp.Format(time.RFC3339), r.Source}
		for _, col := range features.CategoricalColumns() {
			v, _ := r.Transaction.Categorical(col)
			row = append(row, v)
		}
		for _, col := range features.NumericColumns() {
			v, _ := r.Transaction.Numeric(col)
			row = append(row, strconv.FormatFloat(v, 'f', -1, 64))
		}
		confidence := ""
		if r.Confidence != nil {
			confidence = fmt.Sprintf("%.2f", *r.Confidence)
		}
		row = append(row,
			strconv.FormatFloat(r.Estimate, 'f', 2, 64),
			strconv.FormatFloat(r.RangeLow, 'f', 2, 64),
			strconv.FormatFloat(r.RangeHigh, 'f', 2, 64),
			confidence,
			strings.Join(r.Unknown, ";"),
		)
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
