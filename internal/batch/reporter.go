package batch

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// Reporter writes batch run summaries
type Reporter struct {
	summary    *Summary
	outputPath string
}

// NewReporter creates a new reporter
func NewReporter(summary *Summary, outputPath string) *Reporter {
	return &Reporter{
		summary:    summary,
		outputPath: outputPath,
	}
}

// GenerateReport writes the text and JSON summaries into the output directory.
func (r *Reporter) GenerateReport() error {
	if err := os.MkdirAll(r.outputPath, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := r.generateSummary(); err != nil {
		return err
	}
	return r.generateJSONReport()
}

func (r *Reporter) generateSummary() error {
	summaryPath := filepath.Join(r.outputPath, "batch_summary.txt")
	file, err := os.Create(summaryPath)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	r.writeSummary(file)

	log.Info().Str("file", summaryPath).Msg("Summary report generated")
	return nil
}

func (r *Reporter) writeSummary(w io.Writer) {
	s := r.summary

	fmt.Fprintf(w, "BATCH PREDICTION SUMMARY\n")
	fmt.Fprintf(w, "========================\n\n")

	fmt.Fprintf(w, "Source: %s\n", s.Source)
	fmt.Fprintf(w, "Run: %s\n", s.ID)
	fmt.Fprintf(w, "Started: %s\n", s.StartedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Duration: %s\n\n", s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))

	fmt.Fprintf(w, "PREDICTED SALES\n")
	fmt.Fprintf(w, "---------------\n")
	fmt.Fprintf(w, "Rows: %d\n", s.Rows)
	fmt.Fprintf(w, "Total: $%.2f\n", s.Total)
	fmt.Fprintf(w, "Mean: $%.2f\n", s.Mean)
	fmt.Fprintf(w, "Min: $%.2f\n", s.Min)
	fmt.Fprintf(w, "Max: $%.2f\n", s.Max)

	if len(s.ByBranch) > 0 {
		fmt.Fprintf(w, "\nBY BRANCH\n")
		fmt.Fprintf(w, "---------\n")
		for _, k := range SortedKeys(s.ByBranch) {
			g := s.ByBranch[k]
			fmt.Fprintf(w, "%s: %d rows, $%.2f total, $%.2f mean\n", k, g.Count, g.Total, g.Mean)
		}
	}

	if len(s.ByProduct) > 0 {
		fmt.Fprintf(w, "\nBY PRODUCT LINE\n")
		fmt.Fprintf(w, "---------------\n")
		for _, k := range SortedKeys(s.ByProduct) {
			g := s.ByProduct[k]
			fmt.Fprintf(w, "%s: %d rows, $%.2f total, $%.2f mean\n", k, g.Count, g.Total, g.Mean)
		}
	}
}

func (r *Reporter) generateJSONReport() error {
	jsonPath := filepath.Join(r.outputPath, "batch_summary.json")

	report := map[string]interface{}{
		"summary":      r.summary,
		"generated_at": time.Now(),
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write JSON report: %w", err)
	}

	log.Info().Str("file", jsonPath).Msg("JSON report generated")
	return nil
}

// PrintSummary prints a short summary to w
func (r *Reporter) PrintSummary(w io.Writer) {
	s := r.summary
	fmt.Fprintln(w, "\n=== BATCH RESULTS ===")
	fmt.Fprintf(w, "Source: %s\n", s.Source)
	fmt.Fprintf(w, "Rows: %d\n", s.Rows)
	fmt.Fprintf(w, "Total Predicted Sales: $%.2f\n", s.Total)
	fmt.Fprintf(w, "Mean per Transaction: $%.2f\n", s.Mean)
	fmt.Fprintln(w, "=====================")
}
