package batch

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"supermarket-sales/internal/features"
	"supermarket-sales/internal/storage"
)

// Estimator produces a display-scale estimate for one transaction.
type Estimator interface {
	Estimate(ctx context.Context, raw features.RawTransaction) (float64, error)
}

// MetricsInterface defines metrics methods needed by the runner
type MetricsInterface interface {
	BatchRowsAdd(n int)
}

// RunStore records finished batch runs.
type RunStore interface {
	StoreBatchRun(run storage.BatchRun) error
}

// GroupStats aggregates predictions of one group.
type GroupStats struct {
	Count int     `json:"count"`
	Total float64 `json:"total"`
	Mean  float64 `json:"mean"`
}

// Summary describes a finished batch run.
type Summary struct {
	ID          string                 `json:"id"`
	Source      string                 `json:"source"`
	StartedAt   time.Time              `json:"started_at"`
	FinishedAt  time.Time              `json:"finished_at"`
	Rows        int                    `json:"rows"`
	Total       float64                `json:"total"`
	Mean        float64                `json:"mean"`
	Min         float64                `json:"min"`
	Max         float64                `json:"max"`
	ByBranch    map[string]*GroupStats `json:"by_branch"`
	ByProduct   map[string]*GroupStats `json:"by_product_line"`
	Predictions []float64              `json:"-"`
}

// ErrTooManyRows rejects an input larger than the configured row limit.
var ErrTooManyRows = errors.New("too many rows")

// Runner predicts every row of a CSV table.
type Runner struct {
	estimator Estimator
	metrics   MetricsInterface
	store     RunStore
	maxRows   int
}

// NewRunner creates a runner. metrics and store may be nil.
func NewRunner(estimator Estimator, metrics MetricsInterface, store RunStore) *Runner {
	return &Runner{estimator: estimator, metrics: metrics, store: store}
}

// WithMaxRows limits the number of data rows a run accepts. Zero means no limit.
func (r *Runner) WithMaxRows(n int) *Runner {
	r.maxRows = n
	return r
}

// Run reads CSV from in, predicts every row and writes the annotated CSV to
// out. Nothing is written unless every row succeeds.
func (r *Runner) Run(ctx context.Context, in io.Reader, out io.Writer, source string) (*Summary, error) {
	started := time.Now()

	table, err := ReadCSV(in)
	if err == nil && r.maxRows > 0 && len(table.Rows) > r.maxRows {
		err = fmt.Errorf("%w: %d rows, limit is %d", ErrTooManyRows, len(table.Rows), r.maxRows)
	}
	if err != nil {
		r.record(source, started, nil, err)
		return nil, err
	}

	summary, err := r.Predict(ctx, table, source)
	if err != nil {
		r.record(source, started, nil, err)
		return nil, err
	}
	summary.StartedAt = started

	if err := WriteCSV(out, table, summary.Predictions); err != nil {
		r.record(source, started, nil, err)
		return nil, err
	}

	summary.FinishedAt = time.Now()
	r.record(source, started, summary, nil)
	return summary, nil
}

// Predict estimates every row of table in order and summarises the results.
func (r *Runner) Predict(ctx context.Context, table *Table, source string) (*Summary, error) {
	summary := &Summary{
		ID:          uuid.NewString(),
		Source:      source,
		StartedAt:   time.Now(),
		ByBranch:    make(map[string]*GroupStats),
		ByProduct:   make(map[string]*GroupStats),
		Predictions: make([]float64, 0, len(table.Rows)),
		Min:         math.Inf(1),
		Max:         math.Inf(-1),
	}

	for _, row := range table.Rows {
		est, err := r.estimator.Estimate(ctx, row.Transaction)
		if err != nil {
			return nil, &RowError{Row: row.Number, Err: err}
		}
		summary.Predictions = append(summary.Predictions, est)
		summary.add(row.Transaction, est)
	}

	summary.finish()
	if r.metrics != nil {
		r.metrics.BatchRowsAdd(summary.Rows)
	}
	log.Info().
		Str("source", source).
		Int("rows", summary.Rows).
		Float64("total", summary.Total).
		Msg("batch prediction complete")
	return summary, nil
}

func (s *Summary) add(raw features.RawTransaction, est float64) {
	s.Rows++
	s.Total += est
	s.Min = math.Min(s.Min, est)
	s.Max = math.Max(s.Max, est)
	addGroup(s.ByBranch, raw.Branch, est)
	addGroup(s.ByProduct, raw.ProductLine, est)
}

func (s *Summary) finish() {
	s.FinishedAt = time.Now()
	if s.Rows == 0 {
		s.Min, s.Max = 0, 0
		return
	}
	s.Mean = s.Total / float64(s.Rows)
	for _, g := range s.ByBranch {
		g.Mean = g.Total / float64(g.Count)
	}
	for _, g := range s.ByProduct {
		g.Mean = g.Total / float64(g.Count)
	}
}

func addGroup(groups map[string]*GroupStats, key string, est float64) {
	if key == "" {
		key = "(none)"
	}
	g, ok := groups[key]
	if !ok {
		g = &GroupStats{}
		groups[key] = g
	}
	g.Count++
	g.Total += est
}

// SortedKeys returns the keys of a group map in order.
func SortedKeys(groups map[string]*GroupStats) []string {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WriteCSV writes table with a Predicted_Total column holding predictions.
func WriteCSV(w io.Writer, table *Table, predictions []float64) error {
	if len(predictions) != len(table.Rows) {
		return fmt.Errorf("have %d predictions for %d rows", len(predictions), len(table.Rows))
	}

	writer := csv.NewWriter(w)

	header := append(append([]string(nil), table.Header...), PredictedColumn)
	if err := writer.Write(header); err != nil {
		return err
	}
	for i, row := range table.Rows {
		record := append(append([]string(nil), row.Record...), strconv.FormatFloat(predictions[i], 'f', 2, 64))
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func (r *Runner) record(source string, started time.Time, summary *Summary, runErr error) {
	if r.store == nil {
		return
	}

	run := storage.BatchRun{
		ID:         uuid.NewString(),
		Source:     source,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if summary != nil {
		run.ID = summary.ID
		run.Rows = summary.Rows
		run.Total = summary.Total
		run.Mean = summary.Mean
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}

	if err := r.store.StoreBatchRun(run); err != nil {
		log.Warn().Err(err).Str("source", source).Msg("failed to record batch run")
	}
}
