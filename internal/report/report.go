package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/rs/zerolog/log"

	"supermarket-sales/internal/features"
	"supermarket-sales/internal/ml"
)

// Title heads every report.
const Title = "Supermarket Sales AI Report"

const defaultTopN = 5

// Document is everything a report shows.
type Document struct {
	PredictionID      string
	GeneratedAt       time.Time
	ModelVersion      string
	Estimate          float64
	RangeLow          float64
	RangeHigh         float64
	Confidence        *float64
	Transaction       features.RawTransaction
	Contributions     []ml.Contribution
	UnknownCategories []string
}

// FromResult builds a document from a prediction, keeping the topN largest
// contributions.
func FromResult(res *ml.Result, modelVersion string, topN int) Document {
	if topN <= 0 {
		topN = defaultTopN
	}
	return Document{
		PredictionID:      res.ID.String(),
		GeneratedAt:       time.Now(),
		ModelVersion:      modelVersion,
		Estimate:          res.Estimate,
		RangeLow:          res.RangeLow,
		RangeHigh:         res.RangeHigh,
		Confidence:        res.Confidence,
		Transaction:       res.Transaction,
		Contributions:     res.TopContributions(topN),
		UnknownCategories: res.UnknownCategories,
	}
}

// MetricsInterface defines metrics methods needed by the renderer
type MetricsInterface interface {
	ReportsInc()
	ReportFailuresInc()
}

// Renderer produces PDF reports.
type Renderer struct {
	compress bool
	tempDir  string
	metrics  MetricsInterface
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithCompression toggles stream compression. Tests turn it off to read text back.
func WithCompression(on bool) Option {
	return func(r *Renderer) { r.compress = on }
}

// WithTempDir sets where temporary report files are written.
func WithTempDir(dir string) Option {
	return func(r *Renderer) { r.tempDir = dir }
}

// WithMetrics records render outcomes.
func WithMetrics(m MetricsInterface) Option {
	return func(r *Renderer) { r.metrics = m }
}

// NewRenderer creates a renderer.
func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{compress: true}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render writes doc as a PDF to w.
func (r *Renderer) Render(w io.Writer, doc Document) error {
	pdf := r.build(doc)
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

// Export renders doc into a temporary file and then streams it to w. The
// temporary file is removed on every path, including failures.
func (r *Renderer) Export(w io.Writer, doc Document) (err error) {
	defer func() {
		if r.metrics == nil {
			return
		}
		if err != nil {
			r.metrics.ReportFailuresInc()
		} else {
			r.metrics.ReportsInc()
		}
	}()

	return WithTempFile(r.tempDir, "sales-report-*.pdf", func(f *os.File) error {
		if err := r.Render(f, doc); err != nil {
			return err
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind report: %w", err)
		}
		if _, err := io.Copy(w, f); err != nil {
			return fmt.Errorf("deliver report: %w", err)
		}
		return nil
	})
}

// WriteFile renders doc to path.
func (r *Renderer) WriteFile(path string, doc Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := r.Render(file, doc); err != nil {
		file.Close()
		os.Remove(path)
		return err
	}
	return file.Close()
}

// WithTempFile creates a temporary file in dir, hands it to fn and removes it
// afterwards whatever fn returns. An empty dir uses the system default.
func WithTempFile(dir, pattern string, fn func(f *os.File) error) error {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create temp directory: %w", err)
		}
	}
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		f.Close()
		if rmErr := os.Remove(f.Name()); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warn().Err(rmErr).Str("file", f.Name()).Msg("failed to remove temporary report")
		}
	}()

	return fn(f)
}

func (r *Renderer) build(doc Document) *fpdf.Fpdf {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(r.compress)
	pdf.SetTitle(Title, true)
	pdf.SetCreator("supermarket-sales", true)
	if !doc.GeneratedAt.IsZero() {
		pdf.SetCreationDate(doc.GeneratedAt)
	}
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 12, Title, "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(0, 8, "Predicted Total Sales: "+FormatCurrency(doc.Estimate), "", 1, "L", false, 0, "")
	if doc.Confidence != nil {
		pdf.CellFormat(0, 8, "Model Confidence: "+FormatPercent(*doc.Confidence), "", 1, "L", false, 0, "")
	}
	pdf.CellFormat(0, 8, fmt.Sprintf("Rough Range: %s - %s",
		FormatCurrency(doc.RangeLow), FormatCurrency(doc.RangeHigh)), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	section(pdf, "Transaction")
	t := doc.Transaction
	rows := [][2]string{
		{"Branch", t.Branch},
		{"City", t.City},
		{"Customer type", t.CustomerType},
		{"Gender", t.Gender},
		{"Product line", t.ProductLine},
		{"Payment", t.Payment},
		{"Unit price", FormatCurrency(t.UnitPrice)},
		{"Quantity", strconv.FormatFloat(t.Quantity, 'f', -1, 64)},
		{"Rating", strconv.FormatFloat(t.Rating, 'f', 1, 64)},
		{"Month", strconv.FormatFloat(t.Month, 'f', -1, 64)},
		{"Day of week", strconv.FormatFloat(t.DayOfWeek, 'f', -1, 64)},
		{"Hour", strconv.FormatFloat(t.Hour, 'f', -1, 64)},
	}
	for _, row := range rows {
		pdf.CellFormat(50, 6, row[0], "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, tr(row[1]), "", 1, "L", false, 0, "")
	}

	if len(doc.Contributions) > 0 {
		pdf.Ln(4)
		section(pdf, "Top Contributing Features")
		for _, c := range doc.Contributions {
			pdf.CellFormat(90, 6, tr(c.Feature), "", 0, "L", false, 0, "")
			pdf.CellFormat(0, 6, FormatSigned(c.Value), "", 1, "L", false, 0, "")
		}
	}

	if len(doc.UnknownCategories) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "I", 10)
		pdf.MultiCell(0, 5, tr(fmt.Sprintf("Not seen in training, treated as absent: %v", doc.UnknownCategories)), "", "L", false)
	}

	pdf.SetY(-25)
	pdf.SetFont("Helvetica", "", 8)
	footer := "Prediction " + doc.PredictionID
	if doc.ModelVersion != "" {
		footer += " | model " + doc.ModelVersion
	}
	if !doc.GeneratedAt.IsZero() {
		footer += " | " + doc.GeneratedAt.Format("2006-01-02 15:04")
	}
	pdf.CellFormat(0, 5, tr(footer), "", 1, "C", false, 0, "")

	return pdf
}

func section(pdf *fpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(0, 8, title, "B", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
}
