package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"supermarket-sales/internal/features"
	"supermarket-sales/internal/ml"
	"supermarket-sales/internal/report"
	"supermarket-sales/internal/storage"
)

// PredictionResponse is the JSON form of one prediction.
type PredictionResponse struct {
	ID                string                  `json:"id"`
	Timestamp         time.Time               `json:"timestamp"`
	Transaction       features.RawTransaction `json:"transaction"`
	Estimate          float64                 `json:"estimate"`
	RangeLow          float64                 `json:"range_low"`
	RangeHigh         float64                 `json:"range_high"`
	Confidence        *float64                `json:"confidence,omitempty"`
	Bias              float64                 `json:"bias,omitempty"`
	Contributions     []ml.Contribution       `json:"contributions,omitempty"`
	UnknownCategories []string                `json:"unknown_categories,omitempty"`
	Warning           string                  `json:"warning,omitempty"`
	ModelVersion      string                  `json:"model_version"`
	ReportURL         string                  `json:"report_url,omitempty"`
}

// ModelInfo describes the loaded model and its input surface.
type ModelInfo struct {
	Metadata        ml.ModelMetadata    `json:"metadata"`
	Format          string              `json:"format"`
	Columns         []string            `json:"columns"`
	Categories      map[string][]string `json:"categories"`
	TargetTransform ml.TargetTransform  `json:"target_transform"`
	Policy          ml.ConfidencePolicy `json:"confidence_policy"`
	Explainable     bool                `json:"explainable"`
	Bounds          features.Bounds     `json:"bounds"`
}

// PredictionList is the body of GET /api/predictions.
type PredictionList struct {
	Count       int                        `json:"count"`
	Predictions []storage.PredictionRecord `json:"predictions"`
}

func (s *Server) response(res *ml.Result) PredictionResponse {
	resp := PredictionResponse{
		ID:                res.ID.String(),
		Timestamp:         res.Timestamp,
		Transaction:       res.Transaction,
		Estimate:          res.Estimate,
		RangeLow:          res.RangeLow,
		RangeHigh:         res.RangeHigh,
		Confidence:        res.Confidence,
		Bias:              res.Bias,
		Contributions:     res.TopContributions(s.cfg.TopContributions),
		UnknownCategories: res.UnknownCategories,
		ModelVersion:      s.predictor.Metadata().Version,
	}
	if len(res.UnknownCategories) > 0 {
		resp.Warning = unknownWarning(res.UnknownCategories)
	}
	if s.store != nil {
		resp.ReportURL = reportURL(res.ID.String())
	}
	return resp
}

func reportURL(id string) string {
	return "/api/predictions/" + id + "/report"
}

func unknownWarning(fields []string) string {
	return fmt.Sprintf("unseen values for %v were encoded as all-zero indicators; the estimate may be less reliable", fields)
}

// decodeTransaction reads a JSON transaction. Omitted numeric fields take
// their form defaults.
func (s *Server) decodeTransaction(w http.ResponseWriter, r *http.Request) (features.RawTransaction, error) {
	raw := s.cfg.Bounds.Defaults()
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return raw, err
		}
		return raw, badInput("invalid request: %v", err)
	}
	if err := s.cfg.Bounds.Validate(raw); err != nil {
		return raw, err
	}
	return raw, nil
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	raw, err := s.decodeTransaction(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := s.predict(r.Context(), raw, "api")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.response(res))
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)

	// Buffered so a failing row leaves the response untouched.
	var out bytes.Buffer
	summary, err := s.runner.Run(r.Context(), body, &out, "api")
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="predictions.csv"`)
	w.Header().Set("X-Batch-Rows", strconv.Itoa(summary.Rows))
	w.Header().Set("X-Batch-Total", strconv.FormatFloat(summary.Total, 'f', 2, 64))
	w.WriteHeader(http.StatusOK)
	_, _ = out.WriteTo(w)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	raw, err := s.decodeTransaction(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := s.predict(r.Context(), raw, "report")
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeReport(w, res)
}

func (s *Server) handleStoredReport(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "prediction history is disabled"})
		return
	}

	id := mux.Vars(r)["id"]
	rec, err := s.store.GetPrediction(id)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("prediction %s not found", id)})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeReport(w, &rec.Result)
}

// writeReport renders res into a temporary PDF and streams it as an
// attachment. The temporary file is removed once the body is written.
func (s *Server) writeReport(w http.ResponseWriter, res *ml.Result) {
	doc := report.FromResult(res, s.predictor.Metadata().Version, s.cfg.TopContributions)

	h := w.Header()
	h.Set("Content-Type", "application/pdf")
	h.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="sales-report-%s.pdf"`, res.ID.String()[:8]))

	// Export writes nothing to w until the PDF is complete, so a render
	// failure can still become a JSON error.
	if err := s.renderer.Export(w, doc); err != nil {
		h.Del("Content-Disposition")
		writeError(w, err)
	}
}

func (s *Server) handleListPredictions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, PredictionList{Predictions: []storage.PredictionRecord{}})
		return
	}

	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, badInput("limit must be a positive integer, got %q", v))
			return
		}
		limit = min(n, maxListLimit)
	}

	recs, err := s.store.ListRecent(limit, r.URL.Query().Get("branch"))
	if err != nil {
		writeError(w, err)
		return
	}
	if recs == nil {
		recs = []storage.PredictionRecord{}
	}
	writeJSON(w, http.StatusOK, PredictionList{Count: len(recs), Predictions: recs})
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	schema := s.predictor.Schema()
	categories := make(map[string][]string)
	for _, col := range features.CategoricalColumns() {
		categories[col] = schema.Categories(col)
	}

	writeJSON(w, http.StatusOK, ModelInfo{
		Metadata:        s.predictor.Metadata(),
		Format:          s.predictor.Format(),
		Columns:         schema.Columns(),
		Categories:      categories,
		TargetTransform: s.predictor.Transform(),
		Policy:          s.predictor.Policy(),
		Explainable:     s.predictor.Explainable(),
		Bounds:          s.cfg.Bounds,
	})
}

func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	if s.drift == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "drift monitoring is disabled"})
		return
	}
	writeJSON(w, http.StatusOK, s.drift.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.predictor.Health()

	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}
