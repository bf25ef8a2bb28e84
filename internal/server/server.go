// Package server exposes the sales predictor over HTTP: an HTML form for
// interactive use, a JSON and CSV API, PDF reports, the analytics dashboard
// and Prometheus metrics.
package server

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"supermarket-sales/internal/analytics"
	"supermarket-sales/internal/batch"
	"supermarket-sales/internal/dashboard"
	"supermarket-sales/internal/features"
	"supermarket-sales/internal/ml"
	"supermarket-sales/internal/report"
	"supermarket-sales/internal/storage"
)

const (
	defaultMaxBodyBytes = 32 << 20
	defaultListLimit    = 50
	maxListLimit        = 1000
)

// Config holds the HTTP surface settings.
type Config struct {
	Addr             string
	Bounds           features.Bounds
	TopContributions int
	ReportDir        string
	MaxBatchRows     int
	MaxBodyBytes     int64
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
}

// Store persists served predictions and batch runs.
type Store interface {
	StorePrediction(rec storage.PredictionRecord) error
	GetPrediction(id string) (storage.PredictionRecord, error)
	ListRecent(limit int, branch string) ([]storage.PredictionRecord, error)
	StoreBatchRun(run storage.BatchRun) error
}

// MetricsInterface defines metrics methods needed by the server
type MetricsInterface interface {
	BatchRowsAdd(n int)
	ReportsInc()
	ReportFailuresInc()
}

// Server routes HTTP requests to the predictor.
type Server struct {
	predictor  *ml.Predictor
	cfg        Config
	store      Store
	aggregator *analytics.Aggregator
	dashboard  *dashboard.Dashboard
	drift      *ml.DriftDetector
	metrics    MetricsInterface
	gatherer   prometheus.Gatherer
	renderer   *report.Renderer
	runner     *batch.Runner
	router     *mux.Router
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithStore persists predictions and enables stored-report routes.
func WithStore(s Store) Option {
	return func(srv *Server) { srv.store = s }
}

// WithAnalytics feeds served predictions into aggregator.
func WithAnalytics(a *analytics.Aggregator) Option {
	return func(srv *Server) { srv.aggregator = a }
}

// WithDashboard mounts the dashboard routes and notifies it of new predictions.
func WithDashboard(d *dashboard.Dashboard) Option {
	return func(srv *Server) { srv.dashboard = d }
}

// WithDrift compares served inputs with the training baseline.
func WithDrift(d *ml.DriftDetector) Option {
	return func(srv *Server) { srv.drift = d }
}

// WithMetrics records batch and report outcomes.
func WithMetrics(m MetricsInterface) Option {
	return func(srv *Server) { srv.metrics = m }
}

// WithGatherer sets the registry served on /metrics. Defaults to the global one.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(srv *Server) { srv.gatherer = g }
}

// New builds a Server around predictor.
func New(predictor *ml.Predictor, cfg Config, opts ...Option) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Bounds == (features.Bounds{}) {
		cfg.Bounds = features.DefaultBounds()
	}
	if cfg.TopContributions <= 0 {
		cfg.TopContributions = 5
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 60 * time.Second
	}

	s := &Server{
		predictor: predictor,
		cfg:       cfg,
		gatherer:  prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}

	var reportMetrics report.MetricsInterface
	var batchMetrics batch.MetricsInterface
	var runStore batch.RunStore
	if s.metrics != nil {
		reportMetrics, batchMetrics = s.metrics, s.metrics
	}
	if s.store != nil {
		runStore = s.store
	}
	s.renderer = report.NewRenderer(report.WithTempDir(cfg.ReportDir), report.WithMetrics(reportMetrics))
	s.runner = batch.NewRunner(predictor, batchMetrics, runStore).WithMaxRows(cfg.MaxBatchRows)

	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleForm).Methods(http.MethodGet)
	r.HandleFunc("/predict", s.handleFormPredict).Methods(http.MethodPost)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/predict", s.handlePredict).Methods(http.MethodPost)
	api.HandleFunc("/predict/batch", s.handleBatch).Methods(http.MethodPost)
	api.HandleFunc("/report", s.handleReport).Methods(http.MethodPost)
	api.HandleFunc("/predictions", s.handleListPredictions).Methods(http.MethodGet)
	api.HandleFunc("/predictions/{id}/report", s.handleStoredReport).Methods(http.MethodGet)
	api.HandleFunc("/model", s.handleModel).Methods(http.MethodGet)
	api.HandleFunc("/drift", s.handleDrift).Methods(http.MethodGet)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	if s.dashboard != nil {
		s.dashboard.Register(r)
	}
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving HTTP requests. It blocks until the server stops and
// returns nil after a graceful shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("starting sales server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// predict runs one prediction and records it. Recording failures are logged,
// never returned.
func (s *Server) predict(ctx context.Context, raw features.RawTransaction, source string) (*ml.Result, error) {
	res, err := s.predictor.Predict(ctx, raw)
	if err != nil {
		return nil, err
	}

	if s.store != nil {
		if err := s.store.StorePrediction(storage.PredictionRecord{Result: *res, Source: source}); err != nil {
			log.Error().Err(err).Str("id", res.ID.String()).Msg("failed to store prediction")
		}
	}
	if s.aggregator != nil {
		s.aggregator.Add(res)
	}
	if s.drift != nil {
		s.drift.Observe(raw)
	}
	if s.dashboard != nil {
		s.dashboard.Notify()
	}

	log.Debug().
		Str("id", res.ID.String()).
		Str("source", source).
		Float64("estimate", res.Estimate).
		Msg("prediction served")
	return res, nil
}

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
}

// statusFor maps a pipeline error to an HTTP status and an optional hint.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, features.ErrOutOfRange), errors.Is(err, errBadInput):
		return http.StatusBadRequest, ""
	case errors.Is(err, batch.ErrTooManyRows):
		return http.StatusRequestEntityTooLarge, ""
	case errors.Is(err, batch.ErrEmptyInput):
		return http.StatusBadRequest, ""
	case errors.Is(err, ml.ErrInference):
		return http.StatusInternalServerError, ml.InferenceHint
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, ""
	}
	var rowErr *batch.RowError
	if errors.As(err, &rowErr) {
		return http.StatusBadRequest, ""
	}
	var csvErr *csv.ParseError
	if errors.As(err, &csvErr) {
		return http.StatusBadRequest, ""
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge, ""
	}
	return http.StatusInternalServerError, ""
}

var errBadInput = errors.New("bad input")

func badInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadInput, fmt.Sprintf(format, args...))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, hint := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Hint: hint})
}
