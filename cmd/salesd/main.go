package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"supermarket-sales/internal/analytics"
	"supermarket-sales/internal/batch"
	"supermarket-sales/internal/cfg"
	"supermarket-sales/internal/dashboard"
	"supermarket-sales/internal/features"
	"supermarket-sales/internal/metrics"
	"supermarket-sales/internal/ml"
	"supermarket-sales/internal/server"
	"supermarket-sales/internal/storage"
)

const (
	importanceFile    = "feature_importance.json"
	driftFile         = "drift_baseline.json"
	recentPredictions = 20
)

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(c.LogLevel)

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	mw := metrics.NewWrapper(m)

	predictor, err := ml.Load(c.PredictorConfig(), mw)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load model artifacts")
	}

	store := initializeStorage(c)
	if store != nil {
		defer store.Close()
	}

	importance := initializeImportance(c, predictor)
	aggregator := analytics.NewAggregator(importance, recentPredictions)
	if store != nil {
		if err := aggregator.Load(store); err != nil {
			log.Warn().Err(err).Msg("failed to replay prediction history")
		}
	}

	dash := dashboard.New(aggregator,
		dashboard.WithTopFeatures(c.TopContributions*2),
		dashboard.WithClientGauge(mw.DashboardClients()),
	)
	if err := dash.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start dashboard")
	}

	opts := []server.Option{
		server.WithAnalytics(aggregator),
		server.WithDashboard(dash),
		server.WithMetrics(mw),
	}
	if store != nil {
		opts = append(opts, server.WithStore(store))
	}
	if drift := initializeDrift(c, mw); drift != nil {
		opts = append(opts, server.WithDrift(drift))
	}
	srv := server.New(predictor, server.Config{
		Addr:             fmt.Sprintf(":%d", c.HTTPPort),
		Bounds:           c.Bounds,
		TopContributions: c.TopContributions,
		ReportDir:        c.ReportDir,
		MaxBatchRows:     c.MaxBatchRows,
		ReadTimeout:      c.ReadTimeout,
		WriteTimeout:     c.WriteTimeout,
	}, opts...)

	var wg sync.WaitGroup
	if c.MetricsPort > 0 && c.MetricsPort != c.HTTPPort {
		startMetricsServer(ctx, &wg, c.MetricsPort, predictor)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("http server failed")
			m.ErrorsTotal.Inc()
			cancel()
		}
	}()

	waitForShutdown(ctx, cancel)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to shutdown http server")
	}
	dash.Stop()

	if importance != nil {
		if err := importance.Save(); err != nil {
			log.Warn().Err(err).Msg("failed to save feature importance")
		}
	}

	// Wait for all goroutines to finish with timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all goroutines stopped")
	case <-time.After(10 * time.Second):
		log.Warn().Msg("shutdown timeout, forcing exit")
	}
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339
}

// initializeStorage opens the prediction history if DATA_PATH is configured
func initializeStorage(c cfg.Settings) *storage.Store {
	if c.DataPath == "" {
		return nil
	}
	store, err := storage.New(c.DataPath)
	if err != nil {
		log.Warn().Err(err).Msg("storage initialization failed, continuing without persistence")
		return nil
	}
	return store
}

// initializeImportance tracks global feature importance for explainable models.
func initializeImportance(c cfg.Settings, p *ml.Predictor) *ml.FeatureImportance {
	if !p.Explainable() {
		return nil
	}
	var path string
	if c.DataPath != "" {
		path = filepath.Join(c.DataPath, importanceFile)
	}
	return ml.NewFeatureImportance(p.Schema().Columns(), path)
}

// initializeDrift builds the input drift detector. A training CSV named by
// DRIFT_BASELINE replaces any baseline saved under DATA_PATH.
func initializeDrift(c cfg.Settings, mw *metrics.MetricsWrapper) *ml.DriftDetector {
	var savePath string
	if c.DataPath != "" {
		savePath = filepath.Join(c.DataPath, driftFile)
	}
	detector := ml.NewDriftDetector(ml.DriftConfig{SavePath: savePath}, mw)

	if c.DriftBaseline != "" {
		table, err := batch.LoadCSV(c.DriftBaseline)
		if err != nil {
			log.Warn().Err(err).Str("path", c.DriftBaseline).Msg("failed to read drift baseline")
		} else {
			txs := make([]features.RawTransaction, len(table.Rows))
			for i, row := range table.Rows {
				txs[i] = row.Transaction
			}
			if err := detector.SetBaseline(txs); err != nil {
				log.Warn().Err(err).Msg("failed to set drift baseline")
			}
		}
	}

	if !detector.HasBaseline() {
		log.Info().Msg("no drift baseline available, drift monitoring disabled")
		return nil
	}
	return detector
}

// startMetricsServer serves /metrics and /health on a dedicated port
func startMetricsServer(ctx context.Context, wg *sync.WaitGroup, port int, p *ml.Predictor) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !p.Health().Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("UNHEALTHY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		if err := metricsServer.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("failed to shutdown metrics server")
		}
	}()

	go func() {
		log.Info().Int("port", port).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

// waitForShutdown blocks until a signal arrives or ctx is canceled
func waitForShutdown(ctx context.Context, cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
	cancel()
}
