package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"supermarket-sales/internal/batch"
	"supermarket-sales/internal/cfg"
	"supermarket-sales/internal/ml"
	"supermarket-sales/internal/storage"
)

func main() {
	var (
		inputPath  = flag.String("input", "", "Input CSV of transactions (required)")
		outputPath = flag.String("output", "", "Output CSV (default: <input>_predictions.csv)")
		summaryDir = flag.String("summary", "", "Directory for text and JSON run summaries")
		modelPath  = flag.String("model", "", "Model artifact (overrides config)")
		record     = flag.Bool("record", false, "Record the run in the prediction store under DATA_PATH")
		logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "usage: salesbatch -input sales.csv [-output out.csv] [-summary dir]")
		flag.PrintDefaults()
		os.Exit(2)
	}
	if *outputPath == "" {
		*outputPath = defaultOutput(*inputPath)
	}

	config, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *modelPath != "" {
		config.ModelPath = *modelPath
	}

	predictor, err := ml.Load(config.PredictorConfig(), nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load model artifacts")
	}

	var runStore batch.RunStore
	if *record && config.DataPath != "" {
		store, err := storage.New(config.DataPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open prediction store")
		}
		defer store.Close()
		runStore = store
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in, err := os.Open(*inputPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open input")
	}
	defer in.Close()

	var out bytes.Buffer
	summary, err := batch.NewRunner(predictor, nil, runStore).Run(ctx, in, &out, filepath.Base(*inputPath))
	if err != nil {
		log.Fatal().Err(err).Str("input", *inputPath).Msg("Batch prediction failed")
	}

	if err := os.WriteFile(*outputPath, out.Bytes(), 0o644); err != nil {
		log.Fatal().Err(err).Msg("Failed to write output")
	}
	log.Info().Str("output", *outputPath).Int("rows", summary.Rows).Msg("Predictions written")

	reporter := batch.NewReporter(summary, *summaryDir)
	if *summaryDir != "" {
		if err := reporter.GenerateReport(); err != nil {
			log.Error().Err(err).Msg("Failed to write summary")
		}
	}
	reporter.PrintSummary(os.Stdout)
}

func defaultOutput(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_predictions.csv"
}
