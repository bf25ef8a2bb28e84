package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"supermarket-sales/internal/analytics"
	"supermarket-sales/internal/cfg"
	"supermarket-sales/internal/client"
	"supermarket-sales/internal/features"
	"supermarket-sales/internal/ml"
	"supermarket-sales/internal/report"
	"supermarket-sales/internal/server"
)

// prediction is what both the local and the remote path print.
type prediction struct {
	ID                string            `json:"id"`
	Estimate          float64           `json:"estimate"`
	RangeLow          float64           `json:"range_low"`
	RangeHigh         float64           `json:"range_high"`
	Confidence        *float64          `json:"confidence,omitempty"`
	Contributions     []ml.Contribution `json:"contributions,omitempty"`
	UnknownCategories []string          `json:"unknown_categories,omitempty"`
	ModelVersion      string            `json:"model_version"`
}

func main() {
	defaults := features.DefaultBounds().Defaults()

	var (
		serverURL  = flag.String("server", "", "Server base URL; predicts locally when empty")
		reportPath = flag.String("report", "", "Write a PDF report to this file")
		asJSON     = flag.Bool("json", false, "Print the prediction as JSON")
		watch      = flag.Bool("watch", false, "Stream dashboard snapshots from -server")
		drift      = flag.Bool("drift", false, "Print the input drift status of -server")
		timeout    = flag.Duration("timeout", 30*time.Second, "Request timeout")
		logLevel   = flag.String("log-level", "warn", "Log level: debug, info, warn, error")

		raw = features.RawTransaction{}
	)
	flag.StringVar(&raw.Branch, "branch", "A", "Branch")
	flag.StringVar(&raw.City, "city", "Yangon", "City")
	flag.StringVar(&raw.CustomerType, "customer-type", "Member", "Customer type")
	flag.StringVar(&raw.Gender, "gender", "Female", "Gender")
	flag.StringVar(&raw.ProductLine, "product-line", "Food and beverages", "Product line")
	flag.StringVar(&raw.Payment, "payment", "Cash", "Payment method")
	flag.Float64Var(&raw.UnitPrice, "unit-price", defaults.UnitPrice, "Unit price")
	flag.Float64Var(&raw.Quantity, "quantity", defaults.Quantity, "Quantity")
	flag.Float64Var(&raw.Rating, "rating", defaults.Rating, "Customer rating")
	flag.Float64Var(&raw.Month, "month", defaults.Month, "Month")
	flag.Float64Var(&raw.DayOfWeek, "day", defaults.DayOfWeek, "Day of week, Monday = 0")
	flag.Float64Var(&raw.Hour, "hour", defaults.Hour, "Hour of day")
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *watch {
		if *serverURL == "" {
			log.Fatal().Msg("-watch needs -server")
		}
		if err := watchDashboard(ctx, *serverURL); err != nil && ctx.Err() == nil {
			log.Fatal().Err(err).Msg("dashboard stream failed")
		}
		return
	}

	if *drift {
		if *serverURL == "" {
			log.Fatal().Msg("-drift needs -server")
		}
		status, err := client.New(*serverURL, *timeout).Drift(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("drift status failed")
		}
		printJSON(status)
		return
	}

	var pred *prediction
	if *serverURL != "" {
		pred, err = predictRemote(ctx, client.New(*serverURL, *timeout), raw, *reportPath)
	} else {
		pred, err = predictLocal(ctx, raw, *reportPath)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("prediction failed")
	}

	if *asJSON {
		printJSON(pred)
	} else {
		printPrediction(os.Stdout, pred)
	}
	if *reportPath != "" {
		fmt.Fprintf(os.Stderr, "report written to %s\n", *reportPath)
	}
}

func predictLocal(ctx context.Context, raw features.RawTransaction, reportPath string) (*prediction, error) {
	config, err := cfg.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Bounds.Validate(raw); err != nil {
		return nil, err
	}

	p, err := ml.Load(config.PredictorConfig(), nil)
	if err != nil {
		return nil, err
	}
	res, err := p.Predict(ctx, raw)
	if err != nil {
		return nil, err
	}

	version := p.Metadata().Version
	if reportPath != "" {
		doc := report.FromResult(res, version, config.TopContributions)
		if err := report.NewRenderer().WriteFile(reportPath, doc); err != nil {
			return nil, err
		}
	}

	return &prediction{
		ID:                res.ID.String(),
		Estimate:          res.Estimate,
		RangeLow:          res.RangeLow,
		RangeHigh:         res.RangeHigh,
		Confidence:        res.Confidence,
		Contributions:     res.TopContributions(config.TopContributions),
		UnknownCategories: res.UnknownCategories,
		ModelVersion:      version,
	}, nil
}

func predictRemote(ctx context.Context, c *client.Client, raw features.RawTransaction, reportPath string) (*prediction, error) {
	res, err := c.Predict(ctx, raw)
	if err != nil {
		return nil, err
	}

	if reportPath != "" {
		if err := writeRemoteReport(ctx, c, res, raw, reportPath); err != nil {
			return nil, err
		}
	}

	return &prediction{
		ID:                res.ID,
		Estimate:          res.Estimate,
		RangeLow:          res.RangeLow,
		RangeHigh:         res.RangeHigh,
		Confidence:        res.Confidence,
		Contributions:     res.Contributions,
		UnknownCategories: res.UnknownCategories,
		ModelVersion:      res.ModelVersion,
	}, nil
}

// writeRemoteReport fetches the stored prediction's report, falling back to a
// fresh one when the server keeps no history.
func writeRemoteReport(ctx context.Context, c *client.Client, res *server.PredictionResponse, raw features.RawTransaction, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if res.ReportURL != "" {
		err = c.StoredReport(ctx, res.ID, f)
	} else {
		err = c.Report(ctx, raw, f)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
	}
	return err
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatal().Err(err).Msg("failed to encode output")
	}
}

func printPrediction(w io.Writer, p *prediction) {
	fmt.Fprintf(w, "Predicted Total Sales: %s\n", report.FormatCurrency(p.Estimate))
	fmt.Fprintf(w, "Rough range: %s to %s\n", report.FormatCurrency(p.RangeLow), report.FormatCurrency(p.RangeHigh))
	if p.Confidence != nil {
		fmt.Fprintf(w, "Model Confidence: %s\n", report.FormatPercent(*p.Confidence))
	}
	if len(p.UnknownCategories) > 0 {
		fmt.Fprintf(w, "Warning: unseen values for %v were encoded as all-zero indicators\n", p.UnknownCategories)
	}
	if len(p.Contributions) > 0 {
		fmt.Fprintln(w, "Top contributions:")
		for _, c := range p.Contributions {
			fmt.Fprintf(w, "  %-36s %12s\n", c.Feature, report.FormatSigned(c.Value))
		}
	}
	fmt.Fprintf(w, "Prediction %s (model %s)\n", p.ID, p.ModelVersion)
}

func watchDashboard(ctx context.Context, base string) error {
	wsURL, err := client.WatchURL(base)
	if err != nil {
		return err
	}

	snaps := make(chan analytics.Snapshot, 1)
	errc := make(chan error, 1)
	go func() { errc <- client.Watch(ctx, wsURL, snaps) }()

	for {
		select {
		case snap := <-snaps:
			fmt.Printf("%s  predictions=%d  total=%s  mean=%s\n",
				snap.Timestamp.Format(time.TimeOnly), snap.Predictions,
				report.FormatCurrency(snap.Total), report.FormatCurrency(snap.Mean))
		case err := <-errc:
			return err
		}
	}
}
