// Package metrics provides Prometheus metrics collection for the sales prediction service.
// It defines the prediction, batch, report and dashboard metrics exposed via the
// Prometheus metrics endpoint for monitoring and alerting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Prediction metrics
	Predictions          prometheus.Counter   // Total number of successful predictions
	PredictionFailures   prometheus.Counter   // Total number of failed predictions
	PredictionLatency    prometheus.Histogram // End-to-end prediction latency in seconds
	PredictionConfidence prometheus.Histogram // Distribution of confidence percentages
	PredictedTotal       prometheus.Histogram // Distribution of predicted transaction totals
	UnknownCategories    *prometheus.CounterVec
	ModelAge             prometheus.Gauge // Age of the loaded model artifact in seconds

	// Batch and report metrics
	BatchRows      prometheus.Counter // Total number of CSV rows predicted
	BatchRuns      prometheus.Counter // Total number of batch runs
	ReportFailures prometheus.Counter // Total number of failed report renders
	Reports        prometheus.Counter // Total number of reports rendered

	// Dashboard metrics
	DashboardClients prometheus.Gauge // Connected dashboard websocket clients

	// Input drift metrics
	InputDrift *prometheus.GaugeVec // Latest PSI of served inputs against the training baseline

	// System metrics
	ErrorsTotal prometheus.Counter // Total number of errors encountered
}

// New creates and registers all Prometheus metrics using the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		Predictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Total number of successful predictions",
		}),
		PredictionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "prediction_failures_total",
			Help: "Total number of failed predictions",
		}),
		PredictionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediction_latency_seconds",
			Help:    "Prediction latency in seconds (align, infer, explain, score)",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		PredictionConfidence: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediction_confidence",
			Help:    "Distribution of prediction confidence percentages",
			Buckets: prometheus.LinearBuckets(50, 5, 10),
		}),
		PredictedTotal: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "predicted_total_amount",
			Help:    "Distribution of predicted transaction totals",
			Buckets: prometheus.ExponentialBuckets(10, 2, 8),
		}),
		UnknownCategories: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "unknown_categories_total",
			Help: "Categorical values not present in the trained schema, by field",
		}, []string{"field"}),
		ModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "model_age_seconds",
			Help: "Age of the loaded model artifact in seconds",
		}),
		BatchRows: factory.NewCounter(prometheus.CounterOpts{
			Name: "batch_rows_total",
			Help: "Total number of CSV rows predicted in batch runs",
		}),
		BatchRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "batch_runs_total",
			Help: "Total number of batch prediction runs",
		}),
		ReportFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "report_failures_total",
			Help: "Total number of report renders that failed",
		}),
		Reports: factory.NewCounter(prometheus.CounterOpts{
			Name: "reports_total",
			Help: "Total number of reports rendered",
		}),
		DashboardClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_clients",
			Help: "Number of connected dashboard websocket clients",
		}),
		InputDrift: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "input_drift_psi",
			Help: "Population stability index of served inputs against the training baseline",
		}, []string{"feature"}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}

// GetErrorRate returns failed predictions over all prediction attempts, read
// from gatherer. Returns 0 before the first attempt.
func (m *Metrics) GetErrorRate(gatherer prometheus.Gatherer) float64 {
	var ok, failed float64

	metricFamilies, err := gatherer.Gather()
	if err != nil {
		return 0
	}

	for _, mf := range metricFamilies {
		switch mf.GetName() {
		case "predictions_total":
			for _, m := range mf.Metric {
				ok = m.GetCounter().GetValue()
			}
		case "prediction_failures_total":
			for _, m := range mf.Metric {
				failed = m.GetCounter().GetValue()
			}
		}
	}

	if ok+failed == 0 {
		return 0
	}
	return failed / (ok + failed)
}
