package metrics

import "github.com/prometheus/client_golang/prometheus"

// MetricsGauge avoids importing prometheus in consumers
type MetricsGauge interface {
	Set(float64)
	Add(float64)
}

// MetricsWrapper adapts Metrics to the narrow interfaces the prediction,
// batch, report and dashboard packages depend on.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

func (w *MetricsWrapper) PredictionsInc() {
	w.m.Predictions.Inc()
}

func (w *MetricsWrapper) PredictionFailuresInc() {
	w.m.PredictionFailures.Inc()
	w.m.ErrorsTotal.Inc()
}

func (w *MetricsWrapper) PredictionLatencyObserve(v float64) {
	w.m.PredictionLatency.Observe(v)
}

func (w *MetricsWrapper) PredictionConfidenceObserve(v float64) {
	w.m.PredictionConfidence.Observe(v)
}

func (w *MetricsWrapper) PredictedTotalObserve(v float64) {
	w.m.PredictedTotal.Observe(v)
}

func (w *MetricsWrapper) UnknownCategoryInc(field string) {
	w.m.UnknownCategories.WithLabelValues(field).Inc()
}

func (w *MetricsWrapper) ModelAgeSet(v float64) {
	w.m.ModelAge.Set(v)
}

func (w *MetricsWrapper) BatchRowsAdd(n int) {
	w.m.BatchRows.Add(float64(n))
	w.m.BatchRuns.Inc()
}

func (w *MetricsWrapper) ReportsInc() {
	w.m.Reports.Inc()
}

func (w *MetricsWrapper) ReportFailuresInc() {
	w.m.ReportFailures.Inc()
	w.m.ErrorsTotal.Inc()
}

func (w *MetricsWrapper) DriftScoreSet(feature string, v float64) {
	w.m.InputDrift.WithLabelValues(feature).Set(v)
}

func (w *MetricsWrapper) DashboardClients() MetricsGauge {
	return &GaugeWrapper{w.m.DashboardClients}
}

type GaugeWrapper struct {
	g prometheus.Gauge
}

func (gw *GaugeWrapper) Set(v float64) {
	gw.g.Set(v)
}

func (gw *GaugeWrapper) Add(v float64) {
	gw.g.Add(v)
}
