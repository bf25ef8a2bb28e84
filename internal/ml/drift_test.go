package ml

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supermarket-sales/internal/features"
)

type driftRecorder struct{ scores map[string]float64 }

func (r *driftRecorder) DriftScoreSet(feature string, v float64) {
	if r.scores == nil {
		r.scores = make(map[string]float64)
	}
	r.scores[feature] = v
}

// transactions spreads n values evenly over [lo, hi) for Quantity and keeps
// every other numeric field at a fixed value.
func transactions(n int, lo, hi float64) []features.RawTransaction {
	out := make([]features.RawTransaction, n)
	for i := range out {
		out[i] = exampleTransaction()
		out[i].Quantity = lo + (hi-lo)*float64(i)/float64(n)
	}
	return out
}

func TestDrift_NoBaseline(t *testing.T) {
	d := NewDriftDetector(DriftConfig{CheckEvery: 1}, nil)
	assert.False(t, d.HasBaseline())
	assert.Nil(t, d.Observe(exampleTransaction()))

	status := d.Status()
	assert.False(t, status.Baseline)
	assert.Equal(t, int64(1), status.Samples)
	assert.Empty(t, status.Scores)
	assert.NotNil(t, status.Alerts)
}

func TestDrift_BaselineTooSmall(t *testing.T) {
	d := NewDriftDetector(DriftConfig{MinSamples: 10}, nil)
	assert.Error(t, d.SetBaseline(transactions(5, 1, 10)))
	assert.False(t, d.HasBaseline())
}

func TestDrift_SameDistributionIsQuiet(t *testing.T) {
	d := NewDriftDetector(DriftConfig{MinSamples: 20, CheckEvery: 100}, nil)
	require.NoError(t, d.SetBaseline(transactions(100, 1, 10)))

	var alerts []DriftAlert
	for _, tx := range transactions(100, 1, 10) {
		alerts = append(alerts, d.Observe(tx)...)
	}
	assert.Empty(t, alerts)

	status := d.Status()
	assert.True(t, status.Baseline)
	assert.InDelta(t, 0, status.Scores[features.ColQuantity][PopulationStabilityIndex], 0.05)
	assert.InDelta(t, 0, status.Scores[features.ColQuantity][KolmogorovSmirnov], 0.05)
	// Constant inputs have nothing to compare.
	assert.Zero(t, status.Scores[features.ColHour][PopulationStabilityIndex])
}

func TestDrift_ShiftedQuantityAlerts(t *testing.T) {
	rec := &driftRecorder{}
	d := NewDriftDetector(DriftConfig{
		MinSamples: 20,
		CheckEvery: 50,
		Methods:    []DriftMethod{PopulationStabilityIndex, KolmogorovSmirnov, StatisticalMoments},
	}, rec)
	require.NoError(t, d.SetBaseline(transactions(200, 1, 4)))

	var alerts []DriftAlert
	for _, tx := range transactions(50, 7, 10) {
		alerts = append(alerts, d.Observe(tx)...)
	}
	require.NotEmpty(t, alerts)
	for _, a := range alerts {
		assert.Equal(t, features.ColQuantity, a.Feature)
		assert.Greater(t, a.Score, a.Threshold)
	}
	assert.InDelta(t, 1.0, d.Status().Scores[features.ColQuantity][KolmogorovSmirnov], 1e-9)
	assert.Greater(t, rec.scores[features.ColQuantity], 1.0)

	// Cooldown suppresses repeated alerts but not the status view.
	for _, tx := range transactions(50, 7, 10) {
		assert.Empty(t, d.Observe(tx))
	}
	assert.NotEmpty(t, d.Status().Alerts)

	d.Reset()
	assert.Equal(t, int64(0), d.Status().Samples)
	assert.True(t, d.HasBaseline())
}

func TestDrift_SkipsMissingValues(t *testing.T) {
	d := NewDriftDetector(DriftConfig{}, nil)
	tx := exampleTransaction()
	tx.Rating = math.NaN()
	d.Observe(tx)

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Zero(t, d.current[features.ColRating].Count)
	assert.Equal(t, int64(1), d.current[features.ColQuantity].Count)
}

func TestDrift_BaselinePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drift", "baseline.json")
	d := NewDriftDetector(DriftConfig{MinSamples: 10, SavePath: path, Cooldown: time.Minute}, nil)
	require.NoError(t, d.SetBaseline(transactions(40, 1, 10)))

	reloaded := NewDriftDetector(DriftConfig{MinSamples: 10, SavePath: path}, nil)
	require.True(t, reloaded.HasBaseline())

	reloaded.mu.Lock()
	defer reloaded.mu.Unlock()
	q := reloaded.baseline[features.ColQuantity]
	assert.Equal(t, int64(40), q.Count)
	assert.Len(t, q.Samples, 40)
	assert.InDelta(t, 1, q.Min, 1e-9)
}

func TestKSStatistic(t *testing.T) {
	assert.Zero(t, ksStatistic(nil, []float64{1}))
	assert.InDelta(t, 0, ksStatistic([]float64{1, 2, 3}, []float64{1, 2, 3}), 1e-12)
	assert.InDelta(t, 1, ksStatistic([]float64{1, 2}, []float64{5, 6}), 1e-12)
	assert.InDelta(t, 0.5, ksStatistic([]float64{1, 2, 3, 4}, []float64{3, 4, 5, 6}), 1e-12)
}
