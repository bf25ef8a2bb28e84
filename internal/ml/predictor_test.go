package ml

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supermarket-sales/internal/features"
)

// constModel returns a fixed output and cannot explain itself.
type constModel struct {
	value float64
	width int
	err   error
}

func (m constModel) Predict(x []float64) (float64, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.value, nil
}

func (m constModel) NumFeatures() int { return m.width }

func exampleTransaction() features.RawTransaction {
	return features.RawTransaction{
		Branch:       "A",
		City:         "Yangon",
		CustomerType: "Member",
		Gender:       "Female",
		ProductLine:  "Food and beverages",
		Payment:      "Cash",
		UnitPrice:    55.0,
		Quantity:     5,
		Rating:       7.0,
		Month:        2,
		DayOfWeek:    3,
		Hour:         14,
	}
}

func testConfig(policy ConfidencePolicy) Config {
	return Config{
		ModelPath:   filepath.Join("testdata", "sales_model.json"),
		ModelFormat: FormatXGBoostJSON,
		SchemaPath:  filepath.Join("testdata", "feature_columns.json"),
		Transform:   TransformNone,
		Policy:      policy,
	}
}

func TestLoad_XGBoostEndToEnd(t *testing.T) {
	metrics := &MockMetrics{}
	p, err := Load(testConfig(PolicyAttribution), metrics)
	require.NoError(t, err)

	assert.Equal(t, "2025.01-test", p.Metadata().Version)
	assert.Equal(t, FormatXGBoostJSON, p.Format())
	assert.True(t, p.Explainable())
	assert.Greater(t, metrics.modelAge, 0.0)

	res, err := p.Predict(context.Background(), exampleTransaction())
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, res.ID)
	assert.InDelta(t, 420, res.Estimate, 1e-9)
	assert.InDelta(t, 420, res.NativeEstimate, 1e-9)
	assert.InDelta(t, 336, res.RangeLow, 1e-9)
	assert.InDelta(t, 504, res.RangeHigh, 1e-9)
	assert.InDelta(t, 290, res.Bias, 1e-9)
	assert.Empty(t, res.UnknownCategories)

	top := res.TopContributions(3)
	require.Len(t, top, 3)
	assert.Equal(t, "Unit price", top[0].Feature)
	assert.Equal(t, "Branch_A", top[1].Feature)
	assert.Equal(t, "Quantity", top[2].Feature)
	assert.Len(t, res.Contributions, 25)

	// Sum of |a| is 150 over 25 features, far past the lower clamp.
	require.NotNil(t, res.Confidence)
	assert.Equal(t, 50.0, *res.Confidence)

	assert.Equal(t, 1, metrics.predictions)
	assert.Equal(t, []float64{420}, metrics.totals)
	assert.Equal(t, []float64{50}, metrics.confidences)
}

func TestLoad_LinearModel(t *testing.T) {
	cfg := testConfig(PolicyNone)
	cfg.ModelPath = filepath.Join("testdata", "linear_model.json")
	cfg.ModelFormat = FormatLinearJSON

	p, err := Load(cfg, nil)
	require.NoError(t, err)

	res, err := p.Predict(context.Background(), exampleTransaction())
	require.NoError(t, err)
	assert.InDelta(t, 140, res.Estimate, 1e-9)
	assert.Nil(t, res.Confidence)
	assert.NotEmpty(t, res.Contributions)
}

func TestLoad_EmptyTransformMeansNone(t *testing.T) {
	cfg := testConfig(PolicyNone)
	cfg.Transform = ""

	p, err := Load(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, TransformNone, p.Transform())

	res, err := p.Predict(context.Background(), exampleTransaction())
	require.NoError(t, err)
	assert.InDelta(t, 420, res.Estimate, 1e-9)
}

func TestLoad_Failures(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing schema", func(c *Config) { c.SchemaPath = "testdata/none.json" }},
		{"missing model", func(c *Config) { c.ModelPath = "testdata/none.json" }},
		{"unknown format", func(c *Config) { c.ModelFormat = "onnx" }},
		{"wrong format for file", func(c *Config) { c.ModelFormat = FormatLinearJSON }},
		{"transform disagrees with metadata", func(c *Config) { c.Transform = TransformLog1p }},
		{"missing explicit metadata", func(c *Config) { c.MetadataPath = "testdata/none.json" }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(PolicyAttribution)
			tc.mutate(&cfg)
			_, err := Load(cfg, nil)
			assert.ErrorIs(t, err, ErrArtifactLoad)
		})
	}
}

func TestPredict_UnknownCategoryDegrades(t *testing.T) {
	metrics := &MockMetrics{}
	p, err := Load(testConfig(PolicyAttribution), metrics)
	require.NoError(t, err)

	raw := exampleTransaction()
	raw.Branch = "D"

	res, err := p.Predict(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, []string{features.ColBranch}, res.UnknownCategories)
	assert.InDelta(t, 380, res.Estimate, 1e-9)
	assert.Equal(t, 1, metrics.unknown[features.ColBranch])
}

func TestPredict_BaselinePolicy(t *testing.T) {
	p, err := Load(testConfig(PolicyBaseline), nil)
	require.NoError(t, err)

	res, err := p.Predict(context.Background(), exampleTransaction())
	require.NoError(t, err)
	require.NotNil(t, res.Confidence)
	assert.Equal(t, 95.0, *res.Confidence)

	fixed := 419.9
	cfg := testConfig(PolicyBaseline)
	cfg.Baseline = &fixed
	p, err = Load(cfg, nil)
	require.NoError(t, err)

	res, err = p.Predict(context.Background(), exampleTransaction())
	require.NoError(t, err)
	require.NotNil(t, res.Confidence)
	assert.InDelta(t, 70, *res.Confidence, 1e-9)
}

func TestPredict_Log1pTransform(t *testing.T) {
	schema := loadTestSchema(t)
	p, err := NewPredictor(schema, constModel{value: math.Log1p(250), width: schema.Len()}, Options{
		Transform: TransformLog1p,
	})
	require.NoError(t, err)

	res, err := p.Predict(context.Background(), exampleTransaction())
	require.NoError(t, err)
	assert.InDelta(t, 250, res.Estimate, 1e-9)
	assert.InDelta(t, math.Log1p(250), res.NativeEstimate, 1e-12)
	assert.InDelta(t, 200, res.RangeLow, 1e-9)
	assert.InDelta(t, 300, res.RangeHigh, 1e-9)
	assert.Empty(t, res.Contributions)

	est, err := p.Estimate(context.Background(), exampleTransaction())
	require.NoError(t, err)
	assert.InDelta(t, 250, est, 1e-9)
}

func TestPredict_InferenceFailures(t *testing.T) {
	schema := loadTestSchema(t)

	testCases := []struct {
		name  string
		model constModel
	}{
		{"model error", constModel{width: schema.Len(), err: errors.New("boom")}},
		{"nan output", constModel{width: schema.Len(), value: math.NaN()}},
		{"infinite output", constModel{width: schema.Len(), value: math.Inf(1)}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			metrics := &MockMetrics{}
			p, err := NewPredictor(schema, tc.model, Options{Metrics: metrics})
			require.NoError(t, err)

			_, err = p.Predict(context.Background(), exampleTransaction())
			assert.ErrorIs(t, err, ErrInference)
			assert.Equal(t, 1, metrics.failures)
			assert.Equal(t, int64(1), p.Health().FailureCount)
		})
	}
}

func TestNewPredictor_Validation(t *testing.T) {
	schema := loadTestSchema(t)

	_, err := NewPredictor(schema, constModel{width: 3}, Options{})
	assert.ErrorIs(t, err, features.ErrSchemaMismatch)

	_, err = NewPredictor(schema, constModel{width: schema.Len()}, Options{Policy: PolicyAttribution})
	assert.ErrorIs(t, err, ErrArtifactLoad)

	_, err = NewPredictor(schema, constModel{width: schema.Len()}, Options{Policy: PolicyBaseline})
	assert.ErrorIs(t, err, ErrArtifactLoad)

	base := 1.0
	_, err = NewPredictor(schema, constModel{width: schema.Len()}, Options{Policy: PolicyBaseline, Baseline: &base})
	assert.NoError(t, err)

	_, err = NewPredictor(nil, constModel{width: 0}, Options{})
	assert.ErrorIs(t, err, features.ErrSchemaMismatch)
}

func TestPredict_CancelledContext(t *testing.T) {
	p, err := Load(testConfig(PolicyNone), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.Predict(ctx, exampleTransaction())
	assert.ErrorIs(t, err, context.Canceled)
	_, err = p.Estimate(ctx, exampleTransaction())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPredict_ConcurrentUse(t *testing.T) {
	p, err := Load(testConfig(PolicyAttribution), &MockMetrics{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, 32)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := p.Predict(context.Background(), exampleTransaction())
			if assert.NoError(t, err) {
				ids[i] = res.ID
				assert.InDelta(t, 420, res.Estimate, 1e-9)
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[uuid.UUID]bool)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate prediction id")
		seen[id] = true
	}

	h := p.Health()
	assert.True(t, h.Healthy)
	assert.Equal(t, int64(32), h.PredictionCount)
	assert.Equal(t, 25, h.Features)
}
