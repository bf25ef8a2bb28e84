package ml

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supermarket-sales/internal/features"
)

func TestLinearModel_PredictAndExplain(t *testing.T) {
	schema := loadTestSchema(t)
	m, err := LoadLinear(filepath.Join("testdata", "linear_model.json"), schema)
	require.NoError(t, err)
	assert.Equal(t, schema.Len(), m.NumFeatures())

	x := vectorFor(t, schema, map[string]float64{"Unit price": 55, "Quantity": 5, "Branch_A": 1, "Rating": 9})
	got, err := m.Predict(x)
	require.NoError(t, err)
	assert.InDelta(t, 10+110+15+5, got, 1e-9)

	attr, err := m.Explain(x)
	require.NoError(t, err)
	assert.Equal(t, 10.0, attr.Bias)
	assert.InDelta(t, got, attr.Sum(), 1e-9)
	assert.Zero(t, attr.Contributions[2], "Rating has no coefficient")
}

func TestLinearModel_MissingValuesContributeZero(t *testing.T) {
	schema := loadTestSchema(t)
	m, err := LoadLinear(filepath.Join("testdata", "linear_model.json"), schema)
	require.NoError(t, err)

	x := vectorFor(t, schema, map[string]float64{"Unit price": 55, "Quantity": math.NaN(), "Branch_A": 1, "Rating": math.NaN()})
	got, err := m.Predict(x)
	require.NoError(t, err)
	assert.InDelta(t, 10+110+5, got, 1e-9)

	attr, err := m.Explain(x)
	require.NoError(t, err)
	assert.InDelta(t, got, attr.Sum(), 1e-9)
	for i, c := range attr.Contributions {
		assert.False(t, math.IsNaN(c), "contribution %d", i)
	}
}

func TestLoadLinear_UnknownColumn(t *testing.T) {
	schema := loadTestSchema(t)
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"intercept":1,"coefficients":{"Tax 5%":0.3}}`), 0o600))

	_, err := LoadLinear(path, schema)
	assert.ErrorIs(t, err, ErrArtifactLoad)
	assert.ErrorIs(t, err, features.ErrSchemaMismatch)
}

func TestLoadLinear_NoCoefficients(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"intercept":1}`), 0o600))

	_, err := LoadLinear(path, loadTestSchema(t))
	assert.ErrorIs(t, err, ErrArtifactLoad)
}

func TestNewLinearModel_CopiesWeights(t *testing.T) {
	w := []float64{1, 2}
	m := NewLinearModel(0, w)
	w[0] = 100

	got, err := m.Predict([]float64{1, 1})
	require.NoError(t, err)
	assert.Equal(t, 3.0, got)
}
