package ml

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttributionConfidence(t *testing.T) {
	testCases := []struct {
		name     string
		contribs []float64
		want     float64
	}{
		{"no attribution", nil, 50},
		{"zero contributions clamp high", []float64{0, 0, 0}, 95},
		{"small spread", []float64{0.1, -0.1, 0.2, 0}, 90},
		{"mid", []float64{0.3, -0.3}, 70},
		{"large clamp low", []float64{5, -3}, 50},
		{"two decimals", []float64{0.1234}, 87.66},
		{"nan", []float64{math.NaN()}, 50},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, AttributionConfidence(tc.contribs), 1e-9)
		})
	}
}

func TestAttributionConfidence_BoundedAndMonotonic(t *testing.T) {
	prev := math.Inf(1)
	for step := 0; step <= 200; step++ {
		a := float64(step) * 0.01
		c := AttributionConfidence([]float64{a, -a, a / 2})
		require.GreaterOrEqual(t, c, 50.0)
		require.LessOrEqual(t, c, 95.0)
		require.LessOrEqual(t, c, prev, "confidence rose as attribution mass grew")
		prev = c
	}
}

func TestBaselineConfidence(t *testing.T) {
	assert.InDelta(t, 60, BaselineConfidence(5, 5), 1e-9)
	assert.InDelta(t, 80, BaselineConfidence(5.2, 5), 1e-9)
	assert.InDelta(t, 80, BaselineConfidence(4.8, 5), 1e-9)
	assert.InDelta(t, 95, BaselineConfidence(500, 5), 1e-9)
	assert.InDelta(t, 60, BaselineConfidence(math.NaN(), 5), 1e-9)

	prev := 0.0
	for step := 0; step <= 100; step++ {
		c := BaselineConfidence(float64(step)*0.005, 0)
		require.LessOrEqual(t, c, 95.0)
		require.GreaterOrEqual(t, c, prev)
		prev = c
	}
}

func TestParseConfidencePolicy(t *testing.T) {
	for in, want := range map[string]ConfidencePolicy{
		"attribution": PolicyAttribution,
		"Baseline":    PolicyBaseline,
		"none":        PolicyNone,
		"":            PolicyNone,
	} {
		got, err := ParseConfidencePolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseConfidencePolicy("shap")
	assert.Error(t, err)
}

func TestTargetTransform(t *testing.T) {
	tr, err := ParseTargetTransform("log1p")
	require.NoError(t, err)
	assert.InDelta(t, 99.0, tr.Inverse(math.Log(100)), 1e-9)
	assert.InDelta(t, 99.0, tr.Inverse(tr.Forward(99)), 1e-9)

	none, err := ParseTargetTransform("")
	require.NoError(t, err)
	assert.Equal(t, TransformNone, none)
	assert.Equal(t, 12.5, none.Inverse(12.5))

	_, err = ParseTargetTransform("sqrt")
	assert.Error(t, err)
}
