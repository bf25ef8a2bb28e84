package ml

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureImportance_MeanAbsoluteContribution(t *testing.T) {
	fi := NewFeatureImportance([]string{"Unit price", "Quantity", "Branch_A"}, "")

	fi.Update([]Contribution{{"Unit price", 120}, {"Quantity", -10}, {"Branch_A", 20}})
	fi.Update([]Contribution{{"Unit price", -80}, {"Quantity", 40}, {"Branch_A", 0}})
	fi.Update([]Contribution{{"Ghost", 1000}})

	assert.Equal(t, int64(3), fi.Samples())

	stats := fi.GetFeatureImportance()
	assert.InDelta(t, 100, stats["Unit price"].ImportanceScore, 1e-9)
	assert.InDelta(t, 20, stats["Unit price"].MeanContribution, 1e-9)
	assert.InDelta(t, 25, stats["Quantity"].ImportanceScore, 1e-9)
	assert.Equal(t, -80.0, stats["Unit price"].MinValue)
	assert.Equal(t, 120.0, stats["Unit price"].MaxValue)

	top := fi.GetTopFeatures(2)
	require.Len(t, top, 2)
	assert.Equal(t, "Unit price", top[0].Name)
	assert.Equal(t, "Quantity", top[1].Name)
}

func TestFeatureImportance_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "importance", "scores.json")
	names := []string{"Unit price", "Quantity", "Hour"}

	fi := NewFeatureImportance(names, path)
	fi.Update([]Contribution{{"Unit price", 10}, {"Quantity", -4}})
	fi.Update([]Contribution{{"Unit price", 30}, {"Quantity", 2}})
	require.NoError(t, fi.Save())

	restored := NewFeatureImportance(names, path)
	stats := restored.GetFeatureImportance()
	assert.InDelta(t, 20, stats["Unit price"].ImportanceScore, 1e-9)
	assert.Equal(t, int64(2), stats["Quantity"].UsageCount)
	assert.Zero(t, stats["Hour"].UsageCount)

	// Restored running sums keep the mean consistent.
	restored.Update([]Contribution{{"Unit price", 50}})
	assert.InDelta(t, 30, restored.GetFeatureImportance()["Unit price"].ImportanceScore, 1e-9)

	restored.Reset()
	assert.Empty(t, restored.GetTopFeatures(0))
	assert.Zero(t, restored.Samples())
}
