package ml

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// FeatureImportance aggregates per-prediction contributions into a global
// ranking: a feature's importance is its mean absolute contribution.
type FeatureImportance struct {
	mu             sync.RWMutex
	featureNames   []string
	importanceData map[string]*FeatureStats
	samples        int64
	savePath       string
}

// FeatureStats contains statistics for a single feature
type FeatureStats struct {
	Name             string    `json:"name"`
	ImportanceScore  float64   `json:"importance_score"`
	MeanContribution float64   `json:"mean_contribution"`
	UsageCount       int64     `json:"usage_count"`
	MinValue         float64   `json:"min_value"`
	MaxValue         float64   `json:"max_value"`
	LastUpdated      time.Time `json:"last_updated"`

	absSum float64
	sum    float64
}

// NewFeatureImportance creates a tracker for the given columns. When savePath
// is set, previously saved scores are loaded from it.
func NewFeatureImportance(featureNames []string, savePath string) *FeatureImportance {
	fi := &FeatureImportance{
		featureNames:   append([]string(nil), featureNames...),
		importanceData: make(map[string]*FeatureStats, len(featureNames)),
		savePath:       savePath,
	}
	fi.reset()

	if savePath != "" {
		if err := fi.Load(); err != nil {
			log.Warn().Err(err).Str("path", savePath).Msg("Failed to load feature importance data")
		}
	}
	return fi
}

// Update folds one prediction's contributions into the running statistics.
// Contributions for unknown features are ignored.
func (fi *FeatureImportance) Update(contribs []Contribution) {
	if len(contribs) == 0 {
		return
	}

	fi.mu.Lock()
	defer fi.mu.Unlock()

	fi.samples++
	now := time.Now()
	for _, c := range contribs {
		stats, ok := fi.importanceData[c.Feature]
		if !ok {
			continue
		}
		stats.UsageCount++
		stats.absSum += math.Abs(c.Value)
		stats.sum += c.Value
		stats.ImportanceScore = stats.absSum / float64(stats.UsageCount)
		stats.MeanContribution = stats.sum / float64(stats.UsageCount)
		if c.Value < stats.MinValue {
			stats.MinValue = c.Value
		}
		if c.Value > stats.MaxValue {
			stats.MaxValue = c.Value
		}
		stats.LastUpdated = now
	}
}

// Samples returns the number of predictions folded in.
func (fi *FeatureImportance) Samples() int64 {
	fi.mu.RLock()
	defer fi.mu.RUnlock()
	return fi.samples
}

// GetFeatureImportance returns a copy of the statistics keyed by feature.
func (fi *FeatureImportance) GetFeatureImportance() map[string]FeatureStats {
	fi.mu.RLock()
	defer fi.mu.RUnlock()

	result := make(map[string]FeatureStats, len(fi.importanceData))
	for name, stats := range fi.importanceData {
		result[name] = *stats
	}
	return result
}

// GetTopFeatures returns the n most important features, highest first.
// Features never seen are left out.
func (fi *FeatureImportance) GetTopFeatures(n int) []FeatureStats {
	fi.mu.RLock()
	ranked := make([]FeatureStats, 0, len(fi.importanceData))
	for _, stats := range fi.importanceData {
		if stats.UsageCount > 0 {
			ranked = append(ranked, *stats)
		}
	}
	fi.mu.RUnlock()

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].ImportanceScore != ranked[j].ImportanceScore {
			return ranked[i].ImportanceScore > ranked[j].ImportanceScore
		}
		return ranked[i].Name < ranked[j].Name
	})

	if n > 0 && n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}

// Save saves the feature importance data to disk
func (fi *FeatureImportance) Save() error {
	if fi.savePath == "" {
		return nil
	}

	fi.mu.RLock()
	defer fi.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(fi.savePath), 0o755); err != nil {
		return err
	}

	// Unseen features still hold infinite bounds, which JSON cannot encode.
	seen := make(map[string]*FeatureStats, len(fi.importanceData))
	for name, stats := range fi.importanceData {
		if stats.UsageCount > 0 {
			seen[name] = stats
		}
	}

	data, err := json.MarshalIndent(seen, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(fi.savePath, data, 0o600)
}

// Load loads feature importance data from disk
func (fi *FeatureImportance) Load() error {
	if fi.savePath == "" {
		return nil
	}

	data, err := os.ReadFile(fi.savePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var saved map[string]*FeatureStats
	if err := json.Unmarshal(data, &saved); err != nil {
		return err
	}

	fi.mu.Lock()
	defer fi.mu.Unlock()

	for name, stats := range saved {
		current, ok := fi.importanceData[name]
		if !ok {
			continue
		}
		*current = *stats
		current.absSum = stats.ImportanceScore * float64(stats.UsageCount)
		current.sum = stats.MeanContribution * float64(stats.UsageCount)
		if stats.UsageCount > fi.samples {
			fi.samples = stats.UsageCount
		}
	}
	return nil
}

// Reset resets all feature importance data
func (fi *FeatureImportance) Reset() {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	fi.reset()
}

func (fi *FeatureImportance) reset() {
	for _, name := range fi.featureNames {
		fi.importanceData[name] = &FeatureStats{
			Name:        name,
			MinValue:    math.Inf(1),
			MaxValue:    math.Inf(-1),
			LastUpdated: time.Now(),
		}
	}
	fi.samples = 0
}
