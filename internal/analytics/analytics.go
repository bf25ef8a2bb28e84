// Package analytics aggregates served predictions into the figures shown on
// the dashboard: totals per categorical dimension and per hour, and a global
// feature importance built from per-prediction contributions.
package analytics

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"supermarket-sales/internal/features"
	"supermarket-sales/internal/ml"
	"supermarket-sales/internal/storage"
)

// DimHour is the breakdown key for the hour of day.
const DimHour = "Hour"

const blankKey = "(blank)"

// Group is the aggregate of one value within a dimension.
type Group struct {
	Key   string  `json:"key"`
	Count int     `json:"count"`
	Total float64 `json:"total"`
	Mean  float64 `json:"mean"`
}

// Recent is a compact view of one prediction.
type Recent struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Branch      string    `json:"branch"`
	ProductLine string    `json:"productLine"`
	Estimate    float64   `json:"estimate"`
	Confidence  *float64  `json:"confidence,omitempty"`
}

// Snapshot is a point-in-time copy of the aggregates.
type Snapshot struct {
	Timestamp      time.Time          `json:"timestamp"`
	Predictions    int                `json:"predictions"`
	Total          float64            `json:"total"`
	Mean           float64            `json:"mean"`
	Min            float64            `json:"min"`
	Max            float64            `json:"max"`
	MeanConfidence float64            `json:"meanConfidence"`
	Scored         int                `json:"scored"`
	Degraded       int                `json:"degraded"`
	Breakdowns     map[string][]Group `json:"breakdowns"`
	TopFeatures    []ml.FeatureStats  `json:"topFeatures"`
	Recent         []Recent           `json:"recent"`
}

// Source replays stored predictions.
type Source interface {
	ForEachPrediction(fn func(storage.PredictionRecord) error) error
}

type accumulator struct {
	count int
	total float64
}

// Aggregator folds predictions into running aggregates. It is safe for
// concurrent use.
type Aggregator struct {
	mu         sync.RWMutex
	dims       map[string]map[string]*accumulator
	count      int
	total      float64
	min        float64
	max        float64
	confSum    float64
	scored     int
	degraded   int
	recent     []Recent
	recentCap  int
	importance *ml.FeatureImportance
}

// NewAggregator creates an empty aggregator that keeps the last recentCap
// predictions. importance may be nil.
func NewAggregator(importance *ml.FeatureImportance, recentCap int) *Aggregator {
	if recentCap < 0 {
		recentCap = 0
	}
	a := &Aggregator{
		dims:       make(map[string]map[string]*accumulator),
		recentCap:  recentCap,
		importance: importance,
	}
	for _, col := range Dimensions() {
		a.dims[col] = make(map[string]*accumulator)
	}
	return a
}

// Dimensions returns the breakdown keys in display order.
func Dimensions() []string {
	return append(features.CategoricalColumns(), DimHour)
}

// Add folds one prediction into the aggregates.
func (a *Aggregator) Add(res *ml.Result) {
	if res == nil {
		return
	}

	a.mu.Lock()
	a.add(res)
	a.mu.Unlock()

	if a.importance != nil {
		a.importance.Update(res.Contributions)
	}
}

func (a *Aggregator) add(res *ml.Result) {
	est := res.Estimate
	if a.count == 0 || est < a.min {
		a.min = est
	}
	if a.count == 0 || est > a.max {
		a.max = est
	}
	a.count++
	a.total += est

	if res.Confidence != nil {
		a.scored++
		a.confSum += *res.Confidence
	}
	if len(res.UnknownCategories) > 0 {
		a.degraded++
	}

	for _, col := range features.CategoricalColumns() {
		v, _ := res.Transaction.Categorical(col)
		if v == "" {
			v = blankKey
		}
		a.bump(col, v, est)
	}
	a.bump(DimHour, hourKey(res.Transaction.Hour), est)

	if a.recentCap > 0 {
		a.recent = append(a.recent, Recent{
			ID:          res.ID.String(),
			Timestamp:   res.Timestamp,
			Branch:      res.Transaction.Branch,
			ProductLine: res.Transaction.ProductLine,
			Estimate:    est,
			Confidence:  res.Confidence,
		})
		if over := len(a.recent) - a.recentCap; over > 0 {
			a.recent = append(a.recent[:0], a.recent[over:]...)
		}
	}
}

func (a *Aggregator) bump(dim, key string, est float64) {
	acc, ok := a.dims[dim][key]
	if !ok {
		acc = &accumulator{}
		a.dims[dim][key] = acc
	}
	acc.count++
	acc.total += est
}

func hourKey(h float64) string {
	if math.IsNaN(h) || math.IsInf(h, 0) {
		return blankKey
	}
	return fmt.Sprintf("%02d:00", int(h))
}

// Load replays every stored prediction in timestamp order. Feature importance
// is rebuilt from the replay, replacing any scores loaded from disk.
func (a *Aggregator) Load(src Source) error {
	var loaded []storage.PredictionRecord
	if err := src.ForEachPrediction(func(rec storage.PredictionRecord) error {
		loaded = append(loaded, rec)
		return nil
	}); err != nil {
		return fmt.Errorf("replay predictions: %w", err)
	}

	if a.importance != nil {
		a.importance.Reset()
	}

	sort.SliceStable(loaded, func(i, j int) bool {
		return loaded[i].Timestamp.Before(loaded[j].Timestamp)
	})
	for i := range loaded {
		a.Add(&loaded[i].Result)
	}
	return nil
}

// Snapshot returns a copy of the aggregates with up to topFeatures features
// ranked by importance.
func (a *Aggregator) Snapshot(topFeatures int) Snapshot {
	a.mu.RLock()
	snap := Snapshot{
		Timestamp:   time.Now(),
		Predictions: a.count,
		Total:       a.total,
		Min:         a.min,
		Max:         a.max,
		Scored:      a.scored,
		Degraded:    a.degraded,
		Breakdowns:  make(map[string][]Group, len(a.dims)),
		Recent:      make([]Recent, len(a.recent)),
	}
	if a.count > 0 {
		snap.Mean = a.total / float64(a.count)
	}
	if a.scored > 0 {
		snap.MeanConfidence = a.confSum / float64(a.scored)
	}
	for dim, groups := range a.dims {
		snap.Breakdowns[dim] = sortedGroups(dim, groups)
	}
	// newest first
	for i, r := range a.recent {
		snap.Recent[len(a.recent)-1-i] = r
	}
	a.mu.RUnlock()

	snap.TopFeatures = []ml.FeatureStats{}
	if a.importance != nil {
		snap.TopFeatures = a.importance.GetTopFeatures(topFeatures)
	}
	return snap
}

// sortedGroups orders hours chronologically and every other dimension by
// total, largest first.
func sortedGroups(dim string, groups map[string]*accumulator) []Group {
	out := make([]Group, 0, len(groups))
	for key, acc := range groups {
		out = append(out, Group{
			Key:   key,
			Count: acc.count,
			Total: acc.total,
			Mean:  acc.total / float64(acc.count),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if dim != DimHour && out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Reset clears every aggregate and the feature importance.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	for dim := range a.dims {
		a.dims[dim] = make(map[string]*accumulator)
	}
	a.count, a.total, a.min, a.max = 0, 0, 0, 0
	a.confSum, a.scored, a.degraded = 0, 0, 0
	a.recent = nil
	a.mu.Unlock()

	if a.importance != nil {
		a.importance.Reset()
	}
}
