package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"supermarket-sales/internal/features"
)

// DriftMethod names a two-sample comparison between baseline and served inputs.
type DriftMethod string

const (
	KolmogorovSmirnov        DriftMethod = "kolmogorov_smirnov"
	PopulationStabilityIndex DriftMethod = "population_stability_index"
	StatisticalMoments       DriftMethod = "statistical_moments"
)

const psiBins = 10

// DriftMetrics receives the latest PSI score per numeric input.
type DriftMetrics interface {
	DriftScoreSet(feature string, v float64)
}

// DriftConfig configures a DriftDetector. Zero values take defaults.
type DriftConfig struct {
	WindowSize int           `yaml:"windowSize"`
	MinSamples int           `yaml:"minSamples"`
	CheckEvery int           `yaml:"checkEvery"`
	Threshold  float64       `yaml:"threshold"`
	Cooldown   time.Duration `yaml:"cooldown"`
	Methods    []DriftMethod `yaml:"methods"`
	SavePath   string        `yaml:"savePath"`
}

// Distribution summarises one numeric input over a sample window.
type Distribution struct {
	Mean    float64   `json:"mean"`
	StdDev  float64   `json:"std_dev"`
	Min     float64   `json:"min"`
	Max     float64   `json:"max"`
	Count   int64     `json:"count"`
	Samples []float64 `json:"samples"`

	m2 float64
}

// DriftAlert reports one input whose served distribution moved away from
// the baseline.
type DriftAlert struct {
	Timestamp time.Time   `json:"timestamp"`
	Feature   string      `json:"feature"`
	Method    DriftMethod `json:"method"`
	Score     float64     `json:"score"`
	Threshold float64     `json:"threshold"`
	Severity  string      `json:"severity"`
}

// DriftStatus is the current comparison for every numeric input.
type DriftStatus struct {
	Baseline bool                               `json:"baseline"`
	Samples  int64                              `json:"samples"`
	Scores   map[string]map[DriftMethod]float64 `json:"scores"`
	Alerts   []DriftAlert                       `json:"alerts"`
}

// DriftDetector compares the numeric inputs of served transactions with the
// distribution the model was trained on.
type DriftDetector struct {
	mu        sync.Mutex
	cfg       DriftConfig
	baseline  map[string]*Distribution
	current   map[string]*Distribution
	observed  int64
	lastAlert time.Time
	metrics   DriftMetrics
}

// NewDriftDetector creates a detector. A baseline saved at cfg.SavePath is
// loaded when present. metrics may be nil.
func NewDriftDetector(cfg DriftConfig, metrics DriftMetrics) *DriftDetector {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 1000
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 30
	}
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = 50
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.2
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Hour
	}
	if len(cfg.Methods) == 0 {
		cfg.Methods = []DriftMethod{PopulationStabilityIndex, KolmogorovSmirnov}
	}

	d := &DriftDetector{
		cfg:     cfg,
		current: newDistributions(),
		metrics: metrics,
	}

	if cfg.SavePath != "" {
		if err := d.LoadBaseline(); err != nil {
			log.Warn().Err(err).Str("path", cfg.SavePath).Msg("Failed to load drift baseline")
		}
	}
	return d
}

func newDistributions() map[string]*Distribution {
	out := make(map[string]*Distribution, len(features.NumericColumns()))
	for _, col := range features.NumericColumns() {
		out[col] = &Distribution{}
	}
	return out
}

// SetBaseline replaces the baseline with the numeric fields of txs and saves
// it when a save path is configured.
func (d *DriftDetector) SetBaseline(txs []features.RawTransaction) error {
	if len(txs) < d.cfg.MinSamples {
		return fmt.Errorf("drift baseline needs at least %d rows, got %d", d.cfg.MinSamples, len(txs))
	}

	baseline := newDistributions()
	for _, tx := range txs {
		d.add(baseline, tx)
	}

	d.mu.Lock()
	d.baseline = baseline
	d.mu.Unlock()

	log.Info().Int("rows", len(txs)).Msg("drift baseline updated")
	return d.SaveBaseline()
}

// HasBaseline reports whether served inputs are being compared.
func (d *DriftDetector) HasBaseline() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.baseline != nil
}

// Observe records a served transaction. Every CheckEvery observations the
// window is compared with the baseline; alerts are logged and returned,
// at most once per cooldown.
func (d *DriftDetector) Observe(raw features.RawTransaction) []DriftAlert {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.add(d.current, raw)
	d.observed++

	if d.baseline == nil || d.observed%int64(d.cfg.CheckEvery) != 0 {
		return nil
	}

	scores := d.scores()
	d.publish(scores)
	if time.Since(d.lastAlert) < d.cfg.Cooldown {
		return nil
	}

	alerts := d.alerts(scores)
	if len(alerts) == 0 {
		return nil
	}
	d.lastAlert = time.Now()
	for _, a := range alerts {
		log.Warn().
			Str("feature", a.Feature).
			Str("method", string(a.Method)).
			Float64("score", a.Score).
			Str("severity", a.Severity).
			Msg("input drift detected")
	}
	return alerts
}

// Status compares the current window with the baseline, ignoring the alert
// cooldown.
func (d *DriftDetector) Status() DriftStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	status := DriftStatus{
		Baseline: d.baseline != nil,
		Samples:  d.observed,
		Scores:   map[string]map[DriftMethod]float64{},
		Alerts:   []DriftAlert{},
	}
	if d.baseline == nil {
		return status
	}

	scores := d.scores()
	d.publish(scores)
	status.Scores = scores
	if alerts := d.alerts(scores); alerts != nil {
		status.Alerts = alerts
	}
	return status
}

// Reset clears the served window and keeps the baseline.
func (d *DriftDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = newDistributions()
	d.observed = 0
}

// scores must be called with d.mu held.
func (d *DriftDetector) scores() map[string]map[DriftMethod]float64 {
	out := make(map[string]map[DriftMethod]float64)
	for _, col := range features.NumericColumns() {
		base, cur := d.baseline[col], d.current[col]
		if base == nil || cur == nil || int(cur.Count) < d.cfg.MinSamples || int(base.Count) < d.cfg.MinSamples {
			continue
		}
		byMethod := make(map[DriftMethod]float64, len(d.cfg.Methods))
		for _, m := range d.cfg.Methods {
			switch m {
			case KolmogorovSmirnov:
				byMethod[m] = ksStatistic(base.Samples, cur.Samples)
			case PopulationStabilityIndex:
				byMethod[m] = psi(base.Samples, cur.Samples)
			case StatisticalMoments:
				byMethod[m] = momentShift(base, cur)
			}
		}
		out[col] = byMethod
	}
	return out
}

func (d *DriftDetector) publish(scores map[string]map[DriftMethod]float64) {
	if d.metrics == nil {
		return
	}
	for col, byMethod := range scores {
		if v, ok := byMethod[PopulationStabilityIndex]; ok {
			d.metrics.DriftScoreSet(col, v)
		}
	}
}

func (d *DriftDetector) alerts(scores map[string]map[DriftMethod]float64) []DriftAlert {
	var alerts []DriftAlert
	now := time.Now()
	for _, col := range features.NumericColumns() {
		for _, m := range d.cfg.Methods {
			score, ok := scores[col][m]
			if !ok || score <= d.cfg.Threshold {
				continue
			}
			alerts = append(alerts, DriftAlert{
				Timestamp: now,
				Feature:   col,
				Method:    m,
				Score:     score,
				Threshold: d.cfg.Threshold,
				Severity:  severity(score, d.cfg.Threshold),
			})
		}
	}
	return alerts
}

func severity(score, threshold float64) string {
	switch {
	case score > 3*threshold:
		return "critical"
	case score > 2*threshold:
		return "high"
	default:
		return "medium"
	}
}

// add folds the numeric fields of raw into dists. Missing values are skipped.
func (d *DriftDetector) add(dists map[string]*Distribution, raw features.RawTransaction) {
	for _, col := range features.NumericColumns() {
		v, _ := raw.Numeric(col)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		d.update(dists[col], v)
	}
}

// update applies Welford's running mean and variance.
func (d *DriftDetector) update(dist *Distribution, v float64) {
	dist.Count++
	delta := v - dist.Mean
	dist.Mean += delta / float64(dist.Count)
	dist.m2 += delta * (v - dist.Mean)
	if dist.Count > 1 {
		dist.StdDev = math.Sqrt(dist.m2 / float64(dist.Count-1))
	}
	if dist.Count == 1 {
		dist.Min, dist.Max = v, v
	} else {
		dist.Min = math.Min(dist.Min, v)
		dist.Max = math.Max(dist.Max, v)
	}

	if len(dist.Samples) >= d.cfg.WindowSize {
		dist.Samples = dist.Samples[1:]
	}
	dist.Samples = append(dist.Samples, v)
}

// ksStatistic returns the two-sample Kolmogorov-Smirnov distance.
func ksStatistic(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	x := append([]float64(nil), a...)
	y := append([]float64(nil), b...)
	sort.Float64s(x)
	sort.Float64s(y)

	var maxDiff float64
	i, j := 0, 0
	for i < len(x) && j < len(y) {
		v := math.Min(x[i], y[j])
		for i < len(x) && x[i] <= v {
			i++
		}
		for j < len(y) && y[j] <= v {
			j++
		}
		diff := math.Abs(float64(i)/float64(len(x)) - float64(j)/float64(len(y)))
		maxDiff = math.Max(maxDiff, diff)
	}
	return maxDiff
}

// psi returns the population stability index of cur against base over equal
// width bins spanning both samples. Empty bins are smoothed.
func psi(base, cur []float64) float64 {
	if len(base) == 0 || len(cur) == 0 {
		return 0
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range [][]float64{base, cur} {
		for _, v := range s {
			lo, hi = math.Min(lo, v), math.Max(hi, v)
		}
	}
	if hi == lo {
		return 0
	}

	width := (hi - lo) / psiBins
	hist := func(s []float64) []float64 {
		counts := make([]float64, psiBins)
		for _, v := range s {
			bin := int((v - lo) / width)
			counts[min(max(bin, 0), psiBins-1)]++
		}
		for i := range counts {
			counts[i] = (counts[i] + 0.5) / (float64(len(s)) + 0.5*psiBins)
		}
		return counts
	}

	b, c := hist(base), hist(cur)
	var score float64
	for i := range b {
		score += (c[i] - b[i]) * math.Log(c[i]/b[i])
	}
	return score
}

// momentShift averages the normalised changes in mean and standard deviation.
func momentShift(base, cur *Distribution) float64 {
	mean := math.Abs(base.Mean-cur.Mean) / (1 + math.Abs(base.Mean))
	std := math.Abs(base.StdDev-cur.StdDev) / (1 + base.StdDev)
	return (mean + std) / 2
}

// SaveBaseline writes the baseline to the configured path.
func (d *DriftDetector) SaveBaseline() error {
	if d.cfg.SavePath == "" {
		return nil
	}

	d.mu.Lock()
	data, err := json.MarshalIndent(d.baseline, "", "  ")
	d.mu.Unlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(d.cfg.SavePath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(d.cfg.SavePath, data, 0o600)
}

// LoadBaseline reads a saved baseline. A missing file is not an error.
func (d *DriftDetector) LoadBaseline() error {
	if d.cfg.SavePath == "" {
		return nil
	}

	data, err := os.ReadFile(d.cfg.SavePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var baseline map[string]*Distribution
	if err := json.Unmarshal(data, &baseline); err != nil {
		return fmt.Errorf("decode drift baseline: %w", err)
	}
	for _, col := range features.NumericColumns() {
		if baseline[col] == nil {
			return fmt.Errorf("drift baseline has no %q distribution", col)
		}
	}

	d.mu.Lock()
	d.baseline = baseline
	d.mu.Unlock()
	return nil
}
