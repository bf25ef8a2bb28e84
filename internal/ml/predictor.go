package ml

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"supermarket-sales/internal/features"
)

// Model artifact formats.
const (
	FormatXGBoostJSON = "xgboost-json"
	FormatLinearJSON  = "linear-json"
)

// Rough range shown around an estimate.
const (
	RangeLowFactor  = 0.8
	RangeHighFactor = 1.2
)

// MetricsInterface defines metrics methods needed by the predictor
type MetricsInterface interface {
	PredictionsInc()
	PredictionFailuresInc()
	PredictionLatencyObserve(float64)
	PredictionConfidenceObserve(float64)
	PredictedTotalObserve(float64)
	UnknownCategoryInc(field string)
	ModelAgeSet(float64)
}

// Config names the artifacts and policies a Predictor is loaded from.
type Config struct {
	ModelPath    string
	ModelFormat  string
	SchemaPath   string
	MetadataPath string
	Transform    TargetTransform
	Policy       ConfidencePolicy
	// Baseline fixes the Policy B reference on the native scale. When nil
	// the explainer's expected value is used.
	Baseline *float64
}

// Options configure a Predictor built from already loaded parts.
type Options struct {
	Format    string
	Transform TargetTransform
	Policy    ConfidencePolicy
	Baseline  *float64
	Metadata  *ModelMetadata
	Metrics   MetricsInterface
	// ModelCreated is the artifact timestamp used for the model age gauge.
	ModelCreated time.Time
}

// Predictor runs the align, infer, explain and score pipeline. It is
// immutable after construction and safe for concurrent use.
type Predictor struct {
	schema       *features.Schema
	model        Model
	explainer    Explainer
	format       string
	transform    TargetTransform
	policy       ConfidencePolicy
	baseline     *float64
	metadata     *ModelMetadata
	metrics      MetricsInterface
	modelCreated time.Time
	startedAt    time.Time

	predictions atomic.Int64
	failures    atomic.Int64
}

// Contribution is one feature's share of a prediction.
type Contribution struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"value"`
}

// Result is the outcome of one prediction.
type Result struct {
	ID                uuid.UUID               `json:"id"`
	Timestamp         time.Time               `json:"timestamp"`
	Transaction       features.RawTransaction `json:"transaction"`
	Estimate          float64                 `json:"estimate"`
	NativeEstimate    float64                 `json:"native_estimate"`
	RangeLow          float64                 `json:"range_low"`
	RangeHigh         float64                 `json:"range_high"`
	Confidence        *float64                `json:"confidence,omitempty"`
	Bias              float64                 `json:"bias,omitempty"`
	Contributions     []Contribution          `json:"contributions,omitempty"`
	UnknownCategories []string                `json:"unknown_categories,omitempty"`
}

// TopContributions returns the n contributions with the largest magnitude.
func (r *Result) TopContributions(n int) []Contribution {
	if n <= 0 || n > len(r.Contributions) {
		n = len(r.Contributions)
	}
	out := make([]Contribution, n)
	copy(out, r.Contributions[:n])
	return out
}

// Load reads the schema, model and metadata named by cfg. Any failure wraps
// ErrArtifactLoad and is meant to stop the process.
func Load(cfg Config, metrics MetricsInterface) (*Predictor, error) {
	if cfg.Transform == "" {
		cfg.Transform = TransformNone
	}

	schema, err := features.LoadSchema(cfg.SchemaPath)
	if err != nil {
		return nil, fmt.Errorf("%w: schema: %w", ErrArtifactLoad, err)
	}

	var model Model
	switch cfg.ModelFormat {
	case FormatXGBoostJSON, "":
		model, err = LoadXGBoost(cfg.ModelPath, schema)
	case FormatLinearJSON:
		model, err = LoadLinear(cfg.ModelPath, schema)
	default:
		err = fmt.Errorf("%w: unknown model format %q", ErrArtifactLoad, cfg.ModelFormat)
	}
	if err != nil {
		return nil, err
	}

	var md *ModelMetadata
	if cfg.MetadataPath != "" {
		md, err = LoadMetadata(cfg.MetadataPath)
	} else {
		md, err = loadModelMetadata(cfg.ModelPath)
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn().Str("model_path", cfg.ModelPath).Msg("model metadata not found, using defaults")
			md, err = &ModelMetadata{Version: "unknown"}, nil
		} else if err != nil {
			err = fmt.Errorf("%w: metadata: %w", ErrArtifactLoad, err)
		}
	}
	if err != nil {
		return nil, err
	}

	if md.TargetTransform != "" {
		declared, perr := ParseTargetTransform(md.TargetTransform)
		if perr != nil || declared != cfg.Transform {
			return nil, fmt.Errorf("%w: metadata declares target transform %q, configured %q",
				ErrArtifactLoad, md.TargetTransform, cfg.Transform)
		}
	}

	var created time.Time
	if info, err := os.Stat(cfg.ModelPath); err == nil {
		created = info.ModTime()
	}

	format := cfg.ModelFormat
	if format == "" {
		format = FormatXGBoostJSON
	}
	p, err := NewPredictor(schema, model, Options{
		Format:       format,
		Transform:    cfg.Transform,
		Policy:       cfg.Policy,
		Baseline:     cfg.Baseline,
		Metadata:     md,
		Metrics:      metrics,
		ModelCreated: created,
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("model_path", cfg.ModelPath).
		Str("format", format).
		Int("features", schema.Len()).
		Str("version", md.Version).
		Str("transform", string(cfg.Transform)).
		Str("policy", string(cfg.Policy)).
		Msg("model loaded")
	return p, nil
}

// NewPredictor assembles a Predictor from a schema and a model.
func NewPredictor(schema *features.Schema, model Model, opts Options) (*Predictor, error) {
	if schema.Len() == 0 {
		return nil, fmt.Errorf("%w: %w: empty schema", ErrArtifactLoad, features.ErrSchemaMismatch)
	}
	if model == nil {
		return nil, fmt.Errorf("%w: no model", ErrArtifactLoad)
	}
	if n := model.NumFeatures(); n != schema.Len() {
		return nil, fmt.Errorf("%w: %w: model has %d features, schema has %d",
			ErrArtifactLoad, features.ErrSchemaMismatch, n, schema.Len())
	}

	if opts.Transform == "" {
		opts.Transform = TransformNone
	}
	if opts.Policy == "" {
		opts.Policy = PolicyNone
	}
	if opts.Metadata == nil {
		opts.Metadata = &ModelMetadata{Version: "unknown"}
	}

	explainer, _ := model.(Explainer)
	switch opts.Policy {
	case PolicyAttribution:
		if explainer == nil {
			return nil, fmt.Errorf("%w: attribution confidence needs an explainable model", ErrArtifactLoad)
		}
	case PolicyBaseline:
		if explainer == nil && opts.Baseline == nil {
			return nil, fmt.Errorf("%w: baseline confidence needs a fixed baseline or an explainable model", ErrArtifactLoad)
		}
	case PolicyNone:
	default:
		return nil, fmt.Errorf("%w: unknown confidence policy %q", ErrArtifactLoad, opts.Policy)
	}

	p := &Predictor{
		schema:       schema,
		model:        model,
		explainer:    explainer,
		format:       opts.Format,
		transform:    opts.Transform,
		policy:       opts.Policy,
		baseline:     opts.Baseline,
		metadata:     opts.Metadata,
		metrics:      opts.Metrics,
		modelCreated: opts.ModelCreated,
		startedAt:    time.Now(),
	}

	if p.metrics != nil && !p.modelCreated.IsZero() {
		p.metrics.ModelAgeSet(time.Since(p.modelCreated).Seconds())
	}
	return p, nil
}

// Schema returns the trained feature schema.
func (p *Predictor) Schema() *features.Schema {
	return p.schema
}

// Metadata returns the training metadata of the loaded model.
func (p *Predictor) Metadata() ModelMetadata {
	return *p.metadata
}

// Format returns the model artifact format.
func (p *Predictor) Format() string {
	return p.format
}

// Transform returns the configured target transform.
func (p *Predictor) Transform() TargetTransform {
	return p.transform
}

// Policy returns the configured confidence policy.
func (p *Predictor) Policy() ConfidencePolicy {
	return p.policy
}

// Explainable reports whether predictions carry feature contributions.
func (p *Predictor) Explainable() bool {
	return p.explainer != nil
}

// Predict runs the full pipeline for one transaction.
func (p *Predictor) Predict(ctx context.Context, raw features.RawTransaction) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.PredictionLatencyObserve(time.Since(start).Seconds())
		}
	}()

	vec, unknown, err := p.align(raw)
	if err != nil {
		return nil, p.fail(err)
	}
	x := vec.Values()

	native, err := p.model.Predict(x)
	if err != nil {
		return nil, p.fail(wrapInference(err))
	}
	if math.IsNaN(native) || math.IsInf(native, 0) {
		return nil, p.fail(fmt.Errorf("%w: model returned %v", ErrInference, native))
	}

	res := &Result{
		ID:                uuid.New(),
		Timestamp:         time.Now().UTC(),
		Transaction:       raw,
		NativeEstimate:    native,
		Estimate:          p.transform.Inverse(native),
		UnknownCategories: unknown,
	}
	res.RangeLow = res.Estimate * RangeLowFactor
	res.RangeHigh = res.Estimate * RangeHighFactor

	var attr *Attribution
	if p.explainer != nil {
		a, err := p.explainer.Explain(x)
		if err != nil {
			return nil, p.fail(wrapInference(err))
		}
		attr = &a
		res.Bias = a.Bias
		res.Contributions = p.rankContributions(a.Contributions)
	}

	if c, ok := p.confidence(native, attr); ok {
		res.Confidence = &c
		if p.metrics != nil {
			p.metrics.PredictionConfidenceObserve(c)
		}
	}

	p.predictions.Add(1)
	if p.metrics != nil {
		p.metrics.PredictionsInc()
		p.metrics.PredictedTotalObserve(res.Estimate)
	}
	return res, nil
}

// Estimate returns only the display-scale point estimate. Batch runs use it
// to skip attribution and scoring.
func (p *Predictor) Estimate(ctx context.Context, raw features.RawTransaction) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	vec, _, err := p.align(raw)
	if err != nil {
		return 0, p.fail(err)
	}
	native, err := p.model.Predict(vec.Values())
	if err != nil {
		return 0, p.fail(wrapInference(err))
	}
	if math.IsNaN(native) || math.IsInf(native, 0) {
		return 0, p.fail(fmt.Errorf("%w: model returned %v", ErrInference, native))
	}

	p.predictions.Add(1)
	if p.metrics != nil {
		p.metrics.PredictionsInc()
	}
	return p.transform.Inverse(native), nil
}

// Health reports the current model status.
func (p *Predictor) Health() HealthStatus {
	predictions := p.predictions.Load()
	failures := p.failures.Load()

	var errorRate float64
	if total := predictions + failures; total > 0 {
		errorRate = float64(failures) / float64(total)
	}

	if p.metrics != nil && !p.modelCreated.IsZero() {
		p.metrics.ModelAgeSet(time.Since(p.modelCreated).Seconds())
	}

	return HealthStatus{
		Healthy:         p.model != nil && errorRate < 0.1,
		LastCheck:       time.Now(),
		ModelLoaded:     p.model != nil,
		ModelVersion:    p.metadata.Version,
		ModelFormat:     p.format,
		Features:        p.schema.Len(),
		PredictionCount: predictions,
		FailureCount:    failures,
		ErrorRate:       errorRate,
		UptimeSeconds:   time.Since(p.startedAt).Seconds(),
	}
}

func (p *Predictor) align(raw features.RawTransaction) (features.Vector, []string, error) {
	vec, err := features.Align(raw, p.schema)
	if err != nil {
		return features.Vector{}, nil, err
	}

	unknown := p.schema.UnknownCategories(raw)
	if len(unknown) > 0 {
		log.Warn().
			Str("fields", strings.Join(unknown, ",")).
			Msg("unseen categories encoded as all-zero indicators")
		if p.metrics != nil {
			for _, f := range unknown {
				p.metrics.UnknownCategoryInc(f)
			}
		}
	}
	return vec, unknown, nil
}

func (p *Predictor) confidence(native float64, attr *Attribution) (float64, bool) {
	switch p.policy {
	case PolicyAttribution:
		if attr == nil {
			return 0, false
		}
		return AttributionConfidence(attr.Contributions), true
	case PolicyBaseline:
		var baseline float64
		switch {
		case p.baseline != nil:
			baseline = *p.baseline
		case attr != nil:
			baseline = attr.Bias
		default:
			return 0, false
		}
		if baseline == native {
			log.Warn().Float64("baseline", baseline).Msg("estimate equals confidence baseline")
		}
		return BaselineConfidence(native, baseline), true
	}
	return 0, false
}

func (p *Predictor) rankContributions(values []float64) []Contribution {
	out := make([]Contribution, 0, len(values))
	for i, v := range values {
		out = append(out, Contribution{Feature: p.schema.Column(i), Value: v})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].Value) > math.Abs(out[j].Value)
	})
	return out
}

func (p *Predictor) fail(err error) error {
	p.failures.Add(1)
	if p.metrics != nil {
		p.metrics.PredictionFailuresInc()
	}
	log.Error().Err(err).Msg("prediction failed")
	return err
}

func wrapInference(err error) error {
	if errors.Is(err, ErrInference) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrInference, err)
}
