package ml

import (
	"fmt"
	"math"
	"strings"
)

// ConfidencePolicy selects how a confidence score is derived.
type ConfidencePolicy string

const (
	PolicyAttribution ConfidencePolicy = "attribution"
	PolicyBaseline    ConfidencePolicy = "baseline"
	PolicyNone        ConfidencePolicy = "none"
)

// Confidence bounds as fractions.
const (
	MinConfidence     = 0.50
	MaxConfidence     = 0.95
	BaselineFloor     = 0.60
	confidencePercent = 100.0
)

// ParseConfidencePolicy accepts attribution, baseline or none.
func ParseConfidencePolicy(s string) (ConfidencePolicy, error) {
	switch ConfidencePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyAttribution:
		return PolicyAttribution, nil
	case PolicyBaseline:
		return PolicyBaseline, nil
	case "", PolicyNone:
		return PolicyNone, nil
	}
	return "", fmt.Errorf("unknown confidence policy %q", s)
}

// AttributionConfidence scores a prediction from the mean absolute feature
// contribution: 1 - mean|a|, clamped to [0.50, 0.95], as a percentage.
// An empty or non-finite attribution scores the minimum.
func AttributionConfidence(contribs []float64) float64 {
	if len(contribs) == 0 {
		return toPercent(MinConfidence)
	}

	var total float64
	for _, a := range contribs {
		total += math.Abs(a)
	}
	raw := 1 - total/float64(len(contribs))
	if math.IsNaN(raw) {
		return toPercent(MinConfidence)
	}
	return toPercent(math.Max(MinConfidence, math.Min(MaxConfidence, raw)))
}

// BaselineConfidence scores a prediction by its distance from a baseline:
// min(0.95, 0.60 + |estimate - baseline|), as a percentage.
func BaselineConfidence(estimate, baseline float64) float64 {
	raw := BaselineFloor + math.Abs(estimate-baseline)
	if math.IsNaN(raw) {
		return toPercent(BaselineFloor)
	}
	return toPercent(math.Min(MaxConfidence, raw))
}

func toPercent(v float64) float64 {
	return math.Round(v*confidencePercent*100) / 100
}
