package ml

import (
	"fmt"
	"math"
	"strings"
)

// TargetTransform names the transform the model was trained on.
type TargetTransform string

const (
	TransformNone  TargetTransform = "none"
	TransformLog1p TargetTransform = "log1p"
)

// ParseTargetTransform accepts "none", "log1p" or an empty string (none).
func ParseTargetTransform(s string) (TargetTransform, error) {
	switch TargetTransform(strings.ToLower(strings.TrimSpace(s))) {
	case "", TransformNone:
		return TransformNone, nil
	case TransformLog1p:
		return TransformLog1p, nil
	}
	return "", fmt.Errorf("unknown target transform %q", s)
}

// Inverse maps a native model output back to the display scale.
func (t TargetTransform) Inverse(v float64) float64 {
	if t == TransformLog1p {
		return math.Expm1(v)
	}
	return v
}

// Forward maps a display value onto the model's native scale.
func (t TargetTransform) Forward(v float64) float64 {
	if t == TransformLog1p {
		return math.Log1p(v)
	}
	return v
}
