package ml

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"supermarket-sales/internal/features"
)

// LinearModel is an intercept plus one coefficient per schema column.
// It stands in for any estimator exported as coefficients and implements
// both Model and Explainer.
type LinearModel struct {
	intercept float64
	weights   []float64
}

type linearModelFile struct {
	Intercept    float64            `json:"intercept"`
	Coefficients map[string]float64 `json:"coefficients"`
}

// NewLinearModel builds a model from coefficients already in schema order.
func NewLinearModel(intercept float64, weights []float64) *LinearModel {
	w := make([]float64, len(weights))
	copy(w, weights)
	return &LinearModel{intercept: intercept, weights: w}
}

// LoadLinear reads a linear-json model. Coefficients are keyed by column
// name; schema columns without a coefficient weigh zero.
func LoadLinear(path string, schema *features.Schema) (*LinearModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read model: %w", ErrArtifactLoad, err)
	}

	var file linearModelFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: decode model: %w", ErrArtifactLoad, err)
	}
	if len(file.Coefficients) == 0 {
		return nil, fmt.Errorf("%w: model has no coefficients", ErrArtifactLoad)
	}

	weights := make([]float64, schema.Len())
	var unknown []string
	for name, w := range file.Coefficients {
		i, ok := schema.Index(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		weights[i] = w
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: %w: coefficients for unknown columns %v",
			ErrArtifactLoad, features.ErrSchemaMismatch, unknown)
	}

	return &LinearModel{intercept: file.Intercept, weights: weights}, nil
}

// NumFeatures implements Model.
func (m *LinearModel) NumFeatures() int {
	return len(m.weights)
}

// Predict implements Model.
func (m *LinearModel) Predict(x []float64) (float64, error) {
	if len(x) != len(m.weights) {
		return 0, fmt.Errorf("%w: got %d features, model expects %d", ErrInference, len(x), len(m.weights))
	}
	sum := m.intercept
	for i, w := range m.weights {
		sum += w * present(x[i])
	}
	return sum, nil
}

// Explain implements Explainer. Each feature contributes coefficient times
// value; missing (NaN) values contribute zero.
func (m *LinearModel) Explain(x []float64) (Attribution, error) {
	if len(x) != len(m.weights) {
		return Attribution{}, fmt.Errorf("%w: got %d features, model expects %d", ErrInference, len(x), len(m.weights))
	}
	contribs := make([]float64, len(x))
	for i, w := range m.weights {
		contribs[i] = w * present(x[i])
	}
	return Attribution{Contributions: contribs, Bias: m.intercept}, nil
}

// present maps a missing value to zero.
func present(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}
