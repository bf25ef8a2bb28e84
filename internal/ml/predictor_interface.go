// Package ml turns aligned feature vectors into sales estimates.
// It evaluates trained regression artifacts, explains individual predictions
// with per-feature contributions, and derives a bounded confidence score.
//
// Artifacts are loaded once into an immutable Predictor that is safe to share
// between request handlers.
package ml

import "errors"

var (
	// ErrArtifactLoad means a model, schema or metadata artifact is unreadable or corrupt.
	ErrArtifactLoad = errors.New("artifact load failed")

	// ErrInference means the model or explainer failed on an aligned vector.
	ErrInference = errors.New("inference failed")
)

// InferenceHint is shown to users next to an inference failure.
const InferenceHint = "This usually means input format doesn't match what the model was trained on."

// Model evaluates an aligned feature vector on the model's native scale.
type Model interface {
	// Predict returns the raw model output for x.
	// x must have exactly NumFeatures values in schema order.
	Predict(x []float64) (float64, error)

	// NumFeatures returns the input width the model was trained on.
	NumFeatures() int
}

// Explainer attributes a prediction to the individual input features.
type Explainer interface {
	// Explain returns one contribution per feature plus the bias so that
	// Bias + sum(Contributions) equals the native prediction for x.
	Explain(x []float64) (Attribution, error)
}

// Attribution is a per-feature decomposition of one prediction.
type Attribution struct {
	Contributions []float64
	Bias          float64
}

// Sum returns the native prediction the attribution accounts for.
func (a Attribution) Sum() float64 {
	total := a.Bias
	for _, c := range a.Contributions {
		total += c
	}
	return total
}
