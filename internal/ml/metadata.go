package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ModelMetadata describes the training run that produced a model.
type ModelMetadata struct {
	Version         string    `json:"version"`
	TrainedAt       time.Time `json:"trained_at"`
	ModelType       string    `json:"model_type,omitempty"`
	MAE             float64   `json:"mae"`
	R2              float64   `json:"r2"`
	TrainingRows    int       `json:"training_rows"`
	TargetTransform string    `json:"target_transform,omitempty"`
	Features        []string  `json:"features,omitempty"`
}

// HealthStatus summarises the loaded model for liveness checks.
type HealthStatus struct {
	Healthy         bool      `json:"healthy"`
	LastCheck       time.Time `json:"last_check"`
	ModelLoaded     bool      `json:"model_loaded"`
	ModelVersion    string    `json:"model_version"`
	ModelFormat     string    `json:"model_format"`
	Features        int       `json:"features"`
	PredictionCount int64     `json:"prediction_count"`
	FailureCount    int64     `json:"failure_count"`
	ErrorRate       float64   `json:"error_rate"`
	UptimeSeconds   float64   `json:"uptime_seconds"`
}

// loadModelMetadata looks for model_metadata.json next to the model, falling
// back to the newest model_metadata_<timestamp>.json. A missing file is
// reported as fs.ErrNotExist so callers can treat it as optional.
func loadModelMetadata(modelPath string) (*ModelMetadata, error) {
	dir := filepath.Dir(modelPath)
	primary := filepath.Join(dir, "model_metadata.json")

	md, err := decodeMetadata(primary)
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return md, err
	}

	matches, err := filepath.Glob(filepath.Join(dir, "model_metadata_*.json"))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fs.ErrNotExist
	}
	sort.Strings(matches)
	return decodeMetadata(matches[len(matches)-1])
}

// LoadMetadata reads a metadata file from an explicit path.
func LoadMetadata(path string) (*ModelMetadata, error) {
	md, err := decodeMetadata(path)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata: %w", ErrArtifactLoad, err)
	}
	return md, nil
}

func decodeMetadata(path string) (*ModelMetadata, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var md ModelMetadata
	if err := json.NewDecoder(file).Decode(&md); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return &md, nil
}
