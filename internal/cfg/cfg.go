package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"supermarket-sales/internal/common"
	"supermarket-sales/internal/features"
	"supermarket-sales/internal/ml"
)

type Settings struct {
	HTTPPort         int
	MetricsPort      int
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	ModelPath        string
	ModelFormat      string
	SchemaPath       string
	MetadataPath     string
	Transform        ml.TargetTransform
	Policy           ml.ConfidencePolicy
	Baseline         *float64
	TopContributions int
	DataPath         string
	ReportDir        string
	MaxBatchRows     int
	DriftBaseline    string
	LogLevel         string
	Bounds           features.Bounds
}

type ConfigFile struct {
	Server struct {
		Port         int    `yaml:"port"`
		MetricsPort  int    `yaml:"metricsPort"`
		ReadTimeout  string `yaml:"readTimeout"`
		WriteTimeout string `yaml:"writeTimeout"`
	} `yaml:"server"`

	Model struct {
		Path             string   `yaml:"path"`
		Format           string   `yaml:"format"`
		SchemaPath       string   `yaml:"schemaPath"`
		MetadataPath     string   `yaml:"metadataPath"`
		TargetTransform  string   `yaml:"targetTransform"`
		ConfidencePolicy string   `yaml:"confidencePolicy"`
		Baseline         *float64 `yaml:"baseline"`
		TopContributions int      `yaml:"topContributions"`
	} `yaml:"model"`

	Storage struct {
		DataPath  string `yaml:"dataPath"`
		ReportDir string `yaml:"reportDir"`
	} `yaml:"storage"`

	Batch struct {
		MaxRows int `yaml:"maxRows"`
	} `yaml:"batch"`

	Drift struct {
		Baseline string `yaml:"baseline"`
	} `yaml:"drift"`

	Input features.Bounds `yaml:"input"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func Load() (Settings, error) {
	// A .env file is optional.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Settings{}, fmt.Errorf("failed to load .env: %w", err)
	}

	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	// Bounds left out of the file keep their defaults.
	config.Input = features.DefaultBounds()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	readTimeout, err := time.ParseDuration(config.Server.ReadTimeout)
	if err != nil {
		readTimeout = 15 * time.Second
	}
	writeTimeout, err := time.ParseDuration(config.Server.WriteTimeout)
	if err != nil {
		writeTimeout = 60 * time.Second
	}

	baseline := config.Model.Baseline
	if b, ok := getOptionalFloat(common.EnvBaseline); ok {
		baseline = &b
	}

	raw := rawSettings{
		HTTPPort:         getIntFromEnvOrConfig(common.EnvHTTPPort, config.Server.Port, common.DefaultHTTPPort),
		MetricsPort:      getIntFromEnvOrConfig(common.EnvMetricsPort, config.Server.MetricsPort, 0),
		ReadTimeout:      getDurationOrDefault(common.EnvReadTimeout, readTimeout),
		WriteTimeout:     getDurationOrDefault(common.EnvWriteTimeout, writeTimeout),
		ModelPath:        getEnvOrDefault(common.EnvModelPath, orDefault(config.Model.Path, common.DefaultModelPath)),
		ModelFormat:      getEnvOrDefault(common.EnvModelFormat, orDefault(config.Model.Format, common.DefaultModelFormat)),
		SchemaPath:       getEnvOrDefault(common.EnvSchemaPath, orDefault(config.Model.SchemaPath, common.DefaultSchemaPath)),
		MetadataPath:     getEnvOrDefault(common.EnvMetadataPath, config.Model.MetadataPath),
		Transform:        getEnvOrDefault(common.EnvTargetTransform, orDefault(config.Model.TargetTransform, common.DefaultTargetTransform)),
		Policy:           getEnvOrDefault(common.EnvConfidence, orDefault(config.Model.ConfidencePolicy, common.DefaultConfidence)),
		Baseline:         baseline,
		TopContributions: getIntFromEnvOrConfig(common.EnvTopContributions, config.Model.TopContributions, common.DefaultTopContributions),
		DataPath:         getEnvOrDefault(common.EnvDataPath, orDefault(config.Storage.DataPath, common.DefaultDataPath)),
		ReportDir:        getEnvOrDefault(common.EnvReportDir, orDefault(config.Storage.ReportDir, common.DefaultReportDir)),
		MaxBatchRows:     getIntFromEnvOrConfig(common.EnvMaxBatchRows, config.Batch.MaxRows, common.DefaultMaxBatchRows),
		DriftBaseline:    getEnvOrDefault(common.EnvDriftBaseline, config.Drift.Baseline),
		LogLevel:         getEnvOrDefault(common.EnvLogLevel, orDefault(config.Log.Level, common.DefaultLogLevel)),
		Bounds:           applyBoundsEnv(config.Input),
	}

	settings, err := raw.build()
	if err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func loadFromEnv() (Settings, error) {
	raw := rawSettings{
		HTTPPort:         getIntOrDefault(common.EnvHTTPPort, common.DefaultHTTPPort),
		MetricsPort:      getIntOrDefault(common.EnvMetricsPort, 0), // 0 serves /metrics on the HTTP port
		ReadTimeout:      getDurationOrDefault(common.EnvReadTimeout, 15*time.Second),
		WriteTimeout:     getDurationOrDefault(common.EnvWriteTimeout, 60*time.Second),
		ModelPath:        getEnvOrDefault(common.EnvModelPath, common.DefaultModelPath),
		ModelFormat:      getEnvOrDefault(common.EnvModelFormat, common.DefaultModelFormat),
		SchemaPath:       getEnvOrDefault(common.EnvSchemaPath, common.DefaultSchemaPath),
		MetadataPath:     os.Getenv(common.EnvMetadataPath), // optional
		Transform:        getEnvOrDefault(common.EnvTargetTransform, common.DefaultTargetTransform),
		Policy:           getEnvOrDefault(common.EnvConfidence, common.DefaultConfidence),
		TopContributions: getIntOrDefault(common.EnvTopContributions, common.DefaultTopContributions),
		DataPath:         getEnvOrDefault(common.EnvDataPath, common.DefaultDataPath),
		ReportDir:        getEnvOrDefault(common.EnvReportDir, common.DefaultReportDir),
		MaxBatchRows:     getIntOrDefault(common.EnvMaxBatchRows, common.DefaultMaxBatchRows),
		DriftBaseline:    os.Getenv(common.EnvDriftBaseline), // optional
		LogLevel:         getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		Bounds:           applyBoundsEnv(features.DefaultBounds()),
	}
	if b, ok := getOptionalFloat(common.EnvBaseline); ok {
		raw.Baseline = &b
	}

	settings, err := raw.build()
	if err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

// rawSettings holds the values before the enum fields are parsed.
type rawSettings struct {
	HTTPPort         int
	MetricsPort      int
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	ModelPath        string
	ModelFormat      string
	SchemaPath       string
	MetadataPath     string
	Transform        string
	Policy           string
	Baseline         *float64
	TopContributions int
	DataPath         string
	ReportDir        string
	MaxBatchRows     int
	DriftBaseline    string
	LogLevel         string
	Bounds           features.Bounds
}

func (r rawSettings) build() (Settings, error) {
	transform, err := ml.ParseTargetTransform(r.Transform)
	if err != nil {
		return Settings{}, err
	}
	policy, err := ml.ParseConfidencePolicy(r.Policy)
	if err != nil {
		return Settings{}, err
	}

	settings := Settings{
		HTTPPort:         r.HTTPPort,
		MetricsPort:      r.MetricsPort,
		ReadTimeout:      r.ReadTimeout,
		WriteTimeout:     r.WriteTimeout,
		ModelPath:        r.ModelPath,
		ModelFormat:      r.ModelFormat,
		SchemaPath:       r.SchemaPath,
		MetadataPath:     r.MetadataPath,
		Transform:        transform,
		Policy:           policy,
		Baseline:         r.Baseline,
		TopContributions: r.TopContributions,
		DataPath:         r.DataPath,
		ReportDir:        r.ReportDir,
		MaxBatchRows:     r.MaxBatchRows,
		DriftBaseline:    r.DriftBaseline,
		LogLevel:         r.LogLevel,
		Bounds:           r.Bounds,
	}
	if err := validateSettings(&settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// PredictorConfig returns the artifact configuration for ml.Load.
func (s *Settings) PredictorConfig() ml.Config {
	return ml.Config{
		ModelPath:    s.ModelPath,
		ModelFormat:  s.ModelFormat,
		SchemaPath:   s.SchemaPath,
		MetadataPath: s.MetadataPath,
		Transform:    s.Transform,
		Policy:       s.Policy,
		Baseline:     s.Baseline,
	}
}

func applyBoundsEnv(b features.Bounds) features.Bounds {
	b.Quantity.Max = getFloatOrDefault(common.EnvQuantityMax, b.Quantity.Max)
	b.Month.Min = getFloatOrDefault(common.EnvMonthMin, b.Month.Min)
	b.Month.Max = getFloatOrDefault(common.EnvMonthMax, b.Month.Max)
	for _, r := range []*features.Range{&b.Quantity, &b.Month} {
		if r.Default < r.Min {
			r.Default = r.Min
		}
		if r.Default > r.Max {
			r.Default = r.Max
		}
	}
	return b
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getOptionalFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

// validateSettings performs validation of configuration values
func validateSettings(settings *Settings) error {
	if settings.ModelPath == "" {
		return errors.New(common.ErrMsgModelPathRequired)
	}
	if settings.SchemaPath == "" {
		return errors.New(common.ErrMsgSchemaPathRequired)
	}

	switch settings.ModelFormat {
	case ml.FormatXGBoostJSON, ml.FormatLinearJSON:
	default:
		return fmt.Errorf("model format must be %s or %s, got %q",
			ml.FormatXGBoostJSON, ml.FormatLinearJSON, settings.ModelFormat)
	}

	if settings.HTTPPort < common.MinPort || settings.HTTPPort > common.MaxPort {
		return fmt.Errorf("HTTP port must be between %d and %d, got %d",
			common.MinPort, common.MaxPort, settings.HTTPPort)
	}
	if settings.MetricsPort != 0 {
		if settings.MetricsPort < common.MinPort || settings.MetricsPort > common.MaxPort {
			return fmt.Errorf("metrics port must be between %d and %d, got %d",
				common.MinPort, common.MaxPort, settings.MetricsPort)
		}
		if settings.MetricsPort == settings.HTTPPort {
			return fmt.Errorf("metrics port %d collides with HTTP port", settings.MetricsPort)
		}
	}

	if settings.ReadTimeout < time.Second || settings.ReadTimeout > 5*time.Minute {
		return fmt.Errorf("read timeout must be between 1s and 5m, got %v", settings.ReadTimeout)
	}
	if settings.WriteTimeout < time.Second || settings.WriteTimeout > 10*time.Minute {
		return fmt.Errorf("write timeout must be between 1s and 10m, got %v", settings.WriteTimeout)
	}

	if settings.TopContributions < 1 || settings.TopContributions > common.MaxTopContributions {
		return fmt.Errorf("top contributions must be between 1 and %d, got %d",
			common.MaxTopContributions, settings.TopContributions)
	}
	if settings.MaxBatchRows <= 0 {
		return fmt.Errorf("max batch rows must be positive, got %d", settings.MaxBatchRows)
	}

	return validateBounds(settings.Bounds)
}

func validateBounds(b features.Bounds) error {
	for _, col := range features.NumericColumns() {
		r, _ := b.For(col)
		if r.Min > r.Max {
			return fmt.Errorf("input %s: min %g exceeds max %g", col, r.Min, r.Max)
		}
		if !r.Contains(r.Default) {
			return fmt.Errorf("input %s: default %g outside [%g, %g]", col, r.Default, r.Min, r.Max)
		}
		if r.Step < 0 {
			return fmt.Errorf("input %s: step must not be negative, got %g", col, r.Step)
		}
	}

	if b.Quantity.Min < 1 || b.Quantity.Max > common.MaxQuantityLimit {
		return fmt.Errorf("quantity bounds must lie within [1, %d], got [%g, %g]",
			common.MaxQuantityLimit, b.Quantity.Min, b.Quantity.Max)
	}
	if b.Month.Min < common.MinMonth || b.Month.Max > common.MaxMonth {
		return fmt.Errorf("month bounds must lie within [%d, %d], got [%g, %g]",
			common.MinMonth, common.MaxMonth, b.Month.Min, b.Month.Max)
	}
	if b.Hour.Min < 0 || b.Hour.Max > 23 {
		return fmt.Errorf("hour bounds must lie within [0, 23], got [%g, %g]", b.Hour.Min, b.Hour.Max)
	}
	if b.DayOfWeek.Min < 0 || b.DayOfWeek.Max > 6 {
		return fmt.Errorf("day-of-week bounds must lie within [0, 6], got [%g, %g]", b.DayOfWeek.Min, b.DayOfWeek.Max)
	}
	return nil
}
