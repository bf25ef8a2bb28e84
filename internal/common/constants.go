package common

// Environment variable keys
const (
	EnvConfigFile       = "CONFIG_FILE"
	EnvHTTPPort         = "HTTP_PORT"
	EnvMetricsPort      = "METRICS_PORT"
	EnvModelPath        = "MODEL_PATH"
	EnvModelFormat      = "MODEL_FORMAT"
	EnvSchemaPath       = "SCHEMA_PATH"
	EnvMetadataPath     = "METADATA_PATH"
	EnvTargetTransform  = "TARGET_TRANSFORM"
	EnvConfidence       = "CONFIDENCE_POLICY"
	EnvBaseline         = "CONFIDENCE_BASELINE"
	EnvDataPath         = "DATA_PATH"
	EnvReportDir        = "REPORT_DIR"
	EnvTopContributions = "TOP_CONTRIBUTIONS"
	EnvReadTimeout      = "READ_TIMEOUT"
	EnvWriteTimeout     = "WRITE_TIMEOUT"
	EnvMaxBatchRows     = "MAX_BATCH_ROWS"
	EnvDriftBaseline    = "DRIFT_BASELINE"
	EnvLogLevel         = "LOG_LEVEL"
	EnvQuantityMax      = "QUANTITY_MAX"
	EnvMonthMin         = "MONTH_MIN"
	EnvMonthMax         = "MONTH_MAX"
)

// Configuration defaults
const (
	DefaultHTTPPort         = 8501
	DefaultModelPath        = "models/sales_model.json"
	DefaultModelFormat      = "xgboost-json"
	DefaultSchemaPath       = "models/feature_columns.json"
	DefaultTargetTransform  = "none"
	DefaultConfidence       = "attribution"
	DefaultDataPath         = "data"
	DefaultReportDir        = "reports"
	DefaultTopContributions = 5
	DefaultMaxBatchRows     = 100000
	DefaultLogLevel         = "info"
)

// Validation constants
const (
	MinPort             = 1024
	MaxPort             = 65535
	MaxQuantityLimit    = 20
	MinMonth            = 1
	MaxMonth            = 12
	MaxTopContributions = 25
)

// Common error messages
const (
	ErrMsgModelPathRequired  = "model path is required"
	ErrMsgSchemaPathRequired = "schema path is required"
)
