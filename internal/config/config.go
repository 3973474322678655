// Package config defines the configuration structure for the crowdpark
// service. Configuration is loaded once at process start and is immutable
// thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// A missing required value or an invalid format aborts startup.
package config

import (
	"time"

	"crowdpark/internal/types"
)

// SecretString is an alias for types.SecretString.
type SecretString = types.SecretString

// Data source identifiers for DataConfig.Source.
const (
	SourceFiles    = "files"
	SourcePostgres = "postgres"
)

// Model backend identifiers for ModelConfig.Backend.
const (
	BackendXGBoost  = "xgboost"
	BackendLightGBM = "lightgbm"
	BackendRemote   = "remote"
)

// Config is the top-level configuration struct.
// Sub-components receive only the config subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"crowdpark"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Data          DataConfig
	Crowd         CrowdConfig
	Carpark       CarparkConfig
	Fallback      FallbackConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s"`
}

// DataConfig selects where the static carpark datasets are read from.
// Paths may be local files or s3://bucket/key URIs; a ".zst" suffix marks
// zstd-compressed objects.
type DataConfig struct {
	Source              string `envconfig:"DATA_SOURCE" default:"files" validate:"oneof=files postgres"`
	CarparkHistoryPath  string `envconfig:"CARPARK_HISTORY_PATH" default:"models/carpark_datasets/filtered_processed_carpark_availability.csv"`
	CarparkLocationPath string `envconfig:"CARPARK_LOCATION_PATH" default:"models/carpark_datasets/filtered_HDB_Carpark_Information.csv"`
}

// ModelConfig describes how one pre-trained model is reached.
type ModelConfig struct {
	Backend string        `validate:"oneof=xgboost lightgbm remote"`
	Path    string        `validate:"required_unless=Backend remote"`
	URL     string        `validate:"required_if=Backend remote"`
	Timeout time.Duration `validate:"gt=0"`
}

// CrowdConfig holds the station crowd classifier inputs.
type CrowdConfig struct {
	TrainingDataPath string        `envconfig:"CROWD_TRAINING_DATA" default:"models/MRT_crowd_datasets/updated_crowd_data.csv" validate:"required"`
	ModelBackend     string        `envconfig:"CROWD_MODEL_BACKEND" default:"xgboost"`
	ModelPath        string        `envconfig:"CROWD_MODEL_PATH" default:"models/crowd_model_randomsearch_prob.json"`
	ModelURL         string        `envconfig:"CROWD_MODEL_URL"`
	ModelTimeout     time.Duration `envconfig:"CROWD_MODEL_TIMEOUT" default:"5s"`
}

// Model returns the classifier model settings.
func (c CrowdConfig) Model() ModelConfig {
	return ModelConfig{Backend: c.ModelBackend, Path: c.ModelPath, URL: c.ModelURL, Timeout: c.ModelTimeout}
}

// CarparkConfig holds the carpark availability regressor inputs.
type CarparkConfig struct {
	ModelBackend string        `envconfig:"CARPARK_MODEL_BACKEND" default:"lightgbm"`
	ModelPath    string        `envconfig:"CARPARK_MODEL_PATH" default:"models/model_carpark.txt"`
	ModelURL     string        `envconfig:"CARPARK_MODEL_URL"`
	ModelTimeout time.Duration `envconfig:"CARPARK_MODEL_TIMEOUT" default:"5s"`
}

// Model returns the regressor model settings.
func (c CarparkConfig) Model() ModelConfig {
	return ModelConfig{Backend: c.ModelBackend, Path: c.ModelPath, URL: c.ModelURL, Timeout: c.ModelTimeout}
}

// FallbackConfig tunes the nearby-carpark recommendation.
type FallbackConfig struct {
	TriggerBelow    int `envconfig:"FALLBACK_TRIGGER_BELOW" default:"20" validate:"gt=0"`
	Neighbors       int `envconfig:"FALLBACK_NEIGHBORS" default:"10" validate:"gt=1"`
	MinAvailable    int `envconfig:"FALLBACK_MIN_AVAILABLE" default:"30" validate:"gte=0"`
	MaxAlternatives int `envconfig:"FALLBACK_MAX_ALTERNATIVES" default:"2" validate:"gt=0"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
// Only used when DataConfig.Source is "postgres".
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"4"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"0"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	LoadTimeout     time.Duration `envconfig:"DB_LOAD_TIMEOUT" default:"60s"`
}

// AWSConfig holds AWS regional configuration and optional resource identifiers.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"ap-southeast-1"`

	// Optional; alerts are not published when empty.
	LowAvailabilityQueue string `envconfig:"SQS_LOW_AVAILABILITY_URL" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL" validate:"omitempty,url"`
}

// SecurityConfig holds optional API key protection and CORS settings.
type SecurityConfig struct {
	// APIKeyHash is a bcrypt hash of the shared API key. When empty the
	// prediction endpoints are public.
	APIKeyHash         SecretString `envconfig:"API_KEY_HASH"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string        `envconfig:"METRIC_NAMESPACE" default:"CrowdPark"`
	EnableMetrics   bool          `envconfig:"ENABLE_METRICS" default:"false"`
	FlushInterval   time.Duration `envconfig:"METRIC_FLUSH_INTERVAL" default:"30s"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
