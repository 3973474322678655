// loader.go resolves configuration in a fixed order:
//  1. Force the process timezone to UTC.
//  2. Load .env via godotenv (absent file is fine).
//  3. Outside APP_ENV=local, resolve *_SSM_PARAM pointers through a
//     SecretProvider and export the results.
//  4. Populate Config with envconfig.
//  5. Attach linker-injected BuildInfo.
//  6. Validate struct tags, then cross-field rules.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is the diagnostic error returned by LoadConfig.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ssmParamSuffix marks pointer variables: API_KEY_HASH_SSM_PARAM holds the
// parameter path whose value becomes API_KEY_HASH.
const ssmParamSuffix = "_SSM_PARAM"

const localEnv = "local"

// loaderDeps holds the environment accessors so tests can run without
// touching the real process environment.
type loaderDeps struct {
	lookupEnv func(key string) (string, bool)
	setEnv    func(key, value string) error
	environ   func() []string
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		environ:   os.Environ,
	}
}

// LoadConfig loads and validates the service configuration.
//
// provider may be nil for local development. Outside local mode a nil
// provider is only acceptable when no *_SSM_PARAM variables are present.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	time.Local = time.UTC

	// Does not override variables already present in the environment.
	_ = godotenv.Load()

	appEnv, _ := deps.lookupEnv("APP_ENV")
	if appEnv != localEnv {
		if err := resolveSSMParams(provider, deps); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs struct-tag validation plus the rules that span sections.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	models := map[string]ModelConfig{
		"crowd":   cfg.Crowd.Model(),
		"carpark": cfg.Carpark.Model(),
	}
	for name, m := range models {
		if err := validate.Struct(m); err != nil {
			return &ConfigError{
				Type:    ErrValidation,
				Message: fmt.Sprintf("invalid %s model configuration", name),
				Err:     err,
			}
		}
	}

	if cfg.Data.Source == SourcePostgres && !cfg.Database.URL.IsSet() {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "DATABASE_URL is required when DATA_SOURCE=postgres",
		}
	}
	if cfg.Data.Source == SourceFiles &&
		(cfg.Data.CarparkHistoryPath == "" || cfg.Data.CarparkLocationPath == "") {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "CARPARK_HISTORY_PATH and CARPARK_LOCATION_PATH are required when DATA_SOURCE=files",
		}
	}
	if cfg.Fallback.MaxAlternatives >= cfg.Fallback.Neighbors {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "FALLBACK_MAX_ALTERNATIVES must be smaller than FALLBACK_NEIGHBORS",
		}
	}
	return nil
}

// ResolveSecrets runs only the SSM step. It is a no-op in local mode.
func ResolveSecrets(provider SecretProvider) error {
	appEnv, _ := os.LookupEnv("APP_ENV")
	if appEnv == localEnv {
		return nil
	}
	return resolveSSMParams(provider, defaultDeps())
}

// resolveSSMParams fetches every *_SSM_PARAM pointer in one batch and exports
// the values under the stripped name. Targets already set in the environment
// are left alone.
func resolveSSMParams(provider SecretProvider, deps loaderDeps) error {
	pathToTarget := make(map[string]string)
	var paths, targets []string

	for _, entry := range deps.environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasSuffix(key, ssmParamSuffix) || value == "" {
			continue
		}
		target := strings.TrimSuffix(key, ssmParamSuffix)
		if _, exists := deps.lookupEnv(target); exists {
			continue
		}
		pathToTarget[value] = target
		paths = append(paths, value)
		targets = append(targets, target)
	}

	if len(paths) == 0 {
		return nil
	}

	if provider == nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SecretProvider is required for non-local environments (need to resolve: %s)", strings.Join(targets, ", ")),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %d SSM parameters", len(paths)),
			Err:     err,
		}
	}

	var missing []string
	for _, path := range paths {
		value, ok := resolved[path]
		if !ok {
			missing = append(missing, pathToTarget[path])
			continue
		}
		if err := deps.setEnv(pathToTarget[path], value); err != nil {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: fmt.Sprintf("failed to set resolved value for %s", pathToTarget[path]),
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("SSM parameters not found for: %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}
