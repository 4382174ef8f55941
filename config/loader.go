// =============================================================================
// Gateway configuration loader
// =============================================================================
// Unified configuration loading: YAML file + environment variable overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("LLMGATEWAY").
//	    Load()
//
// Precedence: defaults -> YAML file -> environment variables
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the gateway's complete configuration, matching SPEC_FULL §10.3:
// Server, Providers, Router, Health, Log, Telemetry.
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Providers []ProviderEntry `yaml:"providers"`
	Router    RouterConfig    `yaml:"router" env:"ROUTER"`
	Health    HealthConfig    `yaml:"health" env:"HEALTH"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig configures the HTTP listener and its ambient middleware
// stack (CORS, API key auth, per-IP rate limiting).
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	APIKeys            []string `yaml:"api_keys"`
	AllowQueryAPIKey   bool     `yaml:"allow_query_api_key" env:"ALLOW_QUERY_API_KEY"`
	RateLimitRPS       float64  `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst     int      `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// ProviderEntry is one provider descriptor from SPEC_FULL §6: name, kind,
// base URL, API key, declared models, priority, and optional per-provider
// rate/concurrency hints. Loaded only from YAML — a provider list has no
// sensible flat environment-variable representation.
type ProviderEntry struct {
	Name                 string        `yaml:"name"`
	Kind                 string        `yaml:"kind"` // openai, anthropic, google, ollama, openai-compatible
	BaseURL              string        `yaml:"base_url"`
	APIKey               string        `yaml:"api_key"`
	Model                string        `yaml:"model"`
	Models               []string      `yaml:"models"`
	Priority             int           `yaml:"priority"`
	Timeout              time.Duration `yaml:"timeout"`
	RateLimitRPS         float64       `yaml:"rate_limit_rps"`
	RateLimitBurst       int           `yaml:"rate_limit_burst"`
	MaxConcurrentStreams int           `yaml:"max_concurrent_streams"`
}

// RouterConfig tunes the Router's strategy and retry/timeout behavior,
// matching SPEC_FULL §6's configuration table.
type RouterConfig struct {
	Strategy                  string `yaml:"routing_strategy" env:"ROUTING_STRATEGY"`
	DefaultProvider           string `yaml:"default_provider" env:"DEFAULT_PROVIDER"`
	MaxRetries                int    `yaml:"max_retries" env:"MAX_RETRIES"`
	BaseRetryDelayMs          int    `yaml:"base_retry_delay_ms" env:"BASE_RETRY_DELAY_MS"`
	RequestTimeoutMs          int    `yaml:"request_timeout_ms" env:"REQUEST_TIMEOUT_MS"`
	StreamInactivityTimeoutMs int    `yaml:"stream_inactivity_timeout_ms" env:"STREAM_INACTIVITY_TIMEOUT_MS"`
	ChunkBufferSize           int    `yaml:"chunk_buffer_size" env:"CHUNK_BUFFER_SIZE"`
}

// HealthConfig tunes the Health Monitor's probe cadence and thresholds.
type HealthConfig struct {
	ProbeIntervalMs  int     `yaml:"probe_interval_ms" env:"PROBE_INTERVAL_MS"`
	ProbeTimeoutMs   int     `yaml:"probe_timeout_ms" env:"PROBE_TIMEOUT_MS"`
	FailureThreshold int     `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	EMAAlpha         float64 `yaml:"ema_alpha" env:"EMA_ALPHA"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures optional OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader builds a Config from defaults, an optional YAML file, and
// environment variable overrides, in that precedence order.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a Loader with the gateway's default env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "LLMGATEWAY",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file to load.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a validation pass run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load builds the Config: defaults, then YAML file, then environment.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv recursively applies environment overrides to a struct's
// fields by their env tag. Slices of structs (the Providers list) are left
// to YAML — there's no sensible flat env representation for a provider
// table.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads config from path, panicking on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads config from environment variables only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks the loaded configuration for obvious misconfiguration.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if len(c.Providers) == 0 {
		errs = append(errs, "at least one provider must be configured")
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			errs = append(errs, "provider entry missing name")
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Sprintf("duplicate provider name %q", p.Name))
		}
		seen[p.Name] = true
	}
	if c.Router.DefaultProvider != "" && !seen[c.Router.DefaultProvider] {
		errs = append(errs, fmt.Sprintf("default_provider %q not present in providers list", c.Router.DefaultProvider))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
