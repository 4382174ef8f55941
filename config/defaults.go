// =============================================================================
// Gateway default configuration
// =============================================================================
package config

import "time"

// DefaultConfig returns the gateway's configuration with every field at its
// documented default (SPEC_FULL §6). Providers is left empty: there's no
// sensible default provider list, the caller must configure at least one.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Router:    DefaultRouterConfig(),
		Health:    DefaultHealthConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default HTTP server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
	}
}

// DefaultRouterConfig returns the Router's documented defaults: cost-optimized
// strategy, 3 retries, 1s base backoff, 30s request timeout, 60s stream
// inactivity timeout, 16-chunk buffer.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Strategy:                  "cost_optimized",
		MaxRetries:                3,
		BaseRetryDelayMs:          1000,
		RequestTimeoutMs:          30000,
		StreamInactivityTimeoutMs: 60000,
		ChunkBufferSize:           16,
	}
}

// DefaultHealthConfig returns the Health Monitor's documented defaults: 60s
// probe interval, 3-strike failure threshold, 0.3 EMA smoothing.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		ProbeIntervalMs:  60000,
		ProbeTimeoutMs:   10000,
		FailureThreshold: 3,
		EMAAlpha:         0.3,
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration
// (disabled by default; the gateway works standalone without a collector).
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "llmgateway",
		SampleRate:   0.1,
	}
}
