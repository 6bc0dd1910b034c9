// Package config provides unified configuration for the dolmetscher gateway.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. .env file in the working directory
//  4. Environment variable overrides (DOLMETSCHER_ prefix)
//  5. File reference resolution (_file suffix fields)
//  6. Validation
package config

import "time"

// Config holds all configuration for the dolmetscher gateway.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Upstream      UpstreamConfig      `yaml:"upstream"`
	Images        ImagesConfig        `yaml:"images"`
	CORS          CORSConfig          `yaml:"cors"`
	OpenAPI       OpenAPIConfig       `yaml:"openapi"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // default: 10m, bounds whole streams
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
	MaxBodySize     int64         `yaml:"max_body_size"`    // default: 10 MiB
}

// UpstreamConfig holds the Messages API connection settings.
type UpstreamConfig struct {
	BaseURL          string            `yaml:"base_url"`           // default: https://api.anthropic.com/v1
	APIKey           string            `yaml:"api_key"`            // fallback when the request has no credential
	APIKeyFile       string            `yaml:"api_key_file"`       // _file variant for api_key
	AnthropicVersion string            `yaml:"anthropic_version"`  // default: 2023-06-01
	Beta             string            `yaml:"beta"`               // anthropic-beta header
	Timeout          time.Duration     `yaml:"timeout"`            // non-streaming calls, default: 120s
	DefaultModel     string            `yaml:"default_model"`      // used when a request names no model
	DefaultMaxTokens int               `yaml:"default_max_tokens"` // default: 4096
	ModelAliases     map[string]string `yaml:"model_aliases"`
}

// ImagesConfig controls how image_url parts are resolved.
type ImagesConfig struct {
	FetchRemote bool          `yaml:"fetch_remote"` // default: false
	MaxBytes    int64         `yaml:"max_bytes"`    // default: 5 MiB
	Timeout     time.Duration `yaml:"timeout"`      // default: 10s
}

// CORSConfig holds cross-origin settings.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"` // default: true
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// OpenAPIConfig controls the generated OpenAPI document.
type OpenAPIConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/openapi.json"
	Title   string `yaml:"title"`
}

// LoggingConfig holds log output settings. DOLMETSCHER_DEBUG,
// DOLMETSCHER_LOG_LEVEL and DOLMETSCHER_LOG_FORMAT take precedence.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // ERROR, WARN, INFO, DEBUG, TRACE; default: INFO
	Debug  string `yaml:"debug"`  // comma-separated debug categories
	Format string `yaml:"format"` // "text" or "json", default: "text"
}

// ObservabilityConfig holds monitoring and instrumentation settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    10 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			MaxBodySize:     10 << 20,
		},
		Upstream: UpstreamConfig{
			BaseURL:          "https://api.anthropic.com/v1",
			AnthropicVersion: "2023-06-01",
			Timeout:          120 * time.Second,
			DefaultMaxTokens: 4096,
		},
		Images: ImagesConfig{
			MaxBytes: 5 << 20,
			Timeout:  10 * time.Second,
		},
		CORS: CORSConfig{
			Enabled:        true,
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		},
		OpenAPI: OpenAPIConfig{
			Enabled: true,
			Path:    "/openapi.json",
			Title:   "dolmetscher",
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Redacted returns a copy with secrets masked, for display.
func (c Config) Redacted() Config {
	out := c
	if out.Upstream.APIKey != "" {
		out.Upstream.APIKey = "REDACTED"
	}
	if len(c.Upstream.ModelAliases) > 0 {
		out.Upstream.ModelAliases = make(map[string]string, len(c.Upstream.ModelAliases))
		for k, v := range c.Upstream.ModelAliases {
			out.Upstream.ModelAliases[k] = v
		}
	}
	return out
}
