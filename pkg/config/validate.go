package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for required fields and valid values.
// All problems are reported together, each with its field path.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.MaxBodySize <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_size must be > 0, got %d", c.Server.MaxBodySize))
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must not be negative"))
	}

	if c.Upstream.BaseURL == "" {
		errs = append(errs, fmt.Errorf("upstream.base_url is required"))
	} else if u, err := url.Parse(c.Upstream.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("upstream.base_url must be an absolute http(s) URL, got %q", c.Upstream.BaseURL))
	}
	if c.Upstream.DefaultMaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("upstream.default_max_tokens must be > 0, got %d", c.Upstream.DefaultMaxTokens))
	}
	if c.Upstream.Timeout < 0 {
		errs = append(errs, fmt.Errorf("upstream.timeout must not be negative"))
	}
	for alias, target := range c.Upstream.ModelAliases {
		if target == "" {
			errs = append(errs, fmt.Errorf("upstream.model_aliases[%s] must name a model", alias))
		}
	}

	if c.Images.MaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("images.max_bytes must be > 0, got %d", c.Images.MaxBytes))
	}

	if c.CORS.Enabled && len(c.CORS.AllowedOrigins) == 0 {
		errs = append(errs, fmt.Errorf("cors.allowed_origins must not be empty when cors is enabled"))
	}

	if c.OpenAPI.Enabled && !strings.HasPrefix(c.OpenAPI.Path, "/") {
		errs = append(errs, fmt.Errorf("openapi.path must start with \"/\", got %q", c.OpenAPI.Path))
	}
	if c.Observability.Metrics.Enabled && !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("observability.metrics.path must start with \"/\", got %q", c.Observability.Metrics.Path))
	}
	if c.OpenAPI.Enabled && c.Observability.Metrics.Enabled && c.OpenAPI.Path == c.Observability.Metrics.Path {
		errs = append(errs, fmt.Errorf("openapi.path and observability.metrics.path must differ"))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
		// valid
	default:
		errs = append(errs, fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
