package engine

import "github.com/rhuss/dolmetscher/pkg/api"

// Config holds configuration for the core engine.
type Config struct {
	// DefaultModel is used when the request omits the model field.
	// Empty string means a model is always required in the request.
	DefaultModel string

	// Validation bounds request sizes. Zero values fall back to
	// api.DefaultValidationConfig.
	Validation api.ValidationConfig
}

// validation returns the effective validation limits.
func (c Config) validation() api.ValidationConfig {
	v := c.Validation
	d := api.DefaultValidationConfig()
	if v.MaxMessages <= 0 {
		v.MaxMessages = d.MaxMessages
	}
	if v.MaxTools <= 0 {
		v.MaxTools = d.MaxTools
	}
	return v
}
