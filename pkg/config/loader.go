package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rhuss/dolmetscher/pkg/debug"
)

// EnvConfig names the environment variable holding the config file path.
const EnvConfig = "DOLMETSCHER_CONFIG"

// dotEnvFile is loaded from the working directory when present. Variables
// already set in the environment are not overwritten.
var dotEnvFile = ".env"

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, DOLMETSCHER_CONFIG env, ./config.yaml, /etc/dolmetscher/config.yaml)
//  3. .env file
//  4. Environment variable overrides
//  5. File reference resolution (_file suffix)
//  6. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
		debug.Log("config", "loaded config file", "path", filePath)
	}

	if err := loadDotEnv(dotEnvFile); err != nil {
		return nil, fmt.Errorf("loading %s: %w", dotEnvFile, err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. DOLMETSCHER_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/dolmetscher/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv(EnvConfig); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"/etc/dolmetscher/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// loadDotEnv exports the variables of path into the process environment.
// A missing file is not an error.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	debug.Log("config", "loading dotenv file", "path", path)
	return godotenv.Load(path)
}

// applyEnvOverrides maps DOLMETSCHER_* environment variables to config
// fields. ANTHROPIC_API_KEY and ANTHROPIC_BASE_URL are honored as fallbacks
// so an existing Anthropic SDK environment works unchanged.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DOLMETSCHER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DOLMETSCHER_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("DOLMETSCHER_SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("DOLMETSCHER_SHUTDOWN_TIMEOUT: %w", err)
		}
		cfg.Server.ShutdownTimeout = d
	}

	if v := firstEnv("DOLMETSCHER_UPSTREAM_URL", "ANTHROPIC_BASE_URL"); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := firstEnv("DOLMETSCHER_API_KEY", "ANTHROPIC_API_KEY"); v != "" {
		cfg.Upstream.APIKey = v
	}
	if v := os.Getenv("DOLMETSCHER_API_KEY_FILE"); v != "" {
		cfg.Upstream.APIKeyFile = v
	}
	if v := os.Getenv("DOLMETSCHER_ANTHROPIC_VERSION"); v != "" {
		cfg.Upstream.AnthropicVersion = v
	}
	if v := os.Getenv("DOLMETSCHER_ANTHROPIC_BETA"); v != "" {
		cfg.Upstream.Beta = v
	}
	if v := os.Getenv("DOLMETSCHER_MODEL"); v != "" {
		cfg.Upstream.DefaultModel = v
	}
	if v := os.Getenv("DOLMETSCHER_MAX_TOKENS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DOLMETSCHER_MAX_TOKENS: %w", err)
		}
		cfg.Upstream.DefaultMaxTokens = n
	}

	// DOLMETSCHER_MODEL_ALIASES: JSON object of alias to upstream model.
	if v := os.Getenv("DOLMETSCHER_MODEL_ALIASES"); v != "" {
		aliases, err := parseAliasesJSON(v)
		if err != nil {
			return err
		}
		cfg.Upstream.ModelAliases = aliases
	}

	if v := os.Getenv("DOLMETSCHER_FETCH_IMAGES"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DOLMETSCHER_FETCH_IMAGES: %w", err)
		}
		cfg.Images.FetchRemote = b
	}

	if v := os.Getenv("DOLMETSCHER_CORS_ORIGINS"); v != "" {
		cfg.CORS.AllowedOrigins = splitList(v)
	}

	if v := os.Getenv(debug.EnvLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(debug.EnvCategories); v != "" {
		cfg.Logging.Debug = v
	}
	if v := os.Getenv(debug.EnvFormat); v != "" {
		cfg.Logging.Format = v
	}
	return nil
}

// parseAliasesJSON parses a JSON object mapping aliases to model names.
func parseAliasesJSON(jsonStr string) (map[string]string, error) {
	var aliases map[string]string
	if err := json.Unmarshal([]byte(jsonStr), &aliases); err != nil {
		return nil, fmt.Errorf("parsing model aliases JSON: %w", err)
	}
	return aliases, nil
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	if cfg.Upstream.APIKeyFile != "" && cfg.Upstream.APIKey == "" {
		val, err := readSecretFile(cfg.Upstream.APIKeyFile)
		if err != nil {
			return fmt.Errorf("upstream.api_key_file: %w", err)
		}
		cfg.Upstream.APIKey = val
	}
	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
