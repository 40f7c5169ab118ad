// Package config provides configuration loading and validation for the
// songsmith service.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Config represents the service configuration. Values can come from a JSON
// file, the environment, or both; the environment wins.
type Config struct {
	// Server
	Port int `json:"port,omitempty"`

	// Persistence
	DatabaseURL string `json:"database_url,omitempty"`

	// Synthesis endpoints, one per input mode
	GenerateFromDescriptionURL     string `json:"generate_from_description_url,omitempty"`
	GenerateWithLyricsURL          string `json:"generate_with_lyrics_url,omitempty"`
	GenerateWithDescribedLyricsURL string `json:"generate_with_described_lyrics_url,omitempty"`

	// Synthesis service credentials
	ModalKey    string `json:"modal_key,omitempty"`
	ModalSecret string `json:"modal_secret,omitempty"`

	// Object store
	S3EndpointURL     string `json:"s3_endpoint_url,omitempty"`
	S3Region          string `json:"s3_region,omitempty"`
	S3AccessKeyID     string `json:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `json:"s3_secret_access_key,omitempty"`
	S3Bucket          string `json:"s3_bucket,omitempty"`

	// Workers bounds how many generation jobs run at once across all users.
	Workers int `json:"workers,omitempty"`

	// RequestTimeoutSeconds bounds one synthesis call end to end.
	RequestTimeoutSeconds int `json:"request_timeout_seconds,omitempty"`

	// RequestsPerMinute throttles outbound synthesis calls; zero disables.
	RequestsPerMinute int `json:"requests_per_minute,omitempty"`

	// TransactionalCategoryReplace wraps the category delete-then-insert in
	// a transaction. On unless explicitly disabled.
	TransactionalCategoryReplace *bool `json:"transactional_category_replace,omitempty"`
}

// LoadConfig loads configuration from a JSON file.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return &cfg, nil
}

// FromEnv builds a Config from environment variables. godotenv has already
// folded any .env file into the environment by the time this runs.
func FromEnv() *Config {
	cfg := &Config{
		Port:                           envInt("PORT"),
		DatabaseURL:                    os.Getenv("DATABASE_URL"),
		GenerateFromDescriptionURL:     os.Getenv("MODAL_URL_GENERATE_FROM_DESCRIPTION"),
		GenerateWithLyricsURL:          os.Getenv("MODAL_URL_GENERATE_WITH_LYRICS"),
		GenerateWithDescribedLyricsURL: os.Getenv("MODAL_URL_GENERATE_WITH_DESCRIBED_LYRICS"),
		ModalKey:                       os.Getenv("MODAL_KEY"),
		ModalSecret:                    os.Getenv("MODAL_SECRET"),
		S3EndpointURL:                  os.Getenv("S3_ENDPOINT_URL"),
		S3Region:                       os.Getenv("S3_REGION"),
		S3AccessKeyID:                  os.Getenv("S3_AWS_ACCESS_KEY_ID"),
		S3SecretAccessKey:              os.Getenv("S3_AWS_SECRET_ACCESS_KEY"),
		S3Bucket:                       os.Getenv("S3_BUCKET_NAME"),
		Workers:                        envInt("WORKERS"),
		RequestTimeoutSeconds:          envInt("REQUEST_TIMEOUT_SECONDS"),
		RequestsPerMinute:              envInt("REQUESTS_PER_MINUTE"),
	}
	if v := os.Getenv("TRANSACTIONAL_CATEGORY_REPLACE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			cfg.TransactionalCategoryReplace = &b
		}
	}
	return cfg
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// MergeWithDefaults returns a new Config with empty fields filled from
// defaults. Used to apply a config file under environment values.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.Port == 0 {
		result.Port = defaults.Port
	}
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.GenerateFromDescriptionURL == "" {
		result.GenerateFromDescriptionURL = defaults.GenerateFromDescriptionURL
	}
	if result.GenerateWithLyricsURL == "" {
		result.GenerateWithLyricsURL = defaults.GenerateWithLyricsURL
	}
	if result.GenerateWithDescribedLyricsURL == "" {
		result.GenerateWithDescribedLyricsURL = defaults.GenerateWithDescribedLyricsURL
	}
	if result.ModalKey == "" {
		result.ModalKey = defaults.ModalKey
	}
	if result.ModalSecret == "" {
		result.ModalSecret = defaults.ModalSecret
	}
	if result.S3EndpointURL == "" {
		result.S3EndpointURL = defaults.S3EndpointURL
	}
	if result.S3Region == "" {
		result.S3Region = defaults.S3Region
	}
	if result.S3AccessKeyID == "" {
		result.S3AccessKeyID = defaults.S3AccessKeyID
	}
	if result.S3SecretAccessKey == "" {
		result.S3SecretAccessKey = defaults.S3SecretAccessKey
	}
	if result.S3Bucket == "" {
		result.S3Bucket = defaults.S3Bucket
	}
	if result.Workers == 0 {
		result.Workers = defaults.Workers
	}
	if result.RequestTimeoutSeconds == 0 {
		result.RequestTimeoutSeconds = defaults.RequestTimeoutSeconds
	}
	if result.RequestsPerMinute == 0 {
		result.RequestsPerMinute = defaults.RequestsPerMinute
	}
	if result.TransactionalCategoryReplace == nil {
		result.TransactionalCategoryReplace = defaults.TransactionalCategoryReplace
	}

	return result
}

// Validate checks that required settings are present and ranges are sane.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config error: 'database_url' is required")
	}
	if c.GenerateFromDescriptionURL == "" ||
		c.GenerateWithLyricsURL == "" ||
		c.GenerateWithDescribedLyricsURL == "" {
		return fmt.Errorf("config error: all three synthesis endpoint URLs are required")
	}
	if c.ModalKey == "" || c.ModalSecret == "" {
		return fmt.Errorf("config error: 'modal_key' and 'modal_secret' are required")
	}
	if c.Workers < 0 {
		return fmt.Errorf("config error: 'workers' must be non-negative")
	}
	if c.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("config error: 'request_timeout_seconds' must be non-negative")
	}
	return nil
}

// CategoryReplaceTransactional resolves the transactional-replace flag,
// defaulting to on.
func (c *Config) CategoryReplaceTransactional() bool {
	if c.TransactionalCategoryReplace == nil {
		return true
	}
	return *c.TransactionalCategoryReplace
}
