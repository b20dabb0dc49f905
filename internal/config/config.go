package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the reconciliation service.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Matching MatchingConfig `yaml:"matching"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port        int    `yaml:"port"`
	Environment string `yaml:"environment"`
}

// StorageConfig holds the embedded database location.
type StorageConfig struct {
	DataPath string `yaml:"data_path"`
}

// MatchingConfig holds batch behaviour and the defaults seeded as the
// initial active match config on first start.
type MatchingConfig struct {
	GraceDays   int  `yaml:"grace_days"`
	Materialize bool `yaml:"materialize"`
	Workers     int  `yaml:"workers"`

	DefaultDateWeight               float64 `yaml:"default_date_weight"`
	DefaultValueWeight              float64 `yaml:"default_value_weight"`
	DefaultDescriptionWeight        float64 `yaml:"default_description_weight"`
	DefaultValueTolerance           string  `yaml:"default_value_tolerance"`
	DefaultMinDescriptionSimilarity float64 `yaml:"default_min_description_similarity"`
	DefaultExactThreshold           float64 `yaml:"default_exact_threshold"`
	DefaultProbableThreshold        float64 `yaml:"default_probable_threshold"`
}

// Load loads configuration from a YAML file, expanding environment
// variables in the file body.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := defaults()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() *Config {
	cfg := defaults()
	cfg.Server.Port = getEnvInt("PORT", cfg.Server.Port)
	cfg.Server.Environment = getEnv("ENVIRONMENT", cfg.Server.Environment)
	cfg.Storage.DataPath = getEnv("BANKRECON_DATA", cfg.Storage.DataPath)
	cfg.Matching.GraceDays = getEnvInt("MATCH_GRACE_DAYS", cfg.Matching.GraceDays)
	cfg.Matching.Materialize = getEnvBool("MATCH_MATERIALIZE", cfg.Matching.Materialize)
	cfg.Matching.Workers = getEnvInt("MATCH_WORKERS", cfg.Matching.Workers)
	return cfg
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        3010,
			Environment: "development",
		},
		Storage: StorageConfig{
			DataPath: "./data",
		},
		Matching: MatchingConfig{
			GraceDays:   5,
			Materialize: false,
			Workers:     4,

			DefaultDateWeight:               0.3,
			DefaultValueWeight:              0.5,
			DefaultDescriptionWeight:        0.2,
			DefaultValueTolerance:           "0.01",
			DefaultMinDescriptionSimilarity: 0.3,
			DefaultExactThreshold:           0.95,
			DefaultProbableThreshold:        0.7,
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
