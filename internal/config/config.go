package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string
	DatabaseURL string
	TablePrefix string
	// Debug enables verbose logging
	Debug bool
}

// fileConfig is the optional YAML overlay. Values set here win over
// environment defaults but lose to explicit environment variables.
type fileConfig struct {
	Environment string `yaml:"environment"`
	DatabaseURL string `yaml:"database_url"`
	TablePrefix string `yaml:"table_prefix"`
	Debug       *bool  `yaml:"debug"`
}

func Load() *Config {
	cfg, _ := LoadWithFile(os.Getenv("BLOCKSTORE_CONFIG"))
	return cfg
}

// LoadWithFile loads configuration from the environment with an optional
// YAML overlay. A missing path is not an error; an unreadable or malformed
// file is.
func LoadWithFile(path string) (*Config, error) {
	overlay := fileConfig{}
	var fileErr error
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Optional file, fall through to env-only config.
		case err != nil:
			fileErr = fmt.Errorf("read config file %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &overlay); err != nil {
				fileErr = fmt.Errorf("parse config file %s: %w", path, err)
			}
		}
	}

	env := getEnv("ENVIRONMENT", fallback(overlay.Environment, "dev"))

	debugDefault := getDefaultDebug(env)
	if overlay.Debug != nil {
		if *overlay.Debug {
			debugDefault = "true"
		} else {
			debugDefault = "false"
		}
	}

	return &Config{
		Environment: env,
		DatabaseURL: getEnv("DATABASE_URL", overlay.DatabaseURL),
		TablePrefix: getTablePrefix(env, overlay.TablePrefix),
		Debug:       getEnv("DEBUG", debugDefault) == "true",
	}, fileErr
}

// getDefaultDebug returns the default debug setting based on environment
func getDefaultDebug(env string) string {
	if env == "prod" {
		return "false"
	}
	return "true"
}

// getTablePrefix returns the table prefix based on environment
func getTablePrefix(env, overlayPrefix string) string {
	// Allow manual override via TABLE_PREFIX env var
	if prefix := os.Getenv("TABLE_PREFIX"); prefix != "" {
		return prefix
	}
	if overlayPrefix != "" {
		return overlayPrefix
	}

	switch env {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	default:
		return "dev_"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func fallback(value, defaultValue string) string {
	if value != "" {
		return value
	}
	return defaultValue
}
