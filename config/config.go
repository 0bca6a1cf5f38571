// Package config loads server settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	HTTPPort     int
	DatabasePath string
	// Empty means the built-in demo catalog.
	CatalogPath      string
	CORSOrigins      []string
	LogLevel         string
	BatchConcurrency int
	ExportFormat     string
}

// Load reads the environment, falling back to defaults for unset variables.
func Load() (*Config, error) {
	port, err := getEnvInt("HTTP_PORT", 8080)
	if err != nil {
		return nil, err
	}
	concurrency, err := getEnvInt("BATCH_CONCURRENCY", 8)
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		HTTPPort:         port,
		DatabasePath:     getEnv("DATABASE_PATH", "necessities.db"),
		CatalogPath:      getEnv("CATALOG_PATH", ""),
		CORSOrigins:      splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
		BatchConcurrency: concurrency,
		ExportFormat:     strings.ToLower(getEnv("EXPORT_FORMAT", "xlsx")),
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP_PORT %d", c.HTTPPort)
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH must not be empty")
	}
	if c.BatchConcurrency <= 0 {
		return fmt.Errorf("BATCH_CONCURRENCY must be positive, got %d", c.BatchConcurrency)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown LOG_LEVEL %q", c.LogLevel)
	}
	switch c.ExportFormat {
	case "xlsx", "csv":
	default:
		return fmt.Errorf("unknown EXPORT_FORMAT %q", c.ExportFormat)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
