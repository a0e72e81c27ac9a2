package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "SEARCHMETER_"

// applyEnv overrides file values with SEARCHMETER_* variables.
// Unparseable values are ignored and the file value is kept.
func applyEnv(cfg *File) {
	cfg.Name = env("NAME", cfg.Name)

	cfg.Solr.BaseURL = env("SOLR_URL", cfg.Solr.BaseURL)
	cfg.Solr.Timeout = envDuration("SOLR_TIMEOUT", cfg.Solr.Timeout)
	cfg.Solr.CommitWithin = envDuration("SOLR_COMMIT_WITHIN", cfg.Solr.CommitWithin)
	cfg.Solr.Headers = envStringMap("SOLR_HEADERS", cfg.Solr.Headers)

	cfg.Query.Enabled = envBool("QUERY_ENABLED", cfg.Query.Enabled)
	cfg.Query.Workers = envInt("QUERY_WORKERS", cfg.Query.Workers)
	cfg.Query.QueryFile = env("QUERY_FILE", cfg.Query.QueryFile)

	cfg.Update.Enabled = envBool("UPDATE_ENABLED", cfg.Update.Enabled)
	cfg.Update.Workers = envInt("UPDATE_WORKERS", cfg.Update.Workers)
	cfg.Update.DocumentFile = env("UPDATE_FILE", cfg.Update.DocumentFile)

	cfg.Optimize.Enabled = envBool("OPTIMIZE_ENABLED", cfg.Optimize.Enabled)

	cfg.DrainTimeout = envDuration("DRAIN_TIMEOUT", cfg.DrainTimeout)
	cfg.PluginsDir = env("PLUGINS_DIR", cfg.PluginsDir)

	cfg.Logging.Level = env("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = env("LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.OutputPaths = envStringSlice("LOG_OUTPUT", cfg.Logging.OutputPaths)

	cfg.Monitor.Listen = env("LISTEN", cfg.Monitor.Listen)
	cfg.Monitor.RefreshInterval = envDuration("REFRESH_INTERVAL", cfg.Monitor.RefreshInterval)

	cfg.Database.Enabled = envBool("DB_ENABLED", cfg.Database.Enabled)
	cfg.Database.Path = env("DB_PATH", cfg.Database.Path)
}

// Helper functions to get environment variables with defaults

func env(key, defaultValue string) string {
	if value, exists := os.LookupEnv(EnvPrefix + key); exists {
		return value
	}
	return defaultValue
}

func envInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(EnvPrefix + key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func envBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(EnvPrefix + key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func envDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(EnvPrefix + key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func envStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(EnvPrefix + key); exists {
		if value == "" {
			return defaultValue
		}
		// Parse comma-separated values
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

func envStringMap(key string, defaultValue map[string]string) map[string]string {
	if value, exists := os.LookupEnv(EnvPrefix + key); exists {
		if value == "" {
			return defaultValue
		}
		// Parse key=value,key2=value2 format
		result := make(map[string]string)
		for _, pair := range strings.Split(value, ",") {
			if kv := strings.SplitN(strings.TrimSpace(pair), "=", 2); len(kv) == 2 {
				k := strings.TrimSpace(kv[0])
				if k != "" {
					result[k] = strings.TrimSpace(kv[1])
				}
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
