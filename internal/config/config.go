package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port     string
	LogLevel string

	// Report store
	StoreBackend string
	SQLiteDSN    string

	// Import and views
	MaxUploadBytes    int64
	ImportConcurrency int
	ViewCacheSize     int
	ViewCacheTTL      time.Duration

	// AMQP (empty URL disables events)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets export
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
	ExportTimeout            time.Duration
}

const (
	DefaultSQLiteDSN      = "file:costlens?mode=memory&cache=shared"
	DefaultMaxUploadBytes = 32 << 20
)

func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8081"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		StoreBackend: getEnv("STORE_BACKEND", "memory"),
		SQLiteDSN:    getEnv("SQLITE_DSN", DefaultSQLiteDSN),

		MaxUploadBytes:    getEnvInt64("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes),
		ImportConcurrency: getEnvInt("IMPORT_CONCURRENCY", 4),
		ViewCacheSize:     getEnvInt("VIEW_CACHE_SIZE", 128),
		ViewCacheTTL:      getEnvDuration("VIEW_CACHE_TTL", 5*time.Minute),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "costlens"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "report_imported"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", "Costs"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")),
		ExportTimeout:            getEnvDuration("EXPORT_TIMEOUT", 30*time.Second),
	}
}

// SheetsEnabled reports whether summaries go to Google Sheets instead of the
// in-memory exporter.
func (c *Config) SheetsEnabled() bool {
	return c.GoogleSpreadsheetID != ""
}

func (c *Config) AMQPEnabled() bool {
	return c.AMQPURL != ""
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of [debug info warn error]", c.LogLevel))
	}

	validBackends := []string{"memory", "sqlite"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.StoreBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid store backend '%s': must be one of %v", c.StoreBackend, validBackends))
	}
	if c.StoreBackend == "sqlite" && c.SQLiteDSN == "" {
		errors = append(errors, "SQLite DSN cannot be empty when using sqlite backend")
	}

	if c.MaxUploadBytes < 1024 {
		errors = append(errors, fmt.Sprintf("invalid max upload bytes %d: must be at least 1024", c.MaxUploadBytes))
	}
	if c.ImportConcurrency < 1 || c.ImportConcurrency > 64 {
		errors = append(errors, fmt.Sprintf("invalid import concurrency %d: must be between 1 and 64", c.ImportConcurrency))
	}
	if c.ViewCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid view cache size %d: must be at least 1", c.ViewCacheSize))
	}
	if c.ViewCacheTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid view cache TTL %v: must be at least 1 second", c.ViewCacheTTL))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.GoogleSpreadsheetID != "" {
		if c.GoogleSheetName == "" {
			errors = append(errors, "Google Sheet name is required when a spreadsheet ID is set")
		}
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided for sheets export")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	if c.ExportTimeout < time.Second || c.ExportTimeout > 10*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid export timeout %v: must be between 1 second and 10 minutes", c.ExportTimeout))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
