// Package config assembles the service configuration. Values are layered:
// built-in defaults, then an optional YAML file, then a .env file, then the
// process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"sitegen/internal/models"
)

const envPrefix = "SITEGEN_"

// Load loads configuration from file and environment variables. A .env file
// in the working directory is read if present; variables already set in the
// environment take precedence over it.
func Load(configPath string) (*models.Config, error) {
	return load(configPath, ".env")
}

func load(configPath, envFile string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	// Load from file if provided and exists
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadDotEnv(envFile); err != nil {
		return nil, err
	}

	// Override with environment variables
	if err := loadFromEnvironment(config); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// loadFromEnvironment loads configuration from environment variables.
// Unprefixed REDIS_URL, PORT and ANTHROPIC_API_KEY are honoured for existing
// deployments; the SITEGEN_ forms win when both are set.
func loadFromEnvironment(config *models.Config) error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	// Deployment compatibility
	if url := os.Getenv("REDIS_URL"); url != "" {
		config.Store.Type = models.StoreTypeRedis
		config.Store.Addr = url
	}
	collect(setInt(&config.Server.Port, "PORT"))
	setString(&config.LLM.APIKey, "ANTHROPIC_API_KEY")

	// Server configuration
	collect(setInt(&config.Server.Port, envPrefix+"PORT"))
	setString(&config.Server.Host, envPrefix+"HOST")
	collect(setDuration(&config.Server.ReadTimeout, envPrefix+"READ_TIMEOUT"))
	collect(setDuration(&config.Server.WriteTimeout, envPrefix+"WRITE_TIMEOUT"))
	collect(setDuration(&config.Server.IdleTimeout, envPrefix+"IDLE_TIMEOUT"))
	collect(setInt64(&config.Server.MaxBodyBytes, envPrefix+"MAX_BODY_BYTES"))
	collect(setBool(&config.Server.TLSEnabled, envPrefix+"TLS_ENABLED"))
	setString(&config.Server.TLSCertFile, envPrefix+"TLS_CERT_FILE")
	setString(&config.Server.TLSKeyFile, envPrefix+"TLS_KEY_FILE")
	collect(setBool(&config.Server.CORS.Enabled, envPrefix+"CORS_ENABLED"))
	setList(&config.Server.CORS.AllowedOrigins, envPrefix+"CORS_ALLOWED_ORIGINS")

	// Counter store configuration
	setString(&config.Store.Type, envPrefix+"STORE_TYPE")
	if addr := os.Getenv(envPrefix + "STORE_ADDR"); addr != "" {
		config.Store.Addr = addr
		if os.Getenv(envPrefix+"STORE_TYPE") == "" {
			config.Store.Type = models.StoreTypeRedis
		}
	}
	setString(&config.Store.Password, envPrefix+"STORE_PASSWORD")
	collect(setInt(&config.Store.DB, envPrefix+"STORE_DB"))
	collect(setInt(&config.Store.PoolSize, envPrefix+"STORE_POOL_SIZE"))
	setString(&config.Store.DSN, envPrefix+"STORE_DSN")
	setString(&config.Store.KeyPrefix, envPrefix+"STORE_KEY_PREFIX")
	collect(setDuration(&config.Store.CleanupInterval, envPrefix+"STORE_CLEANUP_INTERVAL"))

	// Rate limit configuration
	collect(setBool(&config.RateLimit.Enabled, envPrefix+"RATE_LIMIT_ENABLED"))
	collect(setInt(&config.RateLimit.RequestsPerWindow, envPrefix+"RATE_LIMIT_REQUESTS"))
	collect(setInt(&config.RateLimit.WindowSeconds, envPrefix+"RATE_LIMIT_WINDOW_SECONDS"))
	collect(setDuration(&config.RateLimit.StoreTimeout, envPrefix+"RATE_LIMIT_STORE_TIMEOUT"))
	collect(setBool(&config.RateLimit.TrustForwardedFor, envPrefix+"RATE_LIMIT_TRUST_FORWARDED_FOR"))

	// LLM configuration
	setString(&config.LLM.APIKey, envPrefix+"LLM_API_KEY")
	setString(&config.LLM.BaseURL, envPrefix+"LLM_BASE_URL")
	setString(&config.LLM.Model, envPrefix+"LLM_MODEL")
	collect(setFloat(&config.LLM.RequestsPerSecond, envPrefix+"LLM_REQUESTS_PER_SECOND"))
	collect(setInt(&config.LLM.Burst, envPrefix+"LLM_BURST"))
	collect(setInt(&config.LLM.MaxRetries, envPrefix+"LLM_MAX_RETRIES"))
	collect(setDuration(&config.LLM.Timeout, envPrefix+"LLM_TIMEOUT"))

	// Logging configuration
	setString(&config.Logging.Level, envPrefix+"LOG_LEVEL")
	setString(&config.Logging.Format, envPrefix+"LOG_FORMAT")
	setString(&config.Logging.Output, envPrefix+"LOG_OUTPUT")
	setString(&config.Logging.FilePath, envPrefix+"LOG_FILE_PATH")

	// Metrics configuration
	collect(setBool(&config.Metrics.Enabled, envPrefix+"METRICS_ENABLED"))
	setString(&config.Metrics.Path, envPrefix+"METRICS_PATH")
	collect(setInt(&config.Metrics.Port, envPrefix+"METRICS_PORT"))

	// Observability configuration
	setString(&config.Observability.ServiceName, envPrefix+"SERVICE_NAME")
	collect(setBool(&config.Observability.Tracing.Enabled, envPrefix+"TRACING_ENABLED"))
	setString(&config.Observability.Tracing.Exporter, envPrefix+"TRACING_EXPORTER")
	setString(&config.Observability.Tracing.OTLPEndpoint, envPrefix+"TRACING_OTLP_ENDPOINT")
	collect(setFloat(&config.Observability.Tracing.SampleRate, envPrefix+"TRACING_SAMPLE_RATE"))

	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var items []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*dst = items
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setInt64(dst *int64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Get default config with some example values
	config := models.NewDefaultConfig()

	// Shared counters for a multi-instance deployment
	config.Store.Type = models.StoreTypeRedis
	config.Store.Addr = "redis://localhost:6379/0"

	config.Server.CORS.AllowedOrigins = []string{"http://localhost:5173"}

	// Example TLS configuration
	config.Server.TLSEnabled = false
	config.Server.TLSCertFile = "/path/to/cert.pem"
	config.Server.TLSKeyFile = "/path/to/key.pem"

	// Marshal to YAML
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// Write to file
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
