// Package models holds the configuration tree and the JSON shapes exchanged
// over the HTTP API.
//
// Configuration is grouped by component (server, counter store, rate limit,
// LLM, logging, metrics, observability). Every group validates itself and the
// root Config.Validate reports the first failing group.
package models

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Counter store backends.
const (
	StoreTypeMemory   = "memory"
	StoreTypeRedis    = "redis"
	StoreTypePostgres = "postgres"
	StoreTypeSQLite   = "sqlite"
)

// Config is the root configuration structure containing all service settings.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Store         StoreConfig         `yaml:"store" json:"store"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`
	LLM           LLMConfig           `yaml:"llm" json:"llm"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" json:"max_body_bytes"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
	CORS         CORSConfig    `yaml:"cors" json:"cors"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
	MaxAge         int      `yaml:"max_age" json:"max_age"`
}

// StoreConfig selects and configures the shared counter store.
// Addr accepts either host:port or a redis:// URL.
type StoreConfig struct {
	Type            string        `yaml:"type" json:"type"`
	Addr            string        `yaml:"addr" json:"addr"`
	Password        string        `yaml:"password" json:"-"`
	DB              int           `yaml:"db" json:"db"`
	PoolSize        int           `yaml:"pool_size" json:"pool_size"`
	DSN             string        `yaml:"dsn" json:"-"`
	KeyPrefix       string        `yaml:"key_prefix" json:"key_prefix"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// RateLimitConfig is the single admission policy applied to every guarded route.
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	RequestsPerWindow int           `yaml:"requests_per_window" json:"requests_per_window"`
	WindowSeconds     int           `yaml:"window_seconds" json:"window_seconds"`
	StoreTimeout      time.Duration `yaml:"store_timeout" json:"store_timeout"`
	TrustForwardedFor bool          `yaml:"trust_forwarded_for" json:"trust_forwarded_for"`
}

// Window returns the configured window as a duration.
func (rc *RateLimitConfig) Window() time.Duration {
	return time.Duration(rc.WindowSeconds) * time.Second
}

type LLMConfig struct {
	APIKey            string        `yaml:"api_key" json:"-"`
	BaseURL           string        `yaml:"base_url" json:"base_url"`
	Model             string        `yaml:"model" json:"model"`
	ClassifyMaxTokens int64         `yaml:"classify_max_tokens" json:"classify_max_tokens"`
	ChatMaxTokens     int64         `yaml:"chat_max_tokens" json:"chat_max_tokens"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int           `yaml:"burst" json:"burst"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig returns a configuration that runs locally without any
// external services: in-memory counters, two requests per client and route
// every seven days, JSON logs on stdout.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         3000,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
			MaxBodyBytes: 1 << 20,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
				MaxAge:         86400,
			},
		},
		Store: StoreConfig{
			Type:            StoreTypeMemory,
			KeyPrefix:       "ratelimit:",
			PoolSize:        10,
			CleanupInterval: time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerWindow: 2,
			WindowSeconds:     7 * 24 * 60 * 60,
			StoreTimeout:      3 * time.Second,
		},
		LLM: LLMConfig{
			Model:             "claude-3-5-sonnet-20241022",
			ClassifyMaxTokens: 200,
			ChatMaxTokens:     8000,
			RequestsPerSecond: 5,
			Burst:             5,
			MaxRetries:        2,
			Timeout:           90 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "sitegen",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("invalid store config: %w", err)
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}

	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("invalid llm config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	if sc.MaxBodyBytes <= 0 {
		return errors.New("max body bytes must be positive")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (stc *StoreConfig) Validate() error {
	validTypes := []string{StoreTypeMemory, StoreTypeRedis, StoreTypePostgres, StoreTypeSQLite}
	if !slices.Contains(validTypes, stc.Type) {
		return fmt.Errorf("invalid store type: %s", stc.Type)
	}

	switch stc.Type {
	case StoreTypeRedis:
		if stc.Addr == "" {
			return errors.New("address is required for redis store")
		}
		if stc.DB < 0 {
			return errors.New("redis db cannot be negative")
		}
	case StoreTypePostgres, StoreTypeSQLite:
		if stc.DSN == "" {
			return fmt.Errorf("dsn is required for %s store", stc.Type)
		}
	}

	if stc.PoolSize < 0 {
		return errors.New("pool size cannot be negative")
	}

	if stc.CleanupInterval <= 0 {
		return errors.New("cleanup interval must be positive")
	}

	return nil
}

func (rc *RateLimitConfig) Validate() error {
	if !rc.Enabled {
		return nil
	}

	if rc.RequestsPerWindow <= 0 {
		return errors.New("requests per window must be positive")
	}

	if rc.WindowSeconds <= 0 {
		return errors.New("window seconds must be positive")
	}

	if rc.StoreTimeout <= 0 {
		return errors.New("store timeout must be positive")
	}

	return nil
}

func (lc *LLMConfig) Validate() error {
	if lc.Model == "" {
		return errors.New("model cannot be empty")
	}

	if lc.ClassifyMaxTokens <= 0 || lc.ChatMaxTokens <= 0 {
		return errors.New("max tokens must be positive")
	}

	if lc.RequestsPerSecond < 0 {
		return errors.New("requests per second cannot be negative")
	}

	if lc.RequestsPerSecond > 0 && lc.Burst <= 0 {
		return errors.New("burst must be positive when requests per second is set")
	}

	if lc.MaxRetries < 0 {
		return errors.New("max retries cannot be negative")
	}

	if lc.Timeout < 0 {
		return errors.New("timeout cannot be negative")
	}

	return nil
}

func (lc *LoggingConfig) Validate() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, lc.Level) {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	if !slices.Contains([]string{"json", "text"}, lc.Format) {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	if !slices.Contains([]string{"stdout", "stderr", "file"}, lc.Output) {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if !oc.Tracing.Enabled {
		return nil
	}

	if oc.ServiceName == "" {
		return errors.New("service name cannot be empty when tracing is enabled")
	}

	switch oc.Tracing.Exporter {
	case "stdout":
	case "otlp":
		if oc.Tracing.OTLPEndpoint == "" {
			return errors.New("otlp endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("invalid trace exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}

	return nil
}
