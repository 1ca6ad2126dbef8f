package store

import (
	"fmt"

	"sitegen/internal/models"
)

// Factory creates counter stores from configuration.
type Factory struct{}

// NewFactory creates a new store factory
func NewFactory() *Factory {
	return &Factory{}
}

// Create instantiates a counter store based on the provided configuration.
// Supported providers:
//   - memory: process-local counters (tests, single-instance development)
//   - redis: shared counters for multi-instance deployments
//   - postgres: shared counters in a PostgreSQL table
//   - sqlite: counters in a local SQLite file
func (f *Factory) Create(config models.StoreConfig) (Store, error) {
	storeConfig := Config{
		Type:            config.Type,
		Addr:            config.Addr,
		Password:        config.Password,
		DB:              config.DB,
		PoolSize:        config.PoolSize,
		DSN:             config.DSN,
		KeyPrefix:       config.KeyPrefix,
		CleanupInterval: config.CleanupInterval,
	}

	switch config.Type {
	case models.StoreTypeMemory:
		return NewMemoryStore(storeConfig.CleanupInterval), nil
	case models.StoreTypeRedis:
		return NewRedisStore(storeConfig)
	case models.StoreTypePostgres:
		return NewPostgresStore(storeConfig)
	case models.StoreTypeSQLite:
		return NewSQLiteStore(storeConfig)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Type)
	}
}

// GetSupportedProviders returns a list of all supported store types
func (f *Factory) GetSupportedProviders() []string {
	return []string{models.StoreTypeMemory, models.StoreTypeRedis, models.StoreTypePostgres, models.StoreTypeSQLite}
}

// ValidateConfig validates that a store configuration is valid for its type
func (f *Factory) ValidateConfig(config models.StoreConfig) error {
	switch config.Type {
	case models.StoreTypeMemory:
		// Memory store requires no additional configuration
	case models.StoreTypeRedis:
		if config.Addr == "" {
			return fmt.Errorf("address is required for redis store")
		}
	case models.StoreTypePostgres, models.StoreTypeSQLite:
		if config.DSN == "" {
			return fmt.Errorf("DSN is required for %s store", config.Type)
		}
	default:
		return fmt.Errorf("unsupported store type: %s", config.Type)
	}
	return nil
}
