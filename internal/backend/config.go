package backend

import (
	"fmt"

	"costlens/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.StoreBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s", appConfig.StoreBackend)
	}

	return Config{
		Type:      backendType,
		SQLiteDSN: appConfig.SQLiteDSN,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s", c.Type)
	}
	if c.Type == SQLiteBackend && c.SQLiteDSN == "" {
		return fmt.Errorf("SQLite DSN is required for sqlite backend")
	}
	return nil
}
