package backend

import (
	"context"
	"fmt"
	"log/slog"

	"costlens/internal/store/memory"
	"costlens/internal/store/sqlite"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend(ctx)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(ctx context.Context, config Config) (*BackendResult, error) {
	s, err := sqlite.New(config.SQLiteDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
	}

	f.logger.InfoContext(ctx, "Initialized SQLite store", "dsn", config.SQLiteDSN)

	return &BackendResult{
		Store:   s,
		Cleanup: s.Close,
	}, nil
}

func (f *DefaultFactory) createMemoryBackend(ctx context.Context) (*BackendResult, error) {
	s := memory.New()

	f.logger.InfoContext(ctx, "Initialized memory store")

	return &BackendResult{
		Store:   s,
		Cleanup: s.Close,
	}, nil
}
