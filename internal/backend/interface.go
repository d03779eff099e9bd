// Package backend selects and builds the report store for a session.
package backend

import (
	"context"

	"costlens/internal/store"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the store instance and its cleanup function
type BackendResult struct {
	Store   store.Store
	Cleanup CleanupFunc
}

// Factory creates stores based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for store creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDSN string
}

// BackendType represents the type of store backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
