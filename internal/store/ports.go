// Package store defines the report store port shared by every backend.
package store

import (
	"context"
	"errors"

	"costlens/internal/core"
)

// ErrClosed is returned by a store after Close.
var ErrClosed = errors.New("store is closed")

// Ports for report storage backends.
type (
	// Writer mutates the store. Every successful call bumps the version.
	Writer interface {
		// Upsert replaces the report with the same month and identity key in
		// place, or appends it to the month's list.
		Upsert(ctx context.Context, r core.MonthlyReport) error
		// Clear removes every report.
		Clear(ctx context.Context) error
	}

	Reader interface {
		// Months returns the known months in ascending order.
		Months(ctx context.Context) ([]string, error)
		// Snapshot returns an immutable copy of the current contents.
		Snapshot(ctx context.Context) (core.Snapshot, error)
	}

	Store interface {
		Writer
		Reader
		Close() error
	}
)
