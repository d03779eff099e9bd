// Package memory is the default session-scoped report store.
package memory

import (
	"context"
	"sync"

	"costlens/internal/core"
	"costlens/internal/store"
)

type Store struct {
	mu      sync.Mutex
	version uint64
	reports map[string][]core.MonthlyReport
	closed  bool
}

func New() *Store {
	return &Store{reports: make(map[string][]core.MonthlyReport)}
}

var _ store.Store = (*Store)(nil)

// Upsert validates the report and stores it under (month, identity key).
func (s *Store) Upsert(_ context.Context, r core.MonthlyReport) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	list := s.reports[r.Month]
	key := r.IdentityKey()
	replaced := false
	for i := range list {
		if list[i].IdentityKey() == key {
			list[i] = r
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, r)
	}
	s.reports[r.Month] = list
	s.version++
	return nil
}

func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	s.reports = make(map[string][]core.MonthlyReport)
	s.version++
	return nil
}

func (s *Store) Months(ctx context.Context) ([]string, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Months, nil
}

// Snapshot copies the per-month lists; reports themselves are immutable.
func (s *Store) Snapshot(_ context.Context) (core.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.Snapshot{}, store.ErrClosed
	}
	return core.NewSnapshot(s.version, s.reports), nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.reports = nil
	return nil
}
