// Package sqlite keeps reports in SQLite. The default DSN is a shared
// in-memory database, so nothing outlives the process.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"costlens/internal/core"
	"costlens/internal/store"

	_ "modernc.org/sqlite"
)

const DefaultDSN = "file:costlens?mode=memory&cache=shared"

type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

func New(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection keeps the in-memory database alive and avoids
	// shared-cache table locks between pooled connections.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, r core.MonthlyReport) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		key := r.IdentityKey()
		var account sql.NullString
		if id, ok := r.Identity.AccountID(); ok {
			account = sql.NullString{String: id, Valid: true}
		}

		var id int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM reports WHERE month = ? AND identity_key = ?`, r.Month, key).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			res, err := tx.ExecContext(ctx, `
				INSERT INTO reports (month, identity_key, account_id, file_name, position, total, row_count, skipped_rows)
				VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(position) + 1, 0) FROM reports WHERE month = ?), ?, ?, ?)`,
				r.Month, key, account, r.FileName, r.Month, r.Total, r.RowCount, r.SkippedRows)
			if err != nil {
				return fmt.Errorf("insert report: %w", err)
			}
			if id, err = res.LastInsertId(); err != nil {
				return fmt.Errorf("insert report id: %w", err)
			}
		case err != nil:
			return fmt.Errorf("find report: %w", err)
		default:
			// position is kept so the month's list order does not change
			if _, err := tx.ExecContext(ctx, `
				UPDATE reports SET account_id = ?, file_name = ?, total = ?, row_count = ?, skipped_rows = ?
				WHERE id = ?`,
				account, r.FileName, r.Total, r.RowCount, r.SkippedRows, id); err != nil {
				return fmt.Errorf("update report: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM report_services WHERE report_id = ?`, id); err != nil {
				return fmt.Errorf("delete report services: %w", err)
			}
		}

		for i, sc := range r.Services.Pairs() {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO report_services (report_id, position, service, cost) VALUES (?, ?, ?, ?)`,
				id, i, sc.Service, sc.Cost); err != nil {
				return fmt.Errorf("insert service %q: %w", sc.Service, err)
			}
		}
		if err := bumpVersion(ctx, tx); err != nil {
			return err
		}

		slog.DebugContext(ctx, "Report saved to SQLite",
			"id", id,
			"month", r.Month,
			"identity", key,
			"service_count", r.Services.Len())
		return nil
	})
}

func (s *Store) Clear(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM report_services`); err != nil {
			return fmt.Errorf("clear report services: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM reports`); err != nil {
			return fmt.Errorf("clear reports: %w", err)
		}
		return bumpVersion(ctx, tx)
	})
}

func (s *Store) Months(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT month FROM reports ORDER BY month`)
	if err != nil {
		return nil, fmt.Errorf("query months: %w", err)
	}
	defer rows.Close()

	var months []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan month: %w", err)
		}
		months = append(months, m)
	}
	return months, rows.Err()
}

// Snapshot reads the version and every report inside one transaction.
func (s *Store) Snapshot(ctx context.Context) (core.Snapshot, error) {
	var snap core.Snapshot
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var version uint64
		if err := tx.QueryRowContext(ctx, `SELECT version FROM store_meta WHERE id = 1`).Scan(&version); err != nil {
			return fmt.Errorf("read version: %w", err)
		}

		services, err := loadServices(ctx, tx)
		if err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT id, month, identity_key, account_id, file_name, total, row_count, skipped_rows
			FROM reports ORDER BY month, position`)
		if err != nil {
			return fmt.Errorf("query reports: %w", err)
		}
		defer rows.Close()

		byMonth := make(map[string][]core.MonthlyReport)
		for rows.Next() {
			var (
				id      int64
				r       core.MonthlyReport
				key     string
				account sql.NullString
			)
			if err := rows.Scan(&id, &r.Month, &key, &account, &r.FileName, &r.Total, &r.RowCount, &r.SkippedRows); err != nil {
				return fmt.Errorf("scan report: %w", err)
			}
			if account.Valid && account.String != "" {
				r.Identity = core.AccountIdentity(account.String)
			} else {
				r.Identity = core.FileIdentity(key)
			}
			if b, ok := services[id]; ok {
				r.Services = b.Build()
			}
			byMonth[r.Month] = append(byMonth[r.Month], r)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate reports: %w", err)
		}
		snap = core.NewSnapshot(version, byMonth)
		return nil
	})
	return snap, err
}

func loadServices(ctx context.Context, tx *sql.Tx) (map[int64]*core.CostMapBuilder, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT report_id, service, cost FROM report_services ORDER BY report_id, position`)
	if err != nil {
		return nil, fmt.Errorf("query report services: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]*core.CostMapBuilder)
	for rows.Next() {
		var (
			id      int64
			service string
			cost    decimal.Decimal
		)
		if err := rows.Scan(&id, &service, &cost); err != nil {
			return nil, fmt.Errorf("scan report service: %w", err)
		}
		b, ok := out[id]
		if !ok {
			b = core.NewCostMapBuilder()
			out[id] = b
		}
		b.Add(service, cost)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report services: %w", err)
	}
	return out, nil
}

func bumpVersion(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `UPDATE store_meta SET version = version + 1 WHERE id = 1`); err != nil {
		return fmt.Errorf("bump version: %w", err)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
