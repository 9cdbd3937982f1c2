// Package sqlite persists the discovery hub table in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/venue/internal/discovery"
	"github.com/louisbranch/venue/internal/discovery/sqlite/migrations"
	sqlitemigrate "github.com/louisbranch/venue/internal/platform/storage/sqlitemigrate"
	_ "modernc.org/sqlite"
)

// Store persists discovery records.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a SQLite discovery store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(context.Background(), sqlDB, migrations.FS, "."); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutRecord upserts rec.
func (s *Store) PutRecord(ctx context.Context, rec discovery.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO services (service, addr, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(service) DO UPDATE SET addr = excluded.addr, updated_at = excluded.updated_at`,
		rec.Service, rec.Addr, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("put service %s: %w", rec.Service, err)
	}
	return nil
}

// DeleteRecord removes service when it is still owned by addr.
func (s *Store) DeleteRecord(ctx context.Context, service, addr string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM services WHERE service = ? AND addr = ?`, service, addr,
	); err != nil {
		return fmt.Errorf("delete service %s: %w", service, err)
	}
	return nil
}

// ListRecords returns every persisted record ordered by service name.
func (s *Store) ListRecords(ctx context.Context) ([]discovery.Record, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT service, addr FROM services ORDER BY service`)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	var records []discovery.Record
	for rows.Next() {
		var rec discovery.Record
		if err := rows.Scan(&rec.Service, &rec.Addr); err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate services: %w", err)
	}
	return records, nil
}
