// Package sqlite provides SQLite-backed extension blob storage.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/venue/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/venue/internal/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists one blob per extension.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a SQLite blob store and applies embedded migrations.
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

// StoreData replaces the blob of extension.
func (s *Store) StoreData(ctx context.Context, extension string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	extension = strings.TrimSpace(extension)
	if extension == "" {
		return fmt.Errorf("extension is required")
	}
	if data == nil {
		data = []byte{}
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO extension_blobs (extension, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(extension) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		extension, data, time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store %s data: %w", extension, err)
	}
	return nil
}

// LoadData returns the blob of extension, or nil when none was stored.
func (s *Store) LoadData(ctx context.Context, extension string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	var data []byte
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT data FROM extension_blobs WHERE extension = ?`, strings.TrimSpace(extension),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s data: %w", extension, err)
	}
	return data, nil
}
