package keys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Rajchodisetti/trading-dashboard/internal/observ"
)

// SQLiteStore persists credentials in a SQLite file, so every instance on
// the host sees the same keys.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database and runs migrations.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS api_keys (
		provider   TEXT PRIMARY KEY,
		secret     TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	observ.Log("key_store_opened", map[string]any{"backend": "sqlite", "path": path})
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, provider string) (string, error) {
	var secret string
	err := s.db.QueryRowContext(ctx, `SELECT secret FROM api_keys WHERE provider = ?`, provider).Scan(&secret)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && secret == "") {
		return "", ErrNoCredential
	}
	if err != nil {
		return "", fmt.Errorf("get key %s: %w", provider, err)
	}
	return secret, nil
}

func (s *SQLiteStore) Set(ctx context.Context, provider, secret string) error {
	if secret == "" {
		return s.Remove(ctx, provider)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (provider, secret, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(provider) DO UPDATE SET secret = excluded.secret, updated_at = excluded.updated_at`,
		provider, secret, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set key %s: %w", provider, err)
	}
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, provider string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE provider = ?`, provider); err != nil {
		return fmt.Errorf("remove key %s: %w", provider, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT provider FROM api_keys WHERE secret <> '' ORDER BY provider`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan key row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
