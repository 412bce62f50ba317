// Package configstore persists voice agent configuration records in SQLite.
// It implements agentconfig.Store; one row per (provider, name).
package configstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/teslashibe/go-voicekit/pkg/agentconfig"
)

const defaultBusyTimeout = 5 * time.Second

// Options describes parameters for opening a configuration store.
type Options struct {
	// DBPath is the SQLite database file. ":memory:" is accepted for tests.
	DBPath string

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool
}

// Store provides access to the configuration database.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS provider_configs (
	id          TEXT PRIMARY KEY,
	provider    TEXT NOT NULL,
	name        TEXT NOT NULL,
	is_default  INTEGER NOT NULL DEFAULT 0,
	config_json TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL,
	UNIQUE (provider, name)
);
CREATE INDEX IF NOT EXISTS idx_provider_configs_provider ON provider_configs (provider);
`

// Open initialises the configuration store at the given path.
func Open(opts Options) (*Store, error) {
	if opts.DBPath == "" {
		return nil, errors.New("configstore: database path is required")
	}

	dsn := opts.DBPath
	if opts.ReadOnly {
		dsn = fmt.Sprintf("file:%s?mode=ro", opts.DBPath)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("configstore: open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", defaultBusyTimeout.Milliseconds())); err != nil {
		db.Close()
		return nil, fmt.Errorf("configstore: apply pragmas: %w", err)
	}
	if !opts.ReadOnly {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("configstore: apply pragmas: %w", err)
		}
		if _, err := db.ExecContext(ctx, schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("configstore: apply schema: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Get implements agentconfig.Store.
func (s *Store) Get(ctx context.Context, provider, name string) (agentconfig.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, provider, name, is_default, config_json, created_at, updated_at
		 FROM provider_configs WHERE provider = ? AND name = ?`, provider, name)
	return scanRecord(row, provider+"/"+name)
}

// GetDefault implements agentconfig.Store.
func (s *Store) GetDefault(ctx context.Context, provider string) (agentconfig.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, provider, name, is_default, config_json, created_at, updated_at
		 FROM provider_configs WHERE provider = ? AND is_default = 1`, provider)
	return scanRecord(row, provider+" default")
}

// Upsert implements agentconfig.Store. Identity is (provider, name); an
// existing row keeps its id and created_at.
func (s *Store) Upsert(ctx context.Context, rec agentconfig.Record) (agentconfig.Record, error) {
	now := time.Now().UTC()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provider_configs (id, provider, name, is_default, config_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (provider, name) DO UPDATE SET
			is_default = excluded.is_default,
			config_json = excluded.config_json,
			updated_at = excluded.updated_at`,
		rec.ID, rec.Provider, rec.Name, boolToInt(rec.IsDefault), rec.ConfigJSON, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return agentconfig.Record{}, fmt.Errorf("configstore: upsert %s/%s: %w", rec.Provider, rec.Name, err)
	}

	// Re-read so the caller sees the surviving id/created_at after a
	// conflict update.
	return s.Get(ctx, rec.Provider, rec.Name)
}

// Delete implements agentconfig.Store.
func (s *Store) Delete(ctx context.Context, provider, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM provider_configs WHERE provider = ? AND name = ?`, provider, name)
	if err != nil {
		return false, fmt.Errorf("configstore: delete %s/%s: %w", provider, name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("configstore: delete %s/%s: %w", provider, name, err)
	}
	return n > 0, nil
}

// ClearDefaults implements agentconfig.Store.
func (s *Store) ClearDefaults(ctx context.Context, provider string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE provider_configs SET is_default = 0 WHERE provider = ?`, provider)
	if err != nil {
		return fmt.Errorf("configstore: clear defaults for %s: %w", provider, err)
	}
	return nil
}

// List implements agentconfig.Store.
func (s *Store) List(ctx context.Context, provider string) ([]agentconfig.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, provider, name, is_default, config_json, created_at, updated_at
		 FROM provider_configs WHERE provider = ? ORDER BY name`, provider)
	if err != nil {
		return nil, fmt.Errorf("configstore: list %s: %w", provider, err)
	}
	defer rows.Close()

	var out []agentconfig.Record
	for rows.Next() {
		var rec agentconfig.Record
		var isDefault int
		if err := rows.Scan(&rec.ID, &rec.Provider, &rec.Name, &isDefault, &rec.ConfigJSON, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("configstore: scan: %w", err)
		}
		rec.IsDefault = isDefault != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListProviders implements agentconfig.Store.
func (s *Store) ListProviders(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT provider FROM provider_configs ORDER BY provider`)
	if err != nil {
		return nil, fmt.Errorf("configstore: list providers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("configstore: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Close implements agentconfig.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, key string) (agentconfig.Record, error) {
	var rec agentconfig.Record
	var isDefault int
	err := row.Scan(&rec.ID, &rec.Provider, &rec.Name, &isDefault, &rec.ConfigJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return agentconfig.Record{}, fmt.Errorf("configstore: %s: %w", key, agentconfig.ErrNotFound)
	}
	if err != nil {
		return agentconfig.Record{}, fmt.Errorf("configstore: %s: %w", key, err)
	}
	rec.IsDefault = isDefault != 0
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ agentconfig.Store = (*Store)(nil)
