package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/sentiprep/pkg/sentiprep/store"
)

// timeLayout is fixed-width so created_at compares correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store persists cache entries in a SQLite database
type Store struct {
	db *sql.DB
}

var _ store.Backend = (*Store)(nil)

// OpenSQLite opens a SQLite database with WAL mode enabled.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	// Concurrent writers from the worker pool wait instead of failing with SQLITE_BUSY
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, err
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS cache_entries (
	key TEXT PRIMARY KEY,
	op TEXT NOT NULL,
	value BLOB NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_entries_op ON cache_entries(op);
CREATE INDEX IF NOT EXISTS idx_cache_entries_created ON cache_entries(created_at);
`

	_, err := db.ExecContext(ctx, schema)
	return err
}

// Load returns the entry stored under key
func (s *Store) Load(ctx context.Context, key string) (store.Entry, bool, error) {
	var (
		e       store.Entry
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT key, op, value, created_at FROM cache_entries WHERE key=?`, key,
	).Scan(&e.Key, &e.Op, &e.Value, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Entry{}, false, nil
	}
	if err != nil {
		return store.Entry{}, false, err
	}
	if ts, perr := time.Parse(timeLayout, created); perr == nil {
		e.CreatedAt = ts
	}
	return e, true, nil
}

// Save inserts or replaces an entry
func (s *Store) Save(ctx context.Context, e store.Entry) error {
	if e.Key == "" {
		return fmt.Errorf("sqlite: empty key")
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	const stmt = `
INSERT INTO cache_entries (key, op, value, created_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
	op=excluded.op,
	value=excluded.value,
	created_at=excluded.created_at;
`
	_, err := s.db.ExecContext(ctx, stmt, e.Key, e.Op, e.Value, created.UTC().Format(timeLayout))
	return err
}

// Delete removes an entry
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key=?`, key)
	return err
}

// Count returns the number of entries for op, or all entries when op is empty
func (s *Store) Count(ctx context.Context, op string) (int64, error) {
	var n int64
	var err error
	if op == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries WHERE op=?`, op).Scan(&n)
	}
	return n, err
}

// PurgeOlderThan deletes entries created before cutoff and reports how many
// rows were removed.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE created_at < ?`, cutoff.UTC().Format(timeLayout))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
