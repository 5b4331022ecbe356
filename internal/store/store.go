package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jward/tinct/internal/cache"
	"github.com/jward/tinct/internal/text"
)

// Store is the SQLite persistence layer for per-document streams. It
// implements cache.Persistence, cache.BatchWriter and cache.StreamDeleter.
type Store struct {
	db *sql.DB
}

var (
	_ cache.Persistence   = (*Store)(nil)
	_ cache.BatchWriter   = (*Store)(nil)
	_ cache.StreamDeleter = (*Store)(nil)
)

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the streams and metadata tables. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS streams (
  project         TEXT NOT NULL,
  path            TEXT NOT NULL,
  name            TEXT NOT NULL,
  checksum        BLOB NOT NULL,
  data            BLOB NOT NULL,
  updated_at      TIMESTAMP,
  PRIMARY KEY (project, path, name)
);

CREATE INDEX IF NOT EXISTS idx_streams_name ON streams(name);

CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);
`

// ReadChecksum returns the checksum stored with a stream. A row whose
// checksum is not a valid digest reads as absent.
func (s *Store) ReadChecksum(ctx context.Context, key text.DocumentKey, name string) (text.Checksum, bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT checksum FROM streams WHERE project = ? AND path = ? AND name = ?",
		key.Project, key.Path, name,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return text.Checksum{}, false, nil
	}
	if err != nil {
		return text.Checksum{}, false, fmt.Errorf("read checksum %s: %w", key, err)
	}
	cs, ok := text.ChecksumFromBytes(raw)
	return cs, ok, nil
}

// ReadStream returns a stream's bytes only when it was written for expected.
func (s *Store) ReadStream(ctx context.Context, key text.DocumentKey, name string, expected text.Checksum) ([]byte, bool, error) {
	var raw, data []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT checksum, data FROM streams WHERE project = ? AND path = ? AND name = ?",
		key.Project, key.Path, name,
	).Scan(&raw, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read stream %s: %w", key, err)
	}
	cs, ok := text.ChecksumFromBytes(raw)
	if !ok || cs != expected {
		return nil, false, nil
	}
	return data, true, nil
}

// WriteStream replaces a stream in a single statement.
func (s *Store) WriteStream(ctx context.Context, key text.DocumentKey, name string, data []byte, checksum text.Checksum) error {
	if err := writeStream(ctx, s.db, cache.Stream{Key: key, Name: name, Checksum: checksum, Data: data}); err != nil {
		return fmt.Errorf("write stream %s: %w", key, err)
	}
	return nil
}

// WriteStreams writes every stream within one transaction.
func (s *Store) WriteStreams(ctx context.Context, streams []cache.Stream) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write streams: begin: %w", err)
	}
	defer tx.Rollback()

	for _, st := range streams {
		if err := writeStream(ctx, tx, st); err != nil {
			return fmt.Errorf("write streams: %s: %w", st.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write streams: commit: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func writeStream(ctx context.Context, db execer, st cache.Stream) error {
	data := st.Data
	if data == nil {
		data = []byte{}
	}
	_, err := db.ExecContext(ctx,
		`INSERT OR REPLACE INTO streams (project, path, name, checksum, data, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		st.Key.Project, st.Key.Path, st.Name, st.Checksum[:], data, time.Now().UTC(),
	)
	return err
}

// DeleteStream removes one stream. Deleting a missing stream is not an error.
func (s *Store) DeleteStream(ctx context.Context, key text.DocumentKey, name string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM streams WHERE project = ? AND path = ? AND name = ?",
		key.Project, key.Path, name,
	)
	if err != nil {
		return fmt.Errorf("delete stream %s: %w", key, err)
	}
	return nil
}

// Purge removes every stream with the given name and returns how many
// were deleted.
func (s *Store) Purge(ctx context.Context, name string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM streams WHERE name = ?", name)
	if err != nil {
		return 0, fmt.Errorf("purge %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge %s: rows affected: %w", name, err)
	}
	return n, nil
}

// StreamCount returns the number of streams with the given name.
func (s *Store) StreamCount(ctx context.Context, name string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM streams WHERE name = ?", name).Scan(&n); err != nil {
		return 0, fmt.Errorf("count streams: %w", err)
	}
	return n, nil
}

// DocumentsWithStream lists the documents of project holding a stream
// named name, ordered by path.
func (s *Store) DocumentsWithStream(ctx context.Context, project, name string) ([]text.DocumentKey, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT path FROM streams WHERE project = ? AND name = ? ORDER BY path",
		project, name,
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []text.DocumentKey
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("list documents: scan: %w", err)
		}
		out = append(out, text.DocumentKey{Project: project, Path: path})
	}
	return out, rows.Err()
}

// GetMetadata returns the value stored under key, or "" if unset.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get metadata %q: %w", key, err)
	}
	return value, nil
}

// SetMetadata stores value under key.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, "INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("set metadata %q: %w", key, err)
	}
	return nil
}
