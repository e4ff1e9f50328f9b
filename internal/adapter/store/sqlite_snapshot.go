package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver

	"imgsearch/internal/domain"
	"imgsearch/internal/port"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS embeddings (
	position INTEGER PRIMARY KEY,
	path     TEXT NOT NULL UNIQUE,
	dim      INTEGER NOT NULL,
	vector   BLOB NOT NULL
);`

// SQLiteSnapshotStore keeps the snapshot in a SQLite database, one row per
// record ordered by position.
type SQLiteSnapshotStore struct {
	path string
	mu   sync.Mutex
	db   *sql.DB
}

var _ port.SnapshotStore = (*SQLiteSnapshotStore)(nil)

func NewSQLiteSnapshotStore(path string) *SQLiteSnapshotStore {
	return &SQLiteSnapshotStore{path: path}
}

func (s *SQLiteSnapshotStore) open(ctx context.Context, create bool) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}
	if !create {
		if _, err := os.Stat(s.path); err != nil {
			return nil, err
		}
	} else if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", port.ErrCorruptSnapshot, err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to create schema: %v", port.ErrCorruptSnapshot, err)
	}
	s.db = db
	return db, nil
}

func (s *SQLiteSnapshotStore) Save(ctx context.Context, snap domain.Snapshot) error {
	db, err := s.open(ctx, true)
	if errors.Is(err, port.ErrCorruptSnapshot) {
		// an unreadable file is replaced, as the JSON store does
		if rmErr := os.Remove(s.path); rmErr == nil {
			db, err = s.open(ctx, true)
		}
	}
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings`); err != nil {
		return fmt.Errorf("failed to clear embeddings: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		string(keyFolder), snap.Folder); err != nil {
		return fmt.Errorf("failed to store folder: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO embeddings(position, path, dim, vector) VALUES(?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range snap.Records {
		if _, err := stmt.ExecContext(ctx, i, r.Path, len(r.Vector), encodeVector(r.Vector)); err != nil {
			return fmt.Errorf("failed to store %s: %w", r.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteSnapshotStore) Load(ctx context.Context) (domain.Snapshot, error) {
	db, err := s.open(ctx, false)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.Snapshot{}, nil
		}
		return domain.Snapshot{}, err
	}

	var snap domain.Snapshot
	err = db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, string(keyFolder)).Scan(&snap.Folder)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.Snapshot{}, corrupt(err)
	}

	rows, err := db.QueryContext(ctx, `SELECT path, dim, vector FROM embeddings ORDER BY position`)
	if err != nil {
		return domain.Snapshot{}, corrupt(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			path string
			dim  int
			blob []byte
		)
		if err := rows.Scan(&path, &dim, &blob); err != nil {
			return domain.Snapshot{}, corrupt(err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return domain.Snapshot{}, err
		}
		if len(vec) != dim {
			return domain.Snapshot{}, fmt.Errorf("%w: %s stores %d values, header says %d", port.ErrCorruptSnapshot, path, len(vec), dim)
		}
		snap.Records = append(snap.Records, domain.EmbeddingRecord{Path: path, Vector: vec})
	}
	if err := rows.Err(); err != nil {
		return domain.Snapshot{}, corrupt(err)
	}
	if err := validateRecords(snap.Records); err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

func (s *SQLiteSnapshotStore) Location() string {
	return s.path
}

func (s *SQLiteSnapshotStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func corrupt(err error) error {
	if errors.Is(err, port.ErrCorruptSnapshot) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", port.ErrCorruptSnapshot, err)
}
