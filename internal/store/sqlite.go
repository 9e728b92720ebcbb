package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"buildcache/internal/core"
)

const createRecordsTable = `
CREATE TABLE IF NOT EXISTS records (
    group_id    TEXT NOT NULL,
    artifact_id TEXT NOT NULL,
    version     TEXT NOT NULL,
    checksum    TEXT NOT NULL,
    build_info  BLOB NOT NULL,
    PRIMARY KEY (group_id, artifact_id, version, checksum)
)`

const createBlobsTable = `
CREATE TABLE IF NOT EXISTS blobs (
    digest  TEXT PRIMARY KEY,
    content BLOB NOT NULL
)`

// SQLiteStore keeps records and blobs in a SQLite database. A Put is one
// transaction.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ Backend = (*SQLiteStore)(nil)

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	for _, stmt := range []string{createRecordsTable, createBlobsTable} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create tables: %w", err)
		}
	}
	return &SQLiteStore{db: db, path: dbPath}, nil
}

func (s *SQLiteStore) location(key core.ProjectKey, sum core.Checksum) string {
	return fmt.Sprintf("%s#%s/%s", s.path, key, sum)
}

// Get implements Backend.
func (s *SQLiteStore) Get(ctx context.Context, key core.ProjectKey, sum core.Checksum) (*core.CacheRecord, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT build_info FROM records
		WHERE group_id = ? AND artifact_id = ? AND version = ? AND checksum = ?`,
		key.GroupID, key.ArtifactID, key.Version, sum.String(),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	var rec core.CacheRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse record: %w", err)
	}
	rec.StorageLocation = s.location(key, sum)
	return &rec, nil
}

// Put implements Backend.
func (s *SQLiteStore) Put(ctx context.Context, rec *core.CacheRecord, blobs core.Blobs) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for d, content := range blobs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO blobs (digest, content) VALUES (?, ?) ON CONFLICT(digest) DO UPDATE SET content = excluded.content`,
			d, content,
		); err != nil {
			return "", fmt.Errorf("insert blob %s: %w", d, err)
		}
	}

	key := rec.Project
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO records (group_id, artifact_id, version, checksum, build_info)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(group_id, artifact_id, version, checksum) DO UPDATE SET build_info = excluded.build_info`,
		key.GroupID, key.ArtifactID, key.Version, rec.Checksum.String(), data,
	); err != nil {
		return "", fmt.Errorf("upsert record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit record: %w", err)
	}
	return s.location(key, rec.Checksum), nil
}

// Blob implements Backend.
func (s *SQLiteStore) Blob(ctx context.Context, _ core.ProjectKey, _ core.Checksum, digest string) ([]byte, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx, `SELECT content FROM blobs WHERE digest = ?`, digest).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, digest)
	}
	if err != nil {
		return nil, fmt.Errorf("get blob: %w", err)
	}
	return content, nil
}

// DeleteBlob removes a blob, simulating a damaged cache.
func (s *SQLiteStore) DeleteBlob(ctx context.Context, digest string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE digest = ?`, digest)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
