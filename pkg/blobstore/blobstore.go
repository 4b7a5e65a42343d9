// Package blobstore stores uploaded source files on local disk, indexed by
// a SQLite manifest recording size, content type and checksum.
package blobstore

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/blake2b"
)

// ErrNotFound is returned when a key has no manifest entry.
var ErrNotFound = errors.New("blobstore: not found")

// Entry describes a stored blob.
type Entry struct {
	Key         string
	Size        int64
	ContentType string
	Checksum    string
}

// Store is a filesystem-backed object store with a SQLite manifest.
type Store struct {
	dir string
	db  *sql.DB
}

// Open creates (if needed) the blob directory and manifest database.
func Open(dir, manifestPath string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: mkdir %s: %w", dir, err)
	}
	db, err := sql.Open("sqlite3", manifestPath)
	if err != nil {
		return nil, fmt.Errorf("blobstore: open manifest: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS blobs (
		key TEXT PRIMARY KEY,
		size INTEGER NOT NULL,
		content_type TEXT NOT NULL,
		checksum TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("blobstore: create manifest table: %w", err)
	}
	return &Store{dir: dir, db: db}, nil
}

// Close closes the manifest database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key)
}

// Put writes r to disk under key and records its manifest entry. The
// checksum is BLAKE2b-256 over the written content.
func (s *Store) Put(ctx context.Context, key, contentType string, r io.Reader) (Entry, error) {
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Entry{}, fmt.Errorf("blobstore: mkdir for %s: %w", key, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return Entry{}, fmt.Errorf("blobstore: create %s: %w", key, err)
	}
	defer f.Close()

	hasher, err := blake2b.New256(nil)
	if err != nil {
		return Entry{}, fmt.Errorf("blobstore: init checksum: %w", err)
	}

	size, err := io.Copy(io.MultiWriter(f, hasher), r)
	if err != nil {
		return Entry{}, fmt.Errorf("blobstore: write %s: %w", key, err)
	}

	entry := Entry{
		Key:         key,
		Size:        size,
		ContentType: contentType,
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO blobs (key, size, content_type, checksum)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET size=excluded.size, content_type=excluded.content_type, checksum=excluded.checksum`,
		entry.Key, entry.Size, entry.ContentType, entry.Checksum)
	if err != nil {
		return Entry{}, fmt.Errorf("blobstore: record manifest for %s: %w", key, err)
	}
	return entry, nil
}

// Get opens the blob stored under key for reading. The caller must close it.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, Entry, error) {
	entry, err := s.Stat(ctx, key)
	if err != nil {
		return nil, Entry{}, err
	}
	f, err := os.Open(s.path(key))
	if err != nil {
		return nil, Entry{}, fmt.Errorf("blobstore: open %s: %w", key, err)
	}
	return f, entry, nil
}

// Stat returns the manifest entry for key without opening the file.
func (s *Store) Stat(ctx context.Context, key string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT key, size, content_type, checksum FROM blobs WHERE key = ?`, key)
	var e Entry
	if err := row.Scan(&e.Key, &e.Size, &e.ContentType, &e.Checksum); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("blobstore: stat %s: %w", key, err)
	}
	return e, nil
}

// Delete removes both the blob and its manifest entry. Deleting a key that
// does not exist is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blobstore: remove %s: %w", key, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE key = ?`, key); err != nil {
		return fmt.Errorf("blobstore: remove manifest entry for %s: %w", key, err)
	}
	return nil
}
