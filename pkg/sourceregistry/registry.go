// Package sourceregistry is a durable record of every source passed to
// Record, one row per source updated in place, independent of
// StatusStore's TTL'd in-flight state: an operator can look up a source's
// first-seen time and latest status after its StatusStore entry has
// expired. Earlier status transitions are overwritten, not kept.
package sourceregistry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/stackitcloud-oss/ragctl/engine/domain"
)

// Entry is one row of the registry: a source's identity plus the most
// recent lifecycle transition recorded for it.
type Entry struct {
	SourceName     string
	SourceType     string
	Name           string
	FirstSeen      time.Time
	LastStatus     domain.Status
	LastFinishedAt *time.Time
}

// Registry records and looks up source upload history in Postgres.
type Registry struct {
	db *sql.DB
}

// Open connects to Postgres and ensures the registry table exists.
func Open(dsn string) (*Registry, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sourceregistry: open: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS source_registry (
		source_name       TEXT PRIMARY KEY,
		source_type       TEXT NOT NULL,
		name              TEXT NOT NULL,
		first_seen        TIMESTAMPTZ NOT NULL,
		last_status       TEXT NOT NULL,
		last_finished_at  TIMESTAMPTZ
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sourceregistry: create table: %w", err)
	}
	return &Registry{db: db}, nil
}

// Close closes the underlying connection pool.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Record upserts a source's latest known status. first_seen is preserved
// across updates; last_finished_at is set only when status is a terminal
// state (READY or ERROR).
func (r *Registry) Record(ctx context.Context, src domain.Source, status domain.Status) error {
	sourceName := src.QualifiedName()
	var finishedAt *time.Time
	if status == domain.StatusReady || status == domain.StatusError {
		now := time.Now().UTC()
		finishedAt = &now
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO source_registry (source_name, source_type, name, first_seen, last_status, last_finished_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source_name) DO UPDATE SET
			last_status = excluded.last_status,
			last_finished_at = COALESCE(excluded.last_finished_at, source_registry.last_finished_at)
	`, sourceName, src.Type, src.Name, time.Now().UTC(), string(status), finishedAt)
	if err != nil {
		return fmt.Errorf("sourceregistry: record %s: %w", sourceName, err)
	}
	return nil
}

// ErrNotFound is returned by Get when no entry exists for a source.
var ErrNotFound = errors.New("sourceregistry: not found")

// Get fetches a single source's registry entry.
func (r *Registry) Get(ctx context.Context, sourceName string) (Entry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT source_name, source_type, name, first_seen, last_status, last_finished_at
		FROM source_registry WHERE source_name = $1
	`, sourceName)

	var e Entry
	var status string
	if err := row.Scan(&e.SourceName, &e.SourceType, &e.Name, &e.FirstSeen, &status, &e.LastFinishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("sourceregistry: get %s: %w", sourceName, err)
	}
	e.LastStatus = domain.Status(status)
	return e, nil
}

// All lists every registered source, most recently first-seen first.
func (r *Registry) All(ctx context.Context) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT source_name, source_type, name, first_seen, last_status, last_finished_at
		FROM source_registry ORDER BY first_seen DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("sourceregistry: list: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var status string
		if err := rows.Scan(&e.SourceName, &e.SourceType, &e.Name, &e.FirstSeen, &status, &e.LastFinishedAt); err != nil {
			return nil, fmt.Errorf("sourceregistry: scan: %w", err)
		}
		e.LastStatus = domain.Status(status)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
