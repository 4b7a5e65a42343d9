// Package collection manages the rolling-update lifecycle of Qdrant
// snapshot collections sitting behind a single production alias.
package collection

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stackitcloud-oss/ragctl/engine/domain"
	"github.com/stackitcloud-oss/ragctl/engine/semantic"
)

// Store is the subset of engine/semantic.VectorStore the Manager depends
// on, narrowed to an interface so tests can supply a fake.
type Store interface {
	SortedSnapshots(ctx context.Context) ([]string, error)
	AliasTargets(ctx context.Context) ([]semantic.AliasTarget, error)
	CreateFrom(ctx context.Context, sourceCollection, targetCollection string) error
	SwitchAlias(ctx context.Context, targetCollection string) (noop bool, err error)
	DeleteCollection(ctx context.Context, name string) error
	Alias() string
	HistoryCount() int
}

// Manager implements the Duplicate/Switch/EvictOldest rolling-update
// protocol, grounded on default_collection_duplicator.py and
// default_collection_switcher.py.
type Manager struct {
	store  Store
	clock  func() string
	logger *slog.Logger
}

// New creates a Manager over store.
func New(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, logger: logger}
}

// Duplicate creates a new timestamped snapshot seeded from the collection
// currently bound to the production alias. Returns ErrNoSuchCollection if
// the alias is unbound, or ErrAmbiguousAlias if more than one collection
// answers to it (a state that should never occur in normal operation).
func (m *Manager) Duplicate(ctx context.Context) (newSnapshot string, err error) {
	interest, err := m.store.AliasTargets(ctx)
	if err != nil {
		return "", err
	}
	if len(interest) == 0 {
		return "", fmt.Errorf("%w: alias %q", domain.ErrNoSuchCollection, m.store.Alias())
	}
	if len(interest) > 1 {
		return "", fmt.Errorf("%w: alias %q", domain.ErrAmbiguousAlias, m.store.Alias())
	}
	source := interest[0].Collection

	target := fmt.Sprintf("%s_%s", m.store.Alias(), timestampSuffix())
	m.logger.Info("duplicating collection", "source", source, "target", target)
	if err := m.store.CreateFrom(ctx, source, target); err != nil {
		return "", fmt.Errorf("collection: duplicate: %w", err)
	}
	return target, nil
}

// Switch repoints the production alias at the most recent snapshot
// (latest = max timestamp), then evicts anything beyond the retention
// window. A no-op switch (alias already pointing at latest) is logged, not
// treated as an error.
func (m *Manager) Switch(ctx context.Context) error {
	snapshots, err := m.store.SortedSnapshots(ctx)
	if err != nil {
		return err
	}
	latest := snapshots[len(snapshots)-1]

	noop, err := m.store.SwitchAlias(ctx, latest)
	if err != nil {
		return fmt.Errorf("collection: switch: %w", err)
	}
	if noop {
		m.logger.Warn("alias already points at the latest collection, nothing to do", "collection", latest)
	} else {
		m.logger.Info("switched alias", "alias", m.store.Alias(), "collection", latest)
	}

	return m.EvictOldest(ctx)
}

// EvictOldest deletes the oldest snapshots beyond the configured retention
// window. It never deletes the last remaining snapshot, even if the
// retention window is smaller than one.
func (m *Manager) EvictOldest(ctx context.Context) error {
	history := m.store.HistoryCount()
	if history <= 0 {
		return nil
	}

	for {
		snapshots, err := m.store.SortedSnapshots(ctx)
		if err != nil {
			return err
		}
		if len(snapshots) <= 1 || len(snapshots) <= history {
			return nil
		}
		oldest := snapshots[0]
		if err := m.store.DeleteCollection(ctx, oldest); err != nil {
			return fmt.Errorf("collection: evict %s: %w", oldest, err)
		}
		m.logger.Info("evicted old collection", "collection", oldest)
	}
}
