package retriever

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/stackitcloud-oss/ragctl/engine/domain"
)

// ReadinessChecker reports whether the production collection is ready to
// serve search: an aliased snapshot exists and holds at least one point.
type ReadinessChecker interface {
	Ready(ctx context.Context) (bool, error)
}

// NeighborLookup is the subset of engine/semantic.VectorStore the
// single-hop related-piece expansion needs.
type NeighborLookup interface {
	GetByID(ctx context.Context, id string) (domain.InformationPiece, bool, error)
}

// Retriever runs a configured set of quarks and merges their results into
// one deduplicated, neighbour-expanded answer.
type Retriever struct {
	ready     ReadinessChecker
	neighbors NeighborLookup
	quarks    []Quark
	logger    *slog.Logger
}

// New builds a Retriever over the given quarks, run in the order supplied.
func New(ready ReadinessChecker, neighbors NeighborLookup, logger *slog.Logger, quarks ...Quark) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{ready: ready, neighbors: neighbors, quarks: quarks, logger: logger}
}

// Search runs every quark against prompt/filter, drops summary pieces,
// deduplicates by ID, expands one hop of related pieces, and deduplicates
// again. Empty quark output returns an empty, non-error result; a
// collection that is not ready, including an empty one, returns
// domain.ErrNoDocuments.
func (r *Retriever) Search(ctx context.Context, prompt string, filter map[string]string) ([]domain.InformationPiece, error) {
	ready, err := r.ready.Ready(ctx)
	if err != nil {
		return nil, fmt.Errorf("retriever: readiness check: %w", err)
	}
	if !ready {
		return nil, domain.ErrNoDocuments
	}

	var all []Hit
	for _, q := range r.quarks {
		hits, err := q.Invoke(ctx, prompt, filter)
		if err != nil {
			return nil, fmt.Errorf("retriever: quark invoke: %w", err)
		}
		all = append(all, hits...)
	}

	deduped := dedupeContent(all)
	if len(deduped) == 0 {
		return nil, nil
	}

	expanded, err := r.expand(ctx, deduped)
	if err != nil {
		return nil, fmt.Errorf("retriever: expand related: %w", err)
	}

	result := make([]domain.InformationPiece, 0, len(deduped)+len(expanded))
	seen := make(map[string]bool, len(deduped)+len(expanded))
	for _, p := range deduped {
		if seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		result = append(result, p)
	}
	for _, group := range expanded {
		for _, p := range group {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			result = append(result, p)
		}
	}
	return result, nil
}

// dedupeContent drops SUMMARY pieces and deduplicates by ID, keeping the
// first occurrence's order.
func dedupeContent(hits []Hit) []domain.InformationPiece {
	seen := map[string]bool{}
	var out []domain.InformationPiece
	for _, h := range hits {
		if h.Piece.Type == domain.PieceSummary {
			continue
		}
		if seen[h.Piece.ID] {
			continue
		}
		seen[h.Piece.ID] = true
		out = append(out, h.Piece)
	}
	return out
}

// expand fetches each piece's single hop of related pieces concurrently,
// returning one slice per input piece in the same order so the caller can
// merge deterministically regardless of fetch completion order.
func (r *Retriever) expand(ctx context.Context, pieces []domain.InformationPiece) ([][]domain.InformationPiece, error) {
	groups := make([][]domain.InformationPiece, len(pieces))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range pieces {
		i, p := i, p
		if len(p.Related) == 0 {
			continue
		}
		g.Go(func() error {
			var neighbors []domain.InformationPiece
			for _, id := range p.Related {
				piece, found, err := r.neighbors.GetByID(gctx, id)
				if err != nil {
					return err
				}
				if found {
					neighbors = append(neighbors, piece)
				}
			}
			groups[i] = neighbors
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return groups, nil
}
