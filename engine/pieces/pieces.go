// Package pieces implements the two direct-path operations against the
// vector store that bypass the ingest pipeline: bulk removal and bulk
// upload of already-chunked InformationPieces by metadata filter.
package pieces

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stackitcloud-oss/ragctl/engine/domain"
)

// Sentinel errors name the failure class a caller (cmd/api) maps onto an
// HTTP status: ErrNoMetadataFilter and ErrInvalidPieceSchema are client
// errors (422), ErrRemovalFailed is a not-found (404); anything else is a
// vector-store failure (500).
var (
	ErrNoMetadataFilter   = errors.New("delete request carries no metadata filter")
	ErrInvalidFilterValue = errors.New("metadata filter value is not valid JSON")
	ErrInvalidPieceSchema = errors.New("information piece failed schema validation")
	ErrRemovalFailed      = errors.New("no pieces matched the delete filter")
)

// VectorStore is the subset of engine/semantic.VectorStore both operations
// need.
type VectorStore interface {
	Upload(ctx context.Context, pieces []domain.InformationPiece, targetCollection string) error
	Delete(ctx context.Context, filter map[string]string, targetCollection string) error
	SortedSnapshots(ctx context.Context) ([]string, error)
}

// DeleteRequest carries the metadata filter and target-snapshot choice for
// a bulk removal.
type DeleteRequest struct {
	Metadata            []domain.KeyValuePair
	UseLatestCollection bool
}

// UploadRequest carries the pieces and target-snapshot choice for a bulk
// upload via the direct (non-ingest-pipeline) path.
type UploadRequest struct {
	Pieces              []domain.InformationPiece
	UseLatestCollection bool
}

// Remover deletes InformationPieces matching a metadata filter.
type Remover struct {
	store VectorStore
}

// NewRemover builds a Remover.
func NewRemover(store VectorStore) *Remover {
	return &Remover{store: store}
}

// Delete rejects requests with no metadata filter, parses each filter
// value as JSON, resolves the target snapshot and deletes matching points.
func (r *Remover) Delete(ctx context.Context, req DeleteRequest) error {
	if len(req.Metadata) == 0 {
		return ErrNoMetadataFilter
	}

	filter, err := buildFilter(req.Metadata)
	if err != nil {
		return err
	}

	target, err := resolveTarget(ctx, r.store, req.UseLatestCollection)
	if err != nil {
		return fmt.Errorf("pieces: resolve target snapshot: %w", err)
	}

	if err := r.store.Delete(ctx, filter, target); err != nil {
		return fmt.Errorf("%w: %s", ErrRemovalFailed, err)
	}
	return nil
}

// Uploader writes already-chunked InformationPieces directly, bypassing
// extraction/chunking/enhancement.
type Uploader struct {
	store VectorStore
}

// NewUploader builds an Uploader.
func NewUploader(store VectorStore) *Uploader {
	return &Uploader{store: store}
}

// Upload validates every piece's schema, resolves the target snapshot
// exactly as Remover.Delete does, and writes the pieces.
func (u *Uploader) Upload(ctx context.Context, req UploadRequest) error {
	for _, p := range req.Pieces {
		if err := domain.ValidatePiece(p); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidPieceSchema, err)
		}
	}

	target, err := resolveTarget(ctx, u.store, req.UseLatestCollection)
	if err != nil {
		return fmt.Errorf("pieces: resolve target snapshot: %w", err)
	}

	if err := u.store.Upload(ctx, req.Pieces, target); err != nil {
		return fmt.Errorf("pieces: upload: %w", err)
	}
	return nil
}

// resolveTarget picks the collection Delete/Upload should act on:
// SortedSnapshots().last() when useLatest is set, otherwise the empty
// string, which both VectorStore operations resolve to the production
// alias's current collection themselves.
func resolveTarget(ctx context.Context, store VectorStore, useLatest bool) (string, error) {
	if !useLatest {
		return "", nil
	}
	snapshots, err := store.SortedSnapshots(ctx)
	if err != nil {
		return "", err
	}
	return snapshots[len(snapshots)-1], nil
}

// buildFilter parses each KeyValuePair's JSON-encoded value and builds a
// "metadata.<key>" -> string filter map, matching the payload field names
// engine/semantic writes pieces under.
func buildFilter(pairs []domain.KeyValuePair) (map[string]string, error) {
	filter := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		var decoded any
		if err := json.Unmarshal([]byte(kv.Value), &decoded); err != nil {
			return nil, fmt.Errorf("%w: key %q: %s", ErrInvalidFilterValue, kv.Key, err)
		}
		filter["metadata."+kv.Key] = fmt.Sprint(decoded)
	}
	return filter, nil
}
