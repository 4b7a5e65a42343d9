package pieces

import (
	"context"
	"errors"
	"testing"

	"github.com/stackitcloud-oss/ragctl/engine/domain"
)

type fakeStore struct {
	snapshots   []string
	snapshotErr error

	deleteFilter map[string]string
	deleteTarget string
	deleteErr    error

	uploadedPieces []domain.InformationPiece
	uploadTarget   string
	uploadErr      error
}

func (f *fakeStore) SortedSnapshots(context.Context) ([]string, error) {
	return f.snapshots, f.snapshotErr
}

func (f *fakeStore) Delete(_ context.Context, filter map[string]string, target string) error {
	f.deleteFilter = filter
	f.deleteTarget = target
	return f.deleteErr
}

func (f *fakeStore) Upload(_ context.Context, ps []domain.InformationPiece, target string) error {
	f.uploadedPieces = ps
	f.uploadTarget = target
	return f.uploadErr
}

func TestRemoverRejectsEmptyFilter(t *testing.T) {
	r := NewRemover(&fakeStore{})
	err := r.Delete(context.Background(), DeleteRequest{})
	if !errors.Is(err, ErrNoMetadataFilter) {
		t.Fatalf("expected ErrNoMetadataFilter, got %v", err)
	}
}

func TestRemoverBuildsMetadataPrefixedFilter(t *testing.T) {
	store := &fakeStore{}
	r := NewRemover(store)

	err := r.Delete(context.Background(), DeleteRequest{
		Metadata: []domain.KeyValuePair{{Key: "document", Value: `"confluence:demo"`}},
	})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if store.deleteFilter["metadata.document"] != "confluence:demo" {
		t.Fatalf("unexpected filter: %+v", store.deleteFilter)
	}
	if store.deleteTarget != "" {
		t.Fatalf("expected production alias target, got %q", store.deleteTarget)
	}
}

func TestRemoverTargetsLatestSnapshotWhenRequested(t *testing.T) {
	store := &fakeStore{snapshots: []string{"rag_20260101000000", "rag_20260201000000"}}
	r := NewRemover(store)

	err := r.Delete(context.Background(), DeleteRequest{
		Metadata:            []domain.KeyValuePair{{Key: "document", Value: `"x"`}},
		UseLatestCollection: true,
	})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if store.deleteTarget != "rag_20260201000000" {
		t.Fatalf("expected latest snapshot as target, got %q", store.deleteTarget)
	}
}

func TestRemoverRejectsInvalidFilterJSON(t *testing.T) {
	r := NewRemover(&fakeStore{})
	err := r.Delete(context.Background(), DeleteRequest{
		Metadata: []domain.KeyValuePair{{Key: "document", Value: "not-json"}},
	})
	if !errors.Is(err, ErrInvalidFilterValue) {
		t.Fatalf("expected ErrInvalidFilterValue, got %v", err)
	}
}

func TestRemoverWrapsStoreFailure(t *testing.T) {
	store := &fakeStore{deleteErr: errors.New("qdrant unreachable")}
	r := NewRemover(store)

	err := r.Delete(context.Background(), DeleteRequest{
		Metadata: []domain.KeyValuePair{{Key: "document", Value: `"x"`}},
	})
	if !errors.Is(err, ErrRemovalFailed) {
		t.Fatalf("expected ErrRemovalFailed, got %v", err)
	}
}

func TestUploaderRejectsInvalidPieceSchema(t *testing.T) {
	u := NewUploader(&fakeStore{})
	err := u.Upload(context.Background(), UploadRequest{
		Pieces: []domain.InformationPiece{{ID: "", Text: "hello"}},
	})
	if !errors.Is(err, ErrInvalidPieceSchema) {
		t.Fatalf("expected ErrInvalidPieceSchema, got %v", err)
	}
}

func TestUploaderWritesToLatestSnapshotWhenRequested(t *testing.T) {
	store := &fakeStore{snapshots: []string{"rag_20260101000000"}}
	u := NewUploader(store)

	piece := domain.InformationPiece{ID: "p1", Text: "hello"}
	err := u.Upload(context.Background(), UploadRequest{
		Pieces:              []domain.InformationPiece{piece},
		UseLatestCollection: true,
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if store.uploadTarget != "rag_20260101000000" {
		t.Fatalf("expected latest snapshot as target, got %q", store.uploadTarget)
	}
	if len(store.uploadedPieces) != 1 || store.uploadedPieces[0].ID != "p1" {
		t.Fatalf("unexpected uploaded pieces: %+v", store.uploadedPieces)
	}
}
