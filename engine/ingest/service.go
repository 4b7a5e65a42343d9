// Package ingest turns an uploaded or referenced source into searchable
// InformationPieces: it extracts, chunks, enhances and stores them, tracking
// status through PROCESSING, UPLOADING, READY and ERROR.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/stackitcloud-oss/ragctl/engine/domain"
	"github.com/stackitcloud-oss/ragctl/pkg/blobstore"
	"github.com/stackitcloud-oss/ragctl/pkg/enhancer"
	"github.com/stackitcloud-oss/ragctl/pkg/natsutil"
	"github.com/stackitcloud-oss/ragctl/pkg/resilience"
)

// LifecycleSubject is the NATS subject status transitions are published to,
// for any interested observer outside of StatusStore polling.
const LifecycleSubject = "ragctl.source.lifecycle"

// LifecycleEvent is published whenever a source's status changes.
type LifecycleEvent struct {
	SourceName string        `json:"source_name"`
	Status     domain.Status `json:"status"`
	Detail     string        `json:"detail,omitempty"`
}

// StatusStore is the subset of pkg/statusstore.Store the uploader needs.
type StatusStore interface {
	Upsert(ctx context.Context, status domain.UploadStatus) error
	Get(ctx context.Context, qualifiedName string) (domain.UploadStatus, error)
}

// BlobStore is the subset of pkg/blobstore.Store the uploader needs.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, r io.Reader) (blobstore.Entry, error)
	Get(ctx context.Context, key string) (io.ReadCloser, blobstore.Entry, error)
	Delete(ctx context.Context, key string) error
}

// Extractor is the subset of pkg/extractor.Client the uploader needs.
type Extractor interface {
	Extract(ctx context.Context, sourceType, sourceName string, file io.Reader, filename string, kwargs []domain.KeyValuePair) ([]domain.ExtractedDocument, error)
}

// Enhancer is the subset of pkg/enhancer.Client the uploader needs.
type Enhancer interface {
	Enhance(ctx context.Context, piece domain.InformationPiece) (domain.InformationPiece, bool, error)
}

// VectorStore is the subset of engine/semantic.VectorStore the uploader needs.
type VectorStore interface {
	Upload(ctx context.Context, pieces []domain.InformationPiece, targetCollection string) error
	Delete(ctx context.Context, filter map[string]string, targetCollection string) error
}

// Config configures a Service.
type Config struct {
	// BaseURL is this service's own externally reachable address, used to
	// build document_reference URLs for file-backed sources.
	BaseURL string
	// ChunkOpts controls chunk size/overlap/markdown-awareness. Zero value
	// falls back to enhancer.DefaultChunkSize/DefaultOverlap.
	ChunkOpts enhancer.ChunkOpts
	// MaxConcurrentUploads bounds the background worker pool. Zero or
	// negative leaves it unbounded.
	MaxConcurrentUploads int
	// NATS, if set, receives lifecycle events as sources change status.
	NATS   *nats.Conn
	Logger *slog.Logger
}

// Service implements source upload: it accepts a source, answers
// immediately, and processes extraction/chunking/enhancement/storage in a
// cancellable background task.
type Service struct {
	status    StatusStore
	blobs     BlobStore
	extractor Extractor
	enhance   Enhancer
	vectors   VectorStore

	nc        *nats.Conn
	logger    *slog.Logger
	baseURL   string
	chunkOpts enhancer.ChunkOpts
	breaker   *resilience.Breaker

	group *errgroup.Group

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New builds a Service. extractor, vectors and status must not be nil;
// enhance and cfg.NATS may be nil to skip enhancement / lifecycle events.
func New(status StatusStore, blobs BlobStore, extractorClient Extractor, enhance Enhancer, vectors VectorStore, cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	chunkOpts := cfg.ChunkOpts
	if chunkOpts.ChunkSize <= 0 {
		chunkOpts = enhancer.ChunkOpts{ChunkSize: enhancer.DefaultChunkSize, Overlap: enhancer.DefaultOverlap, KeepMarkdownFormat: true}
	}
	group := &errgroup.Group{}
	if cfg.MaxConcurrentUploads > 0 {
		group.SetLimit(cfg.MaxConcurrentUploads)
	}

	return &Service{
		status:    status,
		blobs:     blobs,
		extractor: extractorClient,
		enhance:   enhance,
		vectors:   vectors,
		nc:        cfg.NATS,
		logger:    logger,
		baseURL:   cfg.BaseURL,
		chunkOpts: chunkOpts,
		breaker:   resilience.NewBreaker(resilience.DefaultBreakerOpts),
		group:     group,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// UploadSource validates and registers src, persists any attached file,
// marks it PROCESSING and returns immediately — extraction through storage
// runs in a background task bounded by the service's worker pool.
func (s *Service) UploadSource(ctx context.Context, src domain.Source, file io.Reader, filename string) error {
	if err := domain.ValidateSource(src); err != nil {
		return err
	}
	src.SanitizedName = domain.Sanitize(src.Name)
	qualifiedName := src.QualifiedName()

	if current, err := s.status.Get(ctx, qualifiedName); err == nil && current.Status == domain.StatusProcessing {
		return domain.ErrSourceBusy
	}

	if err := s.status.Upsert(ctx, domain.UploadStatus{SourceName: qualifiedName, Status: domain.StatusProcessing, UpdatedAt: time.Now()}); err != nil {
		return fmt.Errorf("ingest: mark processing: %w", err)
	}
	s.publishLifecycle(qualifiedName, domain.StatusProcessing, "")

	var blobKey string
	if file != nil {
		entry, err := s.blobs.Put(ctx, qualifiedName, "application/octet-stream", file)
		if err != nil {
			s.failImmediately(qualifiedName, err)
			return fmt.Errorf("ingest: store uploaded file: %w", err)
		}
		blobKey = entry.Key
	}

	job := uploadJob{
		source:        src,
		qualifiedName: qualifiedName,
		blobKey:       blobKey,
		filename:      filename,
		baseURL:       s.baseURL,
	}

	go func() {
		s.group.Go(func() error {
			s.processInBackground(job)
			return nil
		})
	}()

	return nil
}

// Cancel requests cancellation of an in-flight upload. Returns false if no
// upload is currently running for qualifiedName.
func (s *Service) Cancel(qualifiedName string) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[qualifiedName]
	s.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

func (s *Service) registerCancel(qualifiedName string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels[qualifiedName] = cancel
}

func (s *Service) unregisterCancel(qualifiedName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, qualifiedName)
}

func (s *Service) processInBackground(job uploadJob) {
	ctx, cancel := context.WithCancel(context.Background())
	s.registerCancel(job.qualifiedName, cancel)
	defer s.unregisterCancel(job.qualifiedName)
	defer cancel()

	result := s.pipeline()(ctx, job)
	if result.IsErr() {
		_, err := result.Unwrap()
		s.logger.Error("ingest: source upload failed", "source", job.qualifiedName, "error", err)
		s.transition(context.Background(), job.qualifiedName, domain.StatusError, err.Error())
		return
	}

	s.transition(context.Background(), job.qualifiedName, domain.StatusReady, "")
	s.logger.Info("ingest: source upload ready", "source", job.qualifiedName)
}

func (s *Service) failImmediately(qualifiedName string, err error) {
	s.transition(context.Background(), qualifiedName, domain.StatusError, err.Error())
}

func (s *Service) transition(ctx context.Context, qualifiedName string, status domain.Status, detail string) {
	if err := s.status.Upsert(ctx, domain.UploadStatus{SourceName: qualifiedName, Status: status, Detail: detail, UpdatedAt: time.Now()}); err != nil {
		s.logger.Error("ingest: status update failed", "source", qualifiedName, "status", status, "error", err)
	}
	s.publishLifecycle(qualifiedName, status, detail)
}

func (s *Service) publishLifecycle(sourceName string, status domain.Status, detail string) {
	if s.nc == nil {
		return
	}
	event := LifecycleEvent{SourceName: sourceName, Status: status, Detail: detail}
	if err := natsutil.Publish(context.Background(), s.nc, LifecycleSubject, event); err != nil {
		s.logger.Warn("ingest: publish lifecycle event failed", "source", sourceName, "error", err)
	}
}

// deleteWithRetry deletes the previous version of a source with bounded
// exponential backoff; the caller treats any returned error as non-fatal.
func (s *Service) deleteWithRetry(ctx context.Context, qualifiedName string) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	return backoff.Retry(func() error {
		return s.vectors.Delete(ctx, map[string]string{domain.MetaKeySource: qualifiedName}, "")
	}, policy)
}
