// Command api serves the ingestion/retrieval control plane's HTTP surface:
// source upload and status, direct information-piece upload/removal,
// collection rollover, retrieval, and the ambient health/metrics endpoints.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/stackitcloud-oss/ragctl/engine/collection"
	"github.com/stackitcloud-oss/ragctl/engine/confluence"
	"github.com/stackitcloud-oss/ragctl/engine/domain"
	"github.com/stackitcloud-oss/ragctl/engine/ingest"
	"github.com/stackitcloud-oss/ragctl/engine/pieces"
	"github.com/stackitcloud-oss/ragctl/engine/retriever"
	"github.com/stackitcloud-oss/ragctl/engine/semantic"
	"github.com/stackitcloud-oss/ragctl/pkg/blobstore"
	"github.com/stackitcloud-oss/ragctl/pkg/config"
	"github.com/stackitcloud-oss/ragctl/pkg/enhancer"
	"github.com/stackitcloud-oss/ragctl/pkg/extractor"
	"github.com/stackitcloud-oss/ragctl/pkg/metrics"
	"github.com/stackitcloud-oss/ragctl/pkg/mid"
	"github.com/stackitcloud-oss/ragctl/pkg/openapi"
	"github.com/stackitcloud-oss/ragctl/pkg/resilience"
	"github.com/stackitcloud-oss/ragctl/pkg/sourceregistry"
	"github.com/stackitcloud-oss/ragctl/pkg/statusstore"
)

func main() {
	if err := run(); err != nil {
		slog.Error("api: fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	a, err := wire(context.Background(), cfg, logger)
	if err != nil {
		return fmt.Errorf("wire dependencies: %w", err)
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("api: graceful shutdown failed", "error", err)
		}
	}()

	logger.Info("api: listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// statusStore is the subset of pkg/statusstore.Store main.go needs, plus
// Close — narrowed the way every other component in this module depends
// on an interface rather than a concrete neighbor package.
type statusStore interface {
	Upsert(ctx context.Context, status domain.UploadStatus) error
	Get(ctx context.Context, qualifiedName string) (domain.UploadStatus, error)
	GetAll(ctx context.Context) ([]domain.UploadStatus, error)
	Close() error
}

// app bundles every wired component the router's handlers close over.
type app struct {
	router *chi.Mux

	cfg       config.Config
	logger    *slog.Logger
	status    statusStore
	blobs     *blobstore.Store
	vectors   *semantic.VectorStore
	ingestor  *ingest.Service
	manager   *collection.Manager
	retrv     *retriever.Retriever
	remover   *pieces.Remover
	uploader  *pieces.Uploader
	confl     *confluence.Loader
	registry  *sourceregistry.Registry
}

func (a *app) Close() {
	if a.status != nil {
		_ = a.status.Close()
	}
	if a.blobs != nil {
		_ = a.blobs.Close()
	}
	if a.vectors != nil {
		_ = a.vectors.Close()
	}
	if a.registry != nil {
		_ = a.registry.Close()
	}
}

// wire constructs every component and the router in dependency order:
// stores first, then the engines that depend on them, then HTTP routing.
func wire(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	status, err := statusstore.New(ctx, statusstore.Options{
		Addr:   cfg.RedisAddr,
		TTL:    24 * time.Hour,
		Prefix: "ragctl:status:",
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect status store: %w", err)
	}

	blobs, err := blobstore.Open(cfg.BlobDir, cfg.ManifestDB)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	extractorClient := extractor.New(cfg.ExtractorURL, &http.Client{Timeout: 5 * time.Minute})

	var enhanceClient *enhancer.Client
	if cfg.EnhancerURL != "" {
		limiter := resilience.NewLimiter(resilience.LimiterOpts{Rate: 2, Burst: 4})
		enhanceClient = enhancer.New(cfg.EnhancerURL, &http.Client{Timeout: 2 * time.Minute}, limiter)
	}

	vectors, err := semantic.New(semantic.Config{
		Addr:           cfg.QdrantAddr,
		Alias:          cfg.QdrantAlias,
		DenseEmbedder:  semantic.NewHTTPEmbedder(cfg.OllamaURL, "nomic-embed-text"),
		SparseEmbedder: semantic.NewHTTPSparseEmbedder(cfg.OllamaURL),
		Dims:           cfg.QdrantDims,
		HistoryCount:   cfg.QdrantHistoryCount,
	})
	if err != nil {
		return nil, fmt.Errorf("connect vector store: %w", err)
	}

	ingestor := ingest.New(status, blobs, extractorClient, enhanceWrap(enhanceClient), vectors, ingest.Config{
		BaseURL:              "http://localhost:" + cfg.HTTPPort,
		MaxConcurrentUploads: cfg.IngestWorkerLimit,
		Logger:               logger,
	})

	manager := collection.New(vectors, logger)

	dense := retriever.NewVectorQuark(vectors, 10)
	lexical := retriever.NewLexicalQuark(vectors, 10)
	retrv := retriever.New(vectors, vectors, logger, dense, lexical)

	remover := pieces.NewRemover(vectors)
	uploader := pieces.NewUploader(vectors)

	confl := confluence.New(cfg.Confluence, func(ctx context.Context, src domain.Source, filename string) error {
		return ingestor.UploadSource(ctx, src, nil, filename)
	}, logger)

	var registry *sourceregistry.Registry
	if cfg.PostgresDSN != "" {
		registry, err = sourceregistry.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open source registry: %w", err)
		}
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		status:   status,
		blobs:    blobs,
		vectors:  vectors,
		ingestor: ingestor,
		manager:  manager,
		retrv:    retrv,
		remover:  remover,
		uploader: uploader,
		confl:    confl,
		registry: registry,
	}
	router, err := a.newRouter()
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}
	a.router = router
	return a, nil
}

// enhanceWrap adapts a possibly-nil *enhancer.Client to engine/ingest's
// Enhancer interface: a nil enhancer means "skip enhancement", which
// ingest.Service already handles when its Enhancer dependency is nil.
func enhanceWrap(c *enhancer.Client) ingest.Enhancer {
	if c == nil {
		return nil
	}
	return c
}

func (a *app) newRouter() (*chi.Mux, error) {
	validator, err := openapi.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("build openapi validator: %w", err)
	}

	r := chi.NewRouter()
	r.Use(mid.Recover(a.logger))
	r.Use(mid.Logger(a.logger))
	r.Use(mid.CORS("*"))
	r.Use(mid.OTel("ragctl-api"))
	r.Use(metrics.HTTPMiddleware(chiRoutePattern))
	r.Use(validator.Middleware)

	r.Get("/healthz", a.handleHealthz)
	r.Get("/readyz", a.handleReadyz)
	r.Handle("/metrics", a.metricsHandler())

	r.Post("/upload_source", a.handleUploadSource)
	r.Post("/load_confluence", a.handleLoadConfluence)
	r.Delete("/delete_document/{id}", a.handleDeleteDocument)
	r.Get("/document_reference/{id}", a.handleDocumentReference)
	r.Get("/all_documents_status", a.handleAllDocumentsStatus)

	r.Post("/chat/{session_id}", a.handleChat)
	r.Post("/information_pieces/upload", a.handleUploadPieces)
	r.Post("/information_pieces/remove", a.handleRemovePieces)
	r.Post("/collection/duplicate", a.handleCollectionDuplicate)
	r.Post("/collection/switch", a.handleCollectionSwitch)
	r.Post("/evaluate", a.handleEvaluate)

	return r, nil
}

// chiRoutePattern returns the matched route template ("/delete_document/{id}")
// rather than the literal path, keeping the per-route metrics label
// cardinality bounded.
func chiRoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

func (a *app) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *app) handleReadyz(w http.ResponseWriter, r *http.Request) {
	client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
	defer client.Close()
	pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		http.Error(w, fmt.Sprintf("redis not ready: %v", err), http.StatusServiceUnavailable)
		return
	}
	if _, err := a.vectors.Collections(pingCtx); err != nil {
		http.Error(w, fmt.Sprintf("qdrant not ready: %v", err), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
