// Command ragctl is a local administration CLI for the ingestion/retrieval
// control plane: it wires the same engine packages cmd/api serves over
// HTTP and drives them directly, for operators who need to trigger an
// upload, force a collection rollover, or tail source status without
// going through the REST surface.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/stackitcloud-oss/ragctl/engine/collection"
	"github.com/stackitcloud-oss/ragctl/engine/confluence"
	"github.com/stackitcloud-oss/ragctl/engine/domain"
	"github.com/stackitcloud-oss/ragctl/engine/ingest"
	"github.com/stackitcloud-oss/ragctl/engine/semantic"
	"github.com/stackitcloud-oss/ragctl/pkg/blobstore"
	"github.com/stackitcloud-oss/ragctl/pkg/config"
	"github.com/stackitcloud-oss/ragctl/pkg/extractor"
	"github.com/stackitcloud-oss/ragctl/pkg/statusstore"
)

const name = "ragctl"

func main() {
	cmd := &cli.Command{
		Name:  name,
		Usage: "Administer the ingestion/retrieval control plane",
		Commands: []*cli.Command{
			statusCmd(),
			uploadCmd(),
			confluenceCmd(),
			collectionCmd(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return cfg, logger, nil
}

func openStatusStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*statusstore.Store, error) {
	return statusstore.New(ctx, statusstore.Options{Addr: cfg.RedisAddr, Prefix: "ragctl:status:", Logger: logger})
}

func openVectorStore(cfg config.Config) (*semantic.VectorStore, error) {
	return semantic.New(semantic.Config{
		Addr:           cfg.QdrantAddr,
		Alias:          cfg.QdrantAlias,
		DenseEmbedder:  semantic.NewHTTPEmbedder(cfg.OllamaURL, "nomic-embed-text"),
		SparseEmbedder: semantic.NewHTTPSparseEmbedder(cfg.OllamaURL),
		Dims:           cfg.QdrantDims,
		HistoryCount:   cfg.QdrantHistoryCount,
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show upload status for sources",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "source", Usage: "qualified source name (type:sanitized-name); omit to list all"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStatusStore(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("connect status store: %w", err)
			}
			defer store.Close()

			if src := cmd.String("source"); src != "" {
				s, err := store.Get(ctx, src)
				if err != nil {
					return fmt.Errorf("get status for %q: %w", src, err)
				}
				return printJSON(s)
			}

			all, err := store.GetAll(ctx)
			if err != nil {
				return fmt.Errorf("list statuses: %w", err)
			}
			return printJSON(all)
		},
	}
}

func uploadCmd() *cli.Command {
	return &cli.Command{
		Name:  "upload",
		Usage: "Upload a file as a source and wait for it to become READY",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Value: "file", Usage: "source type"},
			&cli.StringFlag{Name: "name", Required: true, Usage: "source name"},
			&cli.StringFlag{Name: "file", Required: true, Usage: "path to the file to upload"},
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Minute, Usage: "how long to wait for the source to reach READY or ERROR"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			blobs, err := blobstore.Open(cfg.BlobDir, cfg.ManifestDB)
			if err != nil {
				return fmt.Errorf("open blob store: %w", err)
			}
			defer blobs.Close()

			status, err := openStatusStore(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("connect status store: %w", err)
			}
			defer status.Close()

			vectors, err := openVectorStore(cfg)
			if err != nil {
				return fmt.Errorf("connect vector store: %w", err)
			}
			defer vectors.Close()

			extractorClient := extractor.New(cfg.ExtractorURL, nil)
			ingestor := ingest.New(status, blobs, extractorClient, nil, vectors, ingest.Config{
				BaseURL:              "http://localhost:" + cfg.HTTPPort,
				MaxConcurrentUploads: 1,
				Logger:               logger,
			})

			path := cmd.String("file")
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open %q: %w", path, err)
			}
			defer f.Close()

			src := domain.Source{Type: cmd.String("type"), Name: cmd.String("name")}
			if err := ingestor.UploadSource(ctx, src, f, path); err != nil {
				return fmt.Errorf("upload source: %w", err)
			}
			src.SanitizedName = domain.Sanitize(src.Name)

			fmt.Fprintf(os.Stderr, "uploading %s, waiting for it to settle...\n", src.QualifiedName())
			return waitForTerminal(ctx, status, src.QualifiedName(), cmd.Duration("timeout"))
		},
	}
}

func waitForTerminal(ctx context.Context, store *statusstore.Store, qualifiedName string, timeout time.Duration) error {
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline.Done():
			return fmt.Errorf("timed out waiting for %s to settle", qualifiedName)
		case <-ticker.C:
			s, err := store.Get(deadline, qualifiedName)
			if err != nil {
				continue
			}
			switch s.Status {
			case domain.StatusReady:
				return printJSON(s)
			case domain.StatusError:
				_ = printJSON(s)
				return fmt.Errorf("source %s failed: %s", qualifiedName, s.Detail)
			}
		}
	}
}

func confluenceCmd() *cli.Command {
	return &cli.Command{
		Name:  "confluence",
		Usage: "Trigger a bulk load of every configured Confluence space",
		Commands: []*cli.Command{
			{
				Name:  "load",
				Usage: "Load all configured spaces",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, logger, err := loadConfig()
					if err != nil {
						return err
					}
					if len(cfg.Confluence) == 0 {
						return confluence.ErrUnconfigured
					}

					blobs, err := blobstore.Open(cfg.BlobDir, cfg.ManifestDB)
					if err != nil {
						return fmt.Errorf("open blob store: %w", err)
					}
					defer blobs.Close()

					status, err := openStatusStore(ctx, cfg, logger)
					if err != nil {
						return fmt.Errorf("connect status store: %w", err)
					}
					defer status.Close()

					vectors, err := openVectorStore(cfg)
					if err != nil {
						return fmt.Errorf("connect vector store: %w", err)
					}
					defer vectors.Close()

					extractorClient := extractor.New(cfg.ExtractorURL, nil)
					ingestor := ingest.New(status, blobs, extractorClient, nil, vectors, ingest.Config{
						BaseURL:              "http://localhost:" + cfg.HTTPPort,
						MaxConcurrentUploads: 1,
						Logger:               logger,
					})

					loader := confluence.New(cfg.Confluence, func(ctx context.Context, src domain.Source, filename string) error {
						return ingestor.UploadSource(ctx, src, nil, filename)
					}, logger)

					spaces := make([]string, len(cfg.Confluence))
					for i, s := range cfg.Confluence {
						spaces[i] = s.SpaceKey
					}
					fmt.Fprintf(os.Stderr, "triggering load for spaces: %s\n", strings.Join(spaces, ", "))
					return loader.LoadAll(ctx)
				},
			},
		},
	}
}

func collectionCmd() *cli.Command {
	return &cli.Command{
		Name:  "collection",
		Usage: "Manage the rolling-update lifecycle of vector collections",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List snapshots in oldest-to-newest order",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, _, err := loadConfig()
					if err != nil {
						return err
					}
					vectors, err := openVectorStore(cfg)
					if err != nil {
						return fmt.Errorf("connect vector store: %w", err)
					}
					defer vectors.Close()

					snapshots, err := vectors.SortedSnapshots(ctx)
					if err != nil {
						return fmt.Errorf("list snapshots: %w", err)
					}
					return printJSON(snapshots)
				},
			},
			{
				Name:  "duplicate",
				Usage: "Duplicate the collection currently bound to the alias",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, logger, err := loadConfig()
					if err != nil {
						return err
					}
					vectors, err := openVectorStore(cfg)
					if err != nil {
						return fmt.Errorf("connect vector store: %w", err)
					}
					defer vectors.Close()

					manager := collection.New(vectors, logger)
					target, err := manager.Duplicate(ctx)
					if err != nil {
						return fmt.Errorf("duplicate collection: %w", err)
					}
					fmt.Println(target)
					return nil
				},
			},
			{
				Name:  "switch",
				Usage: "Repoint the alias at the latest snapshot and evict old ones",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, logger, err := loadConfig()
					if err != nil {
						return err
					}
					vectors, err := openVectorStore(cfg)
					if err != nil {
						return fmt.Errorf("connect vector store: %w", err)
					}
					defer vectors.Close()

					manager := collection.New(vectors, logger)
					if err := manager.Switch(ctx); err != nil {
						return fmt.Errorf("switch alias: %w", err)
					}
					return nil
				},
			},
			{
				Name:  "evict",
				Usage: "Evict snapshots beyond the configured retention window",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, logger, err := loadConfig()
					if err != nil {
						return err
					}
					vectors, err := openVectorStore(cfg)
					if err != nil {
						return fmt.Errorf("connect vector store: %w", err)
					}
					defer vectors.Close()

					manager := collection.New(vectors, logger)
					if err := manager.EvictOldest(ctx); err != nil {
						return fmt.Errorf("evict old collections: %w", err)
					}
					return nil
				},
			},
		},
	}
}
