// Package config loads ragctl's process configuration from the
// environment, optionally overlaid from a .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/c2h5oh/datasize"
	"github.com/joho/godotenv"
)

// Config holds every environment-derived setting the services in cmd/api
// and cmd/ragctl need to start.
type Config struct {
	HTTPPort    string
	RedisAddr   string
	BlobDir     string
	ManifestDB  string
	PostgresDSN string
	NATSURL     string

	QdrantAddr           string
	QdrantAlias          string
	QdrantHistoryCount   int
	QdrantValidateConfig bool
	QdrantRetrievalMode  string
	QdrantDims           uint64

	ExtractorURL string
	EnhancerURL  string
	OllamaURL    string

	OTLPEndpoint string
	LogLevel     string

	UploadMaxSize     datasize.ByteSize
	IngestWorkerLimit int

	Confluence []ConfluenceSpace
}

// ConfluenceSpace is one space the Confluence bulk loader crawls, loaded
// as a slice of per-space records decoded from spec.md's original parallel
// comma-separated CONFLUENCE_* lists — an explicit redesign recorded in
// SPEC_FULL.md §9 rather than carrying the index-aligned-lists footgun forward.
type ConfluenceSpace struct {
	URL                string
	Token              string
	SpaceKey           string
	DocumentName       string
	VerifySSL          bool
	IncludeAttachments bool
	KeepMarkdownFormat bool
	KeepNewlines       bool
	MaxPages           int
}

// defaults mirrors a local docker-compose deployment: every dependency on
// localhost, generous but bounded upload size, unbounded ingest workers.
func defaults() Config {
	return Config{
		HTTPPort:             "8080",
		RedisAddr:            "localhost:6379",
		BlobDir:              "./data/blobs",
		ManifestDB:           "./data/blobs/manifest.db",
		PostgresDSN:          "",
		NATSURL:              "",
		QdrantAddr:           "localhost:6334",
		QdrantAlias:          "rag",
		QdrantHistoryCount:   1,
		QdrantValidateConfig: true,
		QdrantRetrievalMode:  "HYBRID",
		QdrantDims:           768,
		ExtractorURL:         "http://localhost:8001",
		EnhancerURL:          "",
		OllamaURL:            "http://localhost:11434",
		OTLPEndpoint:         "",
		LogLevel:             "info",
		UploadMaxSize:        64 * datasize.MB,
		IngestWorkerLimit:    0,
	}
}

// Load reads process environment variables over defaults, first overlaying
// a .env file if one is present in the working directory.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := defaults()
	cfg.HTTPPort = envOr("HTTP_PORT", cfg.HTTPPort)
	cfg.RedisAddr = envOr("REDIS_ADDR", cfg.RedisAddr)
	cfg.BlobDir = envOr("BLOB_DIR", cfg.BlobDir)
	cfg.ManifestDB = envOr("SQLITE_BLOB_MANIFEST_PATH", cfg.ManifestDB)
	cfg.PostgresDSN = envOr("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.NATSURL = envOr("NATS_URL", cfg.NATSURL)
	cfg.QdrantAddr = envOr("VECTOR_DB_LOCATION", cfg.QdrantAddr)
	cfg.QdrantAlias = envOr("VECTOR_DB_COLLECTION_NAME", cfg.QdrantAlias)
	cfg.QdrantRetrievalMode = envOr("VECTOR_DB_RETRIEVAL_MODE", cfg.QdrantRetrievalMode)
	cfg.ExtractorURL = envOr("EXTRACTOR_URL", cfg.ExtractorURL)
	cfg.EnhancerURL = envOr("ENHANCER_URL", cfg.EnhancerURL)
	cfg.OllamaURL = envOr("OLLAMA_URL", cfg.OllamaURL)
	cfg.OTLPEndpoint = envOr("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)
	cfg.LogLevel = envOr("LOG_LEVEL", cfg.LogLevel)

	if raw := os.Getenv("VECTOR_DB_COLLECTION_HISTORY_COUNT"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("config: parse VECTOR_DB_COLLECTION_HISTORY_COUNT=%q: %w", raw, err)
		}
		cfg.QdrantHistoryCount = n
	}
	if raw := os.Getenv("VECTOR_DB_VALIDATE_COLLECTION_CONFIG"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("config: parse VECTOR_DB_VALIDATE_COLLECTION_CONFIG=%q: %w", raw, err)
		}
		cfg.QdrantValidateConfig = b
	}
	if raw := os.Getenv("UPLOAD_MAX_SIZE"); raw != "" {
		if err := cfg.UploadMaxSize.UnmarshalText([]byte(raw)); err != nil {
			return Config{}, fmt.Errorf("config: parse UPLOAD_MAX_SIZE=%q: %w", raw, err)
		}
	}
	if raw := os.Getenv("INGEST_WORKER_LIMIT"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("config: parse INGEST_WORKER_LIMIT=%q: %w", raw, err)
		}
		cfg.IngestWorkerLimit = n
	}

	spaces, err := loadConfluenceSpaces()
	if err != nil {
		return Config{}, err
	}
	cfg.Confluence = spaces

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadConfluenceSpaces decodes the CONFLUENCE_* parallel comma-separated
// lists into one ConfluenceSpace per entry. Non-optional lists (url, token,
// space_key) must have identical lengths; optional lists are padded with
// spec.md's documented per-field defaults when shorter or absent.
func loadConfluenceSpaces() ([]ConfluenceSpace, error) {
	urls := splitCSV(os.Getenv("CONFLUENCE_URL"))
	if len(urls) == 0 {
		return nil, nil
	}
	tokens := splitCSV(os.Getenv("CONFLUENCE_TOKEN"))
	keys := splitCSV(os.Getenv("CONFLUENCE_SPACE_KEY"))
	if len(tokens) != len(urls) || len(keys) != len(urls) {
		return nil, fmt.Errorf("config: CONFLUENCE_URL, CONFLUENCE_TOKEN and CONFLUENCE_SPACE_KEY must have the same number of entries (got %d, %d, %d)", len(urls), len(tokens), len(keys))
	}

	names := padCSV(os.Getenv("CONFLUENCE_DOCUMENT_NAME"), len(urls), "")
	verifySSL, err := padBoolCSV(os.Getenv("CONFLUENCE_VERIFY_SSL"), len(urls), true)
	if err != nil {
		return nil, fmt.Errorf("config: CONFLUENCE_VERIFY_SSL: %w", err)
	}
	attachments, err := padBoolCSV(os.Getenv("CONFLUENCE_INCLUDE_ATTACHMENTS"), len(urls), false)
	if err != nil {
		return nil, fmt.Errorf("config: CONFLUENCE_INCLUDE_ATTACHMENTS: %w", err)
	}
	keepMarkdown, err := padBoolCSV(os.Getenv("CONFLUENCE_KEEP_MARKDOWN_FORMAT"), len(urls), true)
	if err != nil {
		return nil, fmt.Errorf("config: CONFLUENCE_KEEP_MARKDOWN_FORMAT: %w", err)
	}
	keepNewlines, err := padBoolCSV(os.Getenv("CONFLUENCE_KEEP_NEWLINES"), len(urls), true)
	if err != nil {
		return nil, fmt.Errorf("config: CONFLUENCE_KEEP_NEWLINES: %w", err)
	}
	maxPages, err := padIntCSV(os.Getenv("CONFLUENCE_MAX_PAGES"), len(urls), 0)
	if err != nil {
		return nil, fmt.Errorf("config: CONFLUENCE_MAX_PAGES: %w", err)
	}

	spaces := make([]ConfluenceSpace, len(urls))
	for i := range urls {
		spaces[i] = ConfluenceSpace{
			URL:                urls[i],
			Token:              tokens[i],
			SpaceKey:           keys[i],
			DocumentName:       names[i],
			VerifySSL:          verifySSL[i],
			IncludeAttachments: attachments[i],
			KeepMarkdownFormat: keepMarkdown[i],
			KeepNewlines:       keepNewlines[i],
			MaxPages:           maxPages[i],
		}
	}
	return spaces, nil
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

func padCSV(raw string, n int, fallback string) []string {
	vals := splitCSV(raw)
	out := make([]string, n)
	for i := 0; i < n; i++ {
		if i < len(vals) {
			out[i] = vals[i]
		} else {
			out[i] = fallback
		}
	}
	return out
}

func padBoolCSV(raw string, n int, fallback bool) ([]bool, error) {
	vals := splitCSV(raw)
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		if i >= len(vals) || vals[i] == "" {
			out[i] = fallback
			continue
		}
		b, err := strconv.ParseBool(vals[i])
		if err != nil {
			return nil, fmt.Errorf("entry %d (%q): %w", i, vals[i], err)
		}
		out[i] = b
	}
	return out, nil
}

func padIntCSV(raw string, n int, fallback int) ([]int, error) {
	vals := splitCSV(raw)
	out := make([]int, n)
	for i := 0; i < n; i++ {
		if i >= len(vals) || vals[i] == "" {
			out[i] = fallback
			continue
		}
		v, err := strconv.Atoi(vals[i])
		if err != nil {
			return nil, fmt.Errorf("entry %d (%q): %w", i, vals[i], err)
		}
		out[i] = v
	}
	return out, nil
}
