package config

import (
	"testing"

	"github.com/c2h5oh/datasize"

	"github.com/stackitcloud-oss/ragctl/engine/domain"
)

func TestLoadAppliesEnvOverridesAndDefaults(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("UPLOAD_MAX_SIZE", "128MB")
	t.Setenv("INGEST_WORKER_LIMIT", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPPort != "9090" {
		t.Errorf("HTTPPort = %q, want 9090", cfg.HTTPPort)
	}
	if cfg.UploadMaxSize != 128*datasize.MB {
		t.Errorf("UploadMaxSize = %v, want 128MB", cfg.UploadMaxSize)
	}
	if cfg.IngestWorkerLimit != 8 {
		t.Errorf("IngestWorkerLimit = %d, want 8", cfg.IngestWorkerLimit)
	}
	if cfg.QdrantAlias != "rag" {
		t.Errorf("QdrantAlias = %q, want default 'rag'", cfg.QdrantAlias)
	}
}

func TestLoadParsesConfluenceSpaces(t *testing.T) {
	t.Setenv("CONFLUENCE_URL", "https://a.atlassian.net, https://b.atlassian.net")
	t.Setenv("CONFLUENCE_TOKEN", "tok-a,tok-b")
	t.Setenv("CONFLUENCE_SPACE_KEY", "ENG,DOCS")
	t.Setenv("CONFLUENCE_VERIFY_SSL", "false")
	t.Setenv("CONFLUENCE_MAX_PAGES", "50,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Confluence) != 2 {
		t.Fatalf("Confluence = %+v, want 2 spaces", cfg.Confluence)
	}
	first, second := cfg.Confluence[0], cfg.Confluence[1]
	if first.SpaceKey != "ENG" || second.SpaceKey != "DOCS" {
		t.Errorf("space keys = %q, %q, want ENG, DOCS", first.SpaceKey, second.SpaceKey)
	}
	if first.VerifySSL || !second.VerifySSL {
		t.Errorf("VerifySSL = %v, %v, want false from the CSV entry, then true (padded default for the missing entry)", first.VerifySSL, second.VerifySSL)
	}
	if first.MaxPages != 50 {
		t.Errorf("first.MaxPages = %d, want 50", first.MaxPages)
	}
	if second.MaxPages != 0 {
		t.Errorf("second.MaxPages = %d, want 0 (padded default for the missing entry)", second.MaxPages)
	}
	if !first.KeepMarkdownFormat || !first.KeepNewlines {
		t.Errorf("expected unset optional bools to default true, got KeepMarkdownFormat=%v KeepNewlines=%v", first.KeepMarkdownFormat, first.KeepNewlines)
	}
}

func TestLoadRejectsMismatchedConfluenceListLengths(t *testing.T) {
	t.Setenv("CONFLUENCE_URL", "https://a.atlassian.net,https://b.atlassian.net")
	t.Setenv("CONFLUENCE_TOKEN", "tok-a")
	t.Setenv("CONFLUENCE_SPACE_KEY", "ENG,DOCS")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for mismatched CONFLUENCE_* list lengths")
	}
}

type confluenceOptions struct {
	SpaceKey   string   `mapstructure:"space_key"`
	CrawlDepth int      `mapstructure:"crawl_depth"`
	Labels     []string `mapstructure:"labels"`
}

func TestDecodeKwargsDecodesTypedStruct(t *testing.T) {
	kwargs := []domain.KeyValuePair{
		{Key: "space_key", Value: `"ENG"`},
		{Key: "crawl_depth", Value: `3`},
		{Key: "labels", Value: `["public","archived"]`},
	}

	var opts confluenceOptions
	if err := DecodeKwargs(kwargs, &opts); err != nil {
		t.Fatalf("DecodeKwargs: %v", err)
	}
	if opts.SpaceKey != "ENG" || opts.CrawlDepth != 3 || len(opts.Labels) != 2 {
		t.Fatalf("unexpected decode result: %+v", opts)
	}
}

func TestDecodeKwargsRejectsInvalidJSON(t *testing.T) {
	kwargs := []domain.KeyValuePair{{Key: "crawl_depth", Value: "not-json"}}
	var opts confluenceOptions
	if err := DecodeKwargs(kwargs, &opts); err == nil {
		t.Fatal("expected error for invalid JSON kwarg value")
	}
}
