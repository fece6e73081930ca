package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/contextractor/internal/crawler"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Crawl.MaxRequestRetries)
	assert.Equal(t, 60*time.Second, cfg.PageTimeout())
	assert.Equal(t, crawler.SaveOptions{Markdown: true}, cfg.Crawl.Save)
	assert.Equal(t, "browser", cfg.Render.Backend)
	assert.True(t, cfg.Render.Headless)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, "jsonl", cfg.Dataset.Backend)
	assert.Equal(t, "page_results", cfg.Dataset.Postgres.Table)
	assert.Zero(t, cfg.Crawl.MaxResultsPerCrawl)
	assert.Zero(t, cfg.Crawl.MaxCrawlingDepth)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
crawl:
  start_urls: ["https://example.com/"]
  max_results_per_crawl: 25
  max_pages_per_crawl: 40
  concurrency: 6
  link_selector: "a[href]"
  globs: ["https://example.com/**"]
  excludes: ["**/*.pdf"]
  max_crawling_depth: 2
  save:
    raw_html: true
    markdown: false
    xml_tei: true
render:
  backend: http
  custom_http_headers:
    x-test: "1"
extraction:
  mode: favor_precision
  options:
    include_links: false
storage:
  backend: memory
dataset:
  backend: memory
logging:
  development: false
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://example.com/"}, cfg.Crawl.StartURLs)
	assert.Equal(t, int64(25), cfg.Crawl.MaxResultsPerCrawl)
	assert.Equal(t, int64(40), cfg.Crawl.MaxPagesPerCrawl)
	assert.Equal(t, 6, cfg.Crawl.Concurrency)
	assert.Equal(t, crawler.SaveOptions{RawHTML: true, XMLTEI: true}, cfg.Crawl.Save)
	assert.Equal(t, "http", cfg.Render.Backend)
	assert.Equal(t, map[string]string{"x-test": "1"}, cfg.Render.CustomHeaders)
	assert.Equal(t, false, cfg.Extraction.Options["include_links"])
	assert.Equal(t, "warn", cfg.Logging.Level)

	settings, err := cfg.CrawlSettings()
	require.NoError(t, err)
	assert.Equal(t, crawler.ModeFavorPrecision, settings.Mode)
	assert.Equal(t, "a[href]", settings.LinkSelector)
	assert.Equal(t, []string{"**/*.pdf"}, settings.Excludes)
	assert.Equal(t, 2, settings.MaxCrawlingDepth)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "negative depth", yaml: "crawl:\n  max_crawling_depth: -1\n", wantErr: "MaxCrawlingDepth"},
		{name: "zero concurrency", yaml: "crawl:\n  concurrency: 0\n", wantErr: "Concurrency"},
		{name: "unknown render backend", yaml: "render:\n  backend: carrier-pigeon\n", wantErr: "Backend"},
		{name: "unknown mode", yaml: "extraction:\n  mode: creative\n", wantErr: "extraction.mode"},
		{name: "gcs without bucket", yaml: "storage:\n  backend: gcs\n", wantErr: "storage.gcs.bucket"},
		{name: "postgres without dsn", yaml: "dataset:\n  backend: postgres\n", wantErr: "dataset.postgres.dsn"},
		{name: "topic without project", yaml: "pubsub:\n  topic_name: pages\n", wantErr: "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o600))

			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "read config"))
}
