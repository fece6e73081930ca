package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/contextractor/internal/crawler"
)

const page = `<!doctype html>
<html lang="en"><head><title>Spring Gardening</title>
<meta name="author" content="Jane Doe"></head>
<body><nav><a href="/">Home</a></nav>
<article>
<h1>Spring Gardening</h1>
<p>Spring is the best time to prepare the soil, plant seeds, and plan the layout of your garden beds.</p>
<p>Start by removing weeds, then add compost and mulch so the beds stay healthy through the summer months.</p>
</article></body></html>`

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNormalizeCommand(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "opts.json", `{"favorPrecision": true, "includeTables": false, "targetLanguage": null}`)
	out, err := execute(t, "", "normalize", path)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, true, got["favor_precision"])
	assert.Equal(t, false, got["include_tables"])
	assert.Equal(t, true, got["include_comments"])
	assert.NotContains(t, got, "target_language")
}

func TestNormalizeCommandReadsStdin(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "", "normalize", "-")
	require.NoError(t, err)
	assert.Contains(t, out, `"with_metadata": true`)

	out, err = execute(t, `{"include_images": true}`, "normalize")
	require.NoError(t, err)
	assert.Contains(t, out, `"include_images": true`)
}

func TestNormalizeCommandRejectsBadOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{name: "unknown key", input: `{"noSuchOption": 1}`},
		{name: "conflicting modes", input: `{"favorPrecision": true, "favorRecall": true}`},
		{name: "not json", input: `favor`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := execute(t, tt.input, "normalize")
			require.Error(t, err)
		})
	}
}

func TestExtractCommand(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "page.html", page)
	out, err := execute(t, "", "extract", "--file", path, "--url", "https://example.com/garden", "--format", "markdown,txt")
	require.NoError(t, err)

	var report extractReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "https://example.com/garden", report.URL)
	require.NotNil(t, report.Metadata.Title)
	assert.Equal(t, "Spring Gardening", *report.Metadata.Title)
	assert.Contains(t, report.Formats["markdown"], "Spring is the best time")
	assert.Contains(t, report.Formats["txt"], "Spring is the best time")
}

func TestExtractCommandRejectsUnknownFormat(t *testing.T) {
	t.Parallel()

	_, err := execute(t, page, "extract", "--format", "pdf")
	require.Error(t, err)
}

func TestCrawlCommand(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html")
			_, _ = fmt.Fprint(w, strings.Replace(page, `<a href="/">Home</a>`, `<a href="/next">Next</a>`, 1))
		case "/next":
			w.Header().Set("Content-Type", "text/html")
			_, _ = fmt.Fprint(w, page)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	configPath := writeFile(t, "config.yaml", fmt.Sprintf(`
render:
  backend: http
storage:
  backend: local
  local:
    base_dir: %s
dataset:
  backend: jsonl
  path: %s
  name: garden
logging:
  level: error
`, filepath.Join(dir, "kv"), filepath.Join(dir, "datasets")))

	out, err := execute(t, "", "crawl", "--config", configPath, "--link-selector", "a[href]", "--max-depth", "1", "--concurrency", "2", srv.URL+"/")
	require.NoError(t, err)

	var report struct {
		State     crawler.State `json:"state"`
		Succeeded int64         `json:"succeeded"`
		Duration  string        `json:"duration"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, crawler.StateCompleted, report.State)
	assert.Equal(t, int64(2), report.Succeeded)
	assert.NotEmpty(t, report.Duration)

	data, err := os.ReadFile(filepath.Join(dir, "datasets", "garden.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(data, []byte("\n")))
}

func TestCrawlCommandRejectsBadFlags(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "", "crawl", "--link-selector", "a[href", "https://example.com/")
	require.Error(t, err)

	_, err = execute(t, "", "crawl", "--concurrency", "0", "https://example.com/")
	require.Error(t, err)

	_, err = execute(t, "", "crawl", "--config", "/does/not/exist.yaml")
	require.Error(t, err)
}
