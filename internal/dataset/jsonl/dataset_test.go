package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/contextractor/internal/crawler"
)

func readLines(t *testing.T, path string) []crawler.PageResult {
	t.Helper()
	// #nosec G304 -- test reads from the controlled temp directory.
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []crawler.PageResult
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r crawler.PageResult
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		out = append(out, r)
	}
	require.NoError(t, scanner.Err())
	return out
}

func TestAppendWritesLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "datasets", "default.jsonl")
	ds, err := Open(path)
	require.NoError(t, err)

	title := "<b>Tags & more</b>"
	first := crawler.PageResult{
		LoadedURL:  "https://example.com/a",
		RawHTML:    crawler.ArtifactRef{Hash: "h1", Length: 10},
		LoadedAt:   "2024-03-05T10:00:00.000000Z",
		Metadata:   crawler.Metadata{Title: &title},
		HTTPStatus: 200,
	}
	first.SetArtifact(crawler.FormatText, crawler.ArtifactRef{Key: "a.txt", URL: "memory://a.txt", Hash: "h2", Length: 3})
	second := crawler.PageResult{LoadedURL: "https://example.com/b", LoadedAt: "2024-03-05T10:00:01.000000Z", HTTPStatus: 203}

	require.NoError(t, ds.Append(context.Background(), first))
	require.NoError(t, ds.Append(context.Background(), second))

	// Lines are flushed on every append, before Close.
	got := readLines(t, path)
	if diff := cmp.Diff([]crawler.PageResult{first, second}, got); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}

	raw, err := os.ReadFile(path) // #nosec G304 -- temp directory
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"title":"<b>Tags & more</b>"`)

	require.NoError(t, ds.Close())
	require.NoError(t, ds.Close())
	require.Error(t, ds.Append(context.Background(), second))
}

func TestOpenAppendsToExistingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "default.jsonl")
	for i := 0; i < 2; i++ {
		ds, err := Open(path)
		require.NoError(t, err)
		require.NoError(t, ds.Append(context.Background(), crawler.PageResult{LoadedURL: "https://example.com/"}))
		require.NoError(t, ds.Close())
	}
	assert.Len(t, readLines(t, path), 2)
}

func TestConcurrentAppend(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "default.jsonl")
	ds, err := Open(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, ds.Append(context.Background(), crawler.PageResult{LoadedURL: "https://example.com/", HTTPStatus: 200}))
		}()
	}
	wg.Wait()
	require.NoError(t, ds.Close())
	assert.Len(t, readLines(t, path), 50)
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open("")
	require.Error(t, err)
}
