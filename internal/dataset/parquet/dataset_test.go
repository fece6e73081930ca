package parquet

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/contextractor/internal/crawler"
)

func strPtr(s string) *string { return &s }

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	for _, compression := range []string{"none", "snappy", "gzip", "zstd"} {
		t.Run(compression, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "default.parquet")
			ds, err := Create(path, "run-1", compression)
			require.NoError(t, err)

			withRaw := crawler.PageResult{
				LoadedURL:  "https://example.com/a",
				RawHTML:    crawler.ArtifactRef{Key: "a-raw.html", URL: "memory://a-raw.html", Hash: "h", Length: 28},
				LoadedAt:   "2024-03-05T10:00:00.000000Z",
				Metadata:   crawler.Metadata{Title: strPtr("A"), Lang: strPtr("en")},
				HTTPStatus: 200,
			}
			withRaw.SetArtifact(crawler.FormatMarkdown, crawler.ArtifactRef{Key: "a.md", URL: "memory://a.md", Hash: "m", Length: 7})
			bare := crawler.PageResult{
				LoadedURL:  "https://example.com/b",
				RawHTML:    crawler.ArtifactRef{Hash: "h2", Length: 3},
				LoadedAt:   "2024-03-05T10:00:01.000000Z",
				HTTPStatus: 203,
			}

			require.NoError(t, ds.Append(context.Background(), withRaw))
			require.NoError(t, ds.Append(context.Background(), bare))
			require.NoError(t, ds.Close())
			require.Error(t, ds.Append(context.Background(), bare))

			rows, err := ReadAll(path)
			require.NoError(t, err)

			want := []Row{NewRow("run-1", withRaw), NewRow("run-1", bare)}
			if diff := cmp.Diff(want, rows); diff != "" {
				t.Fatalf("rows mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNewRow(t *testing.T) {
	t.Parallel()

	result := crawler.PageResult{
		LoadedURL:  "https://example.com/",
		RawHTML:    crawler.ArtifactRef{Hash: "h", Length: 1},
		HTTPStatus: 200,
	}
	row := NewRow("run", result)
	require.Nil(t, row.RawHTMLKey)
	require.Nil(t, row.ExtractedText)

	result.SetArtifact(crawler.FormatXMLTEI, crawler.ArtifactRef{Key: "k.tei.xml", Hash: "x", Length: 9})
	row = NewRow("run", result)
	require.Equal(t, &Artifact{Key: "k.tei.xml", Hash: "x", Length: 9}, row.ExtractedXMLTEI)
}

func TestCreateRejectsUnknownCompression(t *testing.T) {
	t.Parallel()

	_, err := Create(filepath.Join(t.TempDir(), "x.parquet"), "run", "lzma")
	require.Error(t, err)
	_, err = Create("", "run", "snappy")
	require.Error(t, err)
}
