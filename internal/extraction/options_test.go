package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/contextractor/internal/crawler"
)

func TestDefaultsKwargs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, map[string]any{
		"fast":               false,
		"favor_precision":    false,
		"favor_recall":       false,
		"include_comments":   true,
		"include_tables":     true,
		"include_images":     false,
		"include_formatting": true,
		"include_links":      true,
		"deduplicate":        false,
		"with_metadata":      true,
		"only_with_metadata": false,
		"tei_validation":     false,
	}, Defaults().Kwargs())
}

func TestFromMap(t *testing.T) {
	t.Parallel()

	opts, err := FromMap(map[string]any{
		"favorPrecision":       true,
		"include_links":        false,
		"targetLanguage":       "de",
		"pruneXpath":           "//div[@class='ad']",
		"urlBlacklist":         []any{"https://b.example/", "https://a.example/"},
		"dateExtractionParams": map[string]any{"outputformat": "%d.%m.%Y"},
		"authorBlacklist":      nil,
	})
	require.NoError(t, err)

	assert.True(t, opts.FavorPrecision)
	assert.False(t, opts.IncludeLinks)
	assert.True(t, opts.IncludeTables, "defaults survive")
	require.NotNil(t, opts.TargetLanguage)
	assert.Equal(t, "de", *opts.TargetLanguage)
	assert.Equal(t, []string{"//div[@class='ad']"}, opts.PruneXPath)
	assert.Nil(t, opts.AuthorBlacklist)

	kw := opts.Kwargs()
	assert.Equal(t, "de", kw["target_language"])
	assert.Equal(t, []string{"https://a.example/", "https://b.example/"}, kw["url_blacklist"])
	assert.Equal(t, map[string]any{"outputformat": "%d.%m.%Y"}, kw["date_extraction_params"])
	assert.NotContains(t, kw, "author_blacklist")
	assert.Equal(t, crawler.ModeFavorPrecision, opts.Mode())
}

func TestFromMapEmpty(t *testing.T) {
	t.Parallel()

	opts, err := FromMap(nil)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), opts)
}

func TestFromMapRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	_, err := FromMap(map[string]any{"includeVideos": true})
	require.Error(t, err)
}

func TestFromMapRejectsWrongTypes(t *testing.T) {
	t.Parallel()

	_, err := FromMap(map[string]any{"fast": "yes"})
	require.Error(t, err)
}

func TestResolveModes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		raw      map[string]any
		mode     crawler.ExtractionMode
		wantMode crawler.ExtractionMode
		wantErr  bool
	}{
		{name: "balanced default", wantMode: crawler.ModeBalanced},
		{name: "explicit precision", mode: crawler.ModeFavorPrecision, wantMode: crawler.ModeFavorPrecision},
		{name: "explicit recall", mode: crawler.ModeFavorRecall, wantMode: crawler.ModeFavorRecall},
		{name: "inferred from switches", raw: map[string]any{"favorRecall": true}, wantMode: crawler.ModeFavorRecall},
		{name: "mode overrides switches", raw: map[string]any{"favor_precision": true}, mode: crawler.ModeBalanced, wantMode: crawler.ModeBalanced},
		{name: "both switches", raw: map[string]any{"favor_precision": true, "favor_recall": true}, wantErr: true},
		{name: "mode resolves conflicting switches", raw: map[string]any{"favor_precision": true, "favor_recall": true}, mode: crawler.ModeFavorRecall, wantMode: crawler.ModeFavorRecall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			opts, err := Resolve(tt.raw, tt.mode)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrConflictingModes)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMode, opts.Mode())
			assert.False(t, opts.FavorPrecision && opts.FavorRecall)
		})
	}
}

func TestForMode(t *testing.T) {
	t.Parallel()

	assert.True(t, ForMode(crawler.ModeFavorPrecision).FavorPrecision)
	assert.True(t, ForMode(crawler.ModeFavorRecall).FavorRecall)
	assert.Equal(t, Defaults(), ForMode(crawler.ModeBalanced))
}
