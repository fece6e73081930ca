package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnakeKey(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"favorPrecision":        "favor_precision",
		"favor_precision":       "favor_precision",
		"fast":                  "fast",
		"includeLinks":          "include_links",
		"TargetLanguage":        "target_language",
		"pruneXPath":            "prune_x_path",
		"date_extractionParams": "date_extractionParams",
		"":                      "",
		"ÄbcDéf":                "äbc_déf",
	}
	for in, want := range tests {
		assert.Equal(t, want, SnakeKey(in), in)
	}
}

func TestNormalizeKeys(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   map[string]any
		want map[string]any
	}{
		{name: "nil input", in: nil, want: map[string]any{}},
		{name: "empty input", in: map[string]any{}, want: map[string]any{}},
		{
			name: "camel and snake mixed",
			in:   map[string]any{"favorPrecision": true, "include_links": false, "fast": true},
			want: map[string]any{"favor_precision": true, "include_links": false, "fast": true},
		},
		{
			name: "nil values dropped",
			in:   map[string]any{"targetLanguage": nil, "deduplicate": true},
			want: map[string]any{"deduplicate": true},
		},
		{
			name: "canonical key wins over alternate",
			in:   map[string]any{"favor_recall": false, "favorRecall": true},
			want: map[string]any{"favor_recall": false},
		},
		{
			name: "nil canonical drops alternate",
			in:   map[string]any{"favor_recall": nil, "favorRecall": true},
			want: map[string]any{},
		},
		{
			name: "nil alternate leaves canonical",
			in:   map[string]any{"favor_recall": true, "favorRecall": nil},
			want: map[string]any{"favor_recall": true},
		},
		{
			name: "values pass through untouched",
			in:   map[string]any{"dateExtractionParams": map[string]any{"outputformat": "%Y"}},
			want: map[string]any{"date_extraction_params": map[string]any{"outputformat": "%Y"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NormalizeKeys(tt.in))
		})
	}
}

func TestNormalizeKeysIdempotent(t *testing.T) {
	t.Parallel()

	in := map[string]any{"withMetadata": false, "url_blacklist": []any{"a"}, "teiValidation": true}
	once := NormalizeKeys(in)
	assert.Equal(t, once, NormalizeKeys(once))
}
