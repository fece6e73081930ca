package extraction

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/JakeFAU/contextractor/internal/config"
	"github.com/JakeFAU/contextractor/internal/crawler"
)

// ErrConflictingModes is returned when precision and recall are both requested.
var ErrConflictingModes = errors.New("favor_precision and favor_recall are mutually exclusive")

// Options is the typed extraction configuration handed to the engine.
// Optional fields are nil when unset.
type Options struct {
	Fast                 bool           `mapstructure:"fast" json:"fast"`
	FavorPrecision       bool           `mapstructure:"favor_precision" json:"favor_precision"`
	FavorRecall          bool           `mapstructure:"favor_recall" json:"favor_recall"`
	IncludeComments      bool           `mapstructure:"include_comments" json:"include_comments"`
	IncludeTables        bool           `mapstructure:"include_tables" json:"include_tables"`
	IncludeImages        bool           `mapstructure:"include_images" json:"include_images"`
	IncludeFormatting    bool           `mapstructure:"include_formatting" json:"include_formatting"`
	IncludeLinks         bool           `mapstructure:"include_links" json:"include_links"`
	Deduplicate          bool           `mapstructure:"deduplicate" json:"deduplicate"`
	TargetLanguage       *string        `mapstructure:"target_language" json:"target_language,omitempty"`
	WithMetadata         bool           `mapstructure:"with_metadata" json:"with_metadata"`
	OnlyWithMetadata     bool           `mapstructure:"only_with_metadata" json:"only_with_metadata"`
	TEIValidation        bool           `mapstructure:"tei_validation" json:"tei_validation"`
	PruneXPath           []string       `mapstructure:"prune_xpath" json:"prune_xpath,omitempty"`
	URLBlacklist         []string       `mapstructure:"url_blacklist" json:"url_blacklist,omitempty"`
	AuthorBlacklist      []string       `mapstructure:"author_blacklist" json:"author_blacklist,omitempty"`
	DateExtractionParams map[string]any `mapstructure:"date_extraction_params" json:"date_extraction_params,omitempty"`
}

// Defaults returns the balanced configuration.
func Defaults() Options {
	return Options{
		IncludeComments:   true,
		IncludeTables:     true,
		IncludeFormatting: true,
		IncludeLinks:      true,
		WithMetadata:      true,
	}
}

// ForMode returns the defaults biased for mode.
func ForMode(mode crawler.ExtractionMode) Options {
	opts := Defaults()
	opts.applyMode(mode)
	return opts
}

// FromMap normalizes raw key casing, drops nulls and decodes the result over
// Defaults. Unknown keys and mistyped values are errors.
func FromMap(raw map[string]any) (Options, error) {
	opts := Defaults()
	normalized := config.NormalizeKeys(raw)
	if len(normalized) == 0 {
		return opts, nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  mapstructure.DecodeHookFuncType(stringToSliceHook),
		ErrorUnused: true,
		Result:      &opts,
		TagName:     "mapstructure",
	})
	if err != nil {
		return Options{}, fmt.Errorf("build options decoder: %w", err)
	}
	if err := dec.Decode(normalized); err != nil {
		return Options{}, fmt.Errorf("decode extraction options: %w", err)
	}
	return opts, nil
}

// Resolve builds the crawl-wide options from the raw mapping and the
// configured mode. An explicit mode overrides the favor switches from the
// mapping; without one the switches are kept as given.
func Resolve(raw map[string]any, mode crawler.ExtractionMode) (Options, error) {
	opts, err := FromMap(raw)
	if err != nil {
		return Options{}, err
	}
	if mode != "" {
		opts.applyMode(mode)
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

func (o *Options) applyMode(mode crawler.ExtractionMode) {
	switch mode {
	case crawler.ModeFavorPrecision:
		o.FavorPrecision, o.FavorRecall = true, false
	case crawler.ModeFavorRecall:
		o.FavorPrecision, o.FavorRecall = false, true
	case crawler.ModeBalanced:
		o.FavorPrecision, o.FavorRecall = false, false
	}
}

// Mode reports the mode implied by the favor switches.
func (o Options) Mode() crawler.ExtractionMode {
	switch {
	case o.FavorPrecision && !o.FavorRecall:
		return crawler.ModeFavorPrecision
	case o.FavorRecall && !o.FavorPrecision:
		return crawler.ModeFavorRecall
	default:
		return crawler.ModeBalanced
	}
}

// Validate rejects contradictory settings.
func (o Options) Validate() error {
	if o.FavorPrecision && o.FavorRecall {
		return ErrConflictingModes
	}
	for _, expr := range o.PruneXPath {
		if strings.TrimSpace(expr) == "" {
			return fmt.Errorf("prune_xpath: empty expression")
		}
	}
	if o.TargetLanguage != nil && strings.TrimSpace(*o.TargetLanguage) == "" {
		return fmt.Errorf("target_language: empty value")
	}
	return nil
}

// Kwargs renders the options as a canonical mapping. Optional keys appear
// only when set.
func (o Options) Kwargs() map[string]any {
	out := map[string]any{
		"fast":               o.Fast,
		"favor_precision":    o.FavorPrecision,
		"favor_recall":       o.FavorRecall,
		"include_comments":   o.IncludeComments,
		"include_tables":     o.IncludeTables,
		"include_images":     o.IncludeImages,
		"include_formatting": o.IncludeFormatting,
		"include_links":      o.IncludeLinks,
		"deduplicate":        o.Deduplicate,
		"with_metadata":      o.WithMetadata,
		"only_with_metadata": o.OnlyWithMetadata,
		"tei_validation":     o.TEIValidation,
	}
	if o.TargetLanguage != nil {
		out["target_language"] = *o.TargetLanguage
	}
	if o.PruneXPath != nil {
		out["prune_xpath"] = append([]string(nil), o.PruneXPath...)
	}
	if o.URLBlacklist != nil {
		out["url_blacklist"] = sortedCopy(o.URLBlacklist)
	}
	if o.AuthorBlacklist != nil {
		out["author_blacklist"] = sortedCopy(o.AuthorBlacklist)
	}
	if o.DateExtractionParams != nil {
		out["date_extraction_params"] = o.DateExtractionParams
	}
	return out
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

var stringSliceType = reflect.TypeOf([]string(nil))

// stringToSliceHook lets prune_xpath and the blacklists be given as a single string.
func stringToSliceHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() == reflect.String && to == stringSliceType {
		return []string{data.(string)}, nil
	}
	return data, nil
}
