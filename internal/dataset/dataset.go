// Package dataset holds the append-only stores that receive one PageResult per
// successfully processed page, and the helpers they share.
package dataset

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/JakeFAU/contextractor/internal/crawler"
)

// DefaultName is used when no dataset name is configured.
const DefaultName = "default"

// Store is a dataset that must be closed to flush buffered records.
type Store interface {
	crawler.Dataset
	Close() error
}

var validName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// ResolveName validates a dataset name, falling back to DefaultName.
func ResolveName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultName, nil
	}
	if !validName.MatchString(name) {
		return "", fmt.Errorf("invalid dataset name %q", name)
	}
	return name, nil
}

// FilePath returns the file a file-backed dataset called name writes to.
func FilePath(dir, name, ext string) (string, error) {
	resolved, err := ResolveName(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, resolved+ext), nil
}

// FormatArtifacts returns the extracted-format references of a result keyed by
// format name. Raw HTML is not included.
func FormatArtifacts(result crawler.PageResult) map[string]crawler.ArtifactRef {
	out := make(map[string]crawler.ArtifactRef)
	for _, f := range crawler.Formats {
		if ref := result.Artifact(f); ref != nil {
			out[string(f)] = *ref
		}
	}
	return out
}
