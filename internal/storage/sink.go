// Package storage persists page artifacts under content-addressed keys. Every
// artifact for one page shares a prefix derived from the page URL, so a
// consumer can find the raw HTML and all formats of a page from its URL alone.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/contextractor/internal/crawler"
	"github.com/JakeFAU/contextractor/internal/hash/md5"
	"github.com/JakeFAU/contextractor/internal/metrics"
)

// keyPrefixLen is the number of hex characters of the URL digest used as the
// page prefix.
const keyPrefixLen = 16

// KeyPrefix returns the page-scoped prefix shared by all artifacts of pageURL.
func KeyPrefix(pageURL string) string {
	return md5.Hex([]byte(pageURL))[:keyPrefixLen]
}

// Suffix returns the key suffix for an artifact kind.
func Suffix(kind crawler.ArtifactKind) (string, error) {
	switch kind {
	case crawler.KindRawHTML:
		return "-raw.html", nil
	case crawler.KindFor(crawler.FormatText):
		return ".txt", nil
	case crawler.KindFor(crawler.FormatJSON):
		return ".json", nil
	case crawler.KindFor(crawler.FormatMarkdown):
		return ".md", nil
	case crawler.KindFor(crawler.FormatXML):
		return ".xml", nil
	case crawler.KindFor(crawler.FormatXMLTEI):
		return ".tei.xml", nil
	default:
		return "", fmt.Errorf("unknown artifact kind %q", kind)
	}
}

// ArtifactKey returns the storage key for one artifact of pageURL.
func ArtifactKey(pageURL string, kind crawler.ArtifactKind) (string, error) {
	suffix, err := Suffix(kind)
	if err != nil {
		return "", err
	}
	return KeyPrefix(pageURL) + suffix, nil
}

// ContentType returns the MIME type stored alongside an artifact.
func ContentType(kind crawler.ArtifactKind) string {
	switch kind {
	case crawler.KindRawHTML:
		return "text/html; charset=utf-8"
	case crawler.KindFor(crawler.FormatJSON):
		return "application/json; charset=utf-8"
	case crawler.KindFor(crawler.FormatMarkdown):
		return "text/markdown; charset=utf-8"
	case crawler.KindFor(crawler.FormatXML), crawler.KindFor(crawler.FormatXMLTEI):
		return "application/xml; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Sink implements crawler.ArtifactSink on top of a BlobStore.
type Sink struct {
	store     crawler.BlobStore
	hasher    crawler.Fingerprinter
	storeName string
	logger    *zap.Logger
}

// NewSink builds a sink. storeName, when set, namespaces every object path;
// the returned keys never include it.
func NewSink(store crawler.BlobStore, hasher crawler.Fingerprinter, storeName string, logger *zap.Logger) (*Sink, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	if hasher == nil {
		hasher = md5.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		store:     store,
		hasher:    hasher,
		storeName: strings.Trim(storeName, "/"),
		logger:    logger.Named("storage"),
	}, nil
}

// Persist writes content under its deterministic key. The returned fingerprint
// covers exactly the bytes handed to the blob store.
func (s *Sink) Persist(ctx context.Context, pageURL string, kind crawler.ArtifactKind, content string) (crawler.ArtifactRef, error) {
	key, err := ArtifactKey(pageURL, kind)
	if err != nil {
		return crawler.ArtifactRef{}, err
	}
	body := []byte(content)
	info := s.hasher.Fingerprint(body)

	uri, err := s.store.PutObject(ctx, s.objectPath(key), ContentType(kind), bytes.NewReader(body))
	if err != nil {
		return crawler.ArtifactRef{}, fmt.Errorf("put %s: %w", key, err)
	}
	metrics.ObserveArtifact(string(kind), len(body))
	s.logger.Debug("artifact stored",
		zap.String("url", pageURL),
		zap.String("key", key),
		zap.Int("bytes", info.Length),
	)
	return crawler.ArtifactRef{Key: key, URL: uri, Hash: info.Hash, Length: info.Length}, nil
}

func (s *Sink) objectPath(key string) string {
	if s.storeName == "" {
		return key
	}
	return path.Join(s.storeName, key)
}
