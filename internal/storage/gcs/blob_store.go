// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to write to GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every object name.
	Prefix string
	// PublicBaseURL, when set, replaces gs:// URIs with HTTP links below it.
	PublicBaseURL string
}

// BlobStore writes artifacts to a configured GCS bucket.
type BlobStore struct {
	client        *storage.Client
	bucket        string
	prefix        string
	publicBaseURL string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if cfg.PublicBaseURL != "" {
		if _, err := url.ParseRequestURI(cfg.PublicBaseURL); err != nil {
			return nil, fmt.Errorf("public base url: %w", err)
		}
	}
	return &BlobStore{
		client:        client,
		bucket:        cfg.Bucket,
		prefix:        strings.Trim(cfg.Prefix, "/"),
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

// PutObject uploads data to the configured bucket and returns either a gs://
// URI or a public link.
func (s *BlobStore) PutObject(ctx context.Context, objectPath string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(objectPath) == "" {
		return "", fmt.Errorf("path is required")
	}
	name := objectPath
	if s.prefix != "" {
		name = path.Join(s.prefix, objectPath)
	}

	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return s.ObjectURL(name), nil
}

// ObjectURL returns the reference handed out for an object name.
func (s *BlobStore) ObjectURL(name string) string {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + name
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name)
}
