// Package jsonl appends page results to a JSON Lines file.
package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/JakeFAU/contextractor/internal/crawler"
)

// Dataset writes one JSON object per line. Existing files are appended to.
type Dataset struct {
	mu     sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	enc    *json.Encoder
	closed bool
}

// Open creates path and its parent directories when missing.
func Open(path string) (*Dataset, error) {
	if path == "" {
		return nil, errors.New("dataset path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create dataset directory: %w", err)
	}
	// #nosec G304 -- path comes from operator configuration.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open dataset file: %w", err)
	}
	buf := bufio.NewWriter(f)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &Dataset{file: f, buf: buf, enc: enc}, nil
}

// Append writes result as one line and flushes it to the file.
func (d *Dataset) Append(_ context.Context, result crawler.PageResult) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("dataset is closed")
	}
	if err := d.enc.Encode(result); err != nil {
		return fmt.Errorf("encode page result: %w", err)
	}
	if err := d.buf.Flush(); err != nil {
		return fmt.Errorf("flush page result: %w", err)
	}
	return nil
}

// Close syncs and closes the file.
func (d *Dataset) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	flushErr := d.buf.Flush()
	syncErr := d.file.Sync()
	closeErr := d.file.Close()
	if err := errors.Join(flushErr, syncErr, closeErr); err != nil {
		return fmt.Errorf("close dataset: %w", err)
	}
	return nil
}
