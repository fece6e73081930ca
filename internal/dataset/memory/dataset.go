// Package memory keeps page results in-memory for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/contextractor/internal/crawler"
)

// Dataset stores results in append order.
type Dataset struct {
	mu      sync.RWMutex
	records []crawler.PageResult
}

// New returns an empty Dataset.
func New() *Dataset {
	return &Dataset{}
}

// Append records result.
func (d *Dataset) Append(_ context.Context, result crawler.PageResult) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = append(d.records, result)
	return nil
}

// Records returns a copy of everything appended so far.
func (d *Dataset) Records() []crawler.PageResult {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]crawler.PageResult, len(d.records))
	copy(out, d.records)
	return out
}

// Len reports the number of records.
func (d *Dataset) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}

// Close is a no-op.
func (d *Dataset) Close() error {
	return nil
}
