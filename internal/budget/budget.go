// Package budget implements the crawl-wide completion policy: a counter with
// an optional limit that trips once and never resets.
package budget

import (
	"sync/atomic"

	"github.com/JakeFAU/contextractor/internal/metrics"
)

// Names of the two budgets a crawl carries.
const (
	Results = "results"
	Pages   = "pages"
)

// Counter is safe for concurrent use. A zero limit means unlimited.
type Counter struct {
	name  string
	limit int64
	count atomic.Int64
}

// New returns a counter. Negative limits are treated as unlimited.
func New(name string, limit int64) *Counter {
	if limit < 0 {
		limit = 0
	}
	c := &Counter{name: name, limit: limit}
	metrics.SetBudget(name, 0, limit)
	return c
}

// Name identifies the budget in logs and metrics.
func (c *Counter) Name() string {
	return c.name
}

// Limit returns the configured maximum, zero when unlimited.
func (c *Counter) Limit() int64 {
	return c.limit
}

// Count returns the current count.
func (c *Counter) Count() int64 {
	return c.count.Load()
}

// Exhausted reports whether the count has reached a nonzero limit.
func (c *Counter) Exhausted() bool {
	return c.limit > 0 && c.count.Load() >= c.limit
}

// CheckBeforeWork reports whether a worker may start new work.
func (c *Counter) CheckBeforeWork() bool {
	return !c.Exhausted()
}

// Record atomically adds one and returns the new count together with whether
// this call is the one that reached the limit. Exactly one caller observes
// tripped == true for the lifetime of the counter.
func (c *Counter) Record() (count int64, tripped bool) {
	n := c.count.Add(1)
	metrics.SetBudget(c.name, n, c.limit)
	return n, c.limit > 0 && n == c.limit
}
