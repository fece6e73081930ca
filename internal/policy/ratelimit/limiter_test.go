package ratelimit

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/contextractor/internal/crawler"
)

func TestLimiterWaitDelaysSameHost(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://test.com/a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://TEST.com/b"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.com/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.com/1"))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(short, "https://a.com/2"))
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	assert.False(t, New(Config{}).Enabled())
	l := New(Config{RPS: 2, Burst: -1})
	assert.True(t, l.Enabled())
	assert.Equal(t, 1, l.burst)
	assert.Equal(t, "unknown", hostOf("::bad"))
}

type countingRenderer struct {
	calls atomic.Int32
	err   error
}

func (c *countingRenderer) Render(_ context.Context, req crawler.RenderRequest) (crawler.RenderResponse, error) {
	c.calls.Add(1)
	return crawler.RenderResponse{URL: req.URL, Status: 200}, c.err
}

func TestWrap(t *testing.T) {
	t.Parallel()

	inner := &countingRenderer{}
	assert.Same(t, crawler.Renderer(inner), Wrap(inner, nil))
	assert.Same(t, crawler.Renderer(inner), Wrap(inner, New(Config{})))

	wrapped := Wrap(inner, New(Config{RPS: 100, Burst: 1}))
	resp, err := wrapped.Render(context.Background(), crawler.RenderRequest{URL: "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, int32(1), inner.calls.Load())

	failing := &countingRenderer{err: errors.New("boom")}
	_, err = Wrap(failing, New(Config{RPS: 100})).Render(context.Background(), crawler.RenderRequest{URL: "https://example.com"})
	require.ErrorIs(t, err, failing.err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Wrap(inner, New(Config{RPS: 0.001, Burst: 1})).Render(ctx, crawler.RenderRequest{URL: "https://example.com"})
	require.Error(t, err)
}
