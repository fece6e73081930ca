package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/contextractor/internal/coordinator"
	"github.com/JakeFAU/contextractor/internal/crawler"
)

type fakeSource struct {
	mu   sync.Mutex
	snap coordinator.Snapshot
}

func (f *fakeSource) Snapshot() coordinator.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSource) set(state crawler.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap.State = state
}

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(&fakeSource{}, nil), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyzFollowsCrawlState(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	s := NewServer(src, nil)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, s, "/readyz").Code)

	src.set(crawler.StateInitializing)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, s, "/readyz").Code)

	src.set(crawler.StateRunning)
	rec := serve(t, s, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","state":"RUNNING"}`, rec.Body.String())
}

func TestStatusReturnsSnapshot(t *testing.T) {
	t.Parallel()

	src := &fakeSource{snap: coordinator.Snapshot{
		RunID:     "run-1",
		State:     crawler.StateRunning,
		Succeeded: 3,
		Failed:    1,
		Pending:   2,
		Results:   coordinator.BudgetView{Count: 3, Limit: 10},
		StartedAt: time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC),
	}}
	rec := serve(t, NewServer(src, nil), "/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var got coordinator.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, src.snap, got)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := NewServer(&fakeSource{}, nil)
	serve(t, s, "/healthz")
	rec := serve(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRequestIDIsPropagated(t *testing.T) {
	t.Parallel()

	s := NewServer(&fakeSource{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	s := NewServer(&fakeSource{}, zap.New(core))
	handler := s.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(&fakeSource{}, nil).ListenAndServe(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
