package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusError(t *testing.T) {
	t.Parallel()

	assert.NoError(t, StatusError(200))
	assert.NoError(t, StatusError(304))
	assert.ErrorIs(t, StatusError(404), ErrPermanent)
	assert.ErrorIs(t, StatusError(429), ErrRetryableStatus)
	assert.ErrorIs(t, StatusError(503), ErrRetryableStatus)
}

func TestExponentialRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3)
	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{name: "nil error", err: nil, attempt: 0, want: false},
		{name: "retryable status", err: StatusError(502), attempt: 0, want: true},
		{name: "timeout", err: fmt.Errorf("render: %w", context.DeadlineExceeded), attempt: 2, want: true},
		{name: "budget spent", err: StatusError(502), attempt: 3, want: false},
		{name: "permanent", err: StatusError(404), attempt: 0, want: false},
		{name: "canceled", err: context.Canceled, attempt: 0, want: false},
		{name: "unknown error", err: errors.New("connection reset"), attempt: 1, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, p.ShouldRetry(tt.err, tt.attempt))
		})
	}
}

func TestExponentialRetryPolicyZeroRetries(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(-1)
	assert.False(t, p.ShouldRetry(StatusError(500), 0))
}

func TestExponentialRetryPolicyBackoffBounded(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3)
	for attempt := 0; attempt < 10; attempt++ {
		d := p.Backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 5*time.Second)
	}
}
