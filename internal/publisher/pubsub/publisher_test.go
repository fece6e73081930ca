package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestNewMessageInjectsTraceContext(t *testing.T) {
	t.Parallel()

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	data, err := json.Marshal(map[string]string{"loaded_url": "https://example.com"})
	require.NoError(t, err)

	carrier := &attributeCarrier{attrs: map[string]string{}}
	propagation.TraceContext{}.Inject(ctx, carrier)
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", carrier.Get("traceparent"))
	assert.Equal(t, []string{"traceparent"}, carrier.Keys())

	msg, err := newMessage(ctx, map[string]string{"loaded_url": "https://example.com"})
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(msg.Data))
	assert.NotNil(t, msg.Attributes)
}

func TestNewMessageRejectsUnencodable(t *testing.T) {
	t.Parallel()

	_, err := newMessage(context.Background(), make(chan int))
	require.Error(t, err)
}

func TestPublishWithoutPublisher(t *testing.T) {
	t.Parallel()

	_, err := (&Publisher{}).Publish(context.Background(), "pages", "x")
	require.Error(t, err)
	require.NoError(t, (&Publisher{}).Close())

	_, err = Dial(context.Background(), "", "pages")
	require.Error(t, err)
}
