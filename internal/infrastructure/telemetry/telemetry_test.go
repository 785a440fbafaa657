package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestKafkaHeadersCarryTraceContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	ctx, ok := ContextWithTraceID(context.Background(), "4bf92f3577b34da6a3ce929d0e0e4736")
	require.True(t, ok)

	headers := []kafka.Header{{Key: "other", Value: []byte("x")}}
	InjectKafkaHeaders(ctx, &headers)
	assert.Len(t, headers, 2)

	extracted := ExtractKafkaHeaders(context.Background(), headers)
	spanCtx := trace.SpanContextFromContext(extracted)
	assert.True(t, spanCtx.IsValid())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spanCtx.TraceID().String())
}

func TestContextWithTraceID_RejectsGarbage(t *testing.T) {
	_, ok := ContextWithTraceID(context.Background(), "nope")
	assert.False(t, ok)
}

func TestMessageContext(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	fallback := MessageContext(context.Background(), nil, "4bf92f3577b34da6a3ce929d0e0e4736")
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", TraceIDFromContext(fallback))

	ctx, ok := ContextWithTraceID(context.Background(), "0af7651916cd43dd8448eb211c80319c")
	require.True(t, ok)
	var headers []kafka.Header
	InjectKafkaHeaders(ctx, &headers)
	fromHeaders := MessageContext(context.Background(), headers, "4bf92f3577b34da6a3ce929d0e0e4736")
	assert.Equal(t, "0af7651916cd43dd8448eb211c80319c", TraceIDFromContext(fromHeaders))

	assert.Empty(t, TraceIDFromContext(MessageContext(context.Background(), nil, "")))
}

func TestInitTracer_WithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "feeindex-test", "")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestEndSpan(t *testing.T) {
	_, span := otel.Tracer("test").Start(context.Background(), "op")
	EndSpan(span, errors.New("boom"))
	assert.False(t, span.IsRecording())
}
