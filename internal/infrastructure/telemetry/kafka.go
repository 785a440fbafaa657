package telemetry

import (
	"context"
	"strings"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// headerCarrier adapts kafka message headers to a propagation.TextMapCarrier.
// Keys match case-insensitively; Set replaces an existing key in place.
type headerCarrier struct {
	headers []kafka.Header
}

func (c *headerCarrier) index(key string) int {
	for i, header := range c.headers {
		if strings.EqualFold(header.Key, key) {
			return i
		}
	}
	return -1
}

func (c *headerCarrier) Get(key string) string {
	if i := c.index(key); i >= 0 {
		return string(c.headers[i].Value)
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	if i := c.index(key); i >= 0 {
		c.headers[i].Value = []byte(value)
		return
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, len(c.headers))
	for i, header := range c.headers {
		keys[i] = header.Key
	}
	return keys
}

// InjectKafkaHeaders writes the trace context of ctx into headers.
func InjectKafkaHeaders(ctx context.Context, headers *[]kafka.Header) {
	carrier := &headerCarrier{headers: *headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	*headers = carrier.headers
}

func ExtractKafkaHeaders(ctx context.Context, headers []kafka.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, &headerCarrier{headers: headers})
}

// MessageContext restores the producer's trace for a consumed message,
// falling back to traceID when the headers carry none.
func MessageContext(ctx context.Context, headers []kafka.Header, traceID string) context.Context {
	msgCtx := ExtractKafkaHeaders(ctx, headers)
	if TraceIDFromContext(msgCtx) != "" || traceID == "" {
		return msgCtx
	}
	if withTrace, ok := ContextWithTraceID(msgCtx, traceID); ok {
		return withTrace
	}
	return msgCtx
}
