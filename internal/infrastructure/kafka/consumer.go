package kafka

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"feeindex/internal/domain"
	"feeindex/internal/infrastructure/telemetry"
	"feeindex/internal/streaming"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topic   string
	Pool    string
}

// ScanConsumer reads scan requests for one pool.
type ScanConsumer struct {
	reader *kafka.Reader
	pool   string
}

func NewScanConsumer(cfg ConsumerConfig) (*ScanConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.GroupID == "" || cfg.Topic == "" {
		return nil, errors.New("kafka group and topic are required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &ScanConsumer{reader: reader, pool: cfg.Pool}, nil
}

func (c *ScanConsumer) Close() error {
	return c.reader.Close()
}

// Run hands every scan request to handle until ctx is done. Offsets are
// committed once handle returns, failed or not; failures live on the task.
func (c *ScanConsumer) Run(ctx context.Context, handle func(context.Context, domain.ScanTask) error) error {
	tracer := otel.Tracer("feeindex/kafka")
	for {
		message, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("kafka fetch error", "err", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}

		decoded, err := streaming.Decode(message.Value)
		if err != nil || decoded.Type != streaming.MessageTypeScanRequest {
			slog.Warn("skipping undecodable scan request", "offset", message.Offset, "err", err)
			_ = c.reader.CommitMessages(ctx, message)
			continue
		}
		if c.pool != "" && decoded.Pool != c.pool {
			slog.Warn("skipping scan request for another pool", "pool", decoded.Pool)
			_ = c.reader.CommitMessages(ctx, message)
			continue
		}

		messageCtx, span := tracer.Start(
			telemetry.MessageContext(ctx, message.Headers, decoded.TraceID),
			"scan.consume",
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		span.SetAttributes(
			attribute.String("task.id", decoded.TaskID),
			attribute.String("action", string(decoded.Action)),
		)
		err = handle(messageCtx, decoded.ScanTask())
		telemetry.EndSpan(span, err)
		if err != nil {
			slog.Error("scan request failed", "task_id", decoded.TaskID, "err", err)
		}
		if err := c.reader.CommitMessages(ctx, message); err != nil && ctx.Err() == nil {
			slog.Error("kafka commit error", "err", err)
		}
	}
}
