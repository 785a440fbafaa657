package kafka

import (
	"context"
	"errors"
	"strings"
	"time"

	"feeindex/internal/domain"
	"feeindex/internal/infrastructure/telemetry"
	"feeindex/internal/streaming"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Producer publishes scan requests for the scanner workers and fee events
// for downstream consumers.
type Producer struct {
	writer    *kafka.Writer
	pool      string
	scanTopic string
	feeTopic  string
	now       func() time.Time
}

type ProducerConfig struct {
	Brokers   []string
	Pool      string
	ScanTopic string
	FeeTopic  string
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.Pool) == "" {
		return nil, errors.New("pool is required")
	}
	if strings.TrimSpace(cfg.ScanTopic) == "" {
		cfg.ScanTopic = "feeindex-scan-requests"
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           500 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &Producer{
		writer:    writer,
		pool:      strings.ToLower(cfg.Pool),
		scanTopic: cfg.ScanTopic,
		feeTopic:  cfg.FeeTopic,
		now:       time.Now,
	}, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// DispatchScan queues task for whichever scanner worker consumes the topic.
func (p *Producer) DispatchScan(ctx context.Context, task domain.ScanTask) error {
	ctx, span := otel.Tracer("feeindex/kafka").Start(ctx, "scan.dispatch", trace.WithSpanKind(trace.SpanKindProducer))
	span.SetAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("action", string(task.Action)),
	)

	msg, err := p.scanRequest(ctx, task)
	if err == nil {
		err = p.writer.WriteMessages(ctx, msg)
	}
	telemetry.EndSpan(span, err)
	return err
}

// PublishFees is a no-op when no fee topic is configured.
func (p *Producer) PublishFees(ctx context.Context, fees []domain.Fee) error {
	if p.feeTopic == "" || len(fees) == 0 {
		return nil
	}
	ctx, span := otel.Tracer("feeindex/kafka").Start(ctx, "scan.publish_fees", trace.WithSpanKind(trace.SpanKindProducer))
	span.SetAttributes(attribute.Int("fees", len(fees)))

	messages, err := p.feeMessages(ctx, fees)
	if err == nil {
		err = p.writer.WriteMessages(ctx, messages...)
	}
	telemetry.EndSpan(span, err)
	return err
}

func (p *Producer) scanRequest(ctx context.Context, task domain.ScanTask) (kafka.Message, error) {
	payload, err := streaming.Encode(streaming.Message{
		Type:       streaming.MessageTypeScanRequest,
		Pool:       p.pool,
		TraceID:    telemetry.TraceIDFromContext(ctx),
		TaskID:     task.ID,
		Action:     task.Action,
		ProducedAt: p.now().UTC(),
	})
	if err != nil {
		return kafka.Message{}, err
	}
	headers := make([]kafka.Header, 0, 2)
	telemetry.InjectKafkaHeaders(ctx, &headers)
	// Keyed by pool so every request for one pool lands on one partition.
	return kafka.Message{
		Topic:   p.scanTopic,
		Key:     []byte(p.pool),
		Value:   payload,
		Headers: headers,
	}, nil
}

func (p *Producer) feeMessages(ctx context.Context, fees []domain.Fee) ([]kafka.Message, error) {
	headers := make([]kafka.Header, 0, 2)
	telemetry.InjectKafkaHeaders(ctx, &headers)
	producedAt := p.now().UTC()

	messages := make([]kafka.Message, 0, len(fees))
	for _, fee := range fees {
		amount := fee.Amount
		payload, err := streaming.Encode(streaming.Message{
			Type:       streaming.MessageTypeFee,
			Pool:       p.pool,
			TxHash:     fee.TxHash,
			Amount:     &amount,
			Status:     fee.Status,
			ProducedAt: producedAt,
		})
		if err != nil {
			return nil, err
		}
		messages = append(messages, kafka.Message{
			Topic:   p.feeTopic,
			Key:     []byte(fee.TxHash),
			Value:   payload,
			Headers: headers,
		})
	}
	return messages, nil
}
