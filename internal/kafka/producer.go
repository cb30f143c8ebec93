package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"room-chat-service/internal/observability"
)

// Producer publishes events to a single topic keyed by routing key. It
// satisfies the same Publish/Close contract as the RabbitMQ publisher.
type Producer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewProducer constructs an asynchronous Producer. Publish only enqueues;
// broker failures are reported through completed.
func NewProducer(brokers []string, topic string, logger *zap.Logger) *Producer {
	p := &Producer{logger: logger}
	p.writer = &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
		Async:                  true,
		Completion:             p.completed,
	}
	logger.Info("kafka producer configured", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return p
}

func (p *Producer) completed(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	observability.IncPublishError("kafka")
	keys := make([]string, 0, len(messages))
	for _, m := range messages {
		keys = append(keys, string(m.Key))
	}
	p.logger.Warn("kafka publish failed", zap.Strings("routing_keys", keys), zap.Int("messages", len(messages)), zap.Error(err))
}

// Publish enqueues event as JSON. Messages with the same routing key land on
// the same partition.
func (p *Producer) Publish(ctx context.Context, routingKey string, event any) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}

	headers := make([]kafka.Header, 0, 2)
	for key, val := range observability.HeadersFromContext(ctx) {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(val)})
	}

	msg := kafka.Message{Key: []byte(routingKey), Value: value, Headers: headers, Time: time.Now()}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		observability.IncPublishError("kafka")
		p.logger.Warn("kafka enqueue failed", zap.String("routing_key", routingKey), zap.Error(err))
		return err
	}
	return nil
}

// Close flushes queued messages and closes the writer.
func (p *Producer) Close() error { return p.writer.Close() }
