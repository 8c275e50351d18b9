package repository

import (
	"context"
	"fmt"

	"TradePulse/internal/domain/models"
	drepo "TradePulse/internal/domain/repository"
	"TradePulse/pkg/kafka"
)

// KafkaPublisher forwards trades to a Kafka topic, keyed by symbol so
// one symbol's trades stay ordered within a partition.
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
}

// NewKafkaPublisher wraps producer as a trade Publisher.
func NewKafkaPublisher(producer *kafka.Producer, topic string) drepo.Publisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, t *models.Trade) error {
	if err := p.producer.Publish(ctx, p.topic, []byte(t.Symbol), t); err != nil {
		return fmt.Errorf("publish trade %s: %w", t.Key(), err)
	}
	return nil
}

func (p *KafkaPublisher) PublishBatch(ctx context.Context, trades []*models.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(trades))
	for _, t := range trades {
		msgs = append(msgs, kafka.Message{Key: []byte(t.Symbol), Value: t})
	}
	if err := p.producer.PublishBatch(ctx, p.topic, msgs); err != nil {
		return fmt.Errorf("publish trade batch: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// KafkaLogPublisher adapts the producer to the log collector's
// publish contract so aggregated logs ship to their own topic.
type KafkaLogPublisher struct {
	producer *kafka.Producer
}

func NewKafkaLogPublisher(producer *kafka.Producer) *KafkaLogPublisher {
	return &KafkaLogPublisher{producer: producer}
}

func (p *KafkaLogPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}
