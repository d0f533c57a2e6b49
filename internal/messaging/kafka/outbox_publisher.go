package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в заданный Kafka topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	// sourceTopic задан только у DLQ-паблишера.
	sourceTopic string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicSaleEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
	}
}

// NewDLQPublisher создаёт паблишер в DLQ; sourceTopic попадает в header x-original-topic.
func NewDLQPublisher(producer *Producer, sourceTopic string) *OutboxTopicPublisher {
	if sourceTopic == "" {
		sourceTopic = TopicSaleEvents
	}
	return &OutboxTopicPublisher{
		producer:    producer,
		topic:       TopicDeadLetterQueue,
		sourceTopic: sourceTopic,
	}
}

// Topic возвращает topic назначения.
func (p *OutboxTopicPublisher) Topic() string { return p.topic }

// Publish отправляет событие с ключом aggregate id, чтобы события одной продажи шли по порядку.
func (p *OutboxTopicPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	headers := map[string]string{
		HeaderEventType:     event.EventType,
		HeaderAggregateType: event.AggregateType,
		HeaderOutboxID:      event.ID,
	}
	if p.sourceTopic != "" {
		headers[HeaderOriginalTopic] = p.sourceTopic
	}

	return p.producer.PublishJSON(ctx, p.topic, key, NewEnvelope(event, time.Now()), headers)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
