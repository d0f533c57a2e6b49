// Package kafka публикует события продаж из outbox в Kafka через sarama.
package kafka

import (
	"encoding/json"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// Topics для Kafka
const (
	TopicSaleEvents      = "pos.sale.events"
	TopicDeadLetterQueue = "pos.dlq" // Dead Letter Queue для сообщений, не доставленных после retry
)

// Kafka headers сообщения
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOutboxID      = "x-outbox-id"
	HeaderOriginalTopic = "x-original-topic"
)

// Envelope — значение Kafka-сообщения: метаданные outbox и исходный payload события.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope оборачивает outbox-сообщение.
func NewEnvelope(event domain.OutboxMessage, publishedAt time.Time) Envelope {
	payload := json.RawMessage(event.Payload)
	if !json.Valid(payload) {
		payload = json.RawMessage("null")
	}
	return Envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
		OccurredAt:    event.CreatedAt.UTC(),
		PublishedAt:   publishedAt.UTC(),
	}
}
