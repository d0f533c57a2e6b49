package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// ErrEmptyDeadLetter — в DLQ-записи нет исходного payload события.
var ErrEmptyDeadLetter = errors.New("dead letter does not contain original payload")

// DeadLetter — payload сообщения, отправленного в DLQ после исчерпания попыток.
type DeadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

// ParseDeadLetter разбирает payload DLQ-записи.
func ParseDeadLetter(data []byte) (DeadLetter, error) {
	var dl DeadLetter
	if err := json.Unmarshal(data, &dl); err != nil {
		return DeadLetter{}, fmt.Errorf("decode dead letter: %w", err)
	}
	if len(dl.Payload) == 0 || string(dl.Payload) == "null" {
		return DeadLetter{}, ErrEmptyDeadLetter
	}
	if strings.TrimSpace(dl.OutboxID) == "" || strings.TrimSpace(dl.EventType) == "" {
		return DeadLetter{}, fmt.Errorf("dead letter is missing outbox id or event type")
	}
	return dl, nil
}

// Message восстанавливает исходное outbox-сообщение для повторной публикации.
func (d DeadLetter) Message(createdAt time.Time) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       []byte(d.Payload),
		CreatedAt:     createdAt,
	}
}
