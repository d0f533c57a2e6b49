package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Типы событий продаж, публикуемые через outbox.
const (
	AggregateSale          = "sale"
	EventTypeSaleCreated   = "SaleCreated"
	EventTypeSaleCancelled = "SaleCancelled"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStatus — состояние доставки сообщения outbox.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSent    OutboxStatus = "sent"
	OutboxFailed  OutboxStatus = "failed"
)

// DefaultOutboxBatch применяется, когда PullPending вызван с limit <= 0.
const DefaultOutboxBatch = 100

// Prepared дополняет сообщение перед записью: идентификатор, время создания и пустой JSON-объект вместо nil payload.
func (m OutboxMessage) Prepared(now time.Time) OutboxMessage {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now.UTC()
	}
	if len(m.Payload) == 0 {
		m.Payload = []byte(`{}`)
	} else {
		m.Payload = append([]byte(nil), m.Payload...)
	}
	return m
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// SaleEvent — полезная нагрузка событий SaleCreated и SaleCancelled.
type SaleEvent struct {
	EventType     string          `json:"event_type"`
	SaleID        int64           `json:"sale_id"`
	CustomerName  string          `json:"customer_name,omitempty"`
	Status        SaleStatus      `json:"status"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Lines         []SaleEventLine `json:"lines"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// SaleEventLine — позиция в событии: товар и изменение остатка.
type SaleEventLine struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// NewSaleEvent собирает событие из продажи с позициями.
func NewSaleEvent(eventType string, sale Sale, occurredAt time.Time) SaleEvent {
	lines := make([]SaleEventLine, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		lines = append(lines, SaleEventLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			LineTotal: line.LineTotal,
		})
	}
	return SaleEvent{
		EventType:     eventType,
		SaleID:        sale.ID,
		CustomerName:  sale.CustomerName,
		Status:        sale.Status,
		PaymentMethod: sale.PaymentMethod,
		TotalAmount:   sale.TotalAmount,
		Lines:         lines,
		OccurredAt:    occurredAt.UTC(),
	}
}
