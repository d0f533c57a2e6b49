package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/metrics"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func enqueueSaleEvent(t *testing.T, repo domain.OutboxRepository, saleID string) domain.OutboxMessage {
	t.Helper()
	msg, err := repo.Enqueue(context.Background(), domain.OutboxMessage{
		AggregateType: domain.AggregateSale,
		AggregateID:   saleID,
		EventType:     domain.EventTypeSaleCreated,
		Payload:       []byte(`{"sale_id":` + saleID + `}`),
	})
	require.NoError(t, err)
	return msg
}

func TestWorker_ProcessOnce_MarkSent(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	msg := enqueueSaleEvent(t, store.Outbox(), "1")

	publisher := &mockPublisher{}
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(e domain.OutboxMessage) bool {
		return e.ID == msg.ID
	})).Return(nil).Once()

	worker := NewWorker(store.Outbox(), publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))
	worker.ProcessOnce(context.Background())

	publisher.AssertExpectations(t)
	stats, err := store.Outbox().Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.PendingCount)
}

func TestWorker_ProcessOnce_MarkFailedAndDLQAfterRetries(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	msg := enqueueSaleEvent(t, store.Outbox(), "2")

	publisher := &mockPublisher{}
	publisher.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down")).Times(3)

	var dlqBody []byte
	dlq := &mockPublisher{}
	dlq.On("Publish", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		dlqBody = args.Get(1).(domain.OutboxMessage).Payload
	}).Return(nil).Once()

	worker := NewWorker(store.Outbox(), publisher,
		WithDLQPublisher(dlq),
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
	)
	worker.ProcessOnce(context.Background())

	publisher.AssertExpectations(t)
	dlq.AssertExpectations(t)

	var envelope DeadLetter
	require.NoError(t, json.Unmarshal(dlqBody, &envelope))
	assert.Equal(t, msg.ID, envelope.OutboxID)
	assert.Equal(t, domain.EventTypeSaleCreated, envelope.EventType)
	assert.Contains(t, envelope.PublishError, "broker down")
	assert.JSONEq(t, `{"sale_id":2}`, string(envelope.Payload))

	pending, err := store.Outbox().PullPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "failed message leaves the pending backlog")
}

func TestWorker_ProcessOnce_SuccessAfterRetry(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	enqueueSaleEvent(t, store.Outbox(), "3")

	publisher := &mockPublisher{}
	publisher.On("Publish", mock.Anything, mock.Anything).Return(errors.New("attempt failed")).Twice()
	publisher.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()

	worker := NewWorker(store.Outbox(), publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))
	worker.ProcessOnce(context.Background())

	publisher.AssertNumberOfCalls(t, "Publish", 3)
	stats, err := store.Outbox().Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.PendingCount)
}

func TestWorker_ProcessOnce_PublishesInEnqueueOrder(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	first := enqueueSaleEvent(t, store.Outbox(), "10")
	second := enqueueSaleEvent(t, store.Outbox(), "11")

	var order []string
	publisher := &mockPublisher{}
	publisher.On("Publish", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		order = append(order, args.Get(1).(domain.OutboxMessage).ID)
	}).Return(nil)

	NewWorker(store.Outbox(), publisher, WithRetryBaseDelay(0)).ProcessOnce(context.Background())

	assert.Equal(t, []string{first.ID, second.ID}, order)
}

func TestWorker_ProcessOnce_SkipsCancelledContext(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	enqueueSaleEvent(t, store.Outbox(), "4")
	publisher := &mockPublisher{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewWorker(store.Outbox(), publisher).ProcessOnce(ctx)

	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestWorker_BackOffDoublesWithoutJitter(t *testing.T) {
	t.Parallel()

	b := NewWorker(nil, nil, WithRetryBaseDelay(10*time.Millisecond)).newBackOff()
	assert.Equal(t, 10*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 20*time.Millisecond, b.NextBackOff())
	assert.Equal(t, 40*time.Millisecond, b.NextBackOff())

	zero := NewWorker(nil, nil, WithRetryBaseDelay(0)).newBackOff()
	assert.Zero(t, zero.NextBackOff())
}

func TestWorker_ProcessOnce_RecordsMetrics(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	enqueueSaleEvent(t, store.Outbox(), "5")
	enqueueSaleEvent(t, store.Outbox(), "6")

	publisher := &mockPublisher{}
	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(e domain.OutboxMessage) bool {
		return e.AggregateID == "5"
	})).Return(nil)
	publisher.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	reg := prometheus.NewRegistry()
	NewWorker(store.Outbox(), publisher,
		WithMetrics(metrics.NewOutboxMetrics(reg)),
		WithRetryBaseDelay(0),
		WithMaxAttempts(2),
	).ProcessOnce(context.Background())

	assert.Equal(t, float64(1), publishAttempts(t, reg, "sent"))
	assert.Equal(t, float64(2), publishAttempts(t, reg, "retry_error"))
	assert.Equal(t, float64(1), publishAttempts(t, reg, "failed"))
}

func publishAttempts(t *testing.T, reg *prometheus.Registry, result string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "pos_outbox_publish_attempts_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "result" && label.GetValue() == result {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	publisher := &mockPublisher{}

	worker := NewWorker(
		store.Outbox(),
		publisher,
		WithPollInterval(5*time.Millisecond),
		WithRetryBaseDelay(0),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestLogPublisher_Publish(t *testing.T) {
	t.Parallel()

	logger, hook := test.NewNullLogger()
	publisher := NewLogPublisher(logger.WithField("component", "test"))

	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:          "m-1",
		AggregateID: "7",
		EventType:   domain.EventTypeSaleCancelled,
		Payload:     []byte(`{}`),
	})
	require.NoError(t, err)
	require.Len(t, hook.AllEntries(), 1)
	entry := hook.LastEntry()
	assert.Equal(t, log.InfoLevel, entry.Level)
	assert.Equal(t, domain.EventTypeSaleCancelled, entry.Data["event_type"])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, publisher.Publish(ctx, domain.OutboxMessage{}), context.Canceled)
}
