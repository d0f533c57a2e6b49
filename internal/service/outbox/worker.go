// Package outbox публикует события продаж из transactional outbox во внешний брокер.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/metrics"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 5 * time.Second
)

// Option настраивает Worker.
type Option func(*Worker)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDLQPublisher задаёт publisher, куда уходят сообщения после исчерпания попыток.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.dlq = publisher }
}

// WithMetrics подключает метрики доставки.
func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// WithBatchSize задаёт число сообщений за один цикл.
func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithMaxAttempts задаёт число попыток публикации одного сообщения.
func WithMaxAttempts(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithRetryBaseDelay задаёт первую паузу экспоненциального backoff; 0 повторяет без пауз.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) { w.retryBaseDelay = max(delay, 0) }
}

// Worker переносит pending-сообщения outbox в брокер.
// Доставка at-least-once: сбой MarkSent после успешной публикации приводит к повторной отправке.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	logger    *log.Entry
	metrics   *metrics.OutboxMetrics

	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	w := &Worker{
		repo:           repo,
		publisher:      publisher,
		logger:         log.WithField("component", "outbox-worker"),
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce публикует одну порцию pending-сообщений в порядке постановки.
func (w *Worker) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	defer w.refreshBacklog(ctx)

	batch, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return
	}

	sent := 0
	for _, msg := range batch {
		if ctx.Err() != nil {
			return
		}
		if w.deliver(ctx, msg) {
			sent++
		}
	}
	if sent > 0 {
		w.logger.WithFields(log.Fields{"sent": sent, "batch": len(batch)}).Debug("outbox batch published")
	}
}

// deliver публикует сообщение и фиксирует итог в outbox; true означает MarkSent.
func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) bool {
	entry := w.logger.WithFields(log.Fields{
		"outbox_id":    msg.ID,
		"event_type":   msg.EventType,
		"aggregate_id": msg.AggregateID,
	})

	if err := w.publish(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return false
		}
		entry.WithError(err).Error("outbox publish failed after retries")
		w.metrics.RecordPublish(metrics.PublishFailed)

		if dlqErr := w.sendToDLQ(ctx, msg, err); dlqErr != nil {
			entry.WithError(dlqErr).Warn("failed to publish to DLQ")
			w.metrics.RecordPublish(metrics.PublishDLQFailed)
		}
		if markErr := w.repo.MarkFailed(ctx, msg.ID); markErr != nil {
			entry.WithError(markErr).Warn("failed to mark outbox message as failed")
		}
		return false
	}

	if err := w.repo.MarkSent(ctx, msg.ID); err != nil {
		entry.WithError(err).Warn("failed to mark outbox message as sent")
		return false
	}
	return true
}

func (w *Worker) publish(ctx context.Context, msg domain.OutboxMessage) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := w.publisher.Publish(ctx, msg); err != nil {
			w.metrics.RecordPublish(metrics.PublishRetry)
			return struct{}{}, err
		}
		w.metrics.RecordPublish(metrics.PublishSent)
		return struct{}{}, nil
	},
		backoff.WithBackOff(w.newBackOff()),
		backoff.WithMaxTries(uint(w.maxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		return fmt.Errorf("publish failed after %d attempts: %w", w.maxAttempts, err)
	}
	return nil
}

// newBackOff удваивает паузу от retryBaseDelay до maxRetryDelay без случайного разброса.
func (w *Worker) newBackOff() backoff.BackOff {
	if w.retryBaseDelay <= 0 {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.retryBaseDelay
	b.MaxInterval = max(maxRetryDelay, w.retryBaseDelay)
	b.Multiplier = 2
	b.RandomizationFactor = 0
	return b
}

func (w *Worker) refreshBacklog(ctx context.Context) {
	if w.metrics == nil || ctx.Err() != nil {
		return
	}
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}
	w.metrics.SetBacklog(stats.PendingCount, stats.OldestPendingAt)
}

// sendToDLQ оборачивает сообщение в DeadLetter; идентификатор и ключ агрегата сохраняются.
func (w *Worker) sendToDLQ(ctx context.Context, msg domain.OutboxMessage, cause error) error {
	if w.dlq == nil {
		return nil
	}

	payload := json.RawMessage(msg.Payload)
	if !json.Valid(payload) {
		payload = json.RawMessage("null")
	}
	body, err := json.Marshal(DeadLetter{
		OutboxID:       msg.ID,
		AggregateType:  msg.AggregateType,
		AggregateID:    msg.AggregateID,
		EventType:      msg.EventType,
		Payload:        payload,
		PublishError:   cause.Error(),
		DLQPublishedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	dead := msg
	dead.Payload = body
	if err := w.dlq.Publish(ctx, dead); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}
