package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	seq        int64
	status     domain.OutboxStatus
	attemptCnt int
	updatedAt  time.Time
}

// outboxRepo — transactional outbox поверх состояния Store: сообщения, записанные
// в единице работы, появляются только вместе с её фиксацией.
type outboxRepo struct {
	sc scope
}

// Enqueue сохраняет событие со статусом `pending` и возвращает его с идентификатором.
func (r outboxRepo) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	err := r.sc.write(func(st *state) error {
		ts := now()
		msg = msg.Prepared(ts)
		st.outboxSeq++
		st.outbox[msg.ID] = outboxRecord{
			msg:       msg,
			seq:       st.outboxSeq,
			status:    domain.OutboxPending,
			updatedAt: ts,
		}
		return nil
	})
	return msg, err
}

// PullPending возвращает до limit сообщений со статусом `pending`, старые первыми.
func (r outboxRepo) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = domain.DefaultOutboxBatch
	}

	var result []domain.OutboxMessage
	err := r.sc.read(func(st *state) error {
		pending := st.pendingOutbox()
		if len(pending) > limit {
			pending = pending[:limit]
		}
		result = make([]domain.OutboxMessage, 0, len(pending))
		for _, rec := range pending {
			msg := rec.msg
			msg.Payload = append([]byte(nil), rec.msg.Payload...)
			result = append(result, msg)
		}
		return nil
	})
	return result, err
}

// Stats возвращает размер backlog и время самого старого pending-сообщения.
func (r outboxRepo) Stats(_ context.Context) (domain.OutboxStats, error) {
	var stats domain.OutboxStats
	err := r.sc.read(func(st *state) error {
		pending := st.pendingOutbox()
		stats.PendingCount = len(pending)
		if len(pending) > 0 {
			stats.OldestPendingAt = pending[0].msg.CreatedAt
		}
		return nil
	})
	return stats, err
}

// MarkSent обновляет статус события после успешной публикации.
func (r outboxRepo) MarkSent(_ context.Context, id string) error {
	return r.mark(id, domain.OutboxSent)
}

// MarkFailed фиксирует ошибку публикации.
func (r outboxRepo) MarkFailed(_ context.Context, id string) error {
	return r.mark(id, domain.OutboxFailed)
}

func (r outboxRepo) mark(id string, status domain.OutboxStatus) error {
	return r.sc.write(func(st *state) error {
		record, ok := st.outbox[id]
		if !ok {
			return domain.ErrOutboxPublish
		}
		record.status = status
		record.attemptCnt++
		record.updatedAt = now()
		st.outbox[id] = record
		return nil
	})
}

func (st *state) pendingOutbox() []outboxRecord {
	pending := make([]outboxRecord, 0, len(st.outbox))
	for _, rec := range st.outbox {
		if rec.status == domain.OutboxPending {
			pending = append(pending, rec)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].seq < pending[j].seq })
	return pending
}

var _ domain.OutboxRepository = outboxRepo{}
