package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/pos/internal/service/outbox"
)

// publisherFactory возвращает publisher для topic назначения.
type publisherFactory func(topic string) domain.OutboxPublisher

type replayStats struct {
	processed int
	replayed  int
	skipped   int
}

// replayer перечитывает DLQ и возвращает события продаж в исходные topics.
// Без publishers работает в режиме dry-run: только логирует кандидатов.
type replayer struct {
	opts       options
	src        dlqSource
	publishers publisherFactory
	logger     *log.Entry
}

func newReplayer(opts options, src dlqSource, publishers publisherFactory) (*replayer, error) {
	if src == nil {
		return nil, errors.New("dlq source is required")
	}
	if opts.execute && publishers == nil {
		return nil, errors.New("publisher is required in execute mode")
	}
	return &replayer{
		opts:       opts,
		src:        src,
		publishers: publishers,
		logger:     log.WithFields(log.Fields{"component": "dlq-reprocess", "source_topic": opts.sourceTopic}),
	}, nil
}

// Run обходит партиции по возрастанию номера, пока не исчерпан общий лимит.
func (r *replayer) Run(ctx context.Context) (replayStats, error) {
	var total replayStats

	partitions, err := r.src.Partitions(r.opts.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", r.opts.sourceTopic, err)
	}
	slices.Sort(partitions)

	for _, partition := range partitions {
		budget := r.opts.limit - total.processed
		if budget <= 0 {
			break
		}
		got, err := r.drain(ctx, partition, budget)
		total.processed += got.processed
		total.replayed += got.replayed
		total.skipped += got.skipped
		if err != nil {
			return total, err
		}
	}

	r.logger.WithFields(log.Fields{
		"execute":   r.opts.execute,
		"processed": total.processed,
		"replayed":  total.replayed,
		"skipped":   total.skipped,
	}).Info("dlq replay finished")
	return total, nil
}

// window вычисляет [from, to) для чтения партиции; при fromNewest берутся последние budget сообщений.
func (r *replayer) window(partition int32, budget int) (from, to int64, err error) {
	from, err = r.src.GetOffset(r.opts.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("oldest offset of partition %d: %w", partition, err)
	}
	to, err = r.src.GetOffset(r.opts.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("newest offset of partition %d: %w", partition, err)
	}
	if r.opts.fromNewest {
		from = max(to-int64(budget), from)
	}
	return from, to, nil
}

// drain читает партицию до конца окна, лимита или паузы длиной idleTimeout.
func (r *replayer) drain(ctx context.Context, partition int32, budget int) (replayStats, error) {
	var stats replayStats

	from, to, err := r.window(partition, budget)
	if err != nil || from >= to {
		return stats, err
	}

	stream, err := r.src.ConsumePartition(r.opts.sourceTopic, partition, from)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = stream.Close() }()

	idle := time.NewTimer(r.opts.idleTimeout)
	defer idle.Stop()

	for stats.processed < budget {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			r.logger.WithField("partition", partition).Warn("partition went idle before its end offset")
			return stats, nil
		case cerr := <-stream.Errors():
			if cerr != nil {
				return stats, fmt.Errorf("partition %d: %w", partition, cerr)
			}
		case msg, ok := <-stream.Messages():
			if !ok || msg == nil || msg.Offset >= to {
				return stats, nil
			}
			idle.Reset(r.opts.idleTimeout)

			stats.processed++
			replayed, err := r.handle(ctx, msg)
			if err != nil {
				return stats, err
			}
			if replayed {
				stats.replayed++
			} else {
				stats.skipped++
			}
			if msg.Offset+1 >= to {
				return stats, nil
			}
		}
	}
	return stats, nil
}

// handle возвращает false для сообщений, которые не удалось разобрать; ошибка означает сбой публикации.
func (r *replayer) handle(ctx context.Context, msg *sarama.ConsumerMessage) (bool, error) {
	entry := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	topic, event, err := decodeDeadLetter(msg, r.opts.targetTopic)
	if err != nil {
		entry.WithError(err).Warn("skip unsupported dlq message")
		return false, nil
	}
	entry = entry.WithFields(log.Fields{
		"target_topic": topic,
		"outbox_id":    event.ID,
		"event_type":   event.EventType,
		"sale_id":      event.AggregateID,
	})

	if !r.opts.execute {
		entry.Info("dlq replay candidate")
		return true, nil
	}
	if err := r.publishers(topic).Publish(ctx, event); err != nil {
		return false, fmt.Errorf("replay outbox message %s: %w", event.ID, err)
	}
	entry.Info("dlq message replayed")
	return true, nil
}

// decodeDeadLetter достаёт исходное событие из конверта DLQ.
// Topic назначения берётся из header x-original-topic, иначе используется fallbackTopic.
func decodeDeadLetter(msg *sarama.ConsumerMessage, fallbackTopic string) (string, domain.OutboxMessage, error) {
	var envelope kafka.Envelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return "", domain.OutboxMessage{}, fmt.Errorf("decode kafka envelope: %w", err)
	}
	dead, err := outbox.ParseDeadLetter(envelope.Payload)
	if err != nil {
		return "", domain.OutboxMessage{}, err
	}

	topic := fallbackTopic
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == kafka.HeaderOriginalTopic {
			if v := strings.TrimSpace(string(h.Value)); v != "" {
				topic = v
			}
		}
	}
	return topic, dead.Message(envelope.OccurredAt), nil
}
