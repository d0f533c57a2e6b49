package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgconn"
	log "github.com/sirupsen/logrus"
)

// RetryConfig задаёт повтор единицы работы при deadlock и serialization failure.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает три попытки с экспоненциальной задержкой.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  20 * time.Millisecond,
		MaxDelay:      500 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func (c RetryConfig) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialDelay
	b.MaxInterval = max(c.MaxDelay, c.InitialDelay)
	b.Multiplier = max(c.BackoffFactor, 1)
	b.RandomizationFactor = 0.2
	return b
}

// isTransient распознаёт конфликты блокировок, после которых транзакцию можно выполнить заново.
// Бизнес-ошибки сюда не попадают: они не являются *pgconn.PgError.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// withRetry повторяет fn, пока она завершается временной ошибкой и попытки не исчерпаны.
// Остальные ошибки возвращаются после первой попытки без обёртки.
func withRetry(ctx context.Context, cfg RetryConfig, logger *log.Entry, fn func() error) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := fn()
		if err != nil && !isTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(cfg.backOff()),
		backoff.WithMaxTries(uint(max(cfg.MaxAttempts, 1))),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			logger.WithError(err).WithFields(log.Fields{"attempt": attempt, "delay": delay}).Warn("transaction conflict, retrying")
		}),
	)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Unwrap()
	}
	if err == nil && attempt > 1 {
		logger.WithField("attempt", attempt).Info("transaction succeeded after retry")
	}
	return err
}
