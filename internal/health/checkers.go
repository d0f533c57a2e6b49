package health

import (
	"context"
	"fmt"
	"time"
)

const defaultCheckTimeout = 2 * time.Second

// probe выполняет fn с таймаутом и превращает результат в Check.
func probe(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) (Status, string)) Check {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	status, msg := fn(ctx)
	return Check{Name: name, Status: status, Message: msg, DurationMs: time.Since(started).Milliseconds()}
}

// PingChecker считает зависимость недоступной, если ping вернул ошибку или не уложился в таймаут.
type PingChecker struct {
	name    string
	timeout time.Duration
	ping    func(ctx context.Context) error
}

// NewPingChecker создаёт проверку; timeout <= 0 заменяется значением по умолчанию.
func NewPingChecker(name string, timeout time.Duration, ping func(ctx context.Context) error) *PingChecker {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &PingChecker{name: name, timeout: timeout, ping: ping}
}

func (c *PingChecker) Check(ctx context.Context) Check {
	return probe(ctx, c.name, c.timeout, func(ctx context.Context) (Status, string) {
		if err := c.ping(ctx); err != nil {
			return StatusUnhealthy, err.Error()
		}
		return StatusHealthy, ""
	})
}

// BacklogChecker переводит сервис в degraded, когда очередь длиннее limit.
type BacklogChecker struct {
	name  string
	limit int
	count func(ctx context.Context) (int, error)
}

// NewBacklogChecker создаёт проверку размера очереди; limit <= 0 отключает порог.
func NewBacklogChecker(name string, limit int, count func(ctx context.Context) (int, error)) *BacklogChecker {
	return &BacklogChecker{name: name, limit: limit, count: count}
}

func (c *BacklogChecker) Check(ctx context.Context) Check {
	return probe(ctx, c.name, defaultCheckTimeout, func(ctx context.Context) (Status, string) {
		n, err := c.count(ctx)
		switch {
		case err != nil:
			return StatusUnhealthy, err.Error()
		case c.limit > 0 && n > c.limit:
			return StatusDegraded, fmt.Sprintf("backlog %d exceeds %d", n, c.limit)
		default:
			return StatusHealthy, ""
		}
	})
}
