package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const (
	defaultConnTimeout = 5 * time.Second
	opTimeout          = 5 * time.Second
)

// PoolConfig — параметры пула database/sql.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig возвращает параметры пула для сервиса по умолчанию.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    25,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

func (p PoolConfig) apply(db *sql.DB) {
	db.SetMaxOpenConns(p.MaxOpenConns)
	db.SetMaxIdleConns(min(p.MaxIdleConns, p.MaxOpenConns))
	db.SetConnMaxLifetime(p.ConnMaxLifetime)
	db.SetConnMaxIdleTime(p.ConnMaxIdleTime)
}

// Option настраивает Store при открытии.
type Option func(*Store)

// WithLogger задаёт logger хранилища.
func WithLogger(logger *log.Entry) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRetry меняет политику повтора единицы работы.
func WithRetry(cfg RetryConfig) Option {
	return func(s *Store) { s.retry = cfg }
}

// WithPool меняет параметры пула; MaxOpenConns <= 0 оставляет значения по умолчанию.
func WithPool(cfg PoolConfig) Option {
	return func(s *Store) {
		if cfg.MaxOpenConns > 0 {
			s.pool = cfg
		}
	}
}

// querier — общее подмножество *sql.DB и *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store оборачивает SQL-подключение к PostgreSQL и реализует единицу работы.
type Store struct {
	db     *sql.DB
	pool   PoolConfig
	retry  RetryConfig
	logger *log.Entry
}

// Open подключается через драйвер pgx и проверяет доступность базы.
func Open(ctx context.Context, dsn string, options ...Option) (*Store, error) {
	s := &Store{
		pool:   DefaultPoolConfig(),
		retry:  DefaultRetryConfig(),
		logger: log.WithField("component", "postgres-store"),
	}
	for _, option := range options {
		option(s)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	s.pool.apply(db)
	s.db = db

	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s.logger.WithField("max_open_conns", s.pool.MaxOpenConns).Debug("postgres pool ready")
	return s, nil
}

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Products возвращает хранилище товаров вне транзакции.
func (s *Store) Products() domain.ProductStore { return &productRepository{q: s.db} }

// Categories возвращает хранилище категорий.
func (s *Store) Categories() domain.CategoryStore { return &categoryRepository{q: s.db} }

// Sales возвращает хранилище продаж вне транзакции.
func (s *Store) Sales() domain.SaleStore { return &saleRepository{q: s.db} }

// Outbox возвращает outbox вне транзакции.
func (s *Store) Outbox() domain.OutboxRepository { return &outboxRepository{q: s.db} }

// RunAtomically выполняет fn в одной транзакции READ COMMITTED.
// Блокировки строк, взятые через GetForUpdate и AdjustStock, держатся до commit/rollback.
// При deadlock или serialization failure транзакция выполняется заново, поэтому fn не должна иметь
// побочных эффектов вне tx.
func (s *Store) RunAtomically(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	return withRetry(ctx, s.retry, s.logger, func() error {
		return s.runOnce(ctx, fn)
	})
}

func (s *Store) runOnce(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(ctx, txStores{q: sqlTx}); err != nil {
		return err
	}

	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// txStores — хранилища, привязанные к открытой транзакции.
type txStores struct {
	q querier
}

func (t txStores) Products() domain.ProductStore   { return &productRepository{q: t.q} }
func (t txStores) Sales() domain.SaleStore         { return &saleRepository{q: t.q} }
func (t txStores) Outbox() domain.OutboxRepository { return &outboxRepository{q: t.q} }

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, opTimeout)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// isNumericOverflow распознаёт значение, не помещающееся в NUMERIC-колонку.
func isNumericOverflow(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "22003"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

var (
	_ domain.UnitOfWork = (*Store)(nil)
	_ domain.Tx         = (*Store)(nil)
)
