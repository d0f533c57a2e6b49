package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/pos/internal/health"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
	"github.com/vladislavdragonenkov/pos/internal/storage/postgres"
)

// runtimeDependencies — хранилища выбранного драйвера.
type runtimeDependencies struct {
	uow             domain.UnitOfWork
	products        domain.ProductStore
	categories      domain.CategoryStore
	sales           domain.SaleStore
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	// storageChecker nil для in-memory хранилища.
	storageChecker healthcheck.Checker
	closeFn        func() error
}

// initRuntimeDependencies открывает хранилище по cfg.StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory:
		store := memory.NewStore()
		logger.Info("using in-memory storage")
		return &runtimeDependencies{
			uow:             store,
			products:        store.Products(),
			categories:      store.Categories(),
			sales:           store.Sales(),
			outboxRepo:      store.Outbox(),
			idempotencyRepo: memory.NewIdempotencyRepository(),
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres storage requires %sPOSTGRES_DSN", envPrefix)
		}
		pool := postgres.DefaultPoolConfig()
		if cfg.PostgresMaxConns > 0 {
			pool.MaxOpenConns = cfg.PostgresMaxConns
			pool.MaxIdleConns = cfg.PostgresMaxConns
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN,
			postgres.WithLogger(logger.WithField("component", "postgres-store")),
			postgres.WithPool(pool),
		)
		if err != nil {
			return nil, err
		}

		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}

		return &runtimeDependencies{
			uow:             store,
			products:        store.Products(),
			categories:      store.Categories(),
			sales:           store.Sales(),
			outboxRepo:      store.Outbox(),
			idempotencyRepo: postgres.NewIdempotencyRepository(store),
			storageChecker:  healthcheck.NewPingChecker("postgres", 0, store.Ping),
			closeFn:         store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}
