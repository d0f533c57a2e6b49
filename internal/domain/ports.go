package domain

import (
	"context"
	"time"
)

// ProductStore — хранилище товаров.
type ProductStore interface {
	// GetByID возвращает товар или NotFoundError.
	GetByID(ctx context.Context, id int64) (Product, error)
	// GetForUpdate читает товар с блокировкой строки до конца единицы работы.
	GetForUpdate(ctx context.Context, id int64) (Product, error)
	GetByBarcode(ctx context.Context, barcode string) (Product, error)
	Exists(ctx context.Context, id int64) (bool, error)
	// AdjustStock атомарно меняет остаток на delta и возвращает товар с новым остатком.
	// Возвращает NotFoundError или InvalidOperationError, если остаток стал бы отрицательным.
	AdjustStock(ctx context.Context, id int64, delta int) (Product, error)
	List(ctx context.Context, filter ProductFilter) ([]Product, error)
	Create(ctx context.Context, product Product) (Product, error)
	Update(ctx context.Context, product Product) (Product, error)
	// Delete удаляет товар; ErrProductInUse, если на него ссылаются позиции продаж.
	Delete(ctx context.Context, id int64) error
}

// CategoryStore — хранилище категорий.
type CategoryStore interface {
	GetByID(ctx context.Context, id int64) (Category, error)
	List(ctx context.Context) ([]Category, error)
	Create(ctx context.Context, category Category) (Category, error)
	Update(ctx context.Context, category Category) (Category, error)
	// Delete удаляет категорию и обнуляет ссылку на неё у товаров.
	Delete(ctx context.Context, id int64) error
}

// SaleStore — хранилище заголовков и позиций продаж.
type SaleStore interface {
	// Create сохраняет заголовок без позиций и возвращает его с присвоенным id.
	Create(ctx context.Context, sale Sale) (Sale, error)
	AddLine(ctx context.Context, saleID int64, line SaleLine) (SaleLine, error)
	// GetByID возвращает продажу вместе с позициями.
	GetByID(ctx context.Context, id int64) (Sale, error)
	// GetForUpdate читает заголовок с блокировкой строки (без позиций).
	GetForUpdate(ctx context.Context, id int64) (Sale, error)
	// Lines возвращает позиции продажи в порядке добавления.
	Lines(ctx context.Context, saleID int64) ([]SaleLine, error)
	UpdateHeader(ctx context.Context, sale Sale) (Sale, error)
	List(ctx context.Context, filter SaleFilter) (SalePage, error)
}

// Tx — хранилища, привязанные к одной единице работы.
type Tx interface {
	Products() ProductStore
	Sales() SaleStore
	Outbox() OutboxRepository
}

// UnitOfWork выполняет fn атомарно: фиксирует все записи при nil или отбрасывает их целиком.
type UnitOfWork interface {
	RunAtomically(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}
