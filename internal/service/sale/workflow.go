// Package sale реализует сценарий продажи: проведение с проверкой и списанием остатков
// и отмену с возвратом остатков. Каждая операция выполняется одной единицей работы.
package sale

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/metrics"
	"github.com/vladislavdragonenkov/pos/internal/tracing"
)

// LineRequest — запрошенная позиция: товар и количество.
type LineRequest struct {
	ProductID int64
	Quantity  int
}

// CreateRequest — входные данные для проведения продажи.
type CreateRequest struct {
	CustomerName  string
	PaymentMethod domain.PaymentMethod
	Lines         []LineRequest
}

// Options задаёт зависимости Workflow.
type Options struct {
	Logger  *log.Entry
	Metrics *metrics.SaleMetrics
	Tracer  trace.Tracer
	Now     func() time.Time
}

// Option настраивает Workflow.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) { opts.Logger = logger }
}

// WithMetrics задаёт метрики; без них операции не учитываются.
func WithMetrics(m *metrics.SaleMetrics) Option {
	return func(opts *Options) { opts.Metrics = m }
}

// WithTracer задаёт tracer вместо глобального.
func WithTracer(tracer trace.Tracer) Option {
	return func(opts *Options) { opts.Tracer = tracer }
}

// WithClock подменяет источник времени для событий outbox.
func WithClock(now func() time.Time) Option {
	return func(opts *Options) { opts.Now = now }
}

// Workflow — сценарий продажи поверх единицы работы.
type Workflow struct {
	uow     domain.UnitOfWork
	sales   domain.SaleStore
	logger  *log.Entry
	metrics *metrics.SaleMetrics
	tracer  trace.Tracer
	now     func() time.Time
}

// NewWorkflow создаёт сценарий. sales используется для чтения вне единицы работы.
func NewWorkflow(uow domain.UnitOfWork, sales domain.SaleStore, options ...Option) *Workflow {
	opts := Options{}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "sale-workflow")
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = tracing.Tracer()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Workflow{
		uow:     uow,
		sales:   sales,
		logger:  logger,
		metrics: opts.Metrics,
		tracer:  tracer,
		now:     now,
	}
}

// CreateSale проводит продажу: заголовок, позиции и списание остатков фиксируются вместе
// или не фиксируются совсем.
func (w *Workflow) CreateSale(ctx context.Context, req CreateRequest) (sale domain.Sale, err error) {
	start := time.Now()
	ctx, span := w.tracer.Start(ctx, "sale.create", trace.WithAttributes(
		attribute.Int("sale.lines", len(req.Lines)),
	))
	defer func() {
		w.finish(span, metrics.OperationCreate, start, err)
		if err == nil {
			total, _ := sale.TotalAmount.Float64()
			w.metrics.RecordCreated(len(sale.Lines), total)
			w.logger.WithFields(log.Fields{
				"sale_id": sale.ID,
				"lines":   len(sale.Lines),
				"total":   sale.TotalAmount.StringFixed(2),
			}).Info("sale created")
		}
	}()

	req, err = normalizeCreate(req)
	if err != nil {
		return domain.Sale{}, err
	}

	err = w.uow.RunAtomically(ctx, func(ctx context.Context, tx domain.Tx) error {
		header, err := tx.Sales().Create(ctx, domain.Sale{
			CustomerName:  req.CustomerName,
			PaymentMethod: req.PaymentMethod,
			Status:        domain.SaleStatusCompleted,
			TotalAmount:   decimal.Zero,
		})
		if err != nil {
			return fmt.Errorf("create sale header: %w", err)
		}

		total := decimal.Zero
		lines := make([]domain.SaleLine, 0, len(req.Lines))
		for _, requested := range req.Lines {
			product, err := tx.Products().GetForUpdate(ctx, requested.ProductID)
			if err != nil {
				return err
			}
			if product.StockQuantity < requested.Quantity {
				return &domain.InsufficientStockError{
					ProductName: product.Name,
					Requested:   requested.Quantity,
					Available:   product.StockQuantity,
				}
			}

			candidate := domain.NewSaleLine(header.ID, product, requested.Quantity)
			if total.Add(candidate.LineTotal).GreaterThan(domain.MaxAmount) {
				return &domain.InvalidOperationError{Reason: "sale total exceeds " + domain.MaxAmount.StringFixed(2)}
			}

			line, err := tx.Sales().AddLine(ctx, header.ID, candidate)
			if err != nil {
				return fmt.Errorf("add sale line: %w", err)
			}
			if _, err := tx.Products().AdjustStock(ctx, product.ID, -requested.Quantity); err != nil {
				return err
			}

			total = total.Add(line.LineTotal)
			lines = append(lines, line)
		}

		header.TotalAmount = total
		updated, err := tx.Sales().UpdateHeader(ctx, header)
		if err != nil {
			return fmt.Errorf("update sale total: %w", err)
		}
		updated.Lines = lines

		if err := w.enqueue(ctx, tx, domain.EventTypeSaleCreated, updated); err != nil {
			return err
		}

		sale = updated
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	span.SetAttributes(attribute.Int64("sale.id", sale.ID))
	return sale, nil
}

// CancelSale отменяет продажу и возвращает остатки по всем её позициям.
// Статус перечитывается под блокировкой строки, поэтому параллельные отмены возвращают остатки один раз.
func (w *Workflow) CancelSale(ctx context.Context, saleID int64) (sale domain.Sale, err error) {
	start := time.Now()
	ctx, span := w.tracer.Start(ctx, "sale.cancel", trace.WithAttributes(
		attribute.Int64("sale.id", saleID),
	))
	defer func() {
		w.finish(span, metrics.OperationCancel, start, err)
		if err == nil {
			w.metrics.RecordCancelled()
			w.logger.WithField("sale_id", saleID).Info("sale cancelled")
		}
	}()

	err = w.uow.RunAtomically(ctx, func(ctx context.Context, tx domain.Tx) error {
		header, err := tx.Sales().GetForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if header.Status == domain.SaleStatusCancelled {
			return &domain.InvalidStateError{Reason: "sale is already cancelled"}
		}

		lines, err := tx.Sales().Lines(ctx, saleID)
		if err != nil {
			return fmt.Errorf("load sale lines: %w", err)
		}
		for _, line := range lines {
			if _, err := tx.Products().AdjustStock(ctx, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}

		header.Status = domain.SaleStatusCancelled
		updated, err := tx.Sales().UpdateHeader(ctx, header)
		if err != nil {
			return fmt.Errorf("update sale status: %w", err)
		}
		updated.Lines = lines

		if err := w.enqueue(ctx, tx, domain.EventTypeSaleCancelled, updated); err != nil {
			return err
		}

		sale = updated
		span.SetAttributes(attribute.Int("sale.lines", len(lines)))
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}
	return sale, nil
}

func (w *Workflow) enqueue(ctx context.Context, tx domain.Tx, eventType string, sale domain.Sale) error {
	payload, err := json.Marshal(domain.NewSaleEvent(eventType, sale, w.now()))
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	if _, err := tx.Outbox().Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateSale,
		AggregateID:   strconv.FormatInt(sale.ID, 10),
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		return fmt.Errorf("enqueue %s event: %w", eventType, err)
	}
	return nil
}

func (w *Workflow) finish(span trace.Span, operation string, start time.Time, err error) {
	w.metrics.RecordDuration(operation, time.Since(start))
	if err != nil {
		reason := failureReason(err)
		w.metrics.RecordFailed(operation, reason)
		span.SetAttributes(attribute.String("sale.failure", reason))
		entry := w.logger.WithError(err).WithField("operation", operation)
		if domain.IsBusiness(err) {
			span.SetStatus(codes.Error, reason)
			entry.Warn("sale operation rejected")
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			entry.Error("sale operation failed")
		}
	}
	span.End()
}

// failureReason сворачивает ошибку в значение label метрики.
func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domain.ErrInvalidOperation):
		return "invalid_operation"
	default:
		return "internal"
	}
}

func normalizeCreate(req CreateRequest) (CreateRequest, error) {
	if len(req.Lines) == 0 {
		return req, domain.NewValidation("lines", domain.ErrLinesRequired)
	}
	for i, line := range req.Lines {
		if line.Quantity <= 0 {
			return req, domain.NewValidation(fmt.Sprintf("lines[%d].quantity", i), domain.ErrLineQtyInvalid)
		}
	}

	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentMethodCash
	}
	req.PaymentMethod = domain.PaymentMethod(strings.ToUpper(string(req.PaymentMethod)))
	if !req.PaymentMethod.Valid() {
		return req, domain.NewValidation("paymentMethod", domain.ErrPaymentMethodInvalid)
	}

	req.CustomerName = strings.TrimSpace(req.CustomerName)
	if utf8.RuneCountInString(req.CustomerName) > domain.MaxCustomerNameLength {
		return req, domain.NewValidation("customerName", errCustomerNameTooLong)
	}
	return req, nil
}

var (
	errCustomerNameTooLong = fmt.Errorf("customer name must be at most %d characters", domain.MaxCustomerNameLength)
	errPageNegative        = errors.New("page must be non-negative")
	errPageOutOfRange      = errors.New("page is out of range")
	errDateRangeRequired   = errors.New("start and end dates are required")
	errDateRangeInverted   = errors.New("end date must not be before start date")
	errStatusInvalid       = errors.New("status must be one of COMPLETED, PENDING, CANCELLED")
)
