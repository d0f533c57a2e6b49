package sale

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// DefaultPageSize используется, если размер страницы не задан.
const DefaultPageSize = 10

// MaxPageSize ограничивает размер страницы списка продаж.
const MaxPageSize = 100

// GetSale возвращает продажу с позициями.
func (w *Workflow) GetSale(ctx context.Context, id int64) (domain.Sale, error) {
	return w.sales.GetByID(ctx, id)
}

// ListSales возвращает страницу продаж, новые первыми. Нумерация страниц с нуля.
func (w *Workflow) ListSales(ctx context.Context, page, size int) (domain.SalePage, error) {
	if page < 0 {
		return domain.SalePage{}, domain.NewValidation("page", errPageNegative)
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	if page > math.MaxInt/size {
		return domain.SalePage{}, domain.NewValidation("page", errPageOutOfRange)
	}
	return w.sales.List(ctx, domain.SaleFilter{Limit: size, Offset: page * size})
}

// SalesByCustomer ищет продажи по вхождению имени покупателя без учёта регистра.
func (w *Workflow) SalesByCustomer(ctx context.Context, name string) ([]domain.Sale, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.NewValidation("customerName", domain.ErrNameRequired)
	}
	return w.list(ctx, domain.SaleFilter{CustomerContains: name})
}

// SalesByDateRange возвращает продажи, созданные в интервале [start, end] включительно.
func (w *Workflow) SalesByDateRange(ctx context.Context, start, end time.Time) ([]domain.Sale, error) {
	if start.IsZero() || end.IsZero() {
		return nil, domain.NewValidation("dateRange", errDateRangeRequired)
	}
	if end.Before(start) {
		return nil, domain.NewValidation("dateRange", errDateRangeInverted)
	}
	return w.list(ctx, domain.SaleFilter{From: &start, To: &end})
}

// SalesByPaymentMethod фильтрует продажи по способу оплаты.
func (w *Workflow) SalesByPaymentMethod(ctx context.Context, method domain.PaymentMethod) ([]domain.Sale, error) {
	method = domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(string(method))))
	if !method.Valid() {
		return nil, domain.NewValidation("paymentMethod", domain.ErrPaymentMethodInvalid)
	}
	return w.list(ctx, domain.SaleFilter{PaymentMethod: method})
}

// SalesByStatus фильтрует продажи по статусу.
func (w *Workflow) SalesByStatus(ctx context.Context, status domain.SaleStatus) ([]domain.Sale, error) {
	status = domain.SaleStatus(strings.ToUpper(strings.TrimSpace(string(status))))
	if !status.Valid() {
		return nil, domain.NewValidation("status", errStatusInvalid)
	}
	return w.list(ctx, domain.SaleFilter{Status: status})
}

func (w *Workflow) list(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	page, err := w.sales.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return page.Sales, nil
}
