package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod — способ оплаты продажи.
type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "CASH"
	PaymentMethodCard   PaymentMethod = "CARD"
	PaymentMethodMobile PaymentMethod = "MOBILE"
)

// Valid проверяет, что способ оплаты поддерживается.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodMobile:
		return true
	default:
		return false
	}
}

// SaleStatus описывает жизненный цикл продажи.
type SaleStatus string

const (
	// SaleStatusCompleted — продажа проведена сразу при создании.
	SaleStatusCompleted SaleStatus = "COMPLETED"
	// SaleStatusPending — отложенная продажа; создаётся только внешними импортами.
	SaleStatusPending SaleStatus = "PENDING"
	// SaleStatusCancelled — продажа отменена, остатки возвращены.
	SaleStatusCancelled SaleStatus = "CANCELLED"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s SaleStatus) Valid() bool {
	switch s {
	case SaleStatusCompleted, SaleStatusPending, SaleStatusCancelled:
		return true
	default:
		return false
	}
}

// MaxCustomerNameLength соответствует ширине колонки customer_name.
const MaxCustomerNameLength = 200

// Sale — заголовок продажи и принадлежащие ей позиции.
type Sale struct {
	ID int64
	// CustomerName пустое, если покупатель не указан.
	CustomerName string
	// TotalAmount вычисляется сценарием продажи и никогда не задаётся вызывающей стороной.
	TotalAmount   decimal.Decimal
	PaymentMethod PaymentMethod
	Status        SaleStatus
	Lines         []SaleLine
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SaleLine — позиция продажи. UnitPrice и LineTotal фиксируются при создании.
type SaleLine struct {
	ID          int64
	SaleID      int64
	ProductID   int64
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
}

// NewSaleLine снимает цену товара и считает сумму позиции.
func NewSaleLine(saleID int64, product Product, quantity int) SaleLine {
	unitPrice := RoundMoney(product.Price)
	return SaleLine{
		SaleID:      saleID,
		ProductID:   product.ID,
		ProductName: product.Name,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		LineTotal:   unitPrice.Mul(decimal.NewFromInt(int64(quantity))),
	}
}

// LinesTotal суммирует LineTotal всех позиций.
func (s *Sale) LinesTotal() decimal.Decimal {
	total := decimal.Zero
	for _, line := range s.Lines {
		total = total.Add(line.LineTotal)
	}
	return total
}

// SaleFilter задаёт условия выборки продаж; пустые поля не фильтруют.
type SaleFilter struct {
	CustomerContains string
	From             *time.Time
	To               *time.Time
	PaymentMethod    PaymentMethod
	Status           SaleStatus
	// Limit <= 0 означает "без ограничения".
	Limit  int
	Offset int
}

// SalePage — страница продаж и общее количество под фильтром.
type SalePage struct {
	Sales []Sale
	Total int
}
