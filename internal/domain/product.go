package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultLowStockThreshold — порог по умолчанию для выборки товаров с низким остатком.
const DefaultLowStockThreshold = 10

var (
	// MaxPrice — наибольшая цена, которую вмещает колонка price NUMERIC(10,2).
	MaxPrice = decimal.RequireFromString("99999999.99")
	// MaxAmount — наибольшая сумма позиции или продажи для колонок NUMERIC(12,2).
	MaxAmount = decimal.RequireFromString("9999999999.99")
)

// Product — товар каталога с ценой и складским остатком.
type Product struct {
	ID          int64
	Name        string
	Description string
	// Price — цена за единицу, фиксированная точность в 2 знака.
	Price decimal.Decimal
	// StockQuantity меняется только через AdjustStock, кроме прямого редактирования товара.
	StockQuantity int
	CategoryID    *int64
	// CategoryName заполняется при чтении, в хранилище не пишется.
	CategoryName string
	Barcode      *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Validate проверяет поля товара перед сохранением.
func (p *Product) Validate() []error {
	var errs []error

	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, NewValidation("name", ErrNameRequired))
	}
	if !p.Price.IsPositive() {
		errs = append(errs, NewValidation("price", ErrPriceInvalid))
	} else if RoundMoney(p.Price).GreaterThan(MaxPrice) {
		errs = append(errs, NewValidation("price", ErrPriceTooLarge))
	}
	if p.StockQuantity < 0 {
		errs = append(errs, NewValidation("stockQuantity", ErrStockNegative))
	}

	return errs
}

// Normalize приводит цену к масштабу 2 знака и убирает пустой штрихкод.
func (p *Product) Normalize() {
	p.Name = strings.TrimSpace(p.Name)
	p.Price = RoundMoney(p.Price)
	if p.Barcode != nil {
		trimmed := strings.TrimSpace(*p.Barcode)
		if trimmed == "" {
			p.Barcode = nil
		} else {
			p.Barcode = &trimmed
		}
	}
}

// ProductFilter задаёт условия выборки товаров; пустые поля не фильтруют.
type ProductFilter struct {
	NameContains string
	CategoryID   *int64
	// MaxStock ограничивает stock_quantity <= MaxStock (low-stock отчёт).
	MaxStock *int
}

// Category — группа товаров.
type Category struct {
	ID          int64
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate проверяет поля категории.
func (c *Category) Validate() []error {
	var errs []error
	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, NewValidation("name", ErrNameRequired))
	}
	return errs
}

// RoundMoney приводит сумму к денежной точности (2 знака).
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
