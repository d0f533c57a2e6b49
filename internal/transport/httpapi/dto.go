package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// Денежные суммы в ответах всегда с двумя знаками: "25.00", а не "25".

type productRequest struct {
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stockQuantity"`
	CategoryID    *int64          `json:"categoryId"`
	Barcode       *string         `json:"barcode"`
}

func (r productRequest) toDomain() domain.Product {
	return domain.Product{
		Name:          r.Name,
		Description:   r.Description,
		Price:         r.Price,
		StockQuantity: r.StockQuantity,
		CategoryID:    r.CategoryID,
		Barcode:       r.Barcode,
	}
}

type productResponse struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	Price         string    `json:"price"`
	StockQuantity int       `json:"stockQuantity"`
	CategoryID    *int64    `json:"categoryId,omitempty"`
	CategoryName  string    `json:"categoryName,omitempty"`
	Barcode       *string   `json:"barcode,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func toProductResponse(p domain.Product) productResponse {
	return productResponse{
		ID:            p.ID,
		Name:          p.Name,
		Description:   p.Description,
		Price:         p.Price.StringFixed(2),
		StockQuantity: p.StockQuantity,
		CategoryID:    p.CategoryID,
		CategoryName:  p.CategoryName,
		Barcode:       p.Barcode,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func toProductResponses(products []domain.Product) []productResponse {
	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	return out
}

type categoryRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type categoryResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func toCategoryResponse(c domain.Category) categoryResponse {
	return categoryResponse{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// saleItemRequest принимает unitPrice и totalPrice для совместимости с клиентами,
// но цена всегда берётся из каталога.
type saleItemRequest struct {
	ProductID  int64            `json:"productId" binding:"required"`
	Quantity   int              `json:"quantity"`
	UnitPrice  *decimal.Decimal `json:"unitPrice,omitempty"`
	TotalPrice *decimal.Decimal `json:"totalPrice,omitempty"`
}

type createSaleRequest struct {
	CustomerName  string            `json:"customerName"`
	PaymentMethod string            `json:"paymentMethod"`
	SaleItems     []saleItemRequest `json:"saleItems" binding:"dive"`
}

type saleItemResponse struct {
	ID          int64  `json:"id"`
	ProductID   int64  `json:"productId"`
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
	TotalPrice  string `json:"totalPrice"`
}

type saleResponse struct {
	ID            int64              `json:"id"`
	CustomerName  string             `json:"customerName,omitempty"`
	TotalAmount   string             `json:"totalAmount"`
	PaymentMethod string             `json:"paymentMethod"`
	Status        string             `json:"status"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
	SaleItems     []saleItemResponse `json:"saleItems"`
}

func toSaleResponse(s domain.Sale) saleResponse {
	items := make([]saleItemResponse, 0, len(s.Lines))
	for _, line := range s.Lines {
		items = append(items, saleItemResponse{
			ID:          line.ID,
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice.StringFixed(2),
			TotalPrice:  line.LineTotal.StringFixed(2),
		})
	}
	return saleResponse{
		ID:            s.ID,
		CustomerName:  s.CustomerName,
		TotalAmount:   s.TotalAmount.StringFixed(2),
		PaymentMethod: string(s.PaymentMethod),
		Status:        string(s.Status),
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
		SaleItems:     items,
	}
}

func toSaleResponses(sales []domain.Sale) []saleResponse {
	out := make([]saleResponse, 0, len(sales))
	for _, s := range sales {
		out = append(out, toSaleResponse(s))
	}
	return out
}

type salePageResponse struct {
	Content       []saleResponse `json:"content"`
	Page          int            `json:"page"`
	Size          int            `json:"size"`
	TotalElements int            `json:"totalElements"`
	TotalPages    int            `json:"totalPages"`
}

func toSalePageResponse(page domain.SalePage, number, size int) salePageResponse {
	totalPages := 0
	if size > 0 {
		totalPages = (page.Total + size - 1) / size
	}
	return salePageResponse{
		Content:       toSaleResponses(page.Sales),
		Page:          number,
		Size:          size,
		TotalElements: page.Total,
		TotalPages:    totalPages,
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
