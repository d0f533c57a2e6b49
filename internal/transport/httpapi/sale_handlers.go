package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/service/sale"
)

func (h *Handler) listSales(c *gin.Context) {
	page, err := queryInt(c, "page", 0)
	if err != nil {
		h.writeError(c, err)
		return
	}
	size, err := queryInt(c, "size", sale.DefaultPageSize)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if size <= 0 {
		size = sale.DefaultPageSize
	}
	if size > sale.MaxPageSize {
		size = sale.MaxPageSize
	}

	result, err := h.sales.ListSales(c.Request.Context(), page, size)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSalePageResponse(result, page, size))
}

func (h *Handler) getSale(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.writeError(c, err)
		return
	}
	found, err := h.sales.GetSale(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSaleResponse(found))
}

func (h *Handler) salesByCustomer(c *gin.Context) {
	h.writeSales(c, func(ctx context.Context) ([]domain.Sale, error) {
		return h.sales.SalesByCustomer(ctx, c.Query("customerName"))
	})
}

func (h *Handler) salesByDateRange(c *gin.Context) {
	start, err := queryTime(c, "startDate")
	if err != nil {
		h.writeError(c, err)
		return
	}
	end, err := queryTime(c, "endDate")
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.writeSales(c, func(ctx context.Context) ([]domain.Sale, error) {
		return h.sales.SalesByDateRange(ctx, start, end)
	})
}

func (h *Handler) salesByPaymentMethod(c *gin.Context) {
	h.writeSales(c, func(ctx context.Context) ([]domain.Sale, error) {
		return h.sales.SalesByPaymentMethod(ctx, domain.PaymentMethod(c.Query("paymentMethod")))
	})
}

func (h *Handler) salesByStatus(c *gin.Context) {
	h.writeSales(c, func(ctx context.Context) ([]domain.Sale, error) {
		return h.sales.SalesByStatus(ctx, domain.SaleStatus(c.Query("status")))
	})
}

func (h *Handler) writeSales(c *gin.Context, load func(ctx context.Context) ([]domain.Sale, error)) {
	sales, err := load(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSaleResponses(sales))
}

// createSale проводит продажу. Цены позиций из запроса игнорируются.
func (h *Handler) createSale(c *gin.Context) {
	var req createSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, badRequest("malformed sale: "+err.Error()))
		return
	}

	lines := make([]sale.LineRequest, 0, len(req.SaleItems))
	for _, item := range req.SaleItems {
		lines = append(lines, sale.LineRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	create := sale.CreateRequest{
		CustomerName:  req.CustomerName,
		PaymentMethod: domain.PaymentMethod(req.PaymentMethod),
		Lines:         lines,
	}

	h.idempotent(c, req, func(ctx context.Context) (int, any, error) {
		created, err := h.sales.CreateSale(ctx, create)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, toSaleResponse(created), nil
	})
}

func (h *Handler) cancelSale(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.idempotent(c, nil, func(ctx context.Context) (int, any, error) {
		cancelled, err := h.sales.CancelSale(ctx, id)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, toSaleResponse(cancelled), nil
	})
}

// queryTime принимает RFC 3339 или дату-время без зоны (как LocalDateTime), трактуемое как UTC.
func queryTime(c *gin.Context, name string) (time.Time, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return time.Time{}, badRequest(name + " is required")
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, badRequest("invalid " + name + ": " + raw)
}
