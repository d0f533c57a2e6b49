package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

func pathID(c *gin.Context, name string) (int64, error) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid " + name + ": " + raw)
	}
	return id, nil
}

func queryInt(c *gin.Context, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("invalid " + name + ": " + raw)
	}
	return v, nil
}

func (h *Handler) listProducts(c *gin.Context) {
	filter := domain.ProductFilter{NameContains: strings.TrimSpace(c.Query("name"))}
	if raw := strings.TrimSpace(c.Query("category_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(c, badRequest("invalid category_id: "+raw))
			return
		}
		filter.CategoryID = &id
	}

	products, err := h.catalog.ListProducts(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductResponses(products))
}

func (h *Handler) getProduct(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.writeError(c, err)
		return
	}
	product, err := h.catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductResponse(product))
}

func (h *Handler) getProductByBarcode(c *gin.Context) {
	product, err := h.catalog.GetProductByBarcode(c.Request.Context(), c.Param("barcode"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductResponse(product))
}

func (h *Handler) productsByCategory(c *gin.Context) {
	id, err := pathID(c, "categoryId")
	if err != nil {
		h.writeError(c, err)
		return
	}
	products, err := h.catalog.ProductsByCategory(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductResponses(products))
}

func (h *Handler) searchProducts(c *gin.Context) {
	products, err := h.catalog.SearchProducts(c.Request.Context(), c.Query("name"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductResponses(products))
}

func (h *Handler) lowStock(c *gin.Context) {
	threshold, err := queryInt(c, "threshold", domain.DefaultLowStockThreshold)
	if err != nil {
		h.writeError(c, err)
		return
	}
	products, err := h.catalog.LowStock(c.Request.Context(), threshold)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductResponses(products))
}

func (h *Handler) createProduct(c *gin.Context) {
	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, badRequest("malformed product: "+err.Error()))
		return
	}
	product, err := h.catalog.CreateProduct(c.Request.Context(), req.toDomain())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toProductResponse(product))
}

func (h *Handler) updateProduct(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.writeError(c, err)
		return
	}
	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, badRequest("malformed product: "+err.Error()))
		return
	}
	product, err := h.catalog.UpdateProduct(c.Request.Context(), id, req.toDomain())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductResponse(product))
}

func (h *Handler) deleteProduct(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.writeError(c, err)
		return
	}
	if err := h.catalog.DeleteProduct(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// adjustStock меняет остаток на знаковую величину ?quantity=.
func (h *Handler) adjustStock(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.writeError(c, err)
		return
	}
	if strings.TrimSpace(c.Query("quantity")) == "" {
		h.writeError(c, badRequest("quantity is required"))
		return
	}
	delta, err := queryInt(c, "quantity", 0)
	if err != nil {
		h.writeError(c, err)
		return
	}
	product, err := h.catalog.AdjustStock(c.Request.Context(), id, delta)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProductResponse(product))
}

func (h *Handler) listCategories(c *gin.Context) {
	categories, err := h.catalog.ListCategories(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]categoryResponse, 0, len(categories))
	for _, category := range categories {
		out = append(out, toCategoryResponse(category))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) getCategory(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.writeError(c, err)
		return
	}
	category, err := h.catalog.GetCategory(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCategoryResponse(category))
}

func (h *Handler) createCategory(c *gin.Context) {
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, badRequest("malformed category: "+err.Error()))
		return
	}
	category, err := h.catalog.CreateCategory(c.Request.Context(), domain.Category{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toCategoryResponse(category))
}

func (h *Handler) updateCategory(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.writeError(c, err)
		return
	}
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, badRequest("malformed category: "+err.Error()))
		return
	}
	category, err := h.catalog.UpdateCategory(c.Request.Context(), id, domain.Category{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCategoryResponse(category))
}

func (h *Handler) deleteCategory(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		h.writeError(c, err)
		return
	}
	if err := h.catalog.DeleteCategory(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
