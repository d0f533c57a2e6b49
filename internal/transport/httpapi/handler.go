// Package httpapi публикует каталог и продажи как REST API поверх gin.
package httpapi

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/metrics"
	"github.com/vladislavdragonenkov/pos/internal/service/sale"
)

const defaultIdempotencyTTL = 24 * time.Hour

// CatalogService — операции каталога, нужные REST-слою.
type CatalogService interface {
	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)
	GetProduct(ctx context.Context, id int64) (domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (domain.Product, error)
	ProductsByCategory(ctx context.Context, categoryID int64) ([]domain.Product, error)
	SearchProducts(ctx context.Context, name string) ([]domain.Product, error)
	LowStock(ctx context.Context, threshold int) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (domain.Product, error)
	UpdateProduct(ctx context.Context, id int64, product domain.Product) (domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	AdjustStock(ctx context.Context, id int64, delta int) (domain.Product, error)

	ListCategories(ctx context.Context) ([]domain.Category, error)
	GetCategory(ctx context.Context, id int64) (domain.Category, error)
	CreateCategory(ctx context.Context, category domain.Category) (domain.Category, error)
	UpdateCategory(ctx context.Context, id int64, category domain.Category) (domain.Category, error)
	DeleteCategory(ctx context.Context, id int64) error
}

// SaleService — сценарий продажи и выборки продаж.
type SaleService interface {
	CreateSale(ctx context.Context, req sale.CreateRequest) (domain.Sale, error)
	CancelSale(ctx context.Context, saleID int64) (domain.Sale, error)
	GetSale(ctx context.Context, id int64) (domain.Sale, error)
	ListSales(ctx context.Context, page, size int) (domain.SalePage, error)
	SalesByCustomer(ctx context.Context, name string) ([]domain.Sale, error)
	SalesByDateRange(ctx context.Context, start, end time.Time) ([]domain.Sale, error)
	SalesByPaymentMethod(ctx context.Context, method domain.PaymentMethod) ([]domain.Sale, error)
	SalesByStatus(ctx context.Context, status domain.SaleStatus) ([]domain.Sale, error)
}

// Options задаёт необязательные зависимости Handler.
type Options struct {
	Logger *log.Entry
	// Idempotency включает обработку заголовка Idempotency-Key для POST продаж.
	Idempotency    domain.IdempotencyRepository
	IdempotencyTTL time.Duration
	Metrics        *metrics.HTTPMetrics
	// ServiceName используется otelgin как имя сервера в спанах.
	ServiceName string
	Now         func() time.Time
}

// Handler обслуживает /api/v1.
type Handler struct {
	catalog     CatalogService
	sales       SaleService
	idem        domain.IdempotencyRepository
	idemTTL     time.Duration
	metrics     *metrics.HTTPMetrics
	serviceName string
	logger      *log.Entry
	now         func() time.Time
}

// NewHandler создаёт REST-обработчик.
func NewHandler(catalog CatalogService, sales SaleService, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = log.WithFields(log.Fields{"component": "http-api", "layer": "http"})
	}
	ttl := opts.IdempotencyTTL
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	serviceName := opts.ServiceName
	if serviceName == "" {
		serviceName = "pos-service"
	}

	return &Handler{
		catalog:     catalog,
		sales:       sales,
		idem:        opts.Idempotency,
		idemTTL:     ttl,
		metrics:     opts.Metrics,
		serviceName: serviceName,
		logger:      logger,
		now:         now,
	}
}

// Router собирает gin.Engine с middleware трейсинга, метрик и recovery.
func (h *Handler) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(h.serviceName))
	router.Use(h.observe())

	h.Register(router.Group("/api/v1"))
	return router
}

// Register регистрирует маршруты на группе.
func (h *Handler) Register(api *gin.RouterGroup) {
	products := api.Group("/products")
	products.GET("", h.listProducts)
	products.GET("/search", h.searchProducts)
	products.GET("/low-stock", h.lowStock)
	products.GET("/barcode/:barcode", h.getProductByBarcode)
	products.GET("/category/:categoryId", h.productsByCategory)
	products.GET("/:id", h.getProduct)
	products.POST("", h.createProduct)
	products.PUT("/:id", h.updateProduct)
	products.DELETE("/:id", h.deleteProduct)
	products.PATCH("/:id/stock", h.adjustStock)

	categories := api.Group("/categories")
	categories.GET("", h.listCategories)
	categories.GET("/:id", h.getCategory)
	categories.POST("", h.createCategory)
	categories.PUT("/:id", h.updateCategory)
	categories.DELETE("/:id", h.deleteCategory)

	sales := api.Group("/sales")
	sales.GET("", h.listSales)
	sales.GET("/customer", h.salesByCustomer)
	sales.GET("/date-range", h.salesByDateRange)
	sales.GET("/payment-method", h.salesByPaymentMethod)
	sales.GET("/status", h.salesByStatus)
	sales.GET("/:id", h.getSale)
	sales.POST("", h.createSale)
	sales.POST("/:id/cancel", h.cancelSale)
}

// observe пишет метрики и access-лог по каждому запросу.
func (h *Handler) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		elapsed := time.Since(start)
		status := c.Writer.Status()
		h.metrics.Observe(c.Request.Method, c.FullPath(), status, elapsed)
		h.logger.WithFields(log.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      status,
			"duration_ms": elapsed.Milliseconds(),
		}).Debug("request served")
	}
}
