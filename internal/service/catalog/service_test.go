package catalog_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/service/catalog"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
)

func newService() (*catalog.Service, *memory.Store) {
	store := memory.NewStore()
	return catalog.NewService(store, store.Products(), store.Categories(), nil), store
}

func barcode(v string) *string { return &v }

func TestCreateProduct_NormalizesAndValidates(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	created, err := svc.CreateProduct(ctx, domain.Product{
		Name:          "  Green tea ",
		Price:         decimal.RequireFromString("3.456"),
		StockQuantity: 12,
		Barcode:       barcode(" "),
	})
	require.NoError(t, err)
	assert.Equal(t, "Green tea", created.Name)
	assert.Equal(t, "3.46", created.Price.StringFixed(2))
	assert.Nil(t, created.Barcode)

	_, err = svc.CreateProduct(ctx, domain.Product{Name: "", Price: decimal.Zero, StockQuantity: -1})
	require.ErrorIs(t, err, domain.ErrValidation)
	require.ErrorIs(t, err, domain.ErrNameRequired)
	require.ErrorIs(t, err, domain.ErrPriceInvalid)
	require.ErrorIs(t, err, domain.ErrStockNegative)
}

func TestCreateProduct_BarcodeConflict(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, domain.Product{Name: "A", Price: decimal.NewFromInt(1), Barcode: barcode("4600000000001")})
	require.NoError(t, err)

	_, err = svc.CreateProduct(ctx, domain.Product{Name: "B", Price: decimal.NewFromInt(1), Barcode: barcode("4600000000001")})
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Contains(t, err.Error(), "4600000000001")

	found, err := svc.GetProductByBarcode(ctx, "4600000000001")
	require.NoError(t, err)
	assert.Equal(t, "A", found.Name)

	_, err = svc.GetProductByBarcode(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateProduct_UnknownCategory(t *testing.T) {
	svc, _ := newService()
	missing := int64(42)

	_, err := svc.CreateProduct(context.Background(), domain.Product{
		Name:       "A",
		Price:      decimal.NewFromInt(1),
		CategoryID: &missing,
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProductQueries(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	drinks, err := svc.CreateCategory(ctx, domain.Category{Name: "Drinks"})
	require.NoError(t, err)

	for _, p := range []domain.Product{
		{Name: "Green Tea", Price: decimal.NewFromInt(3), StockQuantity: 4, CategoryID: &drinks.ID},
		{Name: "Black tea", Price: decimal.NewFromInt(3), StockQuantity: 10, CategoryID: &drinks.ID},
		{Name: "Cookie", Price: decimal.NewFromInt(1), StockQuantity: 11},
	} {
		_, err := svc.CreateProduct(ctx, p)
		require.NoError(t, err)
	}

	found, err := svc.SearchProducts(ctx, "TEA")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	inCategory, err := svc.ProductsByCategory(ctx, drinks.ID)
	require.NoError(t, err)
	require.Len(t, inCategory, 2)
	assert.Equal(t, "Drinks", inCategory[0].CategoryName)

	_, err = svc.ProductsByCategory(ctx, 999)
	require.ErrorIs(t, err, domain.ErrNotFound)

	low, err := svc.LowStock(ctx, domain.DefaultLowStockThreshold)
	require.NoError(t, err)
	assert.Len(t, low, 2, "threshold is inclusive")

	_, err = svc.SearchProducts(ctx, "  ")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestAdjustStock(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	p, err := svc.CreateProduct(ctx, domain.Product{Name: "Tea", Price: decimal.NewFromInt(3), StockQuantity: 5})
	require.NoError(t, err)

	updated, err := svc.AdjustStock(ctx, p.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, 12, updated.StockQuantity)

	_, err = svc.AdjustStock(ctx, p.ID, -13)
	require.ErrorIs(t, err, domain.ErrInvalidOperation)

	current, err := svc.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, current.StockQuantity)
}

func TestDeleteProduct_ReferencedBySale(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()

	p, err := svc.CreateProduct(ctx, domain.Product{Name: "Tea", Price: decimal.NewFromInt(3), StockQuantity: 5})
	require.NoError(t, err)

	err = store.RunAtomically(ctx, func(ctx context.Context, tx domain.Tx) error {
		sale, err := tx.Sales().Create(ctx, domain.Sale{PaymentMethod: domain.PaymentMethodCash, Status: domain.SaleStatusCompleted})
		if err != nil {
			return err
		}
		_, err = tx.Sales().AddLine(ctx, sale.ID, domain.NewSaleLine(sale.ID, p, 1))
		return err
	})
	require.NoError(t, err)

	require.ErrorIs(t, svc.DeleteProduct(ctx, p.ID), domain.ErrProductInUse)
	require.ErrorIs(t, svc.DeleteProduct(ctx, 999), domain.ErrNotFound)
}

func TestCategoryLifecycle(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	c, err := svc.CreateCategory(ctx, domain.Category{Name: " Snacks ", Description: "salty"})
	require.NoError(t, err)
	assert.Equal(t, "Snacks", c.Name)

	_, err = svc.CreateCategory(ctx, domain.Category{Name: "snacks"})
	require.ErrorIs(t, err, domain.ErrConflict)

	_, err = svc.CreateCategory(ctx, domain.Category{Name: ""})
	require.ErrorIs(t, err, domain.ErrValidation)

	updated, err := svc.UpdateCategory(ctx, c.ID, domain.Category{Name: "Chips"})
	require.NoError(t, err)
	assert.Equal(t, "Chips", updated.Name)

	p, err := svc.CreateProduct(ctx, domain.Product{Name: "Crisps", Price: decimal.NewFromInt(2), CategoryID: &c.ID})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteCategory(ctx, c.ID))
	_, err = svc.GetCategory(ctx, c.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	orphan, err := svc.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, orphan.CategoryID)

	all, err := svc.ListCategories(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
