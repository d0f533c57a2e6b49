package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
)

func seedProduct(t *testing.T, store *memory.Store, name string, price string, stock int) domain.Product {
	t.Helper()
	p, err := store.Products().Create(context.Background(), domain.Product{
		Name:          name,
		Price:         decimal.RequireFromString(price),
		StockQuantity: stock,
	})
	require.NoError(t, err)
	return p
}

func TestStore_AdjustStock(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	p := seedProduct(t, store, "Tea", "3.00", 5)

	updated, err := store.Products().AdjustStock(ctx, p.ID, -5)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.StockQuantity)

	_, err = store.Products().AdjustStock(ctx, p.ID, -1)
	var opErr *domain.InvalidOperationError
	require.ErrorAs(t, err, &opErr)

	current, err := store.Products().GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, current.StockQuantity, "rejected adjustment must not change stock")

	_, err = store.Products().AdjustStock(ctx, 999, 1)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_RunAtomicallyRollsBackEverything(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	p := seedProduct(t, store, "Tea", "3.00", 5)
	boom := errors.New("boom")

	err := store.RunAtomically(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Products().AdjustStock(ctx, p.ID, -3); err != nil {
			return err
		}
		sale, err := tx.Sales().Create(ctx, domain.Sale{PaymentMethod: domain.PaymentMethodCash, Status: domain.SaleStatusCompleted})
		if err != nil {
			return err
		}
		if _, err := tx.Sales().AddLine(ctx, sale.ID, domain.NewSaleLine(sale.ID, p, 3)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	current, err := store.Products().GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, current.StockQuantity)

	page, err := store.Sales().List(ctx, domain.SaleFilter{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestStore_RunAtomicallyCommits(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	p := seedProduct(t, store, "Tea", "3.00", 5)

	var saleID int64
	err := store.RunAtomically(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Products().AdjustStock(ctx, p.ID, -2); err != nil {
			return err
		}
		sale, err := tx.Sales().Create(ctx, domain.Sale{PaymentMethod: domain.PaymentMethodCard, Status: domain.SaleStatusCompleted})
		if err != nil {
			return err
		}
		saleID = sale.ID
		_, err = tx.Sales().AddLine(ctx, sale.ID, domain.NewSaleLine(sale.ID, p, 2))
		return err
	})
	require.NoError(t, err)

	sale, err := store.Sales().GetByID(ctx, saleID)
	require.NoError(t, err)
	require.Len(t, sale.Lines, 1)
	assert.Equal(t, "Tea", sale.Lines[0].ProductName)
	assert.True(t, sale.Lines[0].LineTotal.Equal(decimal.RequireFromString("6.00")))

	current, err := store.Products().GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, current.StockQuantity)
}

func TestStore_RunAtomicallyPanicKeepsState(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	p := seedProduct(t, store, "Tea", "3.00", 5)

	assert.Panics(t, func() {
		_ = store.RunAtomically(ctx, func(ctx context.Context, tx domain.Tx) error {
			_, _ = tx.Products().AdjustStock(ctx, p.ID, -5)
			panic("unexpected")
		})
	})

	current, err := store.Products().GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, current.StockQuantity)
}

func TestStore_ProductConstraints(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	code := "4600001"

	_, err := store.Products().Create(ctx, domain.Product{Name: "A", Price: decimal.NewFromInt(1), Barcode: &code})
	require.NoError(t, err)

	_, err = store.Products().Create(ctx, domain.Product{Name: "B", Price: decimal.NewFromInt(1), Barcode: &code})
	require.ErrorIs(t, err, domain.ErrConflict)

	missing := int64(77)
	_, err = store.Products().Create(ctx, domain.Product{Name: "C", Price: decimal.NewFromInt(1), CategoryID: &missing})
	require.ErrorIs(t, err, domain.ErrNotFound)

	found, err := store.Products().GetByBarcode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, "A", found.Name)

	_, err = store.Products().GetByBarcode(ctx, "nope")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "barcode", nf.Field)
}

func TestStore_DeleteReferencedProduct(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	p := seedProduct(t, store, "Tea", "3.00", 5)
	free := seedProduct(t, store, "Water", "1.00", 5)

	err := store.RunAtomically(ctx, func(ctx context.Context, tx domain.Tx) error {
		sale, err := tx.Sales().Create(ctx, domain.Sale{PaymentMethod: domain.PaymentMethodCash, Status: domain.SaleStatusCompleted})
		if err != nil {
			return err
		}
		_, err = tx.Sales().AddLine(ctx, sale.ID, domain.NewSaleLine(sale.ID, p, 1))
		return err
	})
	require.NoError(t, err)

	require.ErrorIs(t, store.Products().Delete(ctx, p.ID), domain.ErrProductInUse)
	require.NoError(t, store.Products().Delete(ctx, free.ID))

	exists, err := store.Products().Exists(ctx, free.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStore_CategoryDeleteDetachesProducts(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()

	cat, err := store.Categories().Create(ctx, domain.Category{Name: "Drinks"})
	require.NoError(t, err)
	_, err = store.Categories().Create(ctx, domain.Category{Name: "drinks"})
	require.ErrorIs(t, err, domain.ErrConflict)

	p, err := store.Products().Create(ctx, domain.Product{Name: "Tea", Price: decimal.NewFromInt(3), CategoryID: &cat.ID})
	require.NoError(t, err)
	assert.Equal(t, "Drinks", p.CategoryName)

	byCategory, err := store.Products().List(ctx, domain.ProductFilter{CategoryID: &cat.ID})
	require.NoError(t, err)
	require.Len(t, byCategory, 1)

	require.NoError(t, store.Categories().Delete(ctx, cat.ID))

	current, err := store.Products().GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, current.CategoryID)
	assert.Empty(t, current.CategoryName)
}

func TestStore_ProductListFilters(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedProduct(t, store, "Green Tea", "3.00", 2)
	seedProduct(t, store, "Black tea", "3.00", 50)
	seedProduct(t, store, "Coffee", "4.00", 10)

	byName, err := store.Products().List(ctx, domain.ProductFilter{NameContains: "TEA"})
	require.NoError(t, err)
	assert.Len(t, byName, 2)

	threshold := 10
	low, err := store.Products().List(ctx, domain.ProductFilter{MaxStock: &threshold})
	require.NoError(t, err)
	require.Len(t, low, 2)
	assert.Equal(t, "Green Tea", low[0].Name)
	assert.Equal(t, "Coffee", low[1].Name)
}

func TestStore_SaleListFilters(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	base := time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

	for i, s := range []domain.Sale{
		{CustomerName: "Alice Smith", PaymentMethod: domain.PaymentMethodCash, Status: domain.SaleStatusCompleted, CreatedAt: base},
		{CustomerName: "Bob", PaymentMethod: domain.PaymentMethodCard, Status: domain.SaleStatusCancelled, CreatedAt: base.Add(24 * time.Hour)},
		{CustomerName: "alice cooper", PaymentMethod: domain.PaymentMethodCard, Status: domain.SaleStatusCompleted, CreatedAt: base.Add(48 * time.Hour)},
	} {
		_, err := store.Sales().Create(ctx, s)
		require.NoError(t, err, "sale %d", i)
	}

	byCustomer, err := store.Sales().List(ctx, domain.SaleFilter{CustomerContains: "ALICE"})
	require.NoError(t, err)
	assert.Equal(t, 2, byCustomer.Total)
	assert.Equal(t, "alice cooper", byCustomer.Sales[0].CustomerName, "newest first")

	from, to := base, base.Add(24*time.Hour)
	byRange, err := store.Sales().List(ctx, domain.SaleFilter{From: &from, To: &to})
	require.NoError(t, err)
	assert.Equal(t, 2, byRange.Total, "range bounds are inclusive")

	byMethod, err := store.Sales().List(ctx, domain.SaleFilter{PaymentMethod: domain.PaymentMethodCard, Status: domain.SaleStatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, 1, byMethod.Total)

	paged, err := store.Sales().List(ctx, domain.SaleFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, paged.Total)
	require.Len(t, paged.Sales, 1)
	assert.Equal(t, "Alice Smith", paged.Sales[0].CustomerName)
}

func TestStore_UpdateHeaderKeepsLines(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	p := seedProduct(t, store, "Tea", "3.00", 5)

	sale, err := store.Sales().Create(ctx, domain.Sale{PaymentMethod: domain.PaymentMethodCash, Status: domain.SaleStatusCompleted})
	require.NoError(t, err)
	_, err = store.Sales().AddLine(ctx, sale.ID, domain.NewSaleLine(sale.ID, p, 1))
	require.NoError(t, err)

	sale.Status = domain.SaleStatusCancelled
	_, err = store.Sales().UpdateHeader(ctx, sale)
	require.NoError(t, err)

	got, err := store.Sales().GetByID(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusCancelled, got.Status)
	assert.Len(t, got.Lines, 1)

	_, err = store.Sales().UpdateHeader(ctx, domain.Sale{ID: 404})
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.Sales().AddLine(ctx, 404, domain.SaleLine{ProductID: p.ID})
	require.ErrorIs(t, err, domain.ErrNotFound)
}
