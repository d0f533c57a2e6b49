// Package catalog управляет товарами и категориями.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// Service — операции каталога поверх хранилищ.
type Service struct {
	uow        domain.UnitOfWork
	products   domain.ProductStore
	categories domain.CategoryStore
	logger     *log.Entry
}

// NewService создаёт сервис каталога. Изменение остатка идёт через uow.
func NewService(uow domain.UnitOfWork, products domain.ProductStore, categories domain.CategoryStore, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "catalog")
	}
	return &Service{
		uow:        uow,
		products:   products,
		categories: categories,
		logger:     logger,
	}
}

// ListProducts возвращает товары под фильтром, упорядоченные по id.
func (s *Service) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	return s.products.List(ctx, filter)
}

// GetProduct возвращает товар по id.
func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	return s.products.GetByID(ctx, id)
}

// GetProductByBarcode ищет товар по штрихкоду.
func (s *Service) GetProductByBarcode(ctx context.Context, barcode string) (domain.Product, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return domain.Product{}, domain.NewValidation("barcode", errBarcodeRequired)
	}
	return s.products.GetByBarcode(ctx, barcode)
}

// ProductsByCategory возвращает товары категории. Категория должна существовать.
func (s *Service) ProductsByCategory(ctx context.Context, categoryID int64) ([]domain.Product, error) {
	if _, err := s.categories.GetByID(ctx, categoryID); err != nil {
		return nil, err
	}
	return s.products.List(ctx, domain.ProductFilter{CategoryID: &categoryID})
}

// SearchProducts ищет товары по вхождению имени без учёта регистра.
func (s *Service) SearchProducts(ctx context.Context, name string) ([]domain.Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.NewValidation("name", domain.ErrNameRequired)
	}
	return s.products.List(ctx, domain.ProductFilter{NameContains: name})
}

// LowStock возвращает товары с остатком не больше threshold.
func (s *Service) LowStock(ctx context.Context, threshold int) ([]domain.Product, error) {
	if threshold < 0 {
		return nil, domain.NewValidation("threshold", domain.ErrStockNegative)
	}
	return s.products.List(ctx, domain.ProductFilter{MaxStock: &threshold})
}

// CreateProduct валидирует и сохраняет товар.
func (s *Service) CreateProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	product.Normalize()
	if errs := product.Validate(); len(errs) > 0 {
		return domain.Product{}, errors.Join(errs...)
	}

	created, err := s.products.Create(ctx, product)
	if err != nil {
		return domain.Product{}, describeProductError(err, product)
	}
	s.logger.WithField("product_id", created.ID).Info("product created")
	return created, nil
}

// UpdateProduct заменяет все поля товара, включая остаток.
func (s *Service) UpdateProduct(ctx context.Context, id int64, product domain.Product) (domain.Product, error) {
	product.ID = id
	product.Normalize()
	if errs := product.Validate(); len(errs) > 0 {
		return domain.Product{}, errors.Join(errs...)
	}

	updated, err := s.products.Update(ctx, product)
	if err != nil {
		return domain.Product{}, describeProductError(err, product)
	}
	s.logger.WithField("product_id", id).Info("product updated")
	return updated, nil
}

// DeleteProduct удаляет товар, если на него не ссылаются продажи.
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	if err := s.products.Delete(ctx, id); err != nil {
		if errors.Is(err, domain.ErrProductInUse) {
			s.logger.WithField("product_id", id).Warn("product delete rejected: referenced by sales")
		}
		return err
	}
	s.logger.WithField("product_id", id).Info("product deleted")
	return nil
}

// AdjustStock меняет остаток на delta через тот же примитив, что и продажи.
func (s *Service) AdjustStock(ctx context.Context, id int64, delta int) (domain.Product, error) {
	var out domain.Product
	err := s.uow.RunAtomically(ctx, func(ctx context.Context, tx domain.Tx) error {
		p, err := tx.Products().AdjustStock(ctx, id, delta)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	s.logger.WithFields(log.Fields{
		"product_id": id,
		"delta":      delta,
		"stock":      out.StockQuantity,
	}).Info("stock adjusted")
	return out, nil
}

// ListCategories возвращает все категории.
func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.categories.List(ctx)
}

// GetCategory возвращает категорию по id.
func (s *Service) GetCategory(ctx context.Context, id int64) (domain.Category, error) {
	return s.categories.GetByID(ctx, id)
}

// CreateCategory сохраняет категорию с уникальным именем.
func (s *Service) CreateCategory(ctx context.Context, category domain.Category) (domain.Category, error) {
	category.Name = strings.TrimSpace(category.Name)
	if errs := category.Validate(); len(errs) > 0 {
		return domain.Category{}, errors.Join(errs...)
	}
	created, err := s.categories.Create(ctx, category)
	if err != nil {
		return domain.Category{}, describeCategoryError(err, category)
	}
	return created, nil
}

// UpdateCategory меняет имя и описание категории.
func (s *Service) UpdateCategory(ctx context.Context, id int64, category domain.Category) (domain.Category, error) {
	category.ID = id
	category.Name = strings.TrimSpace(category.Name)
	if errs := category.Validate(); len(errs) > 0 {
		return domain.Category{}, errors.Join(errs...)
	}
	updated, err := s.categories.Update(ctx, category)
	if err != nil {
		return domain.Category{}, describeCategoryError(err, category)
	}
	return updated, nil
}

// DeleteCategory удаляет категорию; товары остаются без категории.
func (s *Service) DeleteCategory(ctx context.Context, id int64) error {
	if err := s.categories.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.WithField("category_id", id).Info("category deleted")
	return nil
}

func describeProductError(err error, product domain.Product) error {
	if errors.Is(err, domain.ErrConflict) && product.Barcode != nil {
		return fmt.Errorf("product with barcode %q already exists: %w", *product.Barcode, err)
	}
	return err
}

func describeCategoryError(err error, category domain.Category) error {
	if errors.Is(err, domain.ErrConflict) {
		return fmt.Errorf("category %q already exists: %w", category.Name, err)
	}
	return err
}

var errBarcodeRequired = errors.New("barcode is required")
