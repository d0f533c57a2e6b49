package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const productColumns = `
	p.id, p.name, p.description, p.price, p.stock_quantity,
	p.category_id, COALESCE(c.name, ''), p.barcode, p.created_at, p.updated_at`

type productRepository struct {
	q querier
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var (
		p          domain.Product
		categoryID sql.NullInt64
		barcode    sql.NullString
	)
	if err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Price,
		&p.StockQuantity,
		&categoryID,
		&p.CategoryName,
		&barcode,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return domain.Product{}, err
	}
	if categoryID.Valid {
		id := categoryID.Int64
		p.CategoryID = &id
	}
	if barcode.Valid {
		code := barcode.String
		p.Barcode = &code
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (r *productRepository) getOne(ctx context.Context, where string, key any, notFound error) (domain.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	p, err := scanProduct(r.q.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products p
		LEFT JOIN categories c ON c.id = p.category_id
		WHERE `+where, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, notFound
		}
		return domain.Product{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

func (r *productRepository) GetByID(ctx context.Context, id int64) (domain.Product, error) {
	return r.getOne(ctx, "p.id = $1", id, domain.NewNotFound(domain.EntityProduct, id))
}

func (r *productRepository) GetForUpdate(ctx context.Context, id int64) (domain.Product, error) {
	return r.getOne(ctx, "p.id = $1 FOR UPDATE OF p", id, domain.NewNotFound(domain.EntityProduct, id))
}

func (r *productRepository) GetByBarcode(ctx context.Context, barcode string) (domain.Product, error) {
	return r.getOne(ctx, "p.barcode = $1", barcode,
		&domain.NotFoundError{Entity: domain.EntityProduct, Field: "barcode", Key: barcode})
}

func (r *productRepository) Exists(ctx context.Context, id int64) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var exists bool
	if err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check product exists: %w", err)
	}
	return exists, nil
}

// AdjustStock меняет остаток одним условным UPDATE: проверка и запись не разделены
// и держат блокировку строки до конца транзакции.
func (r *productRepository) AdjustStock(ctx context.Context, id int64, delta int) (domain.Product, error) {
	opCtx, cancel := withTimeout(ctx)
	defer cancel()

	p, err := scanProduct(r.q.QueryRowContext(opCtx, `
		WITH updated AS (
			UPDATE products
			SET stock_quantity = stock_quantity + $2,
			    updated_at = $3
			WHERE id = $1 AND stock_quantity + $2 >= 0
			RETURNING *
		)
		SELECT `+strings.ReplaceAll(productColumns, "p.", "u.")+`
		FROM updated u
		LEFT JOIN categories c ON c.id = u.category_id
	`, id, delta, time.Now().UTC()))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, fmt.Errorf("adjust product stock: %w", err)
	}

	exists, existsErr := r.Exists(ctx, id)
	if existsErr != nil {
		return domain.Product{}, existsErr
	}
	if !exists {
		return domain.Product{}, domain.NewNotFound(domain.EntityProduct, id)
	}
	return domain.Product{}, &domain.InvalidOperationError{Reason: "stock quantity cannot be negative"}
}

func (r *productRepository) List(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var (
		conds []string
		args  []any
	)
	if name := strings.TrimSpace(filter.NameContains); name != "" {
		args = append(args, "%"+escapeLike(name)+"%")
		conds = append(conds, fmt.Sprintf("p.name ILIKE $%d", len(args)))
	}
	if filter.CategoryID != nil {
		args = append(args, *filter.CategoryID)
		conds = append(conds, fmt.Sprintf("p.category_id = $%d", len(args)))
	}
	if filter.MaxStock != nil {
		args = append(args, *filter.MaxStock)
		conds = append(conds, fmt.Sprintf("p.stock_quantity <= $%d", len(args)))
	}

	query := `SELECT ` + productColumns + `
		FROM products p
		LEFT JOIN categories c ON c.id = p.category_id`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY p.id"

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return result, nil
}

func (r *productRepository) Create(ctx context.Context, product domain.Product) (domain.Product, error) {
	opCtx, cancel := withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	var id int64
	err := r.q.QueryRowContext(opCtx, `
		INSERT INTO products (
			name, description, price, stock_quantity, category_id, barcode, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
		RETURNING id
	`,
		product.Name, product.Description, product.Price, product.StockQuantity,
		nullInt64(product.CategoryID), nullString(product.Barcode), now,
	).Scan(&id)
	if err != nil {
		return domain.Product{}, mapProductWriteError(err, product.CategoryID, "insert product")
	}

	return r.GetByID(ctx, id)
}

func (r *productRepository) Update(ctx context.Context, product domain.Product) (domain.Product, error) {
	opCtx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(opCtx, `
		UPDATE products
		SET name = $2,
		    description = $3,
		    price = $4,
		    stock_quantity = $5,
		    category_id = $6,
		    barcode = $7,
		    updated_at = $8
		WHERE id = $1
	`,
		product.ID, product.Name, product.Description, product.Price, product.StockQuantity,
		nullInt64(product.CategoryID), nullString(product.Barcode), time.Now().UTC(),
	)
	if err != nil {
		return domain.Product{}, mapProductWriteError(err, product.CategoryID, "update product")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Product{}, fmt.Errorf("rows affected for product update: %w", err)
	}
	if affected == 0 {
		return domain.Product{}, domain.NewNotFound(domain.EntityProduct, product.ID)
	}

	return r.GetByID(ctx, product.ID)
}

func (r *productRepository) Delete(ctx context.Context, id int64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.ErrProductInUse
		}
		return fmt.Errorf("delete product: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for product delete: %w", err)
	}
	if affected == 0 {
		return domain.NewNotFound(domain.EntityProduct, id)
	}
	return nil
}

func mapProductWriteError(err error, categoryID *int64, op string) error {
	switch {
	case isUniqueViolation(err):
		return domain.ErrConflict
	case isForeignKeyViolation(err) && categoryID != nil:
		return domain.NewNotFound(domain.EntityCategory, *categoryID)
	case isNumericOverflow(err):
		return &domain.InvalidOperationError{Reason: "price is out of range"}
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var _ domain.ProductStore = (*productRepository)(nil)
