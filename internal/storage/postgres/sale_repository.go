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

const saleColumns = `id, customer_name, total_amount, payment_method, status, created_at, updated_at`

type saleRepository struct {
	q querier
}

func scanSale(row rowScanner) (domain.Sale, error) {
	var (
		sale     domain.Sale
		customer sql.NullString
		method   string
		status   string
	)
	if err := row.Scan(
		&sale.ID,
		&customer,
		&sale.TotalAmount,
		&method,
		&status,
		&sale.CreatedAt,
		&sale.UpdatedAt,
	); err != nil {
		return domain.Sale{}, err
	}
	sale.CustomerName = customer.String
	sale.PaymentMethod = domain.PaymentMethod(method)
	sale.Status = domain.SaleStatus(status)
	if !sale.Status.Valid() {
		return domain.Sale{}, fmt.Errorf("invalid sale status %q for sale %d", status, sale.ID)
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.UpdatedAt = sale.UpdatedAt.UTC()
	return sale, nil
}

func customerColumn(name string) sql.NullString {
	if name == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: name, Valid: true}
}

func (r *saleRepository) Create(ctx context.Context, sale domain.Sale) (domain.Sale, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	createdAt := sale.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	created, err := scanSale(r.q.QueryRowContext(ctx, `
		INSERT INTO sales (customer_name, total_amount, payment_method, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+saleColumns,
		customerColumn(sale.CustomerName), sale.TotalAmount, string(sale.PaymentMethod), string(sale.Status),
		createdAt, now,
	))
	if err != nil {
		return domain.Sale{}, fmt.Errorf("insert sale: %w", err)
	}
	return created, nil
}

func (r *saleRepository) AddLine(ctx context.Context, saleID int64, line domain.SaleLine) (domain.SaleLine, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	line.SaleID = saleID
	err := r.q.QueryRowContext(ctx, `
		INSERT INTO sale_lines (sale_id, product_id, quantity, unit_price, line_total)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, saleID, line.ProductID, line.Quantity, line.UnitPrice, line.LineTotal).Scan(&line.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.SaleLine{}, fmt.Errorf("sale %d or product %d: %w", saleID, line.ProductID, domain.ErrNotFound)
		}
		if isNumericOverflow(err) {
			return domain.SaleLine{}, &domain.InvalidOperationError{Reason: "line total is out of range"}
		}
		return domain.SaleLine{}, fmt.Errorf("insert sale line: %w", err)
	}
	return line, nil
}

func (r *saleRepository) getHeader(ctx context.Context, id int64, forUpdate bool) (domain.Sale, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + saleColumns + ` FROM sales WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	sale, err := scanSale(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Sale{}, domain.NewNotFound(domain.EntitySale, id)
		}
		return domain.Sale{}, fmt.Errorf("get sale: %w", err)
	}
	return sale, nil
}

func (r *saleRepository) GetByID(ctx context.Context, id int64) (domain.Sale, error) {
	sale, err := r.getHeader(ctx, id, false)
	if err != nil {
		return domain.Sale{}, err
	}
	sale.Lines, err = r.Lines(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return sale, nil
}

func (r *saleRepository) GetForUpdate(ctx context.Context, id int64) (domain.Sale, error) {
	return r.getHeader(ctx, id, true)
}

func (r *saleRepository) Lines(ctx context.Context, saleID int64) ([]domain.SaleLine, error) {
	byID, err := r.linesFor(ctx, []int64{saleID})
	if err != nil {
		return nil, err
	}
	lines := byID[saleID]
	if lines == nil {
		lines = []domain.SaleLine{}
	}
	return lines, nil
}

// linesFor загружает позиции нескольких продаж одним запросом; имя товара берётся из каталога.
func (r *saleRepository) linesFor(ctx context.Context, saleIDs []int64) (map[int64][]domain.SaleLine, error) {
	result := make(map[int64][]domain.SaleLine, len(saleIDs))
	if len(saleIDs) == 0 {
		return result, nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT l.id, l.sale_id, l.product_id, p.name, l.quantity, l.unit_price, l.line_total
		FROM sale_lines l
		JOIN products p ON p.id = l.product_id
		WHERE l.sale_id = ANY($1)
		ORDER BY l.sale_id, l.id
	`, saleIDs)
	if err != nil {
		return nil, fmt.Errorf("query sale lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(
			&line.ID,
			&line.SaleID,
			&line.ProductID,
			&line.ProductName,
			&line.Quantity,
			&line.UnitPrice,
			&line.LineTotal,
		); err != nil {
			return nil, fmt.Errorf("scan sale line: %w", err)
		}
		result[line.SaleID] = append(result[line.SaleID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sale lines: %w", err)
	}
	return result, nil
}

func (r *saleRepository) UpdateHeader(ctx context.Context, sale domain.Sale) (domain.Sale, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	updated, err := scanSale(r.q.QueryRowContext(ctx, `
		UPDATE sales
		SET customer_name = $2,
		    total_amount = $3,
		    payment_method = $4,
		    status = $5,
		    updated_at = $6
		WHERE id = $1
		RETURNING `+saleColumns,
		sale.ID, customerColumn(sale.CustomerName), sale.TotalAmount,
		string(sale.PaymentMethod), string(sale.Status), time.Now().UTC(),
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Sale{}, domain.NewNotFound(domain.EntitySale, sale.ID)
		}
		if isNumericOverflow(err) {
			return domain.Sale{}, &domain.InvalidOperationError{Reason: "sale total is out of range"}
		}
		return domain.Sale{}, fmt.Errorf("update sale header: %w", err)
	}
	return updated, nil
}

func (r *saleRepository) List(ctx context.Context, filter domain.SaleFilter) (domain.SalePage, error) {
	var (
		conds []string
		args  []any
	)
	if name := strings.TrimSpace(filter.CustomerContains); name != "" {
		args = append(args, "%"+escapeLike(name)+"%")
		conds = append(conds, fmt.Sprintf("customer_name ILIKE $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, filter.From.UTC())
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, filter.To.UTC())
		conds = append(conds, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if filter.PaymentMethod != "" {
		args = append(args, string(filter.PaymentMethod))
		conds = append(conds, fmt.Sprintf("payment_method = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	opCtx, cancel := withTimeout(ctx)
	defer cancel()

	var page domain.SalePage
	if err := r.q.QueryRowContext(opCtx, `SELECT COUNT(*) FROM sales`+where, args...).Scan(&page.Total); err != nil {
		return domain.SalePage{}, fmt.Errorf("count sales: %w", err)
	}

	query := `SELECT ` + saleColumns + ` FROM sales` + where + ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.q.QueryContext(opCtx, query, args...)
	if err != nil {
		return domain.SalePage{}, fmt.Errorf("list sales: %w", err)
	}
	defer rows.Close()

	page.Sales = make([]domain.Sale, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return domain.SalePage{}, fmt.Errorf("scan sale: %w", err)
		}
		page.Sales = append(page.Sales, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return domain.SalePage{}, fmt.Errorf("iterate sales: %w", err)
	}
	rows.Close()

	lines, err := r.linesFor(ctx, ids)
	if err != nil {
		return domain.SalePage{}, err
	}
	for i := range page.Sales {
		page.Sales[i].Lines = lines[page.Sales[i].ID]
		if page.Sales[i].Lines == nil {
			page.Sales[i].Lines = []domain.SaleLine{}
		}
	}
	return page, nil
}

var _ domain.SaleStore = (*saleRepository)(nil)
