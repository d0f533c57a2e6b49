package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

type categoryRepository struct {
	q querier
}

func scanCategory(row rowScanner) (domain.Category, error) {
	var c domain.Category
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return domain.Category{}, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func (r *categoryRepository) GetByID(ctx context.Context, id int64) (domain.Category, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	c, err := scanCategory(r.q.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM categories
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Category{}, domain.NewNotFound(domain.EntityCategory, id)
		}
		return domain.Category{}, fmt.Errorf("get category: %w", err)
	}
	return c, nil
}

func (r *categoryRepository) List(ctx context.Context) ([]domain.Category, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM categories
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Category, 0)
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return result, nil
}

func (r *categoryRepository) Create(ctx context.Context, category domain.Category) (domain.Category, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	c, err := scanCategory(r.q.QueryRowContext(ctx, `
		INSERT INTO categories (name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		RETURNING id, name, description, created_at, updated_at
	`, category.Name, category.Description, now))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Category{}, domain.ErrConflict
		}
		return domain.Category{}, fmt.Errorf("insert category: %w", err)
	}
	return c, nil
}

func (r *categoryRepository) Update(ctx context.Context, category domain.Category) (domain.Category, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	c, err := scanCategory(r.q.QueryRowContext(ctx, `
		UPDATE categories
		SET name = $2, description = $3, updated_at = $4
		WHERE id = $1
		RETURNING id, name, description, created_at, updated_at
	`, category.ID, category.Name, category.Description, time.Now().UTC()))
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return domain.Category{}, domain.NewNotFound(domain.EntityCategory, category.ID)
		case isUniqueViolation(err):
			return domain.Category{}, domain.ErrConflict
		default:
			return domain.Category{}, fmt.Errorf("update category: %w", err)
		}
	}
	return c, nil
}

// Delete удаляет категорию; ссылки товаров обнуляет ON DELETE SET NULL.
func (r *categoryRepository) Delete(ctx context.Context, id int64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for category delete: %w", err)
	}
	if affected == 0 {
		return domain.NewNotFound(domain.EntityCategory, id)
	}
	return nil
}

var _ domain.CategoryStore = (*categoryRepository)(nil)
