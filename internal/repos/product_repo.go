package repos

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"storefront/internal/domain"
)

// ErrStockGuard is returned when a conditional decrement matched no row.
var ErrStockGuard = errors.New("stock decrement guard failed")

type ProductRepo struct{ db *sqlx.DB }

func NewProductRepo(db *sqlx.DB) *ProductRepo { return &ProductRepo{db: db} }

const productCols = `id, title, description, price, stock_quantity, created_at, updated_at`

// List returns products ordered by id; q filters on title/description.
func (r *ProductRepo) List(ctx context.Context, q string) ([]domain.Product, error) {
	where := `1 = 1`
	args := []any{}
	if q = strings.TrimSpace(strings.ToLower(q)); q != "" {
		where += ` AND (LOWER(title) LIKE ? OR LOWER(description) LIKE ?)`
		args = append(args, "%"+q+"%", "%"+q+"%")
	}
	out := []domain.Product{}
	err := r.db.SelectContext(ctx, &out, r.db.Rebind(`
	  SELECT `+productCols+`
	  FROM products
	  WHERE `+where+`
	  ORDER BY id`), args...)
	return out, err
}

// Get returns sql.ErrNoRows when the product does not exist.
func (r *ProductRepo) Get(ctx context.Context, id int64) (domain.Product, error) {
	var p domain.Product
	err := r.db.GetContext(ctx, &p, r.db.Rebind(`SELECT `+productCols+` FROM products WHERE id = ?`), id)
	return p, err
}

func (r *ProductRepo) Create(ctx context.Context, p *domain.Product) error {
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	return r.db.QueryRowxContext(ctx, r.db.Rebind(`
	  INSERT INTO products(title, description, price, stock_quantity, created_at, updated_at)
	  VALUES(?, ?, ?, ?, ?, ?)
	  RETURNING id`),
		p.Title, p.Description, p.Price, p.StockQuantity, p.CreatedAt, p.UpdatedAt).Scan(&p.ID)
}

// Update writes the mutable fields of p. Returns sql.ErrNoRows if p is gone.
func (r *ProductRepo) Update(ctx context.Context, p *domain.Product) error {
	p.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
	  UPDATE products
	  SET title = ?, description = ?, price = ?, stock_quantity = ?, updated_at = ?
	  WHERE id = ?`),
		p.Title, p.Description, p.Price, p.StockQuantity, p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete reports whether a row was removed. Order items referencing the
// product keep their snapshot and get product_id = NULL.
func (r *ProductRepo) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM products WHERE id = ?`), id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// LockForUpdate reads a product inside q's transaction and holds an exclusive
// lock on it until the transaction ends. Postgres locks the row; SQLite
// already holds the database write lock from BEGIN IMMEDIATE.
func (r *ProductRepo) LockForUpdate(ctx context.Context, q sqlx.ExtContext, id int64) (domain.Product, error) {
	query := `SELECT ` + productCols + ` FROM products WHERE id = ?`
	if isPostgres(q) {
		query += ` FOR UPDATE`
	}
	var p domain.Product
	err := sqlx.GetContext(ctx, q, &p, q.Rebind(query), id)
	return p, err
}

// Decrement subtracts by units only if enough stock exists.
func (r *ProductRepo) Decrement(ctx context.Context, q sqlx.ExtContext, id int64, by int) error {
	res, err := q.ExecContext(ctx, q.Rebind(`
	  UPDATE products
	  SET stock_quantity = stock_quantity - ?, updated_at = ?
	  WHERE id = ? AND stock_quantity >= ?`),
		by, time.Now().UTC(), id, by)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrStockGuard
	}
	return nil
}
