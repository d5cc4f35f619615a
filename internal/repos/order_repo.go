package repos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"storefront/internal/domain"
)

type OrderRepo struct{ db *sqlx.DB }

func NewOrderRepo(db *sqlx.DB) *OrderRepo { return &OrderRepo{db: db} }

// orderItemRow is one order_items row LEFT JOINed with its product, which may
// have been deleted.
type orderItemRow struct {
	ID              int64           `db:"id"`
	OrderID         int64           `db:"order_id"`
	Quantity        int             `db:"quantity"`
	PriceAtPurchase decimal.Decimal `db:"price_at_purchase"`

	ProductID      sql.NullInt64       `db:"product_id"`
	ProductTitle   sql.NullString      `db:"p_title"`
	ProductDesc    sql.NullString      `db:"p_description"`
	ProductPrice   decimal.NullDecimal `db:"p_price"`
	ProductStock   sql.NullInt64       `db:"p_stock_quantity"`
	ProductCreated sql.NullTime        `db:"p_created_at"`
	ProductUpdated sql.NullTime        `db:"p_updated_at"`
}

func (row orderItemRow) toDomain() domain.OrderItem {
	it := domain.OrderItem{
		ID:              row.ID,
		OrderID:         row.OrderID,
		Quantity:        row.Quantity,
		PriceAtPurchase: row.PriceAtPurchase,
	}
	if row.ProductID.Valid {
		it.Product = &domain.Product{
			ID:            row.ProductID.Int64,
			Title:         row.ProductTitle.String,
			Description:   row.ProductDesc.String,
			Price:         row.ProductPrice.Decimal,
			StockQuantity: int(row.ProductStock.Int64),
			CreatedAt:     row.ProductCreated.Time,
			UpdatedAt:     row.ProductUpdated.Time,
		}
	}
	return it
}

const orderCols = `id, user_id, status, total_amount, created_at, updated_at`

// ---------- Writes (always inside the caller's transaction) ----------

// Create inserts a PENDING order header with a zero total.
func (r *OrderRepo) Create(ctx context.Context, q sqlx.ExtContext, userID int64) (domain.Order, error) {
	now := time.Now().UTC()
	o := domain.Order{
		UserID:      userID,
		Status:      domain.OrderPending,
		TotalAmount: decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := q.QueryRowxContext(ctx, q.Rebind(`
	  INSERT INTO orders(user_id, status, total_amount, created_at, updated_at)
	  VALUES(?, ?, ?, ?, ?)
	  RETURNING id`),
		o.UserID, string(o.Status), o.TotalAmount, o.CreatedAt, o.UpdatedAt).Scan(&o.ID)
	return o, err
}

// InsertItem inserts a single line item and returns its id.
func (r *OrderRepo) InsertItem(ctx context.Context, q sqlx.ExtContext, orderID, productID int64, qty int, price decimal.Decimal) (int64, error) {
	var id int64
	err := q.QueryRowxContext(ctx, q.Rebind(`
	  INSERT INTO order_items(order_id, product_id, quantity, price_at_purchase)
	  VALUES(?, ?, ?, ?)
	  RETURNING id`),
		orderID, productID, qty, price).Scan(&id)
	return id, err
}

func (r *OrderRepo) SetTotal(ctx context.Context, q sqlx.ExtContext, orderID int64, total decimal.Decimal) error {
	_, err := q.ExecContext(ctx, q.Rebind(`
	  UPDATE orders SET total_amount = ?, updated_at = ? WHERE id = ?`),
		total, time.Now().UTC(), orderID)
	return err
}

// ---------- Reads (ownership-scoped) ----------

// ListByUser returns the user's orders newest first with items and products
// loaded in one extra query.
func (r *OrderRepo) ListByUser(ctx context.Context, userID int64) ([]domain.Order, error) {
	orders := []domain.Order{}
	if err := r.db.SelectContext(ctx, &orders, r.db.Rebind(`
	  SELECT `+orderCols+`
	  FROM orders
	  WHERE user_id = ?
	  ORDER BY created_at DESC, id DESC`), userID); err != nil {
		return nil, err
	}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// GetForUser returns sql.ErrNoRows when the order does not exist or belongs
// to someone else; callers cannot tell the two apart.
func (r *OrderRepo) GetForUser(ctx context.Context, userID, orderID int64) (domain.Order, error) {
	var o domain.Order
	if err := r.db.GetContext(ctx, &o, r.db.Rebind(`
	  SELECT `+orderCols+`
	  FROM orders
	  WHERE id = ? AND user_id = ?`), orderID, userID); err != nil {
		return domain.Order{}, err
	}
	orders := []domain.Order{o}
	if err := r.attachItems(ctx, orders); err != nil {
		return domain.Order{}, err
	}
	return orders[0], nil
}

// ListAll is the staff view across users, newest first. An empty status
// matches every order.
func (r *OrderRepo) ListAll(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.Order, error) {
	where, args := `1 = 1`, []any{}
	if status != "" {
		where += ` AND status = ?`
		args = append(args, string(status))
	}
	args = append(args, limit)
	orders := []domain.Order{}
	if err := r.db.SelectContext(ctx, &orders, r.db.Rebind(`
	  SELECT `+orderCols+`
	  FROM orders
	  WHERE `+where+`
	  ORDER BY created_at DESC, id DESC
	  LIMIT ?`), args...); err != nil {
		return nil, err
	}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateStatus returns sql.ErrNoRows when the order does not exist.
func (r *OrderRepo) UpdateStatus(ctx context.Context, id int64, status domain.OrderStatus) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
	  UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`),
		string(status), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *OrderRepo) attachItems(ctx context.Context, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]int64, len(orders))
	byID := make(map[int64]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		byID[o.ID] = i
		orders[i].Items = []domain.OrderItem{}
	}

	query, args, err := sqlx.In(`
	  SELECT oi.id, oi.order_id, oi.quantity, oi.price_at_purchase, oi.product_id,
	         p.title AS p_title, p.description AS p_description, p.price AS p_price,
	         p.stock_quantity AS p_stock_quantity, p.created_at AS p_created_at, p.updated_at AS p_updated_at
	  FROM order_items oi
	  LEFT JOIN products p ON p.id = oi.product_id
	  WHERE oi.order_id IN (?)
	  ORDER BY oi.order_id, oi.id`, ids)
	if err != nil {
		return err
	}
	var rows []orderItemRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return err
	}
	for _, row := range rows {
		i := byID[row.OrderID]
		orders[i].Items = append(orders[i].Items, row.toDomain())
	}
	return nil
}
