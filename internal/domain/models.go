package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID            int64           `db:"id"`
	Title         string          `db:"title"`
	Description   string          `db:"description"`
	Price         decimal.Decimal `db:"price"`
	StockQuantity int             `db:"stock_quantity"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderPaid      OrderStatus = "PAID"
	OrderShipped   OrderStatus = "SHIPPED"
	OrderDelivered OrderStatus = "DELIVERED"
	OrderCancelled OrderStatus = "CANCELLED"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderPaid, OrderShipped, OrderDelivered, OrderCancelled:
		return true
	}
	return false
}

type Order struct {
	ID          int64           `db:"id"`
	UserID      int64           `db:"user_id"`
	Status      OrderStatus     `db:"status"`
	TotalAmount decimal.Decimal `db:"total_amount"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`

	User  *User
	Items []OrderItem
}

// OrderItem keeps its price snapshot even after Product is deleted, in which
// case Product is nil.
type OrderItem struct {
	ID              int64
	OrderID         int64
	Quantity        int
	PriceAtPurchase decimal.Decimal
	Product         *Product
}

// Subtotal is price_at_purchase × quantity.
func (it OrderItem) Subtotal() decimal.Decimal {
	return it.PriceAtPurchase.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// LineItem is one requested (product, quantity) pair of a new order.
type LineItem struct {
	ProductID int64
	Quantity  int
}
