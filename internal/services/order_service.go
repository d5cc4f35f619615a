package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"storefront/internal/apperr"
	"storefront/internal/domain"
	"storefront/internal/repos"
)

const maxOrderLines = 100

var (
	ErrEmptyOrder    = apperr.New(apperr.CodeInvalidRequest, "Order must contain at least one item")
	ErrTooManyLines  = apperr.New(apperr.CodeInvalidRequest, fmt.Sprintf("Order cannot contain more than %d items", maxOrderLines))
	ErrBadQuantity   = apperr.New(apperr.CodeInvalidRequest, "Quantity must be at least 1")
	ErrOrderNotFound = apperr.New(apperr.CodeNotFound, "Order not found")
)

type OrderService struct {
	DB       *sqlx.DB
	Products *repos.ProductRepo
	Orders   *repos.OrderRepo
}

func NewOrderService(db *sqlx.DB, prods *repos.ProductRepo, orders *repos.OrderRepo) *OrderService {
	return &OrderService{DB: db, Products: prods, Orders: orders}
}

// Create places an order for user in one transaction. Each product row is
// locked before its stock is checked, the current price is copied onto the
// line item and the stock is decremented. Any failure rolls back everything:
// no order, no items, no stock change.
func (s *OrderService) Create(ctx context.Context, user *domain.User, items []domain.LineItem) (*domain.Order, error) {
	ctx, span := startSpan(ctx, "orders.create", attribute.Int("order.lines", len(items)))
	var err error
	defer func() { endSpan(span, err) }()

	if user == nil {
		err = ErrNotAuthenticated
		return nil, err
	}
	if err = checkLines(items); err != nil {
		return nil, err
	}

	var orderID int64
	err = repos.WithTx(ctx, s.DB, func(tx *sqlx.Tx) error {
		order, err := s.Orders.Create(ctx, tx, user.ID)
		if err != nil {
			return err
		}
		total := decimal.Zero
		for _, it := range items {
			p, err := s.Products.LockForUpdate(ctx, tx, it.ProductID)
			if errors.Is(err, sql.ErrNoRows) {
				return apperr.New(apperr.CodeNotFound, fmt.Sprintf("Product with id %d not found", it.ProductID))
			}
			if err != nil {
				return err
			}
			if it.Quantity > p.StockQuantity {
				return insufficient(p)
			}
			line := domain.OrderItem{OrderID: order.ID, Quantity: it.Quantity, PriceAtPurchase: p.Price}
			if line.ID, err = s.Orders.InsertItem(ctx, tx, order.ID, p.ID, it.Quantity, p.Price); err != nil {
				return err
			}
			if err := s.Products.Decrement(ctx, tx, p.ID, it.Quantity); err != nil {
				if errors.Is(err, repos.ErrStockGuard) {
					return insufficient(p)
				}
				return err
			}
			total = total.Add(line.Subtotal())
		}
		orderID = order.ID
		return s.Orders.SetTotal(ctx, tx, order.ID, total)
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("order.id", orderID))
	o, err := s.Get(ctx, user, orderID)
	return o, err
}

func checkLines(items []domain.LineItem) error {
	if len(items) == 0 {
		return ErrEmptyOrder
	}
	if len(items) > maxOrderLines {
		return ErrTooManyLines
	}
	for _, it := range items {
		if it.Quantity < 1 {
			return ErrBadQuantity
		}
	}
	return nil
}

func insufficient(p domain.Product) error {
	return apperr.New(apperr.CodeInsufficientStock,
		fmt.Sprintf("Not enough stock for %s. Available: %d", p.Title, p.StockQuantity))
}

// List returns the user's own orders, newest first.
func (s *OrderService) List(ctx context.Context, user *domain.User) ([]domain.Order, error) {
	if user == nil {
		return nil, ErrNotAuthenticated
	}
	orders, err := s.Orders.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].User = user
	}
	return orders, nil
}

// Get returns one of the user's orders. Orders of other users are reported
// as not found.
func (s *OrderService) Get(ctx context.Context, user *domain.User, id int64) (*domain.Order, error) {
	if user == nil {
		return nil, ErrNotAuthenticated
	}
	o, err := s.Orders.GetForUser(ctx, user.ID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	o.User = user
	return &o, nil
}
