package services_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"storefront/internal/domain"
	"storefront/internal/repos"
	"storefront/internal/services"
)

func memdb(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := repos.OpenDB(repos.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// filedb is a real file so several connections can contend for locks. query,
// if set, is appended to the DSN as given.
func filedb(t *testing.T, query string) *sqlx.DB {
	t.Helper()
	db, err := repos.OpenDB(repos.DriverSQLite, filepath.Join(t.TempDir(), "store.db")+query)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func mkUser(t *testing.T, db *sqlx.DB, email string, staff bool) *domain.User {
	t.Helper()
	u := &domain.User{Username: email, Email: email, Hash: "x", IsStaff: staff}
	require.NoError(t, repos.NewUserRepo(db).Create(context.Background(), u))
	return u
}

func mkProduct(t *testing.T, db *sqlx.DB, title, price string, stock int) *domain.Product {
	t.Helper()
	p := &domain.Product{Title: title, Price: decimal.RequireFromString(price), StockQuantity: stock}
	require.NoError(t, repos.NewProductRepo(db).Create(context.Background(), p))
	return p
}

func orderSvc(db *sqlx.DB) *services.OrderService {
	return services.NewOrderService(db, repos.NewProductRepo(db), repos.NewOrderRepo(db))
}

func stockOf(t *testing.T, db *sqlx.DB, id int64) int {
	t.Helper()
	var n int
	require.NoError(t, db.Get(&n, db.Rebind(`SELECT stock_quantity FROM products WHERE id = ?`), id))
	return n
}

func count(t *testing.T, db *sqlx.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM `+table))
	return n
}

func itemsOf(t *testing.T, db *sqlx.DB, orderID int64) int {
	t.Helper()
	var n int
	require.NoError(t, db.Get(&n, db.Rebind(`SELECT COUNT(*) FROM order_items WHERE order_id = ?`), orderID))
	return n
}
