package repos

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// OpenDB connects and bootstraps the schema. SQLite file databases get a busy
// timeout and IMMEDIATE transactions so a writer holds the lock from BEGIN;
// ":memory:" databases are pinned to one connection because every new
// connection would otherwise see a fresh, empty database.
func OpenDB(driver, dsn string) (*sqlx.DB, error) {
	if driver == "" {
		driver = DriverSQLite
	}
	if driver == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite && isMemoryDSN(dsn) {
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func isMemoryDSN(dsn string) bool {
	return strings.HasPrefix(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// sqliteDSN adds the connection parameters the order engine relies on. A
// parameter the caller already set is left alone; everything else is added
// to whatever query the DSN carries.
func sqliteDSN(dsn string) string {
	_, rawQuery, hasQuery := strings.Cut(dsn, "?")
	q, err := url.ParseQuery(rawQuery)
	if err != nil {
		q = url.Values{}
	}
	pragmas := map[string]bool{}
	for _, p := range q["_pragma"] {
		name := p
		if i := strings.IndexAny(p, "(="); i >= 0 {
			name = p[:i]
		}
		pragmas[strings.ToLower(strings.TrimSpace(name))] = true
	}

	var add []string
	if !pragmas["foreign_keys"] {
		add = append(add, "_pragma=foreign_keys(1)")
	}
	if !isMemoryDSN(dsn) {
		if !pragmas["busy_timeout"] {
			add = append(add, "_pragma=busy_timeout(5000)")
		}
		if !q.Has("_txlock") {
			add = append(add, "_txlock=immediate")
		}
	}
	if len(add) == 0 {
		return dsn
	}
	sep := "?"
	switch {
	case hasQuery && rawQuery == "":
		sep = ""
	case hasQuery:
		sep = "&"
	}
	return dsn + sep + strings.Join(add, "&")
}

func isPostgres(q sqlx.ExtContext) bool { return q.DriverName() == DriverPostgres }

func ensureSchema(db *sqlx.DB) error {
	schema := sqliteSchema
	if db.DriverName() == DriverPostgres {
		schema = postgresSchema
	}
	_, err := db.Exec(schema)
	return err
}

const sqliteSchema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS users(
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  username TEXT NOT NULL,
  email TEXT NOT NULL,
  first_name TEXT NOT NULL DEFAULT '',
  last_name TEXT NOT NULL DEFAULT '',
  password_hash TEXT NOT NULL,
  is_staff INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(LOWER(email));

-- Prices are TEXT so decimals round-trip exactly.
CREATE TABLE IF NOT EXISTS products(
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  price TEXT NOT NULL,
  stock_quantity INTEGER NOT NULL DEFAULT 0 CHECK (stock_quantity >= 0),
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_products_title ON products(LOWER(title));

CREATE TABLE IF NOT EXISTS orders(
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  status TEXT NOT NULL DEFAULT 'PENDING'
    CHECK (status IN ('PENDING','PAID','SHIPPED','DELIVERED','CANCELLED')),
  total_amount TEXT NOT NULL DEFAULT '0',
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id);

CREATE TABLE IF NOT EXISTS order_items(
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  order_id INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  product_id INTEGER NULL REFERENCES products(id) ON DELETE SET NULL,
  quantity INTEGER NOT NULL CHECK (quantity > 0),
  price_at_purchase TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users(
  id BIGSERIAL PRIMARY KEY,
  username TEXT NOT NULL,
  email TEXT NOT NULL,
  first_name TEXT NOT NULL DEFAULT '',
  last_name TEXT NOT NULL DEFAULT '',
  password_hash TEXT NOT NULL,
  is_staff BOOLEAN NOT NULL DEFAULT FALSE,
  created_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(LOWER(email));

CREATE TABLE IF NOT EXISTS products(
  id BIGSERIAL PRIMARY KEY,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  price NUMERIC(10,2) NOT NULL,
  stock_quantity INTEGER NOT NULL DEFAULT 0 CHECK (stock_quantity >= 0),
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_products_title ON products(LOWER(title));

CREATE TABLE IF NOT EXISTS orders(
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  status TEXT NOT NULL DEFAULT 'PENDING'
    CHECK (status IN ('PENDING','PAID','SHIPPED','DELIVERED','CANCELLED')),
  total_amount NUMERIC(10,2) NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id);

CREATE TABLE IF NOT EXISTS order_items(
  id BIGSERIAL PRIMARY KEY,
  order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  product_id BIGINT NULL REFERENCES products(id) ON DELETE SET NULL,
  quantity INTEGER NOT NULL CHECK (quantity > 0),
  price_at_purchase NUMERIC(10,2) NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id);
`

// SeedDemo inserts demo products and users when the catalog is empty.
// Safe to run on every startup.
func SeedDemo(ctx context.Context, db *sqlx.DB, bcryptCost int) error {
	var n int
	if err := db.GetContext(ctx, &n, `SELECT COUNT(*) FROM products`); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	log.Println("[seed] inserting demo products/users")

	products := []struct {
		title, desc, price string
		stock              int
	}{
		{"Mechanical Keyboard", "Tenkeyless, brown switches", "89.90", 25},
		{"USB-C Hub", "7-in-1 aluminium hub", "39.99", 40},
		{"Noise Cancelling Headphones", "Over-ear, 30h battery", "199.00", 8},
		{"Webcam 1080p", "Autofocus with dual mics", "9.99", 5},
	}
	users := []struct {
		username, email string
		staff           bool
	}{
		{"alice", "alice@storefront.test", false},
		{"bob", "bob@storefront.test", false},
		{"admin", "admin@storefront.test", true},
	}
	hash, err := bcrypt.GenerateFromPassword([]byte("Passw0rd!"), bcryptCost)
	if err != nil {
		return err
	}

	return WithTx(ctx, db, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		for _, p := range products {
			if _, err := tx.ExecContext(ctx, tx.Rebind(`
				INSERT INTO products(title, description, price, stock_quantity, created_at, updated_at)
				VALUES(?, ?, ?, ?, ?, ?)`),
				p.title, p.desc, decimal.RequireFromString(p.price), p.stock, now, now); err != nil {
				return fmt.Errorf("seed product %s: %w", p.title, err)
			}
		}
		for _, u := range users {
			if _, err := tx.ExecContext(ctx, tx.Rebind(`
				INSERT INTO users(username, email, password_hash, is_staff, created_at)
				VALUES(?, ?, ?, ?, ?)
				ON CONFLICT DO NOTHING`),
				u.username, u.email, string(hash), u.staff, now); err != nil {
				return fmt.Errorf("seed user %s: %w", u.email, err)
			}
		}
		return nil
	})
}
