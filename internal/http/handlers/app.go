package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"

	applog "storefront/internal/log"
)

const bodyLimit = 1 << 20 // 1 MiB

// NewApp builds the Fiber app with middleware and every route mounted.
func NewApp(d *Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "storefront",
		BodyLimit:    bodyLimit,
		ErrorHandler: ErrorHandler,
	})

	// ---------- Middlewares ----------
	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${locals:requestid} ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(helmet.New())
	if d.GlobalRatePerMin > 0 {
		app.Use(limiter.New(limiter.Config{
			Max:        d.GlobalRatePerMin,
			Expiration: time.Minute,
			Next: func(c *fiber.Ctx) bool {
				p := c.Path()
				return p == "/healthz" || strings.HasPrefix(p, "/metrics")
			},
			LimitReached: func(c *fiber.Ctx) error {
				d.Metrics.RateLimited.WithLabelValues("global").Inc()
				applog.Security(c, "rate.global.hit", nil)
				return detail(c, fiber.StatusTooManyRequests, "Too many requests")
			},
		}))
	}

	Routes(app, d)
	app.Use(NotFound)
	return app
}

// Routes mounts the API. Routing is not strict, so collection routes answer
// with and without the trailing slash.
func Routes(app *fiber.App, d *Deps) {
	auth := RequireUser(d.AuthService)
	loginLimit := d.LoginLimiter.Middleware("login", func(c *fiber.Ctx) error {
		d.Metrics.RateLimited.WithLabelValues("login").Inc()
		applog.Security(c, "rate.login.hit", nil)
		return detail(c, fiber.StatusTooManyRequests, "Too many requests")
	})

	app.Get("/healthz", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"ok": true}) })
	app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))

	api := app.Group("/api")

	users := api.Group("/users")
	users.Get("/public-key", d.AuthHandler.PublicKey)
	users.Post("/token", loginLimit, d.AuthHandler.Login)
	users.Post("/token/refresh", d.AuthHandler.Refresh)
	users.Post("/register", d.AuthHandler.Register)
	users.Get("/me", auth, d.AuthHandler.Me)

	products := api.Group("/products")
	products.Get("/", d.ProductHandler.List)
	products.Post("/", auth, RequireStaff(), d.ProductHandler.Create)
	products.Get("/:id", d.ProductHandler.Detail)
	products.Patch("/:id", auth, RequireStaff(), d.ProductHandler.Update)
	products.Delete("/:id", auth, RequireStaff(), d.ProductHandler.Delete)

	orders := api.Group("/orders", auth)
	orders.Post("/", d.OrderHandler.Place)
	orders.Get("/", d.OrderHandler.History)
	orders.Get("/:id", d.OrderHandler.View)

	admin := api.Group("/admin", auth, RequireStaff())
	admin.Get("/orders", d.AdminHandler.Orders)
	admin.Patch("/orders/:id/status", d.AdminHandler.UpdateOrderStatus)
	admin.Get("/users", d.AdminHandler.UsersPage)
}
