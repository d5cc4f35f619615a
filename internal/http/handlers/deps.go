package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"

	"storefront/internal/config"
	"storefront/internal/credentials"
	"storefront/internal/metrics"
	"storefront/internal/ratelimit"
	"storefront/internal/repos"
	"storefront/internal/services"
	"storefront/internal/tokens"
)

const tokenIssuer = "storefront"

type Deps struct {
	AuthService  *services.AuthService
	LoginLimiter *ratelimit.Limiter
	Metrics      *metrics.Metrics
	// GlobalRatePerMin feeds Fiber's fixed-window limiter; 0 disables it.
	GlobalRatePerMin int

	AuthHandler    *AuthHandler
	ProductHandler *ProductHandler
	OrderHandler   *OrderHandler
	AdminHandler   *AdminHandler
}

// NewDeps wires repos, services and handlers. limiterStore backs the login
// limiter and may be any fiber.Storage.
func NewDeps(db *sqlx.DB, cfg config.Config, codec *credentials.Codec, limiterStore fiber.Storage, m *metrics.Metrics) *Deps {
	userRepo := repos.NewUserRepo(db)
	prodRepo := repos.NewProductRepo(db)
	orderRepo := repos.NewOrderRepo(db)

	authSvc := &services.AuthService{
		Users:      userRepo,
		Codec:      codec,
		Tokens:     tokens.NewIssuer(cfg.JWTSecret, tokenIssuer, cfg.AccessTTL, cfg.RefreshTTL),
		BcryptCost: cfg.BcryptCost,
	}
	catalogSvc := services.NewCatalogService(prodRepo)
	orderSvc := services.NewOrderService(db, prodRepo, orderRepo)

	return &Deps{
		AuthService:      authSvc,
		LoginLimiter:     ratelimit.New(limiterStore, cfg.LoginRateLimit, cfg.LoginRatePeriod),
		Metrics:          m,
		GlobalRatePerMin: cfg.GlobalRatePerMin,

		AuthHandler:    &AuthHandler{Auth: authSvc, Codec: codec, Metrics: m},
		ProductHandler: &ProductHandler{Catalog: catalogSvc},
		OrderHandler:   &OrderHandler{Order: orderSvc, Metrics: m},
		AdminHandler:   &AdminHandler{OrderRepo: orderRepo, Users: userRepo},
	}
}
