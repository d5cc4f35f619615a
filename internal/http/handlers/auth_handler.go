package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/mssola/useragent"

	"storefront/internal/apperr"
	"storefront/internal/credentials"
	"storefront/internal/log"
	"storefront/internal/metrics"
	"storefront/internal/services"
	"storefront/internal/tokens"
)

const (
	refreshCookie     = "refresh_token"
	refreshCookiePath = "/api/users/token/refresh"
)

type AuthHandler struct {
	Auth    *services.AuthService
	Codec   *credentials.Codec
	Metrics *metrics.Metrics
}

// GET /api/users/public-key
func (h *AuthHandler) PublicKey(c *fiber.Ctx) error {
	pem, err := h.Codec.PublicKeyPEM()
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"key": pem})
}

// POST /api/users/token
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return badJSON(c)
	}

	pair, u, err := h.Auth.Login(c.UserContext(), req.Email, req.EncryptedPassword)
	if err != nil {
		h.Metrics.LoginAttempts.WithLabelValues("failure").Inc()
		fields := clientFields(c)
		fields["email"] = req.Email
		fields["reason"] = string(apperr.CodeOf(err))
		switch apperr.CodeOf(err) {
		case apperr.CodeInvalidRequest:
			log.Security(c, "auth.login.fail", fields)
			return fail(c, err)
		case apperr.CodeMalformedInput, apperr.CodeDecryptionFailed, apperr.CodeUnauthenticated:
			// All credential failures look the same from outside.
			log.Security(c, "auth.login.fail", fields)
			return detail(c, fiber.StatusUnauthorized, services.ErrBadCreds.Error())
		}
		return err
	}

	h.Metrics.LoginAttempts.WithLabelValues("success").Inc()
	c.Locals("user", u)
	log.Audit(c, "auth.login.success", clientFields(c))
	h.setRefreshCookie(c, pair, fiber.CookieSameSiteNoneMode)
	return c.JSON(fiber.Map{"access": pair.Access})
}

// POST /api/users/token/refresh
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	pair, err := h.Auth.Refresh(c.UserContext(), c.Cookies(refreshCookie))
	if err != nil {
		h.Metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		log.Security(c, "auth.refresh.fail", map[string]any{"reason": err.Error()})
		if apperr.HasCode(err, apperr.CodeUnauthenticated) {
			return fail(c, err)
		}
		return err
	}
	h.Metrics.TokenRefreshes.WithLabelValues("success").Inc()
	h.setRefreshCookie(c, pair, fiber.CookieSameSiteLaxMode)
	return c.JSON(fiber.Map{"access": pair.Access})
}

func (h *AuthHandler) setRefreshCookie(c *fiber.Ctx, pair tokens.Pair, sameSite string) {
	c.Cookie(&fiber.Cookie{
		Name:     refreshCookie,
		Value:    pair.Refresh,
		Path:     refreshCookiePath,
		MaxAge:   int(h.Auth.Tokens.RefreshTTL() / time.Second),
		HTTPOnly: true,
		Secure:   true,
		SameSite: sameSite,
	})
}

// POST /api/users/register
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return badJSON(c)
	}
	u, err := h.Auth.Register(c.UserContext(), services.RegisterInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		log.Security(c, "auth.register.fail", map[string]any{"email": req.Email, "reason": apperr.Message(err)})
		return fail(c, err)
	}
	h.Metrics.UsersRegistered.Inc()
	c.Locals("user", u)
	log.Audit(c, "auth.register", map[string]any{"email": u.Email})
	return c.Status(fiber.StatusCreated).JSON(toUserDTO(u))
}

// GET /api/users/me
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	return c.JSON(toUserDTO(currentUser(c)))
}

// clientFields describes the caller's user agent for audit entries.
func clientFields(c *fiber.Ctx) map[string]any {
	ua := useragent.New(c.Get(fiber.HeaderUserAgent))
	browser, version := ua.Browser()
	return map[string]any{
		"browser":         browser,
		"browser_version": version,
		"os":              ua.OS(),
		"mobile":          ua.Mobile(),
		"bot":             ua.Bot(),
	}
}
