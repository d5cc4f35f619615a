package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"storefront/internal/apperr"
	applog "storefront/internal/log"
)

const internalMessage = "Something went wrong. Please try again."

var codeStatus = map[apperr.Code]int{
	apperr.CodeInvalidRequest:    fiber.StatusBadRequest,
	apperr.CodeMalformedInput:    fiber.StatusBadRequest,
	apperr.CodeDecryptionFailed:  fiber.StatusUnauthorized,
	apperr.CodeUnauthenticated:   fiber.StatusUnauthorized,
	apperr.CodeForbidden:         fiber.StatusForbidden,
	apperr.CodeNotFound:          fiber.StatusNotFound,
	apperr.CodeConflict:          fiber.StatusBadRequest,
	apperr.CodeInsufficientStock: fiber.StatusBadRequest,
	apperr.CodeRateLimited:       fiber.StatusTooManyRequests,
}

func detail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"detail": msg})
}

// fail answers coded errors directly and hands everything else to the
// app's ErrorHandler, which never shows the cause to the client.
func fail(c *fiber.Ctx, err error) error {
	if status, ok := codeStatus[apperr.CodeOf(err)]; ok {
		return detail(c, status, apperr.Message(err))
	}
	return err
}

// ErrorHandler is the app-wide fallback. Fiber errors below 500 keep their
// message; anything else is logged with the request id and answered with an
// opaque body.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) && fe.Code < fiber.StatusInternalServerError {
		return detail(c, fe.Code, fe.Message)
	}
	if status, ok := codeStatus[apperr.CodeOf(err)]; ok {
		return detail(c, status, apperr.Message(err))
	}
	applog.Error(c, "server.error", err, nil)
	return detail(c, fiber.StatusInternalServerError, internalMessage)
}

// NotFound is mounted last and catches unknown routes.
func NotFound(c *fiber.Ctx) error {
	return detail(c, fiber.StatusNotFound, "Not Found")
}

func badJSON(c *fiber.Ctx) error {
	applog.Security(c, "validation.fail", map[string]any{"reason": "bad_json"})
	return detail(c, fiber.StatusBadRequest, "Invalid JSON body")
}
