package handler

import (
	"errors"

	"github.com/LHLHLHE/short-links/internal/app/service"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

func fail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(ErrorResponse{Error: message})
}

// respondError maps service errors onto HTTP statuses. Unknown errors are
// logged and reported as 500 without leaking details.
func respondError(c *fiber.Ctx, logger *zap.Logger, err error, msg string) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return fail(c, fiber.StatusNotFound, "short link not found")
	case errors.Is(err, service.ErrNotOwner):
		return fail(c, fiber.StatusForbidden, "you are not the owner of this link")
	case errors.Is(err, service.ErrAliasConflict):
		return fail(c, fiber.StatusConflict, "link with this alias already exists")
	case errors.Is(err, service.ErrGenerationExhausted):
		return fail(c, fiber.StatusServiceUnavailable, "cannot generate short code, try again")
	case errors.Is(err, service.ErrInvalidURL):
		return fail(c, fiber.StatusBadRequest, "original_url must be an absolute http(s) url")
	case errors.Is(err, service.ErrInvalidAlias):
		return fail(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrInvalidExpiry):
		return fail(c, fiber.StatusBadRequest, "expires_at must be later than the current minute")
	case errors.Is(err, service.ErrMissingRequestContext):
		return fail(c, fiber.StatusBadRequest, "cannot build short link for this request")
	case errors.Is(err, service.ErrUsernameTaken):
		return fail(c, fiber.StatusConflict, "username already registered")
	case errors.Is(err, service.ErrInvalidUser):
		return fail(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrInvalidToken):
		return fail(c, fiber.StatusUnauthorized, err.Error())
	}

	logger.Error(msg, zap.Error(err), zap.String("path", c.Path()))
	return fail(c, fiber.StatusInternalServerError, "internal server error")
}
