package transport

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/certanchor/internal/domain"
	"github.com/kursadbilgin/certanchor/internal/ledger"
	"go.uber.org/zap"
)

// StatusCode maps an error to the HTTP status it should be reported with.
func StatusCode(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, domain.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrDuplicate):
		return fiber.StatusConflict
	case errors.Is(err, ledger.ErrServiceUnavailable):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrOutcomeUnknown):
		return fiber.StatusGatewayTimeout
	}
	return fiber.StatusInternalServerError
}

func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		code := StatusCode(err)

		log := logger.Warn
		if code >= fiber.StatusInternalServerError {
			log = logger.Error
		}
		log("request error",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		)

		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}
