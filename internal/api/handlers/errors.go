package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/coherence-signal/backend/internal/coherence"
	"github.com/coherence-signal/backend/internal/reconciler"
	"github.com/coherence-signal/backend/internal/storage"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, coherence.ErrInvalidWindowFormat):
		return fiber.StatusBadRequest
	case errors.Is(err, reconciler.ErrRecomputeInProgress):
		return fiber.StatusConflict
	case errors.Is(err, storage.ErrUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func errorJSON(c *fiber.Ctx, err error, fallback string) error {
	status := statusFor(err)
	msg := fallback
	if status != fiber.StatusInternalServerError {
		msg = err.Error()
	}
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
	})
}
