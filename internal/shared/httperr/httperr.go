// Package httperr maps domain errors onto fiber errors.
package httperr

import (
	"errors"

	"backend-tagmap/internal/domain"

	"github.com/gofiber/fiber/v2"
)

func Status(err error) int {
	var fe *fiber.Error
	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, domain.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrAuthentication):
		return fiber.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return fiber.StatusForbidden
	default:
		return fiber.StatusInternalServerError
	}
}

// From converts err into a *fiber.Error. Internal errors get a generic message.
func From(err error) error {
	if err == nil {
		return nil
	}
	status := Status(err)
	if status == fiber.StatusInternalServerError {
		return fiber.NewError(status, "internal error")
	}
	return fiber.NewError(status, err.Error())
}
