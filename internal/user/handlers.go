package user

import (
	"backend-tagmap/internal/auth"
	"backend-tagmap/internal/shared/httperr"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, dir Directory, authMiddleware fiber.Handler) {
	r.Get("/guide", authMiddleware, func(c *fiber.Ctx) error {
		caller := auth.CallerFrom(c)
		if err := caller.RequireLogin(); err != nil {
			return httperr.From(err)
		}
		read, err := dir.HasReadGuide(c.UserContext(), caller.UID)
		if err != nil {
			return httperr.From(err)
		}
		return c.JSON(fiber.Map{"hasReadGuide": read})
	})

	r.Put("/guide", authMiddleware, func(c *fiber.Ctx) error {
		caller := auth.CallerFrom(c)
		if err := caller.RequireLogin(); err != nil {
			return httperr.From(err)
		}
		if err := dir.SetHasReadGuide(c.UserContext(), caller.UID); err != nil {
			return httperr.From(err)
		}
		return c.JSON(fiber.Map{"hasReadGuide": true})
	})
}
