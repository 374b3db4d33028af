package threshold

import (
	"backend-tagmap/internal/auth"
	"backend-tagmap/internal/domain"
	"backend-tagmap/internal/shared/httperr"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, s *State, authMiddleware fiber.Handler) {
	r.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"archivedThreshold": s.Get()})
	})

	r.Put("/", authMiddleware, func(c *fiber.Ctx) error {
		var body struct {
			ArchivedThreshold int `json:"archivedThreshold"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		err := s.Set(c.UserContext(), body.ArchivedThreshold, auth.CallerFrom(c))
		degraded := domain.IsDegraded(err)
		if err != nil && !degraded {
			return httperr.From(err)
		}
		if degraded {
			c.Set("X-Notification-Degraded", "true")
		}
		return c.JSON(fiber.Map{"archivedThreshold": s.Get(), "degraded": degraded})
	})
}
