package listing

import (
	"fmt"
	"strconv"
	"strings"

	"backend-tagmap/internal/domain"
	"backend-tagmap/internal/shared/httperr"

	"github.com/gofiber/fiber/v2"
)

// RegisterTagRoutes mounts the listing routes on the /tags group.
func RegisterTagRoutes(r fiber.Router, svc *Service) {
	r.Get("/", func(c *fiber.Ctx) error {
		page, err := pageFrom(c)
		if err != nil {
			return httperr.From(err)
		}
		res, err := svc.ListUnarchived(c.UserContext(), page)
		if err != nil {
			return httperr.From(err)
		}
		return c.JSON(res)
	})

	r.Get("/nearby", func(c *fiber.Ctx) error {
		page, err := pageFrom(c)
		if err != nil {
			return httperr.From(err)
		}
		lat, err := floatQuery(c, "lat", 0, true)
		if err != nil {
			return httperr.From(err)
		}
		lng, err := floatQuery(c, "lng", 0, true)
		if err != nil {
			return httperr.From(err)
		}
		radius, err := floatQuery(c, "radiusKm", 1, false)
		if err != nil {
			return httperr.From(err)
		}
		res, err := svc.Nearby(c.UserContext(), lat, lng, radius, page)
		if err != nil {
			return httperr.From(err)
		}
		return c.JSON(res)
	})
}

// RegisterUserRoutes mounts the contribution history on the /users group.
func RegisterUserRoutes(r fiber.Router, svc *Service) {
	r.Get("/:uid/tags", func(c *fiber.Ctx) error {
		page, err := pageFrom(c)
		if err != nil {
			return httperr.From(err)
		}
		res, err := svc.UserHistory(c.UserContext(), c.Params("uid"), page)
		if err != nil {
			return httperr.From(err)
		}
		return c.JSON(res)
	})
}

func pageFrom(c *fiber.Ctx) (Page, error) {
	p := Page{Cursor: c.Query("cursor")}
	if raw := strings.TrimSpace(c.Query("pageSize")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return Page{}, fmt.Errorf("%w: pageSize must be a positive integer", domain.ErrValidation)
		}
		p.PageSize = n
	}
	return p, nil
}

func floatQuery(c *fiber.Ctx, key string, def float64, required bool) (float64, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		if required {
			return 0, fmt.Errorf("%w: %s is required", domain.ErrValidation, key)
		}
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s is not a number", domain.ErrValidation, key)
	}
	return v, nil
}
