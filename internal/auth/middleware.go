package auth

import (
	"strings"

	"backend-tagmap/internal/domain"

	"github.com/gofiber/fiber/v2"
)

const callerLocal = "caller"

// JWTMiddleware rejects requests without a valid bearer token and stores the
// caller in locals.
func JWTMiddleware(v *Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		caller, err := v.VerifyCaller(bearerFromHeader(c.Get("Authorization")))
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}
		c.Locals(callerLocal, caller)
		c.Locals("user_id", caller.UID)
		return c.Next()
	}
}

// OptionalMiddleware lets anonymous requests through as a guest caller. A
// token that is present but invalid is still rejected.
func OptionalMiddleware(v *Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if strings.TrimSpace(header) == "" {
			c.Locals(callerLocal, domain.Caller{})
			return c.Next()
		}
		caller, err := v.VerifyCaller(bearerFromHeader(header))
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}
		c.Locals(callerLocal, caller)
		c.Locals("user_id", caller.UID)
		return c.Next()
	}
}

// CallerFrom returns the caller stored by one of the middlewares, or a guest.
func CallerFrom(c *fiber.Ctx) domain.Caller {
	if caller, ok := c.Locals(callerLocal).(domain.Caller); ok {
		return caller
	}
	return domain.Caller{}
}

func bearerFromHeader(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
