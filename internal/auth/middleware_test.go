package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
)

func TestJWTMiddleware(t *testing.T) {
	v := NewVerifier("secret")
	app := fiber.New()
	app.Get("/private", JWTMiddleware(v), func(c *fiber.Ctx) error {
		if CallerFrom(c).UID != "user-1" {
			return fiber.NewError(fiber.StatusUnauthorized)
		}
		return c.SendStatus(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	resp, _ := app.Test(req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %d", resp.StatusCode)
	}

	token, _ := SignToken([]byte("secret"), "user-1", time.Minute)
	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected ok, got %d", resp.StatusCode)
	}
}

func TestOptionalMiddleware(t *testing.T) {
	v := NewVerifier("secret")
	app := fiber.New()
	app.Get("/maybe", OptionalMiddleware(v), func(c *fiber.Ctx) error {
		caller := CallerFrom(c)
		if caller.LoggedIn {
			return c.SendString(caller.UID)
		}
		return c.SendString("guest")
	})

	req := httptest.NewRequest(http.MethodGet, "/maybe", nil)
	resp, _ := app.Test(req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("guest should pass, got %d", resp.StatusCode)
	}

	req = httptest.NewRequest(http.MethodGet, "/maybe", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("invalid token should be rejected, got %d", resp.StatusCode)
	}
}
