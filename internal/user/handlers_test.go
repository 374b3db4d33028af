package user

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"backend-tagmap/internal/auth"

	"github.com/gofiber/fiber/v2"
)

func TestGuideHandlers(t *testing.T) {
	v := auth.NewVerifier("secret")
	dir := NewMemory()
	app := fiber.New()
	RegisterRoutes(app.Group("/me"), dir, auth.JWTMiddleware(v))

	token, _ := auth.SignToken([]byte("secret"), "u1", time.Minute)

	req := httptest.NewRequest(http.MethodPut, "/me/guide", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("put guide: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/me/guide", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("get guide: %v", err)
	}
	var body struct {
		HasReadGuide bool `json:"hasReadGuide"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || !body.HasReadGuide {
		t.Fatalf("unexpected body %+v %v", body, err)
	}

	resp, _ = app.Test(httptest.NewRequest(http.MethodGet, "/me/guide", nil))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized without token, got %d", resp.StatusCode)
	}
}
