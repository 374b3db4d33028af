package tag

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"backend-tagmap/internal/auth"

	"github.com/gofiber/fiber/v2"
)

const testSecret = "tag-secret"

func newTagApp(t *testing.T, f *fixture) *fiber.App {
	t.Helper()
	v := auth.NewVerifier(testSecret)
	app := fiber.New()
	RegisterRoutes(app.Group("/tags"), f.engine, auth.OptionalMiddleware(v), auth.JWTMiddleware(v))
	return app
}

func bearer(t *testing.T, uid string) string {
	t.Helper()
	token, err := auth.SignToken([]byte(testSecret), uid, time.Minute)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return "Bearer " + token
}

func doJSON(t *testing.T, app *fiber.App, method, path, authz string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

type createdBody struct {
	Tag struct {
		ID     string `json:"id"`
		Status struct {
			StatusName string `json:"statusName"`
		} `json:"status"`
	} `json:"tag"`
	UploadURLs []string `json:"imageUploadUrls"`
}

func TestTagHandlersLifecycle(t *testing.T) {
	f := newFixture(t)
	app := newTagApp(t, f)

	in := facility()
	in.ImageUploadNumber = 1
	resp := doJSON(t, app, http.MethodPost, "/tags/", bearer(t, "u1"), in)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status: %d", resp.StatusCode)
	}
	var created createdBody
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Tag.ID == "" || created.Tag.Status.StatusName != "pending" || len(created.UploadURLs) != 1 {
		t.Fatalf("unexpected create body: %+v", created)
	}
	id := created.Tag.ID

	resp = doJSON(t, app, http.MethodGet, "/tags/"+id, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status: %d", resp.StatusCode)
	}

	floor := 3
	resp = doJSON(t, app, http.MethodPatch, "/tags/"+id, bearer(t, "u1"), UpdateInput{Floor: &floor})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status: %d", resp.StatusCode)
	}

	resp = doJSON(t, app, http.MethodPost, "/tags/"+id+"/votes", bearer(t, "u2"), map[string]string{"action": "upvote"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("vote status: %d", resp.StatusCode)
	}
	var vote VoteResult
	if err := json.NewDecoder(resp.Body).Decode(&vote); err != nil {
		t.Fatalf("decode vote: %v", err)
	}
	if vote.Count != 1 || !vote.HasVoted {
		t.Fatalf("unexpected vote: %+v", vote)
	}

	resp = doJSON(t, app, http.MethodGet, "/tags/"+id+"/votes", bearer(t, "u2"), nil)
	var state struct {
		Count    int  `json:"count"`
		HasVoted bool `json:"hasVoted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.Count != 1 || !state.HasVoted {
		t.Fatalf("unexpected state: %+v", state)
	}

	resp = doJSON(t, app, http.MethodPost, "/tags/"+id+"/status", bearer(t, "u1"), map[string]any{"statusName": "archived", "description": "stale"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status status: %d", resp.StatusCode)
	}
	if resp.Header.Get(degradedHeader) != "" {
		t.Fatalf("healthy publish must not be degraded")
	}

	resp = doJSON(t, app, http.MethodGet, "/tags/"+id+"/status", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("current status: %d", resp.StatusCode)
	}
	var current struct {
		StatusName  string `json:"statusName"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&current); err != nil {
		t.Fatalf("decode current: %v", err)
	}
	if current.StatusName != "archived" || current.Description != "stale" {
		t.Fatalf("unexpected current status: %+v", current)
	}

	resp = doJSON(t, app, http.MethodPost, "/tags/"+id+"/votes/reset", bearer(t, "u1"), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset status: %d", resp.StatusCode)
	}

	resp = doJSON(t, app, http.MethodPost, "/tags/"+id+"/views", "", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("views status: %d", resp.StatusCode)
	}
}

func TestTagHandlersErrors(t *testing.T) {
	f := newFixture(t)
	app := newTagApp(t, f)
	tag := f.create(t)

	cases := []struct {
		name   string
		method string
		path   string
		authz  string
		body   any
		want   int
	}{
		{"create without token", http.MethodPost, "/tags/", "", facility(), http.StatusUnauthorized},
		{"create invalid", http.MethodPost, "/tags/", bearer(t, "u1"), CreateInput{LocationName: "x"}, http.StatusBadRequest},
		{"missing tag", http.MethodGet, "/tags/ghost", "", nil, http.StatusNotFound},
		{"status of missing tag", http.MethodGet, "/tags/ghost/status", "", nil, http.StatusNotFound},
		{"unknown status", http.MethodPost, "/tags/" + tag.ID + "/status", bearer(t, "u1"), map[string]string{"statusName": "deleted"}, http.StatusBadRequest},
		{"unknown action", http.MethodPost, "/tags/" + tag.ID + "/votes", bearer(t, "u1"), map[string]string{"action": "boost"}, http.StatusBadRequest},
		{"vote on missing tag", http.MethodPost, "/tags/ghost/votes", bearer(t, "u1"), map[string]string{"action": "upvote"}, http.StatusNotFound},
		{"reset without token", http.MethodPost, "/tags/" + tag.ID + "/votes/reset", "", nil, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		resp := doJSON(t, app, tc.method, tc.path, tc.authz, tc.body)
		if resp.StatusCode != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, resp.StatusCode)
		}
	}
}

func TestTagHandlersDegradedHeader(t *testing.T) {
	f := newFixture(t)
	f.pub.fail = errors.New("bus down")
	app := newTagApp(t, f)

	resp := doJSON(t, app, http.MethodPost, "/tags/", bearer(t, "u1"), facility())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status: %d", resp.StatusCode)
	}
	if resp.Header.Get(degradedHeader) != "true" {
		t.Fatalf("expected degraded header")
	}
}
