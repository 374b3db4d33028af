package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"backend-tagmap/internal/auth"
	"backend-tagmap/internal/config"
	"backend-tagmap/internal/metrics"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testConfig() config.Config {
	return config.Config{
		JWTSecret:         "secret",
		ServerPort:        ":0",
		LogLevel:          "ERROR",
		StoreKind:         "memory",
		ArchivedThreshold: 5,
		StatusNames:       "pending,verified,archived,rejected",
		StatusChain:       "pending,verified",
		InitialStatus:     "pending",
		ArchivedStatus:    "archived",
		SubscriberBuffer:  16,
	}
}

func newTestServer(t *testing.T, cfg config.Config, rdb *redis.Client) *Server {
	t.Helper()
	s, err := NewServer(cfg, nil, rdb)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func call(t *testing.T, s *Server, method, path, uid string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if uid != "" {
		token, err := auth.SignToken([]byte(s.Cfg.JWTSecret), uid, time.Minute)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.App.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func TestHealthRoute(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	resp := call(t, s, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 status")
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["store"] != "memory" {
		t.Fatalf("expected memory store, got %q", body["store"])
	}
}

func TestNewServerRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.ArchivedThreshold = 0
	if _, err := NewServer(cfg, nil, nil); err == nil {
		t.Fatalf("expected threshold error")
	}

	cfg = testConfig()
	cfg.InitialStatus = "draft"
	if _, err := NewServer(cfg, nil, nil); err == nil {
		t.Fatalf("expected workflow error")
	}
}

func TestAuthRoutesNeedDatabase(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	resp := call(t, s, http.MethodPost, "/auth/login", "", map[string]string{"email": "a@b.c", "password": "x"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 without database, got %d", resp.StatusCode)
	}
}

func TestTagLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	resp := call(t, s, http.MethodPost, "/tags", "author", map[string]any{
		"locationName": "Library ramp",
		"category":     map[string]string{"missionName": "facility"},
		"coordinates":  map[string]string{"latitude": "25.0174", "longitude": "121.5397"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status: %d", resp.StatusCode)
	}
	var created struct {
		Tag struct {
			ID string `json:"id"`
		} `json:"tag"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id := created.Tag.ID

	for i := 1; i <= 5; i++ {
		resp = call(t, s, http.MethodPost, "/tags/"+id+"/votes", fmt.Sprintf("voter-%d", i), map[string]string{"action": "upvote"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("vote %d status: %d", i, resp.StatusCode)
		}
	}
	var vote struct {
		Count  int `json:"numberOfUpVote"`
		Status *struct {
			StatusName     string `json:"statusName"`
			NumberOfUpVote int    `json:"numberOfUpVote"`
		} `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&vote); err != nil {
		t.Fatalf("decode vote: %v", err)
	}
	if vote.Status == nil || vote.Status.StatusName != "verified" || vote.Status.NumberOfUpVote != 5 {
		t.Fatalf("expected promotion to verified, got %+v", vote)
	}

	resp = call(t, s, http.MethodGet, "/tags/nearby?lat=25.0174&lng=121.5397&radiusKm=1", "", nil)
	if got := itemCount(t, resp); got != 1 {
		t.Fatalf("expected tag nearby, got %d", got)
	}

	resp = call(t, s, http.MethodPost, "/tags/"+id+"/status", "moderator", map[string]string{"statusName": "archived", "description": "stale"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status status: %d", resp.StatusCode)
	}

	resp = call(t, s, http.MethodGet, "/tags", "", nil)
	if got := itemCount(t, resp); got != 0 {
		t.Fatalf("archived tag must not be listed, got %d", got)
	}
	resp = call(t, s, http.MethodGet, "/users/author/tags", "", nil)
	if got := itemCount(t, resp); got != 1 {
		t.Fatalf("history must keep archived tag, got %d", got)
	}

	resp = call(t, s, http.MethodGet, "/tags/"+id, "", nil)
	var full struct {
		StatusHistory []struct {
			StatusName string `json:"statusName"`
		} `json:"statusHistory"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&full); err != nil {
		t.Fatalf("decode tag: %v", err)
	}
	if len(full.StatusHistory) != 3 {
		t.Fatalf("expected 3 history records, got %d", len(full.StatusHistory))
	}

	snap := s.Metrics.Snapshot()
	if snap[metrics.Promotions] != 1 || snap[metrics.TagsCreated] != 1 {
		t.Fatalf("unexpected metrics: %v", snap)
	}
	resp = call(t, s, http.MethodGet, "/metrics", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status: %d", resp.StatusCode)
	}
}

func TestThresholdAndGuideRoutes(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)

	resp := call(t, s, http.MethodPut, "/threshold", "moderator", map[string]int{"archivedThreshold": 2})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("threshold status: %d", resp.StatusCode)
	}
	if s.Threshold.Get() != 2 {
		t.Fatalf("expected threshold 2, got %d", s.Threshold.Get())
	}

	resp = call(t, s, http.MethodPut, "/me/guide", "reader", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("guide status: %d", resp.StatusCode)
	}
	resp = call(t, s, http.MethodGet, "/me/guide", "reader", nil)
	var guide map[string]bool
	if err := json.NewDecoder(resp.Body).Decode(&guide); err != nil {
		t.Fatalf("decode guide: %v", err)
	}
	if !guide["hasReadGuide"] {
		t.Fatalf("expected guide flag")
	}
}

func TestServerWithRedisBus(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s := newTestServer(t, testConfig(), rdb)
	select {
	case <-s.Bus.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("bus did not subscribe")
	}

	resp := call(t, s, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 status")
	}
}

func itemCount(t *testing.T, resp *http.Response) int {
	t.Helper()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status: %d", resp.StatusCode)
	}
	var page struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	return len(page.Items)
}
