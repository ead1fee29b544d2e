package engine

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"

	"forge-backend/internal/metadata"
	"forge-backend/internal/store"
)

func newHandlerApp(t *testing.T, s *store.Store, auth *metadata.AuthContext) *fiber.App {
	t.Helper()
	repo := customerRepo(t, s, testRegistry(t), nil)
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("auth", auth)
		return c.Next()
	})
	RegisterRoutes(app, NewHandler([]*Provider{NewProvider(repo)}))
	return app
}

// An unknown entity must surface as a clean 404 through the app error
// handler, never as a nil provider dereference inside the route handlers.
func TestUnknownEntityIsCleanNotFound(t *testing.T) {
	s := newEngineStore(t)
	app := newHandlerApp(t, s, testAuth("x"))

	req, _ := http.NewRequest(http.MethodGet, "/api/nope", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil {
		t.Fatalf("parse body: %v", err)
	}
	if er.Error == nil || er.Error.Code != "UNKNOWN_ENTITY" {
		t.Fatalf("expected UNKNOWN_ENTITY, got %+v", er.Error)
	}

	// the write routes resolve the same way
	req, _ = http.NewRequest(http.MethodDelete, "/api/nope/some-id", nil)
	resp, err = app.Test(req, -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404 on delete, got %d", resp.StatusCode)
	}
}

func TestListMetaReportsEffectivePaging(t *testing.T) {
	s := newEngineStore(t)
	mp := seedMarketPlace(t, s, "main")
	app := newHandlerApp(t, s, testAuth(mp))

	req, _ := http.NewRequest(http.MethodGet, "/api/customer", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	var body struct {
		Meta struct {
			Page     int `json:"page"`
			PageSize int `json:"page_size"`
			Total    int `json:"total"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("parse body: %v", err)
	}
	// an omitted page_size echoes the applied default, not the raw zero
	if body.Meta.Page != 1 || body.Meta.PageSize != 25 {
		t.Fatalf("expected resolved paging 1/25, got %d/%d", body.Meta.Page, body.Meta.PageSize)
	}
}
