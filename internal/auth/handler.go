package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"forge-backend/internal/engine"
	"forge-backend/internal/store"
)

// Handler serves the authentication endpoints. Users and refresh tokens
// live in engine-owned underscore tables next to the application's entity
// tables.
type Handler struct {
	store     *store.Store
	jwtSecret string
}

func NewHandler(s *store.Store, jwtSecret string) *Handler {
	return &Handler{store: s, jwtSecret: jwtSecret}
}

// Bootstrap creates the auth tables.
func Bootstrap(ctx context.Context, s *store.Store) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role TEXT,
	market_place_id TEXT,
	active BOOLEAN NOT NULL DEFAULT TRUE
)`,
		`CREATE TABLE IF NOT EXISTS _refresh_tokens (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	token TEXT NOT NULL UNIQUE,
	expires_at TEXT NOT NULL
)`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create auth tables: %w", err)
		}
	}
	return nil
}

// Login handles POST /api/auth/login.
func (h *Handler) Login(c *fiber.Ctx) error {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}
	if body.Email == "" || body.Password == "" {
		return engine.UnauthorizedError("Email and password are required")
	}

	ctx := c.Context()
	user, err := h.findUserByEmail(ctx, body.Email)
	if err != nil {
		return engine.UnauthorizedError("Invalid email or password")
	}

	if !isActive(user["active"]) {
		return engine.UnauthorizedError("Account is disabled")
	}
	passwordHash, _ := user["password_hash"].(string)
	if !CheckPassword(body.Password, passwordHash) {
		return engine.UnauthorizedError("Invalid email or password")
	}

	userID, _ := user["id"].(string)
	pair, err := h.generateTokenPair(ctx, userID, scopingMetadata(user))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pair})
}

// Refresh handles POST /api/auth/refresh with token rotation.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}
	if body.RefreshToken == "" {
		return engine.UnauthorizedError("Refresh token is required")
	}

	ctx := c.Context()
	pb := h.store.Dialect.NewParamBuilder()
	row, err := store.QueryRow(ctx, h.store.DB,
		`SELECT rt.id AS token_id, rt.user_id, rt.expires_at, u.role, u.market_place_id, u.active
		 FROM _refresh_tokens rt
		 JOIN _users u ON u.id = rt.user_id
		 WHERE rt.token = `+pb.Add(body.RefreshToken), pb.Params()...)
	if err != nil {
		return engine.UnauthorizedError("Invalid refresh token")
	}

	if expired(row["expires_at"]) {
		h.deleteRefreshToken(ctx, body.RefreshToken)
		return engine.UnauthorizedError("Refresh token expired")
	}
	if !isActive(row["active"]) {
		return engine.UnauthorizedError("Account is disabled")
	}

	h.deleteRefreshToken(ctx, body.RefreshToken)

	userID, _ := row["user_id"].(string)
	pair, err := h.generateTokenPair(ctx, userID, scopingMetadata(row))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pair})
}

// Logout handles POST /api/auth/logout.
func (h *Handler) Logout(c *fiber.Ctx) error {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}
	if body.RefreshToken == "" {
		return engine.UnauthorizedError("Refresh token is required")
	}
	h.deleteRefreshToken(c.Context(), body.RefreshToken)
	return c.JSON(fiber.Map{"message": "Logged out"})
}

// RegisterRoutes mounts the auth endpoints.
func RegisterRoutes(app *fiber.App, h *Handler) {
	grp := app.Group("/api/auth")
	grp.Post("/login", h.Login)
	grp.Post("/refresh", h.Refresh)
	grp.Post("/logout", h.Logout)
}

// --- helpers ---

func (h *Handler) findUserByEmail(ctx context.Context, email string) (map[string]any, error) {
	pb := h.store.Dialect.NewParamBuilder()
	return store.QueryRow(ctx, h.store.DB,
		"SELECT id, email, password_hash, role, market_place_id, active FROM _users WHERE email = "+pb.Add(email),
		pb.Params()...)
}

func (h *Handler) deleteRefreshToken(ctx context.Context, token string) {
	pb := h.store.Dialect.NewParamBuilder()
	_, _ = store.Exec(ctx, h.store.DB,
		"DELETE FROM _refresh_tokens WHERE token = "+pb.Add(token), pb.Params()...)
}

func (h *Handler) generateTokenPair(ctx context.Context, userID string, md map[string]any) (*TokenPair, error) {
	accessToken, err := GenerateAccessToken(userID, md, h.jwtSecret)
	if err != nil {
		return nil, engine.InternalError("failed to generate access token")
	}

	refreshToken := GenerateRefreshToken()
	expiresAt := time.Now().Add(RefreshTokenTTL).UTC().Format("2006-01-02 15:04:05")

	pb := h.store.Dialect.NewParamBuilder()
	_, err = store.Exec(ctx, h.store.DB,
		"INSERT INTO _refresh_tokens (id, user_id, token, expires_at) VALUES ("+
			pb.Add(GenerateRefreshToken())+", "+pb.Add(userID)+", "+pb.Add(refreshToken)+", "+pb.Add(expiresAt)+")",
		pb.Params()...)
	if err != nil {
		return nil, engine.InternalError("failed to store refresh token")
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// scopingMetadata builds the token metadata bag from a user row.
func scopingMetadata(user map[string]any) map[string]any {
	md := make(map[string]any, 2)
	if role, ok := user["role"].(string); ok && role != "" {
		md["role"] = role
	}
	if mp := user["market_place_id"]; mp != nil {
		md["market_place"] = mp
	}
	return md
}

func isActive(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case string:
		return b == "true" || b == "1"
	default:
		return false
	}
}

func expired(v any) bool {
	switch t := v.(type) {
	case time.Time:
		return time.Now().After(t)
	case string:
		parsed, err := time.Parse("2006-01-02 15:04:05", t)
		if err != nil {
			return true
		}
		return time.Now().After(parsed)
	default:
		return true
	}
}
