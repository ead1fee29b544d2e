package engine

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"forge-backend/internal/metadata"
)

// Handler exposes one provider per configured entity over HTTP. Entities
// without a provider are not routable at all.
type Handler struct {
	providers map[string]*Provider
}

func NewHandler(providers []*Provider) *Handler {
	byName := make(map[string]*Provider, len(providers))
	for _, p := range providers {
		byName[p.Entity().Name] = p
	}
	return &Handler{providers: byName}
}

func (h *Handler) resolveProvider(c *fiber.Ctx) (*Provider, error) {
	name := c.Params("entity")
	p, ok := h.providers[name]
	if !ok {
		// Must return the error itself, not respondError: respondError
		// returns nil after writing, and callers gate on err != nil.
		return nil, NewAppError("UNKNOWN_ENTITY", 404, "Unknown entity: "+name)
	}
	return p, nil
}

func getAuth(c *fiber.Ctx) *metadata.AuthContext {
	auth, _ := c.Locals("auth").(*metadata.AuthContext)
	return auth
}

func respondError(c *fiber.Ctx, appErr *AppError) error {
	return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
}

// parseListRequest maps the query string onto a ListRequest. filter is
// repeatable; unparsable page numbers fall back to the defaults.
func parseListRequest(c *fiber.Ctx) *ListRequest {
	req := &ListRequest{
		SortBy: c.Query("sort_by"),
		Search: c.Query("q"),
		Page:   1,
	}
	for _, raw := range c.Context().QueryArgs().PeekMulti("filter") {
		req.Filters = append(req.Filters, string(raw))
	}
	if page, err := strconv.Atoi(c.Query("page")); err == nil {
		req.Page = page
	}
	if size, err := strconv.Atoi(c.Query("page_size")); err == nil {
		req.PageSize = size
	}
	return req
}

// List handles GET /api/:entity
func (h *Handler) List(c *fiber.Ctx) error {
	p, err := h.resolveProvider(c)
	if err != nil {
		return err
	}

	req := parseListRequest(c)
	items, total, err := p.GetList(c.Context(), getAuth(c), req)
	if err != nil {
		return err
	}
	if items == nil {
		items = []map[string]any{}
	}
	return c.JSON(fiber.Map{
		"data": items,
		"meta": fiber.Map{
			"page":      req.Page,
			"page_size": req.PageSize,
			"total":     total,
		},
	})
}

// GetByID handles GET /api/:entity/:id
func (h *Handler) GetByID(c *fiber.Ctx) error {
	p, err := h.resolveProvider(c)
	if err != nil {
		return err
	}
	item, err := p.GetItem(c.Context(), getAuth(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": item})
}

// Create handles POST /api/:entity
func (h *Handler) Create(c *fiber.Ctx) error {
	p, err := h.resolveProvider(c)
	if err != nil {
		return err
	}

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return respondError(c, NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body"))
	}
	item, err := p.CreateItem(c.Context(), getAuth(c), body)
	if err != nil {
		return err
	}
	return c.Status(201).JSON(fiber.Map{"data": item})
}

// Update handles PUT (full) and PATCH (partial) /api/:entity/:id
func (h *Handler) Update(c *fiber.Ctx) error {
	p, err := h.resolveProvider(c)
	if err != nil {
		return err
	}

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return respondError(c, NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body"))
	}
	isPartial := c.Method() == fiber.MethodPatch
	item, err := p.UpdateItem(c.Context(), getAuth(c), c.Params("id"), body, isPartial)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": item})
}

// Delete handles DELETE /api/:entity/:id
func (h *Handler) Delete(c *fiber.Ctx) error {
	p, err := h.resolveProvider(c)
	if err != nil {
		return err
	}
	item, err := p.DeleteItem(c.Context(), getAuth(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": item})
}

// ErrorHandler is the fiber app-level error handler: classified errors keep
// their status and shape, anything else becomes an opaque 500.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Status >= 500 {
			logrus.WithFields(logrus.Fields{
				"code": appErr.Code,
				"path": c.Path(),
			}).Error(appErr.Message)
		}
		return respondError(c, appErr)
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(ErrorResponse{
			Error: NewAppError("HTTP_ERROR", fiberErr.Code, fiberErr.Message),
		})
	}
	logrus.WithFields(logrus.Fields{"path": c.Path()}).WithError(err).Error("unhandled error")
	return c.Status(500).JSON(ErrorResponse{
		Error: NewAppError("INTERNAL", 500, "Internal server error"),
	})
}
