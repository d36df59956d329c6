package importer

import (
	"github.com/gofiber/fiber/v2"

	"adminpanel/internal/engine"
	"adminpanel/internal/metadata"
)

type Handler struct {
	registry  *metadata.Registry
	committer *Committer
}

func NewHandler(reg *metadata.Registry, committer *Committer) *Handler {
	return &Handler{registry: reg, committer: committer}
}

// RegisterRoutes must run before the dynamic entity routes.
func RegisterRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	g := app.Group("/api/:entity/import", middleware...)
	g.Post("/parse", h.Parse)
	g.Post("/preview", h.Preview)
	g.Post("/commit", h.Commit)
}

type parseRequest struct {
	Text string `json:"text"`
	Options
}

// Parse handles POST /api/:entity/import/parse
func (h *Handler) Parse(c *fiber.Ctx) error {
	if _, _, err := h.resolveEntity(c); err != nil {
		return err
	}
	var body parseRequest
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}
	parsed, err := Parse(body.Text, body.Options)
	if err != nil {
		return engine.InvalidPayloadError(err.Error())
	}
	return c.JSON(fiber.Map{"data": parsed})
}

type previewRequest struct {
	Parsed  *Parsed `json:"parsed"`
	Mapping Mapping `json:"mapping"`
}

// Preview handles POST /api/:entity/import/preview. It maps and
// deduplicates without writing anything.
func (h *Handler) Preview(c *fiber.Ctx) error {
	_, entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	var body previewRequest
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}
	if body.Parsed == nil {
		return engine.InvalidPayloadError("parsed is required")
	}
	if err := CheckProperties(entity, body.Mapping); err != nil {
		return err
	}

	rows, err := Map(body.Parsed, body.Mapping)
	if err != nil {
		return err
	}
	kept, duplicates := Dedupe(rows)
	return c.JSON(fiber.Map{
		"data": kept,
		"meta": fiber.Map{"total": len(rows), "duplicates": duplicates},
	})
}

type commitRequest struct {
	Rows []*ImportRow `json:"rows"`
}

// Commit handles POST /api/:entity/import/commit. The rows come back with
// their outcome so the client can resubmit only the failures.
func (h *Handler) Commit(c *fiber.Ctx) error {
	rc, entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	var body commitRequest
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}
	if len(body.Rows) == 0 {
		return engine.InvalidPayloadError("rows are required")
	}
	for _, r := range body.Rows {
		if r == nil {
			return engine.InvalidPayloadError("rows must be objects")
		}
	}

	if err := CheckProperties(entity, MappingOf(body.Rows)); err != nil {
		return err
	}

	summary := h.committer.Commit(c.UserContext(), rc, entity, body.Rows)
	return c.JSON(fiber.Map{"data": body.Rows, "meta": summary})
}

func (h *Handler) resolveEntity(c *fiber.Ctx) (*metadata.RequestContext, *metadata.Entity, error) {
	rc := engine.GetRequestContext(c)
	if rc == nil {
		return nil, nil, engine.UnauthorizedError("Authentication required")
	}
	slug := c.Params("entity")
	entity := h.registry.Resolve(rc.TenantID, slug)
	if entity == nil || (rc.IsAPIKey() && !entity.HasAPI) || (!entity.Active && !rc.IsSuperAdmin) {
		return nil, nil, engine.UnknownEntityError(slug)
	}
	return rc, entity, nil
}
