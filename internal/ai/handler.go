package ai

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"adminpanel/internal/engine"
)

// Completer is the part of Client the HTTP handler needs.
type Completer interface {
	Complete(ctx context.Context, req Request) ([]string, error)
	CompleteAll(ctx context.Context, reqs []Request) []Result
}

type Handler struct {
	client Completer
}

func NewHandler(client Completer) *Handler {
	return &Handler{client: client}
}

func RegisterRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	g := app.Group("/api/_ai", middleware...)
	g.Post("/completions", h.Completions)
}

// Completions handles POST /api/_ai/completions. The body is a single
// Request, or {"requests": [...]} for a batch answered in request order.
func (h *Handler) Completions(c *fiber.Ctx) error {
	rc := engine.GetRequestContext(c)
	if rc == nil {
		return engine.UnauthorizedError("Authentication required")
	}
	if !rc.IsSuperAdmin {
		return engine.ForbiddenError("Super admin access required")
	}

	var body struct {
		Request
		Requests []Request `json:"requests"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}

	if len(body.Requests) > 0 {
		return c.JSON(fiber.Map{"data": h.client.CompleteAll(c.UserContext(), body.Requests)})
	}
	if body.Prompt == "" {
		return engine.InvalidPayloadError("prompt is required")
	}

	completions, err := h.client.Complete(c.UserContext(), body.Request)
	if err != nil {
		return engine.NewAppError("AI_ERROR", fiber.StatusBadGateway, err.Error())
	}
	return c.JSON(fiber.Map{"data": Result{Completions: completions}})
}
