package engine

import (
	"github.com/gofiber/fiber/v2"

	"adminpanel/internal/metadata"
)

type stepView struct {
	metadata.WorkflowStep
	Allowed bool `json:"allowed"`
}

func (h *Handler) nextSteps(rc *metadata.RequestContext, entity *metadata.Entity, row *Row) []stepView {
	steps := h.workflow.NextSteps(entity, row)
	views := make([]stepView, 0, len(steps))
	for _, s := range steps {
		views = append(views, stepView{WorkflowStep: s, Allowed: CanPerform(rc, s)})
	}
	return views
}

// ListTransitions handles GET /api/:entity/:id/transitions
func (h *Handler) ListTransitions(c *fiber.Ctx) error {
	rc, entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	row, _, err := h.rows.Get(c.UserContext(), rc, entity, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"state":    row.WorkflowState,
		"terminal": row.WorkflowState != "" && entity.IsTerminal(row.WorkflowState),
		"steps":    h.nextSteps(rc, entity, row),
	}})
}

// Transition handles POST /api/:entity/:id/transitions
func (h *Handler) Transition(c *fiber.Ctx) error {
	rc, entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	var body struct {
		Action string `json:"action"`
	}
	if err := c.BodyParser(&body); err != nil || body.Action == "" {
		return InvalidPayloadError("action is required")
	}

	row, _, err := h.rows.Require(c.UserContext(), rc, entity, c.Params("id"), OpUpdate)
	if err != nil {
		return err
	}
	t, err := h.workflow.PerformTransition(c.UserContext(), rc, entity, row, body.Action)
	if err != nil {
		if wfErr := workflowAppError(err); wfErr != nil {
			return wfErr
		}
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"transition": t,
		"row":        RowToMap(entity, row),
	}})
}

// SetState handles PUT /api/:entity/:id/state
func (h *Handler) SetState(c *fiber.Ctx) error {
	rc, entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	if !rc.IsSuperAdmin {
		return ForbiddenError("Only super admins can set the workflow state")
	}
	var body struct {
		State string `json:"state"`
	}
	if err := c.BodyParser(&body); err != nil || body.State == "" {
		return InvalidPayloadError("state is required")
	}

	row, _, err := h.rows.Get(c.UserContext(), rc, entity, c.Params("id"))
	if err != nil {
		return err
	}
	t, err := h.workflow.SetState(c.UserContext(), rc, entity, row, body.State)
	if err != nil {
		if wfErr := workflowAppError(err); wfErr != nil {
			return wfErr
		}
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"transition": t,
		"row":        RowToMap(entity, row),
	}})
}
