package engine

import (
	"github.com/gofiber/fiber/v2"
)

// ListRelationships handles GET /api/relationships?parentId=&childId=
func (h *Handler) ListRelationships(c *fiber.Ctx) error {
	rc := GetRequestContext(c)
	if rc == nil {
		return UnauthorizedError("Authentication required")
	}
	rels, err := h.relationships.List(c.UserContext(), rc, c.Query("parentId"), c.Query("childId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": rels})
}

// CreateRelationship handles POST /api/relationships
func (h *Handler) CreateRelationship(c *fiber.Ctx) error {
	rc := GetRequestContext(c)
	if rc == nil {
		return UnauthorizedError("Authentication required")
	}
	var body struct {
		ParentID string `json:"parentId"`
		ChildID  string `json:"childId"`
	}
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayloadError("Invalid JSON body")
	}
	rel, err := h.relationships.Create(c.UserContext(), rc, body.ParentID, body.ChildID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": rel})
}

// GetRelationship handles GET /api/relationships/:id
func (h *Handler) GetRelationship(c *fiber.Ctx) error {
	rc := GetRequestContext(c)
	if rc == nil {
		return UnauthorizedError("Authentication required")
	}
	rel, err := h.relationships.Get(c.UserContext(), rc, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": rel})
}

// DeleteRelationship handles DELETE /api/relationships/:id
func (h *Handler) DeleteRelationship(c *fiber.Ctx) error {
	rc := GetRequestContext(c)
	if rc == nil {
		return UnauthorizedError("Authentication required")
	}
	if err := h.relationships.Delete(c.UserContext(), rc, c.Params("id")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": c.Params("id")}})
}
