package engine

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"adminpanel/internal/activity"
	"adminpanel/internal/metadata"
	"adminpanel/internal/store"
)

// requireSharing loads a row whose sharing the caller may manage: its owner
// or a super admin.
func (h *Handler) requireSharing(ctx context.Context, rc *metadata.RequestContext, entity *metadata.Entity, id string) (*Row, error) {
	row, perm, err := h.rows.Get(ctx, rc, entity, id)
	if err != nil {
		return nil, err
	}
	if !perm.IsOwner && !rc.IsSuperAdmin {
		return nil, ForbiddenError("Only the owner can manage sharing of this row")
	}
	return row, nil
}

// MyPermission handles GET /api/:entity/:id/permissions/me
func (h *Handler) MyPermission(c *fiber.Ctx) error {
	rc, entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	_, perm, err := h.rows.Get(c.UserContext(), rc, entity, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": perm})
}

// ListPermissions handles GET /api/:entity/:id/permissions
func (h *Handler) ListPermissions(c *fiber.Ctx) error {
	rc, entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	row, err := h.requireSharing(c.UserContext(), rc, entity, c.Params("id"))
	if err != nil {
		return err
	}
	grants, err := h.perms.Grants(c.UserContext(), row.ID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": grants})
}

// Share handles POST /api/:entity/:id/permissions
func (h *Handler) Share(c *fiber.Ctx) error {
	rc, entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	var body struct {
		SubjectType string `json:"subjectType"`
		SubjectID   string `json:"subjectId"`
		Access      string `json:"access"`
	}
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayloadError("Invalid JSON body")
	}
	access, err := ParseAccessLevel(body.Access)
	if err != nil {
		return InvalidPayloadError(err.Error())
	}

	row, err := h.requireSharing(c.UserContext(), rc, entity, c.Params("id"))
	if err != nil {
		return err
	}
	grant, err := h.perms.Share(c.UserContext(), row, SubjectType(body.SubjectType), body.SubjectID, access)
	if err != nil {
		return err
	}

	h.recordSharing(rc, entity, row, activity.ActionShared, grant)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": grant})
}

// SetAccess handles PUT /api/:entity/:id/permissions/:grantId
func (h *Handler) SetAccess(c *fiber.Ctx) error {
	rc, entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	var body struct {
		Access string `json:"access"`
	}
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayloadError("Invalid JSON body")
	}
	access, err := ParseAccessLevel(body.Access)
	if err != nil {
		return InvalidPayloadError(err.Error())
	}

	row, err := h.requireSharing(c.UserContext(), rc, entity, c.Params("id"))
	if err != nil {
		return err
	}
	grantID := c.Params("grantId")
	if err := h.perms.SetAccess(c.UserContext(), row.ID, grantID, access); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError("permission", grantID)
		}
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": grantID, "access": access}})
}

// DeletePermission handles DELETE /api/:entity/:id/permissions/:grantId
func (h *Handler) DeletePermission(c *fiber.Ctx) error {
	rc, entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	row, err := h.requireSharing(c.UserContext(), rc, entity, c.Params("id"))
	if err != nil {
		return err
	}
	grantID := c.Params("grantId")
	if err := h.perms.DeleteGrant(c.UserContext(), row.ID, grantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError("permission", grantID)
		}
		return err
	}

	h.recordSharing(rc, entity, row, activity.ActionUnshared, &Grant{ID: grantID})
	return c.JSON(fiber.Map{"data": fiber.Map{"id": grantID}})
}

func (h *Handler) recordSharing(rc *metadata.RequestContext, entity *metadata.Entity, row *Row, action string, g *Grant) {
	details := map[string]any{"grantId": g.ID}
	if g.SubjectType != "" {
		details["subjectType"] = g.SubjectType
		details["subjectId"] = g.SubjectID
		details["access"] = g.Access
	}
	h.activity.Record(activity.Entry{
		TenantID: row.TenantID,
		EntityID: entity.ID,
		RowID:    row.ID,
		Action:   action,
		UserID:   rc.UserID,
		APIKeyID: rc.APIKeyID,
		Details:  details,
	})
}
