package admin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"adminpanel/internal/engine"
	"adminpanel/internal/metadata"
	"adminpanel/internal/store"
)

// ListEntities handles GET /api/_admin/entities. ?tenantId= narrows the list
// to the global entities plus that tenant's own.
func (h *Handler) ListEntities(c *fiber.Ctx) error {
	var entities []*metadata.Entity
	if tenantID := c.Query("tenantId"); tenantID != "" {
		entities = h.registry.ForTenant(tenantID)
	} else {
		entities = h.registry.All()
	}
	if entities == nil {
		entities = []*metadata.Entity{}
	}
	return c.JSON(fiber.Map{"data": entities})
}

func (h *Handler) GetEntity(c *fiber.Ctx) error {
	id := c.Params("id")
	entity := h.registry.GetByID(id)
	if entity == nil {
		return engine.NotFoundError("entity", id)
	}
	return c.JSON(fiber.Map{"data": entity})
}

func (h *Handler) CreateEntity(c *fiber.Ctx) error {
	var entity metadata.Entity
	if err := c.BodyParser(&entity); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}
	entity.ID = uuid.New().String()

	metadata.PrepareEntity(&entity, nil)
	if err := h.validate(&entity); err != nil {
		return err
	}

	def, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshal entity: %w", err)
	}
	_, err = store.Exec(c.UserContext(), h.store.Q(),
		"INSERT INTO _entities (id, tenant_id, name, slug, definition) VALUES ($1, $2, $3, $4, $5)",
		entity.ID, entity.TenantID, entity.Name, entity.Slug, string(def))
	if err != nil {
		return fmt.Errorf("insert entity %s: %w", entity.Name, err)
	}

	if err := h.reload(c.UserContext()); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": h.registry.GetByID(entity.ID)})
}

// UpdateEntity handles PUT /api/_admin/entities/:id. The body replaces the
// definition; default properties must still be present.
func (h *Handler) UpdateEntity(c *fiber.Ctx) error {
	id := c.Params("id")
	existing := h.registry.GetByID(id)
	if existing == nil {
		return engine.NotFoundError("entity", id)
	}

	var entity metadata.Entity
	if err := c.BodyParser(&entity); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}
	entity.ID = existing.ID
	entity.TenantID = existing.TenantID

	metadata.PrepareEntity(&entity, existing)
	if err := metadata.CheckDefaultPropertiesKept(existing, &entity); err != nil {
		return engine.NewAppError("VALIDATION_FAILED", fiber.StatusBadRequest, err.Error())
	}
	if err := h.validate(&entity); err != nil {
		return err
	}

	ctx := c.UserContext()
	if err := h.checkStatesInUse(ctx, existing, &entity); err != nil {
		return err
	}

	def, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshal entity: %w", err)
	}
	_, err = store.Exec(ctx, h.store.Q(),
		"UPDATE _entities SET name = $1, slug = $2, definition = $3, updated_at = "+h.store.Dialect.NowExpr()+" WHERE id = $4",
		entity.Name, entity.Slug, string(def), entity.ID)
	if err != nil {
		return fmt.Errorf("update entity %s: %w", entity.Name, err)
	}

	if err := h.reload(ctx); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.registry.GetByID(entity.ID)})
}

// DeleteEntity refuses to drop an entity that still has rows.
func (h *Handler) DeleteEntity(c *fiber.Ctx) error {
	id := c.Params("id")
	if h.registry.GetByID(id) == nil {
		return engine.NotFoundError("entity", id)
	}
	ctx := c.UserContext()

	count, err := store.QueryRow(ctx, h.store.Q(), "SELECT COUNT(*) AS n FROM _rows WHERE entity_id = $1", id)
	if err != nil {
		return err
	}
	if n := store.AsInt(count["n"]); n > 0 {
		return engine.ConflictError(fmt.Sprintf("Entity still has %d rows", n))
	}

	if _, err := store.Exec(ctx, h.store.Q(), "DELETE FROM _entities WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete entity %s: %w", id, err)
	}
	if err := h.reload(ctx); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": id, "deleted": true}})
}

func (h *Handler) validate(e *metadata.Entity) error {
	if err := metadata.ValidateEntity(e); err != nil {
		return engine.NewAppError("VALIDATION_FAILED", fiber.StatusBadRequest, err.Error())
	}
	for _, child := range e.ChildEntities {
		if child != e.Name && h.registry.GetByName(e.TenantID, child) == nil {
			return engine.NewAppError("VALIDATION_FAILED", fiber.StatusBadRequest, "unknown child entity: "+child)
		}
	}
	return nil
}

// checkStatesInUse rejects removing a workflow state that rows are still in.
func (h *Handler) checkStatesInUse(ctx context.Context, existing, updated *metadata.Entity) error {
	var removed []string
	for _, s := range existing.States {
		if updated.GetState(s.Name) == nil {
			removed = append(removed, s.Name)
		}
	}
	if len(removed) == 0 {
		return nil
	}

	pb := h.store.Dialect.NewParamBuilder()
	idParam := pb.Add(existing.ID)
	in := h.store.Dialect.InExpr("workflow_state", pb, removed)
	count, err := store.QueryRow(ctx, h.store.Q(),
		"SELECT COUNT(*) AS n FROM _rows WHERE entity_id = "+idParam+" AND "+in, pb.Params()...)
	if err != nil {
		return err
	}
	if store.AsInt(count["n"]) > 0 {
		return engine.ConflictError("Rows are still in a removed workflow state")
	}
	return nil
}

func (h *Handler) reload(ctx context.Context) error {
	if err := metadata.LoadAll(ctx, h.store.Q(), h.registry, h.logger); err != nil {
		return fmt.Errorf("reload registry: %w", err)
	}
	return nil
}
