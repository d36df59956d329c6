package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"adminpanel/internal/activity"
	"adminpanel/internal/metadata"
	"adminpanel/internal/store"
)

// RequestContextKey is the fiber locals key holding the *metadata.RequestContext.
const RequestContextKey = "requestContext"

// GetRequestContext returns the caller set by the auth middleware, or nil.
func GetRequestContext(c *fiber.Ctx) *metadata.RequestContext {
	rc, _ := c.Locals(RequestContextKey).(*metadata.RequestContext)
	return rc
}

type Handler struct {
	store         *store.Store
	registry      *metadata.Registry
	rows          *RowService
	workflow      *WorkflowEngine
	perms         *PermissionService
	tasks         *TaskService
	relationships *RelationshipService
	activity      activity.Recorder
}

func NewHandler(s *store.Store, reg *metadata.Registry, rows *RowService, wf *WorkflowEngine, perms *PermissionService, rec activity.Recorder) *Handler {
	return &Handler{
		store:         s,
		registry:      reg,
		rows:          rows,
		workflow:      wf,
		perms:         perms,
		tasks:         NewTaskService(s, rows),
		relationships: NewRelationshipService(s, reg, rows),
		activity:      rec,
	}
}

// List handles GET /api/:entity
func (h *Handler) List(c *fiber.Ctx) error {
	rc, entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	params, err := ParseListParams(c, entity)
	if err != nil {
		return err
	}

	rows, total, err := h.rows.List(c.UserContext(), rc, entity, params)
	if err != nil {
		return err
	}

	data := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		data = append(data, RowToMap(entity, r))
	}
	if len(params.Includes) > 0 {
		included, err := h.rows.LoadIncludes(c.UserContext(), rc, h.registry, rows, params.Includes)
		if err != nil {
			return err
		}
		for i, r := range rows {
			for inc, linked := range included[r.ID] {
				data[i][inc] = linked
			}
		}
	}

	return c.JSON(fiber.Map{
		"data": data,
		"meta": fiber.Map{
			"page":    params.Page,
			"perPage": params.PerPage,
			"total":   total,
		},
	})
}

// GetByID handles GET /api/:entity/:id
func (h *Handler) GetByID(c *fiber.Ctx) error {
	rc, entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	includes, err := parseIncludes(c.Query("include"))
	if err != nil {
		return err
	}

	row, perm, err := h.rows.Get(c.UserContext(), rc, entity, c.Params("id"))
	if err != nil {
		return err
	}

	data := RowToMap(entity, row)
	data["permission"] = perm
	data["nextSteps"] = h.nextSteps(rc, entity, row)
	if len(includes) > 0 {
		included, err := h.rows.LoadIncludes(c.UserContext(), rc, h.registry, []*Row{row}, includes)
		if err != nil {
			return err
		}
		for inc, linked := range included[row.ID] {
			data[inc] = linked
		}
	}
	return c.JSON(fiber.Map{"data": data})
}

// Create handles POST /api/:entity
func (h *Handler) Create(c *fiber.Ctx) error {
	rc, entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	if !ownsEntity(rc, entity) {
		return ForbiddenError(fmt.Sprintf("Rows of %s can only be created in its own tenant", entity.Name))
	}

	in, err := parseRowRequest(c)
	if err != nil {
		return err
	}

	row, err := h.rows.Create(c.UserContext(), rc, entity, in)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": RowToMap(entity, row)})
}

// Update handles PUT /api/:entity/:id
func (h *Handler) Update(c *fiber.Ctx) error {
	rc, entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	in, err := parseRowRequest(c)
	if err != nil {
		return err
	}

	row, err := h.rows.Update(c.UserContext(), rc, entity, c.Params("id"), in)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": RowToMap(entity, row)})
}

// Delete handles DELETE /api/:entity/:id
func (h *Handler) Delete(c *fiber.Ctx) error {
	rc, entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	id := c.Params("id")
	if err := h.rows.Delete(c.UserContext(), rc, entity, id); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": id}})
}

// Logs handles GET /api/:entity/:id/logs
func (h *Handler) Logs(c *fiber.Ctx) error {
	rc, entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	row, _, err := h.rows.Get(c.UserContext(), rc, entity, c.Params("id"))
	if err != nil {
		return err
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	entries, err := activity.List(c.UserContext(), h.store, row.ID, limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": entries})
}

// AddTag handles POST /api/:entity/:id/tags
func (h *Handler) AddTag(c *fiber.Ctx) error {
	rc, entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	var body TagInput
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayloadError("Invalid JSON body")
	}
	tag, err := h.rows.AddTag(c.UserContext(), rc, entity, c.Params("id"), body)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": tag})
}

// RemoveTag handles DELETE /api/:entity/:id/tags/:tagId
func (h *Handler) RemoveTag(c *fiber.Ctx) error {
	rc, entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	if err := h.rows.RemoveTag(c.UserContext(), rc, entity, c.Params("id"), c.Params("tagId")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": c.Params("tagId")}})
}

// ListTasks handles GET /api/:entity/:id/tasks
func (h *Handler) ListTasks(c *fiber.Ctx) error {
	rc, entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	tasks, err := h.tasks.List(c.UserContext(), rc, entity, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": tasks})
}

// CreateTask handles POST /api/:entity/:id/tasks
func (h *Handler) CreateTask(c *fiber.Ctx) error {
	rc, entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	var body struct {
		Title string `json:"title"`
	}
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayloadError("Invalid JSON body")
	}
	task, err := h.tasks.Create(c.UserContext(), rc, entity, c.Params("id"), body.Title)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": task})
}

// ToggleTask handles POST /api/:entity/:id/tasks/:taskId/toggle
func (h *Handler) ToggleTask(c *fiber.Ctx) error {
	rc, entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	task, err := h.tasks.Toggle(c.UserContext(), rc, entity, c.Params("id"), c.Params("taskId"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": task})
}

// DeleteTask handles DELETE /api/:entity/:id/tasks/:taskId
func (h *Handler) DeleteTask(c *fiber.Ctx) error {
	rc, entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}
	if err := h.tasks.Delete(c.UserContext(), rc, entity, c.Params("id"), c.Params("taskId")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": c.Params("taskId")}})
}

// resolveEntity finds the entity routed at :entity for the caller. Entities
// without an API are invisible to API key callers.
func (h *Handler) resolveEntity(c *fiber.Ctx) (*metadata.RequestContext, *metadata.Entity, error) {
	rc := GetRequestContext(c)
	if rc == nil {
		return nil, nil, UnauthorizedError("Authentication required")
	}
	slug := c.Params("entity")
	entity := h.registry.Resolve(rc.TenantID, slug)
	if entity == nil && rc.TenantID != "" && !rc.IsAPIKey() {
		linked, err := h.resolveLinked(c.UserContext(), rc.TenantID, slug)
		if err != nil {
			return nil, nil, err
		}
		entity = linked
	}
	if entity == nil || (rc.IsAPIKey() && !entity.HasAPI) || (!entity.Active && !rc.IsSuperAdmin) {
		return nil, nil, UnknownEntityError(slug)
	}
	return rc, entity, nil
}

// resolveLinked looks the slug up among the entities of tenants linked to
// tenantID, so rows shared across a link stay reachable.
func (h *Handler) resolveLinked(ctx context.Context, tenantID, slug string) (*metadata.Entity, error) {
	recs, err := store.QueryRows(ctx, h.store.Q(),
		`SELECT member_tenant_id AS tenant_id FROM _linked_tenants WHERE core_tenant_id = $1
		 UNION
		 SELECT core_tenant_id AS tenant_id FROM _linked_tenants WHERE member_tenant_id = $1
		 ORDER BY tenant_id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load linked tenants: %w", err)
	}
	for _, rec := range recs {
		if e := h.registry.Resolve(store.AsString(rec["tenant_id"]), slug); e != nil {
			return e, nil
		}
	}
	return nil, nil
}

// ownsEntity reports whether rows of the entity may be created in the
// caller's tenant. Entities reached through a tenant link are read-through only.
func ownsEntity(rc *metadata.RequestContext, entity *metadata.Entity) bool {
	return entity.TenantID == "" || entity.TenantID == rc.TenantID
}

func parseRowRequest(c *fiber.Ctx) (RowInput, error) {
	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return RowInput{}, InvalidPayloadError("Invalid JSON body")
	}
	in, err := ParseRowBody(body)
	if err != nil {
		return RowInput{}, InvalidPayloadError(err.Error())
	}
	return in, nil
}

// ErrorHandler renders AppErrors and the engine's sentinel errors. Anything
// else is logged and reported as an internal error.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var appErr *AppError
		if errors.As(err, &appErr) {
			return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
		}
		if wfErr := workflowAppError(err); wfErr != nil {
			return c.Status(wfErr.Status).JSON(ErrorResponse{Error: wfErr})
		}
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: NewAppError("NOT_FOUND", 404, "Not found")})
		}
		if errors.Is(err, store.ErrUniqueViolation) {
			return c.Status(fiber.StatusConflict).JSON(ErrorResponse{Error: ConflictError("A record with this value already exists")})
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(ErrorResponse{Error: NewAppError("HTTP_ERROR", fiberErr.Code, fiberErr.Message)})
		}

		logger.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error: &AppError{
				Code:    "INTERNAL_ERROR",
				Status:  500,
				Message: "Internal server error",
			},
		})
	}
}
