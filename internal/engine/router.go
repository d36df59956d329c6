package engine

import "github.com/gofiber/fiber/v2"

// RegisterRelationshipRoutes must be registered before the dynamic entity
// routes, which would otherwise capture /api/relationships.
func RegisterRelationshipRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	rel := app.Group("/api/relationships", middleware...)
	rel.Get("/", h.ListRelationships)
	rel.Post("/", h.CreateRelationship)
	rel.Get("/:id", h.GetRelationship)
	rel.Delete("/:id", h.DeleteRelationship)
}

func RegisterDynamicRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	api := app.Group("/api", middleware...)

	api.Get("/:entity", h.List)
	api.Post("/:entity", h.Create)
	api.Get("/:entity/:id", h.GetByID)
	api.Put("/:entity/:id", h.Update)
	api.Delete("/:entity/:id", h.Delete)

	api.Get("/:entity/:id/transitions", h.ListTransitions)
	api.Post("/:entity/:id/transitions", h.Transition)
	api.Put("/:entity/:id/state", h.SetState)

	api.Get("/:entity/:id/permissions/me", h.MyPermission)
	api.Get("/:entity/:id/permissions", h.ListPermissions)
	api.Post("/:entity/:id/permissions", h.Share)
	api.Put("/:entity/:id/permissions/:grantId", h.SetAccess)
	api.Delete("/:entity/:id/permissions/:grantId", h.DeletePermission)

	api.Get("/:entity/:id/tasks", h.ListTasks)
	api.Post("/:entity/:id/tasks", h.CreateTask)
	api.Post("/:entity/:id/tasks/:taskId/toggle", h.ToggleTask)
	api.Delete("/:entity/:id/tasks/:taskId", h.DeleteTask)

	api.Post("/:entity/:id/tags", h.AddTag)
	api.Delete("/:entity/:id/tags/:tagId", h.RemoveTag)

	api.Get("/:entity/:id/logs", h.Logs)
}
