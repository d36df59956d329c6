package admin

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"adminpanel/internal/metadata"
	"adminpanel/internal/store"
)

// Handler serves the platform administration API. Every route requires a
// super admin; the caller's middleware is expected to enforce it.
type Handler struct {
	store    *store.Store
	registry *metadata.Registry
	logger   *zap.Logger
}

func NewHandler(s *store.Store, reg *metadata.Registry, logger *zap.Logger) *Handler {
	return &Handler{store: s, registry: reg, logger: logger.Named("admin")}
}

func RegisterAdminRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	admin := app.Group("/api/_admin", middleware...)

	admin.Get("/entities", h.ListEntities)
	admin.Get("/entities/:id", h.GetEntity)
	admin.Post("/entities", h.CreateEntity)
	admin.Put("/entities/:id", h.UpdateEntity)
	admin.Delete("/entities/:id", h.DeleteEntity)

	admin.Get("/tenants", h.ListTenants)
	admin.Post("/tenants", h.CreateTenant)
	admin.Put("/tenants/:id", h.UpdateTenant)
	admin.Delete("/tenants/:id", h.DeleteTenant)

	admin.Get("/users", h.ListUsers)
	admin.Post("/users", h.CreateUser)
	admin.Put("/users/:id", h.UpdateUser)
	admin.Delete("/users/:id", h.DeleteUser)

	admin.Get("/tenants/:id/users", h.ListMembers)
	admin.Put("/tenants/:id/users/:userId", h.SetMember)
	admin.Delete("/tenants/:id/users/:userId", h.RemoveMember)

	admin.Get("/tenants/:id/groups", h.ListGroups)
	admin.Post("/tenants/:id/groups", h.CreateGroup)
	admin.Delete("/groups/:groupId", h.DeleteGroup)
	admin.Put("/groups/:groupId/users/:userId", h.AddGroupUser)
	admin.Delete("/groups/:groupId/users/:userId", h.RemoveGroupUser)

	admin.Get("/tenants/:id/links", h.ListLinks)
	admin.Post("/tenants/:id/links", h.CreateLink)
	admin.Delete("/links/:linkId", h.DeleteLink)

	admin.Get("/tenants/:id/api-keys", h.ListAPIKeys)
	admin.Post("/tenants/:id/api-keys", h.CreateAPIKey)
	admin.Put("/api-keys/:keyId", h.UpdateAPIKey)
	admin.Delete("/api-keys/:keyId", h.DeleteAPIKey)
}
