package admin

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"adminpanel/internal/auth"
	"adminpanel/internal/engine"
	"adminpanel/internal/store"
)

var tenantSlugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

type Tenant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Slug   string `json:"slug"`
	Active bool   `json:"active"`
}

func tenantFromRecord(rec map[string]any) Tenant {
	return Tenant{
		ID:     store.AsString(rec["id"]),
		Name:   store.AsString(rec["name"]),
		Slug:   store.AsString(rec["slug"]),
		Active: store.AsBool(rec["active"]),
	}
}

type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	IsSuperAdmin bool   `json:"isSuperAdmin"`
	Active       bool   `json:"active"`
}

func userFromRecord(rec map[string]any) User {
	return User{
		ID:           store.AsString(rec["id"]),
		Email:        store.AsString(rec["email"]),
		FirstName:    store.AsString(rec["first_name"]),
		LastName:     store.AsString(rec["last_name"]),
		IsSuperAdmin: store.AsBool(rec["is_super_admin"]),
		Active:       store.AsBool(rec["active"]),
	}
}

// --- Tenants ---

func (h *Handler) ListTenants(c *fiber.Ctx) error {
	rows, err := store.QueryRows(c.UserContext(), h.store.Q(), "SELECT id, name, slug, active FROM _tenants ORDER BY name")
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}
	tenants := make([]Tenant, 0, len(rows))
	for _, r := range rows {
		tenants = append(tenants, tenantFromRecord(r))
	}
	return c.JSON(fiber.Map{"data": tenants})
}

func (h *Handler) CreateTenant(c *fiber.Ctx) error {
	var body struct {
		Name string `json:"name"`
		Slug string `json:"slug"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}
	t := Tenant{ID: uuid.New().String(), Name: strings.TrimSpace(body.Name), Slug: body.Slug, Active: true}
	if err := validateTenant(t); err != nil {
		return err
	}

	_, err := store.Exec(c.UserContext(), h.store.Q(),
		"INSERT INTO _tenants (id, name, slug) VALUES ($1, $2, $3)", t.ID, t.Name, t.Slug)
	if err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": t})
}

func (h *Handler) UpdateTenant(c *fiber.Ctx) error {
	id := c.Params("id")
	ctx := c.UserContext()
	rec, err := store.QueryRow(ctx, h.store.Q(), "SELECT id, name, slug, active FROM _tenants WHERE id = $1", id)
	if err != nil {
		return notFound(err, "tenant", id)
	}
	t := tenantFromRecord(rec)

	var body struct {
		Name   *string `json:"name"`
		Slug   *string `json:"slug"`
		Active *bool   `json:"active"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}
	if body.Name != nil {
		t.Name = strings.TrimSpace(*body.Name)
	}
	if body.Slug != nil {
		t.Slug = *body.Slug
	}
	if body.Active != nil {
		t.Active = *body.Active
	}
	if err := validateTenant(t); err != nil {
		return err
	}

	_, err = store.Exec(ctx, h.store.Q(),
		"UPDATE _tenants SET name = $1, slug = $2, active = $3, updated_at = "+h.store.Dialect.NowExpr()+" WHERE id = $4",
		t.Name, t.Slug, t.Active, t.ID)
	if err != nil {
		return fmt.Errorf("update tenant: %w", err)
	}
	return c.JSON(fiber.Map{"data": t})
}

// DeleteTenant removes a tenant. Its memberships, groups, links and API keys
// cascade; rows are refused so data is never dropped implicitly.
func (h *Handler) DeleteTenant(c *fiber.Ctx) error {
	id := c.Params("id")
	ctx := c.UserContext()

	count, err := store.QueryRow(ctx, h.store.Q(), "SELECT COUNT(*) AS n FROM _rows WHERE tenant_id = $1", id)
	if err != nil {
		return err
	}
	if store.AsInt(count["n"]) > 0 {
		return engine.ConflictError("Tenant still owns rows")
	}

	n, err := store.Exec(ctx, h.store.Q(), "DELETE FROM _tenants WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	if n == 0 {
		return engine.NotFoundError("tenant", id)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": id, "deleted": true}})
}

func validateTenant(t Tenant) error {
	var details []engine.ErrorDetail
	if t.Name == "" {
		details = append(details, engine.ErrorDetail{Field: "name", Rule: "required", Message: "name is required"})
	}
	if !tenantSlugPattern.MatchString(t.Slug) {
		details = append(details, engine.ErrorDetail{Field: "slug", Rule: "pattern", Message: "slug must be lowercase letters, digits and dashes"})
	}
	if len(details) > 0 {
		return engine.ValidationError(details)
	}
	return nil
}

// --- Users ---

func (h *Handler) ListUsers(c *fiber.Ctx) error {
	rows, err := store.QueryRows(c.UserContext(), h.store.Q(),
		"SELECT id, email, first_name, last_name, is_super_admin, active FROM _users ORDER BY email")
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	users := make([]User, 0, len(rows))
	for _, r := range rows {
		users = append(users, userFromRecord(r))
	}
	return c.JSON(fiber.Map{"data": users})
}

func (h *Handler) CreateUser(c *fiber.Ctx) error {
	var body struct {
		Email        string `json:"email"`
		Password     string `json:"password"`
		FirstName    string `json:"firstName"`
		LastName     string `json:"lastName"`
		IsSuperAdmin bool   `json:"isSuperAdmin"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}

	u := User{
		ID:           uuid.New().String(),
		Email:        strings.ToLower(strings.TrimSpace(body.Email)),
		FirstName:    body.FirstName,
		LastName:     body.LastName,
		IsSuperAdmin: body.IsSuperAdmin,
		Active:       true,
	}
	var details []engine.ErrorDetail
	if !strings.Contains(u.Email, "@") {
		details = append(details, engine.ErrorDetail{Field: "email", Rule: "format", Message: "a valid email is required"})
	}
	if len(body.Password) < 8 {
		details = append(details, engine.ErrorDetail{Field: "password", Rule: "minLength", Message: "password must be at least 8 characters"})
	}
	if len(details) > 0 {
		return engine.ValidationError(details)
	}

	hash, err := auth.HashPassword(body.Password)
	if err != nil {
		return err
	}
	_, err = store.Exec(c.UserContext(), h.store.Q(),
		`INSERT INTO _users (id, email, password_hash, first_name, last_name, is_super_admin)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Email, hash, u.FirstName, u.LastName, u.IsSuperAdmin)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": u})
}

func (h *Handler) UpdateUser(c *fiber.Ctx) error {
	id := c.Params("id")
	ctx := c.UserContext()
	rec, err := store.QueryRow(ctx, h.store.Q(),
		"SELECT id, email, first_name, last_name, is_super_admin, active FROM _users WHERE id = $1", id)
	if err != nil {
		return notFound(err, "user", id)
	}
	u := userFromRecord(rec)

	var body struct {
		FirstName    *string `json:"firstName"`
		LastName     *string `json:"lastName"`
		IsSuperAdmin *bool   `json:"isSuperAdmin"`
		Active       *bool   `json:"active"`
		Password     *string `json:"password"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}
	if body.FirstName != nil {
		u.FirstName = *body.FirstName
	}
	if body.LastName != nil {
		u.LastName = *body.LastName
	}
	if body.IsSuperAdmin != nil {
		u.IsSuperAdmin = *body.IsSuperAdmin
	}
	if body.Active != nil {
		u.Active = *body.Active
	}

	var hash string
	if body.Password != nil {
		if len(*body.Password) < 8 {
			return engine.ValidationError([]engine.ErrorDetail{{Field: "password", Rule: "minLength", Message: "password must be at least 8 characters"}})
		}
		if hash, err = auth.HashPassword(*body.Password); err != nil {
			return err
		}
	}

	err = h.store.WithTx(ctx, func(q store.Querier) error {
		_, err := store.Exec(ctx, q,
			`UPDATE _users SET first_name = $1, last_name = $2, is_super_admin = $3, active = $4,
			 updated_at = `+h.store.Dialect.NowExpr()+` WHERE id = $5`,
			u.FirstName, u.LastName, u.IsSuperAdmin, u.Active, u.ID)
		if err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		if hash == "" {
			return nil
		}
		if _, err := store.Exec(ctx, q, "UPDATE _users SET password_hash = $1 WHERE id = $2", hash, u.ID); err != nil {
			return err
		}
		// a new password signs the user out everywhere
		_, err = store.Exec(ctx, q, "DELETE FROM _refresh_tokens WHERE user_id = $1", u.ID)
		return err
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": u})
}

func (h *Handler) DeleteUser(c *fiber.Ctx) error {
	id := c.Params("id")
	n, err := store.Exec(c.UserContext(), h.store.Q(), "DELETE FROM _users WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if n == 0 {
		return engine.NotFoundError("user", id)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": id, "deleted": true}})
}

// --- Memberships and roles ---

type Member struct {
	User
	Roles []string `json:"roles"`
}

func (h *Handler) ListMembers(c *fiber.Ctx) error {
	tenantID := c.Params("id")
	ctx := c.UserContext()
	q := h.store.Q()

	rows, err := store.QueryRows(ctx, q,
		`SELECT u.id, u.email, u.first_name, u.last_name, u.is_super_admin, u.active
		 FROM _tenant_users tu JOIN _users u ON u.id = tu.user_id
		 WHERE tu.tenant_id = $1 ORDER BY u.email`, tenantID)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}
	roleRows, err := store.QueryRows(ctx, q,
		"SELECT user_id, role FROM _user_roles WHERE tenant_id = $1 ORDER BY role", tenantID)
	if err != nil {
		return fmt.Errorf("list roles: %w", err)
	}
	roles := make(map[string][]string)
	for _, r := range roleRows {
		uid := store.AsString(r["user_id"])
		roles[uid] = append(roles[uid], store.AsString(r["role"]))
	}

	members := make([]Member, 0, len(rows))
	for _, r := range rows {
		u := userFromRecord(r)
		m := Member{User: u, Roles: roles[u.ID]}
		if m.Roles == nil {
			m.Roles = []string{}
		}
		members = append(members, m)
	}
	return c.JSON(fiber.Map{"data": members})
}

// SetMember handles PUT /api/_admin/tenants/:id/users/:userId. It adds the
// membership when missing and replaces the user's roles in the tenant.
func (h *Handler) SetMember(c *fiber.Ctx) error {
	tenantID, userID := c.Params("id"), c.Params("userId")
	var body struct {
		Roles []string `json:"roles"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}
	ctx := c.UserContext()

	err := h.store.WithTx(ctx, func(q store.Querier) error {
		if _, err := store.QueryRow(ctx, q, "SELECT id FROM _tenants WHERE id = $1", tenantID); err != nil {
			return notFound(err, "tenant", tenantID)
		}
		if _, err := store.QueryRow(ctx, q, "SELECT id FROM _users WHERE id = $1", userID); err != nil {
			return notFound(err, "user", userID)
		}

		member, err := store.QueryRow(ctx, q,
			"SELECT COUNT(*) AS n FROM _tenant_users WHERE tenant_id = $1 AND user_id = $2", tenantID, userID)
		if err != nil {
			return err
		}
		if store.AsInt(member["n"]) == 0 {
			if _, err := store.Exec(ctx, q,
				"INSERT INTO _tenant_users (tenant_id, user_id) VALUES ($1, $2)", tenantID, userID); err != nil {
				return err
			}
		}

		if _, err := store.Exec(ctx, q,
			"DELETE FROM _user_roles WHERE tenant_id = $1 AND user_id = $2", tenantID, userID); err != nil {
			return err
		}
		seen := make(map[string]bool, len(body.Roles))
		for _, role := range body.Roles {
			role = strings.TrimSpace(role)
			if role == "" || seen[role] {
				continue
			}
			seen[role] = true
			if _, err := store.Exec(ctx, q,
				"INSERT INTO _user_roles (tenant_id, user_id, role) VALUES ($1, $2, $3)", tenantID, userID, role); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"tenantId": tenantID, "userId": userID, "roles": body.Roles}})
}

func (h *Handler) RemoveMember(c *fiber.Ctx) error {
	tenantID, userID := c.Params("id"), c.Params("userId")
	ctx := c.UserContext()

	var removed int64
	err := h.store.WithTx(ctx, func(q store.Querier) error {
		if _, err := store.Exec(ctx, q,
			"DELETE FROM _user_roles WHERE tenant_id = $1 AND user_id = $2", tenantID, userID); err != nil {
			return err
		}
		if _, err := store.Exec(ctx, q,
			`DELETE FROM _group_users WHERE user_id = $1
			 AND group_id IN (SELECT id FROM _groups WHERE tenant_id = $2)`, userID, tenantID); err != nil {
			return err
		}
		n, err := store.Exec(ctx, q,
			"DELETE FROM _tenant_users WHERE tenant_id = $1 AND user_id = $2", tenantID, userID)
		removed = n
		return err
	})
	if err != nil {
		return err
	}
	if removed == 0 {
		return engine.NotFoundError("membership", userID)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"tenantId": tenantID, "userId": userID, "deleted": true}})
}

// --- Groups ---

type Group struct {
	ID          string   `json:"id"`
	TenantID    string   `json:"tenantId"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Color       string   `json:"color"`
	UserIDs     []string `json:"userIds"`
}

func (h *Handler) ListGroups(c *fiber.Ctx) error {
	tenantID := c.Params("id")
	ctx := c.UserContext()
	q := h.store.Q()

	rows, err := store.QueryRows(ctx, q,
		"SELECT id, tenant_id, name, description, color FROM _groups WHERE tenant_id = $1 ORDER BY name", tenantID)
	if err != nil {
		return fmt.Errorf("list groups: %w", err)
	}
	memberRows, err := store.QueryRows(ctx, q,
		`SELECT gu.group_id, gu.user_id FROM _group_users gu JOIN _groups g ON g.id = gu.group_id
		 WHERE g.tenant_id = $1 ORDER BY gu.user_id`, tenantID)
	if err != nil {
		return fmt.Errorf("list group users: %w", err)
	}
	users := make(map[string][]string)
	for _, r := range memberRows {
		gid := store.AsString(r["group_id"])
		users[gid] = append(users[gid], store.AsString(r["user_id"]))
	}

	groups := make([]Group, 0, len(rows))
	for _, r := range rows {
		g := Group{
			ID:          store.AsString(r["id"]),
			TenantID:    store.AsString(r["tenant_id"]),
			Name:        store.AsString(r["name"]),
			Description: store.AsString(r["description"]),
			Color:       store.AsString(r["color"]),
			UserIDs:     users[store.AsString(r["id"])],
		}
		if g.UserIDs == nil {
			g.UserIDs = []string{}
		}
		groups = append(groups, g)
	}
	return c.JSON(fiber.Map{"data": groups})
}

func (h *Handler) CreateGroup(c *fiber.Ctx) error {
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Color       string `json:"color"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}
	g := Group{
		ID:          uuid.New().String(),
		TenantID:    c.Params("id"),
		Name:        strings.TrimSpace(body.Name),
		Description: body.Description,
		Color:       body.Color,
		UserIDs:     []string{},
	}
	if g.Name == "" {
		return engine.ValidationError([]engine.ErrorDetail{{Field: "name", Rule: "required", Message: "name is required"}})
	}

	ctx := c.UserContext()
	if _, err := store.QueryRow(ctx, h.store.Q(), "SELECT id FROM _tenants WHERE id = $1", g.TenantID); err != nil {
		return notFound(err, "tenant", g.TenantID)
	}
	_, err := store.Exec(ctx, h.store.Q(),
		"INSERT INTO _groups (id, tenant_id, name, description, color) VALUES ($1, $2, $3, $4, $5)",
		g.ID, g.TenantID, g.Name, g.Description, g.Color)
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": g})
}

func (h *Handler) DeleteGroup(c *fiber.Ctx) error {
	id := c.Params("groupId")
	n, err := store.Exec(c.UserContext(), h.store.Q(), "DELETE FROM _groups WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	if n == 0 {
		return engine.NotFoundError("group", id)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": id, "deleted": true}})
}

// AddGroupUser requires the user to be a member of the group's tenant.
func (h *Handler) AddGroupUser(c *fiber.Ctx) error {
	groupID, userID := c.Params("groupId"), c.Params("userId")
	ctx := c.UserContext()
	q := h.store.Q()

	group, err := store.QueryRow(ctx, q, "SELECT tenant_id FROM _groups WHERE id = $1", groupID)
	if err != nil {
		return notFound(err, "group", groupID)
	}
	member, err := store.QueryRow(ctx, q,
		"SELECT COUNT(*) AS n FROM _tenant_users WHERE tenant_id = $1 AND user_id = $2", group["tenant_id"], userID)
	if err != nil {
		return err
	}
	if store.AsInt(member["n"]) == 0 {
		return engine.InvalidPayloadError("user is not a member of the group's tenant")
	}

	if _, err := store.Exec(ctx, q,
		"INSERT INTO _group_users (group_id, user_id) VALUES ($1, $2)", groupID, userID); err != nil {
		return fmt.Errorf("add group user: %w", err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": fiber.Map{"groupId": groupID, "userId": userID}})
}

func (h *Handler) RemoveGroupUser(c *fiber.Ctx) error {
	groupID, userID := c.Params("groupId"), c.Params("userId")
	n, err := store.Exec(c.UserContext(), h.store.Q(),
		"DELETE FROM _group_users WHERE group_id = $1 AND user_id = $2", groupID, userID)
	if err != nil {
		return fmt.Errorf("remove group user: %w", err)
	}
	if n == 0 {
		return engine.NotFoundError("group member", userID)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"groupId": groupID, "userId": userID, "deleted": true}})
}

// --- Linked tenants ---

type Link struct {
	ID             string `json:"id"`
	CoreTenantID   string `json:"coreTenantId"`
	MemberTenantID string `json:"memberTenantId"`
}

// ListLinks returns the links where the tenant is either side.
func (h *Handler) ListLinks(c *fiber.Ctx) error {
	tenantID := c.Params("id")
	rows, err := store.QueryRows(c.UserContext(), h.store.Q(),
		`SELECT id, core_tenant_id, member_tenant_id FROM _linked_tenants
		 WHERE core_tenant_id = $1 OR member_tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return fmt.Errorf("list links: %w", err)
	}
	links := make([]Link, 0, len(rows))
	for _, r := range rows {
		links = append(links, Link{
			ID:             store.AsString(r["id"]),
			CoreTenantID:   store.AsString(r["core_tenant_id"]),
			MemberTenantID: store.AsString(r["member_tenant_id"]),
		})
	}
	return c.JSON(fiber.Map{"data": links})
}

func (h *Handler) CreateLink(c *fiber.Ctx) error {
	var body struct {
		MemberTenantID string `json:"memberTenantId"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.InvalidPayloadError("Invalid JSON body")
	}
	link := Link{ID: uuid.New().String(), CoreTenantID: c.Params("id"), MemberTenantID: body.MemberTenantID}
	if link.MemberTenantID == "" || link.MemberTenantID == link.CoreTenantID {
		return engine.InvalidPayloadError("memberTenantId must name another tenant")
	}

	ctx := c.UserContext()
	err := h.store.WithTx(ctx, func(q store.Querier) error {
		for _, id := range []string{link.CoreTenantID, link.MemberTenantID} {
			if _, err := store.QueryRow(ctx, q, "SELECT id FROM _tenants WHERE id = $1", id); err != nil {
				return notFound(err, "tenant", id)
			}
		}
		// links are symmetric: reject the reverse pair too
		existing, err := store.QueryRow(ctx, q,
			`SELECT COUNT(*) AS n FROM _linked_tenants
			 WHERE (core_tenant_id = $1 AND member_tenant_id = $2) OR (core_tenant_id = $2 AND member_tenant_id = $1)`,
			link.CoreTenantID, link.MemberTenantID)
		if err != nil {
			return err
		}
		if store.AsInt(existing["n"]) > 0 {
			return engine.ConflictError("Tenants are already linked")
		}
		_, err = store.Exec(ctx, q,
			"INSERT INTO _linked_tenants (id, core_tenant_id, member_tenant_id) VALUES ($1, $2, $3)",
			link.ID, link.CoreTenantID, link.MemberTenantID)
		return err
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": link})
}

func (h *Handler) DeleteLink(c *fiber.Ctx) error {
	id := c.Params("linkId")
	n, err := store.Exec(c.UserContext(), h.store.Q(), "DELETE FROM _linked_tenants WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	if n == 0 {
		return engine.NotFoundError("link", id)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": id, "deleted": true}})
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return engine.NotFoundError(kind, id)
	}
	return err
}
