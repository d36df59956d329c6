package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"adminpanel/internal/metadata"
	"adminpanel/internal/store"
)

// AccessLevel is the level a row grant confers. Levels are ordered.
type AccessLevel string

const (
	AccessNone AccessLevel = "none"
	AccessView AccessLevel = "view"
	AccessEdit AccessLevel = "edit"
	AccessFull AccessLevel = "full"
)

func (a AccessLevel) rank() int {
	switch a {
	case AccessView:
		return 1
	case AccessEdit:
		return 2
	case AccessFull:
		return 3
	}
	return 0
}

// ParseAccessLevel accepts the levels a grant may carry.
func ParseAccessLevel(s string) (AccessLevel, error) {
	switch a := AccessLevel(s); a {
	case AccessView, AccessEdit, AccessFull:
		return a, nil
	}
	return "", fmt.Errorf("invalid access level %q", s)
}

// SubjectType names who a grant is for.
type SubjectType string

const (
	SubjectUser   SubjectType = "user"
	SubjectRole   SubjectType = "role"
	SubjectGroup  SubjectType = "group"
	SubjectTenant SubjectType = "tenant"
	SubjectPublic SubjectType = "public"
)

func (s SubjectType) Valid() bool {
	switch s {
	case SubjectUser, SubjectRole, SubjectGroup, SubjectTenant, SubjectPublic:
		return true
	}
	return false
}

// Grant is an explicit row permission.
type Grant struct {
	ID          string      `json:"id"`
	RowID       string      `json:"rowId"`
	SubjectType SubjectType `json:"subjectType"`
	SubjectID   string      `json:"subjectId"`
	Access      AccessLevel `json:"access"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Principal is the caller as seen by the permission fold.
type Principal struct {
	TenantID     string   // acting tenant
	UserID       string
	Roles        []string // roles held in TenantID
	Groups       []string
	IsSuperAdmin bool
}

// RowPermission is the effective capability set of a caller on one row.
type RowPermission struct {
	Access    AccessLevel `json:"access"`
	CanRead   bool        `json:"canRead"`
	CanUpdate bool        `json:"canUpdate"`
	CanDelete bool        `json:"canDelete"`
	IsOwner   bool        `json:"isOwner"`
}

func permissionFor(level AccessLevel) RowPermission {
	return RowPermission{
		Access:    level,
		CanRead:   level.rank() >= AccessView.rank(),
		CanUpdate: level.rank() >= AccessEdit.rank(),
		CanDelete: level.rank() >= AccessFull.rank(),
	}
}

// grantSource matches the grants of one subject type for a principal.
type grantSource struct {
	subject SubjectType
	matches func(g Grant, row *Row, p Principal) bool
}

// grantSources are folded in this order; the highest level found wins.
var grantSources = []grantSource{
	{SubjectUser, func(g Grant, _ *Row, p Principal) bool {
		return p.UserID != "" && g.SubjectID == p.UserID
	}},
	{SubjectRole, func(g Grant, row *Row, p Principal) bool {
		return p.TenantID == row.TenantID && contains(p.Roles, g.SubjectID)
	}},
	{SubjectGroup, func(g Grant, _ *Row, p Principal) bool {
		return contains(p.Groups, g.SubjectID)
	}},
	{SubjectTenant, func(g Grant, _ *Row, p Principal) bool {
		return p.TenantID != "" && g.SubjectID == p.TenantID
	}},
	{SubjectPublic, func(Grant, *Row, Principal) bool { return true }},
}

// ResolveRowPermission folds the row's grants into the principal's
// capabilities. The creator and super admins always have full access.
func ResolveRowPermission(row *Row, p Principal, grants []Grant) RowPermission {
	if p.UserID != "" && row.CreatedByUserID == p.UserID {
		perm := permissionFor(AccessFull)
		perm.IsOwner = true
		return perm
	}
	if p.IsSuperAdmin {
		return permissionFor(AccessFull)
	}

	level := AccessNone
	for _, src := range grantSources {
		for _, g := range grants {
			if g.SubjectType != src.subject || !src.matches(g, row, p) {
				continue
			}
			if g.Access.rank() > level.rank() {
				level = g.Access
			}
		}
	}
	return permissionFor(level)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// PermissionService loads principals and grants and manages sharing.
type PermissionService struct {
	store *store.Store
}

func NewPermissionService(s *store.Store) *PermissionService {
	return &PermissionService{store: s}
}

// GetUserRowPermission resolves the capabilities of a user acting in tenantID.
func (ps *PermissionService) GetUserRowPermission(ctx context.Context, row *Row, tenantID, userID string) (RowPermission, error) {
	p, err := LoadPrincipal(ctx, ps.store.Q(), tenantID, userID)
	if err != nil {
		return RowPermission{}, err
	}
	grants, err := ps.Grants(ctx, row.ID)
	if err != nil {
		return RowPermission{}, err
	}
	return ResolveRowPermission(row, p, grants), nil
}

// Evaluate resolves the capabilities of the request's caller on the row.
// API key callers are bounded by the key's tenant and entity flags instead of grants.
func (ps *PermissionService) Evaluate(ctx context.Context, rc *metadata.RequestContext, entity *metadata.Entity, row *Row) (RowPermission, error) {
	if rc.IsAPIKey() {
		if row.TenantID != rc.TenantID {
			return permissionFor(AccessNone), nil
		}
		return RowPermission{
			Access:    AccessNone,
			CanRead:   rc.APIKeyAllows(entity.Name, "read"),
			CanUpdate: rc.APIKeyAllows(entity.Name, "update"),
			CanDelete: rc.APIKeyAllows(entity.Name, "delete"),
			IsOwner:   row.CreatedByAPIKeyID == rc.APIKeyID,
		}, nil
	}

	grants, err := ps.Grants(ctx, row.ID)
	if err != nil {
		return RowPermission{}, err
	}
	return ResolveRowPermission(row, principalOf(rc), grants), nil
}

func principalOf(rc *metadata.RequestContext) Principal {
	return Principal{
		TenantID:     rc.TenantID,
		UserID:       rc.UserID,
		Roles:        rc.Roles,
		Groups:       rc.Groups,
		IsSuperAdmin: rc.IsSuperAdmin,
	}
}

// LoadPrincipal reads a user's super admin flag, roles and groups in a tenant.
func LoadPrincipal(ctx context.Context, q store.Querier, tenantID, userID string) (Principal, error) {
	p := Principal{TenantID: tenantID, UserID: userID}

	user, err := store.QueryRow(ctx, q, "SELECT is_super_admin FROM _users WHERE id = $1", userID)
	if err != nil {
		return p, fmt.Errorf("load user %s: %w", userID, err)
	}
	p.IsSuperAdmin = store.AsBool(user["is_super_admin"])

	roles, err := store.QueryRows(ctx, q,
		"SELECT role FROM _user_roles WHERE tenant_id = $1 AND user_id = $2 ORDER BY role", tenantID, userID)
	if err != nil {
		return p, fmt.Errorf("load roles: %w", err)
	}
	for _, r := range roles {
		p.Roles = append(p.Roles, store.AsString(r["role"]))
	}

	groups, err := store.QueryRows(ctx, q,
		`SELECT g.id FROM _groups g JOIN _group_users gu ON gu.group_id = g.id
		 WHERE g.tenant_id = $1 AND gu.user_id = $2`, tenantID, userID)
	if err != nil {
		return p, fmt.Errorf("load groups: %w", err)
	}
	for _, g := range groups {
		p.Groups = append(p.Groups, store.AsString(g["id"]))
	}
	return p, nil
}

// Grants lists a row's explicit permissions.
func (ps *PermissionService) Grants(ctx context.Context, rowID string) ([]Grant, error) {
	recs, err := store.QueryRows(ctx, ps.store.Q(),
		"SELECT id, row_id, subject_type, subject_id, access, created_at FROM _row_permissions WHERE row_id = $1 ORDER BY created_at, id",
		rowID)
	if err != nil {
		return nil, fmt.Errorf("load grants: %w", err)
	}
	grants := make([]Grant, 0, len(recs))
	for _, rec := range recs {
		grants = append(grants, grantFromRecord(rec))
	}
	return grants, nil
}

func grantFromRecord(rec map[string]any) Grant {
	created, _ := store.AsTime(rec["created_at"])
	return Grant{
		ID:          store.AsString(rec["id"]),
		RowID:       store.AsString(rec["row_id"]),
		SubjectType: SubjectType(store.AsString(rec["subject_type"])),
		SubjectID:   store.AsString(rec["subject_id"]),
		Access:      AccessLevel(store.AsString(rec["access"])),
		CreatedAt:   created,
	}
}

// Share grants access on the row to a subject. A tenant subject must be the
// row's own tenant or linked to it.
func (ps *PermissionService) Share(ctx context.Context, row *Row, subject SubjectType, subjectID string, access AccessLevel) (*Grant, error) {
	if !subject.Valid() {
		return nil, InvalidPayloadError(fmt.Sprintf("invalid subject type %q", subject))
	}
	if access.rank() == 0 {
		return nil, InvalidPayloadError(fmt.Sprintf("invalid access level %q", access))
	}
	if subject == SubjectPublic {
		subjectID = ""
	} else if subjectID == "" {
		return nil, InvalidPayloadError("subjectId is required")
	}

	q := ps.store.Q()
	if err := ps.checkSubject(ctx, q, row, subject, subjectID); err != nil {
		return nil, err
	}

	g := &Grant{
		ID:          uuid.New().String(),
		RowID:       row.ID,
		SubjectType: subject,
		SubjectID:   subjectID,
		Access:      access,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := store.Exec(ctx, q,
		`INSERT INTO _row_permissions (id, row_id, subject_type, subject_id, access, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		g.ID, g.RowID, string(g.SubjectType), g.SubjectID, string(g.Access), ps.store.Dialect.TimeParam(g.CreatedAt))
	if err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			return nil, ConflictError("The row is already shared with this subject")
		}
		return nil, fmt.Errorf("insert grant: %w", err)
	}
	return g, nil
}

func (ps *PermissionService) checkSubject(ctx context.Context, q store.Querier, row *Row, subject SubjectType, subjectID string) error {
	var query string
	args := []any{subjectID}
	switch subject {
	case SubjectUser:
		query = "SELECT id FROM _users WHERE id = $1"
	case SubjectGroup:
		query = "SELECT id FROM _groups WHERE id = $1"
	case SubjectTenant:
		if subjectID == row.TenantID {
			return nil
		}
		query = `SELECT id FROM _linked_tenants
		         WHERE (core_tenant_id = $1 AND member_tenant_id = $2) OR (core_tenant_id = $2 AND member_tenant_id = $1)`
		args = append(args, row.TenantID)
	default:
		return nil
	}

	if _, err := store.QueryRow(ctx, q, query, args...); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if subject == SubjectTenant {
				return InvalidPayloadError(fmt.Sprintf("tenant %s is not linked to the row's tenant", subjectID))
			}
			return InvalidPayloadError(fmt.Sprintf("unknown %s %s", subject, subjectID))
		}
		return err
	}
	return nil
}

// SetAccess changes the level of an existing grant on the row.
func (ps *PermissionService) SetAccess(ctx context.Context, rowID, grantID string, access AccessLevel) error {
	if access.rank() == 0 {
		return InvalidPayloadError(fmt.Sprintf("invalid access level %q", access))
	}
	n, err := store.Exec(ctx, ps.store.Q(),
		"UPDATE _row_permissions SET access = $1 WHERE id = $2 AND row_id = $3", string(access), grantID, rowID)
	if err != nil {
		return fmt.Errorf("update grant: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteGrant removes a grant from the row.
func (ps *PermissionService) DeleteGrant(ctx context.Context, rowID, grantID string) error {
	n, err := store.Exec(ctx, ps.store.Q(),
		"DELETE FROM _row_permissions WHERE id = $1 AND row_id = $2", grantID, rowID)
	if err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// visibilityClause restricts a row query aliased r to rows the caller can read.
// It mirrors ResolveRowPermission for the read capability. Super admins see
// every row of the acting tenant, or of all tenants when none is selected.
func visibilityClause(rc *metadata.RequestContext, dialect store.Dialect, pb *store.ParamBuilder) string {
	if rc.IsAPIKey() {
		return "r.tenant_id = " + pb.Add(rc.TenantID)
	}
	if rc.IsSuperAdmin {
		if rc.TenantID == "" {
			return ""
		}
		return "r.tenant_id = " + pb.Add(rc.TenantID)
	}

	user := pb.Add(rc.UserID)
	tenant := pb.Add(rc.TenantID)
	roles := dialect.InExpr("p.subject_id", pb, rc.Roles)
	groups := dialect.InExpr("p.subject_id", pb, rc.Groups)

	return fmt.Sprintf(`(r.created_by_user_id = %[1]s OR EXISTS (
		SELECT 1 FROM _row_permissions p WHERE p.row_id = r.id AND p.access <> 'none' AND (
			(p.subject_type = 'user' AND p.subject_id = %[1]s)
			OR (p.subject_type = 'role' AND r.tenant_id = %[2]s AND %[3]s)
			OR (p.subject_type = 'group' AND %[4]s)
			OR (p.subject_type = 'tenant' AND p.subject_id = %[2]s)
			OR p.subject_type = 'public')))`, user, tenant, roles, groups)
}
