package metadata

// EntityAccess lists the row operations an API key may perform on one entity.
type EntityAccess struct {
	Create bool `json:"create"`
	Read   bool `json:"read"`
	Update bool `json:"update"`
	Delete bool `json:"delete"`
}

// RequestContext identifies the caller of one request. It is built by the
// auth middleware and passed explicitly into every engine call.
type RequestContext struct {
	TenantID     string   `json:"tenantId"`
	UserID       string   `json:"userId,omitempty"`
	APIKeyID     string   `json:"apiKeyId,omitempty"`
	Roles        []string `json:"roles"`  // roles held in TenantID
	Groups       []string `json:"groups"` // group ids the user belongs to in TenantID
	IsSuperAdmin bool     `json:"isSuperAdmin"`

	// APIKeyAccess is keyed by entity name. Only set for API key callers.
	APIKeyAccess map[string]EntityAccess `json:"-"`
}

// HasRole checks whether the caller holds a role in the acting tenant.
func (rc *RequestContext) HasRole(role string) bool {
	for _, r := range rc.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole checks whether the caller holds at least one of the roles.
func (rc *RequestContext) HasAnyRole(roles []string) bool {
	for _, r := range roles {
		if rc.HasRole(r) {
			return true
		}
	}
	return false
}

// IsAPIKey reports whether the request authenticated with an API key.
func (rc *RequestContext) IsAPIKey() bool {
	return rc.APIKeyID != ""
}

// APIKeyAllows reports whether an API key caller may perform op on the entity.
// op is one of "create", "read", "update", "delete".
func (rc *RequestContext) APIKeyAllows(entity, op string) bool {
	access, ok := rc.APIKeyAccess[entity]
	if !ok {
		return false
	}
	switch op {
	case "create":
		return access.Create
	case "read":
		return access.Read
	case "update":
		return access.Update
	case "delete":
		return access.Delete
	}
	return false
}
