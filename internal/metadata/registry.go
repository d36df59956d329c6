package metadata

import (
	"sort"
	"sync"
)

// Registry caches entity definitions. Lookups by slug or name resolve a
// tenant's own entities before global ones.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Entity
	bySlug map[string]map[string]*Entity // tenant id -> slug
	byName map[string]map[string]*Entity // tenant id -> name
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*Entity),
		bySlug: make(map[string]map[string]*Entity),
		byName: make(map[string]map[string]*Entity),
	}
}

// GetByID returns the entity with the given id, or nil.
func (r *Registry) GetByID(id string) *Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

// Resolve returns the entity routed at slug for the tenant, or nil.
func (r *Registry) Resolve(tenantID, slug string) *Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e := r.bySlug[tenantID][slug]; e != nil {
		return e
	}
	return r.bySlug[""][slug]
}

// GetByName returns the entity with the given name visible to the tenant, or nil.
func (r *Registry) GetByName(tenantID, name string) *Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e := r.byName[tenantID][name]; e != nil {
		return e
	}
	return r.byName[""][name]
}

// ForTenant returns the global entities plus the tenant's own, ordered by name.
func (r *Registry) ForTenant(tenantID string) []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var entities []*Entity
	for _, e := range r.byName[""] {
		entities = append(entities, e)
	}
	if tenantID != "" {
		for _, e := range r.byName[tenantID] {
			entities = append(entities, e)
		}
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].Name < entities[j].Name })
	return entities
}

// All returns every registered entity.
func (r *Registry) All() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entities := make([]*Entity, 0, len(r.byID))
	for _, e := range r.byID {
		entities = append(entities, e)
	}
	return entities
}

// Load replaces all entities in the registry.
// Called during startup and after admin mutations.
func (r *Registry) Load(entities []*Entity) {
	byID := make(map[string]*Entity, len(entities))
	bySlug := make(map[string]map[string]*Entity)
	byName := make(map[string]map[string]*Entity)
	for _, e := range entities {
		byID[e.ID] = e
		if bySlug[e.TenantID] == nil {
			bySlug[e.TenantID] = make(map[string]*Entity)
			byName[e.TenantID] = make(map[string]*Entity)
		}
		bySlug[e.TenantID][e.Slug] = e
		byName[e.TenantID][e.Name] = e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = byID
	r.bySlug = bySlug
	r.byName = byName
}
