package metadata

import "fmt"

// Entity is a tenant-defined (or global) row schema.
type Entity struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId,omitempty"` // empty for global entities

	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	TitlePlural string `json:"titlePlural"`
	Prefix      string `json:"prefix"`
	HasAPI      bool   `json:"hasApi"`
	Active      bool   `json:"active"`

	Properties []Property `json:"properties"`

	// DefaultState is the workflow state assigned to new rows.
	DefaultState string          `json:"defaultState,omitempty"`
	States       []WorkflowState `json:"workflowStates,omitempty"`
	Steps        []WorkflowStep  `json:"workflowSteps,omitempty"`

	// ChildEntities names the entities whose rows may be linked under rows of this one.
	ChildEntities []string `json:"childEntities,omitempty"`
}

// IsGlobal reports whether the entity is defined by the platform for every tenant.
func (e *Entity) IsGlobal() bool {
	return e.TenantID == ""
}

// GetProperty returns the property with the given name, or nil.
func (e *Entity) GetProperty(name string) *Property {
	for i := range e.Properties {
		if e.Properties[i].Name == name {
			return &e.Properties[i]
		}
	}
	return nil
}

// GetPropertyByID returns the property with the given id, or nil.
func (e *Entity) GetPropertyByID(id string) *Property {
	for i := range e.Properties {
		if e.Properties[i].ID == id {
			return &e.Properties[i]
		}
	}
	return nil
}

// DynamicProperties returns the properties whose values live in the row value tables.
func (e *Entity) DynamicProperties() []Property {
	var props []Property
	for _, p := range e.Properties {
		if p.IsDynamic {
			props = append(props, p)
		}
	}
	return props
}

// HasWorkflow reports whether rows of this entity carry a workflow state.
func (e *Entity) HasWorkflow() bool {
	return len(e.States) > 0
}

// GetState returns the workflow state with the given name, or nil.
func (e *Entity) GetState(name string) *WorkflowState {
	for i := range e.States {
		if e.States[i].Name == name {
			return &e.States[i]
		}
	}
	return nil
}

// AllowsChild reports whether rows of the named entity may be linked as children.
func (e *Entity) AllowsChild(name string) bool {
	for _, c := range e.ChildEntities {
		if c == name {
			return true
		}
	}
	return false
}

// FormatFolio renders the human-readable row id, e.g. "CTR-0042".
func (e *Entity) FormatFolio(folio int64) string {
	if e.Prefix == "" {
		return fmt.Sprintf("%04d", folio)
	}
	return fmt.Sprintf("%s-%04d", e.Prefix, folio)
}
