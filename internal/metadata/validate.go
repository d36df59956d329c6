package metadata

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

var (
	namePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)
	slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
)

// reservedSlugs collide with static routes under /api.
var reservedSlugs = map[string]bool{
	"auth": true, "relationships": true, "_admin": true, "_files": true, "_ai": true,
}

// ValidateEntity checks an entity definition before it is stored.
func ValidateEntity(e *Entity) error {
	if e.Name == "" {
		return fmt.Errorf("entity name is required")
	}
	if !namePattern.MatchString(e.Name) {
		return fmt.Errorf("invalid entity name: %s", e.Name)
	}
	if e.Slug == "" {
		return fmt.Errorf("entity slug is required")
	}
	if !slugPattern.MatchString(e.Slug) || reservedSlugs[e.Slug] {
		return fmt.Errorf("invalid entity slug: %s", e.Slug)
	}

	names := make(map[string]bool, len(e.Properties))
	for i := range e.Properties {
		p := &e.Properties[i]
		if err := p.Validate(); err != nil {
			return err
		}
		if p.IsDynamic && !namePattern.MatchString(p.Name) {
			return fmt.Errorf("invalid property name: %s", p.Name)
		}
		if names[p.Name] {
			return fmt.Errorf("duplicate property name: %s", p.Name)
		}
		names[p.Name] = true
	}

	return validateWorkflow(e)
}

func validateWorkflow(e *Entity) error {
	states := make(map[string]bool, len(e.States))
	for _, s := range e.States {
		if s.Name == "" {
			return fmt.Errorf("workflow state name is required")
		}
		if states[s.Name] {
			return fmt.Errorf("duplicate workflow state: %s", s.Name)
		}
		states[s.Name] = true
	}
	if e.DefaultState != "" && !states[e.DefaultState] {
		return fmt.Errorf("default state %s is not a workflow state", e.DefaultState)
	}

	type stepKey struct{ from, action string }
	steps := make(map[stepKey]bool, len(e.Steps))
	for _, s := range e.Steps {
		if s.Action == "" {
			return fmt.Errorf("workflow step action is required")
		}
		if !states[s.FromState] {
			return fmt.Errorf("step %s: unknown from state %s", s.Action, s.FromState)
		}
		if !states[s.ToState] {
			return fmt.Errorf("step %s: unknown to state %s", s.Action, s.ToState)
		}
		k := stepKey{s.FromState, s.Action}
		if steps[k] {
			return fmt.Errorf("duplicate step %s from state %s", s.Action, s.FromState)
		}
		steps[k] = true
	}
	return nil
}

// CheckDefaultPropertiesKept rejects an update that drops a default property.
func CheckDefaultPropertiesKept(existing, updated *Entity) error {
	for _, p := range existing.Properties {
		if !p.IsDefault {
			continue
		}
		if updated.GetProperty(p.Name) == nil {
			return fmt.Errorf("default property %s cannot be deleted", p.Name)
		}
	}
	return nil
}

// PrepareEntity fills in system-managed parts of a definition: the default
// properties, property ids (kept from existing by name) and property order.
func PrepareEntity(e *Entity, existing *Entity) {
	if existing == nil {
		props := DefaultProperties(e.HasWorkflow())
		for _, p := range e.Properties {
			if !IsSystemProperty(p.Name) {
				props = append(props, p)
			}
		}
		e.Properties = props
	} else if e.HasWorkflow() && e.GetProperty(PropertyWorkflowState) == nil {
		e.Properties = append(e.Properties, DefaultProperties(true)[3])
	}

	for i := range e.Properties {
		p := &e.Properties[i]
		p.IsDefault = IsSystemProperty(p.Name)
		p.IsDynamic = !p.IsDefault
		if existing != nil {
			if prev := existing.GetProperty(p.Name); prev != nil {
				p.ID = prev.ID
			}
		}
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		p.Order = i + 1
	}
}
