package metadata

// WorkflowState is a named node of an entity's row lifecycle.
type WorkflowState struct {
	Name      string `json:"name"`
	Title     string `json:"title"`
	Color     string `json:"color,omitempty"`
	CanUpdate bool   `json:"canUpdate"`
	CanDelete bool   `json:"canDelete"`
}

// WorkflowStep is a directed transition between two states, triggered by Action.
type WorkflowStep struct {
	Action    string `json:"action"`
	FromState string `json:"fromState"`
	ToState   string `json:"toState"`

	// Roles, when set, restricts the step to callers holding one of them.
	Roles []string `json:"roles,omitempty"`
	// Guard is an optional boolean expression over the row's values.
	Guard string `json:"guard,omitempty"`
}

// FindStep returns the step leaving fromState with the given action, or nil.
func (e *Entity) FindStep(fromState, action string) *WorkflowStep {
	for i := range e.Steps {
		s := &e.Steps[i]
		if s.FromState == fromState && s.Action == action {
			return s
		}
	}
	return nil
}

// StepsFrom returns the steps leaving the given state.
func (e *Entity) StepsFrom(state string) []WorkflowStep {
	var steps []WorkflowStep
	for _, s := range e.Steps {
		if s.FromState == state {
			steps = append(steps, s)
		}
	}
	return steps
}

// IsTerminal reports whether no step leaves the given state.
func (e *Entity) IsTerminal(state string) bool {
	return len(e.StepsFrom(state)) == 0
}
