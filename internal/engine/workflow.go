package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"adminpanel/internal/activity"
	"adminpanel/internal/metadata"
	"adminpanel/internal/notify"
	"adminpanel/internal/store"
)

// Transition records one state change of a row.
type Transition struct {
	RowID     string    `json:"rowId"`
	Action    string    `json:"action,omitempty"` // empty for a manual set
	FromState string    `json:"fromState"`
	ToState   string    `json:"toState"`
	By        string    `json:"by"`
	At        time.Time `json:"at"`
}

// WorkflowEngine moves rows between the workflow states of their entity.
type WorkflowEngine struct {
	store     *store.Store
	evaluator ExpressionEvaluator
	publisher notify.Publisher
	activity  activity.Recorder
	channel   string
	logger    *zap.Logger
}

func NewWorkflowEngine(
	s *store.Store,
	evaluator ExpressionEvaluator,
	publisher notify.Publisher,
	rec activity.Recorder,
	channel string,
	logger *zap.Logger,
) *WorkflowEngine {
	return &WorkflowEngine{
		store:     s,
		evaluator: evaluator,
		publisher: publisher,
		activity:  rec,
		channel:   channel,
		logger:    logger.Named("workflow"),
	}
}

// NextSteps returns the steps leaving the row's current state.
func (we *WorkflowEngine) NextSteps(entity *metadata.Entity, row *Row) []metadata.WorkflowStep {
	if !entity.HasWorkflow() || row.WorkflowState == "" {
		return nil
	}
	return entity.StepsFrom(row.WorkflowState)
}

// CanPerform reports whether the caller holds one of the step's roles.
func CanPerform(rc *metadata.RequestContext, step metadata.WorkflowStep) bool {
	return len(step.Roles) == 0 || rc.IsSuperAdmin || rc.HasAnyRole(step.Roles)
}

// PerformTransition applies the step leaving the row's current state with
// the given action. The state write is conditional on the state the step
// was found from, so a repeated call fails with ErrTransitionNotAllowed.
func (we *WorkflowEngine) PerformTransition(ctx context.Context, rc *metadata.RequestContext, entity *metadata.Entity, row *Row, action string) (*Transition, error) {
	if !entity.HasWorkflow() {
		return nil, fmt.Errorf("%w: %s has no workflow", ErrTransitionNotAllowed, entity.Name)
	}
	step := entity.FindStep(row.WorkflowState, action)
	if step == nil {
		return nil, fmt.Errorf("%w: no %q step from state %q", ErrTransitionNotAllowed, action, row.WorkflowState)
	}
	if !CanPerform(rc, *step) {
		return nil, ForbiddenError(fmt.Sprintf("The %s step requires one of the roles: %v", step.Action, step.Roles))
	}
	if step.Guard != "" {
		ok, err := we.evaluator.EvaluateBool(step.Guard, RowEnv(entity, row))
		if err != nil {
			return nil, fmt.Errorf("evaluate guard of step %s: %w", step.Action, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: condition of step %q is not met", ErrTransitionNotAllowed, step.Action)
		}
	}

	now := time.Now().UTC()
	n, err := store.Exec(ctx, we.store.Q(),
		`UPDATE _rows SET workflow_state = $1, updated_at = $2
		 WHERE id = $3 AND COALESCE(workflow_state, '') = $4`,
		step.ToState, we.store.Dialect.TimeParam(now), row.ID, row.WorkflowState)
	if err != nil {
		return nil, fmt.Errorf("update workflow state: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: row left state %q", ErrTransitionNotAllowed, row.WorkflowState)
	}

	t := &Transition{
		RowID:     row.ID,
		Action:    step.Action,
		FromState: row.WorkflowState,
		ToState:   step.ToState,
		By:        callerID(rc),
		At:        now,
	}
	row.WorkflowState = step.ToState
	row.UpdatedAt = now

	we.announce(rc, entity, row, t, activity.ActionTransition)
	return t, nil
}

// SetState moves the row to any state of its entity, bypassing the steps.
// Only super admins may do this.
func (we *WorkflowEngine) SetState(ctx context.Context, rc *metadata.RequestContext, entity *metadata.Entity, row *Row, state string) (*Transition, error) {
	if !rc.IsSuperAdmin {
		return nil, ForbiddenError("Only super admins can set the workflow state")
	}
	if entity.GetState(state) == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownState, state)
	}
	if state == row.WorkflowState {
		return nil, fmt.Errorf("%w: %q", ErrAlreadyInState, state)
	}

	now := time.Now().UTC()
	n, err := store.Exec(ctx, we.store.Q(),
		`UPDATE _rows SET workflow_state = $1, updated_at = $2
		 WHERE id = $3 AND COALESCE(workflow_state, '') <> $1`,
		state, we.store.Dialect.TimeParam(now), row.ID)
	if err != nil {
		return nil, fmt.Errorf("set workflow state: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %q", ErrAlreadyInState, state)
	}

	t := &Transition{
		RowID:     row.ID,
		FromState: row.WorkflowState,
		ToState:   state,
		By:        callerID(rc),
		At:        now,
	}
	row.WorkflowState = state
	row.UpdatedAt = now

	we.announce(rc, entity, row, t, activity.ActionStateSet)
	return t, nil
}

// announce records the change and notifies the row's creator. Neither can
// fail the state change.
func (we *WorkflowEngine) announce(rc *metadata.RequestContext, entity *metadata.Entity, row *Row, t *Transition, action string) {
	we.activity.Record(activity.Entry{
		TenantID: row.TenantID,
		EntityID: entity.ID,
		RowID:    row.ID,
		Action:   action,
		UserID:   rc.UserID,
		APIKeyID: rc.APIKeyID,
		Details: map[string]any{
			"action":    t.Action,
			"fromState": t.FromState,
			"toState":   t.ToState,
		},
	})

	if we.publisher == nil || row.CreatedByUserID == "" {
		return
	}
	title := t.ToState
	if s := entity.GetState(t.ToState); s != nil && s.Title != "" {
		title = s.Title
	}
	accepted := we.publisher.Publish(notify.Message{
		Channel:   we.channel,
		TenantID:  row.TenantID,
		Recipient: &notify.Recipient{UserID: row.CreatedByUserID},
		Notification: notify.Notification{
			Title: fmt.Sprintf("%s %s is now %s", entity.Title, entity.FormatFolio(row.Folio), title),
			Payload: map[string]any{
				"entity":    entity.Name,
				"rowId":     row.ID,
				"displayId": entity.FormatFolio(row.Folio),
				"action":    t.Action,
				"fromState": t.FromState,
				"toState":   t.ToState,
			},
		},
	})
	if !accepted {
		we.logger.Warn("state change notification dropped",
			zap.String("entity", entity.Name), zap.String("row", row.ID))
	}
}

func callerID(rc *metadata.RequestContext) string {
	if rc.UserID != "" {
		return rc.UserID
	}
	return rc.APIKeyID
}
