package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adminpanel/internal/activity"
	"adminpanel/internal/metadata"
	"adminpanel/internal/store"
)

func storedState(t *testing.T, f *fixture, rowID string) string {
	t.Helper()
	rec, err := store.QueryRow(f.ctx, f.store.Q(), "SELECT workflow_state FROM _rows WHERE id = $1", rowID)
	require.NoError(t, err)
	return store.AsString(rec["workflow_state"])
}

func TestWorkflow_NextSteps(t *testing.T) {
	f := newFixture(t)
	row := &Row{WorkflowState: "review"}

	steps := f.workflow.NextSteps(f.contract, row)
	var actions []string
	for _, s := range steps {
		actions = append(actions, s.Action)
	}
	assert.ElementsMatch(t, []string{"sign", "reopen"}, actions)

	assert.Empty(t, f.workflow.NextSteps(f.annex, &Row{}))
	assert.True(t, f.contract.IsTerminal("signed"))
}

func TestWorkflow_PerformTransition(t *testing.T) {
	f := newFixture(t)
	row := f.createContract(map[string]any{"name": "Deal", "amount": 500})
	owner := userCtx("t1", "owner")

	tr, err := f.workflow.PerformTransition(f.ctx, owner, f.contract, row, "submit")
	require.NoError(t, err)
	assert.Equal(t, "draft", tr.FromState)
	assert.Equal(t, "review", tr.ToState)
	assert.Equal(t, "owner", tr.By)
	assert.Equal(t, "review", row.WorkflowState)
	assert.Equal(t, "review", storedState(t, f, row.ID))

	assert.Contains(t, f.activity.actions(), activity.ActionTransition)
	require.Len(t, f.publisher.messages, 1)
	msg := f.publisher.messages[0]
	assert.Equal(t, "row-state-changed", msg.Channel)
	require.NotNil(t, msg.Recipient)
	assert.Equal(t, "owner", msg.Recipient.UserID)
	assert.Equal(t, "review", msg.Notification.Payload["toState"])
}

func TestWorkflow_RepeatedTransitionFails(t *testing.T) {
	f := newFixture(t)
	row := f.createContract(map[string]any{"name": "Deal", "amount": 500})
	owner := userCtx("t1", "owner")

	// a second caller still holding the row as it was before the first transition
	stale := *row

	_, err := f.workflow.PerformTransition(f.ctx, owner, f.contract, row, "submit")
	require.NoError(t, err)

	_, err = f.workflow.PerformTransition(f.ctx, owner, f.contract, &stale, "submit")
	assert.ErrorIs(t, err, ErrTransitionNotAllowed)

	_, err = f.workflow.PerformTransition(f.ctx, owner, f.contract, row, "submit")
	assert.ErrorIs(t, err, ErrTransitionNotAllowed, "no submit step from review")
	assert.Equal(t, "review", storedState(t, f, row.ID))
}

func TestWorkflow_GuardBlocksTransition(t *testing.T) {
	f := newFixture(t)
	row := f.createContract(map[string]any{"name": "Empty deal"})

	_, err := f.workflow.PerformTransition(f.ctx, userCtx("t1", "owner"), f.contract, row, "submit")
	assert.ErrorIs(t, err, ErrTransitionNotAllowed)
	assert.Equal(t, "draft", storedState(t, f, row.ID))
	assert.Empty(t, f.publisher.messages)
}

func TestWorkflow_StepRoles(t *testing.T) {
	f := newFixture(t)
	row := f.createContract(map[string]any{"name": "Deal", "amount": 500})
	_, err := f.workflow.PerformTransition(f.ctx, userCtx("t1", "owner"), f.contract, row, "submit")
	require.NoError(t, err)

	_, err = f.workflow.PerformTransition(f.ctx, userCtx("t1", "owner"), f.contract, row, "sign")
	assert.Equal(t, "FORBIDDEN", appErrCode(t, err))

	tr, err := f.workflow.PerformTransition(f.ctx, userCtx("t1", "owner", "signer"), f.contract, row, "sign")
	require.NoError(t, err)
	assert.Equal(t, "signed", tr.ToState)

	assert.True(t, CanPerform(superAdminCtx(), metadata.WorkflowStep{Roles: []string{"signer"}}))
	assert.True(t, CanPerform(userCtx("t1", "x"), metadata.WorkflowStep{}))
}

func TestWorkflow_SetState(t *testing.T) {
	f := newFixture(t)
	row := f.createContract(map[string]any{"name": "Deal"})

	_, err := f.workflow.SetState(f.ctx, userCtx("t1", "owner"), f.contract, row, "signed")
	assert.Equal(t, "FORBIDDEN", appErrCode(t, err))

	_, err = f.workflow.SetState(f.ctx, superAdminCtx(), f.contract, row, "archived")
	assert.ErrorIs(t, err, ErrUnknownState)

	_, err = f.workflow.SetState(f.ctx, superAdminCtx(), f.contract, row, "draft")
	assert.ErrorIs(t, err, ErrAlreadyInState)

	tr, err := f.workflow.SetState(f.ctx, superAdminCtx(), f.contract, row, "signed")
	require.NoError(t, err)
	assert.Empty(t, tr.Action)
	assert.Equal(t, "draft", tr.FromState)
	assert.Equal(t, "signed", storedState(t, f, row.ID))
	assert.Contains(t, f.activity.actions(), activity.ActionStateSet)
}

func TestWorkflow_DroppedNotificationDoesNotFailTransition(t *testing.T) {
	f := newFixture(t)
	f.publisher.drop = true
	row := f.createContract(map[string]any{"name": "Deal", "amount": 1})

	_, err := f.workflow.PerformTransition(f.ctx, userCtx("t1", "owner"), f.contract, row, "submit")
	require.NoError(t, err)
	assert.Equal(t, "review", storedState(t, f, row.ID))
}

func TestWorkflow_EntityWithoutWorkflow(t *testing.T) {
	f := newFixture(t)
	row, err := f.rows.Create(f.ctx, userCtx("t1", "owner"), f.annex, RowInput{Values: map[string]any{"name": "A"}})
	require.NoError(t, err)
	assert.Empty(t, row.WorkflowState)

	_, err = f.workflow.PerformTransition(f.ctx, userCtx("t1", "owner"), f.annex, row, "submit")
	assert.ErrorIs(t, err, ErrTransitionNotAllowed)
}
