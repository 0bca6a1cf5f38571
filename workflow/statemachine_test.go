package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merenda/necessity-workflow/workflow"
)

func TestAllowed_OnlyForwardByOneOrReject(t *testing.T) {
	all := workflow.AllStatuses()
	for i, from := range all {
		for j, to := range all {
			want := j == i+1 ||
				(from == workflow.StatusCoordinationPending && to == workflow.StatusNutritionistPending)
			assert.Equal(t, want, workflow.Allowed(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTransitions_AreAllowedEdges(t *testing.T) {
	actions := []workflow.Action{
		workflow.ActionBegin, workflow.ActionConfirm, workflow.ActionRelease, workflow.ActionApprove,
		workflow.ActionReject, workflow.ActionForward, workflow.ActionConfirmLogistics, workflow.ActionPrint,
	}
	for _, a := range actions {
		tr, ok := workflow.TransitionFor(a)
		require.True(t, ok, a)
		assert.True(t, workflow.Allowed(tr.From, tr.To), "%s: %s -> %s", a, tr.From, tr.To)
	}
	_, ok := workflow.TransitionFor("teleport")
	assert.False(t, ok)
}

func TestStatus_Order(t *testing.T) {
	_, ok := workflow.StatusPrintReleased.Next()
	assert.False(t, ok, "PRINT_RELEASED is terminal")
	next, ok := workflow.StatusLogisticsPending.Next()
	require.True(t, ok)
	assert.Equal(t, workflow.StatusLogisticsConfirmed, next)
}

func TestStateMachine_WrongRoleIsStageLocked(t *testing.T) {
	// GIVEN: a saved substitution
	f := newFixture(t)
	f.threeSchools(t)
	sub := f.saveRice(t)

	// WHEN: coordination tries the nutritionist's confirm
	err := f.svc.Confirm(f.ctx, workflow.RoleCoordination, sub.ID)

	// THEN
	assert.ErrorIs(t, err, workflow.ErrStageLocked)
	assert.Equal(t, workflow.StatusNutritionistPending, f.substitution(t, sub.ID).Status)
}

func TestStateMachine_ReplayIsRejected(t *testing.T) {
	f := newFixture(t)
	f.threeSchools(t)
	sub := f.saveRice(t)
	require.NoError(t, f.svc.Confirm(f.ctx, workflow.RoleNutritionist, sub.ID))

	err := f.svc.Confirm(f.ctx, workflow.RoleNutritionist, sub.ID)

	var terr *workflow.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, workflow.StatusNutritionistConfirmed, terr.Current)
	assert.Equal(t, workflow.StatusNutritionistConfirmed, f.substitution(t, sub.ID).Status)
}

func TestStateMachine_NecessitiesFollowSubstitution(t *testing.T) {
	f := newFixture(t)
	f.threeSchools(t)
	sub := f.saveRice(t)
	id := sub.ID

	steps := []struct {
		want workflow.Status
		run  func() error
	}{
		{workflow.StatusNutritionistConfirmed, func() error { return f.svc.Confirm(f.ctx, workflow.RoleNutritionist, id) }},
		{workflow.StatusCoordinationPending, func() error {
			_, err := f.svc.Release(f.ctx, workflow.RoleNutritionist, []workflow.SubstitutionID{id})
			return err
		}},
		{workflow.StatusLogisticsPending, func() error { return f.svc.Approve(f.ctx, workflow.RoleCoordination, id) }},
		{workflow.StatusLogisticsConfirmed, func() error { return f.svc.ConfirmLogistics(f.ctx, workflow.RoleLogistics, id) }},
	}
	for _, s := range steps {
		require.NoError(t, s.run())
		assert.Equal(t, s.want, f.substitution(t, id).Status)
		for _, nid := range []workflow.NecessityID{"N-1", "N-2", "N-3"} {
			assert.Equal(t, s.want, f.necessity(t, nid).Status, "%s", nid)
		}
	}
}

func TestStateMachine_ApproveForwardsToLogistics(t *testing.T) {
	f := newFixture(t)
	f.threeSchools(t)
	sub := f.saveRice(t)
	f.advance(t, sub.ID, workflow.StatusCoordinationPending)

	require.NoError(t, f.svc.Approve(f.ctx, workflow.RoleCoordination, sub.ID))

	assert.Equal(t, workflow.StatusLogisticsPending, f.substitution(t, sub.ID).Status,
		"COORDINATION_CONFIRMED is passed through")
	assert.Equal(t, 1.0, f.counter(t, "necessity_workflow_transitions_total",
		map[string]string{"action": "forward", "result": "ok"}))
}

func TestStateMachine_RejectKeepsEditsAndReason(t *testing.T) {
	// GIVEN: a substitution at coordination with an edited line
	f := newFixture(t)
	f.threeSchools(t)
	sub := f.saveRice(t)
	f.advance(t, sub.ID, workflow.StatusCoordinationPending)
	_, err := f.svc.AdjustLine(f.ctx, workflow.RoleCoordination, sub.ID, "N-2", 6)
	require.NoError(t, err)

	// WHEN: coordination rejects
	require.NoError(t, f.svc.Reject(f.ctx, workflow.RoleCoordination, sub.ID, "falta feijão na rota"))

	// THEN: back with the nutritionist, edit and reason kept
	got := f.substitution(t, sub.ID)
	assert.Equal(t, workflow.StatusNutritionistPending, got.Status)
	assert.Equal(t, "falta feijão na rota", got.StatusNote)
	line, ok := got.Line("N-2")
	require.True(t, ok)
	assert.Equal(t, int64(6), line.GenericQuantity)
	assert.True(t, line.Adjusted)
	assert.Equal(t, workflow.StatusNutritionistPending, f.necessity(t, "N-2").Status)

	// AND: the reason is cleared once the record moves on
	require.NoError(t, f.svc.Confirm(f.ctx, workflow.RoleNutritionist, sub.ID))
	assert.Empty(t, f.substitution(t, sub.ID).StatusNote)
}

func TestStateMachine_ReleaseNeedsEveryLineCovered(t *testing.T) {
	// GIVEN: a confirmed substitution and a late necessity under the same key
	f := newFixture(t)
	f.threeSchools(t)
	sub := f.saveRice(t)
	require.NoError(t, f.svc.Confirm(f.ctx, workflow.RoleNutritionist, sub.ID))
	f.put(t, "N-4", "E-4", rice, 7)

	// WHEN
	res, err := f.svc.Release(f.ctx, workflow.RoleNutritionist, []workflow.SubstitutionID{sub.ID})

	// THEN: refused, nothing moved
	assert.ErrorIs(t, err, workflow.ErrBatchFailed)
	require.Len(t, res.Items, 1)
	assert.ErrorIs(t, res.Items[0].Err, workflow.ErrValidation)
	assert.Equal(t, workflow.StatusNutritionistConfirmed, f.substitution(t, sub.ID).Status)
}

func TestStateMachine_ConfirmNeedsGeneric(t *testing.T) {
	f := newFixture(t)
	n := f.put(t, "N-1", "E-1", rice, 10, workflow.StatusNutritionistPending)
	require.NoError(t, f.store.CreateSubstitution(f.ctx, workflow.SubstitutionRecord{
		ID:         "S-EMPTY",
		Origin:     n.Origin,
		GroupKey:   n.Key(),
		SupplyWeek: supplyWeek,
		Scope:      workflow.ScopeConsolidated,
		Lines:      []workflow.LineItem{{NecessityID: n.ID, SchoolID: n.SchoolID, OriginQuantity: n.RequestedQuantity}},
		Status:     workflow.StatusNutritionistPending,
	}))

	err := f.svc.Confirm(f.ctx, workflow.RoleNutritionist, "S-EMPTY")

	assert.ErrorIs(t, err, workflow.ErrValidation)
	assert.Equal(t, 1.0, f.counter(t, "necessity_workflow_transitions_total",
		map[string]string{"action": "confirm", "result": "validation"}))
}

func TestStateMachine_UnknownSubstitution(t *testing.T) {
	f := newFixture(t)
	err := f.svc.Confirm(f.ctx, workflow.RoleNutritionist, "S-NOPE")
	assert.ErrorIs(t, err, workflow.ErrNotFound)
}
