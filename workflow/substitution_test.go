package workflow_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merenda/necessity-workflow/workflow"
)

func TestSave_ConsolidatedThreeSchools(t *testing.T) {
	// GIVEN: rice 10 / 15 / 5 for three schools, default generic factor 4
	f := newFixture(t)
	f.threeSchools(t)

	view, err := f.svc.Query().ConsolidatedView(f.ctx, workflow.RoleNutritionist, workflow.Filter{SupplyWeek: supplyWeek})
	require.NoError(t, err)
	require.Len(t, view.Rows, 1)
	assert.True(t, view.Rows[0].TotalQuantity.Equal(decimal.NewFromInt(30)))
	assert.Equal(t, int64(8), view.Rows[0].ProposedGenericQuantity, "ceil(30/4)")
	assert.False(t, view.Rows[0].Releasable)

	// WHEN: saving the consolidated substitution
	sub := f.saveRice(t)

	// THEN: one record, three lines, per-school ceilings
	subs, err := f.store.ListSubstitutions(f.ctx, workflow.Filter{})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, workflow.ScopeConsolidated, sub.Scope)
	assert.Equal(t, riceBale, sub.Generic.ID)
	assert.Equal(t, workflow.StatusNutritionistPending, sub.Status)
	require.Len(t, sub.Lines, 3)

	want := map[workflow.NecessityID]int64{"N-1": 3, "N-2": 4, "N-3": 2}
	for _, l := range sub.Lines {
		assert.Equal(t, want[l.NecessityID], l.GenericQuantity, "%s", l.NecessityID)
		assert.False(t, l.Adjusted)
	}
	assert.True(t, sub.TotalOriginQuantity().Equal(decimal.NewFromInt(30)))

	// AND: the covered necessities moved with it
	for id := range want {
		assert.Equal(t, workflow.StatusNutritionistPending, f.necessity(t, id).Status)
	}
}

func TestSave_SameKeyUpdatesInPlace(t *testing.T) {
	f := newFixture(t)
	f.threeSchools(t)
	first := f.saveRice(t)

	// WHEN: saving again with another generic
	req := workflow.SaveRequest{Key: consolidatedKey(rice, cereals), GenericProductID: "GEN-ARROZ-FD10"}
	second, err := f.svc.SaveSubstitution(f.ctx, workflow.RoleNutritionist, req)
	require.NoError(t, err)

	// THEN: same row, recomputed with factor 10
	assert.Equal(t, first.ID, second.ID)
	subs, err := f.store.ListSubstitutions(f.ctx, workflow.Filter{})
	require.NoError(t, err)
	assert.Len(t, subs, 1)
	assert.Equal(t, int64(4), second.TotalGenericQuantity(), "1 + 2 + 1")
	assert.True(t, second.ConversionFactor.Equal(decimal.NewFromInt(10)))
}

func TestSave_AdjustedLineSurvivesResave(t *testing.T) {
	f := newFixture(t)
	f.threeSchools(t)
	sub := f.saveRice(t)

	_, err := f.svc.AdjustLine(f.ctx, workflow.RoleNutritionist, sub.ID, "N-1", 5)
	require.NoError(t, err)

	// same generic: override kept
	again := f.saveRice(t)
	line, _ := again.Line("N-1")
	assert.Equal(t, int64(5), line.GenericQuantity)
	assert.True(t, line.Adjusted)

	// different generic: recomputed
	changed, err := f.svc.SaveSubstitution(f.ctx, workflow.RoleNutritionist,
		workflow.SaveRequest{Key: consolidatedKey(rice, cereals), GenericProductID: "GEN-ARROZ-FD10"})
	require.NoError(t, err)
	line, _ = changed.Line("N-1")
	assert.Equal(t, int64(1), line.GenericQuantity)
	assert.False(t, line.Adjusted)
}

func TestSave_NoGenericAndNoDefault(t *testing.T) {
	f := newFixture(t)
	f.put(t, "N-1", "E-1", oil, 3)

	_, err := f.svc.SaveSubstitution(f.ctx, workflow.RoleNutritionist,
		workflow.SaveRequest{Key: consolidatedKey(oil, oils)})

	assert.ErrorIs(t, err, workflow.ErrValidation)
	subs, err := f.store.ListSubstitutions(f.ctx, workflow.Filter{})
	require.NoError(t, err)
	assert.Empty(t, subs)
	assert.Equal(t, workflow.StatusCreated, f.necessity(t, "N-1").Status)
}

func TestSave_RejectsMalformedKeys(t *testing.T) {
	f := newFixture(t)
	f.threeSchools(t)

	individualWithoutSchool := consolidatedKey(rice, cereals)
	individualWithoutSchool.Scope = workflow.ScopeIndividual
	consolidatedWithSchool := consolidatedKey(rice, cereals)
	consolidatedWithSchool.SchoolID = "E-1"
	noWeek := consolidatedKey(rice, cereals)
	noWeek.SupplyWeek = ""

	for name, key := range map[string]workflow.SubstitutionKey{
		"individual without school": individualWithoutSchool,
		"consolidated with school":  consolidatedWithSchool,
		"missing supply week":       noWeek,
	} {
		_, err := f.svc.SaveSubstitution(f.ctx, workflow.RoleNutritionist, workflow.SaveRequest{Key: key})
		assert.ErrorIs(t, err, workflow.ErrValidation, name)
	}
}

func TestSave_NothingToCover(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SaveSubstitution(f.ctx, workflow.RoleNutritionist,
		workflow.SaveRequest{Key: consolidatedKey(rice, cereals)})

	assert.ErrorIs(t, err, workflow.ErrValidation)
}

func TestSave_IndividualOverrideDetachesSchool(t *testing.T) {
	// GIVEN: a consolidated rice substitution for three schools
	f := newFixture(t)
	f.threeSchools(t)
	cons := f.saveRice(t)

	// WHEN: school E-3 gets its own generic
	key := consolidatedKey(rice, cereals)
	key.Scope = workflow.ScopeIndividual
	key.SchoolID = "E-3"
	ind, err := f.svc.SaveSubstitution(f.ctx, workflow.RoleNutritionist,
		workflow.SaveRequest{Key: key, GenericProductID: "GEN-ARROZ-FD10"})
	require.NoError(t, err)

	// THEN: E-3 moved out of the consolidated record
	require.Len(t, ind.Lines, 1)
	assert.Equal(t, workflow.NecessityID("N-3"), ind.Lines[0].NecessityID)
	assert.Equal(t, int64(1), ind.Lines[0].GenericQuantity, "ceil(5/10)")

	got := f.substitution(t, cons.ID)
	assert.ElementsMatch(t, []workflow.NecessityID{"N-1", "N-2"}, got.NecessityIDs())
	assert.True(t, got.TotalOriginQuantity().Equal(decimal.NewFromInt(25)))

	// AND: re-saving the consolidated key does not pull E-3 back in
	again := f.saveRice(t)
	assert.ElementsMatch(t, []workflow.NecessityID{"N-1", "N-2"}, again.NecessityIDs())

	// AND: the key is fully covered
	view, err := f.svc.Query().ConsolidatedView(f.ctx, workflow.RoleNutritionist, workflow.Filter{})
	require.NoError(t, err)
	require.Len(t, view.Rows, 1)
	assert.True(t, view.Rows[0].Releasable)
	assert.Equal(t, 3, view.Rows[0].CoveredCount)
	assert.Len(t, view.Rows[0].SubstitutionIDs, 2)
}

func TestSave_IndividualForLastSchoolDeletesConsolidated(t *testing.T) {
	f := newFixture(t)
	f.put(t, "N-1", "E-1", rice, 10)
	cons := f.saveRice(t)

	key := consolidatedKey(rice, cereals)
	key.Scope = workflow.ScopeIndividual
	key.SchoolID = "E-1"
	_, err := f.svc.SaveSubstitution(f.ctx, workflow.RoleNutritionist, workflow.SaveRequest{Key: key})
	require.NoError(t, err)

	_, err = f.store.GetSubstitution(f.ctx, cons.ID)
	assert.ErrorIs(t, err, workflow.ErrNotFound)
}

func TestSave_OnlyNutritionistCreates(t *testing.T) {
	f := newFixture(t)
	f.threeSchools(t)

	_, err := f.svc.SaveSubstitution(f.ctx, workflow.RoleCoordination,
		workflow.SaveRequest{Key: consolidatedKey(rice, cereals)})

	assert.ErrorIs(t, err, workflow.ErrStageLocked)
}

func TestSave_LockedAfterRelease(t *testing.T) {
	f := newFixture(t)
	f.threeSchools(t)
	sub := f.saveRice(t)
	f.advance(t, sub.ID, workflow.StatusCoordinationPending)

	_, err := f.svc.SaveSubstitution(f.ctx, workflow.RoleNutritionist,
		workflow.SaveRequest{Key: consolidatedKey(rice, cereals)})
	assert.ErrorIs(t, err, workflow.ErrStageLocked)

	// coordination owns the stage now and may change the generic
	updated, err := f.svc.SaveSubstitution(f.ctx, workflow.RoleCoordination,
		workflow.SaveRequest{Key: consolidatedKey(rice, cereals), GenericProductID: "GEN-ARROZ-FD10"})
	require.NoError(t, err)
	assert.Equal(t, sub.ID, updated.ID)
	assert.Equal(t, workflow.StatusCoordinationPending, updated.Status)
}

func TestAdjustLine(t *testing.T) {
	f := newFixture(t)
	f.threeSchools(t)
	sub := f.saveRice(t)

	t.Run("negative quantity", func(t *testing.T) {
		_, err := f.svc.AdjustLine(f.ctx, workflow.RoleNutritionist, sub.ID, "N-1", -1)
		assert.ErrorIs(t, err, workflow.ErrValidation)
	})

	t.Run("unknown line", func(t *testing.T) {
		_, err := f.svc.AdjustLine(f.ctx, workflow.RoleNutritionist, sub.ID, "N-9", 1)
		assert.ErrorIs(t, err, workflow.ErrNotFound)
	})

	t.Run("role that does not own the stage", func(t *testing.T) {
		_, err := f.svc.AdjustLine(f.ctx, workflow.RoleLogistics, sub.ID, "N-1", 1)
		assert.ErrorIs(t, err, workflow.ErrStageLocked)
	})

	t.Run("override", func(t *testing.T) {
		got, err := f.svc.AdjustLine(f.ctx, workflow.RoleNutritionist, sub.ID, "N-2", 0)
		require.NoError(t, err)
		line, ok := got.Line("N-2")
		require.True(t, ok)
		assert.Zero(t, line.GenericQuantity)
		assert.True(t, line.Adjusted)
		assert.Equal(t, int64(5), f.substitution(t, sub.ID).TotalGenericQuantity(), "3 + 0 + 2")
	})
}
