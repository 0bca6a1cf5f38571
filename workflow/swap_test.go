package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merenda/necessity-workflow/workflow"
)

func TestSwapOrigin_RoundTrip(t *testing.T) {
	// GIVEN: rice for one school
	f := newFixture(t)
	f.put(t, "N-1", "E-1", rice, 10)

	// WHEN: swapping to the 5 kg pack
	res, err := f.svc.SwapOrigin(f.ctx, workflow.RoleNutritionist, []workflow.NecessityID{"N-1"}, rice5kg)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied())

	// THEN: the new origin is in place and the old one retained
	got := f.necessity(t, "N-1")
	assert.Equal(t, rice5kg, got.Origin.ID)
	assert.Equal(t, rice, got.SwappedOriginProductID())
	assert.Equal(t, workflow.StatusCreated, got.Status, "swaps never move status")

	// AND: undo restores exactly
	_, err = f.svc.UndoSwap(f.ctx, workflow.RoleNutritionist, []workflow.NecessityID{"N-1"})
	require.NoError(t, err)
	got = f.necessity(t, "N-1")
	assert.Equal(t, rice, got.Origin.ID)
	assert.Nil(t, got.SwappedOrigin)
	assert.Equal(t, workflow.StatusCreated, got.Status)
}

func TestSwapOrigin_SwappingBackClearsRetainedOrigin(t *testing.T) {
	f := newFixture(t)
	f.put(t, "N-1", "E-1", rice, 10)
	ids := []workflow.NecessityID{"N-1"}

	_, err := f.svc.SwapOrigin(f.ctx, workflow.RoleNutritionist, ids, rice5kg)
	require.NoError(t, err)
	_, err = f.svc.SwapOrigin(f.ctx, workflow.RoleNutritionist, ids, rice)
	require.NoError(t, err)

	got := f.necessity(t, "N-1")
	assert.Equal(t, rice, got.Origin.ID)
	assert.Nil(t, got.SwappedOrigin)
}

func TestSwapOrigin_CrossGroupRejected(t *testing.T) {
	// GIVEN: rice in the cereals group
	f := newFixture(t)
	before := f.put(t, "N-1", "E-1", rice, 10)

	// WHEN: swapping to beans
	res, err := f.svc.SwapOrigin(f.ctx, workflow.RoleNutritionist, []workflow.NecessityID{"N-1"}, beans)

	// THEN: the single item fails and the record is untouched
	assert.ErrorIs(t, err, workflow.ErrBatchFailed)
	assert.ErrorIs(t, err, workflow.ErrCrossGroupSwapRejected)
	require.Len(t, res.Items, 1)
	var cg *workflow.CrossGroupSwapError
	require.ErrorAs(t, res.Items[0].Err, &cg)
	assert.Equal(t, cereals, cg.RecordGroup)
	assert.Equal(t, legumes, cg.TargetGroup)

	got := f.necessity(t, "N-1")
	assert.Equal(t, before.Origin, got.Origin)
	assert.Nil(t, got.SwappedOrigin)
}

func TestSwapOrigin_UnknownTargetFailsWholeCall(t *testing.T) {
	f := newFixture(t)
	f.put(t, "N-1", "E-1", rice, 10)

	res, err := f.svc.SwapOrigin(f.ctx, workflow.RoleNutritionist, []workflow.NecessityID{"N-1"}, "P-NOPE")

	assert.ErrorIs(t, err, workflow.ErrNotFound)
	assert.Empty(t, res.Items, "no item was attempted")
	assert.Equal(t, rice, f.necessity(t, "N-1").Origin.ID)
}

func TestSwapOrigin_SameOriginIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.put(t, "N-1", "E-1", rice, 10)

	res, err := f.svc.SwapOrigin(f.ctx, workflow.RoleNutritionist, []workflow.NecessityID{"N-1"}, rice)

	require.NoError(t, err)
	assert.Equal(t, 1, res.SkippedCount)
	assert.Zero(t, res.Applied())
	assert.Nil(t, f.necessity(t, "N-1").SwappedOrigin)
}

func TestSwapOrigin_RequiresIDs(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SwapOrigin(f.ctx, workflow.RoleNutritionist, nil, rice5kg)
	assert.ErrorIs(t, err, workflow.ErrValidation)
}

func TestSwapGroup_MovesEveryMember(t *testing.T) {
	// GIVEN: rice for three schools and beans for one
	f := newFixture(t)
	f.threeSchools(t)
	f.put(t, "N-4", "E-1", beans, 8)

	// WHEN: swapping the whole rice group
	res, err := f.svc.SwapGroup(f.ctx, workflow.RoleNutritionist,
		workflow.ConsolidationKey{OriginProductID: rice, ProductGroupID: cereals}, supplyWeek, consumptionWeek, rice5kg)

	// THEN: all three rice rows moved, beans untouched
	require.NoError(t, err)
	assert.Equal(t, 3, res.Applied())
	for _, id := range []workflow.NecessityID{"N-1", "N-2", "N-3"} {
		assert.Equal(t, rice5kg, f.necessity(t, id).Origin.ID, "%s", id)
	}
	assert.Equal(t, beans, f.necessity(t, "N-4").Origin.ID)

	// AND: the consolidated view regroups under the new origin
	view, err := f.svc.Query().ConsolidatedView(f.ctx, workflow.RoleNutritionist, workflow.Filter{ProductGroupID: cereals})
	require.NoError(t, err)
	require.Len(t, view.Rows, 1)
	assert.Equal(t, rice5kg, view.Rows[0].Key.OriginProductID)
	assert.Equal(t, 3, view.Rows[0].SchoolCount)
}

func TestUndoSwap_NeverSwappedIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.put(t, "N-1", "E-1", rice, 10)

	res, err := f.svc.UndoSwap(f.ctx, workflow.RoleNutritionist, []workflow.NecessityID{"N-1"})

	require.NoError(t, err)
	assert.Equal(t, 1, res.SkippedCount)
	assert.Equal(t, rice, f.necessity(t, "N-1").Origin.ID)
}

func TestSwapOrigin_StageLocked(t *testing.T) {
	// coordination cannot swap a row still with the nutritionist
	f := newFixture(t)
	f.put(t, "N-1", "E-1", rice, 10)

	_, err := f.svc.SwapOrigin(f.ctx, workflow.RoleCoordination, []workflow.NecessityID{"N-1"}, rice5kg)

	assert.ErrorIs(t, err, workflow.ErrStageLocked)
	assert.Equal(t, rice, f.necessity(t, "N-1").Origin.ID)
}

func TestSwapOrigin_PartialAcrossSchools(t *testing.T) {
	// GIVEN: two rows the nutritionist can edit and one already released
	f := newFixture(t)
	f.put(t, "N-1", "E-1", rice, 10)
	f.put(t, "N-2", "E-2", rice, 15)
	f.put(t, "N-3", "E-3", rice, 5, workflow.StatusCoordinationPending)

	// WHEN
	res, err := f.svc.SwapOrigin(f.ctx, workflow.RoleNutritionist, []workflow.NecessityID{"N-1", "N-2", "N-3"}, rice5kg)

	// THEN: the released row fails alone
	assert.ErrorIs(t, err, workflow.ErrPartialBatchFailure)
	assert.Equal(t, 2, res.SuccessCount)
	require.Len(t, res.Failures(), 1)
	assert.Equal(t, workflow.NecessityID("N-3"), res.Failures()[0].ID)
	assert.ErrorIs(t, res.Failures()[0].Err, workflow.ErrStageLocked)
	assert.Equal(t, rice, f.necessity(t, "N-3").Origin.ID)
}

func TestSwapOrigin_ResavedNecessityPrintsOnce(t *testing.T) {
	// GIVEN: rice saved for three schools
	f := newFixture(t)
	f.threeSchools(t)
	old := f.saveRice(t)

	// WHEN: E-1 moves to the 5 kg pack
	res, err := f.svc.SwapOrigin(f.ctx, workflow.RoleNutritionist, []workflow.NecessityID{"N-1"}, rice5kg)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied())

	// THEN: the rice row releases its line
	left := f.substitution(t, old.ID)
	assert.Equal(t, []workflow.NecessityID{"N-2", "N-3"}, left.NecessityIDs())
	assert.Equal(t, "20", left.TotalOriginQuantity().String())

	// AND: saving the new origin covers E-1 alone
	moved, err := f.svc.SaveSubstitution(f.ctx, workflow.RoleNutritionist, workflow.SaveRequest{Key: consolidatedKey(rice5kg, cereals)})
	require.NoError(t, err)
	assert.Equal(t, []workflow.NecessityID{"N-1"}, moved.NecessityIDs())
	assert.Equal(t, int64(5), moved.Lines[0].GenericQuantity)

	// AND: re-saving rice does not take it back
	again := f.saveRice(t)
	assert.Equal(t, old.ID, again.ID)
	assert.Equal(t, []workflow.NecessityID{"N-2", "N-3"}, again.NecessityIDs())

	// AND: after printing, every necessity appears exactly once
	f.advance(t, old.ID, workflow.StatusLogisticsConfirmed)
	f.advance(t, moved.ID, workflow.StatusLogisticsConfirmed)
	_, err = f.svc.MarkPrinted(f.ctx, workflow.RoleLogistics, workflow.Filter{})
	require.NoError(t, err)

	m, err := f.svc.Manifest(f.ctx, workflow.Filter{}, workflow.ModeBySchool, nil)
	require.NoError(t, err)
	seen := make(map[workflow.NecessityID]int)
	for _, s := range m.Schools {
		for _, l := range s.Lines {
			seen[l.NecessityID]++
		}
	}
	assert.Equal(t, map[workflow.NecessityID]int{"N-1": 1, "N-2": 1, "N-3": 1}, seen)
	assert.Equal(t, 3, m.LineCount())
}

func TestSwapGroup_DeletesEmptiedSubstitution(t *testing.T) {
	// GIVEN: rice saved for three schools
	f := newFixture(t)
	f.threeSchools(t)
	old := f.saveRice(t)

	// WHEN: the whole group moves to the 5 kg pack
	res, err := f.svc.SwapGroup(f.ctx, workflow.RoleNutritionist,
		workflow.ConsolidationKey{OriginProductID: rice, ProductGroupID: cereals},
		supplyWeek, consumptionWeek, rice5kg)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Applied())

	// THEN: the rice row has no line left and is gone
	_, err = f.store.GetSubstitution(f.ctx, old.ID)
	assert.ErrorIs(t, err, workflow.ErrNotFound)

	// AND: the new origin picks up every school
	moved, err := f.svc.SaveSubstitution(f.ctx, workflow.RoleNutritionist, workflow.SaveRequest{Key: consolidatedKey(rice5kg, cereals)})
	require.NoError(t, err)
	assert.Len(t, moved.Lines, 3)
}

func TestUndoSwap_ReleasesLineFromNewOrigin(t *testing.T) {
	// GIVEN: E-1 swapped to the 5 kg pack and saved under it
	f := newFixture(t)
	f.threeSchools(t)
	f.saveRice(t)
	ids := []workflow.NecessityID{"N-1"}
	_, err := f.svc.SwapOrigin(f.ctx, workflow.RoleNutritionist, ids, rice5kg)
	require.NoError(t, err)
	moved, err := f.svc.SaveSubstitution(f.ctx, workflow.RoleNutritionist, workflow.SaveRequest{Key: consolidatedKey(rice5kg, cereals)})
	require.NoError(t, err)

	// WHEN: the swap is undone
	_, err = f.svc.UndoSwap(f.ctx, workflow.RoleNutritionist, ids)
	require.NoError(t, err)

	// THEN: the 5 kg row is gone and rice covers E-1 again
	_, err = f.store.GetSubstitution(f.ctx, moved.ID)
	assert.ErrorIs(t, err, workflow.ErrNotFound)
	again := f.saveRice(t)
	assert.Equal(t, []workflow.NecessityID{"N-1", "N-2", "N-3"}, again.NecessityIDs())
}

func TestSwapOrigin_LockedByCoveringSubstitution(t *testing.T) {
	// GIVEN: an editable necessity whose line sits in a row coordination holds
	f := newFixture(t)
	f.put(t, "N-1", "E-1", rice, 10)
	rec := f.saveRice(t)
	held := f.substitution(t, rec.ID)
	require.NoError(t, f.store.SetSubstitutionStatus(f.ctx, held.ID, held.Status, workflow.StatusCoordinationPending, ""))

	// WHEN: the nutritionist swaps it
	res, err := f.svc.SwapOrigin(f.ctx, workflow.RoleNutritionist, []workflow.NecessityID{"N-1"}, rice5kg)

	// THEN: the swap is refused and nothing moves
	assert.ErrorIs(t, err, workflow.ErrStageLocked)
	require.Len(t, res.Items, 1)
	assert.Equal(t, rice, f.necessity(t, "N-1").Origin.ID)
	assert.Equal(t, []workflow.NecessityID{"N-1"}, f.substitution(t, rec.ID).NecessityIDs())
}
