package workflow_test

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merenda/necessity-workflow/workflow"
)

func (f *fixture) save(t *testing.T, origin workflow.ProductID, group workflow.GroupID) workflow.SubstitutionRecord {
	t.Helper()
	rec, err := f.svc.SaveSubstitution(f.ctx, workflow.RoleNutritionist, workflow.SaveRequest{Key: consolidatedKey(origin, group)})
	require.NoError(t, err)
	return rec
}

func TestApproveMany_PartialFailure(t *testing.T) {
	// GIVEN: rice and beans waiting for coordination, the 5 kg rice still
	// with the nutritionist
	f := newFixture(t)
	f.put(t, "N-1", "E-1", rice, 10)
	f.put(t, "N-2", "E-1", beans, 8)
	f.put(t, "N-3", "E-2", rice5kg, 3)
	riceSub := f.save(t, rice, cereals)
	beanSub := f.save(t, beans, legumes)
	lateSub := f.save(t, rice5kg, cereals)
	f.advance(t, riceSub.ID, workflow.StatusCoordinationPending)
	f.advance(t, beanSub.ID, workflow.StatusCoordinationPending)

	// WHEN: approving all three
	res, err := f.svc.ApproveMany(f.ctx, workflow.RoleCoordination,
		[]workflow.SubstitutionID{riceSub.ID, beanSub.ID, lateSub.ID})

	// THEN: two forwarded, one refused, nothing rolled back
	var partial *workflow.PartialBatchFailure
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 2, partial.SuccessCount)
	assert.Equal(t, 1, partial.FailureCount)

	failures := res.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, lateSub.ID, failures[0].ID)
	assert.ErrorIs(t, failures[0].Err, workflow.ErrInvalidStateTransition)

	assert.Equal(t, workflow.StatusLogisticsPending, f.substitution(t, riceSub.ID).Status)
	assert.Equal(t, workflow.StatusLogisticsPending, f.substitution(t, beanSub.ID).Status)
	assert.Equal(t, workflow.StatusNutritionistPending, f.substitution(t, lateSub.ID).Status)
	assert.Equal(t, 1.0, f.counter(t, "necessity_workflow_batch_items_total",
		map[string]string{"operation": "approve", "outcome": "failed"}))
}

func TestRelease_OneMissingGenericFailsAlone(t *testing.T) {
	// GIVEN: five confirmed substitutions on five supply weeks; the third has
	// no generic product
	f := newFixture(t)
	o, err := f.catalog.OriginProduct(f.ctx, rice)
	require.NoError(t, err)
	opts, err := f.catalog.GenericOptions(f.ctx, rice)
	require.NoError(t, err)

	var ids []workflow.SubstitutionID
	for i := 1; i <= 5; i++ {
		week := fmt.Sprintf("2025-W0%d", i)
		n := workflow.NecessityRecord{
			ID:                workflow.NecessityID(fmt.Sprintf("N-%d", i)),
			SchoolID:          "E-1",
			Origin:            o.ProductRef,
			ProductGroupID:    cereals,
			RequestedQuantity: decimal.NewFromInt(10),
			SupplyWeek:        week,
			Status:            workflow.StatusNutritionistConfirmed,
		}
		require.NoError(t, f.store.PutNecessity(f.ctx, n))

		sub := workflow.SubstitutionRecord{
			ID:               workflow.SubstitutionID(fmt.Sprintf("S-W%d", i)),
			Origin:           o.ProductRef,
			Generic:          opts[0].Product,
			ConversionFactor: opts[0].ConversionFactor,
			GroupKey:         n.Key(),
			SupplyWeek:       week,
			Scope:            workflow.ScopeConsolidated,
			Lines:            []workflow.LineItem{{NecessityID: n.ID, SchoolID: n.SchoolID, OriginQuantity: n.RequestedQuantity, GenericQuantity: 3}},
			Status:           workflow.StatusNutritionistConfirmed,
		}
		if i == 3 {
			sub.Generic = workflow.ProductRef{}
		}
		require.NoError(t, f.store.CreateSubstitution(f.ctx, sub))
		ids = append(ids, sub.ID)
	}

	// WHEN
	res, err := f.svc.Release(f.ctx, workflow.RoleNutritionist, ids)

	// THEN: four released, the third reported
	assert.ErrorIs(t, err, workflow.ErrPartialBatchFailure)
	assert.Equal(t, 4, res.SuccessCount)
	require.Len(t, res.Failures(), 1)
	assert.Equal(t, workflow.SubstitutionID("S-W3"), res.Failures()[0].ID)
	assert.ErrorIs(t, res.Failures()[0].Err, workflow.ErrValidation)

	for i, id := range ids {
		want := workflow.StatusCoordinationPending
		if i == 2 {
			want = workflow.StatusNutritionistConfirmed
		}
		assert.Equal(t, want, f.substitution(t, id).Status, "%s", id)
	}
}

func TestApproveAll_NothingVisible(t *testing.T) {
	f := newFixture(t)
	f.threeSchools(t)
	f.saveRice(t)

	res, err := f.svc.ApproveAll(f.ctx, workflow.RoleCoordination, workflow.Filter{})

	assert.ErrorIs(t, err, workflow.ErrNoSubstitutionsFound)
	assert.Empty(t, res.Items)
}

func TestApproveAll_ForwardsEverythingVisible(t *testing.T) {
	f := newFixture(t)
	f.put(t, "N-1", "E-1", rice, 10)
	f.put(t, "N-2", "E-1", beans, 8)
	a := f.save(t, rice, cereals)
	b := f.save(t, beans, legumes)
	f.advance(t, a.ID, workflow.StatusCoordinationPending)
	f.advance(t, b.ID, workflow.StatusCoordinationPending)

	res, err := f.svc.ApproveAll(f.ctx, workflow.RoleCoordination, workflow.Filter{SupplyWeek: supplyWeek})

	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied())
	assert.Equal(t, workflow.StatusLogisticsPending, f.necessity(t, "N-2").Status)
}

// strandApproval leaves sub approved but not forwarded, the state a forward
// failing after the approval committed leaves behind.
func (f *fixture) strandApproval(t *testing.T, sub workflow.SubstitutionRecord) {
	t.Helper()
	f.advance(t, sub.ID, workflow.StatusCoordinationPending)
	require.NoError(t, f.store.SetSubstitutionStatus(f.ctx, sub.ID,
		workflow.StatusCoordinationPending, workflow.StatusCoordinationConfirmed, ""))
	for _, id := range sub.NecessityIDs() {
		require.NoError(t, f.store.SetNecessityStatus(f.ctx, id,
			workflow.StatusCoordinationPending, workflow.StatusCoordinationConfirmed))
	}
}

func TestApprove_ResumesStrandedForward(t *testing.T) {
	// GIVEN: rice approved but never forwarded
	f := newFixture(t)
	f.threeSchools(t)
	sub := f.saveRice(t)
	f.strandApproval(t, sub)

	// WHEN: coordination approves again
	err := f.svc.Approve(f.ctx, workflow.RoleCoordination, sub.ID)

	// THEN: the row reaches logistics with its necessities
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusLogisticsPending, f.substitution(t, sub.ID).Status)
	assert.Equal(t, workflow.StatusLogisticsPending, f.necessity(t, "N-2").Status)

	// AND: a second approve is a plain replay
	err = f.svc.Approve(f.ctx, workflow.RoleCoordination, sub.ID)
	var terr *workflow.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, workflow.StatusLogisticsPending, terr.Current)
}

func TestApprove_StrandedRowStillNeedsCoordination(t *testing.T) {
	f := newFixture(t)
	f.threeSchools(t)
	sub := f.saveRice(t)
	f.strandApproval(t, sub)

	err := f.svc.Approve(f.ctx, workflow.RoleLogistics, sub.ID)

	assert.ErrorIs(t, err, workflow.ErrStageLocked)
	assert.Equal(t, workflow.StatusCoordinationConfirmed, f.substitution(t, sub.ID).Status)
}

func TestApproveAll_FinishesStrandedRows(t *testing.T) {
	// GIVEN: one row waiting for approval, one approved but not forwarded
	f := newFixture(t)
	f.put(t, "N-1", "E-1", rice, 10)
	f.put(t, "N-2", "E-1", beans, 8)
	a := f.save(t, rice, cereals)
	b := f.save(t, beans, legumes)
	f.advance(t, a.ID, workflow.StatusCoordinationPending)
	f.strandApproval(t, b)

	// WHEN
	res, err := f.svc.ApproveAll(f.ctx, workflow.RoleCoordination, workflow.Filter{})

	// THEN: both reach logistics
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied())
	assert.Equal(t, workflow.StatusLogisticsPending, f.substitution(t, a.ID).Status)
	assert.Equal(t, workflow.StatusLogisticsPending, f.substitution(t, b.ID).Status)
	assert.Equal(t, workflow.StatusLogisticsPending, f.necessity(t, "N-2").Status)
}

func TestRejectMany_KeepsReason(t *testing.T) {
	f := newFixture(t)
	f.threeSchools(t)
	sub := f.saveRice(t)
	f.advance(t, sub.ID, workflow.StatusCoordinationPending)

	res, err := f.svc.RejectMany(f.ctx, workflow.RoleCoordination, []workflow.SubstitutionID{sub.ID}, "sem estoque")

	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied())
	got := f.substitution(t, sub.ID)
	assert.Equal(t, workflow.StatusNutritionistPending, got.Status)
	assert.Equal(t, "sem estoque", got.StatusNote)
}

func TestBulk_RequiresIDs(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ConfirmMany(f.ctx, workflow.RoleNutritionist, nil)
	assert.ErrorIs(t, err, workflow.ErrValidation)
	_, err = f.svc.Release(f.ctx, workflow.RoleNutritionist, nil)
	assert.ErrorIs(t, err, workflow.ErrValidation)
	_, err = f.svc.ApproveMany(f.ctx, workflow.RoleCoordination, nil)
	assert.ErrorIs(t, err, workflow.ErrValidation)
}

func TestStartAdjustments(t *testing.T) {
	// GIVEN: rice, beans and oil waiting; oil has no default generic
	f := newFixture(t)
	f.threeSchools(t)
	f.put(t, "N-4", "E-1", beans, 8)
	f.put(t, "N-5", "E-1", oil, 3)

	// WHEN
	res, err := f.svc.StartAdjustments(f.ctx, workflow.RoleNutritionist, workflow.Filter{SupplyWeek: supplyWeek})

	// THEN: rice and beans saved with their defaults, oil reported
	assert.ErrorIs(t, err, workflow.ErrPartialBatchFailure)
	assert.Equal(t, 2, res.SuccessCount)
	require.Len(t, res.Failures(), 1)
	assert.Equal(t, oil, res.Failures()[0].ID.OriginProductID)
	assert.ErrorIs(t, res.Failures()[0].Err, workflow.ErrValidation)

	subs, err := f.store.ListSubstitutions(f.ctx, workflow.Filter{})
	require.NoError(t, err)
	assert.Len(t, subs, 2)
	assert.Equal(t, workflow.StatusNutritionistPending, f.necessity(t, "N-4").Status)
	assert.Equal(t, workflow.StatusCreated, f.necessity(t, "N-5").Status)
}

func TestStartAdjustments_NothingWaiting(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.StartAdjustments(f.ctx, workflow.RoleNutritionist, workflow.Filter{})
	assert.ErrorIs(t, err, workflow.ErrValidation)
}

func TestStartAdjustments_NutritionistOnly(t *testing.T) {
	f := newFixture(t)
	f.threeSchools(t)

	_, err := f.svc.StartAdjustments(f.ctx, workflow.RoleCoordination, workflow.Filter{})

	assert.ErrorIs(t, err, workflow.ErrStageLocked)
}

func TestConfirmAll_Filtered(t *testing.T) {
	f := newFixture(t)
	f.put(t, "N-1", "E-1", rice, 10)
	f.put(t, "N-2", "E-1", beans, 8)
	a := f.save(t, rice, cereals)
	b := f.save(t, beans, legumes)

	res, err := f.svc.ConfirmAll(f.ctx, workflow.RoleNutritionist, workflow.Filter{ProductGroupID: cereals})

	require.NoError(t, err)
	assert.Equal(t, 1, res.Applied())
	assert.Equal(t, workflow.StatusNutritionistConfirmed, f.substitution(t, a.ID).Status)
	assert.Equal(t, workflow.StatusNutritionistPending, f.substitution(t, b.ID).Status)
}

func TestConfirmLogisticsAll_NothingPending(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ConfirmLogisticsAll(f.ctx, workflow.RoleLogistics, workflow.Filter{})
	assert.ErrorIs(t, err, workflow.ErrNoSubstitutionsFound)
}

func TestMarkPrinted_Idempotent(t *testing.T) {
	// GIVEN: one substitution confirmed by logistics
	f := newFixture(t)
	f.threeSchools(t)
	sub := f.saveRice(t)
	f.advance(t, sub.ID, workflow.StatusLogisticsConfirmed)

	// WHEN: printing twice
	first, err := f.svc.MarkPrinted(f.ctx, workflow.RoleLogistics, workflow.Filter{SupplyWeek: supplyWeek})
	require.NoError(t, err)
	second, err := f.svc.MarkPrinted(f.ctx, workflow.RoleLogistics, workflow.Filter{SupplyWeek: supplyWeek})
	require.NoError(t, err)

	// THEN: only the first call affected anything
	assert.Equal(t, 1, first.Applied())
	assert.Zero(t, second.Applied())
	assert.Equal(t, workflow.OutcomeEmpty, second.Outcome())
	assert.Equal(t, workflow.StatusPrintReleased, f.substitution(t, sub.ID).Status)
	assert.Equal(t, workflow.StatusPrintReleased, f.necessity(t, "N-1").Status)
	assert.Equal(t, 1.0, f.counter(t, "necessity_workflow_printed_total", nil))
}

func TestMarkPrinted_LogisticsOnly(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.MarkPrinted(f.ctx, workflow.RoleNutritionist, workflow.Filter{})
	assert.ErrorIs(t, err, workflow.ErrStageLocked)
}

func TestGenericOptions_RequiresOrigin(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GenericOptions(f.ctx, "")
	assert.ErrorIs(t, err, workflow.ErrValidation)

	opts, err := f.svc.GenericOptions(f.ctx, rice)
	require.NoError(t, err)
	require.Len(t, opts, 2)
	assert.True(t, opts[0].Default, "default first")
}
