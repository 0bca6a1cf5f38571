package workflow_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/merenda/necessity-workflow/catalog"
	"github.com/merenda/necessity-workflow/workflow"
	"github.com/merenda/necessity-workflow/workflow/store"
)

const (
	supplyWeek      = "2025-W10"
	consumptionWeek = "2025-W11"

	rice     workflow.ProductID = "P-ARROZ-1KG"
	rice5kg  workflow.ProductID = "P-ARROZ-5KG"
	beans    workflow.ProductID = "P-FEIJAO-1KG"
	oil      workflow.ProductID = "P-OLEO-900ML"
	cereals  workflow.GroupID   = "G-CEREAIS"
	legumes  workflow.GroupID   = "G-LEGUMINOSAS"
	oils     workflow.GroupID   = "G-OLEOS"
	riceBale workflow.ProductID = "GEN-ARROZ-FD4"
)

type fixture struct {
	ctx     context.Context
	store   *store.Memory
	catalog *catalog.Catalog
	svc     *workflow.Service
	reg     *prometheus.Registry
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat, err := catalog.Demo()
	require.NoError(t, err)

	var seq atomic.Int64
	f := &fixture{
		ctx:     context.Background(),
		store:   store.NewMemory(),
		catalog: cat,
		reg:     prometheus.NewRegistry(),
		now:     time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC),
	}
	f.svc = workflow.NewService(workflow.Dependencies{
		Store:       f.store,
		Catalog:     cat,
		Metrics:     workflow.NewMetrics(f.reg),
		Concurrency: 4,
		Clock:       func() time.Time { return f.now },
		NewID:       func() string { return fmt.Sprintf("S-%d", seq.Add(1)) },
	})
	return f
}

// put stores a necessity for one of the demo origins, in CREATED unless a
// status is given.
func (f *fixture) put(t *testing.T, id workflow.NecessityID, school workflow.SchoolID, origin workflow.ProductID, qty int64, status ...workflow.Status) workflow.NecessityRecord {
	t.Helper()
	o, err := f.catalog.OriginProduct(f.ctx, origin)
	require.NoError(t, err)
	st := workflow.StatusCreated
	if len(status) > 0 {
		st = status[0]
	}
	rec := workflow.NecessityRecord{
		ID:                id,
		SchoolID:          school,
		SchoolName:        "Escola " + string(school),
		RouteID:           "R-01",
		Origin:            o.ProductRef,
		ProductGroupID:    o.GroupID,
		RequestedQuantity: decimal.NewFromInt(qty),
		SupplyWeek:        supplyWeek,
		ConsumptionWeek:   consumptionWeek,
		Status:            st,
	}
	require.NoError(t, f.store.PutNecessity(f.ctx, rec))
	return rec
}

// threeSchools loads rice for three schools: 10, 15 and 5 packs.
func (f *fixture) threeSchools(t *testing.T) {
	t.Helper()
	f.put(t, "N-1", "E-1", rice, 10)
	f.put(t, "N-2", "E-2", rice, 15)
	f.put(t, "N-3", "E-3", rice, 5)
}

func consolidatedKey(origin workflow.ProductID, group workflow.GroupID) workflow.SubstitutionKey {
	return workflow.SubstitutionKey{
		ConsolidationKey: workflow.ConsolidationKey{OriginProductID: origin, ProductGroupID: group},
		SupplyWeek:       supplyWeek,
		ConsumptionWeek:  consumptionWeek,
		Scope:            workflow.ScopeConsolidated,
	}
}

// saveRice saves the consolidated rice substitution with the default generic.
func (f *fixture) saveRice(t *testing.T) workflow.SubstitutionRecord {
	t.Helper()
	rec, err := f.svc.SaveSubstitution(f.ctx, workflow.RoleNutritionist, workflow.SaveRequest{Key: consolidatedKey(rice, cereals)})
	require.NoError(t, err)
	return rec
}

// advance drives a substitution from NUTRITIONIST_PENDING to target.
func (f *fixture) advance(t *testing.T, id workflow.SubstitutionID, target workflow.Status) {
	t.Helper()
	steps := []struct {
		until workflow.Status
		run   func() error
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
		if s.until == target {
			return
		}
	}
	t.Fatalf("cannot advance to %s", target)
}

func (f *fixture) substitution(t *testing.T, id workflow.SubstitutionID) workflow.SubstitutionRecord {
	t.Helper()
	rec, err := f.store.GetSubstitution(f.ctx, id)
	require.NoError(t, err)
	return rec
}

func (f *fixture) necessity(t *testing.T, id workflow.NecessityID) workflow.NecessityRecord {
	t.Helper()
	rec, err := f.store.GetNecessity(f.ctx, id)
	require.NoError(t, err)
	return rec
}

// counter reads a counter from the fixture registry; labels must match
// exactly.
func (f *fixture) counter(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := f.reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			match := len(m.GetLabel()) == len(labels)
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					match = false
				}
			}
			if match {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}
