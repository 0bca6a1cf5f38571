/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with a realistic
	week of school necessities, written against the demo catalog
	(catalog.DemoJSON). Every necessity starts in CREATED.

AVAILABLE SCENARIOS:

	school-week: Three schools on two routes, one supply week. Rice is
	             10 / 15 / 5 packs (30 in total, 8 bales of 4kg).
	two-weeks:   school-week plus the following supply week, with a 5kg
	             rice line that converts under a different generic.

HOW SCENARIOS WORK:
 1. Reset the store (clear all rows)
 2. Resolve each product through the catalog (name, unit, group)
 3. Put one necessity per school, product and week

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "school-week"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler
  - catalog/demo.go: Products the scenarios reference
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/merenda/necessity-workflow/workflow"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "school-week",
		Name:        "School Week",
		Description: "Three schools, one supply week: rice, beans and oil waiting for substitution",
	},
	{
		ID:          "two-weeks",
		Name:        "Two Weeks",
		Description: "School week plus the next supply week with a second rice presentation",
	},
}

type demoSchool struct {
	id    workflow.SchoolID
	name  string
	route workflow.RouteID
}

var demoSchools = []demoSchool{
	{id: "E-001", name: "Escola Municipal Aurora", route: "R-01"},
	{id: "E-002", name: "Escola Estadual Bela Vista", route: "R-01"},
	{id: "E-003", name: "Creche Monteiro Lobato", route: "R-02"},
}

// demoLine is one origin product requested by every demo school, quantities
// in demoSchools order.
type demoLine struct {
	origin     workflow.ProductID
	quantities []int64
}

type demoWeek struct {
	supply      string
	consumption string
	lines       []demoLine
}

var schoolWeek = demoWeek{
	supply:      "2025-W10",
	consumption: "2025-W11",
	lines: []demoLine{
		{origin: "P-ARROZ-1KG", quantities: []int64{10, 15, 5}},
		{origin: "P-FEIJAO-1KG", quantities: []int64{8, 6, 4}},
		{origin: "P-OLEO-900ML", quantities: []int64{3, 2, 1}},
	},
}

var followingWeek = demoWeek{
	supply:      "2025-W11",
	consumption: "2025-W12",
	lines: []demoLine{
		{origin: "P-ARROZ-1KG", quantities: []int64{12, 14, 6}},
		{origin: "P-ARROZ-5KG", quantities: []int64{3, 0, 2}},
		{origin: "P-FEIJAO-1KG", quantities: []int64{9, 7, 5}},
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()
	writeOK(w, current, scenarios)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeFailure(w, "Invalid request body", err)
		return
	}

	var weeks []demoWeek
	switch req.ScenarioID {
	case "school-week":
		weeks = []demoWeek{schoolWeek}
	case "two-weeks":
		weeks = []demoWeek{schoolWeek, followingWeek}
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.Store.Reset(ctx); err != nil {
		h.writeFailure(w, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""

	n, err := h.loadWeeks(ctx, weeks)
	if err != nil {
		h.writeFailure(w, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}
	h.currentScenario = req.ScenarioID
	h.Logger.Info("scenario loaded", zap.String("scenario", req.ScenarioID), zap.Int("necessities", n))

	writeOK(w, "Scenario loaded", map[string]any{"scenario": req.ScenarioID, "necessities": n})
}

// loadWeeks puts one CREATED necessity per school and non-zero quantity.
func (h *Handler) loadWeeks(ctx context.Context, weeks []demoWeek) (int, error) {
	now := time.Now().UTC()
	n := 0
	for _, wk := range weeks {
		for _, line := range wk.lines {
			origin, err := h.Catalog.OriginProduct(ctx, line.origin)
			if err != nil {
				return n, err
			}
			for i, school := range demoSchools {
				if i >= len(line.quantities) || line.quantities[i] == 0 {
					continue
				}
				rec := workflow.NecessityRecord{
					ID:                workflow.NecessityID(fmt.Sprintf("N-%s-%s-%s", wk.supply, school.id, line.origin)),
					SchoolID:          school.id,
					SchoolName:        school.name,
					RouteID:           school.route,
					Origin:            origin.ProductRef,
					ProductGroupID:    origin.GroupID,
					RequestedQuantity: decimal.NewFromInt(line.quantities[i]),
					SupplyWeek:        wk.supply,
					ConsumptionWeek:   wk.consumption,
					Status:            workflow.StatusCreated,
					UpdatedAt:         now,
				}
				if err := h.Store.PutNecessity(ctx, rec); err != nil {
					return n, err
				}
				n++
			}
		}
	}
	return n, nil
}
