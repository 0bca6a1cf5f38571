package workflow

import (
	"context"
	"sort"
)

// StoreCalendar answers week lookups from the necessities already stored.
// The week a necessity was loaded under is the authoritative mapping; an
// unknown week resolves to "".
type StoreCalendar struct {
	Store Store
}

func (c StoreCalendar) ConsumptionWeekFor(ctx context.Context, supplyWeek string) (string, error) {
	if supplyWeek == "" {
		return "", &ValidationError{Field: "supply_week", Message: "supply week is required"}
	}
	recs, err := c.Store.ListNecessities(ctx, Filter{SupplyWeek: supplyWeek})
	if err != nil {
		return "", err
	}
	return firstWeek(recs, func(n NecessityRecord) string { return n.ConsumptionWeek }), nil
}

func (c StoreCalendar) SupplyWeekFor(ctx context.Context, consumptionWeek string) (string, error) {
	if consumptionWeek == "" {
		return "", &ValidationError{Field: "consumption_week", Message: "consumption week is required"}
	}
	recs, err := c.Store.ListNecessities(ctx, Filter{ConsumptionWeek: consumptionWeek})
	if err != nil {
		return "", err
	}
	return firstWeek(recs, func(n NecessityRecord) string { return n.SupplyWeek }), nil
}

// firstWeek picks the smallest non-empty week so the answer does not depend
// on row order.
func firstWeek(recs []NecessityRecord, week func(NecessityRecord) string) string {
	var weeks []string
	for _, r := range recs {
		if w := week(r); w != "" {
			weeks = append(weeks, w)
		}
	}
	if len(weeks) == 0 {
		return ""
	}
	sort.Strings(weeks)
	return weeks[0]
}
