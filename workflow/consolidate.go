package workflow

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// QUANTITY CONSOLIDATOR
// =============================================================================

// ConsolidatedGroup aggregates the necessities sharing a consolidation key.
// Derived on every read, never persisted.
type ConsolidatedGroup struct {
	Key                   ConsolidationKey
	Origin                ProductRef
	TotalQuantity         decimal.Decimal
	TotalPreviousQuantity decimal.Decimal
	SchoolCount           int
	Members               []NecessityRecord
}

// Delta is the change against the previous adjustment baseline.
func (g ConsolidatedGroup) Delta() decimal.Decimal {
	return g.TotalQuantity.Sub(g.TotalPreviousQuantity)
}

// MemberIDs lists the member necessities in order.
func (g ConsolidatedGroup) MemberIDs() []NecessityID {
	ids := make([]NecessityID, len(g.Members))
	for i, m := range g.Members {
		ids[i] = m.ID
	}
	return ids
}

// Consolidate groups records by (origin product, product group) and sums the
// requested and baseline quantities. Output is ordered by key so the result
// does not depend on input order.
func Consolidate(records []NecessityRecord) []ConsolidatedGroup {
	return consolidateBy(records, func(n NecessityRecord) groupingKey {
		return groupingKey{ConsolidationKey: n.Key()}
	})
}

// SchoolGroup is a ConsolidatedGroup restricted to one school.
type SchoolGroup struct {
	SchoolID SchoolID
	ConsolidatedGroup
}

// ConsolidateBySchool groups by (origin product, product group, school).
func ConsolidateBySchool(records []NecessityRecord) []SchoolGroup {
	var out []SchoolGroup
	byKey := consolidateBy(records, func(n NecessityRecord) groupingKey {
		return groupingKey{ConsolidationKey: n.Key(), school: n.SchoolID}
	})
	for _, g := range byKey {
		out = append(out, SchoolGroup{SchoolID: g.Members[0].SchoolID, ConsolidatedGroup: g})
	}
	return out
}

type groupingKey struct {
	ConsolidationKey
	school SchoolID
}

func consolidateBy(records []NecessityRecord, keyOf func(NecessityRecord) groupingKey) []ConsolidatedGroup {
	index := make(map[groupingKey]*ConsolidatedGroup)
	schools := make(map[groupingKey]map[SchoolID]struct{})
	var keys []groupingKey

	for _, rec := range records {
		k := keyOf(rec)
		g, ok := index[k]
		if !ok {
			g = &ConsolidatedGroup{
				Key:                   k.ConsolidationKey,
				Origin:                rec.Origin,
				TotalQuantity:         decimal.Zero,
				TotalPreviousQuantity: decimal.Zero,
			}
			index[k] = g
			schools[k] = make(map[SchoolID]struct{})
			keys = append(keys, k)
		}
		g.TotalQuantity = g.TotalQuantity.Add(rec.RequestedQuantity)
		g.TotalPreviousQuantity = g.TotalPreviousQuantity.Add(rec.PreviousOrZero())
		g.Members = append(g.Members, rec.Clone())
		schools[k][rec.SchoolID] = struct{}{}
	}

	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.OriginProductID != b.OriginProductID {
			return a.OriginProductID < b.OriginProductID
		}
		if a.ProductGroupID != b.ProductGroupID {
			return a.ProductGroupID < b.ProductGroupID
		}
		return a.school < b.school
	})

	out := make([]ConsolidatedGroup, 0, len(keys))
	for _, k := range keys {
		g := index[k]
		g.SchoolCount = len(schools[k])
		sort.SliceStable(g.Members, func(i, j int) bool { return g.Members[i].ID < g.Members[j].ID })
		out = append(out, *g)
	}
	return out
}
