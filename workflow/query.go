package workflow

import (
	"context"
	"sort"
)

// =============================================================================
// WORKFLOW QUERY SERVICE - role-scoped read side
// =============================================================================
//
// Every call goes to the Store; nothing is cached between calls. A role only
// sees rows in the stages it can reach (Role.NecessityStatuses and
// Role.SubstitutionStatuses). A requested status outside that set yields an
// empty result, never a widened one.

type QueryService struct {
	store    Store
	resolver *Resolver
}

func NewQueryService(store Store, resolver *Resolver) *QueryService {
	return &QueryService{store: store, resolver: resolver}
}

// scope intersects filter.Statuses with visible. ok is false when the
// intersection is empty.
func scope(filter Filter, visible []Status) (Filter, bool) {
	filter.Statuses = narrowStatuses(visible, filter.Statuses)
	return filter, len(filter.Statuses) > 0
}

func (q *QueryService) Necessities(ctx context.Context, role Role, filter Filter) ([]NecessityRecord, error) {
	f, ok := scope(filter, role.NecessityStatuses())
	if !ok {
		return nil, nil
	}
	return q.store.ListNecessities(ctx, f)
}

func (q *QueryService) Substitutions(ctx context.Context, role Role, filter Filter) ([]SubstitutionRecord, error) {
	f, ok := scope(filter, role.SubstitutionStatuses())
	if !ok {
		return nil, nil
	}
	return q.store.ListSubstitutions(ctx, f)
}

// ConsolidatedRow is one row of the consolidated view with the state the
// editing screen needs next to it.
type ConsolidatedRow struct {
	ConsolidatedGroup
	// Default generic option for the origin, nil when the origin has none.
	DefaultGeneric *GenericOption
	// ceil(TotalQuantity / default factor); zero without a default.
	ProposedGenericQuantity int64
	SubstitutionIDs         []SubstitutionID
	CoveredCount            int
	// Releasable is true when every member has a saved substitution with a
	// generic product.
	Releasable bool
	// Per-school split of the row, ordered by school.
	Schools []SchoolSubtotal
}

// SchoolSubtotal is one school's share of a consolidated row. The proposed
// quantity is converted per school, the way a saved line is.
type SchoolSubtotal struct {
	SchoolGroup
	ProposedGenericQuantity int64
}

type ConsolidatedView struct {
	Rows []ConsolidatedRow
	// Pre-selected generic product per necessity.
	Selections Selections
}

// ConsolidatedView groups the role's visible necessities and annotates each
// group with its default generic product and substitution coverage.
func (q *QueryService) ConsolidatedView(ctx context.Context, role Role, filter Filter) (ConsolidatedView, error) {
	recs, err := q.Necessities(ctx, role, filter)
	if err != nil {
		return ConsolidatedView{}, err
	}
	groups := Consolidate(recs)
	sel, err := q.resolver.DefaultSelections(ctx, groups)
	if err != nil {
		return ConsolidatedView{}, err
	}

	subFilter := filter
	subFilter.Statuses = nil
	subFilter.SchoolID = ""
	subFilter.RouteID = ""
	subs, err := q.Substitutions(ctx, role, subFilter)
	if err != nil {
		return ConsolidatedView{}, err
	}
	covered := coverage(subs)
	byNecessity := make(map[NecessityID][]SubstitutionID)
	for _, s := range subs {
		for _, l := range s.Lines {
			byNecessity[l.NecessityID] = append(byNecessity[l.NecessityID], s.ID)
		}
	}

	view := ConsolidatedView{Selections: sel}
	for _, g := range groups {
		row := ConsolidatedRow{ConsolidatedGroup: g}
		opt, ok, err := q.resolver.DefaultOption(ctx, g.Key.OriginProductID)
		if err != nil {
			return ConsolidatedView{}, err
		}
		if ok {
			row.DefaultGeneric = &opt
			if n, err := Convert(g.TotalQuantity, opt.ConversionFactor); err == nil {
				row.ProposedGenericQuantity = n
			}
		}
		for _, sg := range ConsolidateBySchool(g.Members) {
			st := SchoolSubtotal{SchoolGroup: sg}
			if ok {
				if n, err := Convert(sg.TotalQuantity, opt.ConversionFactor); err == nil {
					st.ProposedGenericQuantity = n
				}
			}
			row.Schools = append(row.Schools, st)
		}
		seen := make(map[SubstitutionID]bool)
		for _, m := range g.Members {
			if covered[m.ID] {
				row.CoveredCount++
			}
			for _, id := range byNecessity[m.ID] {
				if !seen[id] {
					seen[id] = true
					row.SubstitutionIDs = append(row.SubstitutionIDs, id)
				}
			}
		}
		row.Releasable = len(g.Members) > 0 && row.CoveredCount == len(g.Members)
		view.Rows = append(view.Rows, row)
	}
	return view, nil
}

// =============================================================================
// REFERENCE LISTS
// =============================================================================

// AvailableGroups lists the product groups that have rows the role can act on.
func (q *QueryService) AvailableGroups(ctx context.Context, role Role, filter Filter) ([]GroupID, error) {
	set := make(map[GroupID]struct{})
	err := q.eachReachable(ctx, role, filter, func(n NecessityRecord) {
		set[n.ProductGroupID] = struct{}{}
	}, func(s SubstitutionRecord) {
		set[s.GroupKey.ProductGroupID] = struct{}{}
	})
	if err != nil {
		return nil, err
	}
	out := make([]GroupID, 0, len(set))
	for g := range set {
		if g != "" {
			out = append(out, g)
		}
	}
	SortNames(out)
	return out, nil
}

// AvailableSupplyWeeks lists supply weeks, most recent first.
func (q *QueryService) AvailableSupplyWeeks(ctx context.Context, role Role, filter Filter) ([]string, error) {
	set := make(map[string]struct{})
	err := q.eachReachable(ctx, role, filter, func(n NecessityRecord) {
		set[n.SupplyWeek] = struct{}{}
	}, func(s SubstitutionRecord) {
		set[s.SupplyWeek] = struct{}{}
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(set))
	for w := range set {
		if w != "" {
			out = append(out, w)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}

// AvailableRoutes lists delivery routes.
func (q *QueryService) AvailableRoutes(ctx context.Context, role Role, filter Filter) ([]RouteID, error) {
	set := make(map[RouteID]struct{})
	err := q.eachReachable(ctx, role, filter, func(n NecessityRecord) {
		set[n.RouteID] = struct{}{}
	}, func(s SubstitutionRecord) {
		for _, l := range s.Lines {
			if filter.SchoolID == "" || l.SchoolID == filter.SchoolID {
				set[l.RouteID] = struct{}{}
			}
		}
	})
	if err != nil {
		return nil, err
	}
	out := make([]RouteID, 0, len(set))
	for r := range set {
		if r != "" {
			out = append(out, r)
		}
	}
	SortNames(out)
	return out, nil
}

// eachReachable visits the rows a role's reference lists derive from: the
// nutritionist works from necessities not yet released, later stages from
// their substitutions.
func (q *QueryService) eachReachable(ctx context.Context, role Role, filter Filter, necessity func(NecessityRecord), substitution func(SubstitutionRecord)) error {
	filter.Statuses = nil
	if role == RoleNutritionist {
		recs, err := q.Necessities(ctx, role, filter)
		if err != nil {
			return err
		}
		for _, r := range recs {
			necessity(r)
		}
		return nil
	}
	subs, err := q.Substitutions(ctx, role, filter)
	if err != nil {
		return err
	}
	for _, s := range subs {
		substitution(s)
	}
	return nil
}
