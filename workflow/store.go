/*
store.go - Persistence and collaborator interfaces

PURPOSE:
  Defines the boundary between the workflow rules and the relational store
  that holds necessity and substitution rows, plus the other external
  collaborators (product catalog, calendar, export).

SERIALIZATION POINT:
  Every status change goes through SetNecessityStatus / SetSubstitutionStatus,
  which are single-row compare-and-set writes: the row is only updated if it
  is still in the expected predecessor state. Two concurrent approvals of the
  same record therefore resolve cleanly - one wins, the other gets a
  *TransitionError and the row is left as the winner wrote it.

  Content edits (UpdateNecessity / UpdateSubstitution) carry the status the
  caller observed and fail the same way if the stage moved underneath them.

IMPLEMENTATIONS:
  - workflow/store/memory.go: in-memory, for tests and demos
  - store/sqlite/sqlite.go: SQLite via sqlx

SEE ALSO:
  - statemachine.go: the only caller of the Set*Status methods
*/
package workflow

import (
	"context"
	"io"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE
// =============================================================================

// Store is row-level access to necessity and substitution rows.
type Store interface {
	ListNecessities(ctx context.Context, filter Filter) ([]NecessityRecord, error)
	GetNecessity(ctx context.Context, id NecessityID) (NecessityRecord, error)
	// PutNecessity inserts or replaces a row. Used by upstream loaders.
	PutNecessity(ctx context.Context, rec NecessityRecord) error
	// UpdateNecessity writes rec only if the stored status equals expected.
	UpdateNecessity(ctx context.Context, rec NecessityRecord, expected Status) error
	SetNecessityStatus(ctx context.Context, id NecessityID, from, to Status) error

	ListSubstitutions(ctx context.Context, filter Filter) ([]SubstitutionRecord, error)
	GetSubstitution(ctx context.Context, id SubstitutionID) (SubstitutionRecord, error)
	// CreateSubstitution fails with ErrDuplicateKey if the key is taken.
	CreateSubstitution(ctx context.Context, rec SubstitutionRecord) error
	UpdateSubstitution(ctx context.Context, rec SubstitutionRecord, expected Status) error
	SetSubstitutionStatus(ctx context.Context, id SubstitutionID, from, to Status, note string) error
	DeleteSubstitution(ctx context.Context, id SubstitutionID, expected Status) error
}

// Filter narrows necessity and substitution queries. Zero fields match all.
type Filter struct {
	SchoolID        SchoolID
	OriginProductID ProductID
	ProductGroupID  GroupID
	SupplyWeek      string
	ConsumptionWeek string
	RouteID         RouteID
	Statuses        []Status
	// Substitutions only.
	Scope Scope
}

// MatchNecessity applies the filter to a necessity row.
func (f Filter) MatchNecessity(n NecessityRecord) bool {
	if f.SchoolID != "" && n.SchoolID != f.SchoolID {
		return false
	}
	if f.OriginProductID != "" && n.Origin.ID != f.OriginProductID {
		return false
	}
	if f.ProductGroupID != "" && n.ProductGroupID != f.ProductGroupID {
		return false
	}
	if f.SupplyWeek != "" && n.SupplyWeek != f.SupplyWeek {
		return false
	}
	if f.ConsumptionWeek != "" && n.ConsumptionWeek != f.ConsumptionWeek {
		return false
	}
	if f.RouteID != "" && n.RouteID != f.RouteID {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, n.Status) {
		return false
	}
	return true
}

// MatchSubstitution applies the filter to a substitution row. School and route
// match when any line item matches.
func (f Filter) MatchSubstitution(s SubstitutionRecord) bool {
	if f.OriginProductID != "" && s.GroupKey.OriginProductID != f.OriginProductID {
		return false
	}
	if f.ProductGroupID != "" && s.GroupKey.ProductGroupID != f.ProductGroupID {
		return false
	}
	if f.SupplyWeek != "" && s.SupplyWeek != f.SupplyWeek {
		return false
	}
	if f.ConsumptionWeek != "" && s.ConsumptionWeek != f.ConsumptionWeek {
		return false
	}
	if f.Scope != "" && s.Scope != f.Scope {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, s.Status) {
		return false
	}
	if f.SchoolID != "" || f.RouteID != "" {
		found := false
		for _, l := range s.Lines {
			if (f.SchoolID == "" || l.SchoolID == f.SchoolID) && (f.RouteID == "" || l.RouteID == f.RouteID) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// findSubstitution looks a substitution up by its create-or-update key.
func findSubstitution(ctx context.Context, store Store, key SubstitutionKey) (SubstitutionRecord, bool, error) {
	subs, err := store.ListSubstitutions(ctx, Filter{
		OriginProductID: key.OriginProductID,
		ProductGroupID:  key.ProductGroupID,
		SupplyWeek:      key.SupplyWeek,
		ConsumptionWeek: key.ConsumptionWeek,
		Scope:           key.Scope,
	})
	if err != nil {
		return SubstitutionRecord{}, false, err
	}
	for _, s := range subs {
		if s.Key() == key {
			return s, true, nil
		}
	}
	return SubstitutionRecord{}, false, nil
}

// =============================================================================
// PRODUCT CATALOG
// =============================================================================

// OriginProduct is a purchasing-origin product and the group it belongs to.
type OriginProduct struct {
	ProductRef
	GroupID GroupID
}

// GenericOption links a generic product to one origin product.
type GenericOption struct {
	Product          ProductRef
	OriginProductID  ProductID
	ConversionFactor decimal.Decimal
	// Default marks the standard choice for the origin product.
	Default bool
}

// Catalog answers product questions. Implemented by package catalog.
type Catalog interface {
	OriginProduct(ctx context.Context, id ProductID) (OriginProduct, error)
	// GenericOptions lists the generic products an origin can be substituted
	// by, default first.
	GenericOptions(ctx context.Context, origin ProductID) ([]GenericOption, error)
}

// =============================================================================
// CALENDAR
// =============================================================================

// Calendar maps supply weeks to consumption weeks. Keys are opaque strings.
type Calendar interface {
	ConsumptionWeekFor(ctx context.Context, supplyWeek string) (string, error)
	SupplyWeekFor(ctx context.Context, consumptionWeek string) (string, error)
}

// =============================================================================
// EXPORT
// =============================================================================

// Exporter renders a manifest as a downloadable document.
type Exporter interface {
	ContentType() string
	Export(ctx context.Context, w io.Writer, m Manifest) error
}
