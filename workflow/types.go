/*
Package workflow provides the necessity substitution and approval engine.

PURPOSE:
  Turns raw per-school necessities (quantities of an origin product requested
  for a consumption week) into consolidated, substitutable procurement
  requests, routes them through the nutritionist, coordination and logistics
  stages, and finally releases them for printing as delivery manifests.

KEY CONCEPTS IN THIS FILE (types.go):
  - NecessityRecord: one demand line (school x origin product x week)
  - SubstitutionRecord: the generic product chosen for a consolidation key,
    with one line item per school necessity it covers
  - ConsolidationKey / SubstitutionKey: structured composite keys, compared
    by value (never concatenated strings)
  - ProductRef: denormalized product identity (id, name, unit)

DESIGN PRINCIPLES:
  1. Precision: quantities use decimal.Decimal, generic quantities are integers
  2. Explicit state: every record carries its Status; nothing is inferred from
     the presence of related rows
  3. Value semantics: records are copied in and out of the Store; selection
     state lives in maps keyed by record id, never on the entity
  4. No caching: consolidated views are recomputed from Store rows on every read

SEE ALSO:
  - status.go: stages, roles and ownership
  - statemachine.go: the single authority for status transitions
  - store.go: persistence interface
*/
package workflow

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type NecessityID string
type SubstitutionID string
type SchoolID string
type ProductID string
type GroupID string
type RouteID string

// ProductRef identifies a product together with the display fields that are
// denormalized onto records.
type ProductRef struct {
	ID   ProductID
	Name string
	Unit string
}

// IsZero reports whether no product is referenced.
func (p ProductRef) IsZero() bool { return p.ID == "" }

// =============================================================================
// KEYS
// =============================================================================

// ConsolidationKey identifies one row of the aggregated view spanning all
// schools.
type ConsolidationKey struct {
	OriginProductID ProductID
	ProductGroupID  GroupID
}

// Scope tells whether a substitution covers every school of a key or a single
// school that was individually overridden.
type Scope string

const (
	ScopeConsolidated Scope = "CONSOLIDATED"
	ScopeIndividual   Scope = "INDIVIDUAL"
)

func (s Scope) Valid() bool {
	return s == ScopeConsolidated || s == ScopeIndividual
}

// SubstitutionKey is the create-or-update key of a SubstitutionRecord.
// SchoolID is empty for consolidated substitutions.
type SubstitutionKey struct {
	ConsolidationKey
	SupplyWeek      string
	ConsumptionWeek string
	Scope           Scope
	SchoolID        SchoolID
}

// =============================================================================
// NECESSITY RECORD
// =============================================================================

// NecessityRecord is one demand line created upstream. The workflow mutates it
// in place (status, origin swap) but never deletes it.
type NecessityRecord struct {
	ID             NecessityID
	SchoolID       SchoolID
	SchoolName     string
	RouteID        RouteID
	Origin         ProductRef
	ProductGroupID GroupID

	RequestedQuantity decimal.Decimal
	// Baseline for delta display. Nil when the line was never adjusted.
	PreviousAdjustedQuantity *decimal.Decimal

	SupplyWeek      string
	ConsumptionWeek string
	Status          Status

	// Origin that was in place before the first swap. Nil when not swapped.
	SwappedOrigin *ProductRef

	UpdatedAt time.Time
}

// SwappedOriginProductID returns the retained pre-swap origin, or "".
func (n NecessityRecord) SwappedOriginProductID() ProductID {
	if n.SwappedOrigin == nil {
		return ""
	}
	return n.SwappedOrigin.ID
}

// Key returns the consolidation key of the record's current effective origin.
func (n NecessityRecord) Key() ConsolidationKey {
	return ConsolidationKey{OriginProductID: n.Origin.ID, ProductGroupID: n.ProductGroupID}
}

// PreviousOrZero treats a missing baseline as zero.
func (n NecessityRecord) PreviousOrZero() decimal.Decimal {
	if n.PreviousAdjustedQuantity == nil {
		return decimal.Zero
	}
	return *n.PreviousAdjustedQuantity
}

// Validate checks the record-level invariants.
func (n NecessityRecord) Validate() error {
	if n.ID == "" {
		return &ValidationError{Field: "id", Message: "necessity id is required"}
	}
	if n.RequestedQuantity.IsNegative() {
		return &ValidationError{Field: "requested_quantity", Message: "requested quantity must not be negative"}
	}
	if !n.Status.Valid() {
		return &ValidationError{Field: "status", Message: "unknown status " + string(n.Status)}
	}
	return nil
}

// Clone returns a copy that shares no pointers with n.
func (n NecessityRecord) Clone() NecessityRecord {
	out := n
	if n.PreviousAdjustedQuantity != nil {
		prev := *n.PreviousAdjustedQuantity
		out.PreviousAdjustedQuantity = &prev
	}
	if n.SwappedOrigin != nil {
		swapped := *n.SwappedOrigin
		out.SwappedOrigin = &swapped
	}
	return out
}

// =============================================================================
// SUBSTITUTION RECORD
// =============================================================================

// LineItem is one school's share of a substitution.
type LineItem struct {
	NecessityID     NecessityID
	SchoolID        SchoolID
	SchoolName      string
	RouteID         RouteID
	OriginQuantity  decimal.Decimal
	GenericQuantity int64
	// Set when GenericQuantity was overridden instead of computed.
	Adjusted bool
}

// SubstitutionRecord is the generic product chosen for a consolidation key.
// The same row travels through every stage; it is never duplicated.
type SubstitutionRecord struct {
	ID               SubstitutionID
	Origin           ProductRef
	Generic          ProductRef
	ConversionFactor decimal.Decimal
	GroupKey         ConsolidationKey
	SupplyWeek       string
	ConsumptionWeek  string
	Scope            Scope
	SchoolID         SchoolID
	Lines            []LineItem
	Status           Status
	// Reason given by the last rejection, kept for the nutritionist.
	StatusNote string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s SubstitutionRecord) Key() SubstitutionKey {
	return SubstitutionKey{
		ConsolidationKey: s.GroupKey,
		SupplyWeek:       s.SupplyWeek,
		ConsumptionWeek:  s.ConsumptionWeek,
		Scope:            s.Scope,
		SchoolID:         s.SchoolID,
	}
}

// HasGeneric reports whether a generic product was chosen.
func (s SubstitutionRecord) HasGeneric() bool { return !s.Generic.IsZero() }

func (s SubstitutionRecord) TotalOriginQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.Lines {
		total = total.Add(l.OriginQuantity)
	}
	return total
}

func (s SubstitutionRecord) TotalGenericQuantity() int64 {
	var total int64
	for _, l := range s.Lines {
		total += l.GenericQuantity
	}
	return total
}

// Line returns the line item for a necessity.
func (s SubstitutionRecord) Line(id NecessityID) (LineItem, bool) {
	for _, l := range s.Lines {
		if l.NecessityID == id {
			return l, true
		}
	}
	return LineItem{}, false
}

// NecessityIDs lists the necessities covered, in line order.
func (s SubstitutionRecord) NecessityIDs() []NecessityID {
	ids := make([]NecessityID, len(s.Lines))
	for i, l := range s.Lines {
		ids[i] = l.NecessityID
	}
	return ids
}

// Clone returns a copy whose Lines slice is not shared with s.
func (s SubstitutionRecord) Clone() SubstitutionRecord {
	out := s
	out.Lines = append([]LineItem(nil), s.Lines...)
	return out
}
