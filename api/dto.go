/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the workflow model (which carries no JSON tags) from the external contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Envelopes

ENVELOPES:
  Every response carries "success" and an optional "message".
  Bulk operations answer with BatchResponse, which adds success_count,
  failure_count, skipped_count and one entry per attempted id in items[].

QUANTITIES:
  Origin quantities and conversion factors are decimals and are encoded as
  JSON strings ("12.5") so no precision is lost. Generic quantities are
  integers.

SEE ALSO:
  - handlers.go: Uses these types
  - workflow/types.go: Domain records
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/merenda/necessity-workflow/workflow"
)

// =============================================================================
// ENVELOPES
// =============================================================================

// Response wraps single-record and read responses.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// BatchItemDTO is the outcome for one id of a bulk operation.
type BatchItemDTO struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// BatchResponse wraps bulk operation results.
type BatchResponse struct {
	Success      bool           `json:"success"`
	Message      string         `json:"message,omitempty"`
	Operation    string         `json:"operation"`
	Outcome      string         `json:"outcome"`
	SuccessCount int            `json:"success_count"`
	FailureCount int            `json:"failure_count"`
	SkippedCount int            `json:"skipped_count"`
	Items        []BatchItemDTO `json:"items"`
}

// =============================================================================
// RECORDS
// =============================================================================

type ProductDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Unit string `json:"unit"`
}

type GroupDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type NecessityDTO struct {
	ID                       string           `json:"id"`
	SchoolID                 string           `json:"school_id"`
	SchoolName               string           `json:"school_name"`
	RouteID                  string           `json:"route_id"`
	Origin                   ProductDTO       `json:"origin_product"`
	ProductGroupID           string           `json:"product_group_id"`
	RequestedQuantity        decimal.Decimal  `json:"requested_quantity"`
	PreviousAdjustedQuantity *decimal.Decimal `json:"previous_adjusted_quantity,omitempty"`
	SupplyWeek               string           `json:"supply_week"`
	ConsumptionWeek          string           `json:"consumption_week"`
	Status                   string           `json:"status"`
	SwappedOrigin            *ProductDTO      `json:"swapped_origin_product,omitempty"`
	UpdatedAt                time.Time        `json:"updated_at"`
}

type LineItemDTO struct {
	NecessityID     string          `json:"necessity_id"`
	SchoolID        string          `json:"school_id"`
	SchoolName      string          `json:"school_name"`
	RouteID         string          `json:"route_id"`
	OriginQuantity  decimal.Decimal `json:"origin_quantity"`
	GenericQuantity int64           `json:"generic_quantity"`
	Adjusted        bool            `json:"adjusted"`
}

type SubstitutionDTO struct {
	ID                   string          `json:"id"`
	Origin               ProductDTO      `json:"origin_product"`
	Generic              *ProductDTO     `json:"generic_product,omitempty"`
	ConversionFactor     decimal.Decimal `json:"conversion_factor"`
	GroupOriginProductID string          `json:"group_origin_product_id"`
	ProductGroupID       string          `json:"product_group_id"`
	SupplyWeek           string          `json:"supply_week"`
	ConsumptionWeek      string          `json:"consumption_week"`
	Scope                string          `json:"scope"`
	SchoolID             string          `json:"school_id,omitempty"`
	Status               string          `json:"status"`
	StatusNote           string          `json:"status_note,omitempty"`
	TotalOriginQuantity  decimal.Decimal `json:"total_origin_quantity"`
	TotalGenericQuantity int64           `json:"total_generic_quantity"`
	Lines                []LineItemDTO   `json:"lines"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

type GenericOptionDTO struct {
	Product          ProductDTO      `json:"generic_product"`
	OriginProductID  string          `json:"origin_product_id"`
	ConversionFactor decimal.Decimal `json:"conversion_factor"`
	Default          bool            `json:"default"`
}

type ConsolidatedRowDTO struct {
	OriginProduct           ProductDTO          `json:"origin_product"`
	ProductGroupID          string              `json:"product_group_id"`
	TotalQuantity           decimal.Decimal     `json:"total_quantity"`
	TotalPreviousQuantity   decimal.Decimal     `json:"total_previous_quantity"`
	Delta                   decimal.Decimal     `json:"delta"`
	SchoolCount             int                 `json:"school_count"`
	NecessityIDs            []string            `json:"necessity_ids"`
	DefaultGeneric          *GenericOptionDTO   `json:"default_generic,omitempty"`
	ProposedGenericQuantity int64               `json:"proposed_generic_quantity"`
	SubstitutionIDs         []string            `json:"substitution_ids"`
	CoveredCount            int                 `json:"covered_count"`
	Releasable              bool                `json:"releasable"`
	Schools                 []SchoolSubtotalDTO `json:"schools"`
}

type SchoolSubtotalDTO struct {
	SchoolID                string          `json:"school_id"`
	TotalQuantity           decimal.Decimal `json:"total_quantity"`
	NecessityIDs            []string        `json:"necessity_ids"`
	ProposedGenericQuantity int64           `json:"proposed_generic_quantity"`
}

type ConsolidatedViewDTO struct {
	Rows []ConsolidatedRowDTO `json:"rows"`
	// Pre-selected generic product id per necessity id.
	Selections map[string]string `json:"selections"`
}

// =============================================================================
// MANIFESTS
// =============================================================================

type ManifestLineDTO struct {
	SubstitutionID  string          `json:"substitution_id"`
	NecessityID     string          `json:"necessity_id"`
	SchoolID        string          `json:"school_id"`
	SchoolName      string          `json:"school_name"`
	RouteID         string          `json:"route_id"`
	ProductGroupID  string          `json:"product_group_id"`
	Origin          ProductDTO      `json:"origin_product"`
	Generic         ProductDTO      `json:"generic_product"`
	OriginQuantity  decimal.Decimal `json:"origin_quantity"`
	GenericQuantity int64           `json:"generic_quantity"`
	SupplyWeek      string          `json:"supply_week"`
	ConsumptionWeek string          `json:"consumption_week"`
	Status          string          `json:"status"`
}

type SchoolManifestDTO struct {
	SchoolID   string            `json:"school_id"`
	SchoolName string            `json:"school_name"`
	RouteID    string            `json:"route_id"`
	Lines      []ManifestLineDTO `json:"lines"`
}

type GroupItemDTO struct {
	Product         ProductDTO      `json:"generic_product"`
	GenericQuantity int64           `json:"generic_quantity"`
	OriginQuantity  decimal.Decimal `json:"origin_quantity"`
	SchoolCount     int             `json:"school_count"`
}

type GroupManifestDTO struct {
	ProductGroupID string            `json:"product_group_id"`
	Items          []GroupItemDTO    `json:"items"`
	Sources        []ManifestLineDTO `json:"sources"`
}

type ManifestDTO struct {
	Mode        string              `json:"mode"`
	Statuses    []string            `json:"statuses"`
	GeneratedAt time.Time           `json:"generated_at"`
	LineCount   int                 `json:"line_count"`
	Schools     []SchoolManifestDTO `json:"schools,omitempty"`
	Groups      []GroupManifestDTO  `json:"groups,omitempty"`
}

// =============================================================================
// REQUESTS
// =============================================================================

// FilterDTO narrows bulk operations that act on "everything visible".
type FilterDTO struct {
	SchoolID        string   `json:"school_id,omitempty"`
	OriginProductID string   `json:"origin_product_id,omitempty"`
	ProductGroupID  string   `json:"product_group_id,omitempty"`
	SupplyWeek      string   `json:"supply_week,omitempty"`
	ConsumptionWeek string   `json:"consumption_week,omitempty"`
	RouteID         string   `json:"route_id,omitempty"`
	Statuses        []string `json:"statuses,omitempty"`
	Scope           string   `json:"scope,omitempty"`
}

type SaveSubstitutionRequest struct {
	OriginProductID  string `json:"origin_product_id"`
	ProductGroupID   string `json:"product_group_id"`
	SupplyWeek       string `json:"supply_week"`
	ConsumptionWeek  string `json:"consumption_week"`
	Scope            string `json:"scope"`
	SchoolID         string `json:"school_id,omitempty"`
	GenericProductID string `json:"generic_product_id"`
}

type AdjustLineRequest struct {
	GenericQuantity *int64 `json:"generic_quantity"`
}

// BulkRequest selects substitutions either by id or, when no ids are given,
// by filter (for operations that support "all visible").
type BulkRequest struct {
	SubstitutionIDs []string  `json:"substitution_ids,omitempty"`
	Filter          FilterDTO `json:"filter"`
	Reason          string    `json:"reason,omitempty"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

// GroupSelectorDTO selects every necessity of one consolidated row.
type GroupSelectorDTO struct {
	OriginProductID string `json:"origin_product_id"`
	ProductGroupID  string `json:"product_group_id"`
	SupplyWeek      string `json:"supply_week"`
	ConsumptionWeek string `json:"consumption_week,omitempty"`
}

type SwapRequest struct {
	NecessityIDs       []string          `json:"necessity_ids,omitempty"`
	Group              *GroupSelectorDTO `json:"group,omitempty"`
	NewOriginProductID string            `json:"new_origin_product_id"`
}

type UndoSwapRequest struct {
	NecessityIDs []string `json:"necessity_ids"`
}

type PrintRequest struct {
	Filter FilterDTO `json:"filter"`
}

// ScenarioDTO describes an available demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// CONVERSION
// =============================================================================

func toProductDTO(p workflow.ProductRef) ProductDTO {
	return ProductDTO{ID: string(p.ID), Name: p.Name, Unit: p.Unit}
}

func toNecessityDTO(n workflow.NecessityRecord) NecessityDTO {
	dto := NecessityDTO{
		ID:                       string(n.ID),
		SchoolID:                 string(n.SchoolID),
		SchoolName:               n.SchoolName,
		RouteID:                  string(n.RouteID),
		Origin:                   toProductDTO(n.Origin),
		ProductGroupID:           string(n.ProductGroupID),
		RequestedQuantity:        n.RequestedQuantity,
		PreviousAdjustedQuantity: n.PreviousAdjustedQuantity,
		SupplyWeek:               n.SupplyWeek,
		ConsumptionWeek:          n.ConsumptionWeek,
		Status:                   string(n.Status),
		UpdatedAt:                n.UpdatedAt,
	}
	if n.SwappedOrigin != nil {
		p := toProductDTO(*n.SwappedOrigin)
		dto.SwappedOrigin = &p
	}
	return dto
}

func toSubstitutionDTO(s workflow.SubstitutionRecord) SubstitutionDTO {
	dto := SubstitutionDTO{
		ID:                   string(s.ID),
		Origin:               toProductDTO(s.Origin),
		ConversionFactor:     s.ConversionFactor,
		GroupOriginProductID: string(s.GroupKey.OriginProductID),
		ProductGroupID:       string(s.GroupKey.ProductGroupID),
		SupplyWeek:           s.SupplyWeek,
		ConsumptionWeek:      s.ConsumptionWeek,
		Scope:                string(s.Scope),
		SchoolID:             string(s.SchoolID),
		Status:               string(s.Status),
		StatusNote:           s.StatusNote,
		TotalOriginQuantity:  s.TotalOriginQuantity(),
		TotalGenericQuantity: s.TotalGenericQuantity(),
		Lines:                make([]LineItemDTO, len(s.Lines)),
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
	}
	if s.HasGeneric() {
		p := toProductDTO(s.Generic)
		dto.Generic = &p
	}
	for i, l := range s.Lines {
		dto.Lines[i] = LineItemDTO{
			NecessityID:     string(l.NecessityID),
			SchoolID:        string(l.SchoolID),
			SchoolName:      l.SchoolName,
			RouteID:         string(l.RouteID),
			OriginQuantity:  l.OriginQuantity,
			GenericQuantity: l.GenericQuantity,
			Adjusted:        l.Adjusted,
		}
	}
	return dto
}

func toGenericOptionDTO(o workflow.GenericOption) GenericOptionDTO {
	return GenericOptionDTO{
		Product:          toProductDTO(o.Product),
		OriginProductID:  string(o.OriginProductID),
		ConversionFactor: o.ConversionFactor,
		Default:          o.Default,
	}
}

func toConsolidatedViewDTO(v workflow.ConsolidatedView) ConsolidatedViewDTO {
	dto := ConsolidatedViewDTO{
		Rows:       make([]ConsolidatedRowDTO, len(v.Rows)),
		Selections: make(map[string]string, len(v.Selections)),
	}
	for i, row := range v.Rows {
		r := ConsolidatedRowDTO{
			OriginProduct:           toProductDTO(row.Origin),
			ProductGroupID:          string(row.Key.ProductGroupID),
			TotalQuantity:           row.TotalQuantity,
			TotalPreviousQuantity:   row.TotalPreviousQuantity,
			Delta:                   row.Delta(),
			SchoolCount:             row.SchoolCount,
			NecessityIDs:            stringsOf(row.MemberIDs()),
			ProposedGenericQuantity: row.ProposedGenericQuantity,
			SubstitutionIDs:         stringsOf(row.SubstitutionIDs),
			CoveredCount:            row.CoveredCount,
			Releasable:              row.Releasable,
		}
		if row.DefaultGeneric != nil {
			opt := toGenericOptionDTO(*row.DefaultGeneric)
			r.DefaultGeneric = &opt
		}
		r.Schools = make([]SchoolSubtotalDTO, len(row.Schools))
		for j, s := range row.Schools {
			r.Schools[j] = SchoolSubtotalDTO{
				SchoolID:                string(s.SchoolID),
				TotalQuantity:           s.TotalQuantity,
				NecessityIDs:            stringsOf(s.MemberIDs()),
				ProposedGenericQuantity: s.ProposedGenericQuantity,
			}
		}
		dto.Rows[i] = r
	}
	for id, product := range v.Selections {
		dto.Selections[string(id)] = string(product)
	}
	return dto
}

func toManifestLineDTO(l workflow.ManifestLine) ManifestLineDTO {
	return ManifestLineDTO{
		SubstitutionID:  string(l.SubstitutionID),
		NecessityID:     string(l.NecessityID),
		SchoolID:        string(l.SchoolID),
		SchoolName:      l.SchoolName,
		RouteID:         string(l.RouteID),
		ProductGroupID:  string(l.GroupID),
		Origin:          toProductDTO(l.Origin),
		Generic:         toProductDTO(l.Generic),
		OriginQuantity:  l.OriginQuantity,
		GenericQuantity: l.GenericQuantity,
		SupplyWeek:      l.SupplyWeek,
		ConsumptionWeek: l.ConsumptionWeek,
		Status:          string(l.Status),
	}
}

func toManifestLineDTOs(lines []workflow.ManifestLine) []ManifestLineDTO {
	out := make([]ManifestLineDTO, len(lines))
	for i, l := range lines {
		out[i] = toManifestLineDTO(l)
	}
	return out
}

func toManifestDTO(m workflow.Manifest) ManifestDTO {
	dto := ManifestDTO{
		Mode:        string(m.Mode),
		Statuses:    stringsOf(m.Statuses),
		GeneratedAt: m.GeneratedAt,
		LineCount:   m.LineCount(),
	}
	for _, s := range m.Schools {
		dto.Schools = append(dto.Schools, SchoolManifestDTO{
			SchoolID:   string(s.SchoolID),
			SchoolName: s.SchoolName,
			RouteID:    string(s.RouteID),
			Lines:      toManifestLineDTOs(s.Lines),
		})
	}
	for _, g := range m.Groups {
		gd := GroupManifestDTO{
			ProductGroupID: string(g.GroupID),
			Items:          make([]GroupItemDTO, len(g.Items)),
			Sources:        toManifestLineDTOs(g.Sources),
		}
		for i, it := range g.Items {
			gd.Items[i] = GroupItemDTO{
				Product:         toProductDTO(it.Product),
				GenericQuantity: it.GenericQuantity,
				OriginQuantity:  it.OriginQuantity,
				SchoolCount:     it.SchoolCount,
			}
		}
		dto.Groups = append(dto.Groups, gd)
	}
	return dto
}

func stringsOf[T ~string](in []T) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

func typedOf[T ~string](in []string) []T {
	if len(in) == 0 {
		return nil
	}
	out := make([]T, len(in))
	for i, v := range in {
		out[i] = T(v)
	}
	return out
}
