package workflow

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// UNIT CONVERSION RESOLVER
// =============================================================================

// Convert returns the generic quantity to procure for an origin quantity:
// the smallest integer n with n * factor >= originQuantity. Procurement never
// under-orders, so this is a ceiling, not a rounding.
func Convert(originQuantity, conversionFactor decimal.Decimal) (int64, error) {
	if !conversionFactor.IsPositive() {
		return 0, &ConversionFactorError{Factor: conversionFactor.String()}
	}
	if originQuantity.IsNegative() {
		return 0, &ValidationError{Field: "origin_quantity", Message: "must not be negative"}
	}
	// Integer quotient with an exact remainder; Div would round at
	// DivisionPrecision digits first.
	q, r := originQuantity.QuoRem(conversionFactor, 0)
	if r.IsPositive() {
		q = q.Add(decimal.NewFromInt(1))
	}
	return q.IntPart(), nil
}

// Resolver picks generic products for origin products using the catalog.
type Resolver struct {
	Catalog Catalog
}

func NewResolver(catalog Catalog) *Resolver {
	return &Resolver{Catalog: catalog}
}

// DefaultOption returns the generic product marked as standard for origin.
func (r *Resolver) DefaultOption(ctx context.Context, origin ProductID) (GenericOption, bool, error) {
	opts, err := r.Catalog.GenericOptions(ctx, origin)
	if err != nil {
		return GenericOption{}, false, err
	}
	for _, o := range opts {
		if o.Default {
			return o, true, nil
		}
	}
	return GenericOption{}, false, nil
}

// Resolve returns the option for genericID, or the default when genericID is
// empty. A missing selection with no default is a ValidationError.
func (r *Resolver) Resolve(ctx context.Context, origin, genericID ProductID) (GenericOption, error) {
	var (
		opt   GenericOption
		found bool
	)
	if genericID == "" {
		var err error
		opt, found, err = r.DefaultOption(ctx, origin)
		if err != nil {
			return GenericOption{}, err
		}
		if !found {
			return GenericOption{}, &ValidationError{
				Field:   "generic_product_id",
				Message: fmt.Sprintf("no generic product selected and origin %s has no default", origin),
			}
		}
	} else {
		opts, err := r.Catalog.GenericOptions(ctx, origin)
		if err != nil {
			return GenericOption{}, err
		}
		for _, o := range opts {
			if o.Product.ID == genericID {
				opt, found = o, true
				break
			}
		}
		if !found {
			return GenericOption{}, &ValidationError{
				Field:   "generic_product_id",
				Message: fmt.Sprintf("generic product %s is not a substitute for origin %s", genericID, origin),
			}
		}
	}
	if !opt.ConversionFactor.IsPositive() {
		return GenericOption{}, &ConversionFactorError{
			GenericProductID: opt.Product.ID,
			Factor:           opt.ConversionFactor.String(),
		}
	}
	return opt, nil
}

// Selections holds the chosen generic product per necessity. It lives beside
// the records, never on them.
type Selections map[NecessityID]ProductID

// DefaultSelections pre-selects the default generic product for every member
// of every group. Members whose origin has no default are left out.
func (r *Resolver) DefaultSelections(ctx context.Context, groups []ConsolidatedGroup) (Selections, error) {
	sel := make(Selections)
	defaults := make(map[ProductID]ProductID)
	for _, g := range groups {
		origin := g.Key.OriginProductID
		genericID, seen := defaults[origin]
		if !seen {
			opt, ok, err := r.DefaultOption(ctx, origin)
			if err != nil {
				return nil, err
			}
			if ok {
				genericID = opt.Product.ID
			}
			defaults[origin] = genericID
		}
		if genericID == "" {
			continue
		}
		for _, m := range g.Members {
			sel[m.ID] = genericID
		}
	}
	return sel, nil
}
