/*
Package catalog provides the product catalog used by the workflow.

PURPOSE:
  Holds origin products (the packaging a school requested), the product
  group each belongs to, and the generic procurement products that can stand
  in for them with a conversion factor. Implements workflow.Catalog.

JSON SCHEMA:
  {
    "groups": [{"id": "G-CEREAIS", "name": "Cereais"}],
    "origin_products": [
      {"id": "P-ARROZ-1KG", "name": "Arroz tipo 1 1kg", "unit": "PCT", "group_id": "G-CEREAIS"}
    ],
    "generic_products": [
      {
        "id": "GEN-ARROZ-FD", "name": "Arroz tipo 1 fardo", "unit": "FD",
        "substitutes": [
          {"origin_product_id": "P-ARROZ-1KG", "conversion_factor": "4", "default": true}
        ]
      }
    ]
  }

  conversion_factor accepts a JSON string or number and must be > 0. Each
  origin product has at most one default generic product.

USAGE:
  cat, err := catalog.Load("./catalog.json")
  opts, err := cat.GenericOptions(ctx, "P-ARROZ-1KG") // default first

SEE ALSO:
  - workflow/store.go: Catalog interface
  - workflow/conversion.go: default selection rule
*/
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/merenda/necessity-workflow/workflow"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

type CatalogJSON struct {
	Groups          []GroupJSON   `json:"groups"`
	OriginProducts  []OriginJSON  `json:"origin_products"`
	GenericProducts []GenericJSON `json:"generic_products"`
}

type GroupJSON struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type OriginJSON struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Unit    string `json:"unit"`
	GroupID string `json:"group_id"`
}

type GenericJSON struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Unit        string           `json:"unit"`
	Substitutes []SubstituteJSON `json:"substitutes"`
}

type SubstituteJSON struct {
	OriginProductID  string          `json:"origin_product_id"`
	ConversionFactor decimal.Decimal `json:"conversion_factor"`
	Default          bool            `json:"default,omitempty"`
}

// =============================================================================
// CATALOG
// =============================================================================

type Group struct {
	ID   workflow.GroupID
	Name string
}

// Catalog is safe for concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	groups  map[workflow.GroupID]Group
	origins map[workflow.ProductID]workflow.OriginProduct
	options map[workflow.ProductID][]workflow.GenericOption
}

func New() *Catalog {
	return &Catalog{
		groups:  make(map[workflow.GroupID]Group),
		origins: make(map[workflow.ProductID]workflow.OriginProduct),
		options: make(map[workflow.ProductID][]workflow.GenericOption),
	}
}

// Load reads a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse builds a catalog from its JSON form.
func Parse(data []byte) (*Catalog, error) {
	var cj CatalogJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}
	return FromJSON(cj)
}

func FromJSON(cj CatalogJSON) (*Catalog, error) {
	c := New()
	for _, g := range cj.Groups {
		c.AddGroup(Group{ID: workflow.GroupID(g.ID), Name: g.Name})
	}
	for _, o := range cj.OriginProducts {
		err := c.AddOrigin(workflow.OriginProduct{
			ProductRef: workflow.ProductRef{ID: workflow.ProductID(o.ID), Name: o.Name, Unit: o.Unit},
			GroupID:    workflow.GroupID(o.GroupID),
		})
		if err != nil {
			return nil, err
		}
	}
	for _, gp := range cj.GenericProducts {
		product := workflow.ProductRef{ID: workflow.ProductID(gp.ID), Name: gp.Name, Unit: gp.Unit}
		for _, s := range gp.Substitutes {
			err := c.AddSubstitute(product, workflow.ProductID(s.OriginProductID), s.ConversionFactor, s.Default)
			if err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

// ToJSON converts the catalog back to its JSON form.
func (c *Catalog) ToJSON() CatalogJSON {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var cj CatalogJSON
	for _, g := range c.groups {
		cj.Groups = append(cj.Groups, GroupJSON{ID: string(g.ID), Name: g.Name})
	}
	for _, o := range c.origins {
		cj.OriginProducts = append(cj.OriginProducts, OriginJSON{
			ID: string(o.ID), Name: o.Name, Unit: o.Unit, GroupID: string(o.GroupID),
		})
	}
	generics := make(map[workflow.ProductID]*GenericJSON)
	var order []workflow.ProductID
	for _, opts := range c.options {
		for _, o := range opts {
			gj, ok := generics[o.Product.ID]
			if !ok {
				gj = &GenericJSON{ID: string(o.Product.ID), Name: o.Product.Name, Unit: o.Product.Unit}
				generics[o.Product.ID] = gj
				order = append(order, o.Product.ID)
			}
			gj.Substitutes = append(gj.Substitutes, SubstituteJSON{
				OriginProductID:  string(o.OriginProductID),
				ConversionFactor: o.ConversionFactor,
				Default:          o.Default,
			})
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	for _, id := range order {
		gj := generics[id]
		sort.Slice(gj.Substitutes, func(i, j int) bool {
			return gj.Substitutes[i].OriginProductID < gj.Substitutes[j].OriginProductID
		})
		cj.GenericProducts = append(cj.GenericProducts, *gj)
	}
	sort.Slice(cj.Groups, func(i, j int) bool { return cj.Groups[i].ID < cj.Groups[j].ID })
	sort.Slice(cj.OriginProducts, func(i, j int) bool { return cj.OriginProducts[i].ID < cj.OriginProducts[j].ID })
	return cj
}

// =============================================================================
// BUILDING
// =============================================================================

func (c *Catalog) AddGroup(g Group) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups[g.ID] = g
}

func (c *Catalog) AddOrigin(o workflow.OriginProduct) error {
	if o.ID == "" {
		return &workflow.ValidationError{Field: "origin_products.id", Message: "id is required"}
	}
	if o.GroupID == "" {
		return &workflow.ValidationError{Field: "origin_products.group_id", Message: fmt.Sprintf("origin %s has no group", o.ID)}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.groups[o.GroupID]; !ok {
		c.groups[o.GroupID] = Group{ID: o.GroupID, Name: string(o.GroupID)}
	}
	c.origins[o.ID] = o
	return nil
}

// AddSubstitute registers generic as a substitute for origin.
func (c *Catalog) AddSubstitute(generic workflow.ProductRef, origin workflow.ProductID, factor decimal.Decimal, isDefault bool) error {
	if generic.ID == "" {
		return &workflow.ValidationError{Field: "generic_products.id", Message: "id is required"}
	}
	if !factor.IsPositive() {
		return &workflow.ConversionFactorError{GenericProductID: generic.ID, Factor: factor.String()}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.origins[origin]; !ok {
		return &workflow.NotFoundError{Kind: "origin product", ID: string(origin)}
	}
	opts := c.options[origin]
	for i, o := range opts {
		if isDefault && o.Default && o.Product.ID != generic.ID {
			return &workflow.ValidationError{
				Field:   "substitutes.default",
				Message: fmt.Sprintf("origin %s already defaults to %s", origin, o.Product.ID),
			}
		}
		if o.Product.ID == generic.ID {
			opts[i] = workflow.GenericOption{Product: generic, OriginProductID: origin, ConversionFactor: factor, Default: isDefault}
			c.options[origin] = opts
			return nil
		}
	}
	c.options[origin] = append(opts, workflow.GenericOption{
		Product: generic, OriginProductID: origin, ConversionFactor: factor, Default: isDefault,
	})
	return nil
}

// =============================================================================
// workflow.Catalog
// =============================================================================

func (c *Catalog) OriginProduct(_ context.Context, id workflow.ProductID) (workflow.OriginProduct, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.origins[id]
	if !ok {
		return workflow.OriginProduct{}, &workflow.NotFoundError{Kind: "origin product", ID: string(id)}
	}
	return o, nil
}

// GenericOptions lists the substitutes for origin: the default first, then by
// name. An origin without substitutes yields an empty list.
func (c *Catalog) GenericOptions(_ context.Context, origin workflow.ProductID) ([]workflow.GenericOption, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.origins[origin]; !ok {
		return nil, &workflow.NotFoundError{Kind: "origin product", ID: string(origin)}
	}
	out := append([]workflow.GenericOption(nil), c.options[origin]...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Default != out[j].Default {
			return out[i].Default
		}
		return out[i].Product.Name < out[j].Product.Name
	})
	return out, nil
}

// Groups lists product groups by id.
func (c *Catalog) Groups() []Group {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Group, 0, len(c.groups))
	for _, g := range c.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OriginsInGroup lists the origin products of a group, for swap pickers.
func (c *Catalog) OriginsInGroup(group workflow.GroupID) []workflow.OriginProduct {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []workflow.OriginProduct
	for _, o := range c.origins {
		if o.GroupID == group {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
