package catalog

// DemoJSON is the catalog loaded when no catalog file is configured. The
// demo scenarios in package api are written against it.
const DemoJSON = `{
  "groups": [
    {"id": "G-CEREAIS", "name": "Cereais"},
    {"id": "G-LEGUMINOSAS", "name": "Leguminosas"},
    {"id": "G-OLEOS", "name": "Óleos"}
  ],
  "origin_products": [
    {"id": "P-ARROZ-1KG", "name": "Arroz tipo 1 1kg", "unit": "PCT", "group_id": "G-CEREAIS"},
    {"id": "P-ARROZ-5KG", "name": "Arroz tipo 1 5kg", "unit": "PCT", "group_id": "G-CEREAIS"},
    {"id": "P-FEIJAO-1KG", "name": "Feijão carioca 1kg", "unit": "PCT", "group_id": "G-LEGUMINOSAS"},
    {"id": "P-OLEO-900ML", "name": "Óleo de soja 900ml", "unit": "UN", "group_id": "G-OLEOS"}
  ],
  "generic_products": [
    {
      "id": "GEN-ARROZ-FD4", "name": "Arroz tipo 1 fardo 4kg", "unit": "FD",
      "substitutes": [
        {"origin_product_id": "P-ARROZ-1KG", "conversion_factor": "4", "default": true}
      ]
    },
    {
      "id": "GEN-ARROZ-FD10", "name": "Arroz tipo 1 fardo 10kg", "unit": "FD",
      "substitutes": [
        {"origin_product_id": "P-ARROZ-1KG", "conversion_factor": "10"},
        {"origin_product_id": "P-ARROZ-5KG", "conversion_factor": "2", "default": true}
      ]
    },
    {
      "id": "GEN-FEIJAO-FD", "name": "Feijão carioca fardo 10kg", "unit": "FD",
      "substitutes": [
        {"origin_product_id": "P-FEIJAO-1KG", "conversion_factor": "10", "default": true}
      ]
    },
    {
      "id": "GEN-OLEO-CX", "name": "Óleo de soja caixa 20un", "unit": "CX",
      "substitutes": [
        {"origin_product_id": "P-OLEO-900ML", "conversion_factor": "20"}
      ]
    }
  ]
}`

// Demo parses DemoJSON.
func Demo() (*Catalog, error) {
	return Parse([]byte(DemoJSON))
}
