package importer

import "github.com/WessleyAI/pricing-engine/pkg/vehiclenlp"

// Canonical sheet names, as shipped in the template.
const (
	MarketSheet    = "Datos de Mercado"
	ReferenceSheet = "Precios de Referencia"
)

type field int

const (
	colBrand field = iota
	colModel
	colYear
	colPrice
	colMileage
	colLocation
	colCurrency
	colMinPrice
	colMaxPrice
)

type column struct {
	field    field
	header   string   // template header
	aliases  []string // folded
	required bool
}

type layout struct {
	name    string
	aliases []string // folded sheet names
	columns []column
}

var (
	brandCol    = column{colBrand, "Marca", []string{"marca", "brand", "make"}, true}
	modelCol    = column{colModel, "Modelo", []string{"modelo", "model"}, true}
	yearCol     = column{colYear, "Año", []string{"ano", "anio", "year"}, true}
	currencyCol = column{colCurrency, "Moneda", []string{"moneda", "currency"}, false}
)

var marketLayout = layout{
	name:    MarketSheet,
	aliases: []string{"datos de mercado", "market data"},
	columns: []column{
		brandCol, modelCol, yearCol,
		{colPrice, "Precio", []string{"precio", "price"}, true},
		{colMileage, "Kilometraje", []string{"kilometraje", "mileage", "km"}, false},
		{colLocation, "Ubicación", []string{"ubicacion", "location"}, false},
		currencyCol,
	},
}

var referenceLayout = layout{
	name:    ReferenceSheet,
	aliases: []string{"precios de referencia", "reference prices"},
	columns: []column{
		brandCol, modelCol, yearCol,
		{colMinPrice, "Precio Mínimo", []string{"precio minimo", "min price", "minimum price"}, true},
		{colMaxPrice, "Precio Máximo", []string{"precio maximo", "max price", "maximum price"}, true},
		currencyCol,
	},
}

var layouts = []layout{marketLayout, referenceLayout}

// layoutFor matches a workbook sheet name to a known layout.
func layoutFor(sheet string) (layout, bool) {
	name := vehiclenlp.Fold(sheet)
	for _, l := range layouts {
		for _, a := range l.aliases {
			if name == a {
				return l, true
			}
		}
	}
	return layout{}, false
}

// headerIndex maps each field to its column position in the header row.
func (l layout) headerIndex(header []string) map[field]int {
	idx := make(map[field]int)
	for pos, h := range header {
		folded := vehiclenlp.Fold(h)
		for _, c := range l.columns {
			if _, seen := idx[c.field]; seen {
				continue
			}
			for _, a := range c.aliases {
				if folded == a {
					idx[c.field] = pos
				}
			}
		}
	}
	return idx
}

func (l layout) headers() []string {
	out := make([]string, len(l.columns))
	for i, c := range l.columns {
		out[i] = c.header
	}
	return out
}
