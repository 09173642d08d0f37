package catalog

import "sort"

// DefaultMakes maps make names to the models carried by the seeded catalog.
var DefaultMakes = map[string][]string{
	"Toyota":        {"Corolla", "Corolla Cross", "Camry", "Etios", "Yaris", "Hilux", "SW4", "RAV4", "Prius"},
	"Volkswagen":    {"Gol", "Polo", "Virtus", "Vento", "Golf", "T-Cross", "Taos", "Tiguan", "Amarok", "Saveiro"},
	"Chevrolet":     {"Onix", "Prisma", "Cruze", "Tracker", "S10", "Spin", "Equinox", "Camaro"},
	"Ford":          {"Ka", "Fiesta", "Focus", "EcoSport", "Territory", "Kuga", "Ranger", "F-150", "Maverick", "Bronco", "Mustang"},
	"Fiat":          {"Cronos", "Argo", "Mobi", "Uno", "Palio", "Toro", "Strada", "Pulse", "Fastback"},
	"Renault":       {"Kwid", "Sandero", "Logan", "Stepway", "Duster", "Captur", "Koleos", "Alaskan", "Kangoo"},
	"Peugeot":       {"208", "2008", "308", "3008", "408", "5008", "Partner"},
	"Citroën":       {"C3", "C4 Cactus", "C4 Lounge", "Berlingo"},
	"Honda":         {"Civic", "City", "Fit", "HR-V", "CR-V", "WR-V", "Accord"},
	"Nissan":        {"March", "Versa", "Sentra", "Kicks", "X-Trail", "Frontier"},
	"Jeep":          {"Renegade", "Compass", "Commander", "Wrangler", "Grand Cherokee"},
	"Hyundai":       {"HB20", "Creta", "Tucson", "Santa Fe"},
	"Kia":           {"Rio", "Cerato", "Sportage", "Sorento", "Seltos"},
	"BMW":           {"Serie 1", "Serie 3", "Serie 5", "X1", "X3", "X5"},
	"Mercedes-Benz": {"Clase A", "Clase C", "Clase E", "GLA", "GLC", "Sprinter"},
	"Audi":          {"A1", "A3", "A4", "Q2", "Q3", "Q5"},
	"RAM":           {"1500", "2500", "Rampage"},
}

// DefaultEntries flattens DefaultMakes into sorted catalog entries.
func DefaultEntries() []Entry {
	var out []Entry
	for mk, models := range DefaultMakes {
		for _, m := range models {
			out = append(out, NewEntry(mk, m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}
