package normalize

import (
	"context"
	"testing"

	"github.com/WessleyAI/pricing-engine/engine/catalog"
)

func TestFuzzyMatcher(t *testing.T) {
	m := NewFuzzyMatcher()
	entries := catalog.DefaultEntries()
	tests := []struct {
		brand, model string
		want         []string
	}{
		{"Toyota", "Corolla XEi 2.0 CVT", []string{"toyota-corolla"}},
		{"toyota", "COROLA", []string{"toyota-corolla"}},
		{"Toyota", "Corolla Cross SEG", []string{"toyota-corolla-cross"}},
		{"VW", "Amarok V6 Highline", []string{"volkswagen-amarok"}},
		{"Toyta", "Hilux", []string{"toyota-hilux"}},
		{"Citroen", "C4 Cactus Feel", []string{"citroen-c4-cactus"}},
		{"Toyota", "Mustang", nil},
		{"Chevrolet", "Serie 3", nil},
		{"Toyota", "", nil},
		{"", "Corolla", nil},
	}
	for _, tt := range tests {
		t.Run(tt.brand+"/"+tt.model, func(t *testing.T) {
			got := m.Match(context.Background(), tt.brand, tt.model, entries)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i, e := range got {
				if e.ModelID != tt.want[i] {
					t.Fatalf("got %s, want %s", e.ModelID, tt.want[i])
				}
			}
		})
	}
}

func TestFuzzyMatcherReturnsTies(t *testing.T) {
	entries := []catalog.Entry{
		catalog.NewEntry("Toyota", "Hilux SRV"),
		catalog.NewEntry("Toyota", "Hilux SRX"),
		catalog.NewEntry("Toyota", "Etios"),
	}
	got := NewFuzzyMatcher().Match(context.Background(), "Toyota", "Hilux", entries)
	if len(got) != 2 {
		t.Fatalf("expected both Hilux trims, got %v", got)
	}
}

func TestStaticRates(t *testing.T) {
	r := StaticRates{Base: "ars", Rates: map[string]float64{"USD": 1000}}
	tests := []struct {
		amount   float64
		currency string
		want     float64
		err      bool
	}{
		{100, "ARS", 100, false},
		{100, "", 100, false},
		{20, "usd", 20000, false},
		{20, "EUR", 0, true},
	}
	for _, tt := range tests {
		got, err := r.ToBase(tt.amount, tt.currency)
		if (err != nil) != tt.err || got != tt.want {
			t.Errorf("ToBase(%v, %q) = %v, %v", tt.amount, tt.currency, got, err)
		}
	}
}
