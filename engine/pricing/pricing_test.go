package pricing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/WessleyAI/pricing-engine/engine/catalog"
	"github.com/WessleyAI/pricing-engine/engine/domain"
	"github.com/WessleyAI/pricing-engine/engine/store"
)

var at = time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

type fixture struct {
	mem *store.Memory
	an  *Analyzer
	sim *Simulator
	seq int
}

func newFixture(cfg Config) *fixture {
	mem := store.NewMemory()
	an := NewAnalyzer(mem, catalog.NewStatic(catalog.DefaultEntries()), cfg, nil)
	return &fixture{mem: mem, an: an, sim: NewSimulator(an, nil)}
}

func (f *fixture) add(t *testing.T, src domain.Source, model string, year int, price float64, mileage *int) {
	t.Helper()
	f.seq++
	rawID := fmt.Sprintf("raw-%d", f.seq)
	e := catalog.NewEntry("Toyota", model)
	m := domain.MarketListing{
		ID: store.MarketID(rawID), RawID: rawID, Source: src,
		BrandID: e.BrandID, ModelID: e.ModelID, Year: year, Price: price,
		Mileage: mileage, Active: true, NormalizedAt: at,
	}
	if err := f.mem.Accept(context.Background(), m, domain.RawState{RawID: rawID, Outcome: domain.OutcomeNormalized}); err != nil {
		t.Fatal(err)
	}
}

func corolla(list float64) domain.Vehicle {
	return domain.Vehicle{ID: "v1", BrandID: "toyota", ModelID: "toyota-corolla", Year: 2020, Mileage: 40000, ListPrice: list, InStock: true}
}

func corollaCohort(t *testing.T, f *fixture) {
	for _, p := range []float64{18000, 19000, 21000, 22000} {
		f.add(t, domain.SourceMercadoLibre, "Corolla", 2020, p, nil)
	}
}

func TestMedianMean(t *testing.T) {
	if got := Median([]float64{400, 100, 300, 200}); got != 250 {
		t.Fatalf("even median = %v", got)
	}
	if got := Median([]float64{300, 100, 200}); got != 200 {
		t.Fatalf("odd median = %v", got)
	}
	if Median(nil) != 0 || Mean(nil) != 0 {
		t.Fatal("empty input should yield 0")
	}
	xs := []float64{3, 1, 2}
	Median(xs)
	if xs[0] != 3 {
		t.Fatal("Median must not reorder its input")
	}
	if Mean([]float64{1, 2, 3, 4}) != 2.5 {
		t.Fatal("mean")
	}
}

func TestClassifyBoundaries(t *testing.T) {
	for _, median := range []float64{20000, 30000, 12340, 240} {
		tests := []struct {
			price float64
			want  domain.Competitiveness
		}{
			{median * 95 / 100, domain.Competitive},
			{median * 105 / 100, domain.Competitive},
			{median, domain.Competitive},
			{median*0.95 - 0.01, domain.VeryCompetitive},
			{median*1.05 + 0.01, domain.Expensive},
		}
		for _, tt := range tests {
			if got := Classify(tt.price, median); got != tt.want {
				t.Errorf("Classify(%v, %v) = %s, want %s", tt.price, median, got, tt.want)
			}
		}
	}
}

func TestClassifyEdgesOnGrid(t *testing.T) {
	for m := 1000.0; m <= 60000; m += 0.5 {
		edges := []float64{0.95 * m, 1.05 * m, m * 95 / 100, m * 105 / 100}
		if m == math.Trunc(m) {
			// whole-unit medians put both edges on whole cents
			edges = append(edges, math.Round(m*95)/100, math.Round(m*105)/100)
		}
		for _, p := range edges {
			if got := Classify(p, m); got != domain.Competitive {
				t.Fatalf("Classify(%v, %v) = %s, want %s", p, m, got, domain.Competitive)
			}
		}
		if got := Classify(0.95*m-0.01, m); got != domain.VeryCompetitive {
			t.Fatalf("Classify(%v, %v) = %s", 0.95*m-0.01, m, got)
		}
		if got := Classify(1.05*m+0.01, m); got != domain.Expensive {
			t.Fatalf("Classify(%v, %v) = %s", 1.05*m+0.01, m, got)
		}
	}

	for _, tt := range []struct{ price, median float64 }{
		{1053.15, 1003},
		{952.85, 1003},
		{2.8499999999999996, 3},
		{3.1500000000000004, 3},
	} {
		if got := Classify(tt.price, tt.median); got != domain.Competitive {
			t.Errorf("Classify(%v, %v) = %s, want %s", tt.price, tt.median, got, domain.Competitive)
		}
	}
}

func TestAnalyzeCorollaScenario(t *testing.T) {
	f := newFixture(Config{})
	corollaCohort(t, f)
	ctx := context.Background()

	pa, err := f.an.Analyze(ctx, corolla(20000))
	if err != nil {
		t.Fatal(err)
	}
	if pa.Competitiveness != domain.Competitive || pa.ComparableCount != 4 {
		t.Fatalf("unexpected analysis %+v", pa)
	}
	if *pa.MarketMedian != 20000 || *pa.MarketMean != 20000 || *pa.SuggestedPrice != 20000 {
		t.Fatalf("unexpected stats: median=%v mean=%v suggested=%v", *pa.MarketMedian, *pa.MarketMean, *pa.SuggestedPrice)
	}
	if !approx(pa.CurrentMargin, 3000) || !approx(*pa.SuggestedMargin, 3000) {
		t.Fatalf("margins = %v / %v", pa.CurrentMargin, *pa.SuggestedMargin)
	}
	if pa.MileageAdjustment != 0 {
		t.Fatal("no comparable has mileage, expected no adjustment")
	}

	pa, _ = f.an.Analyze(ctx, corolla(23000))
	if pa.Competitiveness != domain.Expensive {
		t.Fatalf("23000 should be caro, got %s", pa.Competitiveness)
	}
	if !approx(*pa.SuggestedMargin, 20000-0.85*23000) {
		t.Fatalf("suggested margin uses list price cost basis, got %v", *pa.SuggestedMargin)
	}

	pa, _ = f.an.Analyze(ctx, corolla(18000))
	if pa.Competitiveness != domain.VeryCompetitive {
		t.Fatalf("18000 should be muy_competitivo, got %s", pa.Competitiveness)
	}
}

func TestAnalyzeEmptyCohort(t *testing.T) {
	f := newFixture(Config{})
	f.add(t, domain.SourceAutocosmos, "Corolla", 2014, 9000, nil)
	for _, list := range []float64{1, 20000, 1e7} {
		pa, err := f.an.Analyze(context.Background(), corolla(list))
		if err != nil {
			t.Fatal(err)
		}
		if pa.Competitiveness != domain.NoData || pa.SuggestedPrice != nil || pa.MarketMedian != nil || pa.MarketMean != nil || pa.SuggestedMargin != nil {
			t.Fatalf("list %v: expected sin_datos with nil stats, got %+v", list, pa)
		}
		if !approx(pa.CurrentMargin, list-0.85*list) {
			t.Fatalf("current margin = %v", pa.CurrentMargin)
		}
	}
}

func TestAnalyzeInvalidVehicle(t *testing.T) {
	f := newFixture(Config{})
	v := corolla(20000)
	v.ModelID = "toyota-supra"
	_, err := f.an.Analyze(context.Background(), v)
	var ive *domain.InvalidVehicleError
	if !errors.As(err, &ive) || ive.ModelID != "toyota-supra" {
		t.Fatalf("expected InvalidVehicleError, got %v", err)
	}
	if !errors.Is(err, domain.ErrInvalidVehicle) {
		t.Fatal("should match sentinel")
	}
}

func TestAnalyzeExactYearConfig(t *testing.T) {
	f := newFixture(Config{YearWindow: -1})
	corollaCohort(t, f)
	f.add(t, domain.SourceAutocosmos, "Corolla", 2021, 30000, nil)
	f.add(t, domain.SourceAutocosmos, "Corolla", 2019, 10000, nil)

	pa, err := f.an.Analyze(context.Background(), corolla(20000))
	if err != nil {
		t.Fatal(err)
	}
	if pa.ComparableCount != 4 || pa.YearWindow != 0 {
		t.Fatalf("exact year cohort: %+v", pa)
	}
}

func TestAnalyzeYearWindowAndReferenceFilter(t *testing.T) {
	f := newFixture(Config{})
	corollaCohort(t, f)
	f.add(t, domain.SourceAutocosmos, "Corolla", 2022, 30000, nil)
	f.add(t, domain.SourceExcelRef, "Corolla", 2021, 10000, nil)
	f.add(t, domain.SourceMercadoLibre, "Corolla Cross", 2020, 50000, nil)
	ctx := context.Background()

	pa, _ := f.an.Analyze(ctx, corolla(20000))
	if pa.ComparableCount != 5 || pa.YearWindow != 1 {
		t.Fatalf("default window: %+v", pa)
	}
	pa, _ = f.an.Analyze(ctx, corolla(20000), WithYearWindow(2))
	if pa.ComparableCount != 6 || pa.YearWindow != 2 {
		t.Fatalf("wider window: %+v", pa)
	}
	pa, _ = f.an.Analyze(ctx, corolla(20000), WithoutReferencePrices())
	if pa.ComparableCount != 4 {
		t.Fatalf("reference rows should be excluded: %+v", pa)
	}
}

func TestAnalyzeMileageAdjustment(t *testing.T) {
	f := newFixture(Config{MileageRate: 0.1})
	f.add(t, domain.SourceMercadoLibre, "Corolla", 2020, 20000, domain.IntPtr(20000))
	f.add(t, domain.SourceMercadoLibre, "Corolla", 2020, 20000, domain.IntPtr(40000))
	f.add(t, domain.SourceMercadoLibre, "Corolla", 2020, 20000, nil)

	v := corolla(20000)
	v.Mileage = 50000
	pa, err := f.an.Analyze(context.Background(), v)
	if err != nil {
		t.Fatal(err)
	}
	if !approx(pa.MileageAdjustment, 2000) {
		t.Fatalf("ajuste_km = %v, want 2000", pa.MileageAdjustment)
	}
	if *pa.RawSuggestedPrice != 20000 || !approx(*pa.SuggestedPrice, 18000) {
		t.Fatalf("raw=%v suggested=%v", *pa.RawSuggestedPrice, *pa.SuggestedPrice)
	}

	v.Mileage = 10000
	pa, _ = f.an.Analyze(context.Background(), v)
	if pa.MileageAdjustment != 0 {
		t.Fatal("below-average mileage is not rewarded")
	}

	v.Mileage = 10_000_000
	pa, _ = f.an.Analyze(context.Background(), v)
	if *pa.SuggestedPrice != 0 {
		t.Fatalf("suggested price must not go negative, got %v", *pa.SuggestedPrice)
	}
}

func TestAnalyzeAll(t *testing.T) {
	f := newFixture(Config{Workers: 2})
	corollaCohort(t, f)
	vehicles := []domain.Vehicle{
		{ID: "a", BrandID: "toyota", ModelID: "toyota-corolla", Year: 2020, ListPrice: 23000, InStock: true},
		{ID: "sold", BrandID: "toyota", ModelID: "toyota-corolla", Year: 2020, ListPrice: 1, InStock: false},
		{ID: "b", BrandID: "toyota", ModelID: "toyota-hilux", Year: 2020, ListPrice: 30000, InStock: true},
		{ID: "bad", BrandID: "toyota", ModelID: "toyota-supra", Year: 2020, ListPrice: 30000, InStock: true},
		{ID: "c", BrandID: "toyota", ModelID: "toyota-corolla", Year: 2021, ListPrice: 18000, InStock: true},
	}
	got, err := f.an.AnalyzeAll(context.Background(), vehicles)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].VehicleID != "a" || got[1].VehicleID != "b" || got[2].VehicleID != "c" {
		t.Fatalf("unexpected order or filtering: %+v", got)
	}
	if got[0].Competitiveness != domain.Expensive || got[1].Competitiveness != domain.NoData || got[2].Competitiveness != domain.VeryCompetitive {
		t.Fatalf("unexpected tags %s %s %s", got[0].Competitiveness, got[1].Competitiveness, got[2].Competitiveness)
	}
}

func TestAggregate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(Config{})

	stats, err := f.an.Aggregate(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalAnalyzed != 0 || stats.AverageMargin != 0 || stats.ActiveSources == nil || len(stats.ActiveSources) != 0 {
		t.Fatalf("empty inventory: %+v", stats)
	}

	corollaCohort(t, f)
	f.add(t, domain.SourceExcelRef, "Hilux", 2015, 15000, nil)
	stats, err = f.an.Aggregate(ctx, []domain.Vehicle{corolla(20000), corolla(23000), {
		ID: "h", BrandID: "toyota", ModelID: "toyota-hilux", Year: 2024, ListPrice: 40000, InStock: true,
	}})
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalAnalyzed != 3 || stats.WithMarketData != 2 || stats.Competitive != 1 || stats.Expensive != 1 || stats.VeryCompetitive != 0 {
		t.Fatalf("unexpected counts %+v", stats)
	}
	if stats.TotalMarketListings != 5 {
		t.Fatalf("total listings = %d", stats.TotalMarketListings)
	}
	if len(stats.ActiveSources) != 2 || stats.ActiveSources[0] != domain.SourceExcelRef || stats.ActiveSources[1] != domain.SourceMercadoLibre {
		t.Fatalf("sources = %v", stats.ActiveSources)
	}
	wantMargin := ((20000 - 0.85*20000) + (20000 - 0.85*23000)) / 2
	if !approx(stats.AverageMargin, wantMargin) {
		t.Fatalf("margen_promedio = %v want %v", stats.AverageMargin, wantMargin)
	}
}
