package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/WessleyAI/pricing-engine/engine/app"
	"github.com/WessleyAI/pricing-engine/engine/catalog"
	"github.com/WessleyAI/pricing-engine/engine/domain"
	"github.com/WessleyAI/pricing-engine/engine/importer"
	"github.com/WessleyAI/pricing-engine/engine/inventory"
	"github.com/WessleyAI/pricing-engine/engine/normalize"
	"github.com/WessleyAI/pricing-engine/engine/scraper"
	"github.com/WessleyAI/pricing-engine/engine/store"
	"github.com/WessleyAI/pricing-engine/pkg/config"
)

func corolla(id string, list float64) domain.Vehicle {
	return domain.Vehicle{
		ID:        id,
		BrandID:   catalog.BrandID("Toyota"),
		ModelID:   catalog.ModelID("Toyota", "Corolla"),
		Year:      2022,
		Mileage:   30000,
		ListPrice: list,
		InStock:   true,
	}
}

func marketListings() []domain.RawListing {
	var out []domain.RawListing
	for i, p := range []float64{18000, 19000, 21000, 22000} {
		out = append(out, domain.RawListing{
			ExternalRef: "MLA" + string(rune('1'+i)),
			BrandText:   "Toyota",
			ModelText:   "Corolla XEi",
			Year:        2022,
			Price:       p,
			Currency:    "ARS",
		})
	}
	return out
}

type testAPI struct {
	srv *httptest.Server
	mem *store.Memory
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	mem := store.NewMemory()
	inv := inventory.NewStatic(
		corolla("v1", 20000),
		domain.Vehicle{ID: "ghost", BrandID: "toyota", ModelID: "toyota-supra-mk9", Year: 2022, ListPrice: 1, InStock: false},
	)
	conns := []scraper.Connector{
		&scraper.StaticConnector{Src: domain.SourceMercadoLibre, Listings: marketListings()},
	}
	engine, err := app.New(context.Background(), config.Default(), nil,
		app.WithStore(mem), app.WithInventory(inv), app.WithConnectors(conns...))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(engine.Close)
	srv := httptest.NewServer(newServer(engine, nil).routes())
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, mem: mem}
}

func (a *testAPI) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: status %d, want %d: %s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, b)
	}
}

// populate scrapes and normalizes the static marketplace listings.
func (a *testAPI) populate(t *testing.T) {
	t.Helper()
	resp := a.do(t, "POST", "/api/scrape", "")
	expectStatus(t, resp, http.StatusOK)
	if sr := decode[domain.ScrapeResult](t, resp); sr.New != 4 {
		t.Fatalf("scrape = %+v", sr)
	}
	resp = a.do(t, "POST", "/api/normalize", "")
	expectStatus(t, resp, http.StatusOK)
	if nr := decode[domain.NormalizationResult](t, resp); nr.Normalized != 4 {
		t.Fatalf("normalize = %+v", nr)
	}
}

func TestHealthEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/health", nil)
	handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("expected status ok, got %s", resp["status"])
	}
}

func TestAnalyzeAfterScrapeAndNormalize(t *testing.T) {
	api := newTestAPI(t)
	api.populate(t)

	resp := api.do(t, "GET", "/api/vehicles/v1/analysis", "")
	expectStatus(t, resp, http.StatusOK)
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}
	pa := decode[domain.PriceAnalysis](t, resp)
	if pa.MarketMedian == nil || *pa.MarketMedian != 20000 {
		t.Fatalf("median = %v, want 20000", pa.MarketMedian)
	}
	if pa.Competitiveness != domain.Competitive || pa.ComparableCount != 4 {
		t.Fatalf("analysis = %+v", pa)
	}

	resp = api.do(t, "GET", "/api/analysis", "")
	expectStatus(t, resp, http.StatusOK)
	if all := decode[[]domain.PriceAnalysis](t, resp); len(all) != 1 || all[0].VehicleID != "v1" {
		t.Fatalf("all = %+v", all)
	}

	resp = api.do(t, "GET", "/api/stats", "")
	expectStatus(t, resp, http.StatusOK)
	st := decode[domain.Stats](t, resp)
	if st.TotalAnalyzed != 1 || st.TotalMarketListings != 4 || st.Competitive != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestAnalyzeVehicleFromBody(t *testing.T) {
	api := newTestAPI(t)
	api.populate(t)

	body, _ := json.Marshal(corolla("quote-1", 23000))
	resp := api.do(t, "POST", "/api/analysis?year_window=0", string(body))
	expectStatus(t, resp, http.StatusOK)
	if pa := decode[domain.PriceAnalysis](t, resp); pa.Competitiveness != domain.Expensive || pa.YearWindow != 0 {
		t.Fatalf("analysis = %+v", pa)
	}
}

func TestSimulateEndpoints(t *testing.T) {
	api := newTestAPI(t)
	api.populate(t)

	resp := api.do(t, "POST", "/api/vehicles/v1/simulate", `{"precio_propuesto": 20000}`)
	expectStatus(t, resp, http.StatusOK)
	if p := decode[domain.PriceSimulationPoint](t, resp); p.Ratio != 1 || p.LowConfidence {
		t.Fatalf("point = %+v", p)
	}

	resp = api.do(t, "POST", "/api/vehicles/v1/simulate-range", `{"precio_min": 18000, "precio_max": 22000, "pasos": 5}`)
	expectStatus(t, resp, http.StatusOK)
	if pts := decode[[]domain.PriceSimulationPoint](t, resp); len(pts) != 5 || pts[4].ProposedPrice != 22000 {
		t.Fatalf("points = %+v", pts)
	}
}

func TestErrorStatuses(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name, method, path, body string
		want                     int
	}{
		{"unknown vehicle", "GET", "/api/vehicles/nope/analysis", "", http.StatusNotFound},
		{"vehicle outside catalog", "GET", "/api/vehicles/ghost/analysis", "", http.StatusUnprocessableEntity},
		{"bad year window", "GET", "/api/vehicles/v1/analysis?year_window=x", "", http.StatusBadRequest},
		{"bad json", "POST", "/api/vehicles/v1/simulate", "{", http.StatusBadRequest},
		{"inverted range", "POST", "/api/vehicles/v1/simulate-range", `{"precio_min": 5, "precio_max": 1, "pasos": 3}`, http.StatusBadRequest},
		{"zero steps", "POST", "/api/vehicles/v1/simulate-range", `{"precio_min": 1, "precio_max": 5, "pasos": 0}`, http.StatusBadRequest},
		{"unknown source", "POST", "/api/scrape", `{"fuentes": ["olx"]}`, http.StatusBadRequest},
		{"import without file", "POST", "/api/import", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, api.do(t, tt.method, tt.path, tt.body), tt.want)
		})
	}
}

func TestNormalizeConflict(t *testing.T) {
	api := newTestAPI(t)
	release, ok, err := api.mem.TryLock(context.Background(), normalize.LockName)
	if err != nil || !ok {
		t.Fatalf("lock: ok=%v err=%v", ok, err)
	}
	defer release()

	expectStatus(t, api.do(t, "POST", "/api/normalize", ""), http.StatusConflict)
}

func TestImportTemplateAndUpload(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(t, "GET", "/api/import/template", "")
	expectStatus(t, resp, http.StatusOK)
	if !strings.Contains(resp.Header.Get("Content-Disposition"), ".xlsx") {
		t.Fatalf("content-disposition = %q", resp.Header.Get("Content-Disposition"))
	}

	f, err := importer.Template()
	if err != nil {
		t.Fatal(err)
	}
	f.SetSheetRow(importer.ReferenceSheet, "A2", &[]any{"Toyota", "Corolla", 2022, 18000, 22000, "ARS"})
	var xlsx bytes.Buffer
	if err := f.Write(&xlsx); err != nil {
		t.Fatal(err)
	}
	f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "precios.xlsx")
	fw.Write(xlsx.Bytes())
	mw.WriteField("overwrite", "true")
	mw.Close()

	req, _ := http.NewRequest("POST", api.srv.URL+"/api/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
	res := decode[domain.ImportResult](t, resp)
	if res.Imported == 0 || len(res.SheetsProcessed) != 2 {
		t.Fatalf("import = %+v", res)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	expectStatus(t, api.do(t, "GET", "/api/health", ""), http.StatusOK)
	expectStatus(t, api.do(t, "GET", "/api/sources", ""), http.StatusOK)

	resp := api.do(t, "GET", "/metrics", "")
	expectStatus(t, resp, http.StatusOK)
	b, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		`pricing_http_requests_total{route="GET /api/health",code="2xx"} 1`,
		`pricing_http_requests_total{route="GET /api/sources",code="2xx"} 1`,
	} {
		if !strings.Contains(string(b), want) {
			t.Fatalf("metrics missing %q:\n%s", want, b)
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.NewValidationError("price", "-1", domain.ErrInvalidPrice), http.StatusBadRequest},
		{domain.ErrNoSheets, http.StatusBadRequest},
		{&domain.InvalidVehicleError{VehicleID: "v"}, http.StatusUnprocessableEntity},
		{&domain.ConcurrencyConflictError{Operation: "normalize"}, http.StatusConflict},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
