// Package domain defines the core pricing types, run summaries, error
// taxonomy and validation shared by the pricing engine packages. It acts as
// the validation gate at ingestion entry points.
package domain

import "time"

// Source identifies where a listing observation came from.
type Source string

const (
	SourceMercadoLibre Source = "mercadolibre"
	SourceAutocosmos   Source = "autocosmos"
	SourceDemotores    Source = "demotores"
	SourceAI           Source = "ai"
	SourceExcel        Source = "excel"
	// SourceExcelRef tags rows expanded from the reference-price sheet so
	// they can be told apart from true market evidence.
	SourceExcelRef Source = "excel_ref"
)

// ValidSources enumerates accepted listing sources.
var ValidSources = map[Source]bool{
	SourceMercadoLibre: true,
	SourceAutocosmos:   true,
	SourceDemotores:    true,
	SourceAI:           true,
	SourceExcel:        true,
	SourceExcelRef:     true,
}

// Marketplaces lists the fixed external marketplaces scraped by connectors.
var Marketplaces = []Source{SourceMercadoLibre, SourceAutocosmos, SourceDemotores}

// Valid reports whether s is a known source.
func (s Source) Valid() bool { return ValidSources[s] }

// Spreadsheet reports whether s originates from a workbook import.
func (s Source) Spreadsheet() bool { return s == SourceExcel || s == SourceExcelRef }

// RawListing is one scraped or imported observation, before reconciliation
// against the catalog.
type RawListing struct {
	ID          string    `json:"id"`
	Source      Source    `json:"source"`
	ExternalRef string    `json:"external_ref,omitempty"`
	BrandText   string    `json:"brand_text"`
	ModelText   string    `json:"model_text"`
	Year        int       `json:"year"`
	Price       float64   `json:"price"`
	Currency    string    `json:"currency"`
	Mileage     *int      `json:"mileage,omitempty"`
	Location    string    `json:"location,omitempty"`
	ScrapedAt   time.Time `json:"scraped_at"`
	Active      bool      `json:"active"`
}

// RawOutcome records what normalization decided for a raw listing.
type RawOutcome string

const (
	OutcomePending    RawOutcome = ""
	OutcomeNormalized RawOutcome = "normalized"
	OutcomeUnmatched  RawOutcome = "unmatched"
	OutcomeOutlier    RawOutcome = "outlier"
	OutcomeError      RawOutcome = "error"
)

// Final reports whether the outcome takes the row out of future runs.
// Unmatched rows stay eligible for a retry once the catalog changes.
func (o RawOutcome) Final() bool {
	return o == OutcomeNormalized || o == OutcomeOutlier || o == OutcomeError
}

// RawState is the normalization bookkeeping kept beside a RawListing.
type RawState struct {
	RawID              string     `json:"raw_id"`
	Outcome            RawOutcome `json:"outcome"`
	CatalogFingerprint string     `json:"catalog_fingerprint,omitempty"`
	ProcessedAt        time.Time  `json:"processed_at"`
}

// MarketListing is a RawListing reconciled to the dealership catalog.
type MarketListing struct {
	ID           string    `json:"id"`
	RawID        string    `json:"raw_id"`
	Source       Source    `json:"source"`
	BrandID      string    `json:"brand_id"`
	ModelID      string    `json:"model_id"`
	Year         int       `json:"year"`
	Price        float64   `json:"price"`
	Mileage      *int      `json:"mileage,omitempty"`
	Location     string    `json:"location,omitempty"`
	IsOutlier    bool      `json:"is_outlier"`
	Active       bool      `json:"active"`
	NormalizedAt time.Time `json:"normalized_at"`
}

// Vehicle is an inventory entry. The engine only reads it.
type Vehicle struct {
	ID        string  `json:"id"`
	BrandID   string  `json:"brand_id"`
	ModelID   string  `json:"model_id"`
	Year      int     `json:"year"`
	Mileage   int     `json:"mileage"`
	ListPrice float64 `json:"list_price"`
	InStock   bool    `json:"in_stock"`
}

// Competitiveness classifies a list price against the cohort median.
type Competitiveness string

const (
	VeryCompetitive Competitiveness = "muy_competitivo"
	Competitive     Competitiveness = "competitivo"
	Expensive       Competitiveness = "caro"
	NoData          Competitiveness = "sin_datos"
)

// PriceAnalysis is the per-vehicle pricing output. Nil pointers mean the
// cohort was empty.
type PriceAnalysis struct {
	VehicleID         string          `json:"vehicle_id"`
	CurrentPrice      float64         `json:"precio_actual"`
	MarketMean        *float64        `json:"precio_promedio_mercado"`
	MarketMedian      *float64        `json:"precio_mediana_mercado"`
	RawSuggestedPrice *float64        `json:"precio_sugerido_base"`
	SuggestedPrice    *float64        `json:"precio_sugerido"`
	MileageAdjustment float64         `json:"ajuste_km"`
	ComparableCount   int             `json:"comparables"`
	Competitiveness   Competitiveness `json:"competitividad"`
	CurrentMargin     float64         `json:"margen_actual"`
	SuggestedMargin   *float64        `json:"margen_sugerido"`
	YearWindow        int             `json:"ventana_anios"`
}

// PriceSimulationPoint is the projection for one hypothetical price.
type PriceSimulationPoint struct {
	ProposedPrice      float64         `json:"precio_propuesto"`
	Ratio              float64         `json:"ratio"`
	EstimatedDays      float64         `json:"dias_estimados"`
	SaleProbability30d float64         `json:"probabilidad_venta_30d"`
	EstimatedMargin    float64         `json:"margen_estimado"`
	Competitiveness    Competitiveness `json:"competitividad"`
	LowConfidence      bool            `json:"baja_confianza"`
}

// IngestResult summarizes one ingestion call.
type IngestResult struct {
	New       int `json:"nuevos"`
	Duplicate int `json:"duplicados"`
	Error     int `json:"errores"`
}

// Add accumulates o into r.
func (r *IngestResult) Add(o IngestResult) {
	r.New += o.New
	r.Duplicate += o.Duplicate
	r.Error += o.Error
}

// ImportResult summarizes a spreadsheet import.
type ImportResult struct {
	Imported        int      `json:"importados"`
	Duplicates      int      `json:"duplicados"`
	Errors          int      `json:"errores"`
	RowsWithoutData int      `json:"filas_sin_datos"`
	SheetsProcessed []string `json:"hojas_procesadas"`
}

// SourceResult is the per-source portion of a scrape run.
type SourceResult struct {
	Fetched   int    `json:"obtenidos"`
	New       int    `json:"nuevos"`
	Duplicate int    `json:"duplicados"`
	Errors    int    `json:"errores"`
	LastError string `json:"ultimo_error,omitempty"`
}

// ScrapeResult summarizes a scrape run across connectors.
type ScrapeResult struct {
	New       int                     `json:"nuevos"`
	Duplicate int                     `json:"duplicados"`
	Errors    int                     `json:"errores"`
	PerSource map[Source]SourceResult `json:"fuentes"`
}

// NormalizationResult summarizes a normalization pass.
type NormalizationResult struct {
	Normalized       int `json:"normalizados"`
	Unmatched        int `json:"sin_match"`
	OutliersFiltered int `json:"outliers_filtrados"`
	Errors           int `json:"errores"`
}

// Stats is the inventory-wide pricing rollup.
type Stats struct {
	TotalAnalyzed       int      `json:"total_analizados"`
	WithMarketData      int      `json:"con_datos_mercado"`
	VeryCompetitive     int      `json:"muy_competitivos"`
	Competitive         int      `json:"competitivos"`
	Expensive           int      `json:"caros"`
	TotalMarketListings int      `json:"total_listings_mercado"`
	ActiveSources       []Source `json:"fuentes_activas"`
	AverageMargin       float64  `json:"margen_promedio"`
}
