// Package importer turns operator workbooks into raw listings. It knows two
// sheet layouts (market rows and min/max reference prices) and hands every
// row to the shared ingestor; it never writes market listings.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/WessleyAI/pricing-engine/engine/domain"
	"github.com/WessleyAI/pricing-engine/engine/ingest"
	"github.com/WessleyAI/pricing-engine/engine/store"
	"github.com/xuri/excelize/v2"
)

// Superseder retires earlier spreadsheet rows on overwrite.
type Superseder interface {
	Supersede(ctx context.Context, sources ...domain.Source) (int, error)
}

// Ingester is the raw-listing entry point used by the importer.
type Ingester interface {
	Ingest(ctx context.Context, batch []domain.RawListing) (domain.IngestResult, error)
}

var _ Ingester = (*ingest.Ingestor)(nil)

// Importer parses workbooks and ingests their rows.
type Importer struct {
	ing       Ingester
	supersede Superseder
	log       *slog.Logger
	now       func() time.Time
	currency  string
}

// Option configures an Importer.
type Option func(*Importer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(i *Importer) { i.log = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(i *Importer) { i.now = now } }

// WithDefaultCurrency sets the currency of rows without a Moneda column.
func WithDefaultCurrency(c string) Option { return func(i *Importer) { i.currency = c } }

// New creates an Importer.
func New(ing Ingester, sup Superseder, opts ...Option) *Importer {
	i := &Importer{ing: ing, supersede: sup, log: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(i)
	}
	if i.log == nil {
		i.log = slog.Default()
	}
	return i
}

// Import reads the workbook in r. With overwrite, active spreadsheet-origin
// raw listings (and the market listings derived from them) are superseded
// before the new rows are ingested. A workbook with neither known sheet
// fails with domain.ErrNoSheets.
func (i *Importer) Import(ctx context.Context, r io.Reader, overwrite bool) (domain.ImportResult, error) {
	res := domain.ImportResult{SheetsProcessed: []string{}}

	f, err := excelize.OpenReader(r)
	if err != nil {
		return res, domain.NewValidationError("file", "", fmt.Errorf("%w: %v", domain.ErrUnparseable, err))
	}
	defer f.Close()

	var batch []domain.RawListing
	now := i.now()
	for _, sheet := range f.GetSheetList() {
		l, ok := layoutFor(sheet)
		if !ok || contains(res.SheetsProcessed, l.name) {
			continue
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return res, domain.NewValidationError("sheet", sheet, fmt.Errorf("%w: %v", domain.ErrUnparseable, err))
		}
		listings, stats, err := i.parseSheet(l, rows, now)
		if err != nil {
			return res, err
		}
		res.SheetsProcessed = append(res.SheetsProcessed, l.name)
		res.RowsWithoutData += stats.withoutData
		res.Errors += stats.errors
		batch = append(batch, listings...)
		i.log.Info("importer: sheet parsed", "sheet", sheet, "listings", len(listings),
			"without_data", stats.withoutData, "errors", stats.errors)
	}
	if len(res.SheetsProcessed) == 0 {
		return res, domain.ErrNoSheets
	}

	if overwrite {
		n, err := i.supersede.Supersede(ctx, domain.SourceExcel, domain.SourceExcelRef)
		if err != nil {
			return res, fmt.Errorf("importer: supersede: %w", err)
		}
		i.log.Info("importer: superseded previous rows", "rows", n)
	}

	ir, err := i.ing.Ingest(ctx, batch)
	res.Imported = ir.New
	res.Duplicates = ir.Duplicate
	res.Errors += ir.Error
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return res, fmt.Errorf("importer: ingest: %w", err)
	}
	i.log.Info("importer: done", "imported", res.Imported, "duplicates", res.Duplicates,
		"errors", res.Errors, "without_data", res.RowsWithoutData, "sheets", res.SheetsProcessed)
	return res, err
}

type sheetStats struct {
	withoutData int
	errors      int
}

func (i *Importer) parseSheet(l layout, rows [][]string, now time.Time) ([]domain.RawListing, sheetStats, error) {
	var stats sheetStats
	if len(rows) == 0 {
		return nil, stats, nil
	}
	idx := l.headerIndex(rows[0])
	for _, c := range l.columns {
		if _, ok := idx[c.field]; c.required && !ok {
			return nil, stats, domain.NewValidationError(l.name, c.header, domain.ErrMissingField)
		}
	}

	var out []domain.RawListing
	for n, row := range rows[1:] {
		rec := record{row: row, idx: idx}
		if rec.blank() {
			continue
		}
		if !rec.complete(l) {
			stats.withoutData++
			continue
		}
		listings, err := i.rowListings(l, rec, now)
		if err != nil {
			stats.errors++
			i.log.Warn("importer: bad row", "sheet", l.name, "row", n+2, "error", err)
			continue
		}
		out = append(out, listings...)
	}
	return out, stats, nil
}

func (i *Importer) rowListings(l layout, rec record, now time.Time) ([]domain.RawListing, error) {
	year, ok := parseInt(rec.get(colYear))
	if !ok {
		return nil, domain.NewValidationError("year", rec.get(colYear), domain.ErrUnparseable)
	}
	base := domain.RawListing{
		BrandText: rec.get(colBrand),
		ModelText: rec.get(colModel),
		Year:      year,
		Currency:  rec.get(colCurrency),
		ScrapedAt: now,
	}
	if base.Currency == "" {
		base.Currency = i.currency
	}

	if l.name == ReferenceSheet {
		lo, ok := parseNumber(rec.get(colMinPrice))
		if !ok {
			return nil, domain.NewValidationError("min_price", rec.get(colMinPrice), domain.ErrUnparseable)
		}
		hi, ok := parseNumber(rec.get(colMaxPrice))
		if !ok {
			return nil, domain.NewValidationError("max_price", rec.get(colMaxPrice), domain.ErrUnparseable)
		}
		if lo > hi {
			return nil, domain.NewValidationError("min_price", rec.get(colMinPrice), domain.ErrInvalidPriceRange)
		}
		low, high := base, base
		low.Source, low.Price = domain.SourceExcelRef, lo
		high.Source, high.Price = domain.SourceExcelRef, hi
		// Bound-tagged refs keep both rows of a collapsed range (min == max).
		low.ExternalRef = referenceRef("min", low)
		high.ExternalRef = referenceRef("max", high)
		return []domain.RawListing{low, high}, nil
	}

	price, ok := parseNumber(rec.get(colPrice))
	if !ok {
		return nil, domain.NewValidationError("price", rec.get(colPrice), domain.ErrUnparseable)
	}
	base.Source = domain.SourceExcel
	base.Price = price
	base.Location = rec.get(colLocation)
	if km := rec.get(colMileage); km != "" {
		v, ok := parseInt(km)
		if !ok {
			return nil, domain.NewValidationError("mileage", km, domain.ErrUnparseable)
		}
		base.Mileage = &v
	}
	return []domain.RawListing{base}, nil
}

// referenceRef identifies one bound of a reference row by its content.
func referenceRef(bound string, l domain.RawListing) string {
	return bound + "|" + store.ContentKey(l)
}

type record struct {
	row []string
	idx map[field]int
}

func (r record) get(f field) string {
	pos, ok := r.idx[f]
	if !ok || pos >= len(r.row) {
		return ""
	}
	return strings.TrimSpace(r.row[pos])
}

func (r record) blank() bool {
	for _, v := range r.row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func (r record) complete(l layout) bool {
	for _, c := range l.columns {
		if c.required && r.get(c.field) == "" {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
