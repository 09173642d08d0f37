// Package store persists raw listings, their normalization state and the
// canonical market listings derived from them.
package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/WessleyAI/pricing-engine/engine/domain"
	"github.com/WessleyAI/pricing-engine/pkg/vehiclenlp"
	"github.com/google/uuid"
)

// DefaultDedupWindow bounds how far apart two content-identical listings
// without an external ref may be scraped and still count as one.
const DefaultDedupWindow = 24 * time.Hour

// RawStore holds raw listings and their normalization state.
type RawStore interface {
	// InsertRaw stores l unless it duplicates an active row. It reports
	// whether the row was inserted. Concurrent calls serialize on the
	// dedup key of l.
	InsertRaw(ctx context.Context, l domain.RawListing) (bool, error)
	// PendingRaw returns active rows not yet settled by normalization, oldest
	// first. Unmatched rows stamped with fingerprint are left out.
	PendingRaw(ctx context.Context, fingerprint string, limit int) ([]domain.RawListing, error)
	// SetRawState records the normalization outcome of a raw row.
	SetRawState(ctx context.Context, st domain.RawState) error
}

// MarketStore holds canonical market listings.
type MarketStore interface {
	// Accept stores m and the normalized state of its raw row atomically.
	// Storing the same m twice is a no-op.
	Accept(ctx context.Context, m domain.MarketListing, st domain.RawState) error
	Cohort(ctx context.Context, q CohortQuery) ([]domain.MarketListing, error)
	CountByModel(ctx context.Context, brandID, modelID string) (int, error)
	ActiveCount(ctx context.Context) (int, error)
	ActiveSources(ctx context.Context) ([]domain.Source, error)
	// DeactivateOlderThan retires active listings normalized before cutoff.
	DeactivateOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Store is the full persistence surface used by the engine.
type Store interface {
	RawStore
	MarketStore
	// Supersede marks active raw rows of the given sources inactive and
	// deactivates the market listings derived from them. It returns the
	// number of raw rows superseded.
	Supersede(ctx context.Context, sources ...domain.Source) (int, error)
}

// RunLock guards batch jobs that must not overlap.
type RunLock interface {
	// TryLock acquires name without waiting. ok is false when another holder
	// has it; release must be called once when ok is true.
	TryLock(ctx context.Context, name string) (release func(), ok bool, err error)
}

// CohortQuery selects active market listings comparable to a vehicle.
type CohortQuery struct {
	BrandID        string
	ModelID        string
	YearFrom       int
	YearTo         int
	ExcludeSources []domain.Source
}

func (q CohortQuery) matches(m domain.MarketListing) bool {
	if !m.Active || m.BrandID != q.BrandID || m.ModelID != q.ModelID {
		return false
	}
	if m.Year < q.YearFrom || m.Year > q.YearTo {
		return false
	}
	for _, s := range q.ExcludeSources {
		if m.Source == s {
			return false
		}
	}
	return true
}

// ContentKey is the folded (brand, model, year, price, mileage) tuple used to
// dedup rows that carry no external ref.
func ContentKey(l domain.RawListing) string {
	mileage := "-"
	if l.Mileage != nil {
		mileage = strconv.Itoa(*l.Mileage)
	}
	return strings.Join([]string{
		vehiclenlp.Fold(l.BrandText),
		vehiclenlp.Fold(l.ModelText),
		strconv.Itoa(l.Year),
		strconv.FormatFloat(l.Price, 'f', 2, 64),
		mileage,
	}, "|")
}

// DedupKey is the key ingestion serializes on: the external ref when
// present, the content tuple otherwise.
func DedupKey(l domain.RawListing) string {
	if l.ExternalRef != "" {
		return fmt.Sprintf("%s|ref|%s", l.Source, l.ExternalRef)
	}
	return fmt.Sprintf("%s|content|%s", l.Source, ContentKey(l))
}

// MarketID derives the market listing id of a raw row. It is stable so
// repeated normalization of the same row cannot create a second listing.
func MarketID(rawID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("market:"+rawID)).String()
}

func withinWindow(a, b time.Time, window time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= window
}
