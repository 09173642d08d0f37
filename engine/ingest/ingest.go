// Package ingest is the single entry point for raw listings. Connectors,
// spreadsheet imports and the NATS consumer all pass through Ingestor so
// validation and de-duplication are applied the same way.
package ingest

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/WessleyAI/pricing-engine/engine/domain"
	"github.com/WessleyAI/pricing-engine/engine/store"
	"github.com/WessleyAI/pricing-engine/pkg/metrics"
	"github.com/google/uuid"
)

// Ingestor validates raw listings and stores the ones that are not duplicates.
type Ingestor struct {
	store   store.RawStore
	log     *slog.Logger
	metrics *metrics.Registry
	now     func() time.Time
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(i *Ingestor) { i.log = l } }

// WithMetrics records per-source outcome counters in reg.
func WithMetrics(reg *metrics.Registry) Option { return func(i *Ingestor) { i.metrics = reg } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(i *Ingestor) { i.now = now } }

// New creates an Ingestor writing to st.
func New(st store.RawStore, opts ...Option) *Ingestor {
	i := &Ingestor{store: st, log: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(i)
	}
	if i.log == nil {
		i.log = slog.Default()
	}
	return i
}

// Ingest stores batch row by row. Invalid rows and store failures count as
// errors and never abort the batch. When ctx is cancelled the rows already
// stored stay and the partial result is returned with ctx.Err().
func (i *Ingestor) Ingest(ctx context.Context, batch []domain.RawListing) (domain.IngestResult, error) {
	var res domain.IngestResult
	now := i.now()
	for _, l := range batch {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		l = prepare(l, now)
		if err := domain.ValidateRawListing(l, now); err != nil {
			res.Error++
			i.count(l.Source, "error")
			i.log.Warn("ingest: invalid listing", "source", l.Source, "external_ref", l.ExternalRef, "error", err)
			continue
		}
		inserted, err := i.store.InsertRaw(ctx, l)
		switch {
		case err != nil:
			res.Error++
			i.count(l.Source, "error")
			i.log.Error("ingest: store failed", "source", l.Source, "id", l.ID, "error", err)
		case inserted:
			res.New++
			i.count(l.Source, "new")
		default:
			res.Duplicate++
			i.count(l.Source, "duplicate")
			i.log.Debug("ingest: skipping duplicate", "source", l.Source, "external_ref", l.ExternalRef)
		}
	}
	i.log.Info("ingest: batch done", "rows", len(batch), "new", res.New, "duplicate", res.Duplicate, "errors", res.Error)
	return res, nil
}

func (i *Ingestor) count(src domain.Source, result string) {
	if i.metrics == nil {
		return
	}
	i.metrics.Counter(metrics.WithLabels("pricing_ingest_listings_total", "source", string(src), "result", result),
		"Raw listings seen by ingestion, by outcome.").Inc()
}

// prepare fills defaults and trims text without touching the observation.
func prepare(l domain.RawListing, now time.Time) domain.RawListing {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.ScrapedAt.IsZero() {
		l.ScrapedAt = now
	}
	l.ExternalRef = strings.TrimSpace(l.ExternalRef)
	l.BrandText = strings.TrimSpace(l.BrandText)
	l.ModelText = strings.TrimSpace(l.ModelText)
	l.Currency = strings.ToUpper(strings.TrimSpace(l.Currency))
	l.Location = strings.TrimSpace(l.Location)
	l.Active = true
	return l
}
