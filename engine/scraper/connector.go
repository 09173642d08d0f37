// Package scraper runs the source connectors that feed raw listings into the
// engine. Connectors are pluggable; a Runner fans them out concurrently and
// sends every result through the shared ingestion path.
package scraper

import (
	"context"

	"github.com/WessleyAI/pricing-engine/engine/domain"
)

// Connector fetches raw listings from one source. Implementations must honor
// ctx for cancellation and deadlines.
type Connector interface {
	Source() domain.Source
	FetchListings(ctx context.Context) ([]domain.RawListing, error)
}

// StaticConnector serves a fixed set of listings, or Err when set.
type StaticConnector struct {
	Src      domain.Source
	Listings []domain.RawListing
	Err      error
}

// Source implements Connector.
func (c *StaticConnector) Source() domain.Source { return c.Src }

// FetchListings implements Connector.
func (c *StaticConnector) FetchListings(ctx context.Context) ([]domain.RawListing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.Err != nil {
		return nil, c.Err
	}
	out := make([]domain.RawListing, len(c.Listings))
	copy(out, c.Listings)
	return out, nil
}
