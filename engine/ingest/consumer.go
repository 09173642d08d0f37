package ingest

import (
	"context"
	"log/slog"

	"github.com/WessleyAI/pricing-engine/engine/domain"
	"github.com/WessleyAI/pricing-engine/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

// Subject is the default NATS subject for raw listing batches.
const Subject = "pricing.listings.raw"

// Batch is the wire message carrying raw listings from a remote scraper.
type Batch struct {
	Source   domain.Source       `json:"source"`
	Listings []domain.RawListing `json:"listings"`
}

// Reply is returned to requesters of a Batch.
type Reply struct {
	Result domain.IngestResult `json:"result"`
	Error  string              `json:"error,omitempty"`
}

// StartConsumer ingests every Batch received on subject. Requesters get the
// IngestResult back; plain publishes are ingested without a reply.
func StartConsumer(nc *nats.Conn, subject string, ing *Ingestor, log *slog.Logger) (*nats.Subscription, error) {
	if subject == "" {
		subject = Subject
	}
	if log == nil {
		log = slog.Default()
	}
	return natsutil.Handle(nc, subject, log, func(ctx context.Context, b Batch) Reply {
		for idx := range b.Listings {
			if b.Listings[idx].Source == "" {
				b.Listings[idx].Source = b.Source
			}
		}
		res, err := ing.Ingest(ctx, b.Listings)
		reply := Reply{Result: res}
		if err != nil {
			reply.Error = err.Error()
			log.Error("ingest: consumer batch failed", "source", b.Source, "error", err)
		}
		return reply
	})
}
