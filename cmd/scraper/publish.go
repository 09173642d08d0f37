package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/WessleyAI/pricing-engine/engine/domain"
	"github.com/WessleyAI/pricing-engine/engine/ingest"
	"github.com/WessleyAI/pricing-engine/pkg/fn"
	"github.com/WessleyAI/pricing-engine/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

// DefaultBatchSize is the number of listings per published batch.
const DefaultBatchSize = 200

// publisher hands scraped listings to a remote ingest consumer over NATS
// request/reply instead of writing them locally.
type publisher struct {
	nc        *nats.Conn
	subject   string
	batchSize int
	retry     fn.RetryOpts
	log       *slog.Logger
}

func newPublisher(nc *nats.Conn, subject string, log *slog.Logger) *publisher {
	if subject == "" {
		subject = ingest.Subject
	}
	if log == nil {
		log = slog.Default()
	}
	return &publisher{nc: nc, subject: subject, batchSize: DefaultBatchSize, retry: fn.DefaultRetry, log: log}
}

// Ingest publishes batch in chunks and sums the remote results. A chunk that
// cannot be delivered counts every row in it as an error.
func (p *publisher) Ingest(ctx context.Context, batch []domain.RawListing) (domain.IngestResult, error) {
	var (
		res     domain.IngestResult
		lastErr error
	)
	for _, chunk := range fn.Chunk(batch, p.batchSize) {
		msg := ingest.Batch{Source: chunk[0].Source, Listings: chunk}
		reply, err := fn.Retry(ctx, p.retry, func(ctx context.Context) fn.Result[ingest.Reply] {
			r, err := natsutil.Request[ingest.Batch, ingest.Reply](ctx, p.nc, p.subject, msg)
			return fn.FromPair(r, err)
		}).Unwrap()
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Error += len(chunk)
			lastErr = fmt.Errorf("scraper: publish %s: %w", p.subject, err)
			p.log.Warn("scraper: batch not delivered", "source", msg.Source, "rows", len(chunk), "error", err)
			continue
		}
		res.Add(reply.Result)
		if reply.Error != "" {
			lastErr = errors.New(reply.Error)
		}
	}
	return res, lastErr
}
