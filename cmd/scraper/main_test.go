package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/WessleyAI/pricing-engine/engine/domain"
	"github.com/WessleyAI/pricing-engine/engine/ingest"
	"github.com/WessleyAI/pricing-engine/engine/scraper"
	"github.com/WessleyAI/pricing-engine/engine/store"
	"github.com/WessleyAI/pricing-engine/pkg/fn"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

func listings(n int) []domain.RawListing {
	out := make([]domain.RawListing, n)
	for i := range out {
		out[i] = domain.RawListing{
			ExternalRef: fmt.Sprintf("MLA%d", i),
			BrandText:   "Toyota",
			ModelText:   "Corolla",
			Year:        2022,
			Price:       float64(20000 + i),
			Currency:    "ARS",
		}
	}
	return out
}

func TestPublisherDeliversChunks(t *testing.T) {
	nc := startTestNATS(t)
	mem := store.NewMemory()
	if _, err := ingest.StartConsumer(nc, "test.raw", ingest.New(mem), nil); err != nil {
		t.Fatal(err)
	}

	pub := newPublisher(nc, "test.raw", nil)
	pub.batchSize = 2
	conn := &scraper.StaticConnector{Src: domain.SourceAutocosmos, Listings: listings(5)}
	runner := scraper.NewRunner(pub, []scraper.Connector{conn})

	res, err := runner.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.New != 5 || res.Errors != 0 {
		t.Fatalf("first run = %+v", res)
	}
	res, _ = runner.Run(context.Background())
	if res.New != 0 || res.Duplicate != 5 {
		t.Fatalf("second run = %+v", res)
	}
	if n, _ := mem.ActiveCount(context.Background()); n != 0 {
		t.Fatalf("market listings = %d before normalization", n)
	}
}

func TestPublisherNoResponder(t *testing.T) {
	nc := startTestNATS(t)
	pub := newPublisher(nc, "nobody.listens", nil)
	pub.retry = fn.RetryOpts{MaxAttempts: 2, InitialWait: time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := pub.Ingest(ctx, listings(3))
	if err == nil {
		t.Fatal("expected delivery error")
	}
	if res.Error != 3 || res.New != 0 {
		t.Fatalf("result = %+v", res)
	}
}

type countingNormalizer struct {
	calls atomic.Int32
	err   error
}

func (c *countingNormalizer) Normalize(context.Context) (domain.NormalizationResult, error) {
	c.calls.Add(1)
	return domain.NormalizationResult{}, c.err
}

func TestScrapeJobNormalizesAfterRun(t *testing.T) {
	ing := ingest.New(store.NewMemory())
	runner := scraper.NewRunner(ing, []scraper.Connector{
		&scraper.StaticConnector{Src: domain.SourceDemotores, Listings: listings(2)},
	})

	norm := &countingNormalizer{}
	if err := loop(context.Background(), 0, scrapeJob(runner, norm, nil, quiet()), quiet()); err != nil {
		t.Fatal(err)
	}
	if norm.calls.Load() != 1 {
		t.Fatalf("normalize calls = %d, want 1", norm.calls.Load())
	}

	norm.err = &domain.ConcurrencyConflictError{Operation: "normalize"}
	if err := scrapeJob(runner, norm, nil, quiet())(context.Background()); err != nil {
		t.Fatalf("conflict should be skipped, got %v", err)
	}
	norm.err = errors.New("boom")
	if err := scrapeJob(runner, norm, nil, quiet())(context.Background()); err == nil {
		t.Fatal("expected normalize error")
	}
	if err := scrapeJob(runner, nil, []domain.Source{"olx"}, quiet())(context.Background()); !errors.Is(err, domain.ErrUnknownSource) {
		t.Fatalf("err = %v, want ErrUnknownSource", err)
	}
}

func TestLoopRunsUntilCancelled(t *testing.T) {
	var passes atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	pass := func(context.Context) error {
		if passes.Add(1) == 3 {
			cancel()
		}
		return errors.New("transient")
	}
	done := make(chan error, 1)
	go func() { done <- loop(ctx, time.Millisecond, pass, quiet()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("loop = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
	if passes.Load() < 3 {
		t.Fatalf("passes = %d", passes.Load())
	}
}

func TestParseSources(t *testing.T) {
	got := parseSources(" mercadolibre, ,ai")
	if len(got) != 2 || got[0] != domain.SourceMercadoLibre || got[1] != domain.SourceAI {
		t.Fatalf("got %v", got)
	}
	if parseSources("") != nil {
		t.Fatal("empty flag should select all sources")
	}
}

func quiet() *slog.Logger { return slog.New(slog.DiscardHandler) }
