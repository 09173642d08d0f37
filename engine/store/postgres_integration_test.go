//go:build integration

package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/WessleyAI/pricing-engine/engine/domain"
	"github.com/google/uuid"
)

func pgStore(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	ctx := context.Background()
	pool, err := OpenPool(ctx, dsn, 4)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	t.Cleanup(pool.Close)
	p := NewPostgres(pool, time.Hour, nil)
	if err := p.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestPostgres_InsertDedup(t *testing.T) {
	p := pgStore(t)
	ctx := context.Background()
	ref := "it-" + uuid.NewString()
	l := raw(uuid.NewString(), domain.SourceMercadoLibre, ref, 20000, time.Now().UTC())

	ok, err := p.InsertRaw(ctx, l)
	if err != nil || !ok {
		t.Fatalf("first insert: ok=%v err=%v", ok, err)
	}
	l.ID = uuid.NewString()
	ok, err = p.InsertRaw(ctx, l)
	if err != nil || ok {
		t.Fatalf("duplicate insert: ok=%v err=%v", ok, err)
	}
}

func TestPostgres_AcceptAndCohort(t *testing.T) {
	p := pgStore(t)
	ctx := context.Background()
	brand := "it-" + uuid.NewString()[:8]
	l := raw(uuid.NewString(), domain.SourceAutocosmos, "", 20000, time.Now().UTC())
	if _, err := p.InsertRaw(ctx, l); err != nil {
		t.Fatal(err)
	}
	m := domain.MarketListing{
		ID: MarketID(l.ID), RawID: l.ID, Source: l.Source, BrandID: brand, ModelID: brand + "-m",
		Year: 2020, Price: 20000, Active: true, NormalizedAt: time.Now().UTC(),
	}
	st := domain.RawState{RawID: l.ID, Outcome: domain.OutcomeNormalized, ProcessedAt: time.Now().UTC()}
	if err := p.Accept(ctx, m, st); err != nil {
		t.Fatal(err)
	}
	if err := p.Accept(ctx, m, st); err != nil {
		t.Fatalf("repeated accept: %v", err)
	}
	got, err := p.Cohort(ctx, CohortQuery{BrandID: brand, ModelID: brand + "-m", YearFrom: 2019, YearTo: 2021})
	if err != nil || len(got) != 1 {
		t.Fatalf("cohort: %v %d", err, len(got))
	}
}

func TestPostgres_TryLock(t *testing.T) {
	p := pgStore(t)
	ctx := context.Background()
	name := "it-" + uuid.NewString()
	release, ok, err := p.TryLock(ctx, name)
	if err != nil || !ok {
		t.Fatalf("lock: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := p.TryLock(ctx, name); ok {
		t.Fatal("second lock must fail")
	}
	release()
	release2, ok, _ := p.TryLock(ctx, name)
	if !ok {
		t.Fatal("lock should be free")
	}
	release2()
}
