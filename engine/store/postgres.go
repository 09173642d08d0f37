package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/WessleyAI/pricing-engine/engine/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS raw_listings (
		seq          BIGSERIAL UNIQUE,
		id           TEXT PRIMARY KEY,
		source       TEXT NOT NULL,
		external_ref TEXT NOT NULL DEFAULT '',
		brand_text   TEXT NOT NULL,
		model_text   TEXT NOT NULL,
		year         INT NOT NULL,
		price        DOUBLE PRECISION NOT NULL CHECK (price > 0),
		currency     TEXT NOT NULL DEFAULT '',
		mileage      INT,
		location     TEXT NOT NULL DEFAULT '',
		scraped_at   TIMESTAMPTZ NOT NULL,
		content_key  TEXT NOT NULL,
		active       BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS raw_listings_ref_active
		ON raw_listings (source, external_ref) WHERE active AND external_ref <> ''`,
	`CREATE INDEX IF NOT EXISTS raw_listings_content_active
		ON raw_listings (source, content_key, scraped_at) WHERE active`,
	`CREATE TABLE IF NOT EXISTS raw_states (
		raw_id              TEXT PRIMARY KEY REFERENCES raw_listings(id),
		outcome             TEXT NOT NULL,
		catalog_fingerprint TEXT NOT NULL DEFAULT '',
		processed_at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS market_listings (
		id            TEXT PRIMARY KEY,
		raw_id        TEXT NOT NULL UNIQUE REFERENCES raw_listings(id),
		source        TEXT NOT NULL,
		brand_id      TEXT NOT NULL,
		model_id      TEXT NOT NULL,
		year          INT NOT NULL,
		price         DOUBLE PRECISION NOT NULL,
		mileage       INT,
		location      TEXT NOT NULL DEFAULT '',
		is_outlier    BOOLEAN NOT NULL DEFAULT FALSE,
		active        BOOLEAN NOT NULL DEFAULT TRUE,
		normalized_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS market_listings_cohort
		ON market_listings (brand_id, model_id, year) WHERE active`,
}

// OpenPool connects a pgx pool to dsn.
func OpenPool(ctx context.Context, dsn string, maxConns int) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 4
	}
	cfg.MaxConns = int32(maxConns)
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return pool, nil
}

// Postgres is a Store and RunLock backed by PostgreSQL.
type Postgres struct {
	pool   *pgxpool.Pool
	window time.Duration
	log    *slog.Logger
}

// NewPostgres wraps pool. A non-positive window selects DefaultDedupWindow.
func NewPostgres(pool *pgxpool.Pool, window time.Duration, log *slog.Logger) *Postgres {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if log == nil {
		log = slog.Default()
	}
	return &Postgres{pool: pool, window: window, log: log}
}

// Migrate creates the tables and indexes when missing.
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	p.log.Info("store: schema ready")
	return nil
}

// InsertRaw implements RawStore. A transaction-scoped advisory lock on the
// dedup key serializes concurrent writers of the same listing.
func (p *Postgres) InsertRaw(ctx context.Context, l domain.RawListing) (bool, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, DedupKey(l)); err != nil {
		return false, fmt.Errorf("store: dedup lock: %w", err)
	}

	contentKey := ContentKey(l)
	var dup bool
	if l.ExternalRef != "" {
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM raw_listings WHERE active AND source = $1 AND external_ref = $2)`,
			string(l.Source), l.ExternalRef).Scan(&dup)
	} else {
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM raw_listings
			 WHERE active AND source = $1 AND external_ref = '' AND content_key = $2
			   AND scraped_at BETWEEN $3 AND $4)`,
			string(l.Source), contentKey, l.ScrapedAt.Add(-p.window), l.ScrapedAt.Add(p.window)).Scan(&dup)
	}
	if err != nil {
		return false, fmt.Errorf("store: dedup check: %w", err)
	}
	if dup {
		return false, nil
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO raw_listings
		 (id, source, external_ref, brand_text, model_text, year, price, currency, mileage, location, scraped_at, content_key, active)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,TRUE)
		 ON CONFLICT DO NOTHING`,
		l.ID, string(l.Source), l.ExternalRef, l.BrandText, l.ModelText, l.Year, l.Price,
		l.Currency, l.Mileage, l.Location, l.ScrapedAt, contentKey)
	if err != nil {
		return false, fmt.Errorf("store: insert raw: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("store: commit: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// PendingRaw implements RawStore.
func (p *Postgres) PendingRaw(ctx context.Context, fingerprint string, limit int) ([]domain.RawListing, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := p.pool.Query(ctx,
		`SELECT r.id, r.source, r.external_ref, r.brand_text, r.model_text, r.year, r.price,
		        r.currency, r.mileage, r.location, r.scraped_at, r.active
		 FROM raw_listings r
		 LEFT JOIN raw_states s ON s.raw_id = r.id
		 WHERE r.active
		   AND (s.raw_id IS NULL
		        OR (s.outcome NOT IN ('normalized', 'outlier', 'error')
		            AND NOT (s.outcome = 'unmatched' AND s.catalog_fingerprint = $1)))
		 ORDER BY r.scraped_at, r.seq
		 LIMIT $2`, fingerprint, lim)
	if err != nil {
		return nil, fmt.Errorf("store: pending raw: %w", err)
	}
	defer rows.Close()

	var out []domain.RawListing
	for rows.Next() {
		var (
			l   domain.RawListing
			src string
		)
		if err := rows.Scan(&l.ID, &src, &l.ExternalRef, &l.BrandText, &l.ModelText, &l.Year, &l.Price,
			&l.Currency, &l.Mileage, &l.Location, &l.ScrapedAt, &l.Active); err != nil {
			return nil, fmt.Errorf("store: scan raw: %w", err)
		}
		l.Source = domain.Source(src)
		out = append(out, l)
	}
	return out, rows.Err()
}

const upsertStateSQL = `INSERT INTO raw_states (raw_id, outcome, catalog_fingerprint, processed_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (raw_id) DO UPDATE
	SET outcome = EXCLUDED.outcome, catalog_fingerprint = EXCLUDED.catalog_fingerprint, processed_at = EXCLUDED.processed_at`

// SetRawState implements RawStore.
func (p *Postgres) SetRawState(ctx context.Context, st domain.RawState) error {
	if _, err := p.pool.Exec(ctx, upsertStateSQL,
		st.RawID, string(st.Outcome), st.CatalogFingerprint, st.ProcessedAt); err != nil {
		return fmt.Errorf("store: set raw state: %w", err)
	}
	return nil
}

// Accept implements MarketStore.
func (p *Postgres) Accept(ctx context.Context, m domain.MarketListing, st domain.RawState) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	b := &pgx.Batch{}
	b.Queue(`INSERT INTO market_listings
		(id, raw_id, source, brand_id, model_id, year, price, mileage, location, is_outlier, active, normalized_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO NOTHING`,
		m.ID, m.RawID, string(m.Source), m.BrandID, m.ModelID, m.Year, m.Price, m.Mileage,
		m.Location, m.IsOutlier, m.Active, m.NormalizedAt)
	b.Queue(upsertStateSQL, st.RawID, string(st.Outcome), st.CatalogFingerprint, st.ProcessedAt)

	br := tx.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("store: accept: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("store: accept: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Cohort implements MarketStore.
func (p *Postgres) Cohort(ctx context.Context, q CohortQuery) ([]domain.MarketListing, error) {
	exclude := make([]string, len(q.ExcludeSources))
	for i, s := range q.ExcludeSources {
		exclude[i] = string(s)
	}
	rows, err := p.pool.Query(ctx,
		`SELECT id, raw_id, source, brand_id, model_id, year, price, mileage, location, is_outlier, active, normalized_at
		 FROM market_listings
		 WHERE active AND brand_id = $1 AND model_id = $2 AND year BETWEEN $3 AND $4
		   AND source <> ALL($5)
		 ORDER BY id`,
		q.BrandID, q.ModelID, q.YearFrom, q.YearTo, exclude)
	if err != nil {
		return nil, fmt.Errorf("store: cohort: %w", err)
	}
	defer rows.Close()

	var out []domain.MarketListing
	for rows.Next() {
		var (
			m   domain.MarketListing
			src string
		)
		if err := rows.Scan(&m.ID, &m.RawID, &src, &m.BrandID, &m.ModelID, &m.Year, &m.Price,
			&m.Mileage, &m.Location, &m.IsOutlier, &m.Active, &m.NormalizedAt); err != nil {
			return nil, fmt.Errorf("store: scan market: %w", err)
		}
		m.Source = domain.Source(src)
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountByModel implements MarketStore.
func (p *Postgres) CountByModel(ctx context.Context, brandID, modelID string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx,
		`SELECT count(*) FROM market_listings WHERE active AND brand_id = $1 AND model_id = $2`,
		brandID, modelID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count by model: %w", err)
	}
	return n, nil
}

// ActiveCount implements MarketStore.
func (p *Postgres) ActiveCount(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM market_listings WHERE active`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: active count: %w", err)
	}
	return n, nil
}

// ActiveSources implements MarketStore.
func (p *Postgres) ActiveSources(ctx context.Context) ([]domain.Source, error) {
	rows, err := p.pool.Query(ctx, `SELECT DISTINCT source FROM market_listings WHERE active ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("store: active sources: %w", err)
	}
	defer rows.Close()
	out := []domain.Source{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, domain.Source(s))
	}
	return out, rows.Err()
}

// DeactivateOlderThan implements MarketStore.
func (p *Postgres) DeactivateOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx,
		`UPDATE market_listings SET active = FALSE WHERE active AND normalized_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: deactivate: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Supersede implements Store.
func (p *Postgres) Supersede(ctx context.Context, sources ...domain.Source) (int, error) {
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = string(s)
	}
	var n int
	err := p.pool.QueryRow(ctx,
		`WITH sup AS (
			UPDATE raw_listings SET active = FALSE
			WHERE active AND source = ANY($1)
			RETURNING id
		), retired AS (
			UPDATE market_listings SET active = FALSE
			WHERE active AND raw_id IN (SELECT id FROM sup)
		)
		SELECT count(*) FROM sup`, names).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: supersede: %w", err)
	}
	return n, nil
}

// TryLock implements RunLock with a session-level advisory lock held on a
// dedicated pool connection.
func (p *Postgres) TryLock(ctx context.Context, name string) (func(), bool, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("store: acquire: %w", err)
	}
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtextextended($1, 0))`, name).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("store: try lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	var once sync.Once
	release := func() {
		once.Do(func() { p.unlock(conn, name) })
	}
	return release, true, nil
}

func (p *Postgres) unlock(conn *pgxpool.Conn, name string) {
	if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, name); err != nil {
		p.log.Warn("store: unlock failed", "lock", name, "error", err)
	}
	conn.Release()
}
