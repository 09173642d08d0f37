package store

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/WessleyAI/pricing-engine/engine/domain"
)

const lockStripes = 64

// keyLock serializes work per key over a fixed set of mutexes.
type keyLock struct {
	stripes [lockStripes]sync.Mutex
}

func (k *keyLock) lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	mu := &k.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

type rawRow struct {
	seq        int64
	listing    domain.RawListing
	contentKey string
}

// Memory is an in-process Store. It is safe for concurrent use.
type Memory struct {
	window time.Duration
	keys   keyLock

	mu      sync.RWMutex
	seq     int64
	raws    map[string]*rawRow
	byRef   map[string]string   // source|ref -> raw id, active rows only
	byKey   map[string][]string // source|content key -> raw ids, active rows only
	states  map[string]domain.RawState
	markets map[string]domain.MarketListing

	locksMu sync.Mutex
	locks   map[string]bool
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithDedupWindow overrides DefaultDedupWindow.
func WithDedupWindow(d time.Duration) MemoryOption {
	return func(m *Memory) {
		if d > 0 {
			m.window = d
		}
	}
}

// NewMemory creates an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		window:  DefaultDedupWindow,
		raws:    make(map[string]*rawRow),
		byRef:   make(map[string]string),
		byKey:   make(map[string][]string),
		states:  make(map[string]domain.RawState),
		markets: make(map[string]domain.MarketListing),
		locks:   make(map[string]bool),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// InsertRaw implements RawStore.
func (m *Memory) InsertRaw(ctx context.Context, l domain.RawListing) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	unlock := m.keys.lock(DedupKey(l))
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.raws[l.ID]; exists {
		return false, nil
	}
	refKey := string(l.Source) + "|" + l.ExternalRef
	contentKey := string(l.Source) + "|" + ContentKey(l)
	if l.ExternalRef != "" {
		if _, dup := m.byRef[refKey]; dup {
			return false, nil
		}
	} else {
		for _, id := range m.byKey[contentKey] {
			if withinWindow(m.raws[id].listing.ScrapedAt, l.ScrapedAt, m.window) {
				return false, nil
			}
		}
	}

	l.Active = true
	m.seq++
	m.raws[l.ID] = &rawRow{seq: m.seq, listing: l, contentKey: contentKey}
	if l.ExternalRef != "" {
		m.byRef[refKey] = l.ID
	} else {
		m.byKey[contentKey] = append(m.byKey[contentKey], l.ID)
	}
	return true, nil
}

// PendingRaw implements RawStore.
func (m *Memory) PendingRaw(_ context.Context, fingerprint string, limit int) ([]domain.RawListing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := make([]*rawRow, 0)
	for id, r := range m.raws {
		if !r.listing.Active {
			continue
		}
		if st, ok := m.states[id]; ok {
			if st.Outcome.Final() {
				continue
			}
			if st.Outcome == domain.OutcomeUnmatched && st.CatalogFingerprint == fingerprint {
				continue
			}
		}
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.listing.ScrapedAt.Equal(b.listing.ScrapedAt) {
			return a.listing.ScrapedAt.Before(b.listing.ScrapedAt)
		}
		return a.seq < b.seq
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]domain.RawListing, len(rows))
	for i, r := range rows {
		out[i] = r.listing
	}
	return out, nil
}

// SetRawState implements RawStore.
func (m *Memory) SetRawState(_ context.Context, st domain.RawState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.RawID] = st
	return nil
}

// RawState returns the recorded state of a raw row.
func (m *Memory) RawState(rawID string) (domain.RawState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[rawID]
	return st, ok
}

// Raw returns a stored raw row.
func (m *Memory) Raw(id string) (domain.RawListing, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.raws[id]
	if !ok {
		return domain.RawListing{}, false
	}
	return r.listing, true
}

// Accept implements MarketStore.
func (m *Memory) Accept(_ context.Context, ml domain.MarketListing, st domain.RawState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.markets[ml.ID]; !exists {
		m.markets[ml.ID] = ml
	}
	m.states[st.RawID] = st
	return nil
}

// Cohort implements MarketStore.
func (m *Memory) Cohort(_ context.Context, q CohortQuery) ([]domain.MarketListing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.MarketListing
	for _, ml := range m.markets {
		if q.matches(ml) {
			out = append(out, ml)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CountByModel implements MarketStore.
func (m *Memory) CountByModel(_ context.Context, brandID, modelID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, ml := range m.markets {
		if ml.Active && ml.BrandID == brandID && ml.ModelID == modelID {
			n++
		}
	}
	return n, nil
}

// ActiveCount implements MarketStore.
func (m *Memory) ActiveCount(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, ml := range m.markets {
		if ml.Active {
			n++
		}
	}
	return n, nil
}

// ActiveSources implements MarketStore.
func (m *Memory) ActiveSources(context.Context) ([]domain.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[domain.Source]bool)
	for _, ml := range m.markets {
		if ml.Active {
			seen[ml.Source] = true
		}
	}
	out := make([]domain.Source, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// DeactivateOlderThan implements MarketStore.
func (m *Memory) DeactivateOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, ml := range m.markets {
		if ml.Active && ml.NormalizedAt.Before(cutoff) {
			ml.Active = false
			m.markets[id] = ml
			n++
		}
	}
	return n, nil
}

// Supersede implements Store.
func (m *Memory) Supersede(_ context.Context, sources ...domain.Source) (int, error) {
	want := make(map[domain.Source]bool, len(sources))
	for _, s := range sources {
		want[s] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	superseded := make(map[string]bool)
	for id, r := range m.raws {
		if !r.listing.Active || !want[r.listing.Source] {
			continue
		}
		r.listing.Active = false
		superseded[id] = true
		if r.listing.ExternalRef != "" {
			delete(m.byRef, string(r.listing.Source)+"|"+r.listing.ExternalRef)
		} else {
			m.byKey[r.contentKey] = removeID(m.byKey[r.contentKey], id)
			if len(m.byKey[r.contentKey]) == 0 {
				delete(m.byKey, r.contentKey)
			}
		}
	}
	for id, ml := range m.markets {
		if ml.Active && superseded[ml.RawID] {
			ml.Active = false
			m.markets[id] = ml
		}
	}
	return len(superseded), nil
}

// TryLock implements RunLock.
func (m *Memory) TryLock(_ context.Context, name string) (func(), bool, error) {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	if m.locks[name] {
		return nil, false, nil
	}
	m.locks[name] = true
	var once sync.Once
	return func() {
		once.Do(func() {
			m.locksMu.Lock()
			delete(m.locks, name)
			m.locksMu.Unlock()
		})
	}, true, nil
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
